package domain

import "fmt"

// Quantity 是非负整数值对象，所有库存数量都通过它流转。
// 任何会产生负数的运算直接返回错误，而不是静默截断。
type Quantity struct {
	value int
}

// NewQuantity 创建一个 Quantity，负数会被拒绝。
func NewQuantity(v int) (Quantity, error) {
	if v < 0 {
		return Quantity{}, NewInvalidQuantityError(fmt.Sprintf("quantity must not be negative, got %d", v))
	}
	return Quantity{value: v}, nil
}

// MustQuantity 与 NewQuantity 相同，但遇到负数会 panic，仅用于常量和测试。
func MustQuantity(v int) Quantity {
	q, err := NewQuantity(v)
	if err != nil {
		panic(err)
	}
	return q
}

// ZeroQuantity 返回零值数量。
func ZeroQuantity() Quantity {
	return Quantity{}
}

func (q Quantity) Value() int {
	return q.value
}

func (q Quantity) IsZero() bool {
	return q.value == 0
}

// Add 返回两数之和，不会失败（非负 + 非负仍非负）。
func (q Quantity) Add(other Quantity) Quantity {
	return Quantity{value: q.value + other.value}
}

// Subtract 返回差值，结果为负时返回错误。
func (q Quantity) Subtract(other Quantity) (Quantity, error) {
	if other.value > q.value {
		return Quantity{}, NewInvalidQuantityError(
			fmt.Sprintf("cannot subtract %d from %d", other.value, q.value))
	}
	return Quantity{value: q.value - other.value}, nil
}

func (q Quantity) IsGreaterThanOrEqualTo(other Quantity) bool {
	return q.value >= other.value
}

func (q Quantity) IsLessThan(other Quantity) bool {
	return q.value < other.value
}

func (q Quantity) String() string {
	return fmt.Sprintf("%d", q.value)
}
