package domain

import (
	"sort"
	"strings"
)

// OptionKind 区分单 SKU 选项和组合选项。
// 预约逻辑只在应用服务里对它做一次穷举分支，领域内不做 isBundle 式的散落判断。
type OptionKind int

const (
	OptionKindSingle OptionKind = iota + 1
	OptionKindBundle
)

// SkuMapping 描述一个组合选项: SKU ID -> 每套所需件数。
type SkuMapping struct {
	required map[string]int
}

// NewSkuMapping 创建组合映射，要求至少一个 SKU 且每个件数大于 0。
func NewSkuMapping(required map[string]int) (SkuMapping, error) {
	if len(required) == 0 {
		return SkuMapping{}, NewInvalidQuantityError("SKU mapping must not be empty")
	}
	m := make(map[string]int, len(required))
	for skuID, perSet := range required {
		if strings.TrimSpace(skuID) == "" {
			return SkuMapping{}, NewInvalidInventoryStateError("SKU mapping contains empty SKU ID")
		}
		if perSet <= 0 {
			return SkuMapping{}, NewInvalidQuantityError("per-set quantity must be greater than zero for SKU " + skuID)
		}
		m[skuID] = perSet
	}
	return SkuMapping{required: m}, nil
}

// RequiredPerSet 返回每套所需件数的只读副本。
func (m SkuMapping) RequiredPerSet() map[string]int {
	out := make(map[string]int, len(m.required))
	for k, v := range m.required {
		out[k] = v
	}
	return out
}

// SortedSkuIDs 返回按字典序排序的成员 SKU ID。
// 这是死锁规避的基础: 所有加锁顺序都从这里导出，绝不使用调用方的参数顺序。
func (m SkuMapping) SortedSkuIDs() []string {
	ids := make([]string, 0, len(m.required))
	for skuID := range m.required {
		ids = append(ids, skuID)
	}
	sort.Strings(ids)
	return ids
}

// LockKey 组合可用性检查使用的锁键: 排序后的成员 SKU 用冒号连接。
// 同一组 SKU 的并发检查/预约由此串行化到同一把锁上。
func (m SkuMapping) LockKey() string {
	return "bundle-stock-check:" + strings.Join(m.SortedSkuIDs(), ":")
}

// ScaledRequirements 按请求套数放大每个 SKU 的需求量。
func (m SkuMapping) ScaledRequirements(sets int) (map[string]Quantity, error) {
	if sets <= 0 {
		return nil, NewInvalidQuantityError("requested set count must be greater than zero")
	}
	out := make(map[string]Quantity, len(m.required))
	for skuID, perSet := range m.required {
		q, err := NewQuantity(perSet * sets)
		if err != nil {
			return nil, err
		}
		out[skuID] = q
	}
	return out, nil
}

func (m SkuMapping) Size() int { return len(m.required) }

// ProductOption 是 "单 SKU 还是组合" 的带标签变体。
type ProductOption struct {
	kind    OptionKind
	skuID   string
	mapping SkuMapping
}

// NewSingleOption 创建单 SKU 选项。
func NewSingleOption(skuID string) (ProductOption, error) {
	if strings.TrimSpace(skuID) == "" {
		return ProductOption{}, NewInvalidInventoryStateError("SKU ID must not be empty")
	}
	return ProductOption{kind: OptionKindSingle, skuID: skuID}, nil
}

// NewBundleOption 创建组合选项。
func NewBundleOption(mapping SkuMapping) (ProductOption, error) {
	if mapping.Size() == 0 {
		return ProductOption{}, NewInvalidQuantityError("bundle option requires a non-empty SKU mapping")
	}
	return ProductOption{kind: OptionKindBundle, mapping: mapping}, nil
}

func (o ProductOption) Kind() OptionKind { return o.kind }

// SingleSkuID 仅对单 SKU 选项有意义。
func (o ProductOption) SingleSkuID() string { return o.skuID }

// Mapping 仅对组合选项有意义。
func (o ProductOption) Mapping() SkuMapping { return o.mapping }
