package domain

import (
	"fmt"
	"time"
)

// Inventory 是单个 SKU 的库存台账聚合根。
// 不变量: 0 <= reserved <= total，任何破坏不变量的操作整体失败，不留下部分修改。
// Version 用于乐观并发控制，由仓储在保存时校验并递增。
type Inventory struct {
	skuID     string
	total     Quantity
	reserved  Quantity
	version   int64
	createdAt time.Time
	updatedAt time.Time

	pendingEvents []Event
}

// NewInventory 创建一个空台账 (0/0)，首次引用某个 SKU 时使用。
func NewInventory(skuID string, now time.Time) (*Inventory, error) {
	if skuID == "" {
		return nil, NewInvalidInventoryStateError("SKU ID must not be empty")
	}
	return &Inventory{
		skuID:     skuID,
		createdAt: now,
		updatedAt: now,
	}, nil
}

// NewInventoryWithStock 带初始库存创建台账，入库接口首次建账时使用。
func NewInventoryWithStock(skuID string, initial Quantity, now time.Time) (*Inventory, error) {
	inv, err := NewInventory(skuID, now)
	if err != nil {
		return nil, err
	}
	inv.total = initial
	return inv, nil
}

// RestoreInventory 从持久化快照还原聚合，不做业务校验以外的处理。
func RestoreInventory(skuID string, total, reserved Quantity, version int64, createdAt, updatedAt time.Time) (*Inventory, error) {
	if skuID == "" {
		return nil, NewInvalidInventoryStateError("SKU ID must not be empty")
	}
	if reserved.Value() > total.Value() {
		return nil, NewInvalidInventoryStateError(fmt.Sprintf(
			"reserved quantity %d exceeds total quantity %d for SKU %s", reserved.Value(), total.Value(), skuID))
	}
	return &Inventory{
		skuID:     skuID,
		total:     total,
		reserved:  reserved,
		version:   version,
		createdAt: createdAt,
		updatedAt: updatedAt,
	}, nil
}

func (i *Inventory) SkuID() string            { return i.skuID }
func (i *Inventory) TotalQuantity() Quantity  { return i.total }
func (i *Inventory) ReservedQuantity() Quantity { return i.reserved }
func (i *Inventory) Version() int64           { return i.version }
func (i *Inventory) CreatedAt() time.Time     { return i.createdAt }
func (i *Inventory) UpdatedAt() time.Time     { return i.updatedAt }

// AvailableQuantity = total - reserved，不变量保证不会为负。
func (i *Inventory) AvailableQuantity() Quantity {
	q, _ := i.total.Subtract(i.reserved)
	return q
}

// CanReserve 判断可用库存是否足够。
func (i *Inventory) CanReserve(quantity Quantity) bool {
	return i.AvailableQuantity().IsGreaterThanOrEqualTo(quantity)
}

// Receive 入库，quantity 必须大于 0。
func (i *Inventory) Receive(quantity Quantity, reference string, now time.Time) error {
	if quantity.IsZero() {
		return NewInvalidQuantityError("receive quantity must be greater than zero")
	}

	i.total = i.total.Add(quantity)
	i.touch(now)

	i.raise(StockReceived{
		baseEvent: baseEvent{At: now},
		SkuID:     i.skuID,
		Quantity:  quantity.Value(),
		Reference: reference,
	})
	return nil
}

// Reserve 预占库存并铸造一个 ACTIVE 预约，TTL 到期后预约视为过期。
// 可用库存不足时返回 InsufficientStock，聚合状态不变。
func (i *Inventory) Reserve(quantity Quantity, orderID string, ttl time.Duration, now time.Time) (*Reservation, error) {
	if quantity.IsZero() {
		return nil, NewInvalidQuantityError("reserve quantity must be greater than zero")
	}
	if !i.CanReserve(quantity) {
		return nil, NewInsufficientStockError(fmt.Sprintf(
			"insufficient stock for SKU %s: available %d, requested %d",
			i.skuID, i.AvailableQuantity().Value(), quantity.Value()))
	}

	reservation, err := NewReservation(i.skuID, quantity, orderID, ttl, now)
	if err != nil {
		return nil, err
	}

	i.reserved = i.reserved.Add(quantity)
	i.touch(now)

	i.raise(StockReserved{
		baseEvent:     baseEvent{At: now},
		SkuID:         i.skuID,
		ReservationID: reservation.ID(),
		OrderID:       orderID,
		Quantity:      quantity.Value(),
	})
	if i.AvailableQuantity().IsZero() {
		i.raise(StockDepleted{baseEvent: baseEvent{At: now}, SkuID: i.skuID})
	}

	return reservation, nil
}

// ReleaseReservedQuantity 把预占数量退回可用池。
// 超过当前预占总量的释放请求说明出现了重复释放，拒绝执行。
func (i *Inventory) ReleaseReservedQuantity(quantity Quantity, reservationID string, now time.Time) error {
	if quantity.IsZero() {
		return NewInvalidQuantityError("release quantity must be greater than zero")
	}
	if i.reserved.IsLessThan(quantity) {
		return NewInvalidInventoryStateError(fmt.Sprintf(
			"cannot release %d from SKU %s: only %d reserved", quantity.Value(), i.skuID, i.reserved.Value()))
	}

	reserved, err := i.reserved.Subtract(quantity)
	if err != nil {
		return NewInvalidInventoryStateError(err.Error())
	}
	i.reserved = reserved
	i.touch(now)

	i.raise(ReservationReleased{
		baseEvent:     baseEvent{At: now},
		SkuID:         i.skuID,
		ReservationID: reservationID,
		Quantity:      quantity.Value(),
	})
	return nil
}

// ConfirmReservation 确认预占，库存实际出库: total 和 reserved 同时减少。
func (i *Inventory) ConfirmReservation(quantity Quantity, reservationID string, now time.Time) error {
	if quantity.IsZero() {
		return NewInvalidQuantityError("confirm quantity must be greater than zero")
	}
	if i.reserved.IsLessThan(quantity) {
		return NewInvalidInventoryStateError(fmt.Sprintf(
			"cannot confirm %d for SKU %s: only %d reserved", quantity.Value(), i.skuID, i.reserved.Value()))
	}

	total, err := i.total.Subtract(quantity)
	if err != nil {
		return NewInvalidInventoryStateError(err.Error())
	}
	reserved, err := i.reserved.Subtract(quantity)
	if err != nil {
		return NewInvalidInventoryStateError(err.Error())
	}
	i.total = total
	i.reserved = reserved
	i.touch(now)

	i.raise(ReservationConfirmed{
		baseEvent:     baseEvent{At: now},
		SkuID:         i.skuID,
		ReservationID: reservationID,
		Quantity:      quantity.Value(),
	})
	return nil
}

// Deduct 预约流程之外的直接扣减（盘亏、报废等）。
func (i *Inventory) Deduct(quantity Quantity, reference string, now time.Time) error {
	if quantity.IsZero() {
		return NewInvalidQuantityError("deduct quantity must be greater than zero")
	}
	if i.total.IsLessThan(quantity) {
		return NewInsufficientStockError(fmt.Sprintf(
			"insufficient stock for SKU %s: total %d, deduct %d", i.skuID, i.total.Value(), quantity.Value()))
	}

	total, err := i.total.Subtract(quantity)
	if err != nil {
		return NewInvalidInventoryStateError(err.Error())
	}
	// 扣减不能侵占已预占的数量
	if total.IsLessThan(i.reserved) {
		return NewInvalidInventoryStateError(fmt.Sprintf(
			"deduct would break invariant for SKU %s: reserved %d would exceed total %d",
			i.skuID, i.reserved.Value(), total.Value()))
	}
	i.total = total
	i.touch(now)

	if i.AvailableQuantity().IsZero() {
		i.raise(StockDepleted{baseEvent: baseEvent{At: now}, SkuID: i.skuID})
	}
	return nil
}

// PullEvents 取出并清空缓冲的领域事件，调用方在提交成功后发布它们。
func (i *Inventory) PullEvents() []Event {
	events := i.pendingEvents
	i.pendingEvents = nil
	return events
}

func (i *Inventory) raise(e Event) {
	i.pendingEvents = append(i.pendingEvents, e)
}

func (i *Inventory) touch(now time.Time) {
	i.updatedAt = now
}
