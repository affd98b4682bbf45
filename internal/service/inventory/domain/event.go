package domain

import "time"

// Event 是库存领域事件的统一接口。
// 聚合只负责缓冲事件，提交成功之后由应用层交给事件发布端口。
type Event interface {
	EventName() string
	OccurredAt() time.Time
}

type baseEvent struct {
	At time.Time `json:"occurredAt"`
}

func (e baseEvent) OccurredAt() time.Time { return e.At }

// StockReceived 入库完成。
type StockReceived struct {
	baseEvent
	SkuID     string `json:"skuId"`
	Quantity  int    `json:"quantity"`
	Reference string `json:"reference,omitempty"`
}

func (StockReceived) EventName() string { return "inventory.stock_received" }

// StockReserved 预占成功。
type StockReserved struct {
	baseEvent
	SkuID         string `json:"skuId"`
	ReservationID string `json:"reservationId"`
	OrderID       string `json:"orderId"`
	Quantity      int    `json:"quantity"`
}

func (StockReserved) EventName() string { return "inventory.stock_reserved" }

// StockDepleted 可用库存降为 0 时发出。
type StockDepleted struct {
	baseEvent
	SkuID string `json:"skuId"`
}

func (StockDepleted) EventName() string { return "inventory.stock_depleted" }

// ReservationReleased 预占被解除，数量回到可用池。
type ReservationReleased struct {
	baseEvent
	SkuID         string `json:"skuId"`
	ReservationID string `json:"reservationId"`
	Quantity      int    `json:"quantity"`
}

func (ReservationReleased) EventName() string { return "inventory.reservation_released" }

// ReservationConfirmed 预占确认，库存实际出库。
type ReservationConfirmed struct {
	baseEvent
	SkuID         string `json:"skuId"`
	ReservationID string `json:"reservationId"`
	Quantity      int    `json:"quantity"`
}

func (ReservationConfirmed) EventName() string { return "inventory.reservation_confirmed" }

// BundleReservationCompleted 组合预占全部成功。
type BundleReservationCompleted struct {
	baseEvent
	OrderID      string            `json:"orderId"`
	Reservations map[string]string `json:"reservations"` // skuId -> reservationId
}

func (BundleReservationCompleted) EventName() string { return "inventory.bundle_reservation_completed" }

// NewBundleReservationCompleted 组合预约成功事件。
func NewBundleReservationCompleted(orderID string, reservations map[string]string, at time.Time) BundleReservationCompleted {
	return BundleReservationCompleted{baseEvent: baseEvent{At: at}, OrderID: orderID, Reservations: reservations}
}

// BundleReservationFailed 组合预占失败（含补偿完成后）。
type BundleReservationFailed struct {
	baseEvent
	OrderID string `json:"orderId"`
	Reason  string `json:"reason"`
}

func (BundleReservationFailed) EventName() string { return "inventory.bundle_reservation_failed" }

// NewBundleReservationFailed 组合预约失败事件，reason 保留最初的失败原因。
func NewBundleReservationFailed(orderID, reason string, at time.Time) BundleReservationFailed {
	return BundleReservationFailed{baseEvent: baseEvent{At: at}, OrderID: orderID, Reason: reason}
}
