package domain

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// ReservationStatus 预约状态。ACTIVE 是唯一的初始态，
// CONFIRMED 和 RELEASED 都是终态。
type ReservationStatus string

const (
	ReservationStatusActive    ReservationStatus = "ACTIVE"
	ReservationStatusConfirmed ReservationStatus = "CONFIRMED"
	ReservationStatusReleased  ReservationStatus = "RELEASED"
)

// Reservation 是对单个 SKU 的一次带 TTL 的预占。
// 过期不会被后台自动清理: 只有当 release/confirm 被调用时才会观察到过期。
type Reservation struct {
	id        string
	skuID     string
	quantity  Quantity
	orderID   string
	expiresAt time.Time
	status    ReservationStatus
	createdAt time.Time
	version   int64
}

// NewReservation 铸造一个 ACTIVE 预约，expiresAt = now + ttl。
func NewReservation(skuID string, quantity Quantity, orderID string, ttl time.Duration, now time.Time) (*Reservation, error) {
	if skuID == "" {
		return nil, NewInvalidReservationStateError("SKU ID must not be empty")
	}
	if quantity.IsZero() {
		return nil, NewInvalidQuantityError("reservation quantity must be greater than zero")
	}
	if strings.TrimSpace(orderID) == "" {
		return nil, NewInvalidReservationStateError("order ID must not be empty")
	}
	if ttl <= 0 {
		return nil, NewInvalidReservationStateError("reservation TTL must be positive")
	}

	return &Reservation{
		id:        uuid.NewString(),
		skuID:     skuID,
		quantity:  quantity,
		orderID:   orderID,
		expiresAt: now.Add(ttl),
		status:    ReservationStatusActive,
		createdAt: now,
	}, nil
}

// RestoreReservation 从持久化快照还原。
func RestoreReservation(id, skuID string, quantity Quantity, orderID string, expiresAt time.Time, status ReservationStatus, createdAt time.Time, version int64) (*Reservation, error) {
	if id == "" || skuID == "" {
		return nil, NewInvalidReservationStateError("reservation ID and SKU ID must not be empty")
	}
	switch status {
	case ReservationStatusActive, ReservationStatusConfirmed, ReservationStatusReleased:
	default:
		return nil, NewInvalidReservationStateError("unknown reservation status: " + string(status))
	}
	return &Reservation{
		id:        id,
		skuID:     skuID,
		quantity:  quantity,
		orderID:   orderID,
		expiresAt: expiresAt,
		status:    status,
		createdAt: createdAt,
		version:   version,
	}, nil
}

func (r *Reservation) ID() string                { return r.id }
func (r *Reservation) SkuID() string             { return r.skuID }
func (r *Reservation) Quantity() Quantity        { return r.quantity }
func (r *Reservation) OrderID() string           { return r.orderID }
func (r *Reservation) ExpiresAt() time.Time      { return r.expiresAt }
func (r *Reservation) Status() ReservationStatus { return r.status }
func (r *Reservation) CreatedAt() time.Time      { return r.createdAt }
func (r *Reservation) Version() int64            { return r.version }

// IsExpired 判断预约在给定时刻是否已过期。
func (r *Reservation) IsExpired(now time.Time) bool {
	return now.After(r.expiresAt)
}

// IsActive 状态为 ACTIVE 且尚未过期。
func (r *Reservation) IsActive(now time.Time) bool {
	return r.status == ReservationStatusActive && !r.IsExpired(now)
}

// Release 解除预约。
// 释放一个已过期但仍为 ACTIVE 的预约是合法的，这正是过期清理的常规路径。
func (r *Reservation) Release() error {
	switch r.status {
	case ReservationStatusReleased:
		return NewInvalidReservationStateError("reservation already released: " + r.id)
	case ReservationStatusConfirmed:
		return NewInvalidReservationStateError("confirmed reservation cannot be released: " + r.id)
	}
	r.status = ReservationStatusReleased
	return nil
}

// Confirm 确认预约。过期的预约无论处于何种状态都不能确认。
func (r *Reservation) Confirm(now time.Time) error {
	if r.IsExpired(now) {
		return NewInvalidReservationStateError("expired reservation cannot be confirmed: " + r.id)
	}
	switch r.status {
	case ReservationStatusConfirmed:
		return NewInvalidReservationStateError("reservation already confirmed: " + r.id)
	case ReservationStatusReleased:
		return NewInvalidReservationStateError("released reservation cannot be confirmed: " + r.id)
	}
	r.status = ReservationStatusConfirmed
	return nil
}
