package domain

import (
	"errors"
	"fmt"
)

// ErrorKind 标识领域错误的分类，上游据此决定重试、换货还是直接失败。
type ErrorKind string

const (
	ErrKindInvalidQuantity         ErrorKind = "INVALID_QUANTITY"
	ErrKindInsufficientStock       ErrorKind = "INSUFFICIENT_STOCK"
	ErrKindInvalidReservationState ErrorKind = "INVALID_RESERVATION_STATE"
	ErrKindInvalidInventoryState   ErrorKind = "INVALID_INVENTORY_STATE"
	ErrKindReservationNotFound     ErrorKind = "RESERVATION_NOT_FOUND"
	ErrKindInventoryNotFound       ErrorKind = "INVENTORY_NOT_FOUND"
	ErrKindLockAcquisitionFailed   ErrorKind = "LOCK_ACQUISITION_FAILED"
	ErrKindConcurrencyConflict     ErrorKind = "CONCURRENCY_CONFLICT"
)

// DomainError 是带分类的领域错误。
type DomainError struct {
	Kind    ErrorKind
	Message string
	cause   error
}

func (e *DomainError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.cause
}

// Is 允许用 errors.Is 对同类错误做匹配。
func (e *DomainError) Is(target error) bool {
	var de *DomainError
	if errors.As(target, &de) {
		return e.Kind == de.Kind
	}
	return false
}

func newError(kind ErrorKind, message string) *DomainError {
	return &DomainError{Kind: kind, Message: message}
}

func NewInvalidQuantityError(message string) *DomainError {
	return newError(ErrKindInvalidQuantity, message)
}

func NewInsufficientStockError(message string) *DomainError {
	return newError(ErrKindInsufficientStock, message)
}

func NewInvalidReservationStateError(message string) *DomainError {
	return newError(ErrKindInvalidReservationState, message)
}

func NewInvalidInventoryStateError(message string) *DomainError {
	return newError(ErrKindInvalidInventoryState, message)
}

func NewReservationNotFoundError(reservationID string) *DomainError {
	return newError(ErrKindReservationNotFound, fmt.Sprintf("reservation not found: %s", reservationID))
}

func NewInventoryNotFoundError(skuID string) *DomainError {
	return newError(ErrKindInventoryNotFound, fmt.Sprintf("inventory not found for SKU: %s", skuID))
}

func NewLockAcquisitionFailedError(key string) *DomainError {
	return newError(ErrKindLockAcquisitionFailed, fmt.Sprintf("failed to acquire lock: %s", key))
}

func NewConcurrencyConflictError(message string, cause error) *DomainError {
	return &DomainError{Kind: ErrKindConcurrencyConflict, Message: message, cause: cause}
}

// KindOf 返回错误的分类；非领域错误返回空串。
func KindOf(err error) ErrorKind {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// IsKind 判断 err 是否属于给定分类。
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
