package infrastructure

import (
	"context"
	"sort"
	"sync"
	"time"

	"stockpile/internal/service/inventory/domain"
)

// inventoryRecord 仓储持有的库存快照，与领域对象隔离，防止外部修改穿透。
type inventoryRecord struct {
	skuID     string
	total     int
	reserved  int
	version   int64
	createdAt time.Time
	updatedAt time.Time
}

// MemoryInventoryRepository 进程内的库存仓储，版本检查语义与数据库实现一致。
// 用于测试和单节点部署。
type MemoryInventoryRepository struct {
	mu      sync.RWMutex
	records map[string]inventoryRecord
}

func NewMemoryInventoryRepository() *MemoryInventoryRepository {
	return &MemoryInventoryRepository{records: make(map[string]inventoryRecord)}
}

func (r *MemoryInventoryRepository) Load(ctx context.Context, skuID string) (*domain.Inventory, error) {
	r.mu.RLock()
	record, ok := r.records[skuID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewInventoryNotFoundError(skuID)
	}
	return restoreInventoryRecord(record)
}

func (r *MemoryInventoryRepository) LoadBatch(ctx context.Context, skuIDs []string) (map[string]*domain.Inventory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make(map[string]*domain.Inventory, len(skuIDs))
	for _, skuID := range skuIDs {
		record, ok := r.records[skuID]
		if !ok {
			continue
		}
		inventory, err := restoreInventoryRecord(record)
		if err != nil {
			return nil, err
		}
		result[skuID] = inventory
	}
	return result, nil
}

func (r *MemoryInventoryRepository) Save(ctx context.Context, inventory *domain.Inventory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[inventory.SkuID()]
	if exists {
		if record.version != inventory.Version() {
			return domain.NewConcurrencyConflictError(
				"version conflict saving inventory for SKU "+inventory.SkuID(), nil)
		}
	} else if inventory.Version() != 0 {
		return domain.NewConcurrencyConflictError(
			"inventory vanished while saving SKU "+inventory.SkuID(), nil)
	}

	r.records[inventory.SkuID()] = inventoryRecord{
		skuID:     inventory.SkuID(),
		total:     inventory.TotalQuantity().Value(),
		reserved:  inventory.ReservedQuantity().Value(),
		version:   inventory.Version() + 1,
		createdAt: inventory.CreatedAt(),
		updatedAt: inventory.UpdatedAt(),
	}
	return nil
}

func restoreInventoryRecord(record inventoryRecord) (*domain.Inventory, error) {
	total, err := domain.NewQuantity(record.total)
	if err != nil {
		return nil, err
	}
	reserved, err := domain.NewQuantity(record.reserved)
	if err != nil {
		return nil, err
	}
	return domain.RestoreInventory(record.skuID, total, reserved, record.version, record.createdAt, record.updatedAt)
}

type reservationRecord struct {
	id        string
	skuID     string
	quantity  int
	orderID   string
	expiresAt time.Time
	status    domain.ReservationStatus
	createdAt time.Time
	version   int64
}

// MemoryReservationRepository 进程内的预约仓储。
type MemoryReservationRepository struct {
	mu      sync.RWMutex
	records map[string]reservationRecord
}

func NewMemoryReservationRepository() *MemoryReservationRepository {
	return &MemoryReservationRepository{records: make(map[string]reservationRecord)}
}

func (r *MemoryReservationRepository) Load(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	r.mu.RLock()
	record, ok := r.records[reservationID]
	r.mu.RUnlock()

	if !ok {
		return nil, domain.NewReservationNotFoundError(reservationID)
	}
	return restoreReservationRecord(record)
}

func (r *MemoryReservationRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var reservations []*domain.Reservation
	for _, record := range r.records {
		if record.orderID != orderID {
			continue
		}
		reservation, err := restoreReservationRecord(record)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	sort.Slice(reservations, func(i, j int) bool {
		return reservations[i].CreatedAt().Before(reservations[j].CreatedAt())
	})
	return reservations, nil
}

func (r *MemoryReservationRepository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var expired []*domain.Reservation
	for _, record := range r.records {
		if record.status != domain.ReservationStatusActive || !record.expiresAt.Before(now) {
			continue
		}
		reservation, err := restoreReservationRecord(record)
		if err != nil {
			return nil, err
		}
		expired = append(expired, reservation)
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].ExpiresAt().Before(expired[j].ExpiresAt())
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}
	return expired, nil
}

func (r *MemoryReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	record, exists := r.records[reservation.ID()]
	if exists {
		if record.version != reservation.Version() {
			return domain.NewConcurrencyConflictError(
				"version conflict saving reservation "+reservation.ID(), nil)
		}
	} else if reservation.Version() != 0 {
		return domain.NewConcurrencyConflictError(
			"reservation vanished while saving "+reservation.ID(), nil)
	}

	r.records[reservation.ID()] = reservationRecord{
		id:        reservation.ID(),
		skuID:     reservation.SkuID(),
		quantity:  reservation.Quantity().Value(),
		orderID:   reservation.OrderID(),
		expiresAt: reservation.ExpiresAt(),
		status:    reservation.Status(),
		createdAt: reservation.CreatedAt(),
		version:   reservation.Version() + 1,
	}
	return nil
}

func restoreReservationRecord(record reservationRecord) (*domain.Reservation, error) {
	quantity, err := domain.NewQuantity(record.quantity)
	if err != nil {
		return nil, err
	}
	return domain.RestoreReservation(
		record.id, record.skuID, quantity, record.orderID,
		record.expiresAt, record.status, record.createdAt, record.version)
}
