package infrastructure

import (
	"context"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"stockpile/internal/service/inventory/domain"
)

const mysqlDuplicateEntry = 1062

// GormInventoryRepository 基于 GORM 的库存仓储。
// 乐观锁: 每次保存把 version 加一，UPDATE 条件带上读取时的 version，
// 影响行数为零即判定并发冲突，交给应用层重试。
type GormInventoryRepository struct {
	db *gorm.DB
}

func NewGormInventoryRepository(db *gorm.DB) *GormInventoryRepository {
	return &GormInventoryRepository{db: db}
}

func (r *GormInventoryRepository) Load(ctx context.Context, skuID string) (*domain.Inventory, error) {
	var model InventoryModel
	err := r.db.WithContext(ctx).Where("sku_id = ?", skuID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewInventoryNotFoundError(skuID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load inventory for SKU %s", skuID)
	}
	return toDomainInventory(&model)
}

func (r *GormInventoryRepository) LoadBatch(ctx context.Context, skuIDs []string) (map[string]*domain.Inventory, error) {
	var models []InventoryModel
	if err := r.db.WithContext(ctx).Where("sku_id IN ?", skuIDs).Find(&models).Error; err != nil {
		return nil, errors.Wrap(err, "failed to load inventory batch")
	}

	result := make(map[string]*domain.Inventory, len(models))
	for i := range models {
		inventory, err := toDomainInventory(&models[i])
		if err != nil {
			return nil, err
		}
		result[inventory.SkuID()] = inventory
	}
	return result, nil
}

func (r *GormInventoryRepository) Save(ctx context.Context, inventory *domain.Inventory) error {
	if inventory.Version() == 0 {
		model := InventoryModel{
			SkuID:            inventory.SkuID(),
			TotalQuantity:    inventory.TotalQuantity().Value(),
			ReservedQuantity: inventory.ReservedQuantity().Value(),
			Version:          1,
			CreatedAt:        inventory.CreatedAt(),
			UpdatedAt:        inventory.UpdatedAt(),
		}
		err := r.db.WithContext(ctx).Create(&model).Error
		if isDuplicateEntry(err) {
			// 两个 worker 同时为新 SKU 建档，后到的一方按版本冲突重试
			return domain.NewConcurrencyConflictError(
				"inventory already created concurrently for SKU "+inventory.SkuID(), err)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to create inventory for SKU %s", inventory.SkuID())
		}
		return nil
	}

	result := r.db.WithContext(ctx).Model(&InventoryModel{}).
		Where("sku_id = ? AND version = ?", inventory.SkuID(), inventory.Version()).
		Updates(map[string]interface{}{
			"total_quantity":    inventory.TotalQuantity().Value(),
			"reserved_quantity": inventory.ReservedQuantity().Value(),
			"version":           inventory.Version() + 1,
			"updated_at":        inventory.UpdatedAt(),
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to save inventory for SKU %s", inventory.SkuID())
	}
	if result.RowsAffected == 0 {
		return domain.NewConcurrencyConflictError(
			"version conflict saving inventory for SKU "+inventory.SkuID(), nil)
	}
	return nil
}

// GormReservationRepository 基于 GORM 的预约仓储，乐观锁策略与库存仓储相同。
type GormReservationRepository struct {
	db *gorm.DB
}

func NewGormReservationRepository(db *gorm.DB) *GormReservationRepository {
	return &GormReservationRepository{db: db}
}

func (r *GormReservationRepository) Load(ctx context.Context, reservationID string) (*domain.Reservation, error) {
	var model ReservationModel
	err := r.db.WithContext(ctx).Where("reservation_id = ?", reservationID).First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.NewReservationNotFoundError(reservationID)
	}
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load reservation %s", reservationID)
	}
	return toDomainReservation(&model)
}

func (r *GormReservationRepository) FindByOrderID(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	var models []ReservationModel
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Find(&models).Error; err != nil {
		return nil, errors.Wrapf(err, "failed to find reservations for order %s", orderID)
	}
	return toDomainReservations(models)
}

func (r *GormReservationRepository) FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*domain.Reservation, error) {
	var models []ReservationModel
	err := r.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(domain.ReservationStatusActive), now).
		Order("expires_at").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, errors.Wrap(err, "failed to find expired reservations")
	}
	return toDomainReservations(models)
}

func (r *GormReservationRepository) Save(ctx context.Context, reservation *domain.Reservation) error {
	if reservation.Version() == 0 {
		model := ReservationModel{
			ReservationID: reservation.ID(),
			SkuID:         reservation.SkuID(),
			Quantity:      reservation.Quantity().Value(),
			OrderID:       reservation.OrderID(),
			Status:        string(reservation.Status()),
			ExpiresAt:     reservation.ExpiresAt(),
			Version:       1,
			CreatedAt:     reservation.CreatedAt(),
		}
		err := r.db.WithContext(ctx).Create(&model).Error
		if isDuplicateEntry(err) {
			return domain.NewConcurrencyConflictError(
				"reservation already created: "+reservation.ID(), err)
		}
		if err != nil {
			return errors.Wrapf(err, "failed to create reservation %s", reservation.ID())
		}
		return nil
	}

	result := r.db.WithContext(ctx).Model(&ReservationModel{}).
		Where("reservation_id = ? AND version = ?", reservation.ID(), reservation.Version()).
		Updates(map[string]interface{}{
			"status":  string(reservation.Status()),
			"version": reservation.Version() + 1,
		})
	if result.Error != nil {
		return errors.Wrapf(result.Error, "failed to save reservation %s", reservation.ID())
	}
	if result.RowsAffected == 0 {
		return domain.NewConcurrencyConflictError(
			"version conflict saving reservation "+reservation.ID(), nil)
	}
	return nil
}

func toDomainReservations(models []ReservationModel) ([]*domain.Reservation, error) {
	reservations := make([]*domain.Reservation, 0, len(models))
	for i := range models {
		reservation, err := toDomainReservation(&models[i])
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, reservation)
	}
	return reservations, nil
}

func isDuplicateEntry(err error) bool {
	var mysqlErr *mysql.MySQLError
	return errors.As(err, &mysqlErr) && mysqlErr.Number == mysqlDuplicateEntry
}
