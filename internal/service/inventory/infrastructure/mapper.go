package infrastructure

import (
	"stockpile/internal/service/inventory/domain"
)

// toDomainInventory 将数据库模型转换为领域聚合。
func toDomainInventory(model *InventoryModel) (*domain.Inventory, error) {
	total, err := domain.NewQuantity(model.TotalQuantity)
	if err != nil {
		return nil, err
	}
	reserved, err := domain.NewQuantity(model.ReservedQuantity)
	if err != nil {
		return nil, err
	}
	return domain.RestoreInventory(model.SkuID, total, reserved, model.Version, model.CreatedAt, model.UpdatedAt)
}

// toDomainReservation 将数据库模型转换为领域实体。
func toDomainReservation(model *ReservationModel) (*domain.Reservation, error) {
	quantity, err := domain.NewQuantity(model.Quantity)
	if err != nil {
		return nil, err
	}
	return domain.RestoreReservation(
		model.ReservationID,
		model.SkuID,
		quantity,
		model.OrderID,
		model.ExpiresAt,
		domain.ReservationStatus(model.Status),
		model.CreatedAt,
		model.Version,
	)
}
