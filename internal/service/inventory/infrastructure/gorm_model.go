package infrastructure

import (
	"time"
)

// InventoryModel 对应数据库中的 inventory 表。
// Version 由仓储在保存时用乐观锁条件更新。
type InventoryModel struct {
	ID               uint   `gorm:"primarykey"`
	SkuID            string `gorm:"column:sku_id;uniqueIndex;size:64;not null"`
	TotalQuantity    int    `gorm:"not null"`
	ReservedQuantity int    `gorm:"not null"`
	Version          int64  `gorm:"not null;default:0"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// TableName 指定 GORM 应该使用的表名
func (InventoryModel) TableName() string {
	return "inventory"
}

// ReservationModel 对应数据库中的 stock_reservation 表。
type ReservationModel struct {
	ID            uint      `gorm:"primarykey"`
	ReservationID string    `gorm:"column:reservation_id;uniqueIndex;size:36;not null"`
	SkuID         string    `gorm:"column:sku_id;index;size:64;not null"`
	Quantity      int       `gorm:"not null"`
	OrderID       string    `gorm:"column:order_id;index;size:64;not null"`
	Status        string    `gorm:"size:16;not null"`
	ExpiresAt     time.Time `gorm:"index"`
	Version       int64     `gorm:"not null;default:0"`
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// TableName 指定 GORM 应该使用的表名
func (ReservationModel) TableName() string {
	return "stock_reservation"
}
