package domain

import (
	"context"
	"time"
)

// InventoryRepository 定义库存台账的持久化接口。
// Save 必须校验聚合的版本号: 版本不匹配时返回 ConcurrencyConflict 分类的错误，
// 与其它存储故障可区分，供重试包装器识别。
type InventoryRepository interface {
	// Load 按 SKU 加载台账，不存在时返回 InventoryNotFound。
	Load(ctx context.Context, skuID string) (*Inventory, error)

	// Save 持久化聚合并递增版本号。
	Save(ctx context.Context, inventory *Inventory) error

	// LoadBatch 批量加载，结果中缺失的 SKU 不视为错误。
	LoadBatch(ctx context.Context, skuIDs []string) (map[string]*Inventory, error)
}

// ReservationRepository 定义预约实体的持久化接口。
type ReservationRepository interface {
	// Load 按预约 ID 加载，不存在时返回 ReservationNotFound。
	Load(ctx context.Context, reservationID string) (*Reservation, error)

	// Save 持久化预约并递增版本号，版本不匹配时返回 ConcurrencyConflict。
	Save(ctx context.Context, reservation *Reservation) error

	// FindByOrderID 查询某订单名下的全部预约。
	FindByOrderID(ctx context.Context, orderID string) ([]*Reservation, error)

	// FindExpiredActive 返回在 now 之前过期但仍为 ACTIVE 的预约，最多 limit 条。
	// 供可选的过期清理任务使用。
	FindExpiredActive(ctx context.Context, now time.Time, limit int) ([]*Reservation, error)
}
