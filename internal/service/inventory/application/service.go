package application

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/service/inventory/domain/port"
)

const (
	// stockLockPrefix 单 SKU 预约路径使用的锁键前缀。
	stockLockPrefix = "stock:"

	// DefaultReservationTTL 调用方未指定 TTL 时的默认预约存活时间。
	DefaultReservationTTL = 900 * time.Second

	// DefaultLockLease / DefaultLockWait 分布式锁的默认租约与等待上限。
	DefaultLockLease = 30 * time.Second
	DefaultLockWait  = 5 * time.Second
)

// BundleReserver 是组合预约编排器的入站抽象，由 saga 包实现。
// 应用服务只在选项分支处用到它，保持 "bundle vs single" 的判断只出现一次。
type BundleReserver interface {
	Execute(ctx context.Context, orderID string, mapping domain.SkuMapping, sets int) (map[string]string, error)
}

// AvailabilityResult 是可用性查询的统一返回。
// 单 SKU 选项里 AvailableUnits 是可售件数，组合选项里是可售套数。
type AvailabilityResult struct {
	Available      bool
	AvailableUnits int
}

// SkuAvailabilityDetail 组合可用性检查里单个成员 SKU 的明细。
type SkuAvailabilityDetail struct {
	SkuID          string
	RequiredPerSet int
	Available      int
	AvailableSets  int
}

// BundleAvailability 组合可用性检查结果: 可售套数取所有成员的最小值。
type BundleAvailability struct {
	Available     bool
	AvailableSets int
	Details       []SkuAvailabilityDetail
}

// StockAvailabilityService 编排单 SKU 与组合选项的可用性检查和预约。
// 读路径不加锁（最终一致），写路径要么持有分布式锁，要么依赖台账的版本校验。
type StockAvailabilityService struct {
	inventories  domain.InventoryRepository
	reservations domain.ReservationRepository
	locks        port.LockProvider
	publisher    port.EventPublisher
	bundles      BundleReserver
	tracer       trace.Tracer

	lockLease time.Duration
	lockWait  time.Duration
	ttl       time.Duration
	now       func() time.Time
}

// ServiceOption 调整服务的可选配置。
type ServiceOption func(*StockAvailabilityService)

// WithLockTimings 覆盖锁租约与等待超时。
func WithLockTimings(lease, wait time.Duration) ServiceOption {
	return func(s *StockAvailabilityService) {
		s.lockLease = lease
		s.lockWait = wait
	}
}

// WithReservationTTL 覆盖默认预约 TTL。
func WithReservationTTL(ttl time.Duration) ServiceOption {
	return func(s *StockAvailabilityService) { s.ttl = ttl }
}

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) ServiceOption {
	return func(s *StockAvailabilityService) { s.now = now }
}

func NewStockAvailabilityService(
	inventories domain.InventoryRepository,
	reservations domain.ReservationRepository,
	locks port.LockProvider,
	publisher port.EventPublisher,
	bundles BundleReserver,
	tracer trace.Tracer,
	opts ...ServiceOption,
) *StockAvailabilityService {
	s := &StockAvailabilityService{
		inventories:  inventories,
		reservations: reservations,
		locks:        locks,
		publisher:    publisher,
		bundles:      bundles,
		tracer:       tracer,
		lockLease:    DefaultLockLease,
		lockWait:     DefaultLockWait,
		ttl:          DefaultReservationTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CheckSingleOption 无锁快速检查单 SKU 可用性。
// 负数是调用方错误；0 永远可满足；SKU 不存在按零库存处理。
func (s *StockAvailabilityService) CheckSingleOption(ctx context.Context, skuID string, requestedQuantity int) (bool, error) {
	if requestedQuantity < 0 {
		return false, domain.NewInvalidQuantityError("requested quantity must not be negative")
	}
	if requestedQuantity == 0 {
		return true, nil
	}

	available, err := s.availableQuantity(ctx, skuID)
	if err != nil {
		return false, err
	}
	return available >= requestedQuantity, nil
}

// CheckBundleOption 检查一个选项能否满足请求的套数，遇到第一个不满足的 SKU 即返回。
func (s *StockAvailabilityService) CheckBundleOption(ctx context.Context, option domain.ProductOption, requestedQuantity int) (bool, error) {
	switch option.Kind() {
	case domain.OptionKindSingle:
		return s.CheckSingleOption(ctx, option.SingleSkuID(), requestedQuantity)
	case domain.OptionKindBundle:
		if requestedQuantity < 0 {
			return false, domain.NewInvalidQuantityError("requested quantity must not be negative")
		}
		if requestedQuantity == 0 {
			return true, nil
		}
		for _, skuID := range option.Mapping().SortedSkuIDs() {
			required := option.Mapping().RequiredPerSet()[skuID] * requestedQuantity
			ok, err := s.CheckSingleOption(ctx, skuID, required)
			if err != nil {
				return false, err
			}
			if !ok {
				return false, nil
			}
		}
		return true, nil
	default:
		return false, domain.NewInvalidInventoryStateError(fmt.Sprintf("unknown option kind: %d", option.Kind()))
	}
}

// CheckOptions 并发检查多个选项，返回 选项名 -> 是否可满足。
// quantities 里缺失的选项记为不可满足。
func (s *StockAvailabilityService) CheckOptions(ctx context.Context, options map[string]domain.ProductOption, quantities map[string]int) (map[string]bool, error) {
	results := make(map[string]bool, len(options))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	for name, option := range options {
		name, option := name, option
		g.Go(func() error {
			requested, ok := quantities[name]
			if !ok {
				mu.Lock()
				results[name] = false
				mu.Unlock()
				return nil
			}
			available, err := s.CheckBundleOption(gctx, option, requested)
			if err != nil {
				return err
			}
			mu.Lock()
			results[name] = available
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// CheckBundleAvailability 在组合锁下计算可售套数快照。
// 同一组 SKU 的并发检查/预约被该锁串行化，保证看到一致的库存视图。
func (s *StockAvailabilityService) CheckBundleAvailability(ctx context.Context, mapping domain.SkuMapping) (BundleAvailability, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.CheckBundleAvailability")
	defer span.End()

	lockKey := mapping.LockKey()
	handle, err := s.locks.Acquire(ctx, lockKey, s.lockLease, s.lockWait)
	if err != nil {
		RecordLockAcquireFailure()
		span.SetStatus(codes.Error, "lock acquisition failed")
		return BundleAvailability{}, domain.NewLockAcquisitionFailedError(lockKey)
	}
	defer s.releaseLock(ctx, handle)

	skuIDs := mapping.SortedSkuIDs()
	inventories, err := s.inventories.LoadBatch(ctx, skuIDs)
	if err != nil {
		span.RecordError(err)
		return BundleAvailability{}, err
	}

	result := BundleAvailability{AvailableSets: int(^uint(0) >> 1)}
	for _, skuID := range skuIDs {
		requiredPerSet := mapping.RequiredPerSet()[skuID]
		detail := SkuAvailabilityDetail{SkuID: skuID, RequiredPerSet: requiredPerSet}

		if inv, ok := inventories[skuID]; ok {
			detail.Available = inv.AvailableQuantity().Value()
			detail.AvailableSets = detail.Available / requiredPerSet
		}
		if detail.AvailableSets < result.AvailableSets {
			result.AvailableSets = detail.AvailableSets
		}
		result.Details = append(result.Details, detail)
	}
	result.Available = result.AvailableSets > 0

	span.SetAttributes(attribute.Int("bundle.available_sets", result.AvailableSets))
	return result, nil
}

// CheckOptionAvailability 入站契约里的统一可用性查询。
func (s *StockAvailabilityService) CheckOptionAvailability(ctx context.Context, option domain.ProductOption) (AvailabilityResult, error) {
	switch option.Kind() {
	case domain.OptionKindSingle:
		available, err := s.availableQuantity(ctx, option.SingleSkuID())
		if err != nil {
			return AvailabilityResult{}, err
		}
		return AvailabilityResult{Available: available > 0, AvailableUnits: available}, nil
	case domain.OptionKindBundle:
		bundle, err := s.CheckBundleAvailability(ctx, option.Mapping())
		if err != nil {
			return AvailabilityResult{}, err
		}
		return AvailabilityResult{Available: bundle.Available, AvailableUnits: bundle.AvailableSets}, nil
	default:
		return AvailabilityResult{}, domain.NewInvalidInventoryStateError(fmt.Sprintf("unknown option kind: %d", option.Kind()))
	}
}

// ReserveStock 锁保护的单 SKU 预约。
// 先拿 "stock:<skuId>" 的锁，再在锁内复查可用量并预占；锁在任何结果下都保证释放。
func (s *StockAvailabilityService) ReserveStock(ctx context.Context, skuID string, quantity int, orderID string) (string, error) {
	ctx, span := s.tracer.Start(ctx, "inventory.ReserveStock")
	defer span.End()
	span.SetAttributes(
		attribute.String("sku.id", skuID),
		attribute.Int("reserve.quantity", quantity),
	)

	requested, err := domain.NewQuantity(quantity)
	if err != nil {
		return "", err
	}
	if requested.IsZero() {
		return "", domain.NewInvalidQuantityError("reserve quantity must be greater than zero")
	}

	lockKey := stockLockPrefix + skuID
	handle, err := s.locks.Acquire(ctx, lockKey, s.lockLease, s.lockWait)
	if err != nil {
		RecordLockAcquireFailure()
		reservationsTotal.WithLabelValues("lock_failed").Inc()
		log.Warn().Str("sku_id", skuID).Str("lock_key", lockKey).Msg("failed to acquire lock for reservation")
		span.SetStatus(codes.Error, "lock acquisition failed")
		return "", domain.NewLockAcquisitionFailedError(lockKey)
	}
	defer s.releaseLock(ctx, handle)

	reservationID, events, err := s.reserveLocked(ctx, skuID, requested, orderID)
	if err != nil {
		if domain.IsKind(err, domain.ErrKindInsufficientStock) {
			reservationsTotal.WithLabelValues("insufficient").Inc()
		} else {
			reservationsTotal.WithLabelValues("error").Inc()
		}
		span.RecordError(err)
		return "", err
	}

	reservationsTotal.WithLabelValues("reserved").Inc()
	s.publishEvents(ctx, events)
	log.Info().Str("sku_id", skuID).Str("order_id", orderID).
		Str("reservation_id", reservationID).Int("quantity", quantity).Msg("stock reserved")
	return reservationID, nil
}

// reserveLocked 在持有 SKU 锁的前提下执行一次预约写入。
// saga 编排器也复用这条路径，因此它只做台账写入，不碰锁。
func (s *StockAvailabilityService) reserveLocked(ctx context.Context, skuID string, quantity domain.Quantity, orderID string) (string, []domain.Event, error) {
	var (
		reservationID string
		events        []domain.Event
	)
	err := WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := s.inventories.Load(ctx, skuID)
		if err != nil {
			return err
		}
		reservation, err := inventory.Reserve(quantity, orderID, s.ttl, s.now())
		if err != nil {
			return err
		}
		if err := s.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		if err := s.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		reservationID = reservation.ID()
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		return "", nil, err
	}
	return reservationID, events, nil
}

// ReserveOption 预约入口的唯一分支点: 单 SKU 走锁内直接预约，组合走 saga 编排。
// 返回 skuId -> reservationId。
func (s *StockAvailabilityService) ReserveOption(ctx context.Context, option domain.ProductOption, quantity int, orderID string) (map[string]string, error) {
	switch option.Kind() {
	case domain.OptionKindSingle:
		reservationID, err := s.ReserveStock(ctx, option.SingleSkuID(), quantity, orderID)
		if err != nil {
			return nil, err
		}
		return map[string]string{option.SingleSkuID(): reservationID}, nil
	case domain.OptionKindBundle:
		return s.bundles.Execute(ctx, orderID, option.Mapping(), quantity)
	default:
		return nil, domain.NewInvalidInventoryStateError(fmt.Sprintf("unknown option kind: %d", option.Kind()))
	}
}

// ReleaseReservation 解除预约并把数量退回可用池。
// 预约状态机先行校验（重复释放在这里被拒绝），之后台账调整在独立的重试里完成。
func (s *StockAvailabilityService) ReleaseReservation(ctx context.Context, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ReleaseReservation")
	defer span.End()

	var released *domain.Reservation
	err := WithConflictRetry(ctx, func(ctx context.Context) error {
		reservation, err := s.reservations.Load(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := reservation.Release(); err != nil {
			return err
		}
		if err := s.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		released = reservation
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	var events []domain.Event
	err = WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := s.inventories.Load(ctx, released.SkuID())
		if err != nil {
			return err
		}
		if err := inventory.ReleaseReservedQuantity(released.Quantity(), reservationID, s.now()); err != nil {
			return err
		}
		if err := s.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		// 预约已标记 RELEASED 但台账没有退回，需要人工或对账介入
		log.Error().Err(err).Str("reservation_id", reservationID).
			Str("sku_id", released.SkuID()).Msg("CRITICAL: reservation released but ledger adjustment failed")
		span.RecordError(err)
		return err
	}

	s.publishEvents(ctx, events)
	log.Info().Str("reservation_id", reservationID).Str("sku_id", released.SkuID()).Msg("reservation released")
	return nil
}

// ConfirmReservation 确认预约，库存实际出库。过期预约在这里被惰性拒绝。
func (s *StockAvailabilityService) ConfirmReservation(ctx context.Context, reservationID string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ConfirmReservation")
	defer span.End()

	var confirmed *domain.Reservation
	err := WithConflictRetry(ctx, func(ctx context.Context) error {
		reservation, err := s.reservations.Load(ctx, reservationID)
		if err != nil {
			return err
		}
		if err := reservation.Confirm(s.now()); err != nil {
			return err
		}
		if err := s.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		confirmed = reservation
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	var events []domain.Event
	err = WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := s.inventories.Load(ctx, confirmed.SkuID())
		if err != nil {
			return err
		}
		if err := inventory.ConfirmReservation(confirmed.Quantity(), reservationID, s.now()); err != nil {
			return err
		}
		if err := s.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("reservation_id", reservationID).
			Str("sku_id", confirmed.SkuID()).Msg("CRITICAL: reservation confirmed but ledger adjustment failed")
		span.RecordError(err)
		return err
	}

	s.publishEvents(ctx, events)
	return nil
}

// ReceiveStock 入库。SKU 首次出现时建账。
func (s *StockAvailabilityService) ReceiveStock(ctx context.Context, skuID string, quantity int, reference string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.ReceiveStock")
	defer span.End()

	received, err := domain.NewQuantity(quantity)
	if err != nil {
		return err
	}

	var events []domain.Event
	err = WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := s.inventories.Load(ctx, skuID)
		if domain.IsKind(err, domain.ErrKindInventoryNotFound) {
			inventory, err = domain.NewInventory(skuID, s.now())
		}
		if err != nil {
			return err
		}
		if err := inventory.Receive(received, reference, s.now()); err != nil {
			return err
		}
		if err := s.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.publishEvents(ctx, events)
	log.Info().Str("sku_id", skuID).Int("quantity", quantity).Str("reference", reference).Msg("stock received")
	return nil
}

// DeductStock 预约流程之外的直接扣减。
func (s *StockAvailabilityService) DeductStock(ctx context.Context, skuID string, quantity int, reference string) error {
	ctx, span := s.tracer.Start(ctx, "inventory.DeductStock")
	defer span.End()

	deducted, err := domain.NewQuantity(quantity)
	if err != nil {
		return err
	}

	var events []domain.Event
	err = WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := s.inventories.Load(ctx, skuID)
		if err != nil {
			return err
		}
		if err := inventory.Deduct(deducted, reference, s.now()); err != nil {
			return err
		}
		if err := s.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return err
	}

	s.publishEvents(ctx, events)
	return nil
}

// FindReservationsByOrder 查询订单名下的全部预约。
func (s *StockAvailabilityService) FindReservationsByOrder(ctx context.Context, orderID string) ([]*domain.Reservation, error) {
	return s.reservations.FindByOrderID(ctx, orderID)
}

// GetInventory 查询台账快照。
func (s *StockAvailabilityService) GetInventory(ctx context.Context, skuID string) (*domain.Inventory, error) {
	return s.inventories.Load(ctx, skuID)
}

func (s *StockAvailabilityService) availableQuantity(ctx context.Context, skuID string) (int, error) {
	inventory, err := s.inventories.Load(ctx, skuID)
	if err != nil {
		if domain.IsKind(err, domain.ErrKindInventoryNotFound) {
			return 0, nil
		}
		return 0, err
	}
	return inventory.AvailableQuantity().Value(), nil
}

func (s *StockAvailabilityService) publishEvents(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	if err := s.publisher.PublishAll(ctx, events); err != nil {
		// 事件发布失败不允许污染已提交的台账状态
		log.Error().Err(err).Int("events", len(events)).Msg("failed to publish domain events")
	}
}

func (s *StockAvailabilityService) releaseLock(ctx context.Context, handle *port.LockHandle) {
	ok, err := s.locks.Release(ctx, handle)
	if err != nil {
		log.Error().Err(err).Str("lock_key", handle.Key).Msg("error releasing lock")
		return
	}
	if !ok {
		log.Warn().Str("lock_key", handle.Key).Msg("lock was not released (expired or taken over)")
	}
}
