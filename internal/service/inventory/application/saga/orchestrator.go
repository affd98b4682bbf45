package saga

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/service/inventory/domain/port"
)

const stockLockPrefix = "stock:"

// Orchestrator 把组合预约当作一个带补偿的 saga 来执行:
// 按字典序逐个拿 SKU 锁（死锁规避），全量校验可用性，逐个预约，
// 中途失败则对已提交的步骤逆序补偿，锁在任何结果下都按逆序释放。
type Orchestrator struct {
	inventories  domain.InventoryRepository
	reservations domain.ReservationRepository
	locks        port.LockProvider
	publisher    port.EventPublisher
	tracer       trace.Tracer

	lockLease time.Duration
	lockWait  time.Duration
	ttl       time.Duration
	now       func() time.Time
}

// Option 调整编排器配置。
type Option func(*Orchestrator)

// WithLockTimings 覆盖锁租约与等待超时。
func WithLockTimings(lease, wait time.Duration) Option {
	return func(o *Orchestrator) {
		o.lockLease = lease
		o.lockWait = wait
	}
}

// WithReservationTTL 覆盖预约 TTL。
func WithReservationTTL(ttl time.Duration) Option {
	return func(o *Orchestrator) { o.ttl = ttl }
}

// WithClock 注入时钟，测试用。
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func NewOrchestrator(
	inventories domain.InventoryRepository,
	reservations domain.ReservationRepository,
	locks port.LockProvider,
	publisher port.EventPublisher,
	tracer trace.Tracer,
	opts ...Option,
) *Orchestrator {
	o := &Orchestrator{
		inventories:  inventories,
		reservations: reservations,
		locks:        locks,
		publisher:    publisher,
		tracer:       tracer,
		lockLease:    application.DefaultLockLease,
		lockWait:     application.DefaultLockWait,
		ttl:          application.DefaultReservationTTL,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Execute 为一个订单预约整个组合，成功返回 skuId -> reservationId。
// 任何失败路径都保证: 要么什么都没预约，要么已预约的部分被补偿回去。
func (o *Orchestrator) Execute(ctx context.Context, orderID string, mapping domain.SkuMapping, sets int) (map[string]string, error) {
	ctx, span := o.tracer.Start(ctx, "saga.ReserveBundleStock")
	defer span.End()
	span.SetAttributes(
		attribute.String("order.id", orderID),
		attribute.Int("bundle.sets", sets),
		attribute.Int("bundle.skus", mapping.Size()),
	)

	requirements, err := mapping.ScaledRequirements(sets)
	if err != nil {
		return nil, err
	}

	// 加锁顺序永远从排序后的 SKU 集合导出，绝不使用调用方的参数顺序。
	// 共享 SKU 的两个组合预约因此总是以相同的相对顺序竞争锁，环路等待在结构上不可能。
	skuIDs := mapping.SortedSkuIDs()

	var held []*port.LockHandle
	defer func() {
		// 逆序释放全部已持有的锁
		for i := len(held) - 1; i >= 0; i-- {
			o.releaseLock(ctx, held[i])
		}
	}()

	for _, skuID := range skuIDs {
		lockKey := stockLockPrefix + skuID
		handle, err := o.locks.Acquire(ctx, lockKey, o.lockLease, o.lockWait)
		if err != nil {
			application.RecordLockAcquireFailure()
			log.Warn().Str("order_id", orderID).Str("sku_id", skuID).Msg("failed to acquire lock for bundle member")
			span.SetStatus(codes.Error, "lock acquisition failed")
			o.publishFailed(ctx, orderID, fmt.Sprintf("lock acquisition failed for SKU %s", skuID))
			return nil, domain.NewLockAcquisitionFailedError(lockKey)
		}
		held = append(held, handle)
	}

	// 所有锁在手，先全量校验可用性；此时还什么都没预约，不足直接退出即可。
	for _, skuID := range skuIDs {
		required := requirements[skuID]
		inventory, err := o.inventories.Load(ctx, skuID)
		available := domain.ZeroQuantity()
		if err == nil {
			available = inventory.AvailableQuantity()
		} else if !domain.IsKind(err, domain.ErrKindInventoryNotFound) {
			span.RecordError(err)
			o.publishFailed(ctx, orderID, err.Error())
			return nil, err
		}

		if available.IsLessThan(required) {
			reason := fmt.Sprintf("insufficient stock for SKU %s: available %d, required %d",
				skuID, available.Value(), required.Value())
			log.Info().Str("order_id", orderID).Str("sku_id", skuID).Msg(reason)
			o.publishFailed(ctx, orderID, reason)
			return nil, domain.NewInsufficientStockError(reason)
		}
	}

	// 逐个预约，记录已提交的步骤
	committed := &stepLog{}
	for _, skuID := range skuIDs {
		reservationID, err := o.reserveOne(ctx, skuID, requirements[skuID], orderID)
		if err != nil {
			log.Error().Err(err).Str("order_id", orderID).Str("sku_id", skuID).
				Int("committed_steps", committed.len()).Msg("bundle reservation failed mid-sequence, compensating")
			span.RecordError(err)

			committed.compensate(ctx, o.compensateStep)
			o.publishFailed(ctx, orderID, err.Error())
			return nil, err
		}
		committed.record(committedStep{SkuID: skuID, ReservationID: reservationID, Quantity: requirements[skuID]})
	}

	o.publish(ctx, domain.NewBundleReservationCompleted(orderID, committed.reservations(), o.now()))
	log.Info().Str("order_id", orderID).Int("skus", committed.len()).Msg("bundle reservation completed")
	return committed.reservations(), nil
}

// reserveOne 在锁已持有的前提下对单个成员 SKU 执行预约写入。
func (o *Orchestrator) reserveOne(ctx context.Context, skuID string, quantity domain.Quantity, orderID string) (string, error) {
	var (
		reservationID string
		events        []domain.Event
	)
	err := application.WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := o.inventories.Load(ctx, skuID)
		if err != nil {
			return err
		}
		reservation, err := inventory.Reserve(quantity, orderID, o.ttl, o.now())
		if err != nil {
			return err
		}
		if err := o.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		if err := o.reservations.Save(ctx, reservation); err != nil {
			return err
		}
		reservationID = reservation.ID()
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		return "", err
	}
	o.publishAll(ctx, events)
	return reservationID, nil
}

// compensateStep 回滚一个已提交的成员预约。
// 补偿是尽力而为: 任何错误都只记录，绝不向上抛出。
func (o *Orchestrator) compensateStep(ctx context.Context, step committedStep) {
	application.RecordCompensation()

	err := application.WithConflictRetry(ctx, func(ctx context.Context) error {
		reservation, err := o.reservations.Load(ctx, step.ReservationID)
		if err != nil {
			return err
		}
		if err := reservation.Release(); err != nil {
			return err
		}
		return o.reservations.Save(ctx, reservation)
	})
	if err != nil {
		log.Error().Err(err).Str("sku_id", step.SkuID).Str("reservation_id", step.ReservationID).
			Msg("failed to release reservation during compensation")
		return
	}

	var events []domain.Event
	err = application.WithConflictRetry(ctx, func(ctx context.Context) error {
		inventory, err := o.inventories.Load(ctx, step.SkuID)
		if err != nil {
			return err
		}
		if err := inventory.ReleaseReservedQuantity(step.Quantity, step.ReservationID, o.now()); err != nil {
			return err
		}
		if err := o.inventories.Save(ctx, inventory); err != nil {
			return err
		}
		events = inventory.PullEvents()
		return nil
	})
	if err != nil {
		log.Error().Err(err).Str("sku_id", step.SkuID).Str("reservation_id", step.ReservationID).
			Msg("failed to return reserved quantity during compensation")
		return
	}

	o.publishAll(ctx, events)
	log.Info().Str("sku_id", step.SkuID).Str("reservation_id", step.ReservationID).Msg("compensated reservation")
}

func (o *Orchestrator) publishFailed(ctx context.Context, orderID, reason string) {
	o.publish(ctx, domain.NewBundleReservationFailed(orderID, reason, o.now()))
}

func (o *Orchestrator) publish(ctx context.Context, event domain.Event) {
	if err := o.publisher.Publish(ctx, event); err != nil {
		log.Error().Err(err).Str("event", event.EventName()).Msg("failed to publish saga event")
	}
}

func (o *Orchestrator) publishAll(ctx context.Context, events []domain.Event) {
	if len(events) == 0 {
		return
	}
	if err := o.publisher.PublishAll(ctx, events); err != nil {
		log.Error().Err(err).Msg("failed to publish domain events")
	}
}

func (o *Orchestrator) releaseLock(ctx context.Context, handle *port.LockHandle) {
	ok, err := o.locks.Release(ctx, handle)
	if err != nil {
		log.Error().Err(err).Str("lock_key", handle.Key).Msg("error releasing lock")
		return
	}
	if !ok {
		log.Warn().Str("lock_key", handle.Key).Msg("lock was not released (expired or taken over)")
	}
}
