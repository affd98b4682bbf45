package application_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace/noop"

	"stockpile/internal/service/inventory/application"
	"stockpile/internal/service/inventory/application/saga"
	"stockpile/internal/service/inventory/domain"
	"stockpile/internal/service/inventory/infrastructure"
	"stockpile/internal/service/inventory/infrastructure/locking"
)

// recordingPublisher 记录发布过的事件，供断言使用。
type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.Event
}

func (p *recordingPublisher) Publish(ctx context.Context, event domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) PublishAll(ctx context.Context, events []domain.Event) error {
	for _, e := range events {
		if err := p.Publish(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

func (p *recordingPublisher) names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventName())
	}
	return out
}

type fixture struct {
	service      *application.StockAvailabilityService
	inventories  *infrastructure.MemoryInventoryRepository
	reservations *infrastructure.MemoryReservationRepository
	publisher    *recordingPublisher
}

func newFixture(t *testing.T, opts ...application.ServiceOption) *fixture {
	t.Helper()

	inventories := infrastructure.NewMemoryInventoryRepository()
	reservations := infrastructure.NewMemoryReservationRepository()
	locks := locking.NewMemoryLockProvider()
	publisher := &recordingPublisher{}
	tracer := noop.NewTracerProvider().Tracer("test")

	orchestrator := saga.NewOrchestrator(inventories, reservations, locks, publisher, tracer)

	return &fixture{
		service: application.NewStockAvailabilityService(
			inventories, reservations, locks, publisher, orchestrator, tracer, opts...),
		inventories:  inventories,
		reservations: reservations,
		publisher:    publisher,
	}
}

func (f *fixture) seedStock(t *testing.T, skuID string, quantity int) {
	t.Helper()
	require.NoError(t, f.service.ReceiveStock(context.Background(), skuID, quantity, "seed"))
}

func TestReserveStockHappyPath(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 100)
	ctx := context.Background()

	reservationID, err := f.service.ReserveStock(ctx, "sku-1", 5, "order-1")
	require.NoError(t, err)
	require.NotEmpty(t, reservationID)

	inv, err := f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 100, inv.TotalQuantity().Value())
	assert.Equal(t, 5, inv.ReservedQuantity().Value())
	assert.Equal(t, 95, inv.AvailableQuantity().Value())

	reservations, err := f.service.FindReservationsByOrder(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.Equal(t, reservationID, reservations[0].ID())
	assert.Equal(t, domain.ReservationStatusActive, reservations[0].Status())

	assert.Contains(t, f.publisher.names(), "inventory.stock_reserved")
}

func TestReserveStockInsufficient(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 3)

	_, err := f.service.ReserveStock(context.Background(), "sku-1", 5, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindInsufficientStock))
}

func TestReserveStockUnknownSku(t *testing.T) {
	f := newFixture(t)

	_, err := f.service.ReserveStock(context.Background(), "sku-missing", 1, "order-1")
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindInventoryNotFound))
}

func TestConcurrentReservesNeverOversell(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 10)
	ctx := context.Background()

	const workers = 25
	var wg sync.WaitGroup
	succeeded := make(chan struct{}, workers)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := f.service.ReserveStock(ctx, "sku-1", 1, "order-1"); err == nil {
				succeeded <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(succeeded)

	assert.Equal(t, 10, len(succeeded))

	inv, err := f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 10, inv.ReservedQuantity().Value())
	assert.Equal(t, 0, inv.AvailableQuantity().Value())
}

func TestReleaseReservationRestoresAvailability(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 10)
	ctx := context.Background()

	reservationID, err := f.service.ReserveStock(ctx, "sku-1", 4, "order-1")
	require.NoError(t, err)

	require.NoError(t, f.service.ReleaseReservation(ctx, reservationID))

	inv, err := f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 10, inv.TotalQuantity().Value())
	assert.Equal(t, 0, inv.ReservedQuantity().Value())

	// 重复释放被状态机拒绝，台账不受影响
	err = f.service.ReleaseReservation(ctx, reservationID)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidReservationState))

	inv, err = f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ReservedQuantity().Value())
}

func TestConfirmReservationDeductsStock(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 10)
	ctx := context.Background()

	reservationID, err := f.service.ReserveStock(ctx, "sku-1", 4, "order-1")
	require.NoError(t, err)

	require.NoError(t, f.service.ConfirmReservation(ctx, reservationID))

	inv, err := f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 6, inv.TotalQuantity().Value())
	assert.Equal(t, 0, inv.ReservedQuantity().Value())

	// 确认后不能再释放
	err = f.service.ReleaseReservation(ctx, reservationID)
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidReservationState))
}

func TestConfirmExpiredReservationFails(t *testing.T) {
	current := time.Now()
	var mu sync.Mutex
	clock := func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return current
	}

	f := newFixture(t, application.WithClock(clock), application.WithReservationTTL(time.Minute))
	f.seedStock(t, "sku-1", 10)
	ctx := context.Background()

	reservationID, err := f.service.ReserveStock(ctx, "sku-1", 2, "order-1")
	require.NoError(t, err)

	mu.Lock()
	current = current.Add(2 * time.Minute)
	mu.Unlock()

	err = f.service.ConfirmReservation(ctx, reservationID)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidReservationState))

	// 过期预约仍然可以释放，数量退回可用池
	require.NoError(t, f.service.ReleaseReservation(ctx, reservationID))
	inv, err := f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 0, inv.ReservedQuantity().Value())
}

func TestCheckSingleOption(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 5)
	ctx := context.Background()

	ok, err := f.service.CheckSingleOption(ctx, "sku-1", 5)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = f.service.CheckSingleOption(ctx, "sku-1", 6)
	require.NoError(t, err)
	assert.False(t, ok)

	// 零件数永远可满足
	ok, err = f.service.CheckSingleOption(ctx, "sku-1", 0)
	require.NoError(t, err)
	assert.True(t, ok)

	// 未知 SKU 按零库存处理
	ok, err = f.service.CheckSingleOption(ctx, "sku-missing", 1)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = f.service.CheckSingleOption(ctx, "sku-1", -1)
	assert.True(t, domain.IsKind(err, domain.ErrKindInvalidQuantity))
}

func TestCheckBundleAvailabilityTakesMinimumAcrossMembers(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	f.seedStock(t, "sku-b", 7)

	mapping, err := domain.NewSkuMapping(map[string]int{"sku-a": 2, "sku-b": 3})
	require.NoError(t, err)

	availability, err := f.service.CheckBundleAvailability(context.Background(), mapping)
	require.NoError(t, err)

	// sku-a: 10/2=5 套, sku-b: 7/3=2 套 -> 整体 2 套
	assert.True(t, availability.Available)
	assert.Equal(t, 2, availability.AvailableSets)
	require.Len(t, availability.Details, 2)
	assert.Equal(t, "sku-a", availability.Details[0].SkuID)
	assert.Equal(t, 5, availability.Details[0].AvailableSets)
	assert.Equal(t, 2, availability.Details[1].AvailableSets)
}

func TestCheckBundleAvailabilityMissingMemberMeansZeroSets(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)

	mapping, err := domain.NewSkuMapping(map[string]int{"sku-a": 1, "sku-missing": 1})
	require.NoError(t, err)

	availability, err := f.service.CheckBundleAvailability(context.Background(), mapping)
	require.NoError(t, err)
	assert.False(t, availability.Available)
	assert.Equal(t, 0, availability.AvailableSets)
}

func TestCheckOptions(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	f.seedStock(t, "sku-b", 2)
	ctx := context.Background()

	single, err := domain.NewSingleOption("sku-a")
	require.NoError(t, err)
	mapping, err := domain.NewSkuMapping(map[string]int{"sku-a": 1, "sku-b": 1})
	require.NoError(t, err)
	bundle, err := domain.NewBundleOption(mapping)
	require.NoError(t, err)

	results, err := f.service.CheckOptions(ctx,
		map[string]domain.ProductOption{"plain": single, "combo": bundle, "orphan": single},
		map[string]int{"plain": 10, "combo": 3})
	require.NoError(t, err)

	assert.True(t, results["plain"])
	assert.False(t, results["combo"])
	// 没有给出数量的选项记为不可满足
	assert.False(t, results["orphan"])
}

func TestReserveOptionSingleDelegatesToPlainReserve(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 10)

	option, err := domain.NewSingleOption("sku-1")
	require.NoError(t, err)

	reservations, err := f.service.ReserveOption(context.Background(), option, 3, "order-1")
	require.NoError(t, err)
	require.Len(t, reservations, 1)
	assert.NotEmpty(t, reservations["sku-1"])
}

func TestReserveOptionBundleReservesAllMembers(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-a", 10)
	f.seedStock(t, "sku-b", 10)
	ctx := context.Background()

	mapping, err := domain.NewSkuMapping(map[string]int{"sku-a": 2, "sku-b": 3})
	require.NoError(t, err)
	option, err := domain.NewBundleOption(mapping)
	require.NoError(t, err)

	reservations, err := f.service.ReserveOption(ctx, option, 2, "order-1")
	require.NoError(t, err)
	require.Len(t, reservations, 2)

	invA, err := f.service.GetInventory(ctx, "sku-a")
	require.NoError(t, err)
	assert.Equal(t, 4, invA.ReservedQuantity().Value())

	invB, err := f.service.GetInventory(ctx, "sku-b")
	require.NoError(t, err)
	assert.Equal(t, 6, invB.ReservedQuantity().Value())
}

func TestReceiveStockCreatesLedgerOnFirstSight(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	require.NoError(t, f.service.ReceiveStock(ctx, "sku-new", 15, "po-1"))

	inv, err := f.service.GetInventory(ctx, "sku-new")
	require.NoError(t, err)
	assert.Equal(t, 15, inv.TotalQuantity().Value())

	require.NoError(t, f.service.ReceiveStock(ctx, "sku-new", 5, "po-2"))
	inv, err = f.service.GetInventory(ctx, "sku-new")
	require.NoError(t, err)
	assert.Equal(t, 20, inv.TotalQuantity().Value())
}

func TestDeductStock(t *testing.T) {
	f := newFixture(t)
	f.seedStock(t, "sku-1", 10)
	ctx := context.Background()

	require.NoError(t, f.service.DeductStock(ctx, "sku-1", 4, "shrinkage"))

	inv, err := f.service.GetInventory(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 6, inv.TotalQuantity().Value())

	err = f.service.DeductStock(ctx, "sku-1", 7, "shrinkage")
	assert.True(t, domain.IsKind(err, domain.ErrKindInsufficientStock))
}
