package infrastructure

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpile/internal/service/inventory/domain"
)

var repoTestTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func TestMemoryInventoryRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryInventoryRepository()
	ctx := context.Background()

	_, err := repo.Load(ctx, "sku-1")
	assert.True(t, domain.IsKind(err, domain.ErrKindInventoryNotFound))

	inv, err := domain.NewInventoryWithStock("sku-1", domain.MustQuantity(10), repoTestTime)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, inv))

	loaded, err := repo.Load(ctx, "sku-1")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.TotalQuantity().Value())
	assert.Equal(t, int64(1), loaded.Version())
}

func TestMemoryInventoryRepositoryDetectsStaleWrites(t *testing.T) {
	repo := NewMemoryInventoryRepository()
	ctx := context.Background()

	inv, err := domain.NewInventoryWithStock("sku-1", domain.MustQuantity(10), repoTestTime)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, inv))

	// 两个并发加载同一版本
	first, err := repo.Load(ctx, "sku-1")
	require.NoError(t, err)
	second, err := repo.Load(ctx, "sku-1")
	require.NoError(t, err)

	_, err = first.Reserve(domain.MustQuantity(1), "order-1", time.Minute, repoTestTime)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, first))

	// 后写的一方携带过期版本，必须得到冲突错误
	_, err = second.Reserve(domain.MustQuantity(1), "order-2", time.Minute, repoTestTime)
	require.NoError(t, err)
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindConcurrencyConflict))
}

func TestMemoryInventoryRepositoryLoadBatchSkipsMissing(t *testing.T) {
	repo := NewMemoryInventoryRepository()
	ctx := context.Background()

	inv, err := domain.NewInventoryWithStock("sku-1", domain.MustQuantity(5), repoTestTime)
	require.NoError(t, err)
	require.NoError(t, repo.Save(ctx, inv))

	batch, err := repo.LoadBatch(ctx, []string{"sku-1", "sku-missing"})
	require.NoError(t, err)
	assert.Len(t, batch, 1)
	assert.Contains(t, batch, "sku-1")
}

func newStoredReservation(t *testing.T, repo *MemoryReservationRepository, skuID, orderID string, ttl time.Duration, now time.Time) *domain.Reservation {
	t.Helper()
	res, err := domain.NewReservation(skuID, domain.MustQuantity(1), orderID, ttl, now)
	require.NoError(t, err)
	require.NoError(t, repo.Save(context.Background(), res))
	return res
}

func TestMemoryReservationRepositoryRoundTrip(t *testing.T) {
	repo := NewMemoryReservationRepository()
	ctx := context.Background()

	_, err := repo.Load(ctx, "missing")
	assert.True(t, domain.IsKind(err, domain.ErrKindReservationNotFound))

	res := newStoredReservation(t, repo, "sku-1", "order-1", time.Minute, repoTestTime)

	loaded, err := repo.Load(ctx, res.ID())
	require.NoError(t, err)
	assert.Equal(t, res.ID(), loaded.ID())
	assert.Equal(t, domain.ReservationStatusActive, loaded.Status())
	assert.Equal(t, int64(1), loaded.Version())
}

func TestMemoryReservationRepositoryDetectsStaleWrites(t *testing.T) {
	repo := NewMemoryReservationRepository()
	ctx := context.Background()

	res := newStoredReservation(t, repo, "sku-1", "order-1", time.Minute, repoTestTime)

	first, err := repo.Load(ctx, res.ID())
	require.NoError(t, err)
	second, err := repo.Load(ctx, res.ID())
	require.NoError(t, err)

	require.NoError(t, first.Release())
	require.NoError(t, repo.Save(ctx, first))

	require.NoError(t, second.Release())
	err = repo.Save(ctx, second)
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindConcurrencyConflict))
}

func TestMemoryReservationRepositoryFindByOrderID(t *testing.T) {
	repo := NewMemoryReservationRepository()
	ctx := context.Background()

	newStoredReservation(t, repo, "sku-1", "order-1", time.Minute, repoTestTime)
	newStoredReservation(t, repo, "sku-2", "order-1", time.Minute, repoTestTime.Add(time.Second))
	newStoredReservation(t, repo, "sku-3", "order-2", time.Minute, repoTestTime)

	found, err := repo.FindByOrderID(ctx, "order-1")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "sku-1", found[0].SkuID())
	assert.Equal(t, "sku-2", found[1].SkuID())
}

func TestMemoryReservationRepositoryFindExpiredActive(t *testing.T) {
	repo := NewMemoryReservationRepository()
	ctx := context.Background()

	expired1 := newStoredReservation(t, repo, "sku-1", "order-1", time.Minute, repoTestTime)
	expired2 := newStoredReservation(t, repo, "sku-2", "order-2", 2*time.Minute, repoTestTime)
	newStoredReservation(t, repo, "sku-3", "order-3", time.Hour, repoTestTime)

	// 已释放的预约不应出现在结果里
	released := newStoredReservation(t, repo, "sku-4", "order-4", time.Minute, repoTestTime)
	loaded, err := repo.Load(ctx, released.ID())
	require.NoError(t, err)
	require.NoError(t, loaded.Release())
	require.NoError(t, repo.Save(ctx, loaded))

	now := repoTestTime.Add(10 * time.Minute)
	found, err := repo.FindExpiredActive(ctx, now, 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	// 按过期时间升序
	assert.Equal(t, expired1.ID(), found[0].ID())
	assert.Equal(t, expired2.ID(), found[1].ID())

	limited, err := repo.FindExpiredActive(ctx, now, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
