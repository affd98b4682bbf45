package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTime = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newTestInventory(t *testing.T, total, reserved int) *Inventory {
	t.Helper()
	inv, err := RestoreInventory("sku-1", MustQuantity(total), MustQuantity(reserved), 1, testTime, testTime)
	require.NoError(t, err)
	return inv
}

func TestRestoreInventoryRejectsBrokenInvariant(t *testing.T) {
	_, err := RestoreInventory("sku-1", MustQuantity(5), MustQuantity(6), 1, testTime, testTime)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindInvalidInventoryState))
}

func TestReserveReducesAvailability(t *testing.T) {
	inv := newTestInventory(t, 100, 10)

	res, err := inv.Reserve(MustQuantity(5), "order-1", 15*time.Minute, testTime)
	require.NoError(t, err)

	assert.Equal(t, 100, inv.TotalQuantity().Value())
	assert.Equal(t, 15, inv.ReservedQuantity().Value())
	assert.Equal(t, 85, inv.AvailableQuantity().Value())

	assert.Equal(t, "sku-1", res.SkuID())
	assert.Equal(t, ReservationStatusActive, res.Status())
	assert.Equal(t, testTime.Add(15*time.Minute), res.ExpiresAt())
}

func TestReserveInsufficientStockLeavesStateUntouched(t *testing.T) {
	inv := newTestInventory(t, 10, 8)

	_, err := inv.Reserve(MustQuantity(3), "order-1", time.Minute, testTime)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindInsufficientStock))

	assert.Equal(t, 10, inv.TotalQuantity().Value())
	assert.Equal(t, 8, inv.ReservedQuantity().Value())
	assert.Empty(t, inv.PullEvents())
}

func TestReserveZeroQuantityRejected(t *testing.T) {
	inv := newTestInventory(t, 10, 0)

	_, err := inv.Reserve(ZeroQuantity(), "order-1", time.Minute, testTime)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindInvalidQuantity))
}

func TestReserveExactRemainderRaisesDepletedEvent(t *testing.T) {
	inv := newTestInventory(t, 10, 7)

	_, err := inv.Reserve(MustQuantity(3), "order-1", time.Minute, testTime)
	require.NoError(t, err)

	events := inv.PullEvents()
	require.Len(t, events, 2)
	assert.Equal(t, "inventory.stock_reserved", events[0].EventName())
	assert.Equal(t, "inventory.stock_depleted", events[1].EventName())
}

func TestReleaseReservedQuantity(t *testing.T) {
	inv := newTestInventory(t, 100, 15)

	err := inv.ReleaseReservedQuantity(MustQuantity(5), "res-1", testTime)
	require.NoError(t, err)
	assert.Equal(t, 10, inv.ReservedQuantity().Value())
	assert.Equal(t, 90, inv.AvailableQuantity().Value())

	// 超出预占总量的释放说明重复释放，必须拒绝
	err = inv.ReleaseReservedQuantity(MustQuantity(11), "res-2", testTime)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindInvalidInventoryState))
	assert.Equal(t, 10, inv.ReservedQuantity().Value())
}

func TestConfirmReservationDeductsBothCounters(t *testing.T) {
	inv := newTestInventory(t, 100, 15)

	err := inv.ConfirmReservation(MustQuantity(5), "res-1", testTime)
	require.NoError(t, err)
	assert.Equal(t, 95, inv.TotalQuantity().Value())
	assert.Equal(t, 10, inv.ReservedQuantity().Value())
	assert.Equal(t, 85, inv.AvailableQuantity().Value())
}

func TestDeductCannotInvadeReservedQuantity(t *testing.T) {
	inv := newTestInventory(t, 10, 8)

	err := inv.Deduct(MustQuantity(3), "adjust-1", testTime)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindInvalidInventoryState))
	assert.Equal(t, 10, inv.TotalQuantity().Value())

	err = inv.Deduct(MustQuantity(2), "adjust-2", testTime)
	require.NoError(t, err)
	assert.Equal(t, 8, inv.TotalQuantity().Value())
	assert.Equal(t, 0, inv.AvailableQuantity().Value())
}

func TestReceiveGrowsTotal(t *testing.T) {
	inv, err := NewInventory("sku-1", testTime)
	require.NoError(t, err)

	require.NoError(t, inv.Receive(MustQuantity(20), "po-123", testTime))
	assert.Equal(t, 20, inv.TotalQuantity().Value())

	events := inv.PullEvents()
	require.Len(t, events, 1)
	assert.Equal(t, "inventory.stock_received", events[0].EventName())

	err = inv.Receive(ZeroQuantity(), "po-124", testTime)
	require.Error(t, err)
	assert.True(t, IsKind(err, ErrKindInvalidQuantity))
}

func TestPullEventsDrainsBuffer(t *testing.T) {
	inv := newTestInventory(t, 100, 0)
	_, err := inv.Reserve(MustQuantity(1), "order-1", time.Minute, testTime)
	require.NoError(t, err)

	assert.NotEmpty(t, inv.PullEvents())
	assert.Empty(t, inv.PullEvents())
}
