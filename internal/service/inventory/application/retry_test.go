package application

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockpile/internal/service/inventory/domain"
)

func TestWithConflictRetrySucceedsAfterConflicts(t *testing.T) {
	attempts := 0
	err := WithConflictRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return domain.NewConcurrencyConflictError("version mismatch", nil)
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestWithConflictRetryGivesUpAfterBudget(t *testing.T) {
	attempts := 0
	err := WithConflictRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return domain.NewConcurrencyConflictError("version mismatch", nil)
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindConcurrencyConflict))
	// 首次尝试 + 三次重试
	assert.Equal(t, 4, attempts)
}

func TestWithConflictRetryDoesNotRetryOtherErrors(t *testing.T) {
	attempts := 0
	err := WithConflictRetry(context.Background(), func(ctx context.Context) error {
		attempts++
		return domain.NewInsufficientStockError("not enough")
	})
	require.Error(t, err)
	assert.True(t, domain.IsKind(err, domain.ErrKindInsufficientStock))
	assert.Equal(t, 1, attempts)
}

func TestWithConflictRetryHonorsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	start := time.Now()
	attempts := 0
	err := WithConflictRetry(ctx, func(ctx context.Context) error {
		attempts++
		cancel()
		return domain.NewConcurrencyConflictError("version mismatch", nil)
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, attempts)
	assert.Less(t, time.Since(start), conflictBackoff[0]+50*time.Millisecond)
}
