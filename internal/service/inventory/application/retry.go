package application

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"stockpile/internal/service/inventory/domain"
)

// conflictBackoff 是乐观并发冲突的重试间隔。
// 三次重试之后冲突原样上抛，由调用方决定是否整体重来。
var conflictBackoff = []time.Duration{
	100 * time.Millisecond,
	200 * time.Millisecond,
	400 * time.Millisecond,
}

// WithConflictRetry 包装一次台账写操作。
// 只有 ConcurrencyConflict 分类的错误会被重试；其它错误第一次就返回。
// 注意 op 必须在每次尝试时重新加载聚合，否则版本号不会前进。
func WithConflictRetry(ctx context.Context, op func(ctx context.Context) error) error {
	var err error
	for attempt := 0; ; attempt++ {
		err = op(ctx)
		if err == nil || !domain.IsKind(err, domain.ErrKindConcurrencyConflict) {
			return err
		}
		if attempt >= len(conflictBackoff) {
			log.Warn().Err(err).Int("attempts", attempt+1).Msg("conflict retry budget exhausted")
			return err
		}

		conflictRetriesTotal.Inc()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(conflictBackoff[attempt]):
		}
	}
}
