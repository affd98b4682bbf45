package saga

import (
	"context"

	"stockpile/internal/service/inventory/domain"
)

// committedStep 记录一次已落库的成员预约，是补偿的唯一依据。
type committedStep struct {
	SkuID         string
	ReservationID string
	Quantity      domain.Quantity
}

// stepLog 按提交顺序记录步骤。补偿时按逆序回放，
// 单步补偿失败只记录不中断，剩余步骤仍然要继续回滚。
type stepLog struct {
	steps []committedStep
}

func (l *stepLog) record(step committedStep) {
	l.steps = append(l.steps, step)
}

func (l *stepLog) len() int { return len(l.steps) }

// reservations 返回 skuId -> reservationId。
func (l *stepLog) reservations() map[string]string {
	out := make(map[string]string, len(l.steps))
	for _, step := range l.steps {
		out[step.SkuID] = step.ReservationID
	}
	return out
}

// compensate 逆序回放补偿函数。compensateFn 不允许 panic，错误由其自行吞掉并记录。
func (l *stepLog) compensate(ctx context.Context, compensateFn func(ctx context.Context, step committedStep)) {
	for i := len(l.steps) - 1; i >= 0; i-- {
		compensateFn(ctx, l.steps[i])
	}
}
