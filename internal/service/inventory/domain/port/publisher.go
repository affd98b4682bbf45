package port

import (
	"context"

	"stockpile/internal/service/inventory/domain"
)

// EventPublisher 是领域事件的出站端口。
// 事件在台账提交成功之后发布；发布失败只影响下游感知，
// 不允许反过来破坏已提交的台账状态，因此调用方通常只记录日志。
type EventPublisher interface {
	Publish(ctx context.Context, event domain.Event) error
	PublishAll(ctx context.Context, events []domain.Event) error
}
