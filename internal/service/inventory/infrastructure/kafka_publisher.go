package infrastructure

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"stockpile/internal/pkg/mq"
	"stockpile/internal/service/inventory/domain"
)

// eventEnvelope 库存事件在 Kafka 上的统一信封格式。
type eventEnvelope struct {
	Name       string       `json:"name"`
	OccurredAt time.Time    `json:"occurredAt"`
	Payload    domain.Event `json:"payload"`
}

// KafkaEventPublisher 把领域事件发布到库存事件主题。
// 消息键是事件名，保证同名事件落在同一分区内有序。
type KafkaEventPublisher struct {
	writer *kafka.Writer
}

func NewKafkaEventPublisher(writer *kafka.Writer) *KafkaEventPublisher {
	return &KafkaEventPublisher{writer: writer}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	envelope := eventEnvelope{
		Name:       event.EventName(),
		OccurredAt: event.OccurredAt(),
		Payload:    event,
	}
	value, err := json.Marshal(envelope)
	if err != nil {
		return errors.Wrapf(err, "failed to marshal event %s", event.EventName())
	}

	if err := mq.ProduceMessage(ctx, p.writer, []byte(event.EventName()), value); err != nil {
		return errors.Wrapf(err, "failed to produce event %s", event.EventName())
	}
	return nil
}

func (p *KafkaEventPublisher) PublishAll(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}

// NoopEventPublisher 丢弃所有事件，用于没有配置 Kafka 的部署。
type NoopEventPublisher struct{}

func NewNoopEventPublisher() *NoopEventPublisher {
	return &NoopEventPublisher{}
}

func (p *NoopEventPublisher) Publish(ctx context.Context, event domain.Event) error {
	log.Debug().Str("event", event.EventName()).Msg("event publisher disabled, dropping event")
	return nil
}

func (p *NoopEventPublisher) PublishAll(ctx context.Context, events []domain.Event) error {
	for _, event := range events {
		if err := p.Publish(ctx, event); err != nil {
			return err
		}
	}
	return nil
}
