package services

import (
	"context"
	"time"

	"github.com/feed-system/snapgram/internal/observability"
	"github.com/feed-system/snapgram/pkg/logger"
	"github.com/feed-system/snapgram/pkg/queue"
)

// eventPublisher 发布失败只记日志，不影响请求结果
type eventPublisher struct {
	producer queue.Publisher
	logger   *logger.Logger
}

func newEventPublisher(producer queue.Publisher, log *logger.Logger) eventPublisher {
	if producer == nil {
		producer = queue.NopPublisher{}
	}
	return eventPublisher{producer: producer, logger: log}
}

func (p eventPublisher) publish(ctx context.Context, key string, eventType queue.EventType, data interface{}) {
	event := queue.Event{
		Type:      eventType,
		Timestamp: time.Now(),
		Data:      data,
	}
	if err := p.producer.Publish(ctx, key, event); err != nil {
		observability.DomainEvents.WithLabelValues(string(eventType), "error").Inc()
		p.logger.WithError(err).WithField("event_type", eventType).Error("Failed to publish event")
		return
	}
	observability.DomainEvents.WithLabelValues(string(eventType), "ok").Inc()
}
