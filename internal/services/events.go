package services

import (
	"context"
	"time"

	"go.uber.org/zap"

	"im-relay/internal/imtypes"
)

// EventPublisher 把会话变更通知发给实时通道。发布失败不影响已提交的写操作。
type EventPublisher interface {
	PublishChatEvent(ctx context.Context, event imtypes.ChatEvent) error
}

type noopPublisher struct{}

// NewNoopEventPublisher 在 Kafka 关闭时使用。
func NewNoopEventPublisher() EventPublisher { return noopPublisher{} }

func (noopPublisher) PublishChatEvent(context.Context, imtypes.ChatEvent) error { return nil }

func publish(ctx context.Context, p EventPublisher, event imtypes.ChatEvent) {
	if p == nil {
		return
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now()
	}
	if err := p.PublishChatEvent(ctx, event); err != nil {
		zap.S().Warnw("发布会话事件失败", "type", event.Type, "conversationId", event.ConversationID, "error", err)
	}
}
