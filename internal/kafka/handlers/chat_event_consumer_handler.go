package kafkahandlers

import (
	"context"
	"encoding/json"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"im-relay/internal/imtypes"
)

// Deliverer 把一帧推送给一组用户的在线连接，返回实际送达的数量。
type Deliverer interface {
	Deliver(userIDs []uint, payload []byte) int
}

// ChatEventConsumerLogic 把 apiserver 发布的会话事件转成实时通道上的 conversation-updated。
type ChatEventConsumerLogic struct {
	deliverer Deliverer
}

// NewChatEventConsumerLogic creates a new instance of ChatEventConsumerLogic.
func NewChatEventConsumerLogic(d Deliverer) *ChatEventConsumerLogic {
	if d == nil {
		zap.S().Panic("Deliverer cannot be nil")
	}
	return &ChatEventConsumerLogic{deliverer: d}
}

// HandleChatEvent 是交给 Kafka 消费者的 MessageHandler。
func (h *ChatEventConsumerLogic) HandleChatEvent(ctx context.Context, msg *kafka.Message) error {
	zap.S().Debugw("Received chat event", "partition", msg.TopicPartition.Partition, "offset", msg.TopicPartition.Offset, "key", string(msg.Key))
	return h.Process(ctx, msg.Value)
}

// Process 解析事件并推送给除操作者以外的接收者。
// 无法解析的消息被跳过（返回 nil），以免阻塞分区。
func (h *ChatEventConsumerLogic) Process(ctx context.Context, value []byte) error {
	var event imtypes.ChatEvent
	if err := json.Unmarshal(value, &event); err != nil {
		zap.S().Warnw("Skipping malformed chat event", "value", string(value), "error", err)
		return nil
	}

	recipients := make([]uint, 0, len(event.RecipientIDs))
	for _, id := range event.RecipientIDs {
		if id != event.ActorID {
			recipients = append(recipients, id)
		}
	}
	if len(recipients) == 0 {
		return nil
	}

	frame, err := imtypes.NewEnvelope(imtypes.EventConversationUpdated, json.RawMessage(value))
	if err != nil {
		return err
	}
	delivered := h.deliverer.Deliver(recipients, frame)
	zap.S().Debugw("Chat event pushed", "type", event.Type, "conversationId", event.ConversationID, "recipients", len(recipients), "delivered", delivered)
	return nil
}
