package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"im-relay/internal/config"
	"im-relay/internal/imtypes"
	"im-relay/internal/metrics"
)

// ChatEventPublisher 把会话事件写入 chat events topic。
// 熔断器打开期间直接丢弃事件，避免 Kafka 故障拖慢 REST 请求。
type ChatEventPublisher struct {
	producer MessageProducer
	topic    string
	cb       *gobreaker.CircuitBreaker
}

// NewChatEventPublisher 包装 producer。cfg.Breaker 为零值时使用默认阈值。
func NewChatEventPublisher(producer MessageProducer, cfg config.KafkaConfig) *ChatEventPublisher {
	maxFailures := cfg.Breaker.MaxFailures
	if maxFailures == 0 {
		maxFailures = 5
	}
	settings := gobreaker.Settings{
		Name:        "chat-events",
		MaxRequests: 1,
		Interval:    cfg.Breaker.Interval,
		Timeout:     cfg.Breaker.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			zap.S().Infow("circuit breaker state", "name", name, "from", from.String(), "to", to.String())
		},
	}
	return &ChatEventPublisher{
		producer: producer,
		topic:    cfg.ChatEventsTopic,
		cb:       gobreaker.NewCircuitBreaker(settings),
	}
}

// PublishChatEvent 以会话 ID 为 key 发布，同一会话的事件进入同一分区。
func (p *ChatEventPublisher) PublishChatEvent(ctx context.Context, event imtypes.ChatEvent) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化会话事件失败: %w", err)
	}
	key := []byte(strconv.FormatUint(uint64(event.ConversationID), 10))

	_, err = p.cb.Execute(func() (interface{}, error) {
		return nil, p.producer.SendMessage(ctx, p.topic, key, payload)
	})
	result := "ok"
	switch {
	case err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests:
		result = "rejected"
	case err != nil:
		result = "failed"
	}
	metrics.ChatEventsPublished.WithLabelValues(string(event.Type), result).Inc()
	if err != nil {
		return fmt.Errorf("发布会话事件到 %s 失败: %w", p.topic, err)
	}
	return nil
}

// Close 关闭底层 producer。
func (p *ChatEventPublisher) Close() {
	p.producer.Close()
}
