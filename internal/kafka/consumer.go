package kafka

import (
	"context"
	"fmt"
	"strings"

	"github.com/confluentinc/confluent-kafka-go/v2/kafka"
	"go.uber.org/zap"

	"im-relay/internal/config"
)

// MessageHandler 处理一条消息；返回 nil 时提交 offset。
type MessageHandler func(ctx context.Context, msg *kafka.Message) error

// MessageConsumer defines the interface for a Kafka message consumer.
type MessageConsumer interface {
	Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error
	Close()
}

// confluentKafkaConsumer is an implementation of MessageConsumer using confluent-kafka-go.
type confluentKafkaConsumer struct {
	consumer *kafka.Consumer
	cfg      config.KafkaConfig
	groupID  string
}

// NewConfluentKafkaConsumer 创建消费者；底层连接在 Consume 时按 groupID 建立。
func NewConfluentKafkaConsumer(cfg config.KafkaConfig) (MessageConsumer, error) {
	return &confluentKafkaConsumer{cfg: cfg}, nil
}

// Consume 阻塞直到 ctx 取消或出现致命错误。
func (c *confluentKafkaConsumer) Consume(ctx context.Context, topics []string, groupID string, handler MessageHandler) error {
	if len(topics) == 0 {
		return fmt.Errorf("kafka consumer: no topics specified")
	}
	c.groupID = groupID

	configMap := &kafka.ConfigMap{
		"bootstrap.servers": strings.Join(c.cfg.Brokers, ","),
		"group.id":          c.groupID,
		// 会话通知只对在线用户有意义，重启后不回放历史
		"auto.offset.reset":  "latest",
		"enable.auto.commit": "false",
		"security.protocol":  c.cfg.Protocol,
	}
	if c.cfg.ClientID != "" {
		_ = configMap.SetKey("client.id", c.cfg.ClientID)
	}

	consumer, err := kafka.NewConsumer(configMap)
	if err != nil {
		return fmt.Errorf("failed to create Kafka consumer for group %s: %w", groupID, err)
	}
	c.consumer = consumer

	if err := c.consumer.SubscribeTopics(topics, nil); err != nil {
		_ = c.consumer.Close()
		c.consumer = nil
		return fmt.Errorf("failed to subscribe to topics %v for group %s: %w", topics, groupID, err)
	}

	log := zap.S().With("group", groupID)
	log.Infow("Kafka consumer started", "topics", topics)

	for {
		select {
		case <-ctx.Done():
			log.Info("Context canceled, consumer shutting down.")
			return nil
		default:
		}

		ev := c.consumer.Poll(1000)
		if ev == nil {
			continue
		}

		switch e := ev.(type) {
		case *kafka.Message:
			if err := handler(ctx, e); err != nil {
				log.Errorw("Error processing Kafka message", "topic", *e.TopicPartition.Topic, "offset", e.TopicPartition.Offset, "error", err)
				continue
			}
			if _, err := c.consumer.CommitMessage(e); err != nil {
				log.Warnw("Failed to commit offset", "topic", *e.TopicPartition.Topic, "offset", e.TopicPartition.Offset, "error", err)
			}
		case kafka.Error:
			log.Errorw("Kafka consumer error", "code", e.Code(), "fatal", e.IsFatal(), "error", e)
			if e.IsFatal() {
				return e
			}
		case kafka.AssignedPartitions:
			log.Infow("Partitions assigned", "partitions", e.Partitions)
			_ = c.consumer.Assign(e.Partitions)
		case kafka.RevokedPartitions:
			log.Infow("Partitions revoked", "partitions", e.Partitions)
			_ = c.consumer.Unassign()
		}
	}
}

// Close closes the Kafka consumer.
func (c *confluentKafkaConsumer) Close() {
	if c.consumer == nil {
		return
	}
	if err := c.consumer.Close(); err != nil {
		zap.S().Errorw("Error closing Kafka consumer", "group", c.groupID, "error", err)
	} else {
		zap.S().Infow("Kafka consumer closed", "group", c.groupID)
	}
	c.consumer = nil
}
