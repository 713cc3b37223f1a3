package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/mongo"
	"gorm.io/gorm"

	"im-relay/internal/config"
	"im-relay/internal/imtypes"
)

const (
	ChatStoreGorm    = "gorm"
	ChatStoreMongoDB = "mongodb"
)

// ChatStore 是会话与消息仓储的组合，后端由 CHAT_STORE.BACKEND 决定。
type ChatStore struct {
	Conversations ConversationRepository
	Messages      MessageRepository

	mongoClient *mongo.Client
}

// OpenChatStore 按配置选择 SQL 或 MongoDB 作为会话/消息存储。
func OpenChatStore(ctx context.Context, cfg config.Config, db *gorm.DB) (*ChatStore, error) {
	switch cfg.ChatStore.Backend {
	case "", ChatStoreGorm:
		return &ChatStore{
			Conversations: NewGormConversationRepository(db),
			Messages:      NewGormMessageRepository(db),
		}, nil
	case ChatStoreMongoDB:
		client, mdb, err := InitMongo(ctx, cfg.Mongo)
		if err != nil {
			return nil, err
		}
		return &ChatStore{
			Conversations: NewMongoConversationRepository(mdb),
			Messages:      NewMongoMessageRepository(mdb),
			mongoClient:   client,
		}, nil
	default:
		return nil, fmt.Errorf("不支持的会话存储后端: %s", cfg.ChatStore.Backend)
	}
}

// UsesSQL 表示会话表是否需要在 SQL 数据库中迁移。
func (s *ChatStore) UsesSQL() bool {
	return s.mongoClient == nil
}

func (s *ChatStore) Close(ctx context.Context) error {
	if s.mongoClient != nil {
		return s.mongoClient.Disconnect(ctx)
	}
	return nil
}

// NewStorageService 按 STORAGE.TYPE 创建文件存储。
func NewStorageService(ctx context.Context, cfg config.StorageConfig) (imtypes.StorageService, error) {
	switch cfg.Type {
	case "", "local":
		return NewLocalStorageService(cfg)
	case "s3":
		return NewS3StorageService(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("不支持的存储类型: %s", cfg.Type)
	}
}
