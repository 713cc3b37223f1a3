package storage

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"im-relay/internal/config"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
	countersCollection      = "counters"
)

// InitMongo connects to MongoDB and makes sure the chat store indexes exist.
// The caller owns the returned client and must Disconnect it.
func InitMongo(ctx context.Context, cfg config.MongoConfig) (*mongo.Client, *mongo.Database, error) {
	connectCtx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()

	client, err := mongo.Connect(connectCtx, options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, nil, fmt.Errorf("连接 MongoDB 失败: %w", err)
	}
	if err := client.Ping(connectCtx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, fmt.Errorf("MongoDB ping 失败: %w", err)
	}

	db := client.Database(cfg.Database)
	if err := ensureMongoIndexes(connectCtx, db); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, err
	}
	zap.S().Infow("MongoDB 连接成功", "database", cfg.Database)
	return client, db, nil
}

func ensureMongoIndexes(ctx context.Context, db *mongo.Database) error {
	_, err := db.Collection(conversationsCollection).Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			// 只对一对一会话生效，群组没有 pair_key 字段
			Keys: bson.D{{Key: "pair_key", Value: 1}},
			Options: options.Index().
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"pair_key": bson.M{"$exists": true}}),
		},
		{Keys: bson.D{{Key: "members.user_id", Value: 1}, {Key: "activity_at", Value: -1}}},
	})
	if err != nil {
		return fmt.Errorf("创建会话索引失败: %w", err)
	}

	_, err = db.Collection(messagesCollection).Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "conversation_id", Value: 1}, {Key: "sent_at", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("创建消息索引失败: %w", err)
	}
	return nil
}

// nextSequence allocates numeric ids so documents keep the same uint ids as the SQL models.
func nextSequence(ctx context.Context, db *mongo.Database, name string) (uint, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := db.Collection(countersCollection).FindOneAndUpdate(ctx,
		bson.M{"_id": name},
		bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("分配 %s 序列号失败: %w", name, err)
	}
	return uint(counter.Seq), nil
}

func translateMongoError(err error) error {
	if err == mongo.ErrNoDocuments {
		return ErrNotFound
	}
	return err
}
