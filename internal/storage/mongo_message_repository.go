package storage

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"im-relay/internal/models"
)

type mongoMessage struct {
	ID             uint      `bson:"_id"`
	ConversationID uint      `bson:"conversation_id"`
	SenderID       uint      `bson:"sender_id"`
	Type           string    `bson:"type"`
	Content        string    `bson:"content"`
	FileURL        string    `bson:"file_url,omitempty"`
	FileName       string    `bson:"file_name,omitempty"`
	FileSize       int64     `bson:"file_size,omitempty"`
	SentAt         time.Time `bson:"sent_at"`
	ReadBy         []uint    `bson:"read_by"`
	CreatedAt      time.Time `bson:"created_at"`
}

func (d *mongoMessage) toModel() *models.Message {
	m := &models.Message{
		ConversationID: d.ConversationID,
		SenderID:       d.SenderID,
		Type:           models.MessageType(d.Type),
		Content:        d.Content,
		FileURL:        d.FileURL,
		FileName:       d.FileName,
		FileSize:       d.FileSize,
		SentAt:         d.SentAt,
		ReadBy:         d.ReadBy,
	}
	if m.ReadBy == nil {
		m.ReadBy = []uint{}
	}
	m.ID = d.ID
	m.CreatedAt = d.CreatedAt
	m.UpdatedAt = d.CreatedAt
	return m
}

type mongoMessageRepository struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoMessageRepository 创建基于 MongoDB 的 MessageRepository。
func NewMongoMessageRepository(db *mongo.Database) MessageRepository {
	return &mongoMessageRepository{db: db, coll: db.Collection(messagesCollection)}
}

func (r *mongoMessageRepository) Create(ctx context.Context, message *models.Message) error {
	id, err := nextSequence(ctx, r.db, messagesCollection)
	if err != nil {
		return err
	}
	now := time.Now()
	if message.SentAt.IsZero() {
		message.SentAt = now
	}
	doc := &mongoMessage{
		ID:             id,
		ConversationID: message.ConversationID,
		SenderID:       message.SenderID,
		Type:           string(message.Type),
		Content:        message.Content,
		FileURL:        message.FileURL,
		FileName:       message.FileName,
		FileSize:       message.FileSize,
		SentAt:         message.SentAt,
		ReadBy:         []uint{},
		CreatedAt:      now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("写入消息失败: %w", err)
	}
	message.ID = id
	message.CreatedAt = now
	message.UpdatedAt = now
	message.ReadBy = []uint{}
	return nil
}

func (r *mongoMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var doc mongoMessage
	if err := r.coll.FindOne(ctx, bson.M{"_id": id}).Decode(&doc); err != nil {
		return nil, translateMongoError(err)
	}
	return doc.toModel(), nil
}

func (r *mongoMessageRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.Message, error) {
	if len(ids) == 0 {
		return []*models.Message{}, nil
	}
	return r.find(ctx, bson.M{"_id": bson.M{"$in": ids}}, options.Find())
}

func (r *mongoMessageRepository) ListByConversation(ctx context.Context, conversationID uint, limit int, offset int) ([]*models.Message, error) {
	opts := options.Find().SetSort(bson.D{{Key: "sent_at", Value: 1}, {Key: "_id", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	if offset > 0 {
		opts.SetSkip(int64(offset))
	}
	return r.find(ctx, bson.M{"conversation_id": conversationID}, opts)
}

func (r *mongoMessageRepository) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]*models.Message, error) {
	cur, err := r.coll.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	messages := make([]*models.Message, 0)
	for cur.Next(ctx) {
		var doc mongoMessage
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		messages = append(messages, doc.toModel())
	}
	return messages, cur.Err()
}

// MarkRead uses $addToSet so re-marking leaves read_by unchanged.
func (r *mongoMessageRepository) MarkRead(ctx context.Context, userID uint, messageIDs []uint) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}
	res, err := r.coll.UpdateMany(ctx,
		bson.M{"_id": bson.M{"$in": messageIDs}},
		bson.M{"$addToSet": bson.M{"read_by": userID}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}
