package storage

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-relay/internal/models"
)

// MessageRepository 定义了消息数据操作的接口。返回的消息都已填充 ReadBy。
type MessageRepository interface {
	Create(ctx context.Context, message *models.Message) error
	GetByID(ctx context.Context, id uint) (*models.Message, error)
	GetByIDs(ctx context.Context, ids []uint) ([]*models.Message, error)
	// ListByConversation 按发送时间正序返回会话消息，limit<=0 表示不限制
	ListByConversation(ctx context.Context, conversationID uint, limit int, offset int) ([]*models.Message, error)
	// MarkRead 将 userID 加入每条消息的已读集合；不存在的消息被忽略。
	// 返回新增的已读记录数，重复标记不计数。
	MarkRead(ctx context.Context, userID uint, messageIDs []uint) (int64, error)
}

// gormMessageRepository 使用 GORM 实现 MessageRepository。
type gormMessageRepository struct {
	db *gorm.DB
}

// NewGormMessageRepository 创建一个新的基于 GORM 的 MessageRepository。
func NewGormMessageRepository(db *gorm.DB) MessageRepository {
	return &gormMessageRepository{db: db}
}

func (r *gormMessageRepository) Create(ctx context.Context, message *models.Message) error {
	if message.SentAt.IsZero() {
		message.SentAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(message).Error; err != nil {
		return err
	}
	message.ReadBy = []uint{}
	return nil
}

func (r *gormMessageRepository) GetByID(ctx context.Context, id uint) (*models.Message, error) {
	var message models.Message
	if err := r.db.WithContext(ctx).First(&message, id).Error; err != nil {
		return nil, translateGormError(err)
	}
	if err := r.fillReadBy(ctx, []*models.Message{&message}); err != nil {
		return nil, err
	}
	return &message, nil
}

func (r *gormMessageRepository) GetByIDs(ctx context.Context, ids []uint) ([]*models.Message, error) {
	messages := make([]*models.Message, 0, len(ids))
	if len(ids) == 0 {
		return messages, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, r.fillReadBy(ctx, messages)
}

func (r *gormMessageRepository) ListByConversation(ctx context.Context, conversationID uint, limit int, offset int) ([]*models.Message, error) {
	messages := make([]*models.Message, 0)
	query := r.db.WithContext(ctx).
		Where("conversation_id = ?", conversationID).
		Order("sent_at ASC").
		Order("id ASC")
	if limit > 0 {
		query = query.Limit(limit)
	}
	if offset > 0 {
		query = query.Offset(offset)
	}
	if err := query.Find(&messages).Error; err != nil {
		return nil, err
	}
	return messages, r.fillReadBy(ctx, messages)
}

func (r *gormMessageRepository) MarkRead(ctx context.Context, userID uint, messageIDs []uint) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, nil
	}

	var existing []uint
	if err := r.db.WithContext(ctx).Model(&models.Message{}).Where("id IN ?", messageIDs).Pluck("id", &existing).Error; err != nil {
		return 0, err
	}
	if len(existing) == 0 {
		return 0, nil
	}

	now := time.Now()
	reads := make([]models.MessageRead, 0, len(existing))
	for _, id := range existing {
		reads = append(reads, models.MessageRead{MessageID: id, UserID: userID, ReadAt: now})
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&reads)
	return res.RowsAffected, res.Error
}

func (r *gormMessageRepository) fillReadBy(ctx context.Context, messages []*models.Message) error {
	if len(messages) == 0 {
		return nil
	}
	ids := make([]uint, 0, len(messages))
	byID := make(map[uint]*models.Message, len(messages))
	for _, m := range messages {
		m.ReadBy = []uint{}
		ids = append(ids, m.ID)
		byID[m.ID] = m
	}

	var reads []models.MessageRead
	err := r.db.WithContext(ctx).
		Where("message_id IN ?", ids).
		Order("read_at ASC").
		Order("user_id ASC").
		Find(&reads).Error
	if err != nil {
		return err
	}
	for _, read := range reads {
		if m, ok := byID[read.MessageID]; ok {
			m.ReadBy = append(m.ReadBy, read.UserID)
		}
	}
	return nil
}
