package storage

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-relay/internal/models"
)

// ConversationRepository 定义了会话数据操作的接口。
// 返回的会话都带有按 Seq 排序的 Members。
type ConversationRepository interface {
	// FindOrCreatePrivate 原子地查找或创建两个用户之间的一对一会话，
	// 第二个返回值表示是否为新建。
	FindOrCreatePrivate(ctx context.Context, userID1, userID2 uint) (*models.Conversation, bool, error)
	// CreateGroup 创建群组会话，memberIDs 的顺序即存储的成员顺序
	CreateGroup(ctx context.Context, conversation *models.Conversation, memberIDs []uint) error
	GetByID(ctx context.Context, id uint) (*models.Conversation, error)
	// ListForUser 按最近活动时间倒序列出用户参与的会话
	ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error)

	AddMember(ctx context.Context, conversationID, userID uint, seq int) error
	// RemoveMember 移除普通成员；当前管理员不会被移除，此时返回 ErrNotFound
	RemoveMember(ctx context.Context, conversationID, userID uint) error
	// LeaveGroup 原子地完成一次退群: 管理员离开时由存储顺序中第一个剩余成员接任，
	// 最后一名成员离开时删除会话。userID 不是成员时返回 ErrNotFound。
	LeaveGroup(ctx context.Context, conversationID, userID uint) (*LeaveOutcome, error)
	SetAdmin(ctx context.Context, conversationID, adminID uint) error
	// SetLastMessage 只会把最后消息指针向前移动，更早的消息不会覆盖它
	SetLastMessage(ctx context.Context, conversationID, messageID uint, at time.Time) error
	Delete(ctx context.Context, conversationID uint) error

	// Transaction 在同一事务中执行 fn，fn 收到的仓储绑定到该事务。
	// 事务内的 GetByID 会锁定会话行，直到事务结束。
	Transaction(ctx context.Context, fn func(repo ConversationRepository) error) error
}

// LeaveOutcome 是 LeaveGroup 之后的群组状态。
type LeaveOutcome struct {
	Deleted    bool
	NewAdminID *uint
	// Remaining 为离开后剩余的成员，按存储顺序
	Remaining []uint
}

// gormConversationRepository 使用 GORM 实现 ConversationRepository。
type gormConversationRepository struct {
	db *gorm.DB
	// 绑定到事务时为 true，读取会话时加行锁
	inTx bool
}

// NewGormConversationRepository 创建一个新的基于 GORM 的 ConversationRepository。
func NewGormConversationRepository(db *gorm.DB) ConversationRepository {
	return &gormConversationRepository{db: db}
}

func orderedMembers(db *gorm.DB) *gorm.DB {
	return db.Order("seq ASC")
}

// forUpdate 加 SELECT ... FOR UPDATE。SQLite 没有行锁，单连接下写事务本身就是串行的。
func forUpdate(db *gorm.DB) *gorm.DB {
	if db.Dialector.Name() == "sqlite" {
		return db
	}
	return db.Clauses(clause.Locking{Strength: "UPDATE"})
}

// FindOrCreatePrivate 依赖 pair_key 唯一索引: 并发的首次联系中只有一个 INSERT 生效，
// 其余的 ON CONFLICT DO NOTHING 之后重新读取已存在的会话。
func (r *gormConversationRepository) FindOrCreatePrivate(ctx context.Context, userID1, userID2 uint) (*models.Conversation, bool, error) {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	key := models.PairKeyFor(userID1, userID2)

	var (
		conversation models.Conversation
		created      bool
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		candidate := &models.Conversation{PairKey: &key}
		res := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "pair_key"}},
			DoNothing: true,
		}).Create(candidate)
		if res.Error != nil {
			return fmt.Errorf("创建私聊会话失败: %w", res.Error)
		}

		if res.RowsAffected > 0 {
			now := time.Now()
			members := []models.ConversationMember{
				{ConversationID: candidate.ID, UserID: userID1, Seq: 0, JoinedAt: now},
				{ConversationID: candidate.ID, UserID: userID2, Seq: 1, JoinedAt: now},
			}
			if err := tx.Create(&members).Error; err != nil {
				return fmt.Errorf("添加私聊成员失败: %w", err)
			}
			created = true
		}

		return tx.Preload("Members", orderedMembers).
			Where("pair_key = ?", key).
			First(&conversation).Error
	})
	if err != nil {
		return nil, false, translateGormError(err)
	}
	return &conversation, created, nil
}

func (r *gormConversationRepository) CreateGroup(ctx context.Context, conversation *models.Conversation, memberIDs []uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		conversation.IsGroup = true
		conversation.PairKey = nil
		conversation.Members = nil
		if err := tx.Create(conversation).Error; err != nil {
			return fmt.Errorf("创建群组会话失败: %w", err)
		}

		now := time.Now()
		members := make([]models.ConversationMember, 0, len(memberIDs))
		for i, userID := range memberIDs {
			members = append(members, models.ConversationMember{
				ConversationID: conversation.ID,
				UserID:         userID,
				Seq:            i,
				JoinedAt:       now,
			})
		}
		if len(members) > 0 {
			if err := tx.Create(&members).Error; err != nil {
				return fmt.Errorf("添加群成员失败: %w", err)
			}
		}
		conversation.Members = members
		return nil
	})
}

func (r *gormConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	var conversation models.Conversation
	db := r.db.WithContext(ctx)
	if r.inTx {
		db = forUpdate(db)
	}
	err := db.Preload("Members", orderedMembers).First(&conversation, id).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &conversation, nil
}

func (r *gormConversationRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	conversations := make([]*models.Conversation, 0)
	err := r.db.WithContext(ctx).
		Joins("JOIN conversation_members cm ON cm.conversation_id = conversations.id").
		Where("cm.user_id = ?", userID).
		Preload("Members", orderedMembers).
		Order("COALESCE(conversations.last_message_at, conversations.created_at) DESC").
		Order("conversations.id DESC").
		Find(&conversations).Error
	return conversations, err
}

func (r *gormConversationRepository) AddMember(ctx context.Context, conversationID, userID uint, seq int) error {
	member := &models.ConversationMember{
		ConversationID: conversationID,
		UserID:         userID,
		Seq:            seq,
		JoinedAt:       time.Now(),
	}
	res := r.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(member)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *gormConversationRepository) RemoveMember(ctx context.Context, conversationID, userID uint) error {
	db := r.db.WithContext(ctx)
	isAdmin := db.Model(&models.Conversation{}).Select("1").Where("id = ? AND admin_id = ?", conversationID, userID)
	res := db.
		Where("conversation_id = ? AND user_id = ?", conversationID, userID).
		Where("NOT EXISTS (?)", isAdmin).
		Delete(&models.ConversationMember{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *gormConversationRepository) LeaveGroup(ctx context.Context, conversationID, userID uint) (*LeaveOutcome, error) {
	var outcome LeaveOutcome
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		outcome = LeaveOutcome{}

		var conversation models.Conversation
		if err := forUpdate(tx).First(&conversation, conversationID).Error; err != nil {
			return err
		}
		if err := orderedMembers(tx).Where("conversation_id = ?", conversationID).Find(&conversation.Members).Error; err != nil {
			return err
		}
		if !conversation.HasMember(userID) {
			return ErrNotFound
		}

		for _, id := range conversation.MemberIDs() {
			if id != userID {
				outcome.Remaining = append(outcome.Remaining, id)
			}
		}
		if len(outcome.Remaining) == 0 {
			if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.ConversationMember{}).Error; err != nil {
				return err
			}
			if err := tx.Delete(&models.Conversation{}, conversationID).Error; err != nil {
				return err
			}
			outcome.Deleted = true
			return nil
		}

		if conversation.IsAdmin(userID) {
			successor, _ := conversation.Successor(userID)
			if err := tx.Model(&models.Conversation{}).Where("id = ?", conversationID).Update("admin_id", successor).Error; err != nil {
				return err
			}
			outcome.NewAdminID = &successor
		}
		return tx.Where("conversation_id = ? AND user_id = ?", conversationID, userID).
			Delete(&models.ConversationMember{}).Error
	})
	if err != nil {
		return nil, translateGormError(err)
	}
	return &outcome, nil
}

func (r *gormConversationRepository) SetAdmin(ctx context.Context, conversationID, adminID uint) error {
	return r.updateColumns(ctx, conversationID, map[string]interface{}{"admin_id": adminID})
}

func (r *gormConversationRepository) SetLastMessage(ctx context.Context, conversationID, messageID uint, at time.Time) error {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).
		Where("id = ?", conversationID).
		Where("last_message_at IS NULL OR last_message_at <= ?", at).
		Updates(map[string]interface{}{
			"last_message_id": messageID,
			"last_message_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// 已有更新的消息，或会话不存在
		var count int64
		if err := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return ErrNotFound
		}
	}
	return nil
}

func (r *gormConversationRepository) updateColumns(ctx context.Context, conversationID uint, values map[string]interface{}) error {
	res := r.db.WithContext(ctx).Model(&models.Conversation{}).Where("id = ?", conversationID).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete 物理删除会话及其成员关系；消息保留。
func (r *gormConversationRepository) Delete(ctx context.Context, conversationID uint) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("conversation_id = ?", conversationID).Delete(&models.ConversationMember{}).Error; err != nil {
			return err
		}
		res := tx.Delete(&models.Conversation{}, conversationID)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

func (r *gormConversationRepository) Transaction(ctx context.Context, fn func(repo ConversationRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormConversationRepository{db: tx, inTx: true})
	})
}
