package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"im-relay/internal/models"
)

type mongoMember struct {
	UserID   uint      `bson:"user_id"`
	Seq      int       `bson:"seq"`
	JoinedAt time.Time `bson:"joined_at"`
}

// 成员内嵌在会话文档中，单文档更新即可保持成员与管理员的一致性
type mongoConversation struct {
	ID            uint          `bson:"_id"`
	IsGroup       bool          `bson:"is_group"`
	Name          string        `bson:"name,omitempty"`
	AdminID       *uint         `bson:"admin_id,omitempty"`
	PairKey       string        `bson:"pair_key,omitempty"`
	LastMessageID *uint         `bson:"last_message_id,omitempty"`
	LastMessageAt *time.Time    `bson:"last_message_at,omitempty"`
	ActivityAt    time.Time     `bson:"activity_at"`
	Members       []mongoMember `bson:"members"`
	CreatedAt     time.Time     `bson:"created_at"`
	UpdatedAt     time.Time     `bson:"updated_at"`
}

func (d *mongoConversation) toModel() *models.Conversation {
	c := &models.Conversation{
		IsGroup:       d.IsGroup,
		Name:          d.Name,
		AdminID:       d.AdminID,
		LastMessageID: d.LastMessageID,
		LastMessageAt: d.LastMessageAt,
	}
	c.ID = d.ID
	c.CreatedAt = d.CreatedAt
	c.UpdatedAt = d.UpdatedAt
	if d.PairKey != "" {
		key := d.PairKey
		c.PairKey = &key
	}
	for _, m := range d.Members {
		c.Members = append(c.Members, models.ConversationMember{
			ConversationID: d.ID,
			UserID:         m.UserID,
			Seq:            m.Seq,
			JoinedAt:       m.JoinedAt,
		})
	}
	sortMembers(c.Members)
	return c
}

func sortMembers(members []models.ConversationMember) {
	// 成员数量很小，插入排序即可
	for i := 1; i < len(members); i++ {
		for j := i; j > 0 && members[j].Seq < members[j-1].Seq; j-- {
			members[j], members[j-1] = members[j-1], members[j]
		}
	}
}

type mongoConversationRepository struct {
	db   *mongo.Database
	coll *mongo.Collection
}

// NewMongoConversationRepository 创建基于 MongoDB 的 ConversationRepository。
func NewMongoConversationRepository(db *mongo.Database) ConversationRepository {
	return &mongoConversationRepository{db: db, coll: db.Collection(conversationsCollection)}
}

func (r *mongoConversationRepository) FindOrCreatePrivate(ctx context.Context, userID1, userID2 uint) (*models.Conversation, bool, error) {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	key := models.PairKeyFor(userID1, userID2)

	if existing, err := r.findOne(ctx, bson.M{"pair_key": key}); err == nil {
		return existing, false, nil
	} else if err != ErrNotFound {
		return nil, false, err
	}

	id, err := nextSequence(ctx, r.db, conversationsCollection)
	if err != nil {
		return nil, false, err
	}
	now := time.Now()
	doc := &mongoConversation{
		ID:         id,
		PairKey:    key,
		ActivityAt: now,
		Members: []mongoMember{
			{UserID: userID1, Seq: 0, JoinedAt: now},
			{UserID: userID2, Seq: 1, JoinedAt: now},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// 并发的首次联系已经创建了会话
			existing, findErr := r.findOne(ctx, bson.M{"pair_key": key})
			return existing, false, findErr
		}
		return nil, false, fmt.Errorf("创建私聊会话失败: %w", err)
	}
	return doc.toModel(), true, nil
}

func (r *mongoConversationRepository) CreateGroup(ctx context.Context, conversation *models.Conversation, memberIDs []uint) error {
	id, err := nextSequence(ctx, r.db, conversationsCollection)
	if err != nil {
		return err
	}
	now := time.Now()
	doc := &mongoConversation{
		ID:         id,
		IsGroup:    true,
		Name:       conversation.Name,
		AdminID:    conversation.AdminID,
		ActivityAt: now,
		Members:    make([]mongoMember, 0, len(memberIDs)),
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i, userID := range memberIDs {
		doc.Members = append(doc.Members, mongoMember{UserID: userID, Seq: i, JoinedAt: now})
	}
	if _, err := r.coll.InsertOne(ctx, doc); err != nil {
		return fmt.Errorf("创建群组会话失败: %w", err)
	}
	*conversation = *doc.toModel()
	return nil
}

func (r *mongoConversationRepository) GetByID(ctx context.Context, id uint) (*models.Conversation, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *mongoConversationRepository) findOne(ctx context.Context, filter bson.M) (*models.Conversation, error) {
	var doc mongoConversation
	if err := r.coll.FindOne(ctx, filter).Decode(&doc); err != nil {
		return nil, translateMongoError(err)
	}
	return doc.toModel(), nil
}

func (r *mongoConversationRepository) ListForUser(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	opts := options.Find().SetSort(bson.D{{Key: "activity_at", Value: -1}, {Key: "_id", Value: -1}})
	cur, err := r.coll.Find(ctx, bson.M{"members.user_id": userID}, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	conversations := make([]*models.Conversation, 0)
	for cur.Next(ctx) {
		var doc mongoConversation
		if err := cur.Decode(&doc); err != nil {
			return nil, err
		}
		conversations = append(conversations, doc.toModel())
	}
	return conversations, cur.Err()
}

func (r *mongoConversationRepository) AddMember(ctx context.Context, conversationID, userID uint, seq int) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": conversationID, "members.user_id": bson.M{"$ne": userID}},
		bson.M{
			"$push": bson.M{"members": mongoMember{UserID: userID, Seq: seq, JoinedAt: time.Now()}},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *mongoConversationRepository) RemoveMember(ctx context.Context, conversationID, userID uint) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{"_id": conversationID, "members.user_id": userID, "admin_id": bson.M{"$ne": userID}},
		bson.M{
			"$pull": bson.M{"members": bson.M{"user_id": userID}},
			"$set":  bson.M{"updated_at": time.Now()},
		},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// 成员数在删除与更新之间变化时重试的次数上限
const maxLeaveAttempts = 5

// LeaveGroup 用两个单文档原子操作完成退群，不需要多文档事务:
// 唯一成员离开时带条件地删除整个文档；否则在一次更新里移除成员并按需移交管理员，
// 更新的条件要求至少还有两个成员，所以群组文档永远不会变成空成员。
func (r *mongoConversationRepository) LeaveGroup(ctx context.Context, conversationID, userID uint) (*LeaveOutcome, error) {
	for attempt := 0; attempt < maxLeaveAttempts; attempt++ {
		del, err := r.coll.DeleteOne(ctx, bson.M{
			"_id":             conversationID,
			"members":         bson.M{"$size": 1},
			"members.user_id": userID,
		})
		if err != nil {
			return nil, err
		}
		if del.DeletedCount == 1 {
			return &LeaveOutcome{Deleted: true}, nil
		}

		var before mongoConversation
		err = r.coll.FindOneAndUpdate(ctx,
			bson.M{
				"_id":             conversationID,
				"members.user_id": userID,
				"members.1":       bson.M{"$exists": true},
			},
			leavePipeline(userID),
			options.FindOneAndUpdate().SetReturnDocument(options.Before),
		).Decode(&before)
		if err == nil {
			return leaveOutcomeFrom(&before, userID), nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}

		// 不是成员 (或会话不存在) 时结束；否则成员数刚刚变化，重试
		if _, err := r.findOne(ctx, bson.M{"_id": conversationID, "members.user_id": userID}); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("退出群组 %d 时并发冲突过多", conversationID)
}

// leavePipeline 移除成员；离开者是管理员时由数组中第一个剩余成员接任。数组顺序即加入顺序。
func leavePipeline(userID uint) mongo.Pipeline {
	return mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"members": bson.M{"$filter": bson.M{
				"input": "$members",
				"as":    "m",
				"cond":  bson.M{"$ne": bson.A{"$$m.user_id", userID}},
			}},
			"updated_at": time.Now(),
		}}},
		{{Key: "$set", Value: bson.M{
			"admin_id": bson.M{"$cond": bson.A{
				bson.M{"$eq": bson.A{"$admin_id", userID}},
				bson.M{"$arrayElemAt": bson.A{"$members.user_id", 0}},
				"$admin_id",
			}},
		}}},
	}
}

func leaveOutcomeFrom(before *mongoConversation, userID uint) *LeaveOutcome {
	outcome := &LeaveOutcome{}
	for _, m := range before.Members {
		if m.UserID != userID {
			outcome.Remaining = append(outcome.Remaining, m.UserID)
		}
	}
	if before.AdminID != nil && *before.AdminID == userID && len(outcome.Remaining) > 0 {
		successor := outcome.Remaining[0]
		outcome.NewAdminID = &successor
	}
	return outcome
}

func (r *mongoConversationRepository) SetAdmin(ctx context.Context, conversationID, adminID uint) error {
	return r.set(ctx, conversationID, bson.M{"admin_id": adminID})
}

func (r *mongoConversationRepository) SetLastMessage(ctx context.Context, conversationID, messageID uint, at time.Time) error {
	res, err := r.coll.UpdateOne(ctx,
		bson.M{
			"_id": conversationID,
			"$or": bson.A{
				bson.M{"last_message_at": bson.M{"$exists": false}},
				bson.M{"last_message_at": nil},
				bson.M{"last_message_at": bson.M{"$lte": at}},
			},
		},
		bson.M{"$set": bson.M{
			"last_message_id": messageID,
			"last_message_at": at,
			"activity_at":     at,
			"updated_at":      time.Now(),
		}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		// 已有更新的消息，或会话不存在
		if _, err := r.findOne(ctx, bson.M{"_id": conversationID}); err != nil {
			return err
		}
	}
	return nil
}

func (r *mongoConversationRepository) set(ctx context.Context, conversationID uint, fields bson.M) error {
	fields["updated_at"] = time.Now()
	res, err := r.coll.UpdateOne(ctx, bson.M{"_id": conversationID}, bson.M{"$set": fields})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *mongoConversationRepository) Delete(ctx context.Context, conversationID uint) error {
	res, err := r.coll.DeleteOne(ctx, bson.M{"_id": conversationID})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Transaction runs fn directly: multi-document transactions need a replica set.
// Each write is a single-document update that carries its own guard in the filter.
func (r *mongoConversationRepository) Transaction(ctx context.Context, fn func(repo ConversationRepository) error) error {
	return fn(r)
}
