package services

import (
	"context"
	"fmt"
	"strings"

	"im-relay/internal/imtypes"
	"im-relay/internal/models"
	"im-relay/internal/storage"
)

// ConversationService 定义了会话相关服务的接口。
// 返回的会话都已填充 Users、Admin 与 LastMessage。
type ConversationService interface {
	// AccessOneToOne 查找或创建两个用户之间唯一的一对一会话，对参数顺序对称且幂等
	AccessOneToOne(ctx context.Context, userID, targetID uint) (*models.Conversation, error)
	// CreateGroup 创建群组，创建者自动成为成员和管理员
	CreateGroup(ctx context.Context, creatorID uint, name string, memberIDs []uint) (*models.Conversation, error)
	ListConversations(ctx context.Context, userID uint) ([]*models.Conversation, error)
	GetConversation(ctx context.Context, userID, conversationID uint) (*models.Conversation, error)
	// ListMemberIDs 供实时通道的群组转发使用，不做权限检查
	ListMemberIDs(ctx context.Context, conversationID uint) ([]uint, error)
}

type conversationService struct {
	convoRepo storage.ConversationRepository
	msgRepo   storage.MessageRepository
	userRepo  storage.UserRepository
	publisher EventPublisher
}

// NewConversationService 创建一个新的 ConversationService 实例。
func NewConversationService(convoRepo storage.ConversationRepository, msgRepo storage.MessageRepository, userRepo storage.UserRepository, publisher EventPublisher) ConversationService {
	return &conversationService{
		convoRepo: convoRepo,
		msgRepo:   msgRepo,
		userRepo:  userRepo,
		publisher: publisher,
	}
}

func (s *conversationService) AccessOneToOne(ctx context.Context, userID, targetID uint) (*models.Conversation, error) {
	if targetID == 0 {
		return nil, validationError("targetId 不能为空")
	}
	if userID == targetID {
		return nil, validationError("不能与自己创建私聊会话")
	}
	if _, err := s.userRepo.GetBasicInfoByID(ctx, targetID); err != nil {
		return nil, mapStoreError(err, "目标用户")
	}

	conversation, _, err := s.convoRepo.FindOrCreatePrivate(ctx, userID, targetID)
	if err != nil {
		return nil, fmt.Errorf("查找或创建私聊会话失败: %w", err)
	}
	if err := s.populate(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *conversationService) CreateGroup(ctx context.Context, creatorID uint, name string, memberIDs []uint) (*models.Conversation, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, validationError("群组名称不能为空")
	}

	members := groupMembers(creatorID, memberIDs)
	count, err := s.userRepo.CountByIDs(ctx, members)
	if err != nil {
		return nil, fmt.Errorf("校验群成员失败: %w", err)
	}
	if int(count) != len(members) {
		return nil, notFoundError("部分成员用户不存在")
	}

	admin := creatorID
	conversation := &models.Conversation{Name: name, AdminID: &admin}
	if err := s.convoRepo.CreateGroup(ctx, conversation, members); err != nil {
		return nil, fmt.Errorf("创建群组失败: %w", err)
	}
	if err := s.populate(ctx, conversation); err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, imtypes.ChatEvent{
		Type:           imtypes.ChatEventGroupCreated,
		ConversationID: conversation.ID,
		ActorID:        creatorID,
		RecipientIDs:   conversation.MemberIDs(),
	})
	return conversation, nil
}

// groupMembers 去重并保持输入顺序，创建者放在最后。
func groupMembers(creatorID uint, memberIDs []uint) []uint {
	seen := map[uint]bool{creatorID: true}
	members := make([]uint, 0, len(memberIDs)+1)
	for _, id := range memberIDs {
		if id == 0 || seen[id] {
			continue
		}
		seen[id] = true
		members = append(members, id)
	}
	return append(members, creatorID)
}

func (s *conversationService) ListConversations(ctx context.Context, userID uint) ([]*models.Conversation, error) {
	conversations, err := s.convoRepo.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("获取会话列表失败: %w", err)
	}
	if err := s.populate(ctx, conversations...); err != nil {
		return nil, err
	}
	return conversations, nil
}

func (s *conversationService) GetConversation(ctx context.Context, userID, conversationID uint) (*models.Conversation, error) {
	conversation, err := s.convoRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, mapStoreError(err, "会话")
	}
	if !conversation.HasMember(userID) {
		return nil, forbiddenError("不是该会话的成员")
	}
	if err := s.populate(ctx, conversation); err != nil {
		return nil, err
	}
	return conversation, nil
}

func (s *conversationService) ListMemberIDs(ctx context.Context, conversationID uint) ([]uint, error) {
	conversation, err := s.convoRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, mapStoreError(err, "会话")
	}
	return conversation.MemberIDs(), nil
}

// populate 批量解析成员、管理员和最后一条消息，每类只查询一次。
func (s *conversationService) populate(ctx context.Context, conversations ...*models.Conversation) error {
	if len(conversations) == 0 {
		return nil
	}

	userIDs := make([]uint, 0)
	lastIDs := make([]uint, 0)
	for _, c := range conversations {
		userIDs = append(userIDs, c.MemberIDs()...)
		if c.AdminID != nil {
			userIDs = append(userIDs, *c.AdminID)
		}
		if c.LastMessageID != nil {
			lastIDs = append(lastIDs, *c.LastMessageID)
		}
	}

	lastMessages, err := s.msgRepo.GetByIDs(ctx, lastIDs)
	if err != nil {
		return fmt.Errorf("获取最后一条消息失败: %w", err)
	}
	messagesByID := make(map[uint]*models.Message, len(lastMessages))
	for _, m := range lastMessages {
		messagesByID[m.ID] = m
		userIDs = append(userIDs, m.SenderID)
	}

	users, err := loadUsers(ctx, s.userRepo, userIDs)
	if err != nil {
		return err
	}

	for _, c := range conversations {
		c.Users = make([]*models.UserBasicInfo, 0, len(c.Members))
		for _, id := range c.MemberIDs() {
			if info, ok := users[id]; ok {
				c.Users = append(c.Users, info)
			}
		}
		if c.AdminID != nil {
			c.Admin = users[*c.AdminID]
		}
		if c.LastMessageID != nil {
			if m, ok := messagesByID[*c.LastMessageID]; ok {
				m.Sender = users[m.SenderID]
				c.LastMessage = m
			}
		}
	}
	return nil
}

func loadUsers(ctx context.Context, userRepo storage.UserRepository, ids []uint) (map[uint]*models.UserBasicInfo, error) {
	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}
	infos, err := userRepo.GetMultipleBasicInfoByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("获取用户信息失败: %w", err)
	}
	users := make(map[uint]*models.UserBasicInfo, len(infos))
	for _, info := range infos {
		users[info.ID] = info
	}
	return users, nil
}
