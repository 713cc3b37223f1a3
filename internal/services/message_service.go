package services

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"im-relay/internal/imtypes"
	"im-relay/internal/models"
	"im-relay/internal/storage"
)

// SendMessageInput 是发送一条持久化消息所需的数据。Content 与 FileURL 至少有一个。
type SendMessageInput struct {
	ConversationID uint
	SenderID       uint
	Content        string
	FileURL        string
	FileName       string
	FileSize       int64
}

// MessageService 定义了消息相关服务的接口。
type MessageService interface {
	SendMessage(ctx context.Context, input SendMessageInput) (*models.Message, error)
	ListMessages(ctx context.Context, userID, conversationID uint, limit, offset int) ([]*models.Message, error)
	// MarkRead 幂等地把 userID 加入消息的已读集合，返回新增的已读记录数
	MarkRead(ctx context.Context, userID uint, messageIDs []uint) (int64, error)
}

type messageService struct {
	msgRepo   storage.MessageRepository
	convoRepo storage.ConversationRepository
	userRepo  storage.UserRepository
	publisher EventPublisher
}

// NewMessageService 创建一个新的 MessageService 实例。
func NewMessageService(msgRepo storage.MessageRepository, convoRepo storage.ConversationRepository, userRepo storage.UserRepository, publisher EventPublisher) MessageService {
	return &messageService{
		msgRepo:   msgRepo,
		convoRepo: convoRepo,
		userRepo:  userRepo,
		publisher: publisher,
	}
}

// SendMessage 创建消息并更新会话的最后消息指针。
func (s *messageService) SendMessage(ctx context.Context, input SendMessageInput) (*models.Message, error) {
	conversation, err := s.convoRepo.GetByID(ctx, input.ConversationID)
	if err != nil {
		return nil, mapStoreError(err, "会话")
	}
	if !conversation.HasMember(input.SenderID) {
		return nil, forbiddenError("不是该会话的成员")
	}
	if strings.TrimSpace(input.Content) == "" && input.FileURL == "" {
		return nil, validationError("消息内容和文件不能同时为空")
	}

	message := &models.Message{
		ConversationID: conversation.ID,
		SenderID:       input.SenderID,
		Type:           models.TextMessageType,
		Content:        input.Content,
		FileURL:        input.FileURL,
		FileName:       input.FileName,
		FileSize:       input.FileSize,
	}
	if input.FileURL != "" {
		message.Type = models.FileMessageType
	}
	if err := s.msgRepo.Create(ctx, message); err != nil {
		return nil, fmt.Errorf("保存消息失败: %w", err)
	}
	// 最后消息指针只会前移；消息已保存，指针更新失败不影响本次发送
	if err := s.convoRepo.SetLastMessage(ctx, conversation.ID, message.ID, message.SentAt); err != nil {
		zap.S().Warnw("更新会话最后消息失败", "conversationId", conversation.ID, "messageId", message.ID, "error", err)
	}

	if sender, err := s.userRepo.GetBasicInfoByID(ctx, input.SenderID); err == nil {
		message.Sender = sender
	}

	publish(ctx, s.publisher, imtypes.ChatEvent{
		Type:           imtypes.ChatEventMessageCreated,
		ConversationID: conversation.ID,
		ActorID:        input.SenderID,
		RecipientIDs:   conversation.MemberIDs(),
		Message:        message,
	})
	return message, nil
}

func (s *messageService) ListMessages(ctx context.Context, userID, conversationID uint, limit, offset int) ([]*models.Message, error) {
	conversation, err := s.convoRepo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, mapStoreError(err, "会话")
	}
	if !conversation.HasMember(userID) {
		return nil, forbiddenError("不是该会话的成员")
	}

	messages, err := s.msgRepo.ListByConversation(ctx, conversationID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("获取消息列表失败: %w", err)
	}

	senderIDs := make([]uint, 0, len(messages))
	for _, m := range messages {
		senderIDs = append(senderIDs, m.SenderID)
	}
	users, err := loadUsers(ctx, s.userRepo, senderIDs)
	if err != nil {
		return nil, err
	}
	for _, m := range messages {
		m.Sender = users[m.SenderID]
	}
	return messages, nil
}

func (s *messageService) MarkRead(ctx context.Context, userID uint, messageIDs []uint) (int64, error) {
	if len(messageIDs) == 0 {
		return 0, validationError("messageIds 不能为空")
	}
	added, err := s.msgRepo.MarkRead(ctx, userID, messageIDs)
	if err != nil {
		return 0, fmt.Errorf("标记已读失败: %w", err)
	}
	return added, nil
}
