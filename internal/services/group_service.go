package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"im-relay/internal/imtypes"
	"im-relay/internal/models"
	"im-relay/internal/storage"
)

// LeaveResult 描述 Leave 之后群组的状态。
type LeaveResult struct {
	Deleted    bool   `json:"deleted"`
	NewAdminID *uint  `json:"newAdminId,omitempty"`
	Message    string `json:"message"`
}

// GroupService 管理群组会话的成员与管理员。
// 群组任何时候都恰好有一个管理员，且管理员一定是成员；成员为空时群组被删除。
type GroupService interface {
	AddMember(ctx context.Context, actorID, conversationID, userID uint) (*models.Conversation, error)
	RemoveMember(ctx context.Context, actorID, conversationID, targetID uint) (*models.Conversation, error)
	Leave(ctx context.Context, userID, conversationID uint) (*LeaveResult, error)
}

type groupService struct {
	convoRepo storage.ConversationRepository
	userRepo  storage.UserRepository
	publisher EventPublisher
}

// NewGroupService 创建一个新的 GroupService 实例。
func NewGroupService(convoRepo storage.ConversationRepository, userRepo storage.UserRepository, publisher EventPublisher) GroupService {
	return &groupService{convoRepo: convoRepo, userRepo: userRepo, publisher: publisher}
}

func (s *groupService) loadGroup(ctx context.Context, repo storage.ConversationRepository, conversationID uint) (*models.Conversation, error) {
	conversation, err := repo.GetByID(ctx, conversationID)
	if err != nil {
		return nil, mapStoreError(err, "会话")
	}
	if !conversation.IsGroup {
		return nil, fmt.Errorf("%w: 会话 %d 是一对一会话", ErrNotGroup, conversationID)
	}
	return conversation, nil
}

// AddMember 与 RemoveMember 在事务内读取群组，读取会锁定会话直到写入完成，
// 所以权限与成员检查不会被并发的退群改变。
func (s *groupService) AddMember(ctx context.Context, actorID, conversationID, userID uint) (*models.Conversation, error) {
	// 用户仓储不在会话事务内，先查询，错误按检查顺序在事务内报告
	_, userErr := s.userRepo.GetBasicInfoByID(ctx, userID)

	var updated *models.Conversation
	err := s.convoRepo.Transaction(ctx, func(repo storage.ConversationRepository) error {
		group, err := s.loadGroup(ctx, repo, conversationID)
		if err != nil {
			return err
		}
		if !group.IsAdmin(actorID) {
			return forbiddenError("只有管理员可以添加成员")
		}
		if group.HasMember(userID) {
			return fmt.Errorf("%w: 用户已是群成员", ErrConflict)
		}
		if userErr != nil {
			return mapStoreError(userErr, "用户")
		}

		if err := repo.AddMember(ctx, conversationID, userID, group.NextSeq()); err != nil {
			if errors.Is(err, storage.ErrDuplicate) {
				return fmt.Errorf("%w: 用户已是群成员", ErrConflict)
			}
			return fmt.Errorf("添加群成员失败: %w", err)
		}

		if updated, err = repo.GetByID(ctx, conversationID); err != nil {
			return mapStoreError(err, "会话")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, imtypes.ChatEvent{
		Type:           imtypes.ChatEventMemberAdded,
		ConversationID: conversationID,
		ActorID:        actorID,
		TargetUserID:   userID,
		RecipientIDs:   updated.MemberIDs(),
	})
	return updated, nil
}

func (s *groupService) RemoveMember(ctx context.Context, actorID, conversationID, targetID uint) (*models.Conversation, error) {
	var updated *models.Conversation
	err := s.convoRepo.Transaction(ctx, func(repo storage.ConversationRepository) error {
		group, err := s.loadGroup(ctx, repo, conversationID)
		if err != nil {
			return err
		}
		if !group.IsAdmin(actorID) {
			return forbiddenError("只有管理员可以移除成员")
		}
		if group.IsAdmin(targetID) {
			return forbiddenError("不能移除管理员，管理员需要退出群组")
		}
		if !group.HasMember(targetID) {
			return notFoundError("用户不是群成员")
		}

		if err := repo.RemoveMember(ctx, conversationID, targetID); err != nil {
			return mapStoreError(err, "群成员")
		}

		if updated, err = repo.GetByID(ctx, conversationID); err != nil {
			return mapStoreError(err, "会话")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	publish(ctx, s.publisher, imtypes.ChatEvent{
		Type:           imtypes.ChatEventMemberRemoved,
		ConversationID: conversationID,
		ActorID:        actorID,
		TargetUserID:   targetID,
		// 被移除的人也需要知道
		RecipientIDs: append(updated.MemberIDs(), targetID),
	})
	return updated, nil
}

// Leave 的管理员移交、成员移除与空群删除由仓储的 LeaveGroup 一次原子完成。
func (s *groupService) Leave(ctx context.Context, userID, conversationID uint) (*LeaveResult, error) {
	group, err := s.loadGroup(ctx, s.convoRepo, conversationID)
	if err != nil {
		return nil, err
	}
	if !group.HasMember(userID) {
		return nil, notFoundError("用户不是群成员")
	}

	outcome, err := s.convoRepo.LeaveGroup(ctx, conversationID, userID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			// 并发的退群或移除已经先完成
			return nil, notFoundError("用户不是群成员")
		}
		return nil, fmt.Errorf("退出群组失败: %w", err)
	}

	result := &LeaveResult{Deleted: outcome.Deleted, NewAdminID: outcome.NewAdminID}
	if result.Deleted {
		result.Message = "Group deleted"
		zap.S().Infow("群组已无成员，已删除", "conversationId", conversationID)
		publish(ctx, s.publisher, imtypes.ChatEvent{
			Type:           imtypes.ChatEventGroupDeleted,
			ConversationID: conversationID,
			ActorID:        userID,
			RecipientIDs:   []uint{userID},
		})
		return result, nil
	}

	result.Message = "Left group successfully"
	publish(ctx, s.publisher, imtypes.ChatEvent{
		Type:           imtypes.ChatEventMemberLeft,
		ConversationID: conversationID,
		ActorID:        userID,
		TargetUserID:   userID,
		RecipientIDs:   outcome.Remaining,
	})
	return result, nil
}
