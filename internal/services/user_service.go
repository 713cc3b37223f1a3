package services

import (
	"context"
	"strings"

	"im-relay/internal/models"
	"im-relay/internal/storage"
)

const searchResultLimit = 20

// UserService 定义了用户相关服务的接口。
type UserService interface {
	GetUserProfile(ctx context.Context, userID uint) (*models.User, error)
	// SearchUsers 按用户名、邮箱或昵称搜索，结果不包含当前用户
	SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserBasicInfo, error)
}

type userService struct {
	userRepo storage.UserRepository
}

// NewUserService 创建一个新的 UserService 实例。
func NewUserService(userRepo storage.UserRepository) UserService {
	return &userService{userRepo: userRepo}
}

func (s *userService) GetUserProfile(ctx context.Context, userID uint) (*models.User, error) {
	user, err := s.userRepo.GetByID(ctx, userID)
	if err != nil {
		return nil, mapStoreError(err, "用户")
	}
	user.PasswordHash = ""
	return user, nil
}

func (s *userService) SearchUsers(ctx context.Context, query string, currentUserID uint) ([]*models.UserBasicInfo, error) {
	if strings.TrimSpace(query) == "" {
		return nil, validationError("搜索关键字不能为空")
	}
	return s.userRepo.SearchUsers(ctx, query, currentUserID, searchResultLimit)
}
