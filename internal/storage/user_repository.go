package storage

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"im-relay/internal/models"
)

// UserRepository 定义了用户数据操作的接口。
type UserRepository interface {
	Create(ctx context.Context, user *models.User) error
	GetByID(ctx context.Context, id uint) (*models.User, error)
	GetByUsername(ctx context.Context, username string) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	Update(ctx context.Context, user *models.User) error
	// SearchUsers 按用户名/邮箱/昵称模糊匹配（大小写不敏感），排除当前用户
	SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]*models.UserBasicInfo, error)
	GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error)
	GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error)
	// CountByIDs 返回给定 ID 中实际存在的用户数量
	CountByIDs(ctx context.Context, userIDs []uint) (int64, error)
}

// gormUserRepository 使用 GORM 实现 UserRepository。
type gormUserRepository struct {
	db *gorm.DB
}

// NewGormUserRepository 创建一个新的基于 GORM 的 UserRepository。
func NewGormUserRepository(db *gorm.DB) UserRepository {
	return &gormUserRepository{db: db}
}

var basicInfoColumns = []string{"id", "username", "email", "nickname", "avatar_url"}

func (r *gormUserRepository) Create(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Create(user).Error
}

func (r *gormUserRepository) GetByID(ctx context.Context, id uint) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translateGormError(err)
	}
	return &user, nil
}

func (r *gormUserRepository) GetByUsername(ctx context.Context, username string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("username = ?", username).First(&user).Error; err != nil {
		return nil, translateGormError(err)
	}
	return &user, nil
}

func (r *gormUserRepository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	if err := r.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translateGormError(err)
	}
	return &user, nil
}

func (r *gormUserRepository) Update(ctx context.Context, user *models.User) error {
	return r.db.WithContext(ctx).Save(user).Error
}

func (r *gormUserRepository) SearchUsers(ctx context.Context, query string, currentUserID uint, limit int) ([]*models.UserBasicInfo, error) {
	users := make([]*models.UserBasicInfo, 0)
	db := r.db.WithContext(ctx).Model(&models.User{}).Select(basicInfoColumns).Where("id <> ?", currentUserID)

	if query = strings.TrimSpace(query); query != "" {
		term := "%" + strings.ToLower(query) + "%"
		db = db.Where("(LOWER(username) LIKE ? OR LOWER(email) LIKE ? OR LOWER(nickname) LIKE ?)", term, term, term)
	}
	if limit > 0 {
		db = db.Limit(limit)
	}

	if err := db.Order("id ASC").Find(&users).Error; err != nil {
		return nil, err
	}
	return users, nil
}

func (r *gormUserRepository) GetBasicInfoByID(ctx context.Context, id uint) (*models.UserBasicInfo, error) {
	var info models.UserBasicInfo
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select(basicInfoColumns).
		Where("id = ?", id).
		First(&info).Error
	if err != nil {
		return nil, translateGormError(err)
	}
	return &info, nil
}

func (r *gormUserRepository) GetMultipleBasicInfoByIDs(ctx context.Context, userIDs []uint) ([]*models.UserBasicInfo, error) {
	infos := make([]*models.UserBasicInfo, 0, len(userIDs))
	if len(userIDs) == 0 {
		return infos, nil
	}
	err := r.db.WithContext(ctx).
		Model(&models.User{}).
		Select(basicInfoColumns).
		Where("id IN ?", userIDs).
		Find(&infos).Error
	if err != nil {
		return nil, err
	}
	return infos, nil
}

func (r *gormUserRepository) CountByIDs(ctx context.Context, userIDs []uint) (int64, error) {
	if len(userIDs) == 0 {
		return 0, nil
	}
	var count int64
	err := r.db.WithContext(ctx).Model(&models.User{}).Where("id IN ?", userIDs).Count(&count).Error
	return count, err
}
