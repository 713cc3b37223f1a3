package storage

import (
	"context"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"im-relay/internal/models"
)

// ContactRepository 定义了联系人（通讯录）数据操作的接口。
type ContactRepository interface {
	// Add 添加联系人；(owner, contact) 已存在时返回 ErrDuplicate
	Add(ctx context.Context, contact *models.Contact) error
	List(ctx context.Context, ownerID uint) ([]*models.Contact, error)
	// Remove 删除联系人，返回是否确实删除了记录
	Remove(ctx context.Context, ownerID, contactID uint) (bool, error)
}

type gormContactRepository struct {
	db *gorm.DB
}

// NewGormContactRepository 创建一个新的基于 GORM 的 ContactRepository。
func NewGormContactRepository(db *gorm.DB) ContactRepository {
	return &gormContactRepository{db: db}
}

func (r *gormContactRepository) Add(ctx context.Context, contact *models.Contact) error {
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner_id"}, {Name: "contact_id"}},
			DoNothing: true,
		}).
		Create(contact)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicate
	}
	return nil
}

func (r *gormContactRepository) List(ctx context.Context, ownerID uint) ([]*models.Contact, error) {
	contacts := make([]*models.Contact, 0)
	err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at ASC, id ASC").
		Find(&contacts).Error
	return contacts, err
}

func (r *gormContactRepository) Remove(ctx context.Context, ownerID, contactID uint) (bool, error) {
	res := r.db.WithContext(ctx).
		Where("owner_id = ? AND contact_id = ?", ownerID, contactID).
		Delete(&models.Contact{})
	return res.RowsAffected > 0, res.Error
}
