package services

import (
	"context"
	"errors"
	"fmt"

	"im-relay/internal/models"
	"im-relay/internal/storage"
)

// ContactService 管理用户的通讯录。添加联系人是单向的，不需要对方确认。
type ContactService interface {
	AddContact(ctx context.Context, ownerID, contactID uint, name string) (*models.Contact, error)
	ListContacts(ctx context.Context, ownerID uint) ([]*models.Contact, error)
	RemoveContact(ctx context.Context, ownerID, contactID uint) error
}

type contactService struct {
	contactRepo storage.ContactRepository
	userRepo    storage.UserRepository
}

// NewContactService 创建一个新的 ContactService 实例。
func NewContactService(contactRepo storage.ContactRepository, userRepo storage.UserRepository) ContactService {
	return &contactService{contactRepo: contactRepo, userRepo: userRepo}
}

func (s *contactService) AddContact(ctx context.Context, ownerID, contactID uint, name string) (*models.Contact, error) {
	if ownerID == contactID {
		return nil, validationError("不能添加自己为联系人")
	}
	info, err := s.userRepo.GetBasicInfoByID(ctx, contactID)
	if err != nil {
		return nil, mapStoreError(err, "用户")
	}

	contact := &models.Contact{OwnerID: ownerID, ContactID: contactID, Name: name}
	if err := s.contactRepo.Add(ctx, contact); err != nil {
		if errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("%w: 联系人已存在", ErrConflict)
		}
		return nil, fmt.Errorf("添加联系人失败: %w", err)
	}
	contact.User = info
	return contact, nil
}

func (s *contactService) ListContacts(ctx context.Context, ownerID uint) ([]*models.Contact, error) {
	contacts, err := s.contactRepo.List(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("获取联系人列表失败: %w", err)
	}
	ids := make([]uint, 0, len(contacts))
	for _, c := range contacts {
		ids = append(ids, c.ContactID)
	}
	infos, err := s.userRepo.GetMultipleBasicInfoByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("获取联系人信息失败: %w", err)
	}
	byID := make(map[uint]*models.UserBasicInfo, len(infos))
	for _, info := range infos {
		byID[info.ID] = info
	}
	for _, c := range contacts {
		c.User = byID[c.ContactID]
	}
	return contacts, nil
}

func (s *contactService) RemoveContact(ctx context.Context, ownerID, contactID uint) error {
	removed, err := s.contactRepo.Remove(ctx, ownerID, contactID)
	if err != nil {
		return fmt.Errorf("删除联系人失败: %w", err)
	}
	if !removed {
		return notFoundError("联系人不存在")
	}
	return nil
}
