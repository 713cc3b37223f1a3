package storage

import (
	"errors"

	"gorm.io/gorm"
)

var (
	// ErrNotFound 由所有仓储实现返回，屏蔽底层驱动的差异。
	ErrNotFound = errors.New("记录不存在")
	// ErrDuplicate 表示唯一约束冲突（例如重复添加联系人）。
	ErrDuplicate = errors.New("记录已存在")
)

func translateGormError(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
