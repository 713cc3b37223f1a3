package services

import (
	"errors"
	"fmt"

	"im-relay/internal/storage"
)

// 服务层错误分类。具体错误用 fmt.Errorf("%w: ...") 包装以携带可读信息，
// HTTP 层通过 errors.Is 映射状态码。
var (
	ErrValidation = errors.New("参数无效")
	ErrNotFound   = errors.New("资源不存在")
	ErrForbidden  = errors.New("无权执行该操作")
	ErrNotGroup   = errors.New("该会话不是群组")
	ErrConflict   = errors.New("资源冲突")
)

// 认证相关
var (
	ErrUserAlreadyExists  = fmt.Errorf("%w: 用户名或邮箱已存在", ErrConflict)
	ErrInvalidCredentials = errors.New("无效的用户名或密码")
)

func validationError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func forbiddenError(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// mapStoreError 把仓储层的 ErrNotFound 转为服务层错误，其他错误原样包装。
func mapStoreError(err error, what string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return notFoundError("%s不存在", what)
	}
	return fmt.Errorf("查询%s失败: %w", what, err)
}
