package auth

import (
	"context"
	"time"
)

// TokenBlacklist 存放已登出令牌的 jti，条目在令牌原本的过期时间后失效。
type TokenBlacklist interface {
	Add(ctx context.Context, jti string, originalTokenExpTime time.Time) error
	IsBlacklisted(ctx context.Context, jti string) (bool, error)
}
