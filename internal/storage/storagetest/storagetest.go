// Package storagetest 为其他包的测试提供内存 SQLite 数据库与测试数据。
package storagetest

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"im-relay/internal/config"
	"im-relay/internal/models"
	"im-relay/internal/storage"
)

// NewDB 返回一个已完成迁移的内存 SQLite 数据库，测试结束时关闭。
func NewDB(t testing.TB) *gorm.DB {
	t.Helper()
	db, err := storage.InitDB(config.DatabaseConfig{Type: "sqlite", Path: ":memory:", LogLevel: "silent"})
	require.NoError(t, err)
	require.NoError(t, storage.AutoMigrateTables(db, true))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})
	return db
}

// CreateUsers 按顺序创建名为 user1..userN 的用户并返回它们的 ID。
func CreateUsers(t testing.TB, db *gorm.DB, n int) []uint {
	t.Helper()
	repo := storage.NewGormUserRepository(db)
	ids := make([]uint, 0, n)
	for i := 1; i <= n; i++ {
		user := &models.User{
			Username:     fmt.Sprintf("user%d", i),
			Email:        fmt.Sprintf("user%d@example.com", i),
			Nickname:     fmt.Sprintf("User %d", i),
			PasswordHash: "x",
		}
		require.NoError(t, repo.Create(context.Background(), user))
		ids = append(ids, user.ID)
	}
	return ids
}
