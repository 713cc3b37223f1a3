package models

import (
	"strconv"
	"time"
)

// BaseModel 是所有持久化模型的公共字段。
// 聊天数据不做软删除: 群组解散时会话被物理删除，消息永不删除。
type BaseModel struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// FormatID formats any model id in its wire form.
func FormatID(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
