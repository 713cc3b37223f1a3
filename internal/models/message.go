package models

import "time"

// MessageType 定义了存储在数据库中的消息类型。
type MessageType string

const (
	TextMessageType MessageType = "text"
	FileMessageType MessageType = "file"
)

// Message 代表存储在数据库中的聊天消息。创建后只有已读集合会变化。
type Message struct {
	BaseModel
	ConversationID uint        `gorm:"index;not null" json:"conversationId"`
	SenderID       uint        `gorm:"index;not null" json:"senderId"`
	Type           MessageType `gorm:"type:varchar(20);not null;default:'text'" json:"type"`
	Content        string      `gorm:"type:text" json:"content"`
	FileURL        string      `gorm:"type:varchar(512)" json:"fileUrl,omitempty"`
	FileName       string      `gorm:"type:varchar(255)" json:"fileName,omitempty"`
	FileSize       int64       `json:"fileSize,omitempty"`
	SentAt         time.Time   `gorm:"not null;index" json:"sentAt"`

	// ReadBy 由 message_reads 表物化
	ReadBy []uint         `gorm:"-" json:"readBy"`
	Sender *UserBasicInfo `gorm:"-" json:"sender,omitempty"`
}

// TableName 指定 Message 模型的表名。
func (Message) TableName() string {
	return "messages"
}

// MessageRead 记录某个用户已读某条消息；联合主键保证集合语义。
type MessageRead struct {
	MessageID uint      `gorm:"primaryKey;autoIncrement:false" json:"messageId"`
	UserID    uint      `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	ReadAt    time.Time `json:"readAt"`
}

// TableName 指定 MessageRead 模型的表名。
func (MessageRead) TableName() string {
	return "message_reads"
}
