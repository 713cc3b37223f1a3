package models

import (
	"fmt"
	"time"
)

// Conversation 代表一个聊天会话（一对一或群组）。
//
// 一对一会话恰好有两个成员且没有管理员，PairKey 为 "小ID:大ID"，
// 数据库上的唯一索引保证同一对用户最多只有一个一对一会话。
// 群组会话 PairKey 为 NULL，始终有且只有一个管理员，且管理员必须是成员。
type Conversation struct {
	BaseModel
	IsGroup bool    `gorm:"not null;default:false;index" json:"isGroup"`
	Name    string  `gorm:"type:varchar(255)" json:"name,omitempty"`
	AdminID *uint   `gorm:"index" json:"adminId,omitempty"`
	PairKey *string `gorm:"type:varchar(64);uniqueIndex" json:"-"`

	// 反规范化字段，用于会话列表按最近活动排序
	LastMessageID *uint      `json:"lastMessageId,omitempty"`
	LastMessageAt *time.Time `gorm:"index" json:"lastMessageAt,omitempty"`

	// Members 按 Seq 升序排列，即存储的成员顺序
	Members []ConversationMember `gorm:"foreignKey:ConversationID" json:"-"`

	// 以下字段由服务层填充，不入库
	Users       []*UserBasicInfo `gorm:"-" json:"users,omitempty"`
	Admin       *UserBasicInfo   `gorm:"-" json:"admin,omitempty"`
	LastMessage *Message         `gorm:"-" json:"lastMessage,omitempty"`
}

// TableName 指定 Conversation 模型的表名。
func (Conversation) TableName() string {
	return "conversations"
}

// ConversationMember 将用户链接到会话。Seq 记录加入顺序，管理员移交时按它挑选继任者。
type ConversationMember struct {
	ConversationID uint      `gorm:"primaryKey;autoIncrement:false" json:"conversationId"`
	UserID         uint      `gorm:"primaryKey;autoIncrement:false;index" json:"userId"`
	Seq            int       `gorm:"not null" json:"seq"`
	JoinedAt       time.Time `json:"joinedAt"`
}

// TableName 指定 ConversationMember 模型的表名。
func (ConversationMember) TableName() string {
	return "conversation_members"
}

// PairKeyFor returns the canonical key of the one-to-one conversation between two users.
func PairKeyFor(userID1, userID2 uint) string {
	if userID1 > userID2 {
		userID1, userID2 = userID2, userID1
	}
	return fmt.Sprintf("%d:%d", userID1, userID2)
}

// MemberIDs returns member ids in stored order.
func (c *Conversation) MemberIDs() []uint {
	ids := make([]uint, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.UserID)
	}
	return ids
}

// HasMember reports whether userID is currently a member.
func (c *Conversation) HasMember(userID uint) bool {
	for _, m := range c.Members {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

// IsAdmin reports whether userID is the group's admin.
func (c *Conversation) IsAdmin(userID uint) bool {
	return c.AdminID != nil && *c.AdminID == userID
}

// NextSeq returns the sequence number for a member appended now.
func (c *Conversation) NextSeq() int {
	next := 0
	for _, m := range c.Members {
		if m.Seq >= next {
			next = m.Seq + 1
		}
	}
	return next
}

// Successor picks the member that takes over as admin when leaverID leaves:
// the first member in stored order that is not the leaver.
func (c *Conversation) Successor(leaverID uint) (uint, bool) {
	for _, m := range c.Members {
		if m.UserID != leaverID {
			return m.UserID, true
		}
	}
	return 0, false
}
