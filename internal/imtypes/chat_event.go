package imtypes

import "time"

// ChatEventType 标识 apiserver 发布到 Kafka 的会话变更。
type ChatEventType string

const (
	ChatEventMessageCreated ChatEventType = "message.created"
	ChatEventGroupCreated   ChatEventType = "group.created"
	ChatEventMemberAdded    ChatEventType = "group.member_added"
	ChatEventMemberRemoved  ChatEventType = "group.member_removed"
	ChatEventMemberLeft     ChatEventType = "group.member_left"
	ChatEventGroupDeleted   ChatEventType = "group.deleted"
)

// ChatEvent 是 chat events topic 上的消息体，key 为会话 ID。
// RecipientIDs 是事件发生时应被通知的用户（不一定仍是成员，例如被移除的人）。
type ChatEvent struct {
	Type           ChatEventType `json:"type"`
	ConversationID uint          `json:"conversationId"`
	ActorID        uint          `json:"actorId"`
	RecipientIDs   []uint        `json:"recipientIds"`
	TargetUserID   uint          `json:"targetUserId,omitempty"`
	Message        interface{}   `json:"message,omitempty"`
	OccurredAt     time.Time     `json:"occurredAt"`
}
