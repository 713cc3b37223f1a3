package websocket

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"im-relay/internal/imtypes"
	"im-relay/internal/metrics"
	"im-relay/internal/presence"
)

// ConnectionSender 把帧排入某个连接的发送队列。
type ConnectionSender interface {
	SendTo(connID string, event string, payload []byte) bool
}

// MemberLister 枚举会话成员，用于群组的实时转发。
type MemberLister interface {
	ListMemberIDs(ctx context.Context, conversationID uint) ([]uint, error)
}

// Relay 转发 send-message 与 typing。它不写库，持久化由 REST 接口完成；
// 接收方不在线时直接丢弃，不重试也不排队。
type Relay struct {
	registry presence.Registry
	sender   ConnectionSender
	members  MemberLister
}

// NewRelay 创建 Relay。members 为 nil 时只支持一对一转发。
func NewRelay(registry presence.Registry, sender ConnectionSender, members MemberLister) *Relay {
	return &Relay{registry: registry, sender: sender, members: members}
}

// RelaySend 以 receive-message 转发 data，返回排队成功的连接数。
func (r *Relay) RelaySend(ctx context.Context, senderID uint, data json.RawMessage) int {
	return r.relay(ctx, imtypes.EventSendMessage, imtypes.EventReceiveMessage, senderID, data)
}

// RelayTyping 以 typing 转发输入提示。
func (r *Relay) RelayTyping(ctx context.Context, senderID uint, data json.RawMessage) int {
	return r.relay(ctx, imtypes.EventTyping, imtypes.EventTyping, senderID, data)
}

func (r *Relay) relay(ctx context.Context, inEvent, outEvent string, senderID uint, data json.RawMessage) int {
	var target imtypes.RelayTarget
	if err := json.Unmarshal(data, &target); err != nil {
		zap.S().Debugw("无法解析转发目标", "event", inEvent, "senderId", senderID, "error", err)
		metrics.RelayDropped.WithLabelValues(inEvent, "malformed").Inc()
		return 0
	}

	recipients := r.recipients(ctx, inEvent, senderID, target)
	if len(recipients) == 0 {
		return 0
	}

	frame := imtypes.RawEnvelope(outEvent, data)
	forwarded := 0
	for _, userID := range recipients {
		connID, ok := r.registry.Lookup(userID)
		if !ok {
			metrics.RelayDropped.WithLabelValues(inEvent, "offline").Inc()
			continue
		}
		if r.sender.SendTo(connID, outEvent, frame) {
			metrics.RelayForwarded.WithLabelValues(inEvent).Inc()
			forwarded++
		}
	}
	return forwarded
}

// recipients 优先使用 receiverId；只有 conversationId 时按群成员（除发送者）转发。
func (r *Relay) recipients(ctx context.Context, event string, senderID uint, target imtypes.RelayTarget) []uint {
	if receiverID, ok := target.ReceiverID.Uint(); ok {
		return []uint{receiverID}
	}

	conversationID, ok := target.ConversationID.Uint()
	if !ok || r.members == nil {
		metrics.RelayDropped.WithLabelValues(event, "no_target").Inc()
		return nil
	}

	members, err := r.members.ListMemberIDs(ctx, conversationID)
	if err != nil {
		zap.S().Debugw("获取会话成员失败", "conversationId", conversationID, "error", err)
		metrics.RelayDropped.WithLabelValues(event, "no_target").Inc()
		return nil
	}

	isMember := false
	others := make([]uint, 0, len(members))
	for _, id := range members {
		if id == senderID {
			isMember = true
			continue
		}
		others = append(others, id)
	}
	if !isMember {
		zap.S().Warnw("非成员尝试向会话转发", "conversationId", conversationID, "senderId", senderID)
		metrics.RelayDropped.WithLabelValues(event, "not_member").Inc()
		return nil
	}
	return others
}
