package imtypes

import (
	"bytes"
	"encoding/json"
	"strconv"
)

// 实时通道上的事件名
const (
	EventUserOnline          = "user-online"
	EventUserStatus          = "user-status"
	EventSendMessage         = "send-message"
	EventReceiveMessage      = "receive-message"
	EventTyping              = "typing"
	EventConversationUpdated = "conversation-updated"
	EventError               = "error"
)

const (
	StatusOnline  = "online"
	StatusOffline = "offline"
)

// Envelope 是 WebSocket 帧的统一格式。Data 保持原始 JSON，转发时不重新编码。
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserOnlinePayload 是 user-online 的数据。
type UserOnlinePayload struct {
	UserID WireID `json:"userId"`
}

// UserStatusPayload 是服务端广播的在线状态变化。
type UserStatusPayload struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
}

// WireID 是线路上的 ID。规范形式为十进制字符串，也接受 JSON 数字。
type WireID string

func (id *WireID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = WireID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*id = WireID(n.String())
	return nil
}

// Uint 解析为 uint；空值或非法值返回 false。
func (id WireID) Uint() (uint, bool) {
	if id == "" {
		return 0, false
	}
	v, err := strconv.ParseUint(string(id), 10, 32)
	if err != nil || v == 0 {
		return 0, false
	}
	return uint(v), true
}

// RelayTarget 是 send-message 与 typing 中用于路由的字段，其余字段原样转发。
type RelayTarget struct {
	ReceiverID     WireID `json:"receiverId,omitempty"`
	ConversationID WireID `json:"conversationId,omitempty"`
}

// ErrorPayload 用于告知客户端帧无法处理。
type ErrorPayload struct {
	Message string `json:"message"`
}

// NewEnvelope 编码 data 并包装为 Envelope 帧。
func NewEnvelope(event string, data interface{}) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// RawEnvelope 直接拼接帧，data 不经过重新编码，保证转发的字节与收到的一致。
// data 必须是合法 JSON。
func RawEnvelope(event string, data []byte) []byte {
	name, _ := json.Marshal(event)
	buf := make([]byte, 0, len(name)+len(data)+20)
	buf = append(buf, `{"event":`...)
	buf = append(buf, name...)
	if len(data) > 0 {
		buf = append(buf, `,"data":`...)
		buf = append(buf, data...)
	}
	return append(buf, '}')
}
