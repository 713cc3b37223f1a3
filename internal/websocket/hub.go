package websocket

import (
	"context"

	"go.uber.org/zap"

	"im-relay/internal/imtypes"
	"im-relay/internal/metrics"
	"im-relay/internal/models"
	"im-relay/internal/presence"
)

type outboundFrame struct {
	connID  string
	event   string
	payload []byte
}

// Hub 持有本进程的所有连接，并在 Run 循环中串行处理连接的注册、上线、注销与投递。
// 用户到连接的映射保存在注入的 presence.Registry 中。
type Hub struct {
	registry presence.Registry

	// 所有打开的连接，按连接 ID 索引；只在 Run 中访问
	clients map[string]*Client

	register   chan *Client
	unregister chan *Client
	// user-online 请求
	online    chan *Client
	outbound  chan outboundFrame
	broadcast chan []byte

	sendBufferSize int
	done           chan struct{}
}

// NewHub creates a new Hub.
func NewHub(registry presence.Registry, sendBufferSize int) *Hub {
	if sendBufferSize <= 0 {
		sendBufferSize = 256
	}
	return &Hub{
		registry:       registry,
		clients:        make(map[string]*Client),
		register:       make(chan *Client),
		unregister:     make(chan *Client),
		online:         make(chan *Client, 64),
		outbound:       make(chan outboundFrame, 1024),
		broadcast:      make(chan []byte, 64),
		sendBufferSize: sendBufferSize,
		done:           make(chan struct{}),
	}
}

// SendTo 把帧排入指定连接的发送队列。Hub 队列已满时丢弃并返回 false。
func (h *Hub) SendTo(connID string, event string, payload []byte) bool {
	select {
	case h.outbound <- outboundFrame{connID: connID, event: event, payload: payload}:
		return true
	default:
		zap.S().Warnw("Hub outbound channel is full, dropping frame", "connId", connID, "event", event)
		metrics.RelayDropped.WithLabelValues(event, "hub_full").Inc()
		return false
	}
}

// Deliver 把同一帧推送给一组用户的当前连接，返回成功排队的数量。
func (h *Hub) Deliver(userIDs []uint, payload []byte) int {
	delivered := 0
	for _, id := range userIDs {
		connID, ok := h.registry.Lookup(id)
		if !ok {
			continue
		}
		if h.SendTo(connID, imtypes.EventConversationUpdated, payload) {
			delivered++
		}
	}
	return delivered
}

func (h *Hub) addClient(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) removeClientAsync(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (h *Hub) markOnline(c *Client) {
	select {
	case h.online <- c:
	case <-h.done:
	}
}

// Broadcast 向所有连接发送一帧。
func (h *Hub) Broadcast(payload []byte) {
	select {
	case h.broadcast <- payload:
	default:
		zap.S().Warn("Hub broadcast channel is full, dropping frame")
	}
}

// Run 处理 Hub 的所有状态变更，直到 ctx 取消。
func (h *Hub) Run(ctx context.Context) {
	zap.S().Info("WebSocket Hub Run loop started.")
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			for _, c := range h.clients {
				h.removeClient(c, false)
			}
			zap.S().Info("WebSocket Hub stopped.")
			return

		case c := <-h.register:
			h.clients[c.ConnID] = c
			metrics.ActiveConnections.Inc()
			zap.S().Debugw("连接已建立", "connId", c.ConnID, "userId", c.UserID)

		case c := <-h.unregister:
			h.removeClient(c, true)

		case c := <-h.online:
			if _, ok := h.clients[c.ConnID]; !ok {
				continue
			}
			h.registry.Register(c.UserID, c.ConnID)
			metrics.OnlineUsers.Set(float64(len(h.registry.OnlineUsers())))
			zap.S().Infow("用户上线", "userId", c.UserID, "connId", c.ConnID)
			h.broadcastStatus(c.UserID, imtypes.StatusOnline, c.ConnID)

		case f := <-h.outbound:
			c, ok := h.clients[f.connID]
			if !ok {
				metrics.RelayDropped.WithLabelValues(f.event, "gone").Inc()
				continue
			}
			if !h.enqueue(c, f.payload) {
				metrics.RelayDropped.WithLabelValues(f.event, "slow_consumer").Inc()
			}

		case payload := <-h.broadcast:
			h.fanOut(payload, "")
		}
	}
}

func (h *Hub) broadcastStatus(userID uint, status string, exceptConnID string) {
	payload, err := imtypes.NewEnvelope(imtypes.EventUserStatus, imtypes.UserStatusPayload{
		UserID: models.FormatID(userID),
		Status: status,
	})
	if err != nil {
		zap.S().Errorw("编码 user-status 失败", "error", err)
		return
	}
	h.fanOut(payload, exceptConnID)
}

func (h *Hub) fanOut(payload []byte, exceptConnID string) {
	var slow []*Client
	for connID, c := range h.clients {
		if connID == exceptConnID {
			continue
		}
		if !h.enqueueNoDrop(c, payload) {
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		zap.S().Warnw("广播时发送队列已满，断开连接", "connId", c.ConnID, "userId", c.UserID)
		h.removeClient(c, true)
	}
}

// enqueue 尝试写入发送队列，队列满的连接被断开。
func (h *Hub) enqueue(c *Client, payload []byte) bool {
	if h.enqueueNoDrop(c, payload) {
		return true
	}
	zap.S().Warnw("发送队列已满，断开连接", "connId", c.ConnID, "userId", c.UserID)
	h.removeClient(c, true)
	return false
}

func (h *Hub) enqueueNoDrop(c *Client, payload []byte) bool {
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

// removeClient 关闭连接的发送队列并注销在线状态。只有当该连接仍是用户的当前连接时才广播下线。
func (h *Hub) removeClient(c *Client, announce bool) {
	if _, ok := h.clients[c.ConnID]; !ok {
		return
	}
	delete(h.clients, c.ConnID)
	close(c.send)
	metrics.ActiveConnections.Dec()

	userID, ok := h.registry.Unregister(c.ConnID)
	if !ok {
		zap.S().Debugw("连接已断开（未上线或已被新连接取代）", "connId", c.ConnID, "userId", c.UserID)
		return
	}
	metrics.OnlineUsers.Set(float64(len(h.registry.OnlineUsers())))
	zap.S().Infow("用户下线", "userId", userID, "connId", c.ConnID)
	if announce {
		h.broadcastStatus(userID, imtypes.StatusOffline, c.ConnID)
	}
}
