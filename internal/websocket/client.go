package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"im-relay/internal/config"
	"im-relay/internal/imtypes"
	"im-relay/internal/metrics"
)

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub   *Hub
	relay *Relay

	conn *websocket.Conn

	// Buffered channel of outbound frames. Hub 负责关闭。
	send chan []byte

	// ConnID 是本次连接的唯一标识，注册到 presence 中
	ConnID string
	// UserID 来自令牌，不信任客户端上报的 userId
	UserID uint

	limiter *rate.Limiter
	cfg     config.WebSocketConfig
}

func (c *Client) pongWait() time.Duration {
	return time.Duration(c.cfg.PongWaitSeconds) * time.Second
}

func (c *Client) writeWait() time.Duration {
	return time.Duration(c.cfg.WriteWaitSeconds) * time.Second
}

// readPump 读取客户端帧并分派；连接出错或关闭即视为 disconnect。
func (c *Client) readPump() {
	defer func() {
		c.hub.removeClientAsync(c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(int64(c.cfg.MaxMessageSizeBytes))
	c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.pongWait()))
		return nil
	})

	for {
		messageType, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				zap.S().Infow("WebSocket 连接异常关闭", "userId", c.UserID, "connId", c.ConnID, "error", err)
			}
			return
		}
		if messageType != websocket.TextMessage {
			zap.S().Debugw("忽略非文本帧", "userId", c.UserID, "type", messageType)
			continue
		}

		var env imtypes.Envelope
		if err := json.Unmarshal(raw, &env); err != nil {
			zap.S().Debugw("无法解析客户端帧", "userId", c.UserID, "error", err)
			c.reply(imtypes.ErrorPayload{Message: "invalid frame"})
			continue
		}
		if c.limiter != nil && !c.limiter.Allow() {
			metrics.RelayDropped.WithLabelValues(env.Event, "rate_limited").Inc()
			c.reply(imtypes.ErrorPayload{Message: "rate limit exceeded"})
			continue
		}
		c.dispatch(env)
	}
}

func (c *Client) dispatch(env imtypes.Envelope) {
	ctx := context.Background()
	switch env.Event {
	case imtypes.EventUserOnline:
		var payload imtypes.UserOnlinePayload
		if len(env.Data) > 0 && json.Unmarshal(env.Data, &payload) == nil {
			if claimed, ok := payload.UserID.Uint(); ok && claimed != c.UserID {
				zap.S().Warnw("user-online 中的 userId 与令牌不一致，使用令牌身份", "claimed", claimed, "userId", c.UserID)
			}
		}
		c.hub.markOnline(c)
	case imtypes.EventSendMessage:
		c.relay.RelaySend(ctx, c.UserID, env.Data)
	case imtypes.EventTyping:
		c.relay.RelayTyping(ctx, c.UserID, env.Data)
	default:
		zap.S().Debugw("忽略未知事件", "event", env.Event, "userId", c.UserID)
	}
}

// reply 给当前连接发送错误帧。
func (c *Client) reply(payload imtypes.ErrorPayload) {
	frame, err := imtypes.NewEnvelope(imtypes.EventError, payload)
	if err != nil {
		return
	}
	c.hub.SendTo(c.ConnID, imtypes.EventError, frame)
}

// writePump pumps frames from the hub to the websocket connection, one frame per message.
func (c *Client) writePump() {
	ticker := time.NewTicker(time.Duration(c.cfg.PingPeriodSeconds) * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.writeWait()))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// withDefaults 填补未配置的连接参数。
func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.WriteWaitSeconds <= 0 {
		cfg.WriteWaitSeconds = 10
	}
	if cfg.PongWaitSeconds <= 0 {
		cfg.PongWaitSeconds = 60
	}
	if cfg.PingPeriodSeconds <= 0 || cfg.PingPeriodSeconds >= cfg.PongWaitSeconds {
		cfg.PingPeriodSeconds = cfg.PongWaitSeconds * 9 / 10
	}
	if cfg.MaxMessageSizeBytes <= 0 {
		cfg.MaxMessageSizeBytes = 64 * 1024
	}
	return cfg
}

// ServeWs 升级已认证的请求并启动读写协程。userID 必须已由调用方从令牌中解析。
func ServeWs(hub *Hub, relay *Relay, userID uint, w http.ResponseWriter, r *http.Request, wsCfg config.WebSocketConfig) {
	wsCfg = withDefaults(wsCfg)
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		zap.S().Warnw("WebSocket upgrade 失败", "userId", userID, "error", err)
		return
	}

	client := &Client{
		hub:    hub,
		relay:  relay,
		conn:   conn,
		send:   make(chan []byte, hub.sendBufferSize),
		ConnID: uuid.NewString(),
		UserID: userID,
		cfg:    wsCfg,
	}
	if wsCfg.EventsPerSecond > 0 {
		burst := wsCfg.EventBurst
		if burst <= 0 {
			burst = wsCfg.EventsPerSecond
		}
		client.limiter = rate.NewLimiter(rate.Limit(wsCfg.EventsPerSecond), burst)
	}

	if !hub.addClient(client) {
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()

	zap.S().Debugw("客户端已连接", "userId", userID, "connId", client.ConnID)
}
