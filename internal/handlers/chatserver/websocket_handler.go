package chatserver

import (
	"errors"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"im-relay/internal/auth"
	"im-relay/internal/config"
	ws "im-relay/internal/websocket"
)

// WebSocketHandler 负责认证并升级实时通道连接。
type WebSocketHandler struct {
	hub       *ws.Hub
	relay     *ws.Relay
	blacklist auth.TokenBlacklist
	cfg       config.Config
}

// NewWebSocketHandler 创建一个新的 WebSocketHandler 实例。
func NewWebSocketHandler(hub *ws.Hub, relay *ws.Relay, blacklist auth.TokenBlacklist, cfg config.Config) *WebSocketHandler {
	return &WebSocketHandler{
		hub:       hub,
		relay:     relay,
		blacklist: blacklist,
		cfg:       cfg,
	}
}

// ServeWS 校验令牌后把连接交给 Hub。
// 浏览器的 WebSocket API 不能设置请求头，因此令牌优先取查询参数 token，其次是 Authorization 头。
func (h *WebSocketHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		if header := r.Header.Get("Authorization"); len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
			token = strings.TrimSpace(header[7:])
		}
	}
	if token == "" {
		http.Error(w, "缺少认证令牌", http.StatusUnauthorized)
		return
	}

	claims, err := auth.ValidateToken(r.Context(), token, h.cfg.Auth.JWTSecretKey, h.blacklist)
	if err != nil {
		if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrTokenRevoked) {
			zap.S().Infow("WebSocket 连接被拒绝", "remote", r.RemoteAddr, "error", err)
			http.Error(w, "令牌无效", http.StatusUnauthorized)
			return
		}
		zap.S().Errorw("WebSocket 令牌校验失败", "error", err)
		http.Error(w, "暂时无法校验令牌", http.StatusServiceUnavailable)
		return
	}

	zap.S().Debugw("用户连接 WebSocket", "userId", claims.UserID, "username", claims.Username)
	ws.ServeWs(h.hub, h.relay, claims.UserID, w, r, h.cfg.WebSocket)
}
