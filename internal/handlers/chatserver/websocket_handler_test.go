package chatserver

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/auth"
	"im-relay/internal/config"
	"im-relay/internal/presence"
	ws "im-relay/internal/websocket"
)

func newChatServer(t *testing.T) (*httptest.Server, config.Config) {
	t.Helper()
	cfg := config.Config{Auth: config.AuthConfig{JWTSecretKey: "chat-test-secret", JWTExpiry: time.Hour}}

	registry := presence.NewMemoryRegistry()
	hub := ws.NewHub(registry, 8)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	handler := NewWebSocketHandler(hub, ws.NewRelay(registry, hub, nil), nil, cfg)
	srv := httptest.NewServer(http.HandlerFunc(handler.ServeWS))
	t.Cleanup(func() {
		srv.Close()
		cancel()
	})
	return srv, cfg
}

func wsURL(srv *httptest.Server, query string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chat" + query
}

func TestServeWSRequiresToken(t *testing.T) {
	srv, _ := newChatServer(t)

	_, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	_, resp, err = websocket.DefaultDialer.Dial(wsURL(srv, "?token=garbage"), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestServeWSUpgradesWithValidToken(t *testing.T) {
	srv, cfg := newChatServer(t)
	token, err := auth.GenerateToken(3, "carol", cfg.Auth)
	require.NoError(t, err)

	conn, resp, err := websocket.DefaultDialer.Dial(wsURL(srv, "?token="+token), nil)
	require.NoError(t, err)
	defer conn.Close()
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)

	header := http.Header{"Authorization": []string{"Bearer " + token}}
	conn2, _, err := websocket.DefaultDialer.Dial(wsURL(srv, ""), header)
	require.NoError(t, err)
	conn2.Close()
}
