package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "/ws/chat", cfg.Server.WebSocketPath)
	assert.Equal(t, "gorm", cfg.ChatStore.Backend)
	assert.Equal(t, "im-chat-events", cfg.Kafka.ChatEventsTopic)
	assert.Equal(t, uint32(5), cfg.Kafka.Breaker.MaxFailures)
	assert.Equal(t, 24*time.Hour, cfg.Auth.JWTExpiry)
	assert.Equal(t, 256, cfg.WebSocket.SendBufferSize)
	assert.Equal(t, "/metrics", cfg.Metrics.Path)
}

func TestLoadConfigFileAndEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
DATABASE:
  TYPE: sqlite
  PATH: ":memory:"
CHAT_STORE:
  BACKEND: mongodb
AUTH:
  JWT_EXPIRY: 15m
KAFKA:
  ENABLED: false
`
	require.NoError(t, os.WriteFile(path, []byte(yaml), 0o600))
	t.Setenv("KAFKA_BREAKER_MAX_FAILURES", "9")
	t.Setenv("SERVER_PORT", "9999")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Type)
	assert.Equal(t, ":memory:", cfg.Database.Path)
	assert.Equal(t, "mongodb", cfg.ChatStore.Backend)
	assert.Equal(t, 15*time.Minute, cfg.Auth.JWTExpiry)
	assert.False(t, cfg.Kafka.Enabled)
	assert.Equal(t, uint32(9), cfg.Kafka.Breaker.MaxFailures)
	assert.Equal(t, "9999", cfg.Server.Port)
}
