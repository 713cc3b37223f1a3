package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/config"
)

type memoryBlacklist map[string]time.Time

func (m memoryBlacklist) Add(_ context.Context, jti string, exp time.Time) error {
	m[jti] = exp
	return nil
}

func (m memoryBlacklist) IsBlacklisted(_ context.Context, jti string) (bool, error) {
	_, ok := m[jti]
	return ok, nil
}

var testAuthConfig = config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: time.Hour}

func TestGenerateAndValidateToken(t *testing.T) {
	token, err := GenerateToken(7, "alice", testAuthConfig)
	require.NoError(t, err)

	claims, err := ValidateToken(context.Background(), token, "secret", memoryBlacklist{})
	require.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "alice", claims.Username)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateTokenRejectsWrongKeyAndExpired(t *testing.T) {
	token, err := GenerateToken(7, "alice", testAuthConfig)
	require.NoError(t, err)
	_, err = ValidateToken(context.Background(), token, "other", nil)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired, err := GenerateToken(7, "alice", config.AuthConfig{JWTSecretKey: "secret", JWTExpiry: -time.Minute})
	require.NoError(t, err)
	_, err = ValidateToken(context.Background(), expired, "secret", nil)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestValidateTokenRejectsRevoked(t *testing.T) {
	token, err := GenerateToken(7, "alice", testAuthConfig)
	require.NoError(t, err)
	bl := memoryBlacklist{}
	claims, err := ValidateToken(context.Background(), token, "secret", bl)
	require.NoError(t, err)

	require.NoError(t, bl.Add(context.Background(), claims.ID, claims.ExpiresAt.Time))
	_, err = ValidateToken(context.Background(), token, "secret", bl)
	assert.ErrorIs(t, err, ErrTokenRevoked)
}

func TestPasswordHash(t *testing.T) {
	hash, err := HashPassword("p@ss")
	require.NoError(t, err)
	assert.True(t, CheckPasswordHash("p@ss", hash))
	assert.False(t, CheckPasswordHash("nope", hash))
}
