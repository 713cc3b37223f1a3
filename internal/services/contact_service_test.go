package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/config"
	"im-relay/internal/storage"
	"im-relay/internal/storage/storagetest"
)

func TestContactService(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.CreateUsers(t, db, 3)
	svc := NewContactService(storage.NewGormContactRepository(db), storage.NewGormUserRepository(db))
	ctx := context.Background()

	_, err := svc.AddContact(ctx, users[0], users[0], "")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.AddContact(ctx, users[0], 999, "")
	assert.ErrorIs(t, err, ErrNotFound)

	added, err := svc.AddContact(ctx, users[0], users[1], "bob")
	require.NoError(t, err)
	require.NotNil(t, added.User)
	assert.Equal(t, "user2", added.User.Username)

	_, err = svc.AddContact(ctx, users[0], users[1], "")
	assert.ErrorIs(t, err, ErrConflict)

	list, err := svc.ListContacts(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "bob", list[0].Name)
	require.NotNil(t, list[0].User)

	require.NoError(t, svc.RemoveContact(ctx, users[0], users[1]))
	assert.ErrorIs(t, svc.RemoveContact(ctx, users[0], users[1]), ErrNotFound)
}

func TestAuthServiceRegisterAndLogin(t *testing.T) {
	db := storagetest.NewDB(t)
	svc := NewAuthService(storage.NewGormUserRepository(db), nil, config.AuthConfig{JWTSecretKey: "k", JWTExpiry: time.Hour})
	ctx := context.Background()

	user, err := svc.Register(ctx, "alice", "", "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.Nickname)

	_, err = svc.Register(ctx, "alice", "", "other@example.com", "secret1")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.Register(ctx, "bob", "", "", "secret1")
	assert.ErrorIs(t, err, ErrValidation)

	token, loggedIn, err := svc.Login(ctx, "alice@example.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.Equal(t, user.ID, loggedIn.ID)

	_, _, err = svc.Login(ctx, "alice", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, _, err = svc.Login(ctx, "nobody", "secret1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestUserSearchRequiresQuery(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.CreateUsers(t, db, 2)
	svc := NewUserService(storage.NewGormUserRepository(db))

	_, err := svc.SearchUsers(context.Background(), " ", users[0])
	assert.ErrorIs(t, err, ErrValidation)

	found, err := svc.SearchUsers(context.Background(), "user", users[0])
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, users[1], found[0].ID)

	me, err := svc.GetUserProfile(context.Background(), users[0])
	require.NoError(t, err)
	assert.Empty(t, me.PasswordHash)
}
