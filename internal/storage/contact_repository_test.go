package storage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/models"
	"im-relay/internal/storage"
	"im-relay/internal/storage/storagetest"
)

func TestContactRepository(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.CreateUsers(t, db, 3)
	repo := storage.NewGormContactRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Add(ctx, &models.Contact{OwnerID: users[0], ContactID: users[1]}))
	require.NoError(t, repo.Add(ctx, &models.Contact{OwnerID: users[0], ContactID: users[2], Name: "老王"}))
	assert.ErrorIs(t, repo.Add(ctx, &models.Contact{OwnerID: users[0], ContactID: users[1]}), storage.ErrDuplicate)

	contacts, err := repo.List(ctx, users[0])
	require.NoError(t, err)
	require.Len(t, contacts, 2)
	assert.Equal(t, users[1], contacts[0].ContactID)
	assert.Equal(t, "老王", contacts[1].Name)

	removed, err := repo.Remove(ctx, users[0], users[1])
	require.NoError(t, err)
	assert.True(t, removed)
	removed, err = repo.Remove(ctx, users[0], users[1])
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestUserSearchExcludesSelf(t *testing.T) {
	db := storagetest.NewDB(t)
	users := storagetest.CreateUsers(t, db, 3)
	repo := storage.NewGormUserRepository(db)
	ctx := context.Background()

	found, err := repo.SearchUsers(ctx, "USER", users[0], 10)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, users[1], found[0].ID)

	found, err = repo.SearchUsers(ctx, "user3@", users[0], 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "user3", found[0].Username)

	count, err := repo.CountByIDs(ctx, []uint{users[0], users[2], 999})
	require.NoError(t, err)
	assert.EqualValues(t, 2, count)

	_, err = repo.GetBasicInfoByID(ctx, 999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
