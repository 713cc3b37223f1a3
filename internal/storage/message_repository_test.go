package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/models"
	"im-relay/internal/storage"
	"im-relay/internal/storage/storagetest"
)

func TestMessageListIsChronological(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	base := time.Now()
	inserts := []struct {
		content string
		offset  time.Duration
	}{
		{"second", time.Second},
		{"first", 0},
		{"third", 2 * time.Second},
	}
	for _, in := range inserts {
		msg := &models.Message{ConversationID: 1, SenderID: 1, Type: models.TextMessageType, Content: in.content, SentAt: base.Add(in.offset)}
		require.NoError(t, repo.Create(ctx, msg))
		assert.Equal(t, []uint{}, msg.ReadBy)
	}
	require.NoError(t, repo.Create(ctx, &models.Message{ConversationID: 2, SenderID: 1, Content: "elsewhere"}))

	list, err := repo.ListByConversation(ctx, 1, 0, 0)
	require.NoError(t, err)
	require.Len(t, list, 3)
	assert.Equal(t, "first", list[0].Content)
	assert.Equal(t, "second", list[1].Content)
	assert.Equal(t, "third", list[2].Content)

	page, err := repo.ListByConversation(ctx, 1, 1, 1)
	require.NoError(t, err)
	require.Len(t, page, 1)
	assert.Equal(t, "second", page[0].Content)
}

func TestMarkReadHasSetSemantics(t *testing.T) {
	db := storagetest.NewDB(t)
	repo := storage.NewGormMessageRepository(db)
	ctx := context.Background()

	msg := &models.Message{ConversationID: 1, SenderID: 1, Content: "hi"}
	require.NoError(t, repo.Create(ctx, msg))

	added, err := repo.MarkRead(ctx, 2, []uint{msg.ID, 9999})
	require.NoError(t, err)
	assert.EqualValues(t, 1, added)

	added, err = repo.MarkRead(ctx, 2, []uint{msg.ID})
	require.NoError(t, err)
	assert.EqualValues(t, 0, added)

	_, err = repo.MarkRead(ctx, 3, []uint{msg.ID})
	require.NoError(t, err)

	loaded, err := repo.GetByID(ctx, msg.ID)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uint{2, 3}, loaded.ReadBy)

	_, err = repo.GetByID(ctx, 9999)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}
