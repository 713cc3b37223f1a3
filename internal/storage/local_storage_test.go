package storage

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"im-relay/internal/config"
)

func TestLocalStorageUploadAndDelete(t *testing.T) {
	dir := t.TempDir()
	svc, err := NewLocalStorageService(config.StorageConfig{LocalPath: dir, BaseURL: "/uploads/"})
	require.NoError(t, err)

	body := "hello file"
	info, err := svc.UploadFile(context.Background(), strings.NewReader(body), int64(len(body)), "notes.txt", "text/plain")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(info.URL, "/uploads/"))
	assert.True(t, strings.HasSuffix(info.URL, ".txt"))
	assert.Equal(t, "notes.txt", info.FileName)
	assert.EqualValues(t, len(body), info.Size)

	data, err := os.ReadFile(info.Path)
	require.NoError(t, err)
	assert.Equal(t, body, string(data))

	require.NoError(t, svc.DeleteFile(context.Background(), info.Path))
	_, err = os.Stat(info.Path)
	assert.True(t, os.IsNotExist(err))
}

func TestLocalStorageRejectsSizeMismatch(t *testing.T) {
	svc, err := NewLocalStorageService(config.StorageConfig{LocalPath: t.TempDir(), BaseURL: "/uploads"})
	require.NoError(t, err)
	_, err = svc.UploadFile(context.Background(), strings.NewReader("abc"), 10, "a.bin", "application/octet-stream")
	assert.Error(t, err)
}
