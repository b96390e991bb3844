package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/coursehub/pkg/domain"
)

func TestNewFilesystemBlobStore(t *testing.T) {
	t.Run("creates root directory", func(t *testing.T) {
		rootDir := filepath.Join(t.TempDir(), "blobs")

		store, err := NewFilesystemBlobStore(rootDir)
		require.NoError(t, err)
		require.NotNil(t, store)

		info, err := os.Stat(rootDir)
		require.NoError(t, err)
		assert.True(t, info.IsDir())
	})

	t.Run("accepts existing directory", func(t *testing.T) {
		_, err := NewFilesystemBlobStore(t.TempDir())
		require.NoError(t, err)
	})
}

func TestFilesystemBlobStore_PutGet(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	handle, err := store.Put(ctx, []byte("%PDF-1.7"), "application/pdf", "pdf/7-syllabus.pdf")
	require.NoError(t, err)
	assert.Equal(t, Handle("pdf/7-syllabus.pdf"), handle)

	data, contentType, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, []byte("%PDF-1.7"), data)
	assert.Equal(t, "application/pdf", contentType)
}

func TestFilesystemBlobStore_DefaultsContentType(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	handle, err := store.Put(ctx, []byte{1, 2, 3}, "", "")
	require.NoError(t, err)
	assert.NotEmpty(t, handle)

	_, contentType, err := store.Get(ctx, handle)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", contentType)
}

func TestFilesystemBlobStore_GetMissing(t *testing.T) {
	store, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	_, _, err = store.Get(context.Background(), "uploads/nope.png")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestFilesystemBlobStore_RejectsTraversal(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	for _, handle := range []string{"../etc/passwd", "/abs/path", "a/../../b", "a//b", "x.meta"} {
		t.Run(handle, func(t *testing.T) {
			_, err := store.Put(ctx, []byte("x"), "text/plain", handle)
			assert.ErrorIs(t, err, domain.ErrInvalidInput)

			_, _, err = store.Get(ctx, Handle(handle))
			assert.ErrorIs(t, err, domain.ErrInvalidInput)
		})
	}
}

func TestFilesystemBlobStore_Delete(t *testing.T) {
	ctx := context.Background()
	store, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)

	handle, err := store.Put(ctx, []byte("img"), "image/png", "image/1-cover.png")
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, handle))
	_, _, err = store.Get(ctx, handle)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	// deleting twice is fine
	assert.NoError(t, store.Delete(ctx, handle))
}

func TestFilesystemBlobStore_HealthCheck(t *testing.T) {
	store, err := NewFilesystemBlobStore(t.TempDir())
	require.NoError(t, err)
	assert.NoError(t, store.HealthCheck(context.Background()))
}

func TestBlobKey(t *testing.T) {
	tests := []struct {
		prefix string
		name   string
		want   string
	}{
		{"uploads", "notes.pdf", "uploads/notes.pdf"},
		{"uploads/", "my notes.pdf", "uploads/my_notes.pdf"},
		{"image", "../../etc/passwd", "image/passwd"},
		{"video", `C:\Users\ana\intro.mp4`, "video/intro.mp4"},
		{"", "plain.txt", "plain.txt"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BlobKey(tt.prefix, tt.name)
			assert.Equal(t, tt.want, got)
			assert.NoError(t, ValidateHandle(Handle(got)))
		})
	}

	generated := BlobKey("uploads", "")
	assert.Len(t, generated, len("uploads/")+36)
}
