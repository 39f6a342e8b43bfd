package storage

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/sakif/clipstream/internal/apperror"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyFromRef(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"https://bucket.s3.us-east-1.amazonaws.com/video-abc.mp4", "video-abc.mp4"},
		{"http://localhost:8080/api/v1/assets/cover-1.png?v=2", "cover-1.png"},
		{"profile-9.jpg", "profile-9.jpg"},
		{"", ""},
		{"https://host/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			assert.Equal(t, tt.want, KeyFromRef(tt.ref))
		})
	}
}

func TestValidKey(t *testing.T) {
	assert.True(t, ValidKey("video-1.mp4"))
	assert.False(t, ValidKey(""))
	assert.False(t, ValidKey(".."))
	assert.False(t, ValidKey("../etc/passwd"))
	assert.False(t, ValidKey(`a\b`))
	assert.False(t, ValidKey(".upload-123"))
}

func TestPrefixOwns(t *testing.T) {
	p := prefix("http://localhost:8080/api/v1/assets/")

	assert.Equal(t, "http://localhost:8080/api/v1/assets/k.png", p.Ref("k.png"))
	assert.True(t, p.Owns("http://localhost:8080/api/v1/assets/k.png"))
	assert.False(t, p.Owns("http://evil.example.com/api/v1/assets/k.png"))
	assert.False(t, p.Owns("http://localhost:8080/api/v1/assets/"))
}

// storeContract runs the behaviour every Store must share.
func storeContract(t *testing.T, s Store) {
	t.Helper()
	ctx := context.Background()

	ref, err := s.Put(ctx, "video-1.mp4", []byte("frames"), "video/mp4")
	require.NoError(t, err)
	assert.Equal(t, s.Ref("video-1.mp4"), ref)
	assert.True(t, s.Owns(ref))
	assert.Equal(t, "video-1.mp4", KeyFromRef(ref))

	body, contentType, err := s.Get(ctx, "video-1.mp4")
	require.NoError(t, err)
	data, _ := io.ReadAll(body)
	body.Close()
	assert.Equal(t, "frames", string(data))
	assert.Equal(t, "video/mp4", contentType)

	require.NoError(t, s.Delete(ctx, "video-1.mp4"))
	// deleting again is a no-op
	require.NoError(t, s.Delete(ctx, "video-1.mp4"))

	_, _, err = s.Get(ctx, "video-1.mp4")
	assert.True(t, errors.Is(err, apperror.ErrNotFound), "Get after delete: %v", err)

	_, err = s.Put(ctx, "../escape", []byte("x"), "text/plain")
	assert.Error(t, err)
}

func TestMemoryStore(t *testing.T) {
	storeContract(t, NewMemoryStore("mem://assets"))
}

func TestDiskStore(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir, "http://localhost/api/v1/assets")
	require.NoError(t, err)

	storeContract(t, s)

	// no temp files left behind
	entries, _ := os.ReadDir(dir)
	assert.Empty(t, entries)
}

func TestDiskStore_OverwriteKeepsLatest(t *testing.T) {
	dir := t.TempDir()
	s, err := NewDiskStore(dir, "http://localhost/api/v1/assets")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = s.Put(ctx, "profile-1.png", []byte("old"), "image/png")
	require.NoError(t, err)
	_, err = s.Put(ctx, "profile-1.png", []byte("new"), "image/png")
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(dir, "profile-1.png"))
	require.NoError(t, err)
	assert.Equal(t, "new", string(data))
}
