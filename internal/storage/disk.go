package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"

	"github.com/sakif/clipstream/internal/apperror"
)

var _ Store = (*DiskStore)(nil)

// DiskStore keeps assets as files in one directory. It is the default
// when no S3 bucket is configured, and the server exposes it under
// /api/v1/assets/{key}.
type DiskStore struct {
	dir string
	prefix
}

func NewDiskStore(dir, urlPrefix string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("storage: creating asset dir %s: %w", dir, err)
	}
	return &DiskStore{dir: dir, prefix: prefix(urlPrefix)}, nil
}

// Put writes to a temporary file and renames it into place, so a reader
// never sees a half-written asset.
func (d *DiskStore) Put(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := checkKey(key); err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	tmp, err := os.CreateTemp(d.dir, ".upload-*")
	if err != nil {
		return "", fmt.Errorf("storage: creating temp file: %w", err)
	}
	defer os.Remove(tmp.Name()) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("storage: writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("storage: closing %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, key)); err != nil {
		return "", fmt.Errorf("storage: storing %s: %w", key, err)
	}

	return d.Ref(key), nil
}

func (d *DiskStore) Get(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := checkKey(key); err != nil {
		return nil, "", err
	}

	f, err := os.Open(filepath.Join(d.dir, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", apperror.NotFound("asset", key)
		}
		return nil, "", fmt.Errorf("storage: opening %s: %w", key, err)
	}

	contentType := mime.TypeByExtension(filepath.Ext(key))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return f, contentType, nil
}

func (d *DiskStore) Delete(ctx context.Context, key string) error {
	if err := checkKey(key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(d.dir, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("storage: deleting %s: %w", key, err)
	}
	return nil
}
