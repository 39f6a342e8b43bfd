// Package storage is the asset store: key-addressed binary objects with
// put, get and delete. It knows nothing about users or videos.
//
// A stored object is referred to from documents by its reference,
// "<url prefix>/<key>". Keys are flat file names, so the key of any
// reference is simply its base name.
package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
)

// Store is implemented by S3Store, DiskStore and MemoryStore.
//
// Delete of a key that does not exist succeeds: releasing an asset twice
// must be harmless so interrupted cascades can be retried.
type Store interface {
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Get(ctx context.Context, key string) (io.ReadCloser, string, error)
	Delete(ctx context.Context, key string) error
	Ref(key string) string
	Owns(ref string) bool
}

// KeyFromRef extracts the object key from a stored reference by taking
// its base file name. Query strings and fragments are ignored.
func KeyFromRef(ref string) string {
	if ref == "" {
		return ""
	}
	if u, err := url.Parse(ref); err == nil && u.Path != "" {
		ref = u.Path
	}
	key := path.Base(ref)
	if key == "." || key == "/" {
		return ""
	}
	return key
}

// ValidKey reports whether key is a flat file name that is safe to use
// as an object key or as a file name under the disk store's root.
func ValidKey(key string) bool {
	if key == "" || key == "." || key == ".." {
		return false
	}
	return !strings.ContainsAny(key, `/\`) && !strings.HasPrefix(key, ".")
}

// prefix builds references for one store.
type prefix string

func (p prefix) Ref(key string) string {
	return strings.TrimSuffix(string(p), "/") + "/" + key
}

func (p prefix) Owns(ref string) bool {
	base := strings.TrimSuffix(string(p), "/") + "/"
	return strings.HasPrefix(ref, base) && ValidKey(KeyFromRef(ref))
}

func checkKey(key string) error {
	if !ValidKey(key) {
		return fmt.Errorf("storage: invalid key %q", key)
	}
	return nil
}
