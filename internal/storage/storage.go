// Package storage abstracts the object stores that hold source tables,
// partition files, and checkpoint documents. Backends exist for the local
// filesystem, Google Cloud Storage, and S3-compatible endpoints; commands
// pick one from the locator scheme.
package storage

import (
	"context"
	"errors"
	"io"
	"path"
	"strings"
)

// ErrNotExist reports that the requested object is absent. Backends wrap it
// so callers can branch with errors.Is.
var ErrNotExist = errors.New("object does not exist")

// ReaderAtCloser is what Open returns: random access for columnar readers
// plus a Close to release the handle.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// Store is a flat keyspace rooted at a prefix. Keys are slash-separated and
// relative to the root; URI reconstructs the absolute locator for logs.
type Store interface {
	// ReadBytes returns the full object, or an error wrapping ErrNotExist.
	ReadBytes(ctx context.Context, key string) ([]byte, error)
	// WriteBytes replaces the object. The write is atomic: a partial
	// object is never visible under key.
	WriteBytes(ctx context.Context, key string, data []byte) error
	// Create opens a writer whose content becomes visible only when Close
	// returns nil.
	Create(ctx context.Context, key string) (io.WriteCloser, error)
	// Open returns a random-access reader and the object size.
	Open(ctx context.Context, key string) (ReaderAtCloser, int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	// List returns keys under prefix in lexicographic order.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
	URI(key string) string
}

// SplitBucketLocator parses "<scheme>bucket/prefix" locators such as
// gs://bucket/out or s3://bucket.
func SplitBucketLocator(locator, scheme string) (bucket, prefix string, ok bool) {
	rest := strings.TrimPrefix(locator, scheme)
	rest = strings.Trim(rest, "/")
	if rest == "" {
		return "", "", false
	}
	bucket, prefix, _ = strings.Cut(rest, "/")
	return bucket, prefix, true
}

// SplitObjectLocator splits a locator naming a single object into its parent
// prefix and the object key within it.
func SplitObjectLocator(locator string) (dir, key string) {
	trimmed := strings.TrimRight(locator, "/")
	idx := strings.LastIndex(trimmed, "/")
	if idx < 0 {
		return ".", trimmed
	}
	dir, key = trimmed[:idx], trimmed[idx+1:]
	if dir == "" {
		dir = "/"
	}
	// Keep the scheme's double slash intact for gs:// and s3:// roots.
	if strings.HasSuffix(dir, ":/") {
		dir += "/"
	}
	return dir, key
}

// JoinKey joins key segments with slashes, dropping empty parts.
func JoinKey(parts ...string) string {
	cleaned := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p != "" {
			cleaned = append(cleaned, p)
		}
	}
	return path.Join(cleaned...)
}
