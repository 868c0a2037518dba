// Package gcs implements an object store backed by Google Cloud Storage.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	gstorage "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"

	"github.com/quantfold/filingstream/internal/storage"
)

// Store roots a flat keyspace at a bucket plus optional prefix.
type Store struct {
	client *gstorage.Client
	bucket string
	prefix string
}

// New returns a store rooted at gs://bucket/prefix.
func New(client *gstorage.Client, bucket, prefix string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Store{
		client: client,
		bucket: bucket,
		prefix: strings.Trim(prefix, "/"),
	}, nil
}

func (s *Store) object(key string) *gstorage.ObjectHandle {
	return s.client.Bucket(s.bucket).Object(storage.JoinKey(s.prefix, key))
}

// ReadBytes downloads the full object.
func (s *Store) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	r, err := s.object(key).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
		}
		return nil, fmt.Errorf("open %s: %w", key, err)
	}
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteBytes uploads the object in one shot. GCS publishes the object only
// when the writer closes cleanly, which gives the atomic-visibility
// guarantee for free.
func (s *Store) WriteBytes(ctx context.Context, key string, data []byte) error {
	w, err := s.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close writer for %s: %w", key, err)
	}
	return nil
}

// Create opens an upload writer. The object becomes visible when Close
// returns nil.
func (s *Store) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return s.object(key).NewWriter(ctx), nil
}

// Open returns a random-access reader over the object. Each ReadAt issues a
// ranged download, which matches how columnar readers touch footers and row
// groups.
func (s *Store) Open(ctx context.Context, key string) (storage.ReaderAtCloser, int64, error) {
	attrs, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return nil, 0, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return &rangeReader{ctx: ctx, obj: s.object(key), size: attrs.Size}, attrs.Size, nil
}

type rangeReader struct {
	ctx  context.Context
	obj  *gstorage.ObjectHandle
	size int64
}

func (r *rangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off >= r.size {
		return 0, io.EOF
	}
	length := int64(len(p))
	if off+length > r.size {
		length = r.size - off
	}
	rd, err := r.obj.NewRangeReader(r.ctx, off, length)
	if err != nil {
		return 0, fmt.Errorf("range read: %w", err)
	}
	defer rd.Close()
	n, err := io.ReadFull(rd, p[:length])
	if err != nil {
		return n, err
	}
	if int64(n) < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (r *rangeReader) Close() error { return nil }

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.object(key).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gstorage.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List returns keys under prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := storage.JoinKey(s.prefix, prefix)
	it := s.client.Bucket(s.bucket).Objects(ctx, &gstorage.Query{Prefix: full})
	var keys []string
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		key := attrs.Name
		if s.prefix != "" {
			key = strings.TrimPrefix(key, s.prefix+"/")
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object. Deleting an absent key is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.object(key).Delete(ctx)
	if err != nil && !errors.Is(err, gstorage.ErrObjectNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the gs:// locator for the key.
func (s *Store) URI(key string) string {
	return fmt.Sprintf("gs://%s/%s", s.bucket, storage.JoinKey(s.prefix, key))
}

var _ storage.Store = (*Store)(nil)
