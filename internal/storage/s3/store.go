// Package s3 implements an object store backed by any S3-compatible
// endpoint via the MinIO client.
package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"

	"github.com/quantfold/filingstream/internal/storage"
)

// Store roots a flat keyspace at a bucket plus optional prefix.
type Store struct {
	client *minio.Client
	bucket string
	prefix string
}

// New returns a store rooted at s3://bucket/prefix.
func New(client *minio.Client, bucket, prefix string) (*Store, error) {
	if client == nil {
		return nil, fmt.Errorf("s3 client is required")
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

func (s *Store) key(key string) string {
	return storage.JoinKey(s.prefix, key)
}

func isNoSuchKey(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == 404
}

// ReadBytes downloads the full object.
func (s *Store) ReadBytes(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get %s: %w", key, err)
	}
	defer obj.Close()
	data, err := io.ReadAll(obj)
	if err != nil {
		if isNoSuchKey(err) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteBytes uploads the object in a single PUT, which S3 applies atomically.
func (s *Store) WriteBytes(ctx context.Context, key string, data []byte) error {
	_, err := s.client.PutObject(ctx, s.bucket, s.key(key), bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{})
	if err != nil {
		return fmt.Errorf("put %s: %w", key, err)
	}
	return nil
}

// Create opens a streaming upload through a pipe. The object becomes
// visible when Close returns nil.
func (s *Store) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		_, err := s.client.PutObject(ctx, s.bucket, s.key(key), pr, -1, minio.PutObjectOptions{})
		if err != nil {
			pr.CloseWithError(err)
		}
		done <- err
	}()
	return &pipeWriter{pw: pw, done: done, key: key}, nil
}

type pipeWriter struct {
	pw   *io.PipeWriter
	done chan error
	key  string
}

func (w *pipeWriter) Write(p []byte) (int, error) {
	return w.pw.Write(p)
}

func (w *pipeWriter) Close() error {
	if err := w.pw.Close(); err != nil {
		return err
	}
	if err := <-w.done; err != nil {
		return fmt.Errorf("put %s: %w", w.key, err)
	}
	return nil
}

// Open returns the object as a random-access reader plus its size.
func (s *Store) Open(ctx context.Context, key string) (storage.ReaderAtCloser, int64, error) {
	info, err := s.client.StatObject(ctx, s.bucket, s.key(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return nil, 0, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	obj, err := s.client.GetObject(ctx, s.bucket, s.key(key), minio.GetObjectOptions{})
	if err != nil {
		return nil, 0, fmt.Errorf("get %s: %w", key, err)
	}
	return obj, info.Size, nil
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, s.key(key), minio.StatObjectOptions{})
	if err != nil {
		if isNoSuchKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List returns keys under prefix in lexicographic order.
func (s *Store) List(ctx context.Context, prefix string) ([]string, error) {
	full := storage.JoinKey(s.prefix, prefix)
	opts := minio.ListObjectsOptions{Prefix: full, Recursive: true}
	var keys []string
	for info := range s.client.ListObjects(ctx, s.bucket, opts) {
		if info.Err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, info.Err)
		}
		key := info.Key
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
	err := s.client.RemoveObject(ctx, s.bucket, s.key(key), minio.RemoveObjectOptions{})
	if err != nil && !isNoSuchKey(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the s3:// locator for the key.
func (s *Store) URI(key string) string {
	return fmt.Sprintf("s3://%s/%s", s.bucket, s.key(key))
}

var _ storage.Store = (*Store)(nil)
