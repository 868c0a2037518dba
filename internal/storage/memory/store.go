// Package memory implements an in-memory object store for tests and
// development.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"

	"github.com/quantfold/filingstream/internal/storage"
)

// Store keeps objects in a map guarded by a mutex.
type Store struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{data: make(map[string][]byte)}
}

// ReadBytes returns a copy of the object content.
func (s *Store) ReadBytes(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.data[key]
	if !ok {
		return nil, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
	}
	return append([]byte(nil), data...), nil
}

// WriteBytes replaces the object.
func (s *Store) WriteBytes(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), data...)
	return nil
}

// Create buffers writes and publishes the object on Close.
func (s *Store) Create(_ context.Context, key string) (io.WriteCloser, error) {
	return &bufWriter{store: s, key: key}, nil
}

type bufWriter struct {
	store *Store
	key   string
	buf   bytes.Buffer
}

func (w *bufWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *bufWriter) Close() error {
	return w.store.WriteBytes(context.Background(), w.key, w.buf.Bytes())
}

// Open returns the object as a random-access reader plus its size.
func (s *Store) Open(ctx context.Context, key string) (storage.ReaderAtCloser, int64, error) {
	data, err := s.ReadBytes(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return nopCloser{bytes.NewReader(data)}, int64(len(data)), nil
}

type nopCloser struct {
	*bytes.Reader
}

func (nopCloser) Close() error { return nil }

// Exists reports whether the key holds an object.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

// List returns keys under prefix in lexicographic order.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var keys []string
	for key := range s.data {
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

// URI returns a memory:// locator for the key.
func (s *Store) URI(key string) string {
	return "memory://" + key
}

// Len reports the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

var _ storage.Store = (*Store)(nil)
