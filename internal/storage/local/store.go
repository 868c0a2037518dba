// Package local implements a filesystem-backed object store.
package local

import (
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/quantfold/filingstream/internal/storage"
)

// Store roots a flat keyspace at a directory on the local filesystem.
type Store struct {
	baseDir string
}

// New creates the base directory if needed and returns a store rooted there.
func New(baseDir string) (*Store, error) {
	if strings.TrimSpace(baseDir) == "" {
		return nil, fmt.Errorf("base directory is required")
	}
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o750); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &Store{baseDir: abs}, nil
}

// resolve maps a key to an absolute path, rejecting traversal outside the
// base directory.
func (s *Store) resolve(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", fmt.Errorf("key is required")
	}
	full := filepath.Join(s.baseDir, filepath.FromSlash(key))
	if full != s.baseDir && !strings.HasPrefix(full, s.baseDir+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes the store root", key)
	}
	return full, nil
}

// ReadBytes returns the full object content.
func (s *Store) ReadBytes(_ context.Context, key string) ([]byte, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// WriteBytes writes the object through a temp file plus rename so a partial
// object is never visible under key.
func (s *Store) WriteBytes(ctx context.Context, key string, data []byte) error {
	w, err := s.Create(ctx, key)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		w.Close()
		return fmt.Errorf("write %s: %w", key, err)
	}
	return w.Close()
}

// Create opens a temp file next to the destination. Close syncs and renames
// it into place; until then the key stays absent.
func (s *Store) Create(_ context.Context, key string) (io.WriteCloser, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(full), 0o750); err != nil {
		return nil, fmt.Errorf("create parent directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(full), "."+filepath.Base(full)+".tmp-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &commitWriter{file: tmp, dest: full}, nil
}

type commitWriter struct {
	file *os.File
	dest string
}

func (w *commitWriter) Write(p []byte) (int, error) {
	return w.file.Write(p)
}

func (w *commitWriter) Close() error {
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.file.Name())
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(w.file.Name(), w.dest); err != nil {
		os.Remove(w.file.Name())
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// Open returns the file as a random-access reader plus its size.
func (s *Store) Open(_ context.Context, key string) (storage.ReaderAtCloser, int64, error) {
	full, err := s.resolve(key)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(full)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, fmt.Errorf("%s: %w", key, storage.ErrNotExist)
		}
		return nil, 0, fmt.Errorf("open %s: %w", key, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, fmt.Errorf("stat %s: %w", key, err)
	}
	return f, info.Size(), nil
}

// Exists reports whether the key holds an object.
func (s *Store) Exists(_ context.Context, key string) (bool, error) {
	full, err := s.resolve(key)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(full); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat %s: %w", key, err)
	}
	return true, nil
}

// List walks the tree under prefix and returns matching keys sorted.
func (s *Store) List(_ context.Context, prefix string) ([]string, error) {
	var keys []string
	err := filepath.WalkDir(s.baseDir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, relErr := filepath.Rel(s.baseDir, p)
		if relErr != nil {
			return relErr
		}
		key := filepath.ToSlash(rel)
		if prefix == "" || strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", prefix, err)
	}
	sort.Strings(keys)
	return keys, nil
}

// Delete removes the object. Deleting an absent key is not an error.
func (s *Store) Delete(_ context.Context, key string) error {
	full, err := s.resolve(key)
	if err != nil {
		return err
	}
	if err := os.Remove(full); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the absolute filesystem path for the key.
func (s *Store) URI(key string) string {
	return filepath.Join(s.baseDir, filepath.FromSlash(key))
}
