// Package checkpoint persists run progress as a single JSON document next to
// the output partitions. The completed-identifier set in that document is the
// only thing a resumed run consults when deciding what to skip; it is updated
// strictly after the partition holding those records has been sealed.
package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/quantfold/filingstream/internal/metrics"
	"github.com/quantfold/filingstream/internal/pipeline"
	"github.com/quantfold/filingstream/internal/storage"
)

// DefaultKey is the checkpoint object name under the output prefix.
const DefaultKey = "_checkpoint.json"

// ErrLocked reports that another live run holds the overlap guard for this
// output prefix.
var ErrLocked = errors.New("checkpoint locked by another run")

// document is the on-disk shape. Completed stays sorted so the file diffs
// cleanly between runs.
type document struct {
	Version          int      `json:"version"`
	Completed        []string `json:"completed"`
	LastPartitionSeq int      `json:"last_partition_seq"`
	UpdatedAtUnix    int64    `json:"updated_at_unix"`
}

// lockDocument marks a live run against the output prefix.
type lockDocument struct {
	RunID          string `json:"run_id"`
	AcquiredAtUnix int64  `json:"acquired_at_unix"`
}

// Options configure the store.
type Options struct {
	// Key is the checkpoint object key, DefaultKey when empty.
	Key string
	// LockTTL is how long a lock file counts as live before it is treated
	// as debris from a crashed run. Defaults to two hours.
	LockTTL time.Duration
	// DisableLock turns Acquire/Release into no-ops.
	DisableLock bool
	Clock       pipeline.Clock
	Logger      *zap.Logger
}

// Store implements pipeline.CheckpointStore on top of a storage.Store.
type Store struct {
	store   storage.Store
	key     string
	lockKey string
	ttl     time.Duration
	noLock  bool
	clock   pipeline.Clock
	logger  *zap.Logger

	mu     sync.Mutex
	loaded bool
	doc    document
}

// New builds a Store rooted at the given object store.
func New(store storage.Store, opts Options) *Store {
	key := opts.Key
	if key == "" {
		key = DefaultKey
	}
	ttl := opts.LockTTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := opts.Clock
	if clock == nil {
		clock = realClock{}
	}
	return &Store{
		store:   store,
		key:     key,
		lockKey: lockKeyFor(key),
		ttl:     ttl,
		noLock:  opts.DisableLock,
		clock:   clock,
		logger:  logger,
	}
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

// lockKeyFor places the lock file next to the checkpoint document.
func lockKeyFor(key string) string {
	ext := path.Ext(key)
	return strings.TrimSuffix(key, ext) + ".lock"
}

// Load reads the checkpoint document. An absent document yields a fresh
// state with no completions and LastSeq -1; an unreadable one is fatal, so a
// run never silently refetches everything over a corrupted file.
func (s *Store) Load(ctx context.Context) (pipeline.CheckpointState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.store.ReadBytes(ctx, s.key)
	if errors.Is(err, storage.ErrNotExist) {
		s.doc = document{Version: 1, LastPartitionSeq: -1}
		s.loaded = true
		s.logger.Info("no checkpoint found, starting fresh",
			zap.String("uri", s.store.URI(s.key)))
		return pipeline.CheckpointState{Completed: map[string]struct{}{}, LastSeq: -1}, nil
	}
	if err != nil {
		return pipeline.CheckpointState{}, fmt.Errorf("read checkpoint %s: %w", s.store.URI(s.key), err)
	}

	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return pipeline.CheckpointState{}, fmt.Errorf("corrupt checkpoint %s: %w", s.store.URI(s.key), err)
	}
	if doc.Version != 1 {
		return pipeline.CheckpointState{}, fmt.Errorf("checkpoint %s: unsupported version %d", s.store.URI(s.key), doc.Version)
	}

	s.doc = doc
	s.loaded = true

	state := pipeline.CheckpointState{
		Completed: make(map[string]struct{}, len(doc.Completed)),
		LastSeq:   doc.LastPartitionSeq,
	}
	for _, id := range doc.Completed {
		state.Completed[id] = struct{}{}
	}
	s.logger.Info("loaded checkpoint",
		zap.String("uri", s.store.URI(s.key)),
		zap.Int("completed", len(state.Completed)),
		zap.Int("last_partition_seq", state.LastSeq))
	return state, nil
}

// RecordCompletion marks ids complete and advances the partition sequence,
// then rewrites the document in one atomic put.
func (s *Store) RecordCompletion(ctx context.Context, ids []string, seq int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.loaded {
		return fmt.Errorf("checkpoint: RecordCompletion before Load")
	}

	set := make(map[string]struct{}, len(s.doc.Completed)+len(ids))
	for _, id := range s.doc.Completed {
		set[id] = struct{}{}
	}
	for _, id := range ids {
		if id != "" {
			set[id] = struct{}{}
		}
	}
	completed := make([]string, 0, len(set))
	for id := range set {
		completed = append(completed, id)
	}
	sort.Strings(completed)

	s.doc.Version = 1
	s.doc.Completed = completed
	if seq > s.doc.LastPartitionSeq {
		s.doc.LastPartitionSeq = seq
	}
	s.doc.UpdatedAtUnix = s.clock.Now().Unix()

	data, err := json.MarshalIndent(s.doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}
	if err := s.store.WriteBytes(ctx, s.key, data); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", s.store.URI(s.key), err)
	}
	metrics.IncCheckpointWrite()
	s.logger.Debug("checkpoint updated",
		zap.Int("completed", len(completed)),
		zap.Int("last_partition_seq", s.doc.LastPartitionSeq))
	return nil
}

// AcquireLock claims the overlap guard for this output prefix. A live lock
// held by another run returns ErrLocked; a lock older than the TTL is
// treated as left over from a crash and replaced. Storage hiccups while
// checking are logged and ignored, the guard is best-effort.
func (s *Store) AcquireLock(ctx context.Context, runID string) error {
	if s.noLock {
		return nil
	}

	data, err := s.store.ReadBytes(ctx, s.lockKey)
	switch {
	case errors.Is(err, storage.ErrNotExist):
		// Free to claim.
	case err != nil:
		s.logger.Warn("could not inspect checkpoint lock, proceeding without guard",
			zap.String("uri", s.store.URI(s.lockKey)), zap.Error(err))
	default:
		var held lockDocument
		if jsonErr := json.Unmarshal(data, &held); jsonErr == nil {
			age := s.clock.Now().Sub(time.Unix(held.AcquiredAtUnix, 0))
			if age < s.ttl {
				return fmt.Errorf("%w: run %s holds %s (age %s, ttl %s)",
					ErrLocked, held.RunID, s.store.URI(s.lockKey), age.Round(time.Second), s.ttl)
			}
			s.logger.Warn("replacing stale checkpoint lock",
				zap.String("stale_run_id", held.RunID),
				zap.Duration("age", age))
		}
	}

	doc := lockDocument{RunID: runID, AcquiredAtUnix: s.clock.Now().Unix()}
	data, err = json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode checkpoint lock: %w", err)
	}
	if err := s.store.WriteBytes(ctx, s.lockKey, data); err != nil {
		s.logger.Warn("could not write checkpoint lock, proceeding without guard",
			zap.String("uri", s.store.URI(s.lockKey)), zap.Error(err))
		return nil
	}
	s.logger.Info("acquired checkpoint lock",
		zap.String("run_id", runID),
		zap.String("uri", s.store.URI(s.lockKey)))
	return nil
}

// ReleaseLock removes the lock file. Missing files are fine; a crashed run
// that never released is handled by the TTL on the next acquire.
func (s *Store) ReleaseLock(ctx context.Context) error {
	if s.noLock {
		return nil
	}
	if err := s.store.Delete(ctx, s.lockKey); err != nil && !errors.Is(err, storage.ErrNotExist) {
		return fmt.Errorf("release checkpoint lock %s: %w", s.store.URI(s.lockKey), err)
	}
	return nil
}

var _ pipeline.CheckpointStore = (*Store)(nil)
