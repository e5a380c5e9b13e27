package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/juju/mutex/v2"
	"github.com/kebairia/snapkeep/internal/logger"
)

var (
	// ErrNotFound is returned when a snapshot id is not in the index.
	ErrNotFound = errors.New("snapshot not found")
	// ErrDuplicate is returned when appending an id that already exists.
	ErrDuplicate = errors.New("snapshot id already recorded")
	// ErrLocked is returned when the index writer lock cannot be acquired.
	ErrLocked = errors.New("snapshot index is locked")
)

// Hooks overridable by tests.
var (
	renameFile = os.Rename
	createTemp = os.CreateTemp
)

const (
	DefaultLockTimeout = 30 * time.Second
	lockDelay          = 20 * time.Millisecond
)

type Option func(*Store)

func WithLogger(l logger.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// WithLockTimeout bounds how long a writer waits for another process.
func WithLockTimeout(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.lockTimeout = d
		}
	}
}

func WithClock(c clock.Clock) Option {
	return func(s *Store) { s.clock = c }
}

// Store owns the SnapshotIndex of one backup directory. Writers are
// serialized in-process by a mutex and across processes by a named machine
// lock; readers see either the previous or the next complete index because
// every write is published by rename.
type Store struct {
	dir         string
	path        string
	lockName    string
	lockTimeout time.Duration
	clock       clock.Clock
	log         logger.Logger

	mu sync.Mutex
}

func NewStore(dir string, opts ...Option) *Store {
	path := filepath.Join(dir, IndexFilename)
	s := &Store{
		dir:         dir,
		path:        path,
		lockName:    lockName(path),
		lockTimeout: DefaultLockTimeout,
		clock:       clock.WallClock,
		log:         logger.Global(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Path is the index file location.
func (s *Store) Path() string { return s.path }

// Load returns the last fully written index. A missing index is empty. An
// index that fails to parse is renamed to IndexFilename+".bak" and an empty
// index is returned: history recorded in it becomes unreachable through the
// store, although the archives it describes stay on disk.
func (s *Store) Load() (Index, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load()
}

func (s *Store) load() (Index, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return NewIndex(), nil
	}
	if err != nil {
		return Index{}, fmt.Errorf("read index %q: %w", s.path, err)
	}

	var idx Index
	if err := json.Unmarshal(data, &idx); err != nil {
		bak := s.path + CorruptSuffix
		s.log.Warn("snapshot index is corrupt, starting empty",
			"path", s.path,
			"moved_to", bak,
			"error", err.Error(),
		)
		if rerr := renameFile(s.path, bak); rerr != nil {
			return Index{}, fmt.Errorf("move corrupt index aside: %w", rerr)
		}
		return NewIndex(), nil
	}
	if idx.Backups == nil {
		idx.Backups = []Snapshot{}
	}
	if idx.ConfigVersion == "" {
		idx.ConfigVersion = ConfigVersion
	}
	return idx, nil
}

// Save replaces the index with idx.
func (s *Store) Save(idx Index) error {
	return s.Update(func(cur *Index) error {
		*cur = idx
		return nil
	})
}

// Append records snap. A differential snapshot's base must already be
// recorded.
func (s *Store) Append(snap Snapshot) error {
	return s.Update(func(idx *Index) error {
		if _, ok := idx.Find(snap.ID); ok {
			return fmt.Errorf("%w: %s", ErrDuplicate, snap.ID)
		}
		if snap.Kind == Differential {
			if _, ok := idx.Find(snap.DifferentialBaseID); !ok {
				return fmt.Errorf("%w: differential base %q", ErrNotFound, snap.DifferentialBaseID)
			}
		}
		idx.Backups = append(idx.Backups, snap)
		return nil
	})
}

// Remove drops the records for ids. Unknown ids are ignored.
func (s *Store) Remove(ids ...string) error {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	return s.Update(func(idx *Index) error {
		kept := idx.Backups[:0]
		for _, b := range idx.Backups {
			if !drop[b.ID] {
				kept = append(kept, b)
			}
		}
		idx.Backups = kept
		return nil
	})
}

// Get returns the record for id.
func (s *Store) Get(id string) (Snapshot, error) {
	idx, err := s.Load()
	if err != nil {
		return Snapshot{}, err
	}
	snap, ok := idx.Find(id)
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return snap, nil
}

// List returns every record in append order.
func (s *Store) List() ([]Snapshot, error) {
	idx, err := s.Load()
	if err != nil {
		return nil, err
	}
	return idx.Backups, nil
}

// Update runs a locked load-modify-save cycle. fn's error aborts without
// writing.
func (s *Store) Update(fn func(*Index) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	release, err := s.acquire()
	if err != nil {
		return err
	}
	defer release()

	idx, err := s.load()
	if err != nil {
		return err
	}
	if err := fn(&idx); err != nil {
		return err
	}
	return s.write(idx)
}

func (s *Store) acquire() (func(), error) {
	r, err := mutex.Acquire(mutex.Spec{
		Name:    s.lockName,
		Clock:   s.clock,
		Delay:   lockDelay,
		Timeout: s.lockTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, s.path, err)
	}
	return r.Release, nil
}

// write publishes idx through a temp file and rename.
func (s *Store) write(idx Index) (err error) {
	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("ensure index directory %q: %w", s.dir, err)
	}
	data, err := json.MarshalIndent(idx, "", "    ")
	if err != nil {
		return fmt.Errorf("encode index: %w", err)
	}

	tmp, err := createTemp(s.dir, ".tmp-"+IndexFilename+"-*")
	if err != nil {
		return fmt.Errorf("create temp index: %w", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmpPath)
		}
	}()

	if _, err = tmp.Write(data); err != nil {
		return fmt.Errorf("write temp index: %w", err)
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp index: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp index: %w", err)
	}
	if err = renameFile(tmpPath, s.path); err != nil {
		return fmt.Errorf("publish index: %w", err)
	}
	return nil
}

// lockName derives a machine-wide mutex name from the index path. Names
// must match ^[a-z]+[a-z0-9.-]*$.
func lockName(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	sum := sha256.Sum256([]byte(abs))
	return "snapkeep-" + hex.EncodeToString(sum[:8])
}
