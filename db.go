package madb

import (
	"errors"
	"os"
	"sort"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// DB is the main database handle, generic over the stored value type.
//
// Inserts route to one of NumBuffers intake files by a hash of the metric
// name; reads merge the live intake file with the metric's slab store. A
// directory is owned by exactly one DB at a time.
type DB[V any] struct {
	path    string
	config  Config
	hasher  Hasher
	logger  *zap.Logger
	buffers []*Buffer[V]

	mu     sync.RWMutex
	closed bool
}

// Open opens or creates a database rooted at cfg.Path, or at path when
// cfg.Path is empty; a non-empty cfg.Path takes precedence over path.
// Intake files left behind by a previous run are dumped into slab storage before any buffers are
// allocated, so earlier writes become readable immediately.
func Open[V any](path string, cfg Config) (*DB[V], error) {
	if _, err := recordSize[V](); err != nil {
		return nil, err
	}

	cfg.normalize()
	if cfg.Path == "" {
		cfg.Path = path
	}
	if cfg.Path == "" {
		return nil, errors.New("path is required")
	}

	if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
		return nil, newStorageError(StorageErrorTypeWrite, "create database root", cfg.Path, err)
	}

	if err := recoverBuffers[V](cfg.Path, cfg); err != nil {
		return nil, err
	}

	db := &DB[V]{
		path:   cfg.Path,
		config: cfg,
		hasher: cfg.Hasher,
		logger: cfg.Logger,
	}
	db.buffers = make([]*Buffer[V], cfg.NumBuffers)
	for i := range db.buffers {
		buf, err := newBuffer[V](cfg.Path, cfg)
		if err != nil {
			_ = db.closeBuffers()
			return nil, err
		}
		db.buffers[i] = buf
	}

	return db, nil
}

// Path returns the database's root directory.
func (db *DB[V]) Path() string {
	return db.path
}

// Insert appends one record for the named metric.
func (db *DB[V]) Insert(name string, time uint32, value V) error {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return ErrClosed
	}
	return db.shard(name).Insert(name, time, value)
}

// Get returns the records for name with start <= Time <= end, ordered
// ascending by timestamp. Records still resident in the intake buffer are
// merged with the metric's slab store.
func (db *DB[V]) Get(name string, start, end uint32) ([]Record[V], error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}
	return db.shard(name).Get(name, start, end)
}

// InsertAsync inserts a record and invokes cb with the result. The current
// implementation completes synchronously on the calling goroutine; the
// callback surface is reserved for a future worker pool.
func (db *DB[V]) InsertAsync(name string, time uint32, value V, cb func(error)) {
	err := db.Insert(name, time, value)
	if cb != nil {
		cb(err)
	}
}

// GetAsync queries a range and invokes cb with the result. Like InsertAsync,
// completion is synchronous on the calling goroutine.
func (db *DB[V]) GetAsync(name string, start, end uint32, cb func([]Record[V], error)) {
	recs, err := db.Get(name, start, end)
	if cb != nil {
		cb(recs, err)
	}
}

// Metrics returns every metric name that has reached slab storage plus any
// currently resident in a live buffer, sorted.
func (db *DB[V]) Metrics() ([]string, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	if db.closed {
		return nil, ErrClosed
	}

	seen := make(map[string]struct{})
	names, err := listMetrics(db.path)
	if err != nil {
		return nil, err
	}
	for _, name := range names {
		seen[name] = struct{}{}
	}
	for _, buf := range db.buffers {
		keys, err := buf.Keys()
		if err != nil {
			return nil, err
		}
		for _, key := range keys {
			seen[key] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, nil
}

// MetricsMatching returns the metric names matching a glob pattern.
func (db *DB[V]) MetricsMatching(pattern string) ([]string, error) {
	names, err := db.Metrics()
	if err != nil {
		return nil, err
	}
	return filterPattern(names, pattern)
}

// Close dumps every live buffer into slab storage and releases all file
// handles. Close is idempotent; operations after Close return ErrClosed.
func (db *DB[V]) Close() error {
	db.mu.Lock()
	if db.closed {
		db.mu.Unlock()
		return nil
	}
	db.closed = true
	db.mu.Unlock()

	var errs error
	for _, buf := range db.buffers {
		errs = multierr.Append(errs, buf.Dump())
	}
	return errs
}

// Destroy removes the database's on-disk state entirely. Live buffers are
// discarded, not dumped. The handle is unusable afterwards.
func (db *DB[V]) Destroy() error {
	db.mu.Lock()
	db.closed = true
	db.mu.Unlock()

	errs := db.closeBuffers()
	if err := os.RemoveAll(db.path); err != nil {
		errs = multierr.Append(errs, newStorageError(StorageErrorTypeWrite, "remove database root", db.path, err))
	}
	return errs
}

func (db *DB[V]) shard(name string) *Buffer[V] {
	return db.buffers[db.hasher.Sum32(name)%uint32(len(db.buffers))]
}

func (db *DB[V]) closeBuffers() error {
	var errs error
	for _, buf := range db.buffers {
		if buf != nil {
			errs = multierr.Append(errs, buf.Close())
		}
	}
	return errs
}
