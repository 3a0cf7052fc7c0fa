package madb

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/dlecocq/madb/internal/encoding"
)

const (
	buffersDir    = "buffers"
	bufferPattern = ".buffer.*"
)

// Buffer is one hash-sharded intake file. Writes for every metric routed to
// the shard are multiplexed into a single length-framed append log; when the
// log reaches its size threshold it is demultiplexed into per-metric slabs
// and replaced with a fresh file.
//
// All operations on a Buffer serialize behind its mutex. A metric always
// routes to the same shard, so inserts and reads for one metric never race
// while separate shards proceed in parallel.
type Buffer[V any] struct {
	mu      sync.Mutex
	base    string
	path    string
	file    *os.File
	written int64
	recSize int
	cfg     Config
}

// newBuffer creates a fresh intake file under base/buffers/.
func newBuffer[V any](base string, cfg Config) (*Buffer[V], error) {
	size, err := recordSize[V]()
	if err != nil {
		return nil, err
	}
	b := &Buffer[V]{base: base, recSize: size, cfg: cfg}
	if err := b.mktemp(); err != nil {
		return nil, err
	}
	return b, nil
}

// openBufferFile opens an existing intake file, typically one left behind by
// a previous run, so it can be dumped.
func openBufferFile[V any](base, path string, cfg Config) (*Buffer[V], error) {
	size, err := recordSize[V]()
	if err != nil {
		return nil, err
	}
	file, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeRead, "open buffer file", path, err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	return &Buffer[V]{
		base:    base,
		path:    path,
		file:    file,
		written: info.Size(),
		recSize: size,
		cfg:     cfg,
	}, nil
}

// mktemp opens a fresh uniquely-named intake file and resets the write
// counter.
func (b *Buffer[V]) mktemp() error {
	dir := filepath.Join(b.base, buffersDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return newStorageError(StorageErrorTypeWrite, "create buffer directory", dir, err)
	}
	file, err := os.CreateTemp(dir, bufferPattern)
	if err != nil {
		return newStorageError(StorageErrorTypeWrite, "create buffer file", dir, err)
	}
	b.file = file
	b.path = file.Name()
	b.written = 0
	return nil
}

// Insert appends one framed record for key, rotating the buffer into slab
// storage once the configured size threshold is reached.
func (b *Buffer[V]) Insert(key string, time uint32, value V) error {
	if len(key) > b.cfg.MaxKeyLen {
		return fmt.Errorf("%w: %d bytes", ErrKeyTooLong, len(key))
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return ErrClosed
	}

	frame := &bytes.Buffer{}
	if _, err := encoding.WriteKey(frame, key); err != nil {
		return err
	}
	if err := binary.Write(frame, binary.NativeEndian, Record[V]{Time: time, Value: value}); err != nil {
		return err
	}

	n, err := b.file.Write(frame.Bytes())
	b.written += int64(n)
	if err != nil {
		return newStorageError(StorageErrorTypeWrite, "append frame", b.path, err)
	}

	if b.written < b.cfg.BufferMaxBytes {
		return nil
	}
	return b.rotateLocked()
}

// Get merges the slab records for name with any records still resident in
// the live buffer, filtered to [start, end] inclusive and ordered ascending
// by timestamp.
func (b *Buffer[V]) Get(name string, start, end uint32) ([]Record[V], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil, ErrClosed
	}

	resident, err := b.readLocked()
	if err != nil {
		return nil, err
	}

	slab, err := slabView[V](b.base, name, b.cfg)
	if err != nil {
		return nil, err
	}
	results, err := slab.Get(start, end)
	if err != nil {
		return nil, err
	}

	results = append(results, filterRange(resident[name], start, end)...)
	sortByTime(results)
	return results, nil
}

// Keys returns the distinct metric names currently resident in the buffer.
func (b *Buffer[V]) Keys() ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil, ErrClosed
	}
	resident, err := b.readLocked()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(resident))
	for key := range resident {
		out = append(out, key)
	}
	return out, nil
}

// Dump demultiplexes the buffer's contents into per-metric slabs and removes
// the intake file. The removal happens after the slab appends, so a crash in
// between can leave both copies; reads tolerate the resulting duplicates.
func (b *Buffer[V]) Dump() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dumpLocked()
}

func (b *Buffer[V]) dumpLocked() error {
	if b.file == nil {
		return nil
	}

	resident, err := b.readLocked()
	if err != nil {
		return err
	}

	for name, recs := range resident {
		slab, err := openSlab[V](b.base, name, b.cfg)
		if err != nil {
			return err
		}
		if err := slab.InsertRange(recs); err != nil {
			_ = slab.Close()
			return err
		}
		if err := slab.Close(); err != nil {
			return err
		}
	}

	if err := os.Remove(b.path); err != nil {
		return newStorageError(StorageErrorTypeWrite, "remove buffer file", b.path, err)
	}
	err = b.file.Close()
	b.file = nil
	b.path = ""
	b.written = 0
	return err
}

// rotateLocked dumps the buffer and opens a fresh intake file in its place.
func (b *Buffer[V]) rotateLocked() error {
	if err := b.dumpLocked(); err != nil {
		return err
	}
	return b.mktemp()
}

// Close releases the intake file without dumping it. Records still in the
// buffer stay on disk for recovery by the next Open.
func (b *Buffer[V]) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.file == nil {
		return nil
	}
	err := b.file.Close()
	b.file = nil
	return err
}

// readLocked parses the whole intake file into per-key record lists,
// preserving insertion order within each key. Parsing stops at the first
// corrupt or truncated frame: whatever parsed before it is returned and the
// remainder is discarded.
func (b *Buffer[V]) readLocked() (map[string][]Record[V], error) {
	if _, err := b.file.Seek(0, io.SeekStart); err != nil {
		return nil, newStorageError(StorageErrorTypeRead, "seek buffer file", b.path, err)
	}
	// Writes go through the file cursor, so restore it after reading.
	defer func() {
		_, _ = b.file.Seek(0, io.SeekEnd)
	}()

	reader := bufio.NewReader(b.file)
	keys := encoding.NewKeyReader(b.cfg.MaxKeyLen)
	results := make(map[string][]Record[V])

	for {
		key, err := keys.Read(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return results, nil
			}
			b.discardCorrupt(err)
			return results, nil
		}
		var rec Record[V]
		if err := binary.Read(reader, binary.NativeEndian, &rec); err != nil {
			b.discardCorrupt(err)
			return results, nil
		}
		results[key] = append(results[key], rec)
	}
}

func (b *Buffer[V]) discardCorrupt(cause error) {
	err := newStorageError(StorageErrorTypeCorruption, "unparseable frame", b.path, cause)
	b.cfg.Logger.Warn("discarding corrupt buffer remainder", zap.Error(err))
}

// recoverBuffers dumps every intake file left under base/buffers/ by a
// previous run into slab storage. Called before the engine accepts writes.
func recoverBuffers[V any](base string, cfg Config) error {
	matches, err := filepath.Glob(filepath.Join(base, buffersDir, bufferPattern))
	if err != nil {
		return err
	}
	for _, path := range matches {
		buf, err := openBufferFile[V](base, path, cfg)
		if err != nil {
			return err
		}
		if err := buf.Dump(); err != nil {
			_ = buf.Close()
			return err
		}
		cfg.Logger.Info("recovered buffer file", zap.String("path", path))
	}
	return nil
}
