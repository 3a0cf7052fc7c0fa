package madb

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"
)

const (
	metricsDir = "metrics"
	latestName = "latest"

	slabOpenMode = os.O_RDWR | os.O_CREATE | os.O_APPEND
)

// Slab is the per-metric segment store. Records append to an open "latest"
// file; once it reaches the configured size it is sealed under the maximum
// timestamp it contains and a fresh latest is opened. Sealed segments hold
// contiguous records with no framing, in native byte order.
type Slab[V any] struct {
	base     string
	name     string
	file     *os.File
	written  int64
	maxBytes int64
	recSize  int
	logger   *zap.Logger
}

// openSlab opens the writable slab for a metric, creating its directory and
// latest segment as needed. The write cursor continues from the existing
// segment contents.
func openSlab[V any](base, name string, cfg Config) (*Slab[V], error) {
	s, err := slabView[V](base, name, cfg)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(s.dir(), 0o755); err != nil {
		return nil, newStorageError(StorageErrorTypeWrite, "create metric directory", s.dir(), err)
	}
	file, err := os.OpenFile(s.latestPath(), slabOpenMode, 0o644)
	if err != nil {
		return nil, newStorageError(StorageErrorTypeWrite, "open latest segment", s.latestPath(), err)
	}
	info, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.file = file
	s.written = info.Size()
	return s, nil
}

// slabView returns a handle-less slab for read-only access. Nothing is
// created on disk; a metric that was never written reads as empty.
func slabView[V any](base, name string, cfg Config) (*Slab[V], error) {
	size, err := recordSize[V]()
	if err != nil {
		return nil, err
	}
	return &Slab[V]{
		base:     base,
		name:     name,
		maxBytes: cfg.SlabMaxBytes,
		recSize:  size,
		logger:   cfg.Logger,
	}, nil
}

// Close releases the latest segment's file handle, if any.
func (s *Slab[V]) Close() error {
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// Insert appends one record to the latest segment, sealing the segment once
// it reaches the size threshold.
func (s *Slab[V]) Insert(rec Record[V]) error {
	if s.file == nil {
		return ErrClosed
	}
	if err := binary.Write(s.file, binary.NativeEndian, rec); err != nil {
		return newStorageError(StorageErrorTypeWrite, "append record", s.latestPath(), err)
	}
	s.written += int64(s.recSize)
	if s.written < s.maxBytes {
		return nil
	}
	return s.rotate()
}

// InsertRange appends records in order. Rotation may occur mid-range; there
// are no batching guarantees.
func (s *Slab[V]) InsertRange(recs []Record[V]) error {
	for _, rec := range recs {
		if err := s.Insert(rec); err != nil {
			return err
		}
	}
	return nil
}

// Get returns every record in the slab with start <= Time <= end, ordered
// ascending by timestamp. Sealed segments are named by the maximum
// timestamp they contain and are not sorted relative to one another, so the
// merged result is sorted here.
func (s *Slab[V]) Get(start, end uint32) ([]Record[V], error) {
	results, err := s.readSegment(s.latestPath())
	if err != nil {
		return nil, err
	}
	sealed, err := s.segments()
	if err != nil {
		return nil, err
	}
	for _, ts := range sealed {
		recs, err := s.readSegment(s.segmentPath(ts))
		if err != nil {
			return nil, err
		}
		results = append(results, recs...)
	}
	results = filterRange(results, start, end)
	sortByTime(results)
	return results, nil
}

// rotate seals the latest segment under its maximum timestamp and opens a
// fresh one. Sealing is refused with ErrSegmentCollision if a segment of
// that name already exists; latest stays open and keeps its records.
func (s *Slab[V]) rotate() error {
	recs, err := s.readSegment(s.latestPath())
	if err != nil {
		return err
	}
	if len(recs) == 0 {
		return nil
	}
	max := recs[0].Time
	for _, rec := range recs[1:] {
		if rec.Time > max {
			max = rec.Time
		}
	}

	target := s.segmentPath(max)
	if _, err := os.Stat(target); err == nil {
		return newStorageError(StorageErrorTypeRotate, "segment already sealed for max timestamp", target, nil)
	} else if !errors.Is(err, os.ErrNotExist) {
		return err
	}

	if err := s.file.Sync(); err != nil {
		return newStorageError(StorageErrorTypeWrite, "sync latest segment", s.latestPath(), err)
	}
	if err := s.file.Close(); err != nil {
		s.file = nil
		return err
	}
	if err := os.Rename(s.latestPath(), target); err != nil {
		s.file = nil
		return newStorageError(StorageErrorTypeWrite, "seal segment", target, err)
	}

	s.logger.Debug("sealed slab segment",
		zap.String("metric", s.name),
		zap.Uint32("max_time", max),
		zap.Int("records", len(recs)))

	file, err := os.OpenFile(s.latestPath(), slabOpenMode, 0o644)
	if err != nil {
		s.file = nil
		return newStorageError(StorageErrorTypeWrite, "open latest segment", s.latestPath(), err)
	}
	s.file = file
	s.written = 0
	return nil
}

// readSegment reads all records from one segment file. A missing file reads
// as empty.
func (s *Slab[V]) readSegment(path string) ([]Record[V], error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newStorageError(StorageErrorTypeRead, "read segment", path, err)
	}
	return decodeRecords[V](data, s.recSize), nil
}

// segments lists the sealed segment timestamps for the metric, skipping
// latest and any filename that does not parse as a uint32.
func (s *Slab[V]) segments() ([]uint32, error) {
	entries, err := os.ReadDir(s.dir())
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, newStorageError(StorageErrorTypeRead, "scan metric directory", s.dir(), err)
	}
	var out []uint32
	for _, entry := range entries {
		if entry.IsDir() || entry.Name() == latestName {
			continue
		}
		ts, err := strconv.ParseUint(entry.Name(), 10, 32)
		if err != nil {
			continue
		}
		out = append(out, uint32(ts))
	}
	return out, nil
}

func (s *Slab[V]) dir() string {
	return filepath.Join(s.base, metricsDir, s.name)
}

func (s *Slab[V]) latestPath() string {
	return filepath.Join(s.dir(), latestName)
}

func (s *Slab[V]) segmentPath(ts uint32) string {
	return filepath.Join(s.dir(), strconv.FormatUint(uint64(ts), 10))
}
