package madb

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

// sampleFrameSize is the framed size of a one-byte key: an 8-byte length,
// the key, and the record.
const sampleFrameSize = 8 + 1 + sampleRecordSize

func bufferTestConfig(base string) Config {
	cfg := DefaultConfig(base)
	cfg.normalize()
	return cfg
}

func TestBufferInsertGet(t *testing.T) {
	base := t.TempDir()
	buf, err := newBuffer[sample](base, bufferTestConfig(base))
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()

	inserts := []struct {
		key  string
		time uint32
	}{
		{"a", 1},
		{"b", 2},
		{"a", 5},
	}
	for _, in := range inserts {
		if err := buf.Insert(in.key, in.time, sample{Count: in.time}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	recs, err := buf.Get("a", 0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 2 || recs[0].Time != 1 || recs[1].Time != 5 {
		t.Fatalf("expected times [1 5] for a, got %v", recs)
	}

	recs, err = buf.Get("a", 5, 5)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 1 || recs[0].Time != 5 {
		t.Errorf("expected single record at time 5, got %v", recs)
	}
}

func TestBufferInsertAfterGet(t *testing.T) {
	base := t.TempDir()
	buf, err := newBuffer[sample](base, bufferTestConfig(base))
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()

	if err := buf.Insert("m", 1, sample{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if _, err := buf.Get("m", 0, 10); err != nil {
		t.Fatalf("get: %v", err)
	}
	// A read moves the file cursor; the next insert must still append.
	if err := buf.Insert("m", 2, sample{}); err != nil {
		t.Fatalf("insert after get: %v", err)
	}

	recs, err := buf.Get("m", 0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 2 || recs[0].Time != 1 || recs[1].Time != 2 {
		t.Fatalf("expected times [1 2], got %v", recs)
	}
}

func TestBufferRotateDumpsToSlabs(t *testing.T) {
	base := t.TempDir()
	cfg := bufferTestConfig(base)
	cfg.BufferMaxBytes = 3 * sampleFrameSize

	buf, err := newBuffer[sample](base, cfg)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()
	original := buf.path

	for ts := uint32(1); ts <= 3; ts++ {
		if err := buf.Insert("m", ts, sample{Count: ts}); err != nil {
			t.Fatalf("insert %d: %v", ts, err)
		}
	}

	if _, err := os.Stat(filepath.Join(base, "metrics", "m", "latest")); err != nil {
		t.Fatalf("expected slab latest after rotation: %v", err)
	}
	if _, err := os.Stat(original); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected original buffer file removed, got %v", err)
	}
	if buf.path == original {
		t.Error("expected a fresh intake file after rotation")
	}

	recs, err := buf.Get("m", 0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 3 {
		t.Errorf("expected 3 records after rotation, got %d", len(recs))
	}
}

func TestBufferDumpRemovesFile(t *testing.T) {
	base := t.TempDir()
	cfg := bufferTestConfig(base)

	buf, err := newBuffer[sample](base, cfg)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	if err := buf.Insert("m", 9, sample{Count: 9}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	path := buf.path

	if err := buf.Dump(); err != nil {
		t.Fatalf("dump: %v", err)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("expected buffer file removed, got %v", err)
	}

	view, err := slabView[sample](base, "m", cfg)
	if err != nil {
		t.Fatalf("slab view: %v", err)
	}
	recs, err := view.Get(0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 1 || recs[0].Time != 9 {
		t.Errorf("expected dumped record at time 9, got %v", recs)
	}
}

func TestBufferKeyTooLong(t *testing.T) {
	base := t.TempDir()
	cfg := bufferTestConfig(base)
	cfg.MaxKeyLen = 16

	buf, err := newBuffer[sample](base, cfg)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()

	key := "a-key-well-beyond-sixteen-bytes"
	if err := buf.Insert(key, 1, sample{}); !errors.Is(err, ErrKeyTooLong) {
		t.Fatalf("expected ErrKeyTooLong, got %v", err)
	}
	if buf.written != 0 {
		t.Errorf("expected nothing written after rejection, got %d bytes", buf.written)
	}
}

func TestBufferCorruptTailSalvages(t *testing.T) {
	base := t.TempDir()
	buf, err := newBuffer[sample](base, bufferTestConfig(base))
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()

	for ts := uint32(1); ts <= 2; ts++ {
		if err := buf.Insert("m", ts, sample{}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	// Truncate into the second frame's record, simulating a torn write.
	if err := os.Truncate(buf.path, buf.written-5); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	recs, err := buf.Get("m", 0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 1 || recs[0].Time != 1 {
		t.Fatalf("expected first frame salvaged, got %v", recs)
	}
}

func TestBufferAbsurdLengthDiscarded(t *testing.T) {
	base := t.TempDir()
	buf, err := newBuffer[sample](base, bufferTestConfig(base))
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()

	if err := buf.Insert("m", 1, sample{}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Append a frame claiming a key longer than any the engine accepts.
	junk := make([]byte, 8)
	for i := range junk {
		junk[i] = 0xFF
	}
	if _, err := buf.file.Write(junk); err != nil {
		t.Fatalf("write junk: %v", err)
	}

	recs, err := buf.Get("m", 0, 10)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(recs) != 1 {
		t.Errorf("expected 1 salvaged record, got %d", len(recs))
	}
}

func TestBufferKeys(t *testing.T) {
	base := t.TempDir()
	buf, err := newBuffer[sample](base, bufferTestConfig(base))
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	defer buf.Close()

	for _, key := range []string{"a", "b", "a"} {
		if err := buf.Insert(key, 1, sample{}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}

	keys, err := buf.Keys()
	if err != nil {
		t.Fatalf("keys: %v", err)
	}
	if len(keys) != 2 {
		t.Errorf("expected 2 distinct keys, got %v", keys)
	}
}

func TestRecoverBuffers(t *testing.T) {
	base := t.TempDir()
	cfg := bufferTestConfig(base)

	buf, err := newBuffer[sample](base, cfg)
	if err != nil {
		t.Fatalf("new buffer: %v", err)
	}
	if err := buf.Insert("x", 1, sample{Count: 1}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := buf.Insert("y", 2, sample{Count: 2}); err != nil {
		t.Fatalf("insert: %v", err)
	}
	// Close without dumping, leaving an orphaned intake file behind.
	if err := buf.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	if err := recoverBuffers[sample](base, cfg); err != nil {
		t.Fatalf("recover: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(base, "buffers", ".buffer.*"))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("expected no intake files after recovery, got %v", matches)
	}

	for _, name := range []string{"x", "y"} {
		view, err := slabView[sample](base, name, cfg)
		if err != nil {
			t.Fatalf("slab view: %v", err)
		}
		recs, err := view.Get(0, 10)
		if err != nil {
			t.Fatalf("get %s: %v", name, err)
		}
		if len(recs) != 1 {
			t.Errorf("expected 1 recovered record for %s, got %d", name, len(recs))
		}
	}
}
