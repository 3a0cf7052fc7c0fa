package madb

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
)

// Record is a single data point: a timestamp and a caller-supplied value.
// Multiple records for one metric may share a timestamp; the engine stores
// and returns them as a multiset.
type Record[V any] struct {
	// Time is the record's timestamp.
	Time uint32
	// Value is the stored measurement.
	Value V
}

// recordSize returns the encoded size of a Record[V] in bytes. Value types
// with internal indirection (pointers, slices, maps, strings) are refused.
func recordSize[V any]() (int, error) {
	size := binary.Size(Record[V]{})
	if size <= 0 {
		return 0, fmt.Errorf("%w: %T", ErrValueNotFixedSize, *new(V))
	}
	return size, nil
}

// decodeRecords parses a contiguous run of records from raw segment bytes.
// A trailing partial record is dropped.
func decodeRecords[V any](data []byte, size int) []Record[V] {
	out := make([]Record[V], 0, len(data)/size)
	reader := bytes.NewReader(data)
	for reader.Len() >= size {
		var rec Record[V]
		if err := binary.Read(reader, binary.NativeEndian, &rec); err != nil {
			break
		}
		out = append(out, rec)
	}
	return out
}

// filterRange keeps records with start <= Time <= end, both inclusive.
func filterRange[V any](recs []Record[V], start, end uint32) []Record[V] {
	out := recs[:0]
	for _, rec := range recs {
		if rec.Time >= start && rec.Time <= end {
			out = append(out, rec)
		}
	}
	return out
}

// sortByTime orders records ascending by timestamp. The sort is stable so
// records sharing a timestamp keep their insertion order.
func sortByTime[V any](recs []Record[V]) {
	sort.SliceStable(recs, func(i, j int) bool {
		return recs[i].Time < recs[j].Time
	})
}
