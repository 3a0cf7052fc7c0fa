// Package madb provides an embedded time-series storage engine built around
// a two-tier write path: hash-sharded append buffers multiplex writes from
// arbitrarily many metrics into a bounded number of open files, and buffer
// contents are demultiplexed into per-metric slab stores on rotation.
//
// The engine is generic over the stored value type, which must be fixed-size
// plain data (no pointers, slices, maps, or strings).
//
// # Basic Usage
//
// Open a database with default configuration:
//
//	type sample struct {
//	    Count uint32
//	    Mean  float32
//	}
//
//	db, err := madb.Open[sample]("data", madb.DefaultConfig("data"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
// Insert records and read them back over an inclusive time range:
//
//	err = db.Insert("cpu.usage", 1700000000, sample{Count: 1, Mean: 0.4})
//
//	records, err := db.Get("cpu.usage", 1700000000, 1700003600)
//
// A single engine instance owns its root directory exclusively. Writes for a
// given metric always route to the same buffer shard, and operations on one
// shard serialize behind a per-shard lock while separate shards proceed in
// parallel.
//
// # On-Disk Layout
//
// The root directory holds two subtrees. buffers/ contains one length-framed
// intake file per shard; metrics/<name>/ contains the slab store for each
// metric, an open "latest" file plus sealed segments named by the maximum
// timestamp they contain. Frames and records are written in the machine's
// native byte order, so the files are not portable across architectures.
package madb
