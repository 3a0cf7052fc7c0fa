package madb

import "github.com/spaolacci/murmur3"

// Hasher assigns metric names to buffer shards. Implementations must be
// deterministic across process restarts: the on-disk layout addresses
// metrics by name, but a hash that changes between runs re-routes live
// buffer traffic and splits a metric's write path.
type Hasher interface {
	Sum32(key string) uint32
}

// Murmur3Hasher is the default Hasher, backed by 32-bit MurmurHash3 with a
// zero seed.
type Murmur3Hasher struct{}

// Sum32 hashes a metric name.
func (Murmur3Hasher) Sum32(key string) uint32 {
	return murmur3.Sum32([]byte(key))
}
