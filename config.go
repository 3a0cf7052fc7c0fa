package madb

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Default configuration values.
const (
	// DefaultNumBuffers is the default number of hash-sharded buffers.
	DefaultNumBuffers = 128

	// DefaultBufferMaxBytes is the default buffer-file rotation threshold.
	DefaultBufferMaxBytes = 5 * 1024 * 1024

	// DefaultSlabMaxBytes is the default per-metric slab rollover threshold.
	DefaultSlabMaxBytes = 1 * 1024 * 1024

	// DefaultMaxKeyLen is the default maximum metric name length in bytes.
	DefaultMaxKeyLen = 1024
)

// Config defines database configuration.
type Config struct {
	// Path is the root directory for the database.
	Path string `yaml:"path"`

	// NumBuffers is the number of hash-sharded append buffers, and so the
	// number of intake files held open at once. A metric routes to the same
	// buffer for the lifetime of the engine. Default: 128.
	NumBuffers int `yaml:"num_buffers"`

	// BufferMaxBytes is the written-byte threshold at which a buffer is
	// dumped into slab storage and replaced. Default: 5 MiB.
	BufferMaxBytes int64 `yaml:"buffer_max_bytes"`

	// SlabMaxBytes is the written-byte threshold at which a metric's latest
	// segment is sealed. Default: 1 MiB.
	SlabMaxBytes int64 `yaml:"slab_max_bytes"`

	// MaxKeyLen is the maximum metric name length in bytes. Longer names
	// are rejected on insert, and buffer frames claiming a longer key are
	// treated as corruption. Default: 1024.
	MaxKeyLen int `yaml:"max_key_len"`

	// Hasher routes metric names to buffer shards. Must not change across
	// runs over the same directory. Default: Murmur3Hasher.
	Hasher Hasher `yaml:"-"`

	// Logger receives rotation, recovery, and corruption events.
	// Default: zap.NewNop().
	Logger *zap.Logger `yaml:"-"`
}

// DefaultConfig returns a configuration with sensible defaults.
func DefaultConfig(path string) Config {
	return Config{
		Path:           path,
		NumBuffers:     DefaultNumBuffers,
		BufferMaxBytes: DefaultBufferMaxBytes,
		SlabMaxBytes:   DefaultSlabMaxBytes,
		MaxKeyLen:      DefaultMaxKeyLen,
		Hasher:         Murmur3Hasher{},
		Logger:         zap.NewNop(),
	}
}

// normalize fills zero values with defaults.
func (c *Config) normalize() {
	if c.NumBuffers <= 0 {
		c.NumBuffers = DefaultNumBuffers
	}
	if c.BufferMaxBytes <= 0 {
		c.BufferMaxBytes = DefaultBufferMaxBytes
	}
	if c.SlabMaxBytes <= 0 {
		c.SlabMaxBytes = DefaultSlabMaxBytes
	}
	if c.MaxKeyLen <= 0 {
		c.MaxKeyLen = DefaultMaxKeyLen
	}
	if c.Hasher == nil {
		c.Hasher = Murmur3Hasher{}
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
}

// LoadConfig reads a YAML configuration document from disk. Fields absent
// from the document keep their defaults. Hasher and Logger are code-level
// settings and cannot be configured from a file.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	cfg.normalize()
	return cfg, nil
}
