package config

import (
	"os"
	"time"

	"code.cloudfoundry.org/bytefmt"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const (
	DefaultMaxRecordSize  = 64 * 1024
	DefaultBufferCapacity = 1024 * 1024
	DefaultRingSize       = 8
	DefaultFlushInterval  = 200 * time.Millisecond

	// Buffer cursors are packed into 32 bits of the buffer header word.
	maxBufferCapacity = 1 << 31
)

var ErrInvalidConfig = errors.New("invalid config")

// ByteSize is a size in bytes that unmarshals from either a plain integer
// or a human readable string such as "32K" or "1M".
type ByteSize uint64

func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	var n uint64
	if err := value.Decode(&n); err == nil {
		*b = ByteSize(n)
		return nil
	}

	n, err := bytefmt.ToBytes(value.Value)

	if err != nil {
		return errors.Wrapf(err, "parse byte size %q", value.Value)
	}

	*b = ByteSize(n)

	return nil
}

func (b ByteSize) String() string {
	return bytefmt.ByteSize(uint64(b))
}

// Config holds the immutable settings of a log store.
type Config struct {
	// Path of the backing log file.
	Path string `yaml:"path"`
	// MaxRecordSize bounds the payload of a single record.
	MaxRecordSize ByteSize `yaml:"max_record_size"`
	// BufferCapacity is the size of every in-memory staging buffer.
	BufferCapacity ByteSize `yaml:"buffer_capacity"`
	// RingSize is the number of staging buffers.
	RingSize int `yaml:"ring_size"`
	// FlushInterval is the period of the background flusher, zero disables it.
	FlushInterval time.Duration `yaml:"flush_interval"`
	// PunchHoles selects sparse deallocation over zero-filling when reclaiming space.
	PunchHoles bool `yaml:"punch_holes"`
}

func Default() Config {
	return Config{
		Path:           "data/log",
		MaxRecordSize:  DefaultMaxRecordSize,
		BufferCapacity: DefaultBufferCapacity,
		RingSize:       DefaultRingSize,
		FlushInterval:  DefaultFlushInterval,
		PunchHoles:     true,
	}
}

// Load reads a YAML config file on top of the defaults. An empty path
// returns the defaults.
func Load(path string) (Config, error) {
	cfg := Default()

	if path == "" {
		return cfg, nil
	}

	b, err := os.ReadFile(path)

	if err != nil {
		return Config{}, errors.Wrap(err, "read config")
	}

	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, errors.Wrapf(err, "parse config %s", path)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func (c Config) Validate() error {
	switch {
	case c.Path == "":
		return errors.Wrap(ErrInvalidConfig, "path is empty")
	case c.RingSize < 2:
		return errors.Wrapf(ErrInvalidConfig, "ring size %d, need at least 2", c.RingSize)
	case c.BufferCapacity == 0 || c.BufferCapacity > maxBufferCapacity:
		return errors.Wrapf(ErrInvalidConfig, "buffer capacity %s out of range", c.BufferCapacity)
	case c.MaxRecordSize >= c.BufferCapacity:
		return errors.Wrapf(ErrInvalidConfig, "max record size %s does not fit buffer capacity %s", c.MaxRecordSize, c.BufferCapacity)
	case c.FlushInterval < 0:
		return errors.Wrapf(ErrInvalidConfig, "negative flush interval %s", c.FlushInterval)
	}

	return nil
}
