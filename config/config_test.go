package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadEmptyPath(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstore.yaml")
	content := `
path: /var/lib/logstore/log
max_record_size: 4K
buffer_capacity: 1M
ring_size: 4
flush_interval: 50ms
punch_holes: false
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "/var/lib/logstore/log", cfg.Path)
	assert.Equal(t, ByteSize(4*1024), cfg.MaxRecordSize)
	assert.Equal(t, ByteSize(1024*1024), cfg.BufferCapacity)
	assert.Equal(t, 4, cfg.RingSize)
	assert.Equal(t, 50*time.Millisecond, cfg.FlushInterval)
	assert.False(t, cfg.PunchHoles)
}

func TestLoadPlainIntegerSizes(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_record_size: 100\nbuffer_capacity: 4096\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ByteSize(100), cfg.MaxRecordSize)
	assert.Equal(t, ByteSize(4096), cfg.BufferCapacity)
	assert.Equal(t, DefaultRingSize, cfg.RingSize)
}

func TestLoadRejectsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("max_record_size: 2M\nbuffer_capacity: 1M\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidConfig))
}

func TestLoadRejectsBadSize(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logstore.yaml")
	require.NoError(t, os.WriteFile(path, []byte("buffer_capacity: lots\n"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"empty path":        func(c *Config) { c.Path = "" },
		"tiny ring":         func(c *Config) { c.RingSize = 1 },
		"zero capacity":     func(c *Config) { c.BufferCapacity = 0 },
		"huge capacity":     func(c *Config) { c.BufferCapacity = 1 << 32 },
		"negative interval": func(c *Config) { c.FlushInterval = -time.Second },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(&cfg)
			assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
		})
	}
}
