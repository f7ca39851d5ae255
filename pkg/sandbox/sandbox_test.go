package sandbox

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harun/streamrun/pkg/agent"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, IsolationProcess, cfg.Isolation)
	assert.Equal(t, []string{"worker"}, cfg.Command)
	assert.Equal(t, 30*time.Minute, cfg.ResourceLimits.Timeout)
	assert.NoError(t, ValidateConfig(cfg))
}

func TestValidateConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"invalid isolation", func(c *Config) { c.Isolation = "vm" }, ErrInvalidIsolation},
		{"negative memory", func(c *Config) { c.ResourceLimits.MaxMemoryMB = -1 }, ErrInvalidMemoryLimit},
		{"negative timeout", func(c *Config) { c.ResourceLimits.Timeout = -time.Second }, ErrInvalidTimeout},
		{"zero queue", func(c *Config) { c.QueueSize = 0 }, ErrInvalidQueueSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, ValidateConfig(cfg), tt.wantErr)
		})
	}
}

func TestNewLauncher(t *testing.T) {
	reg := agent.NewRegistry()

	cfg := DefaultConfig()
	cfg.Isolation = IsolationLocal
	launcher, err := NewLauncher(cfg, reg, zerolog.Nop())
	require.NoError(t, err)
	assert.IsType(t, &LocalLauncher{}, launcher)

	cfg.Isolation = "bogus"
	_, err = NewLauncher(cfg, reg, zerolog.Nop())
	assert.ErrorIs(t, err, ErrInvalidIsolation)
}
