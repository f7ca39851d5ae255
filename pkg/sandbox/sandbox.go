package sandbox

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/stream"
)

// Isolation selects how workers are run
type Isolation string

const (
	// IsolationProcess runs each worker as a child OS process
	IsolationProcess Isolation = "process"
	// IsolationLocal runs each worker as a goroutine in this process
	IsolationLocal Isolation = "local"
)

// Config defines worker isolation and its limits
type Config struct {
	// Isolation selects process or local workers
	Isolation Isolation `json:"isolation"`

	// Executable is the binary re-executed for process workers; empty means
	// the current executable
	Executable string `json:"executable"`

	// Command is the argument prefix before "--task <name>"
	Command []string `json:"command"`

	// WorkingDir is the worker's working directory
	WorkingDir string `json:"working_dir"`

	// ResourceLimits defines resource constraints
	ResourceLimits ResourceLimits `json:"resource_limits"`

	// FilesystemAccess restricts the working directory
	FilesystemAccess FilesystemAccess `json:"filesystem_access"`

	// PassEnv names parent variables copied into the worker; a trailing *
	// matches a prefix
	PassEnv []string `json:"pass_env"`

	// Env sets extra worker variables
	Env map[string]string `json:"env"`

	// QueueSize bounds events buffered between worker and consumer
	QueueSize int `json:"queue_size"`
}

// ResourceLimits defines resource constraints for a worker
type ResourceLimits struct {
	// MaxMemoryMB is the soft memory limit applied inside the worker
	MaxMemoryMB int `json:"max_memory_mb"`

	// Timeout bounds the whole worker lifetime; 0 disables it
	Timeout time.Duration `json:"timeout"`
}

// FilesystemAccess defines filesystem access rules
type FilesystemAccess struct {
	// AllowedPaths lists paths that can be used; empty allows all
	AllowedPaths []string `json:"allowed_paths"`

	// DeniedPaths lists paths that cannot be used
	DeniedPaths []string `json:"denied_paths"`
}

// DefaultConfig returns a default sandbox configuration
func DefaultConfig() Config {
	return Config{
		Isolation: IsolationProcess,
		Command:   []string{"worker"},
		ResourceLimits: ResourceLimits{
			Timeout: 30 * time.Minute,
		},
		FilesystemAccess: FilesystemAccess{
			DeniedPaths: []string{"/etc", "/sys", "/proc"},
		},
		PassEnv:   []string{"STREAMRUN_*", "LANG", "TZ", "SSL_CERT_FILE", "SSL_CERT_DIR"},
		QueueSize: 1024,
	}
}

// ValidateConfig validates a sandbox configuration
func ValidateConfig(cfg Config) error {
	switch cfg.Isolation {
	case IsolationProcess, IsolationLocal:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidIsolation, cfg.Isolation)
	}

	if cfg.ResourceLimits.MaxMemoryMB < 0 {
		return ErrInvalidMemoryLimit
	}
	if cfg.ResourceLimits.Timeout < 0 {
		return ErrInvalidTimeout
	}
	if cfg.QueueSize <= 0 {
		return ErrInvalidQueueSize
	}
	return nil
}

// Outcome is what a finished worker leaves behind. Err is empty on success
// and "Kind: message" otherwise.
type Outcome struct {
	Result agent.Result
	Err    string
}

// Worker is one running task. Events is closed after the last event; that
// close is the end-of-stream marker.
type Worker interface {
	// ID identifies the worker in logs
	ID() string

	// Events delivers task events in emission order
	Events() <-chan stream.Event

	// Alive reports whether the worker has not exited yet
	Alive() bool

	// Kill forcefully terminates the worker. Idempotent.
	Kill()

	// Wait blocks until the worker exited and returns its outcome
	Wait() Outcome
}

// Launcher starts workers
type Launcher interface {
	Launch(ctx context.Context, task string, in agent.Input) (Worker, error)
}

// NewLauncher builds the launcher selected by cfg.Isolation
func NewLauncher(cfg Config, registry *agent.Registry, logger zerolog.Logger) (Launcher, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	switch cfg.Isolation {
	case IsolationLocal:
		return NewLocalLauncher(cfg, registry, logger), nil
	default:
		return NewProcessLauncher(cfg, logger)
	}
}
