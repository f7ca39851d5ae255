package gateway

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/pkg/orchestrator"
)

// SessionPruner deletes conversation memories idle for longer than maxAge
type SessionPruner interface {
	Prune(maxAge time.Duration) (int, error)
}

// JanitorConfig schedules the periodic sweep
type JanitorConfig struct {
	// Schedule is a cron spec, e.g. "@every 1m"
	Schedule string

	// MaxRunAge times out runs older than this
	MaxRunAge time.Duration

	// SessionMaxAge prunes memories idle longer than this; 0 disables
	SessionMaxAge time.Duration
}

// Janitor reaps stale runs and prunes idle memories on a cron schedule
type Janitor struct {
	cfg      JanitorConfig
	registry *orchestrator.Registry
	sessions SessionPruner
	cron     *cron.Cron
	logger   zerolog.Logger
}

// NewJanitor creates a janitor; sessions may be nil
func NewJanitor(cfg JanitorConfig, registry *orchestrator.Registry, sessions SessionPruner, logger zerolog.Logger) (*Janitor, error) {
	if cfg.Schedule == "" {
		cfg.Schedule = "@every 1m"
	}
	if cfg.MaxRunAge <= 0 {
		return nil, fmt.Errorf("janitor max run age must be positive")
	}

	j := &Janitor{
		cfg:      cfg,
		registry: registry,
		sessions: sessions,
		cron:     cron.New(),
		logger:   logger.With().Str("component", "janitor").Logger(),
	}
	if _, err := j.cron.AddFunc(cfg.Schedule, j.Sweep); err != nil {
		return nil, fmt.Errorf("invalid janitor schedule %q: %w", cfg.Schedule, err)
	}
	return j, nil
}

// Start begins the schedule
func (j *Janitor) Start() {
	j.cron.Start()
}

// Stop ends the schedule and waits for a running sweep
func (j *Janitor) Stop() {
	<-j.cron.Stop().Done()
}

// Sweep runs one pass
func (j *Janitor) Sweep() {
	if reaped := j.registry.Reap(j.cfg.MaxRunAge); reaped > 0 {
		observability.RecordReaped(reaped)
		j.logger.Warn().Int("reaped", reaped).Dur("max_run_age", j.cfg.MaxRunAge).Msg("Reaped stale runs")
	}

	if j.sessions == nil || j.cfg.SessionMaxAge <= 0 {
		return
	}
	pruned, err := j.sessions.Prune(j.cfg.SessionMaxAge)
	if err != nil {
		j.logger.Error().Err(err).Msg("Failed to prune sessions")
		return
	}
	if pruned > 0 {
		j.logger.Info().Int("pruned", pruned).Msg("Pruned idle sessions")
	}
}
