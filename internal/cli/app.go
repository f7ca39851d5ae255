package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/harun/streamrun/internal/config"
	"github.com/harun/streamrun/internal/logger"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/conversation"
	"github.com/harun/streamrun/pkg/linkpreview"
	"github.com/harun/streamrun/pkg/orchestrator"
	"github.com/harun/streamrun/pkg/sandbox"
	"github.com/harun/streamrun/pkg/session"
)

// loadConfig loads and validates the config named by --config. An explicit
// --log-level wins over the file.
func loadConfig(levelChanged bool) (*config.Loader, *config.Config, error) {
	loader := config.NewLoader(cfgFile)
	cfg, err := loader.Load()
	if err != nil {
		return nil, nil, err
	}
	if levelChanged {
		cfg.Logging.Level = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return loader, cfg, nil
}

// workerConfigPath is the absolute config path handed to process workers,
// whose working directory and HOME differ from ours.
func workerConfigPath(loader *config.Loader) string {
	path := loader.GetConfigPath()
	if path == "" {
		return ""
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

func loggerConfig(cfg config.LoggingConfig) logger.Config {
	return logger.Config{
		Level:     cfg.Level,
		Output:    cfg.Output,
		File:      cfg.File,
		Pretty:    cfg.Pretty,
		Redaction: cfg.Redaction,
		MaxSizeMB: cfg.MaxSizeMB,
		MaxFiles:  cfg.MaxFiles,
		Compress:  cfg.Compress,
	}
}

func providerConfig(p config.ProviderConfig) agent.ProviderConfig {
	return agent.ProviderConfig{
		APIKey:     p.APIKey,
		Model:      p.Model,
		MaxTokens:  p.MaxTokens,
		BaseURL:    p.BaseURL,
		MaxRetries: -1,
	}
}

// buildTaskRegistry registers every task a worker can run
func buildTaskRegistry(cfg *config.Config) *agent.Registry {
	return agent.NewDefaultRegistry(
		providerConfig(cfg.Providers.Anthropic),
		providerConfig(cfg.Providers.OpenAI),
	)
}

// sandboxConfig maps the sandbox section onto launcher settings. Process
// workers re-execute this binary as "worker --config <configPath>".
func sandboxConfig(cfg *config.Config, configPath string) sandbox.Config {
	sc := sandbox.DefaultConfig()
	sc.Isolation = sandbox.Isolation(cfg.Sandbox.Isolation)
	sc.Command = []string{"worker", "--log-level", cfg.Logging.Level}
	if configPath != "" {
		sc.Command = append(sc.Command, "--config", configPath)
	}
	sc.WorkingDir = cfg.Sandbox.WorkingDir
	sc.ResourceLimits = sandbox.ResourceLimits{
		MaxMemoryMB: cfg.Sandbox.MaxMemoryMB,
		Timeout:     time.Duration(cfg.Sandbox.TimeoutSeconds) * time.Second,
	}
	if len(cfg.Sandbox.AllowedPaths) > 0 {
		sc.FilesystemAccess.AllowedPaths = cfg.Sandbox.AllowedPaths
	}
	if cfg.Sandbox.DeniedPaths != nil {
		sc.FilesystemAccess.DeniedPaths = cfg.Sandbox.DeniedPaths
	}
	sc.PassEnv = append(sc.PassEnv, cfg.Sandbox.PassEnv...)
	sc.QueueSize = cfg.Orchestrator.QueueSize
	return sc
}

func policyFrom(o config.OrchestratorConfig) orchestrator.Policy {
	return orchestrator.Policy{
		IdleTimeout:       o.IdleTimeout(),
		HeartbeatInterval: o.HeartbeatInterval(),
		PollInterval:      o.PollInterval(),
	}
}

func openStore(cfg *config.Config, log zerolog.Logger) (conversation.Store, error) {
	if cfg.Store.Driver == "memory" {
		return conversation.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	return conversation.NewSQLiteStore(cfg.Store.Path, log)
}

// buildOrchestrator wires the orchestrator with its collaborators
func buildOrchestrator(cfg *config.Config, launcher sandbox.Launcher, store conversation.Store, pool session.Pool, log zerolog.Logger) *orchestrator.Orchestrator {
	opts := []orchestrator.Option{
		orchestrator.WithStore(store),
		orchestrator.WithPool(pool),
		orchestrator.WithPolicy(policyFrom(cfg.Orchestrator)),
		orchestrator.WithExecutionResultMaxChars(cfg.Orchestrator.ExecutionResultMaxChars),
		orchestrator.WithLogger(log),
	}
	if cfg.LinkPreview.Enabled {
		opts = append(opts, orchestrator.WithPreviews(linkpreview.New(linkpreview.Config{
			Timeout:           time.Duration(cfg.LinkPreview.TimeoutSeconds) * time.Second,
			UserAgent:         cfg.LinkPreview.UserAgent,
			MaxBodyBytes:      cfg.LinkPreview.MaxBodyBytes,
			AllowPrivateHosts: cfg.LinkPreview.AllowPrivateHosts,
		}, log)))
	}
	return orchestrator.New(launcher, orchestrator.NewRegistry(), opts...)
}
