package config

import (
	"fmt"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

func oneOf(value string, valid []string) bool {
	for _, v := range valid {
		if value == v {
			return true
		}
	}
	return false
}

// ValidateAPIKey validates an API key format. Empty keys are allowed; the
// provider's task then fails when it runs.
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return nil
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidatePort validates a TCP port
func (v *Validator) ValidatePort(port int) error {
	if port < 1 || port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", port)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	if oneOf(level, validLevels) {
		return nil
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateLogOutput validates the console log destination
func (v *Validator) ValidateLogOutput(output string) error {
	validOutputs := []string{"stdout", "stderr", "none"}
	if output == "" || oneOf(output, validOutputs) {
		return nil
	}
	return fmt.Errorf("invalid log output: %s (must be one of: %s)", output, strings.Join(validOutputs, ", "))
}

// ValidateIsolation validates the worker isolation mode
func (v *Validator) ValidateIsolation(mode string) error {
	validModes := []string{"process", "local"}
	if oneOf(mode, validModes) {
		return nil
	}
	return fmt.Errorf("invalid sandbox isolation: %s (must be one of: %s)", mode, strings.Join(validModes, ", "))
}

// ValidateStoreDriver validates the conversation store driver
func (v *Validator) ValidateStoreDriver(driver string) error {
	validDrivers := []string{"sqlite", "memory"}
	if oneOf(driver, validDrivers) {
		return nil
	}
	return fmt.Errorf("invalid store driver: %s (must be one of: %s)", driver, strings.Join(validDrivers, ", "))
}

// ValidateSchedule validates a janitor cron schedule
func (v *Validator) ValidateSchedule(schedule string) error {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return fmt.Errorf("invalid janitor schedule %q: %w", schedule, err)
	}
	return nil
}

// ValidateRunPolicy validates the orchestrator timing settings
func (v *Validator) ValidateRunPolicy(o OrchestratorConfig) []error {
	var errors []error

	if o.IdleTimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("orchestrator.idle_timeout_seconds must be > 0"))
	}
	if o.HeartbeatIntervalSeconds <= 0 {
		errors = append(errors, fmt.Errorf("orchestrator.heartbeat_interval_seconds must be > 0"))
	}
	if o.IdleTimeoutSeconds > 0 && o.HeartbeatIntervalSeconds >= o.IdleTimeoutSeconds {
		errors = append(errors, fmt.Errorf("orchestrator.heartbeat_interval_seconds must be less than idle_timeout_seconds"))
	}
	if o.PollIntervalMs <= 0 {
		errors = append(errors, fmt.Errorf("orchestrator.poll_interval_ms must be > 0"))
	}
	if o.ExecutionResultMaxChars < 0 {
		errors = append(errors, fmt.Errorf("orchestrator.execution_result_max_chars must be >= 0"))
	}
	if o.QueueSize <= 0 {
		errors = append(errors, fmt.Errorf("orchestrator.queue_size must be > 0"))
	}

	return errors
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := v.ValidatePort(cfg.Server.Port); err != nil {
		errors = append(errors, fmt.Errorf("server: %w", err))
	}
	if cfg.Server.MaxBodyBytes <= 0 {
		errors = append(errors, fmt.Errorf("server.max_body_bytes must be > 0"))
	}
	if cfg.Server.RequestsPerMinute < 0 || cfg.Server.MaxConcurrentRuns < 0 {
		errors = append(errors, fmt.Errorf("server rate limits must be >= 0"))
	}

	errors = append(errors, v.ValidateRunPolicy(cfg.Orchestrator)...)

	if err := v.ValidateIsolation(cfg.Sandbox.Isolation); err != nil {
		errors = append(errors, err)
	}
	if cfg.Sandbox.TimeoutSeconds < 0 {
		errors = append(errors, fmt.Errorf("sandbox.timeout_seconds must be >= 0"))
	}
	if cfg.Sandbox.MaxMemoryMB < 0 {
		errors = append(errors, fmt.Errorf("sandbox.max_memory_mb must be >= 0"))
	}

	if cfg.LinkPreview.Enabled && cfg.LinkPreview.TimeoutSeconds <= 0 {
		errors = append(errors, fmt.Errorf("link_preview.timeout_seconds must be > 0"))
	}

	if err := v.ValidateStoreDriver(cfg.Store.Driver); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateAPIKey(cfg.Providers.Anthropic.APIKey, "anthropic"); err != nil {
		errors = append(errors, fmt.Errorf("providers.anthropic: %w", err))
	}
	if err := v.ValidateAPIKey(cfg.Providers.OpenAI.APIKey, "openai"); err != nil {
		errors = append(errors, fmt.Errorf("providers.openai: %w", err))
	}

	if cfg.Janitor.Enabled {
		if err := v.ValidateSchedule(cfg.Janitor.Schedule); err != nil {
			errors = append(errors, err)
		}
		if cfg.Janitor.MaxRunAgeSeconds <= 0 {
			errors = append(errors, fmt.Errorf("janitor.max_run_age_seconds must be > 0"))
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogOutput(cfg.Logging.Output); err != nil {
		errors = append(errors, err)
	}

	return errors
}
