package config

import (
	"encoding/json"
	"errors"
	"time"
)

// Config represents the streamrun configuration
type Config struct {
	// HTTP server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Run policy: idle timeout, heartbeat cadence, poll tick
	Orchestrator OrchestratorConfig `json:"orchestrator" mapstructure:"orchestrator"`

	// Worker isolation
	Sandbox SandboxConfig `json:"sandbox" mapstructure:"sandbox"`

	// Link preview fetching
	LinkPreview LinkPreviewConfig `json:"link_preview" mapstructure:"link_preview"`

	// Conversation store
	Store StoreConfig `json:"store" mapstructure:"store"`

	// LLM providers used by the anthropic and openai tasks
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Registry janitor
	Janitor JanitorConfig `json:"janitor" mapstructure:"janitor"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// Conversation memory (JSONL) directory
	SessionsDir string `json:"sessions_dir" mapstructure:"sessions_dir"`

	// Messages kept per conversation memory; 0 keeps everything
	SessionMaxMessages int `json:"session_max_messages" mapstructure:"session_max_messages"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host                   string `json:"host" mapstructure:"host"`
	Port                   int    `json:"port" mapstructure:"port"`
	ShutdownTimeoutSeconds int    `json:"shutdown_timeout_seconds" mapstructure:"shutdown_timeout_seconds"`
	MaxBodyBytes           int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`
	SharedSecret           string `json:"shared_secret" mapstructure:"shared_secret"`
	RequestsPerMinute      int    `json:"requests_per_minute" mapstructure:"requests_per_minute"`
	MaxConcurrentRuns      int    `json:"max_concurrent_runs" mapstructure:"max_concurrent_runs"`
}

// OrchestratorConfig holds the run policy
type OrchestratorConfig struct {
	IdleTimeoutSeconds       int `json:"idle_timeout_seconds" mapstructure:"idle_timeout_seconds"`
	HeartbeatIntervalSeconds int `json:"heartbeat_interval_seconds" mapstructure:"heartbeat_interval_seconds"`
	PollIntervalMs           int `json:"poll_interval_ms" mapstructure:"poll_interval_ms"`
	ExecutionResultMaxChars  int `json:"execution_result_max_chars" mapstructure:"execution_result_max_chars"`
	QueueSize                int `json:"queue_size" mapstructure:"queue_size"`
}

// IdleTimeout returns the idle timeout as a duration
func (o OrchestratorConfig) IdleTimeout() time.Duration {
	return time.Duration(o.IdleTimeoutSeconds) * time.Second
}

// HeartbeatInterval returns the heartbeat interval as a duration
func (o OrchestratorConfig) HeartbeatInterval() time.Duration {
	return time.Duration(o.HeartbeatIntervalSeconds) * time.Second
}

// PollInterval returns the poll tick as a duration
func (o OrchestratorConfig) PollInterval() time.Duration {
	return time.Duration(o.PollIntervalMs) * time.Millisecond
}

// SandboxConfig holds worker isolation settings
type SandboxConfig struct {
	Isolation      string   `json:"isolation" mapstructure:"isolation"` // process, local
	WorkingDir     string   `json:"working_dir" mapstructure:"working_dir"`
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxMemoryMB    int      `json:"max_memory_mb" mapstructure:"max_memory_mb"`
	AllowedPaths   []string `json:"allowed_paths" mapstructure:"allowed_paths"`
	DeniedPaths    []string `json:"denied_paths" mapstructure:"denied_paths"`
	PassEnv        []string `json:"pass_env" mapstructure:"pass_env"`
}

// LinkPreviewConfig holds link preview fetcher settings
type LinkPreviewConfig struct {
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	UserAgent      string `json:"user_agent" mapstructure:"user_agent"`
	MaxBodyBytes   int64  `json:"max_body_bytes" mapstructure:"max_body_bytes"`

	// AllowPrivateHosts lets previews reach loopback and private networks
	AllowPrivateHosts bool `json:"allow_private_hosts" mapstructure:"allow_private_hosts"`
}

// StoreConfig holds conversation store settings
type StoreConfig struct {
	Driver string `json:"driver" mapstructure:"driver"` // sqlite, memory
	Path   string `json:"path" mapstructure:"path"`
}

// ProvidersConfig holds LLM provider credentials
type ProvidersConfig struct {
	Anthropic ProviderConfig `json:"anthropic" mapstructure:"anthropic"`
	OpenAI    ProviderConfig `json:"openai" mapstructure:"openai"`
}

// ProviderConfig holds one provider's settings
type ProviderConfig struct {
	APIKey    string `json:"api_key" mapstructure:"api_key"`
	Model     string `json:"model" mapstructure:"model"`
	MaxTokens int    `json:"max_tokens" mapstructure:"max_tokens"`
	BaseURL   string `json:"base_url" mapstructure:"base_url"`
}

// JanitorConfig holds registry janitor settings
type JanitorConfig struct {
	Enabled          bool   `json:"enabled" mapstructure:"enabled"`
	Schedule         string `json:"schedule" mapstructure:"schedule"`
	MaxRunAgeSeconds int    `json:"max_run_age_seconds" mapstructure:"max_run_age_seconds"`

	// SessionMaxAgeHours prunes memories idle this long; 0 keeps them
	SessionMaxAgeHours int `json:"session_max_age_hours" mapstructure:"session_max_age_hours"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	Output    string `json:"output" mapstructure:"output"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	File      string `json:"file" mapstructure:"file"`
	MaxSizeMB int    `json:"max_size_mb" mapstructure:"max_size_mb"`
	MaxFiles  int    `json:"max_files" mapstructure:"max_files"`
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host:                   "127.0.0.1",
			Port:                   8080,
			ShutdownTimeoutSeconds: 30,
			MaxBodyBytes:           1 << 20,
			RequestsPerMinute:      60,
			MaxConcurrentRuns:      4,
		},
		Orchestrator: OrchestratorConfig{
			IdleTimeoutSeconds:       90,
			HeartbeatIntervalSeconds: 10,
			PollIntervalMs:           35,
			ExecutionResultMaxChars:  4000,
			QueueSize:                1024,
		},
		Sandbox: SandboxConfig{
			Isolation:      "process",
			TimeoutSeconds: 1800,
			AllowedPaths:   []string{},
			DeniedPaths:    []string{"/etc", "/sys", "/proc"},
			PassEnv:        []string{"TZ", "LANG"},
		},
		LinkPreview: LinkPreviewConfig{
			Enabled:        true,
			TimeoutSeconds: 3,
			UserAgent:      "streamrun-linkpreview/1.0",
			MaxBodyBytes:   2 << 20,
		},
		Store: StoreConfig{
			Driver: "sqlite",
		},
		Providers: ProvidersConfig{
			Anthropic: ProviderConfig{
				Model:     "claude-sonnet-4-20250514",
				MaxTokens: 4096,
			},
			OpenAI: ProviderConfig{
				Model:     "gpt-4o",
				MaxTokens: 4096,
			},
		},
		Janitor: JanitorConfig{
			Enabled:            true,
			Schedule:           "@every 1m",
			MaxRunAgeSeconds:   3600,
			SessionMaxAgeHours: 720,
		},
		SessionMaxMessages: 100,
		Logging: LoggingConfig{
			Level:     "info",
			Output:    "stdout",
			MaxSizeMB: 100,
			MaxFiles:  5,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	return errors.Join(NewValidator().ValidateConfig(c)...)
}
