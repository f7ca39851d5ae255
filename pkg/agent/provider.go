package agent

import (
	"errors"
	"fmt"

	"github.com/harun/streamrun/pkg/stream"
)

// ErrMissingAPIKey is returned when a provider task has no credentials
var ErrMissingAPIKey = errors.New("provider API key not configured")

// ProviderConfig configures an LLM-backed task
type ProviderConfig struct {
	APIKey    string
	Model     string
	MaxTokens int
	BaseURL   string

	// MaxRetries is passed to the SDK client; negative keeps the SDK default
	MaxRetries int
}

func (c ProviderConfig) validate(provider string) error {
	if c.APIKey == "" {
		return fmt.Errorf("%s: %w", provider, ErrMissingAPIKey)
	}
	if c.Model == "" {
		return fmt.Errorf("%s: model not configured", provider)
	}
	return nil
}

func (c ProviderConfig) maxTokens() int64 {
	if c.MaxTokens <= 0 {
		return 4096
	}
	return int64(c.MaxTokens)
}

// emitDelta forwards one text delta as a final plain token
func emitDelta(sink Sink, text string) error {
	if text == "" {
		return nil
	}
	if err := sink.Emit(stream.Event{Type: stream.TypePlain, Text: text, Final: true}); err != nil {
		return fmt.Errorf("failed to emit delta: %w", err)
	}
	return nil
}
