package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/harun/streamrun/internal/observability"
)

// AnthropicTaskName is the registry name of the Anthropic task
const AnthropicTaskName = "anthropic"

// AnthropicTask streams a Claude completion as final plain tokens
type AnthropicTask struct {
	cfg    ProviderConfig
	client anthropic.Client
}

// NewAnthropicTask creates an Anthropic-backed task
func NewAnthropicTask(cfg ProviderConfig) *AnthropicTask {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &AnthropicTask{
		cfg:    cfg,
		client: anthropic.NewClient(opts...),
	}
}

// Name returns the registry name
func (t *AnthropicTask) Name() string {
	return AnthropicTaskName
}

// Run streams the completion for the input message
func (t *AnthropicTask) Run(ctx context.Context, in Input, sink Sink) (Result, error) {
	if err := t.cfg.validate(AnthropicTaskName); err != nil {
		return Result{}, err
	}

	messages := make([]anthropic.MessageParam, 0, len(in.History)+1)
	for _, msg := range in.History {
		if msg.Role == RoleAI {
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(msg.Content)))
		} else {
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(msg.Content)))
		}
	}
	messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(in.Message)))

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(t.cfg.Model),
		Messages:  messages,
		MaxTokens: t.cfg.maxTokens(),
	}

	stream := t.client.Messages.NewStreaming(ctx, params)
	defer stream.Close()

	var answer strings.Builder
	for stream.Next() {
		event := stream.Current()

		switch event.Type {
		case "content_block_delta":
			delta := event.AsContentBlockDelta().Delta
			if delta.Type != "text_delta" {
				continue
			}
			if err := emitDelta(sink, delta.Text); err != nil {
				observability.RecordProviderStream(AnthropicTaskName, false)
				return Result{}, err
			}
			answer.WriteString(delta.Text)

		case "error":
			observability.RecordProviderStream(AnthropicTaskName, false)
			return Result{}, NewTaskError("AnthropicError", "stream error event received")

		case "message_stop":
			observability.RecordProviderStream(AnthropicTaskName, true)
			return Conversation(in, answer.String()), nil
		}
	}

	if err := stream.Err(); err != nil {
		observability.RecordProviderStream(AnthropicTaskName, false)
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return Result{}, NewTaskError("AnthropicError", fmt.Sprintf("status %d: %s", apiErr.StatusCode, apiErr.Error()))
		}
		return Result{}, fmt.Errorf("anthropic stream failed: %w", err)
	}

	// Stream closed without message_stop; keep what arrived.
	observability.RecordProviderStream(AnthropicTaskName, true)
	return Conversation(in, answer.String()), nil
}
