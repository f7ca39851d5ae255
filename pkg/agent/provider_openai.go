package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/harun/streamrun/internal/observability"
)

// OpenAITaskName is the registry name of the OpenAI task
const OpenAITaskName = "openai"

// OpenAITask streams a chat completion as final plain tokens
type OpenAITask struct {
	cfg    ProviderConfig
	client openai.Client
}

// NewOpenAITask creates an OpenAI-backed task
func NewOpenAITask(cfg ProviderConfig) *OpenAITask {
	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.MaxRetries >= 0 {
		opts = append(opts, option.WithMaxRetries(cfg.MaxRetries))
	}
	return &OpenAITask{
		cfg:    cfg,
		client: openai.NewClient(opts...),
	}
}

// Name returns the registry name
func (t *OpenAITask) Name() string {
	return OpenAITaskName
}

// Run streams the completion for the input message
func (t *OpenAITask) Run(ctx context.Context, in Input, sink Sink) (Result, error) {
	if err := t.cfg.validate(OpenAITaskName); err != nil {
		return Result{}, err
	}

	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(in.History)+1)
	for _, msg := range in.History {
		if msg.Role == RoleAI {
			messages = append(messages, openai.AssistantMessage(msg.Content))
		} else {
			messages = append(messages, openai.UserMessage(msg.Content))
		}
	}
	messages = append(messages, openai.UserMessage(in.Message))

	params := openai.ChatCompletionNewParams{
		Model:     openai.ChatModel(t.cfg.Model),
		Messages:  messages,
		MaxTokens: openai.Int(t.cfg.maxTokens()),
	}

	stream := t.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	var answer strings.Builder
	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if err := emitDelta(sink, choice.Delta.Content); err != nil {
				observability.RecordProviderStream(OpenAITaskName, false)
				return Result{}, err
			}
			answer.WriteString(choice.Delta.Content)
		}
	}

	if err := stream.Err(); err != nil {
		observability.RecordProviderStream(OpenAITaskName, false)
		var apiErr *openai.Error
		if errors.As(err, &apiErr) {
			return Result{}, NewTaskError("OpenAIError", fmt.Sprintf("status %d: %s", apiErr.StatusCode, apiErr.Error()))
		}
		return Result{}, fmt.Errorf("openai stream failed: %w", err)
	}

	observability.RecordProviderStream(OpenAITaskName, true)
	return Conversation(in, answer.String()), nil
}
