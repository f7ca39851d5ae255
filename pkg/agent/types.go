package agent

import (
	"context"
	"encoding/json"

	"github.com/harun/streamrun/pkg/stream"
)

// Message roles used in conversation history
const (
	RoleHuman = "human"
	RoleAI    = "ai"
)

// Message is one conversation turn as seen by a task
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Input is everything a task receives for one run
type Input struct {
	UserID  string    `json:"user_id"`
	ChatID  string    `json:"chat_id"`
	Message string    `json:"message"`
	History []Message `json:"history,omitempty"`

	// Payload carries task-specific parameters, e.g. a scripted run
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Result is the conversation after the run
type Result struct {
	Messages []Message `json:"messages"`
}

// Turn returns the new human and AI messages. ok is false when the result
// holds fewer than two messages.
func (r Result) Turn() (human, ai Message, ok bool) {
	n := len(r.Messages)
	if n < 2 {
		return Message{}, Message{}, false
	}
	return r.Messages[n-2], r.Messages[n-1], true
}

// Sink receives the events a task emits
type Sink interface {
	Emit(ev stream.Event) error
}

// SinkFunc adapts a function to Sink
type SinkFunc func(ev stream.Event) error

// Emit calls f(ev)
func (f SinkFunc) Emit(ev stream.Event) error {
	return f(ev)
}

// Task is a unit of agent work run inside a worker
type Task interface {
	// Name identifies the task in requests and on the worker command line
	Name() string

	// Run executes the task. It must return promptly once ctx is done.
	Run(ctx context.Context, in Input, sink Sink) (Result, error)
}

// Conversation appends the new turn to the input history
func Conversation(in Input, answer string) Result {
	messages := make([]Message, 0, len(in.History)+2)
	messages = append(messages, in.History...)
	messages = append(messages,
		Message{Role: RoleHuman, Content: in.Message},
		Message{Role: RoleAI, Content: answer},
	)
	return Result{Messages: messages}
}
