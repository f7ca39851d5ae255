package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/streamrun/pkg/stream"
)

// ScriptedTaskName is the registry name of the scripted task
const ScriptedTaskName = "scripted"

// ScriptSchema is the JSON schema of a scripted task payload
const ScriptSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "properties": {
    "steps": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["type"],
        "additionalProperties": false,
        "properties": {
          "type": {"type": "string", "minLength": 1},
          "text": {"type": "string"},
          "final": {"type": "boolean"},
          "delay_ms": {"type": "integer", "minimum": 0}
        }
      }
    },
    "answer": {"type": "string"},
    "error": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"type": "string", "minLength": 1},
        "message": {"type": "string"}
      }
    },
    "panic": {"type": "string"},
    "hang": {"type": "boolean"},
    "empty_result": {"type": "boolean"}
  }
}`

// Step is one scripted event, optionally delayed
type Step struct {
	Type    stream.Type `json:"type"`
	Text    string      `json:"text"`
	Final   bool        `json:"final,omitempty"`
	DelayMs int         `json:"delay_ms,omitempty"`
}

// Script drives a ScriptedTask run
type Script struct {
	Steps []Step `json:"steps,omitempty"`

	// Answer overrides the AI message; defaults to the final steps' text
	Answer string `json:"answer,omitempty"`

	// Error fails the run after all steps were emitted
	Error *TaskError `json:"error,omitempty"`

	// Panic panics with the message after all steps were emitted
	Panic string `json:"panic,omitempty"`

	// Hang blocks after the steps until the run is cancelled
	Hang bool `json:"hang,omitempty"`

	// EmptyResult returns a result without the new turn
	EmptyResult bool `json:"empty_result,omitempty"`
}

// ScriptedTask replays a JSON script of events. It needs no provider
// credentials and is used for demos, replay and tests.
type ScriptedTask struct {
	schema *gojsonschema.Schema
}

// NewScriptedTask creates a scripted task
func NewScriptedTask() *ScriptedTask {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ScriptSchema))
	if err != nil {
		panic(fmt.Sprintf("invalid script schema: %v", err))
	}
	return &ScriptedTask{schema: schema}
}

// Name returns the registry name
func (t *ScriptedTask) Name() string {
	return ScriptedTaskName
}

// ParseScript validates and decodes a payload. An empty payload yields a
// script that echoes the input message as a final answer.
func (t *ScriptedTask) ParseScript(payload json.RawMessage, message string) (*Script, error) {
	if len(payload) == 0 || string(payload) == "null" {
		return echoScript(message), nil
	}

	result, err := t.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(errs, "; "))
	}

	var script Script
	if err := json.Unmarshal(payload, &script); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return &script, nil
}

func echoScript(message string) *Script {
	var steps []Step
	for _, word := range strings.SplitAfter(message, " ") {
		if word == "" {
			continue
		}
		steps = append(steps, Step{Type: stream.TypePlain, Text: word, Final: true})
	}
	return &Script{Steps: steps}
}

// Run emits the scripted steps and returns the scripted outcome
func (t *ScriptedTask) Run(ctx context.Context, in Input, sink Sink) (Result, error) {
	script, err := t.ParseScript(in.Payload, in.Message)
	if err != nil {
		return Result{}, err
	}

	var answer strings.Builder
	for _, step := range script.Steps {
		if step.DelayMs > 0 {
			timer := time.NewTimer(time.Duration(step.DelayMs) * time.Millisecond)
			select {
			case <-ctx.Done():
				timer.Stop()
				return Result{}, ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		if err := sink.Emit(stream.Event{Type: step.Type, Text: step.Text, Final: step.Final}); err != nil {
			return Result{}, fmt.Errorf("failed to emit event: %w", err)
		}
		if step.Final && step.Type.IsToken() {
			answer.WriteString(step.Text)
		}
	}

	if script.Hang {
		<-ctx.Done()
		return Result{}, ctx.Err()
	}
	if script.Panic != "" {
		panic(script.Panic)
	}
	if script.Error != nil {
		return Result{}, script.Error
	}
	if script.EmptyResult {
		return Result{Messages: in.History}, nil
	}

	text := answer.String()
	if script.Answer != "" {
		text = script.Answer
	}
	return Conversation(in, text), nil
}
