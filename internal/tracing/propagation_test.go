package tracing

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestLoggerFromContext(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	ctx := NewContext(context.Background(), &TraceContext{
		TraceID: "trace-123",
		RunID:   "run-456",
		ChatID:  "chat-789",
	})

	logger := LoggerFromContext(ctx, base)
	logger.Info().Msg("test message")

	output := buf.String()
	for _, want := range []string{"trace-123", "run-456", "chat-789"} {
		if !strings.Contains(output, want) {
			t.Errorf("Expected %q in log output: %s", want, output)
		}
	}
	if strings.Contains(output, "user_id") {
		t.Errorf("Empty fields must not be logged: %s", output)
	}
}

func TestMergeContext(t *testing.T) {
	source := NewContext(context.Background(), &TraceContext{TraceID: "src-trace", ChatID: "src-chat"})
	target := WithTraceID(context.Background(), "tgt-trace")

	merged := MergeContext(target, source)

	if GetTraceID(merged) != "tgt-trace" {
		t.Error("Existing trace ID must not be overwritten")
	}
	if GetChatID(merged) != "src-chat" {
		t.Error("Missing chat ID not merged")
	}
}

func TestDetach(t *testing.T) {
	parent, cancel := context.WithCancel(WithRunID(context.Background(), "run-1"))
	cancel()

	detached := Detach(parent)

	if detached.Err() != nil {
		t.Error("Detached context must not inherit cancellation")
	}
	if GetRunID(detached) != "run-1" {
		t.Error("Run ID not carried over")
	}
}
