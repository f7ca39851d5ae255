package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/orchestrator"
)

// ChatRequestSchema is the JSON schema of a chat request body
const ChatRequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["user_id", "chat_id", "task"],
  "additionalProperties": false,
  "properties": {
    "user_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "chat_id": {"type": "string", "minLength": 1, "maxLength": 128},
    "parent_message_id": {"type": "integer", "minimum": 0},
    "task": {"type": "string", "minLength": 1},
    "message": {"type": "string"},
    "payload": {}
  }
}`

// HeaderTraceID carries a caller-chosen trace id
const HeaderTraceID = "X-Trace-Id"

// errInvalidBody marks a request body that failed validation
var errInvalidBody = errors.New("invalid request body")

type validationError struct {
	details []string
}

func (e *validationError) Error() string {
	return fmt.Sprintf("%s: %d problem(s)", errInvalidBody, len(e.details))
}

func (e *validationError) Unwrap() error {
	return errInvalidBody
}

// decodeChatRequest validates body against the chat schema and decodes it
func (s *Server) decodeChatRequest(body []byte) (orchestrator.Request, error) {
	var req orchestrator.Request

	result, err := s.schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return req, &validationError{details: []string{err.Error()}}
	}
	if !result.Valid() {
		details := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			details = append(details, e.String())
		}
		return req, &validationError{details: details}
	}

	if err := json.Unmarshal(body, &req); err != nil {
		return req, &validationError{details: []string{err.Error()}}
	}
	return req, nil
}

// runContext carries the caller's trace id into the run
func runContext(r *http.Request) context.Context {
	ctx := r.Context()
	traceID := r.Header.Get(HeaderTraceID)
	if traceID == "" {
		traceID = tracing.NewTraceID()
	}
	return tracing.WithTraceID(ctx, traceID)
}

// handleChat streams one run as length-prefixed frames
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "failed to read request body", nil)
		return
	}
	if !s.auth.Authorize(r, body) {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	req, err := s.decodeChatRequest(body)
	if err != nil {
		var verr *validationError
		errors.As(err, &verr)
		writeError(w, http.StatusBadRequest, errInvalidBody.Error(), verr.details)
		return
	}

	if !s.admit() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down", nil)
		return
	}
	defer s.inFlight.Done()

	if ok, reason := s.limiter.Acquire(req.UserID); !ok {
		writeError(w, http.StatusTooManyRequests, reason, nil)
		return
	}
	defer s.limiter.Release(req.UserID)

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Content-Type-Options", "nosniff")

	ctx := runContext(r)
	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Info().
		Str("chat_id", req.ChatID).
		Str("user_id", req.UserID).
		Str("task", req.Task).
		Msg("Gateway received chat request")

	result, err := s.orch.Run(ctx, req, w)
	if err != nil {
		w.Header().Set("Content-Type", "application/json")
		status := http.StatusInternalServerError
		if errors.Is(err, orchestrator.ErrInvalidRequest) {
			status = http.StatusBadRequest
		}
		logger.Error().Err(err).Msg("Run could not start")
		writeError(w, status, err.Error(), nil)
		return
	}

	logger.Debug().
		Str("outcome", result.Outcome.String()).
		Int("frames", result.Frames).
		Msg("Chat stream closed")
}

// handleStop signals the live run of a chat
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "failed to read request body", nil)
		return
	}
	if !s.auth.Authorize(r, body) {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	var req StopRequest
	if err := json.Unmarshal(body, &req); err != nil || req.ChatID == "" {
		writeError(w, http.StatusBadRequest, "chat_id is required", nil)
		return
	}

	stopped := s.orch.Stop(runContext(r), req.ChatID)
	s.logger.Info().Str("chat_id", req.ChatID).Bool("stopped", stopped).Msg("Stop requested")
	writeJSON(w, http.StatusOK, StopResponse{ChatID: req.ChatID, Stopped: stopped})
}

// handleRuns lists live runs and websocket clients
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", nil)
		return
	}
	if !s.auth.Authorize(r, nil) {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"active_chats": s.orch.Registry().Active(),
		"clients":      s.clients.Infos(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string, details []string) {
	writeJSON(w, status, ErrorResponse{Error: message, Details: details})
}
