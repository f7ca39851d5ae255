package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/conversation"
	"github.com/harun/streamrun/pkg/framing"
	"github.com/harun/streamrun/pkg/sandbox"
	"github.com/harun/streamrun/pkg/session"
	"github.com/harun/streamrun/pkg/stream"
)

// Request is one chat turn to run
type Request struct {
	UserID          string          `json:"user_id"`
	ChatID          string          `json:"chat_id"`
	ParentMessageID int64           `json:"parent_message_id"`
	Task            string          `json:"task"`
	Message         string          `json:"message"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

func (r Request) validate() error {
	switch {
	case r.UserID == "":
		return fmt.Errorf("%w: user_id is required", ErrInvalidRequest)
	case r.ChatID == "":
		return fmt.Errorf("%w: chat_id is required", ErrInvalidRequest)
	case r.Task == "":
		return fmt.Errorf("%w: task is required", ErrInvalidRequest)
	}
	return nil
}

// intent is what the user asked for, stored with the user message
func (r Request) intent() (json.RawMessage, error) {
	return json.Marshal(struct {
		Task    string          `json:"task"`
		Message string          `json:"message"`
		Payload json.RawMessage `json:"payload,omitempty"`
	}{r.Task, r.Message, r.Payload})
}

// RunResult describes a finished run
type RunResult struct {
	Outcome        Outcome
	HumanMessageID int64
	AIMessageID    int64

	// ErrorMessage is the rendered worker error of an internal failure
	ErrorMessage string

	// Cause classifies a failed outcome with one of the package sentinels
	Cause error

	Intermediate []stream.Segment
	Final        []stream.Segment

	// PersistErr is set when a successful run could not be stored
	PersistErr error

	Frames   int
	Duration time.Duration
}

// Orchestrator runs chat turns against isolated workers
type Orchestrator struct {
	launcher sandbox.Launcher
	registry *Registry

	store     conversation.Store
	pool      session.Pool
	previews  stream.PreviewFetcher
	persister *Persister
	policy    atomic.Pointer[Policy]

	executionResultMaxChars int
	nextID                  atomic.Int64

	logger zerolog.Logger
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

// WithStore sets the conversation store
func WithStore(store conversation.Store) Option {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithPool sets the conversation memory pool
func WithPool(pool session.Pool) Option {
	return func(o *Orchestrator) {
		o.pool = pool
	}
}

// WithPreviews sets the link-preview fetcher used for link cards
func WithPreviews(previews stream.PreviewFetcher) Option {
	return func(o *Orchestrator) {
		o.previews = previews
	}
}

// WithPolicy sets the run timings
func WithPolicy(policy Policy) Option {
	return func(o *Orchestrator) {
		o.SetPolicy(policy)
	}
}

// WithExecutionResultMaxChars caps execution_result output per contiguous run
func WithExecutionResultMaxChars(n int) Option {
	return func(o *Orchestrator) {
		o.executionResultMaxChars = n
	}
}

// WithLogger sets the logger
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator
func New(launcher sandbox.Launcher, registry *Registry, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		launcher: launcher,
		registry: registry,
		logger:   zerolog.Nop(),
	}
	o.SetPolicy(DefaultPolicy())

	for _, opt := range opts {
		opt(o)
	}

	if o.registry == nil {
		o.registry = NewRegistry()
	}
	o.logger = o.logger.With().Str("module", "orchestrator").Logger()
	o.persister = NewPersister(o.store, o.pool, o.logger)
	return o
}

// SetPolicy replaces the run timings. Runs already in flight keep theirs.
func (o *Orchestrator) SetPolicy(policy Policy) {
	p := policy.withDefaults()
	o.policy.Store(&p)
}

// Policy returns the current run timings
func (o *Orchestrator) Policy() Policy {
	return *o.policy.Load()
}

// Registry returns the process registry
func (o *Orchestrator) Registry() *Registry {
	return o.registry
}

// Stop asks the live run of chatID to stop. It reports whether a run was
// signalled.
func (o *Orchestrator) Stop(ctx context.Context, chatID string) bool {
	delivered := o.registry.SignalStop(chatID)
	observability.RecordStopAudit(ctx, chatID, delivered)
	return delivered
}

// Run executes one chat turn and streams its frames to w. The returned
// error is only set when the run could not start; in that case nothing was
// written. Every started run ends with exactly one outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request, w io.Writer) (*RunResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	policy := o.Policy()

	ctx = tracing.NewRunContext(ctx, req.UserID, req.ChatID, req.Task)
	ctx, span := tracing.StartSpan(ctx, "streamrun/orchestrator", "orchestrator.run",
		attribute.String("chat_id", req.ChatID),
		attribute.String("task", req.Task),
	)
	logger := tracing.LoggerFromContext(ctx, o.logger)

	history, err := o.history(ctx, req)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	humanID, aiID, err := o.allocateIDs(ctx)
	if err != nil {
		tracing.EndSpan(span, err)
		return nil, err
	}

	fw := framing.NewWriter(w)
	if err := fw.WriteFrame(stream.Header{HumanMessageID: humanID, AIMessageID: aiID}); err != nil {
		tracing.EndSpan(span, err)
		return nil, fmt.Errorf("write header: %w", err)
	}
	observability.RecordFrame("header")

	result := &RunResult{HumanMessageID: humanID, AIMessageID: aiID}
	res := o.execute(ctx, logger, policy, req, history, fw, result)

	result.Outcome = res.outcome
	result.ErrorMessage = res.message
	result.Cause = res.cause

	if term, ok := res.terminal(); ok {
		if err := fw.WriteFrame(term); err != nil {
			logger.Debug().Err(err).Msg("Client gone before terminal frame")
		} else {
			observability.RecordFrame("terminal")
		}
	}

	result.Frames = fw.Frames()
	result.Duration = time.Since(start)
	observability.RecordBytesWritten(fw.Bytes())
	observability.RecordRun(req.Task, res.outcome.String(), result.Duration)
	observability.RecordRunAudit(ctx, req.ChatID, res.outcome.String(), map[string]interface{}{
		"task":           req.Task,
		"ai_message_id":  aiID,
		"frames":         result.Frames,
		"duration_ms":    result.Duration.Milliseconds(),
		"error_message":  res.message,
		"persist_failed": result.PersistErr != nil,
	})

	var event *zerolog.Event
	switch {
	case errors.Is(res.cause, ErrEmptyResult):
		event = logger.Warn().Str("reason", "empty_result")
	case res.outcome == OutcomeInternalError:
		event = logger.Warn().Str("error_message", res.message)
	default:
		event = logger.Info()
	}
	event.
		Str("outcome", res.outcome.String()).
		Int("frames", result.Frames).
		Dur("duration", result.Duration).
		Msg("Run finished")

	tracing.EndSpan(span, res.outcome.Err())
	return result, nil
}

// execute launches the worker, drives the poll loop and resolves the
// outcome. Success runs are persisted here.
func (o *Orchestrator) execute(ctx context.Context, logger zerolog.Logger, policy Policy, req Request,
	history []session.Message, fw *framing.Writer, result *RunResult) resolution {

	in := agent.Input{
		UserID:  req.UserID,
		ChatID:  req.ChatID,
		Message: req.Message,
		History: toAgentHistory(history),
		Payload: req.Payload,
	}

	worker, err := o.launcher.Launch(ctx, req.Task, in)
	if err != nil {
		logger.Error().Err(err).Msg("Failed to launch worker")
		return resolution{
			outcome: OutcomeInternalError,
			message: RenderError(agent.FormatError(err)),
			cause:   ErrWorkerFailure,
		}
	}

	handle := o.registry.Register(req.ChatID, worker)
	logger.Debug().Str("worker_id", worker.ID()).Str("handle_id", handle.ID).Msg("Worker registered")

	seg := stream.NewSegmenter(stream.SegmenterOptions{
		Previews:                o.previews,
		ExecutionResultMaxChars: o.executionResultMaxChars,
		Logger:                  logger,
	})

	o.poll(ctx, logger, policy, req, handle, seg, fw)

	res := resolve(o.registry.Flush(handle))
	if res.outcome != OutcomeSuccess {
		return res
	}

	intermediate, final, err := seg.Transcript()
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build transcript")
		return resolution{
			outcome: OutcomeInternalError,
			message: RenderError(agent.FormatError(err)),
			cause:   ErrWorkerFailure,
		}
	}
	result.Intermediate = intermediate
	result.Final = final

	intent, err := req.intent()
	if err != nil {
		result.PersistErr = err
		return res
	}

	turn := Turn{
		UserID:          req.UserID,
		ChatID:          req.ChatID,
		HumanMessageID:  result.HumanMessageID,
		AIMessageID:     result.AIMessageID,
		ParentMessageID: req.ParentMessageID,
		UserIntent:      intent,
		Human:           res.human,
		AI:              res.ai,
		History:         history,
		Intermediate:    intermediate,
		Final:           final,
	}
	if err := o.persister.Persist(tracing.Detach(ctx), turn); err != nil {
		logger.Error().Err(err).Msg("Failed to persist turn")
		result.PersistErr = err
	}
	return res
}

// poll relays worker events to the client until the end-of-stream marker,
// a stop, or an idle timeout. It never waits longer than one tick without
// consulting the governor.
func (o *Orchestrator) poll(ctx context.Context, logger zerolog.Logger, policy Policy, req Request,
	handle *Handle, seg *stream.Segmenter, fw *framing.Writer) {

	gov := NewGovernor(policy, time.Now())
	ticker := time.NewTicker(policy.PollInterval)
	defer ticker.Stop()

	events := handle.Worker.Events()
	hadOutput := false

	for !handle.Signalled() {
		select {
		case ev, ok := <-events:
			if !ok {
				gov.Finish()
				return
			}
			// task-sent heartbeats and unknown types are not output
			if ev.Type.Known() && ev.Type != stream.TypeHeartbeat {
				hadOutput = true
			}
			if err := o.forward(ctx, seg, req, ev, fw); err != nil {
				logger.Info().Err(err).Msg("Client write failed; stopping run")
				o.registry.signalHandle(handle, "stop")
				return
			}

		case now := <-ticker.C:
			d := gov.Tick(now, hadOutput, handle.Worker.Alive())
			hadOutput = false

			if d.Timeout {
				logger.Warn().Dur("idle", gov.IdleFor(now)).Msg("Worker idle timeout")
				o.registry.signalHandle(handle, "timeout")
				return
			}
			if d.Heartbeat {
				env := stream.TokenEnvelope(stream.Heartbeat(), false, req.UserID, req.ChatID)
				if err := fw.WriteFrame(env); err != nil {
					logger.Info().Err(err).Msg("Client write failed; stopping run")
					o.registry.signalHandle(handle, "stop")
					return
				}
				observability.RecordHeartbeat()
				observability.RecordFrame("heartbeat")
			}

		case <-ctx.Done():
			logger.Info().Msg("Client disconnected; stopping run")
			o.registry.signalHandle(handle, "stop")
			return
		}
	}
}

// forward classifies one event and writes its frames in order
func (o *Orchestrator) forward(ctx context.Context, seg *stream.Segmenter, req Request, ev stream.Event, fw *framing.Writer) error {
	for _, item := range seg.Classify(ctx, ev) {
		env, err := item.Envelope(req.UserID, req.ChatID)
		if err != nil {
			o.logger.Warn().Err(err).Msg("Dropping unencodable item")
			continue
		}
		if err := fw.WriteFrame(env); err != nil {
			return err
		}
		observability.RecordFrame(string(env.Method))
		if item.Card != nil {
			observability.RecordLinkCard(item.Card.Title != "" || item.Card.ImageLink != "")
		}
	}
	return nil
}

func (o *Orchestrator) history(ctx context.Context, req Request) ([]session.Message, error) {
	if o.pool == nil {
		return nil, nil
	}
	history, err := o.pool.Get(ctx, req.UserID, req.ChatID)
	if err != nil {
		return nil, fmt.Errorf("load memory: %w", err)
	}
	return history, nil
}

// allocateIDs reserves the human and AI message ids of the turn
func (o *Orchestrator) allocateIDs(ctx context.Context) (int64, int64, error) {
	if o.store == nil {
		return o.nextID.Add(1), o.nextID.Add(1), nil
	}

	humanID, err := o.store.NextMessageID(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate message id: %w", err)
	}
	aiID, err := o.store.NextMessageID(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("allocate message id: %w", err)
	}
	return humanID, aiID, nil
}

func toAgentHistory(history []session.Message) []agent.Message {
	if len(history) == 0 {
		return nil
	}
	out := make([]agent.Message, 0, len(history))
	for _, m := range history {
		out = append(out, agent.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
