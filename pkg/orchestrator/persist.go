package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/conversation"
	"github.com/harun/streamrun/pkg/session"
	"github.com/harun/streamrun/pkg/stream"
)

// Turn is one completed chat turn ready to be stored
type Turn struct {
	UserID          string
	ChatID          string
	HumanMessageID  int64
	AIMessageID     int64
	ParentMessageID int64

	// UserIntent is stored as the user message's data_for_human
	UserIntent json.RawMessage

	Human string
	AI    string

	// History is the memory the run started from
	History []session.Message

	Intermediate []stream.Segment
	Final        []stream.Segment
}

// assistantData is the assistant message's data_for_human
type assistantData struct {
	IntermediateSteps []stream.Segment `json:"intermediate_steps"`
	FinalAnswer       []stream.Segment `json:"final_answer"`
}

// Persister writes successful turns to the memory pool and the store
type Persister struct {
	store  conversation.Store
	pool   session.Pool
	logger zerolog.Logger
	now    func() time.Time
}

// NewPersister creates a persister. Either collaborator may be nil.
func NewPersister(store conversation.Store, pool session.Pool, logger zerolog.Logger) *Persister {
	return &Persister{
		store:  store,
		pool:   pool,
		logger: logger.With().Str("module", "persister").Logger(),
		now:    time.Now,
	}
}

// Persist stores the turn: the memory pool gets the history plus the new
// human and AI messages, the store gets exactly two messages, user first.
func (p *Persister) Persist(ctx context.Context, turn Turn) (err error) {
	start := time.Now()
	ctx, span := tracing.StartSpan(ctx, "streamrun/orchestrator", "orchestrator.persist",
		attribute.String("chat_id", turn.ChatID),
		attribute.Int64("ai_message_id", turn.AIMessageID),
	)
	defer func() {
		tracing.EndSpan(span, err)
		observability.RecordPersist(time.Since(start), err == nil)
	}()

	if p.pool != nil {
		if err := p.remember(ctx, turn); err != nil {
			return err
		}
	}
	if p.store == nil {
		return nil
	}

	userMsg, assistantMsg, err := p.messages(turn)
	if err != nil {
		return err
	}
	if err := p.store.InsertMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("insert user message: %w", err)
	}
	if err := p.store.InsertMessage(ctx, assistantMsg); err != nil {
		return fmt.Errorf("insert assistant message: %w", err)
	}

	p.logger.Debug().
		Str("chat_id", turn.ChatID).
		Int64("human_message_id", turn.HumanMessageID).
		Int64("ai_message_id", turn.AIMessageID).
		Msg("Turn persisted")
	return nil
}

func (p *Persister) remember(ctx context.Context, turn Turn) error {
	now := p.now()
	messages := make([]session.Message, 0, len(turn.History)+2)
	messages = append(messages, turn.History...)
	messages = append(messages,
		session.Message{
			Role:            agent.RoleHuman,
			Content:         turn.Human,
			MessageID:       turn.HumanMessageID,
			ParentMessageID: turn.ParentMessageID,
			Timestamp:       now,
		},
		session.Message{
			Role:            agent.RoleAI,
			Content:         turn.AI,
			MessageID:       turn.AIMessageID,
			ParentMessageID: turn.HumanMessageID,
			Timestamp:       now,
		},
	)

	if err := p.pool.Set(ctx, turn.UserID, turn.ChatID, messages); err != nil {
		return fmt.Errorf("update memory: %w", err)
	}
	return nil
}

func (p *Persister) messages(turn Turn) (conversation.Message, conversation.Message, error) {
	intermediate := turn.Intermediate
	if intermediate == nil {
		intermediate = []stream.Segment{}
	}
	final := turn.Final
	if final == nil {
		final = []stream.Segment{}
	}

	data, err := json.Marshal(assistantData{IntermediateSteps: intermediate, FinalAnswer: final})
	if err != nil {
		return conversation.Message{}, conversation.Message{}, fmt.Errorf("encode transcript: %w", err)
	}

	userIntent := turn.UserIntent
	if len(userIntent) == 0 {
		userIntent = json.RawMessage("null")
	}

	now := p.now()
	user := conversation.Message{
		ConversationID:  turn.ChatID,
		UserID:          turn.UserID,
		MessageID:       turn.HumanMessageID,
		ParentMessageID: turn.ParentMessageID,
		Role:            conversation.RoleUser,
		DataForHuman:    userIntent,
		DataForLLM:      turn.Human,
		CreatedAt:       now,
	}
	assistant := conversation.Message{
		ConversationID:  turn.ChatID,
		UserID:          turn.UserID,
		MessageID:       turn.AIMessageID,
		ParentMessageID: turn.HumanMessageID,
		Role:            conversation.RoleAssistant,
		DataForHuman:    data,
		DataForLLM:      turn.AI,
		CreatedAt:       now,
	}
	return user, assistant, nil
}
