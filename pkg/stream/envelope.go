package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// RenderPosition selects where the client renders a payload
type RenderPosition string

const (
	PositionIntermediate RenderPosition = "intermediate_steps"
	PositionFinal        RenderPosition = "final_answer"
)

// PositionFor maps an event's finality to its render position
func PositionFor(final bool) RenderPosition {
	if final {
		return PositionFinal
	}
	return PositionIntermediate
}

// StreamingMethod tells the client how to render a payload
type StreamingMethod string

const (
	MethodBlock    StreamingMethod = "block"
	MethodChar     StreamingMethod = "char"
	MethodCardInfo StreamingMethod = "card_info"
)

// Envelope is the wire unit sent to the client for every event or card.
//
// The payload is keyed by the render position, so the JSON object is built
// by hand to keep key order stable across calls.
type Envelope struct {
	Position     RenderPosition
	Payload      interface{}
	IsBlockFirst bool
	Method       StreamingMethod
	UserID       string
	ChatID       string
}

// BlockEnvelope wraps a block event; its payload is a one-element list
func BlockEnvelope(ev Event, userID, chatID string) Envelope {
	return Envelope{
		Position:     PositionFor(ev.Final),
		Payload:      []Segment{{Type: ev.Type, Text: ev.Text}},
		IsBlockFirst: true,
		Method:       MethodBlock,
		UserID:       userID,
		ChatID:       chatID,
	}
}

// TokenEnvelope wraps a token event for character streaming
func TokenEnvelope(ev Event, isBlockFirst bool, userID, chatID string) Envelope {
	return Envelope{
		Position:     PositionFor(ev.Final),
		Payload:      Segment{Type: ev.Type, Text: ev.Text},
		IsBlockFirst: isBlockFirst,
		Method:       MethodChar,
		UserID:       userID,
		ChatID:       chatID,
	}
}

// CardEnvelope wraps a link card; cards always render in the final answer
func CardEnvelope(card LinkCard, userID, chatID string) (Envelope, error) {
	seg, err := CardSegment(card)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		Position:     PositionFinal,
		Payload:      seg,
		IsBlockFirst: false,
		Method:       MethodCardInfo,
		UserID:       userID,
		ChatID:       chatID,
	}, nil
}

// CardSegment renders a card as a transcript segment
func CardSegment(card LinkCard) (Segment, error) {
	data, err := json.Marshal(card)
	if err != nil {
		return Segment{}, fmt.Errorf("failed to marshal link card: %w", err)
	}
	return Segment{Type: TypeCardInfo, Text: string(data)}, nil
}

// MarshalJSON implements json.Marshaler
func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Position != PositionIntermediate && e.Position != PositionFinal {
		return nil, fmt.Errorf("invalid render position %q", e.Position)
	}

	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal payload: %w", err)
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	writeField(&buf, string(e.Position), payload, false)
	writeField(&buf, "is_block_first", mustJSON(e.IsBlockFirst), true)
	writeField(&buf, "streaming_method", mustJSON(string(e.Method)), true)
	writeField(&buf, "user_id", mustJSON(e.UserID), true)
	writeField(&buf, "chat_id", mustJSON(e.ChatID), true)
	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func writeField(buf *bytes.Buffer, key string, value []byte, comma bool) {
	if comma {
		buf.WriteByte(',')
	}
	buf.Write(mustJSON(key))
	buf.WriteByte(':')
	buf.Write(value)
}

// mustJSON is only used with strings and bools, which always marshal
func mustJSON(v interface{}) []byte {
	data, _ := json.Marshal(v)
	return data
}

// Header is the first frame of every run
type Header struct {
	HumanMessageID int64 `json:"human_message_id"`
	AIMessageID    int64 `json:"ai_message_id"`
}

// Terminal is the closing frame of a failed run
type Terminal struct {
	Success  bool   `json:"success"`
	Error    string `json:"error"`
	ErrorMsg string `json:"error_msg,omitempty"`
}

// Terminal error codes
const (
	ErrorStop     = "stop"
	ErrorTimeout  = "timeout"
	ErrorInternal = "internal"
)
