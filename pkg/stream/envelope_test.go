package stream

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnvelope_TokenJSON(t *testing.T) {
	env := TokenEnvelope(Event{Type: TypePlain, Text: "hi"}, true, "u1", "c1")

	data, err := json.Marshal(env)
	require.NoError(t, err)
	assert.Equal(t,
		`{"intermediate_steps":{"type":"plain","text":"hi"},"is_block_first":true,"streaming_method":"char","user_id":"u1","chat_id":"c1"}`,
		string(data))
}

func TestEnvelope_BlockJSON(t *testing.T) {
	env := BlockEnvelope(Event{Type: TypeImage, Text: "b64", Final: true}, "u1", "c1")

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	payload, ok := decoded["final_answer"].([]interface{})
	require.True(t, ok, "block payload must be a list")
	require.Len(t, payload, 1)
	assert.Equal(t, map[string]interface{}{"type": "image", "text": "b64"}, payload[0])
	assert.Equal(t, true, decoded["is_block_first"])
	assert.Equal(t, "block", decoded["streaming_method"])
}

func TestEnvelope_CardJSON(t *testing.T) {
	env, err := CardEnvelope(LinkCard{Title: "T", WebLink: "https://x.io", ImageLink: "https://x.io/i.png"}, "u", "c")
	require.NoError(t, err)

	data, err := json.Marshal(env)
	require.NoError(t, err)

	var decoded struct {
		Final        Segment `json:"final_answer"`
		IsBlockFirst bool    `json:"is_block_first"`
		Method       string  `json:"streaming_method"`
	}
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, TypeCardInfo, decoded.Final.Type)
	assert.False(t, decoded.IsBlockFirst)
	assert.Equal(t, "card_info", decoded.Method)

	var card LinkCard
	require.NoError(t, json.Unmarshal([]byte(decoded.Final.Text), &card))
	assert.Equal(t, "https://x.io", card.WebLink)
	assert.Equal(t, "https://x.io/i.png", card.ImageLink)
}

func TestEnvelope_InvalidPosition(t *testing.T) {
	_, err := json.Marshal(Envelope{Position: "sidebar"})
	assert.Error(t, err)
}

func TestTerminal_OmitsEmptyMessage(t *testing.T) {
	data, err := json.Marshal(Terminal{Success: false, Error: ErrorStop})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success":false,"error":"stop"}`, string(data))
}
