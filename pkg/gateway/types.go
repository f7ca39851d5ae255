package gateway

import (
	"time"

	"github.com/gorilla/websocket"
)

// StopRequest asks the live run of a chat to stop
type StopRequest struct {
	ChatID string `json:"chat_id"`
}

// StopResponse reports whether a live run was signalled
type StopResponse struct {
	ChatID  string `json:"chat_id"`
	Stopped bool   `json:"stopped"`
}

// ErrorResponse is the JSON body of a rejected request
type ErrorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

// ClientMessage is a control message sent by a websocket client while its
// run streams
type ClientMessage struct {
	Type string `json:"type"`
}

// Control message types
const (
	ClientMessageStop = "stop"
)

// Client is one connected websocket client
type Client struct {
	ID          string
	Conn        *websocket.Conn
	UserID      string
	ChatID      string
	RemoteAddr  string
	ConnectedAt time.Time
}

// ClientInfo describes a connected client
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ChatID      string    `json:"chat_id"`
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}
