package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/harun/streamrun/internal/tracing"
)

const (
	wsRequestTimeout = 30 * time.Second
	wsCloseTimeout   = time.Second
)

// wsFrameWriter sends every framed write as one binary message
type wsFrameWriter struct {
	conn *websocket.Conn
}

func (w *wsFrameWriter) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// handleWebSocket streams one run over a websocket. The first text message
// is the chat request; a later {"type":"stop"} message stops the run.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !s.auth.Authorize(r, nil) {
		writeError(w, http.StatusUnauthorized, "unauthorized", nil)
		return
	}
	if !s.admit() {
		writeError(w, http.StatusServiceUnavailable, "server is shutting down", nil)
		return
	}
	defer s.inFlight.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	clientID, _ := gonanoid.New()
	client := &Client{
		ID:          clientID,
		Conn:        conn,
		RemoteAddr:  r.RemoteAddr,
		ConnectedAt: time.Now(),
	}
	s.clients.Add(client)
	defer func() {
		conn.Close()
		s.clients.Remove(clientID)
		s.logger.Info().Str("client_id", clientID).Msg("Client disconnected")
	}()

	logger := s.logger.With().Str("client_id", clientID).Logger()
	logger.Info().Str("ip", r.RemoteAddr).Msg("Client connected")

	_ = conn.SetReadDeadline(time.Now().Add(wsRequestTimeout))
	_, message, err := conn.ReadMessage()
	if err != nil {
		logger.Debug().Err(err).Msg("No chat request received")
		return
	}
	_ = conn.SetReadDeadline(time.Time{})

	req, err := s.decodeChatRequest(message)
	if err != nil {
		details := []string{err.Error()}
		if verr, ok := err.(*validationError); ok {
			details = verr.details
		}
		s.closeWithError(conn, websocket.CloseInvalidFramePayloadData, ErrorResponse{Error: errInvalidBody.Error(), Details: details})
		return
	}

	if ok, reason := s.limiter.Acquire(req.UserID); !ok {
		s.closeWithError(conn, websocket.ClosePolicyViolation, ErrorResponse{Error: reason})
		return
	}
	defer s.limiter.Release(req.UserID)

	s.clients.Bind(clientID, req.UserID, req.ChatID)

	ctx, cancel := context.WithCancel(runContext(r))
	defer cancel()
	go s.readControl(ctx, cancel, conn, req.ChatID, logger)

	result, err := s.orch.Run(ctx, req, &wsFrameWriter{conn: conn})
	if err != nil {
		logger.Error().Err(err).Msg("Run could not start")
		s.closeWithError(conn, websocket.CloseInternalServerErr, ErrorResponse{Error: err.Error()})
		return
	}

	runLogger := tracing.LoggerFromContext(ctx, logger)
	runLogger.Debug().
		Str("outcome", result.Outcome.String()).
		Int("frames", result.Frames).
		Msg("Websocket stream closed")
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, result.Outcome.String()),
		time.Now().Add(wsCloseTimeout))
}

// readControl handles client messages during a run. A read error means the
// client left, which cancels the run context.
func (s *Server) readControl(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, chatID string, logger zerolog.Logger) {
	defer cancel()
	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug().Err(err).Msg("Websocket read failed")
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			logger.Debug().Err(err).Msg("Ignoring malformed control message")
			continue
		}
		if msg.Type == ClientMessageStop {
			s.orch.Stop(ctx, chatID)
		}
	}
}

func (s *Server) closeWithError(conn *websocket.Conn, code int, resp ErrorResponse) {
	data, _ := json.Marshal(resp)
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, resp.Error),
		time.Now().Add(wsCloseTimeout))
}
