package gateway

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/xeipuuv/gojsonschema"

	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/pkg/orchestrator"
)

// Server is the HTTP front of the orchestrator
type Server struct {
	addr            string
	maxBodyBytes    int64
	shutdownTimeout time.Duration

	orch     *orchestrator.Orchestrator
	auth     *Authenticator
	limiter  *UserRateLimiter
	clients  *ClientRegistry
	janitor  *Janitor
	schema   *gojsonschema.Schema
	upgrader websocket.Upgrader

	server   *http.Server
	listener net.Listener
	logger   zerolog.Logger

	isShuttingDown bool
	shutdownMu     sync.RWMutex
	inFlight       sync.WaitGroup
}

// Config holds server configuration
type Config struct {
	Host            string
	Port            int
	SharedSecret    string
	MaxBodyBytes    int64
	ShutdownTimeout time.Duration

	// Per-user admission; <= 0 disables the check
	RequestsPerMinute int
	MaxConcurrentRuns int

	Orchestrator *orchestrator.Orchestrator

	// Janitor is optional; nil disables the sweep
	Janitor *Janitor

	Logger zerolog.Logger
}

// NewServer creates a server
func NewServer(cfg Config) (*Server, error) {
	if cfg.Port < 0 {
		return nil, fmt.Errorf("invalid port: %d", cfg.Port)
	}
	if cfg.Orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 1 << 20
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 30 * time.Second
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(ChatRequestSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat request schema: %w", err)
	}

	return &Server{
		addr:            net.JoinHostPort(cfg.Host, fmt.Sprintf("%d", cfg.Port)),
		maxBodyBytes:    cfg.MaxBodyBytes,
		shutdownTimeout: cfg.ShutdownTimeout,
		orch:            cfg.Orchestrator,
		auth:            NewAuthenticator(cfg.SharedSecret),
		limiter:         NewUserRateLimiter(cfg.RequestsPerMinute, cfg.MaxConcurrentRuns),
		clients:         NewClientRegistry(),
		janitor:         cfg.Janitor,
		schema:          schema,
		logger:          cfg.Logger.With().Str("component", "gateway").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}, nil
}

// Handler returns the routed HTTP handler
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/chat", s.handleChat)
	mux.HandleFunc("/api/chat/stop", s.handleStop)
	mux.HandleFunc("/api/chat/ws", s.handleWebSocket)
	mux.HandleFunc("/api/runs", s.handleRuns)
	mux.Handle("/metrics", observability.MetricsHandler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	return mux
}

// Start listens and serves in the background
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	if s.janitor != nil {
		s.janitor.Start()
	}

	s.logger.Info().Str("addr", listener.Addr().String()).Msg("Starting gateway")
	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error().Err(err).Msg("Gateway server error")
		}
	}()
	return nil
}

// Addr returns the listening address once started
func (s *Server) Addr() string {
	if s.listener == nil {
		return s.addr
	}
	return s.listener.Addr().String()
}

// Stop refuses new runs, waits for in-flight streams, and shuts down
func (s *Server) Stop(ctx context.Context) error {
	s.shutdownMu.Lock()
	s.isShuttingDown = true
	s.shutdownMu.Unlock()

	s.logger.Info().Msg("Shutting down gateway")
	if s.janitor != nil {
		s.janitor.Stop()
	}

	done := make(chan struct{})
	go func() {
		s.inFlight.Wait()
		close(done)
	}()

	waitCtx, cancel := context.WithTimeout(ctx, s.shutdownTimeout)
	defer cancel()
	select {
	case <-done:
		s.logger.Info().Msg("All in-flight runs completed")
	case <-waitCtx.Done():
		s.logger.Warn().Msg("Shutdown timeout reached, stopping live runs")
		for _, chatID := range s.orch.Registry().Active() {
			s.orch.Stop(ctx, chatID)
		}
	}

	for _, client := range s.clients.GetAll() {
		client.Conn.Close()
	}

	if s.server == nil {
		return nil
	}
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := s.server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	s.logger.Info().Msg("Gateway stopped")
	return nil
}

// admit registers an in-flight run unless the server is shutting down
func (s *Server) admit() bool {
	s.shutdownMu.RLock()
	defer s.shutdownMu.RUnlock()
	if s.isShuttingDown {
		return false
	}
	s.inFlight.Add(1)
	return true
}

// Clients describes connected websocket clients
func (s *Server) Clients() []ClientInfo {
	return s.clients.Infos()
}
