package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/streamrun/internal/config"
	"github.com/harun/streamrun/internal/logger"
	"github.com/harun/streamrun/internal/observability"
	"github.com/harun/streamrun/internal/tracing"
	"github.com/harun/streamrun/pkg/gateway"
	"github.com/harun/streamrun/pkg/sandbox"
	"github.com/harun/streamrun/pkg/session"
)

var (
	servePort      int
	serveIsolation string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the streaming gateway",
	Long: `Start the HTTP and WebSocket gateway. Each chat request launches an
isolated worker whose events are streamed back as length-prefixed frames.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "override server.port")
	serveCmd.Flags().StringVar(&serveIsolation, "isolation", "", "override sandbox.isolation (process, local)")
}

func runServe(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(cmd.Flags().Changed("log-level"))
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveIsolation != "" {
		cfg.Sandbox.Isolation = serveIsolation
	}

	appLogger, err := logger.New(loggerConfig(cfg.Logging))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer appLogger.Close()
	log := appLogger.GetZerolog()

	if err := tracing.InitOpenTelemetry("streamrun"); err != nil {
		log.Warn().Err(err).Msg("OpenTelemetry disabled")
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		tracing.ShutdownOpenTelemetry(ctx)
	}()

	if cfg.Logging.AuditFile != "" {
		if err := observability.InitAuditLogger(cfg.Logging.AuditFile); err != nil {
			return fmt.Errorf("failed to open audit log: %w", err)
		}
	}
	observability.EnsureRegistered()

	pidPath := pidFilePath(cfg.DataDir)
	if running, pid := isRunning(pidPath); running {
		return fmt.Errorf("streamrun is already running (PID %d)", pid)
	}
	if err := writePIDFile(pidPath); err != nil {
		return err
	}
	defer os.Remove(pidPath)

	store, err := openStore(cfg, log)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer store.Close()

	sessions, err := session.New(cfg.SessionsDir, cfg.SessionMaxMessages)
	if err != nil {
		return fmt.Errorf("failed to open session directory: %w", err)
	}

	launcher, err := sandbox.NewLauncher(sandboxConfig(cfg, workerConfigPath(loader)), buildTaskRegistry(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}

	orch := buildOrchestrator(cfg, launcher, store, sessions, log)

	var janitor *gateway.Janitor
	if cfg.Janitor.Enabled {
		janitor, err = gateway.NewJanitor(gateway.JanitorConfig{
			Schedule:      cfg.Janitor.Schedule,
			MaxRunAge:     time.Duration(cfg.Janitor.MaxRunAgeSeconds) * time.Second,
			SessionMaxAge: time.Duration(cfg.Janitor.SessionMaxAgeHours) * time.Hour,
		}, orch.Registry(), sessions, log)
		if err != nil {
			return fmt.Errorf("failed to create janitor: %w", err)
		}
	}

	srv, err := gateway.NewServer(gateway.Config{
		Host:              cfg.Server.Host,
		Port:              cfg.Server.Port,
		SharedSecret:      cfg.Server.SharedSecret,
		MaxBodyBytes:      cfg.Server.MaxBodyBytes,
		ShutdownTimeout:   time.Duration(cfg.Server.ShutdownTimeoutSeconds) * time.Second,
		RequestsPerMinute: cfg.Server.RequestsPerMinute,
		MaxConcurrentRuns: cfg.Server.MaxConcurrentRuns,
		Orchestrator:      orch,
		Janitor:           janitor,
		Logger:            log,
	})
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	err = loader.Watch(func(next *config.Config) {
		orch.SetPolicy(policyFrom(next.Orchestrator))
		observability.RecordConfigAudit(context.Background(), "reload", "file", map[string]interface{}{
			"idle_timeout_seconds":       next.Orchestrator.IdleTimeoutSeconds,
			"heartbeat_interval_seconds": next.Orchestrator.HeartbeatIntervalSeconds,
		})
		log.Info().Msg("Run policy reloaded")
	})
	if err != nil && !errors.Is(err, config.ErrNoConfigFile) {
		log.Warn().Err(err).Msg("Config watch disabled")
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	log.Info().
		Str("addr", srv.Addr()).
		Str("isolation", cfg.Sandbox.Isolation).
		Int("pid", os.Getpid()).
		Msg("streamrun started")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Server.ShutdownTimeoutSeconds+5)*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}
