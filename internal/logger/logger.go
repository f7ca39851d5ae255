package logger

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger wraps zerolog.Logger with the writers it owns
type Logger struct {
	logger  zerolog.Logger
	closers []io.Closer
}

// Config holds logger configuration
type Config struct {
	Level     string // debug, info, warn, error
	Output    string // stdout, stderr, or none
	File      string // optional log file path
	Pretty    bool   // console format for Output
	Redaction bool   // mask API keys and tokens
	MaxSizeMB int    // rotate File past this size; 0 disables rotation
	MaxFiles  int    // rotated files kept next to File
	Compress  bool   // gzip rotated files
}

// New creates a logger and installs it as the global zerolog logger
func New(cfg Config) (*Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	var (
		writers []io.Writer
		closers []io.Closer
	)

	switch cfg.Output {
	case "", "stdout":
		writers = append(writers, consoleWriter(os.Stdout, cfg.Pretty))
	case "stderr":
		writers = append(writers, consoleWriter(os.Stderr, cfg.Pretty))
	case "none":
	default:
		return nil, fmt.Errorf("unknown log output %q", cfg.Output)
	}

	if cfg.File != "" {
		rf, err := NewRotatingFile(cfg.File, cfg.MaxSizeMB, cfg.MaxFiles, cfg.Compress)
		if err != nil {
			return nil, err
		}
		writers = append(writers, rf)
		closers = append(closers, rf)
	}

	var writer io.Writer
	switch len(writers) {
	case 0:
		writer = io.Discard
	case 1:
		writer = writers[0]
	default:
		writer = zerolog.MultiLevelWriter(writers...)
	}

	if cfg.Redaction {
		writer = NewRedactor().Wrap(writer)
	}

	logger := zerolog.New(writer).
		Level(level).
		With().
		Timestamp().
		Logger()

	log.Logger = logger

	return &Logger{
		logger:  logger,
		closers: closers,
	}, nil
}

func consoleWriter(out io.Writer, pretty bool) io.Writer {
	if !pretty {
		return out
	}
	return zerolog.ConsoleWriter{
		Out:        out,
		TimeFormat: time.RFC3339,
	}
}

// Close closes any files opened by the logger
func (l *Logger) Close() error {
	var firstErr error
	for _, c := range l.closers {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// With creates a child logger with additional context
func (l *Logger) With() zerolog.Context {
	return l.logger.With()
}

// GetZerolog returns the underlying zerolog.Logger
func (l *Logger) GetZerolog() zerolog.Logger {
	return l.logger
}

// DefaultConfig returns default logger configuration
func DefaultConfig() Config {
	return Config{
		Level:     "info",
		Output:    "stdout",
		Pretty:    true,
		Redaction: true,
		MaxSizeMB: 100,
		MaxFiles:  5,
		Compress:  true,
	}
}

// WorkerConfig is the configuration used inside worker processes: JSON
// lines on stderr, which the parent relays into its own log.
func WorkerConfig(level string) Config {
	return Config{
		Level:     level,
		Output:    "stderr",
		Redaction: true,
	}
}
