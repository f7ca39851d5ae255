package session

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/streamrun/internal/tracing"
)

const keySeparator = "__"

// SessionManager is a Pool backed by one JSONL file per session
type SessionManager struct {
	sessionsDir string
	maxMessages int
	writeLocks  map[string]*sync.Mutex
	locksMu     sync.Mutex
}

var _ Pool = (*SessionManager)(nil)

// New creates a SessionManager rooted at sessionsDir. maxMessages <= 0
// keeps the whole history.
func New(sessionsDir string, maxMessages int) (*SessionManager, error) {
	if sessionsDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		sessionsDir = filepath.Join(homeDir, ".streamrun", "sessions")
	}

	if err := os.MkdirAll(sessionsDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create sessions directory: %w", err)
	}

	log.Info().Str("dir", sessionsDir).Msg("Session manager initialized")

	return &SessionManager{
		sessionsDir: sessionsDir,
		maxMessages: maxMessages,
		writeLocks:  make(map[string]*sync.Mutex),
	}, nil
}

// Key derives the session key of a (user, chat) pair
func Key(userID, chatID string) (string, error) {
	if err := validateKeyPart(userID); err != nil {
		return "", fmt.Errorf("invalid user id: %w", err)
	}
	if err := validateKeyPart(chatID); err != nil {
		return "", fmt.Errorf("invalid chat id: %w", err)
	}
	return userID + keySeparator + chatID, nil
}

func validateKeyPart(part string) error {
	if part == "" {
		return fmt.Errorf("cannot be empty")
	}
	if strings.Contains(part, "..") {
		return fmt.Errorf("cannot contain '..'")
	}
	if strings.ContainsAny(part, "/\\") {
		return fmt.Errorf("cannot contain path separators")
	}
	if strings.Contains(part, "\x00") {
		return fmt.Errorf("cannot contain null bytes")
	}
	if strings.Contains(part, keySeparator) {
		return fmt.Errorf("cannot contain %q", keySeparator)
	}
	return nil
}

func (sm *SessionManager) path(key string) string {
	return filepath.Join(sm.sessionsDir, key+".jsonl")
}

func (sm *SessionManager) lockFor(key string) *sync.Mutex {
	sm.locksMu.Lock()
	defer sm.locksMu.Unlock()

	lock, ok := sm.writeLocks[key]
	if !ok {
		lock = &sync.Mutex{}
		sm.writeLocks[key] = lock
	}
	return lock
}

// Get loads the history of a session. Corrupt lines are skipped.
func (sm *SessionManager) Get(ctx context.Context, userID, chatID string) (messages []Message, err error) {
	ctx, span := tracing.StartSpan(ctx, "streamrun.session", "session.get",
		attribute.String("user.id", userID))
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	key, err := Key(userID, chatID)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(sm.path(key))
	if os.IsNotExist(err) {
		return []Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open session file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	messages = []Message{}
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var msg Message
		if err := json.Unmarshal(line, &msg); err != nil || msg.Role == "" {
			logger.Warn().
				Str("session_key", key).
				Int("line", lineNum).
				Msg("Skipping unreadable session line")
			continue
		}
		messages = append(messages, msg)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read session file: %w", err)
	}

	return messages, nil
}

// Set replaces the history of a session. The file is rewritten through a
// temp file and renamed into place.
func (sm *SessionManager) Set(ctx context.Context, userID, chatID string, messages []Message) (err error) {
	ctx, span := tracing.StartSpan(ctx, "streamrun.session", "session.set",
		attribute.String("user.id", userID),
		attribute.Int("messages", len(messages)))
	defer func() { tracing.EndSpan(span, err) }()
	logger := tracing.LoggerFromContext(ctx, log.Logger)

	key, err := Key(userID, chatID)
	if err != nil {
		return err
	}

	lock := sm.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	messages = trim(messages, sm.maxMessages)
	sessionPath := sm.path(key)
	tempPath := sessionPath + ".tmp"

	file, err := os.OpenFile(tempPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}

	w := bufio.NewWriter(file)
	now := time.Now()
	for _, msg := range messages {
		if msg.Timestamp.IsZero() {
			msg.Timestamp = now
		}
		data, err := json.Marshal(msg)
		if err != nil {
			file.Close()
			os.Remove(tempPath)
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to write session: %w", err)
	}
	if err := file.Sync(); err != nil {
		file.Close()
		os.Remove(tempPath)
		return fmt.Errorf("failed to sync file: %w", err)
	}
	file.Close()

	if err := os.Rename(tempPath, sessionPath); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace session file: %w", err)
	}

	logger.Debug().
		Str("session_key", key).
		Int("messages", len(messages)).
		Msg("Session saved")
	return nil
}

// Delete removes a session
func (sm *SessionManager) Delete(userID, chatID string) error {
	key, err := Key(userID, chatID)
	if err != nil {
		return err
	}

	lock := sm.lockFor(key)
	lock.Lock()
	defer lock.Unlock()

	if err := os.Remove(sm.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete session file: %w", err)
	}

	sm.locksMu.Lock()
	delete(sm.writeLocks, key)
	sm.locksMu.Unlock()
	return nil
}

// List returns the keys of all stored sessions
func (sm *SessionManager) List() ([]string, error) {
	entries, err := os.ReadDir(sm.sessionsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read sessions directory: %w", err)
	}

	keys := []string{}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}
		keys = append(keys, strings.TrimSuffix(name, ".jsonl"))
	}
	return keys, nil
}

// Prune deletes sessions not written for longer than maxAge and returns how
// many were removed.
func (sm *SessionManager) Prune(maxAge time.Duration) (int, error) {
	keys, err := sm.List()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().Add(-maxAge)
	deleted := 0
	for _, key := range keys {
		lock := sm.lockFor(key)
		lock.Lock()
		info, err := os.Stat(sm.path(key))
		if err == nil && info.ModTime().Before(cutoff) {
			if err := os.Remove(sm.path(key)); err == nil {
				deleted++
			} else {
				log.Warn().Str("session_key", key).Err(err).Msg("Failed to prune session")
			}
		}
		lock.Unlock()
	}

	if deleted > 0 {
		log.Info().Int("deleted", deleted).Dur("max_age", maxAge).Msg("Pruned idle sessions")
	}
	return deleted, nil
}
