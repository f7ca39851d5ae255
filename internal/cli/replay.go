package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/spf13/cobra"

	"github.com/harun/streamrun/internal/logger"
	"github.com/harun/streamrun/pkg/agent"
	"github.com/harun/streamrun/pkg/conversation"
	"github.com/harun/streamrun/pkg/framing"
	"github.com/harun/streamrun/pkg/orchestrator"
	"github.com/harun/streamrun/pkg/sandbox"
	"github.com/harun/streamrun/pkg/session"
)

var (
	replayTask      string
	replayScript    string
	replayMessage   string
	replayUser      string
	replayChat      string
	replayIsolation string
)

// replayCmd runs one request through the orchestrator without the gateway
// and prints every frame body as a JSON line.
var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Run one task locally and print its frames",
	Long: `Run a single request through the orchestrator and print each decoded
frame as one JSON line. The scripted task replays a JSON script, which makes
this useful for checking client rendering of a known event sequence.`,
	Example: `  streamrun replay --script run.json
  cat run.json | streamrun replay --script -
  streamrun replay --task anthropic --message "hello"`,
	RunE: runReplay,
}

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVar(&replayTask, "task", agent.ScriptedTaskName, "task to run")
	replayCmd.Flags().StringVar(&replayScript, "script", "", "payload file, or - for stdin")
	replayCmd.Flags().StringVar(&replayMessage, "message", "", "user message")
	replayCmd.Flags().StringVar(&replayUser, "user", "cli", "user id")
	replayCmd.Flags().StringVar(&replayChat, "chat", "", "chat id (default random)")
	replayCmd.Flags().StringVar(&replayIsolation, "isolation", string(sandbox.IsolationLocal), "worker isolation (process, local)")
}

func runReplay(cmd *cobra.Command, args []string) error {
	loader, cfg, err := loadConfig(cmd.Flags().Changed("log-level"))
	if err != nil {
		return err
	}
	cfg.Sandbox.Isolation = replayIsolation

	payload, err := readReplayPayload(cmd.InOrStdin())
	if err != nil {
		return err
	}

	chatID := replayChat
	if chatID == "" {
		if chatID, err = gonanoid.New(); err != nil {
			return err
		}
	}

	replayLogger, err := logger.New(logger.Config{Level: cfg.Logging.Level, Output: "stderr", Pretty: true})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer replayLogger.Close()
	log := replayLogger.GetZerolog()

	launcher, err := sandbox.NewLauncher(sandboxConfig(cfg, workerConfigPath(loader)), buildTaskRegistry(cfg), log)
	if err != nil {
		return fmt.Errorf("failed to create launcher: %w", err)
	}

	orch := buildOrchestrator(cfg, launcher, conversation.NewMemoryStore(), session.NewMemoryPool(cfg.SessionMaxMessages), log)

	var frames bytes.Buffer
	result, err := orch.Run(cmd.Context(), orchestrator.Request{
		UserID:  replayUser,
		ChatID:  chatID,
		Task:    replayTask,
		Message: replayMessage,
		Payload: payload,
	}, &frames)
	if err != nil {
		return err
	}

	if err := printFrames(cmd.OutOrStdout(), &frames); err != nil {
		return err
	}

	fmt.Fprintf(cmd.ErrOrStderr(), "outcome: %s (%d frames, %s)\n", result.Outcome, result.Frames, formatDuration(result.Duration))
	if result.Outcome != orchestrator.OutcomeSuccess {
		return fmt.Errorf("run ended with outcome %s", result.Outcome)
	}
	return nil
}

func readReplayPayload(stdin io.Reader) (json.RawMessage, error) {
	var (
		data []byte
		err  error
	)
	switch replayScript {
	case "":
		return nil, nil
	case "-":
		data, err = io.ReadAll(stdin)
	default:
		data, err = os.ReadFile(replayScript)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read script: %w", err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("script is not valid JSON")
	}
	return json.RawMessage(data), nil
}

// printFrames writes each frame body as a compact JSON line
func printFrames(w io.Writer, r io.Reader) error {
	reader := framing.NewReader(r)
	for {
		body, err := reader.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to decode frame: %w", err)
		}
		var line bytes.Buffer
		if err := json.Compact(&line, body); err != nil {
			return fmt.Errorf("frame body is not JSON: %w", err)
		}
		line.WriteByte('\n')
		if _, err := w.Write(line.Bytes()); err != nil {
			return err
		}
	}
}
