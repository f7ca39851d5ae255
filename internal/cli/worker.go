package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/harun/streamrun/internal/config"
	"github.com/harun/streamrun/internal/logger"
	"github.com/harun/streamrun/pkg/sandbox"
)

var workerTask string

// workerCmd is the entry point of process-isolated workers. It reads one
// request from stdin and writes framed worker messages to the descriptor
// inherited from the launcher; logs go to stderr where the parent relays them.
var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run a single task as an isolated worker",
	Hidden: true,
	RunE:   runWorker,
}

func init() {
	rootCmd.AddCommand(workerCmd)
	workerCmd.Flags().StringVar(&workerTask, "task", "", "task name (informational; the request carries the task)")
}

func runWorker(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	workerLogger, err := logger.New(logger.WorkerConfig(logLevel))
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer workerLogger.Close()

	log := workerLogger.With().
		Str("task", workerTask).
		Int("pid", os.Getpid()).
		Logger()

	frames, err := sandbox.OpenFrames()
	if err != nil {
		return err
	}
	defer frames.Close()

	return sandbox.Serve(cmd.Context(), buildTaskRegistry(cfg), cmd.InOrStdin(), frames, log)
}
