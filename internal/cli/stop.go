package cli

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

var stopTimeout int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the streamrun gateway",
	Long: `Stop the running gateway. Sends SIGTERM so active runs can finish,
then SIGKILL once the timeout passes.`,
	RunE: runStop,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	stopCmd.Flags().IntVarP(&stopTimeout, "timeout", "t", 30, "seconds to wait before forcing shutdown")
}

func runStop(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidPath := pidFilePath(cfg.DataDir)
	running, pid := isRunning(pidPath)
	if !running {
		fmt.Fprintln(out, "streamrun is not running")
		return nil
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process: %w", err)
	}

	fmt.Fprintf(out, "Stopping streamrun (PID %d)...\n", pid)
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("failed to send SIGTERM: %w", err)
	}

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			os.Remove(pidPath)
			fmt.Fprintln(out, "streamrun stopped")
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}

	fmt.Fprintln(out, "Graceful shutdown timed out, sending SIGKILL")
	if err := process.Signal(syscall.SIGKILL); err != nil {
		return fmt.Errorf("failed to send SIGKILL: %w", err)
	}
	os.Remove(pidPath)
	fmt.Fprintln(out, "streamrun killed")
	return nil
}
