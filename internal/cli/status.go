package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/harun/streamrun/internal/config"
	"github.com/harun/streamrun/pkg/gateway"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check streamrun status",
	Long:  `Check whether the gateway is running and list its active runs.`,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type runsSnapshot struct {
	ActiveChats []string             `json:"active_chats"`
	Clients     []gateway.ClientInfo `json:"clients"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	_, cfg, err := loadConfig(false)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	pidPath := pidFilePath(cfg.DataDir)
	running, pid := isRunning(pidPath)
	if !running {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	fmt.Fprintln(out, "Status: running")
	fmt.Fprintf(out, "PID: %d\n", pid)
	if _, started, err := readPID(pidPath); err == nil {
		fmt.Fprintf(out, "Uptime: %s\n", formatDuration(time.Since(started)))
	}

	snapshot, err := fetchRuns(cfg)
	if err != nil {
		fmt.Fprintf(out, "Gateway: unreachable (%v)\n", err)
		return nil
	}
	fmt.Fprintf(out, "Active runs: %d\n", len(snapshot.ActiveChats))
	for _, chatID := range snapshot.ActiveChats {
		fmt.Fprintf(out, "  - %s\n", chatID)
	}
	fmt.Fprintf(out, "WebSocket clients: %d\n", len(snapshot.Clients))
	return nil
}

func fetchRuns(cfg *config.Config) (*runsSnapshot, error) {
	req, err := http.NewRequest(http.MethodGet, gatewayURL(cfg.Server)+"/api/runs", nil)
	if err != nil {
		return nil, err
	}
	if cfg.Server.SharedSecret != "" {
		req.Header.Set(gateway.HeaderSecret, cfg.Server.SharedSecret)
	}

	client := &http.Client{Timeout: 3 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("%s: %s", resp.Status, body)
	}

	var snapshot runsSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode runs: %w", err)
	}
	return &snapshot, nil
}

func gatewayURL(s config.ServerConfig) string {
	host := s.Host
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(s.Port))
}
