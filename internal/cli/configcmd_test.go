package cli

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "conf", "streamrun.json")
	configForce = false

	out, err := executeCommand(t, "config", "init", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Wrote "+path)
	assert.FileExists(t, path)

	_, err = executeCommand(t, "config", "init", "--config", path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")

	_, err = executeCommand(t, "config", "init", "--config", path, "--force")
	require.NoError(t, err)
	configForce = false
}

func TestConfigShow_MasksSecrets(t *testing.T) {
	path := filepath.Join(t.TempDir(), "streamrun.json")
	data, err := json.Marshal(map[string]interface{}{
		"data_dir": t.TempDir(),
		"server":   map[string]interface{}{"shared_secret": "hunter2-very-secret"},
		"providers": map[string]interface{}{
			"anthropic": map[string]interface{}{"api_key": "sk-ant-REDACTED"},
		},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))

	out, err := executeCommand(t, "config", "show", "--config", path)
	require.NoError(t, err)
	assert.NotContains(t, out, "hunter2-very-secret")
	assert.NotContains(t, out, "sk-ant-REDACTED")
	assert.Contains(t, out, "[REDACTED]")
	assert.Contains(t, out, `"port": 8080`)
}

func TestStatus_Stopped(t *testing.T) {
	out, err := executeCommand(t, "status", "--config", writeTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "Status: stopped")
}

func TestStop_NotRunning(t *testing.T) {
	out, err := executeCommand(t, "stop", "--config", writeTestConfig(t))
	require.NoError(t, err)
	assert.Contains(t, out, "not running")
}
