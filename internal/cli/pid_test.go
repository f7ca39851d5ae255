package cli

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_RoundTrip(t *testing.T) {
	path := pidFilePath(filepath.Join(t.TempDir(), "data"))
	require.NoError(t, writePIDFile(path))

	pid, modTime, err := readPID(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
	assert.WithinDuration(t, time.Now(), modTime, time.Minute)

	running, got := isRunning(path)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), got)
}

func TestIsRunning_RemovesStaleFile(t *testing.T) {
	path := pidFilePath(t.TempDir())
	// above the kernel's maximum pid
	require.NoError(t, os.WriteFile(path, []byte("4194305"), 0644))

	running, pid := isRunning(path)
	assert.False(t, running)
	assert.Zero(t, pid)
	assert.NoFileExists(t, path)
}

func TestIsRunning_Missing(t *testing.T) {
	running, _ := isRunning(filepath.Join(t.TempDir(), "none.pid"))
	assert.False(t, running)
}

func TestReadPID_Invalid(t *testing.T) {
	path := pidFilePath(t.TempDir())
	require.NoError(t, os.WriteFile(path, []byte("abc"), 0644))

	_, _, err := readPID(path)
	assert.Error(t, err)
}

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		in   time.Duration
		want string
	}{
		{in: 4 * time.Second, want: "4s"},
		{in: 2*time.Minute + 3*time.Second, want: "2m 3s"},
		{in: 3*time.Hour + 2*time.Minute + 1*time.Second, want: "3h 2m 1s"},
		{in: 1500 * time.Millisecond, want: "2s"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatDuration(tt.in))
	}
}
