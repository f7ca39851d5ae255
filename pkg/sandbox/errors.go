package sandbox

import "errors"

var (
	// ErrInvalidIsolation is returned when the isolation mode is unknown
	ErrInvalidIsolation = errors.New("invalid sandbox isolation")

	// ErrInvalidMemoryLimit is returned when the memory limit is invalid
	ErrInvalidMemoryLimit = errors.New("invalid memory limit (must be >= 0)")

	// ErrInvalidTimeout is returned when the timeout is invalid
	ErrInvalidTimeout = errors.New("invalid timeout (must be >= 0)")

	// ErrInvalidQueueSize is returned when the event queue size is invalid
	ErrInvalidQueueSize = errors.New("invalid queue size (must be > 0)")

	// ErrFilesystemAccessDenied is returned when the working directory is not allowed
	ErrFilesystemAccessDenied = errors.New("filesystem access denied")

	// ErrIsolationUnsupported is returned when process isolation is unavailable
	ErrIsolationUnsupported = errors.New("process isolation is not supported on this platform")

	// ErrWorkerProtocol is returned when a worker writes an unexpected message
	ErrWorkerProtocol = errors.New("worker protocol violation")
)
