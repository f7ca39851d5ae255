package orchestrator

import "errors"

var (
	// ErrWorkerFailure means the task failed inside its worker
	ErrWorkerFailure = errors.New("worker failure")

	// ErrUserStop means the run was stopped on request
	ErrUserStop = errors.New("stopped by user")

	// ErrIdleTimeout means the worker produced no output within the idle window
	ErrIdleTimeout = errors.New("idle timeout")

	// ErrEmptyResult means the worker finished without a usable turn
	ErrEmptyResult = errors.New("empty result")

	// ErrInvalidRequest is returned for requests missing required fields
	ErrInvalidRequest = errors.New("invalid run request")
)
