package orchestrator

import (
	"github.com/harun/streamrun/pkg/stream"
)

// Outcome is the single result of a run
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeStoppedByUser
	OutcomeTimedOut
	OutcomeInternalError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeStoppedByUser:
		return "stopped"
	case OutcomeTimedOut:
		return "timeout"
	default:
		return "internal"
	}
}

// Err returns the sentinel error for a failed outcome, nil on success
func (o Outcome) Err() error {
	switch o {
	case OutcomeSuccess:
		return nil
	case OutcomeStoppedByUser:
		return ErrUserStop
	case OutcomeTimedOut:
		return ErrIdleTimeout
	default:
		return ErrWorkerFailure
	}
}

// resolution is a resolved disposition
type resolution struct {
	outcome Outcome

	// message is the rendered worker error, only set for worker failures
	message string

	// cause classifies the outcome; ErrEmptyResult for empty results
	cause error

	human, ai string
}

// resolve turns a flushed disposition into exactly one outcome. Stop is
// checked first, then timeout, then the worker error, then the result.
func resolve(d Disposition) resolution {
	switch {
	case d.Stopped:
		return resolution{outcome: OutcomeStoppedByUser, cause: ErrUserStop}
	case d.TimedOut:
		return resolution{outcome: OutcomeTimedOut, cause: ErrIdleTimeout}
	case d.Err != "":
		return resolution{
			outcome: OutcomeInternalError,
			message: RenderError(d.Err),
			cause:   ErrWorkerFailure,
		}
	}

	human, ai, ok := d.Result.Turn()
	if !ok {
		return resolution{outcome: OutcomeInternalError, cause: ErrEmptyResult}
	}
	return resolution{outcome: OutcomeSuccess, human: human.Content, ai: ai.Content}
}

// terminal returns the closing frame of a failed run
func (r resolution) terminal() (stream.Terminal, bool) {
	switch r.outcome {
	case OutcomeSuccess:
		return stream.Terminal{}, false
	case OutcomeStoppedByUser:
		return stream.Terminal{Error: stream.ErrorStop}, true
	case OutcomeTimedOut:
		return stream.Terminal{Error: stream.ErrorTimeout}, true
	default:
		return stream.Terminal{Error: stream.ErrorInternal, ErrorMsg: r.message}, true
	}
}
