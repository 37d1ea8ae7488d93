package pipeline

import (
	"errors"
	"fmt"
)

// Build errors are session-fatal: the pipeline that produced them must
// be released, but the process keeps serving signaling requests.
var (
	// ErrIncompleteGraph means an expected stage-ready notification
	// never arrived within the per-stage timeout.
	ErrIncompleteGraph = errors.New("pipeline graph is incomplete")
	ErrReleased        = errors.New("pipeline handle is released")
)

// BuildError wraps a failure to construct or link the media graph.
type BuildError struct {
	Stage string
	Err   error
}

func (e *BuildError) Error() string {
	if e.Stage == "" {
		return fmt.Sprintf("pipeline build: %v", e.Err)
	}
	return fmt.Sprintf("pipeline build [%s]: %v", e.Stage, e.Err)
}

func (e *BuildError) Unwrap() error { return e.Err }
