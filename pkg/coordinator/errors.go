package coordinator

import (
	"errors"
	"fmt"
)

// ErrNotInitialized indicates no configuration has been loaded yet.
var ErrNotInitialized = errors.New("configuration not loaded")

// ErrMissingCredential indicates the active provider requires an API key
// and none is configured.
var ErrMissingCredential = errors.New("no API key configured for the active provider")

// ErrAgentUnavailable indicates the agent handle held no usable runtime
// when a turn tried to run.
var ErrAgentUnavailable = errors.New("agent is not available")

// ErrTurnTimeout indicates an interactive turn exceeded the hard
// wall-clock limit. Distinct from a turn failure so callers can warn
// that the underlying work may still be running.
var ErrTurnTimeout = errors.New("turn timed out")

// timeoutMessage is the fixed text delivered with a timeout Error event.
const timeoutMessage = "The request timed out. The model may still be working in the background; try again or switch to a faster model."

// CreationError wraps a runtime construction failure with its cause.
type CreationError struct {
	Cause error
}

func (e *CreationError) Error() string {
	return fmt.Sprintf("failed to create agent: %v", e.Cause)
}

func (e *CreationError) Unwrap() error { return e.Cause }
