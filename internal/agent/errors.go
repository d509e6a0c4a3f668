package agent

import (
	"errors"
	"fmt"
)

// ErrNoProvider is returned when the orchestrator has no completion provider.
var ErrNoProvider = errors.New("no completion provider configured")

// RoundError wraps a failure with the round it occurred in.
type RoundError struct {
	Round int
	Cause error
}

func (e *RoundError) Error() string {
	return fmt.Sprintf("round %d: %v", e.Round, e.Cause)
}

func (e *RoundError) Unwrap() error {
	return e.Cause
}
