package service

import (
	"errors"
	"fmt"
	"time"
)

// ErrTimeout is returned when the service never reached the expected state
// within the poll deadline
var ErrTimeout = errors.New("timeout waiting for service state")

// TransportError wraps any failure originating in the remote-call mechanism
// rather than in application logic
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// asTransportError wraps err unless it already is a transport error
func asTransportError(op string, err error) error {
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	return &TransportError{Op: op, Err: err}
}

// Outcome is the terminal classification of one orchestration run
type Outcome int

const (
	OutcomeSucceeded Outcome = iota
	OutcomeTimedOut
	OutcomeTransportError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSucceeded:
		return "succeeded"
	case OutcomeTimedOut:
		return "timed_out"
	case OutcomeTransportError:
		return "transport_error"
	default:
		return "unknown"
	}
}

// Result is produced exactly once per Orchestrator.Execute call
type Result struct {
	Service string
	Action  Action
	Outcome Outcome
	Err     error // nil on success, ErrTimeout or a *TransportError otherwise
	Probes  int
	Elapsed time.Duration
}

// OK reports whether the service reached the expected state
func (r Result) OK() bool {
	return r.Outcome == OutcomeSucceeded
}
