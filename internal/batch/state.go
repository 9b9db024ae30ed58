package batch

import (
	"context"
	"errors"

	"videobatch/internal/domain"
)

// State is a step of the batch state machine.
type State string

const (
	StateStart         State = "start"
	StateEnsureSession State = "ensure_session"
	StateSubmit        State = "submit"
	StateAwaitResult   State = "await_result"
	StateCheckLimit    State = "check_limit"
	StateCapture       State = "capture"
	StateRecordSuccess State = "record_success"
	StateRecordFailure State = "record_failure"
	StateAdvance       State = "advance"
	StateRateLimited   State = "rate_limited"
	StateRotateAccount State = "rotate_account"
	StateDone          State = "done"
	StateExhausted     State = "exhausted"
	StateAborted       State = "aborted"
)

// Working states talk to the driver and may leave through a failure path.
var workingStates = map[State]bool{
	StateEnsureSession: true,
	StateSubmit:        true,
	StateAwaitResult:   true,
	StateCheckLimit:    true,
	StateCapture:       true,
}

var failurePaths = map[State]bool{
	StateRecordFailure: true,
	StateRateLimited:   true,
	StateAborted:       true,
}

var allowedTransitions = map[State]map[State]bool{
	StateStart: {
		StateEnsureSession: true,
		StateDone:          true,
		StateAborted:       true,
	},
	StateEnsureSession: {StateSubmit: true, StateRotateAccount: true},
	StateSubmit:        {StateAwaitResult: true},
	StateAwaitResult:   {StateCheckLimit: true},
	StateCheckLimit:    {StateCapture: true},
	StateCapture:       {StateRecordSuccess: true},
	StateRecordSuccess: {StateAdvance: true},
	StateRecordFailure: {StateAdvance: true},
	StateAdvance: {
		StateEnsureSession: true,
		StateDone:          true,
		StateAborted:       true,
	},
	StateRateLimited: {StateRotateAccount: true},
	StateRotateAccount: {
		StateEnsureSession: true,
		StateExhausted:     true,
		StateAborted:       true,
	},
}

// Terminal reports whether s ends the batch.
func (s State) Terminal() bool {
	return s == StateDone || s == StateExhausted || s == StateAborted
}

// CanTransition reports whether the state machine allows from -> to.
func CanTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if workingStates[from] && failurePaths[to] {
		return true
	}
	return allowedTransitions[from][to]
}

// Decision is what the queue does after one attempt at a job.
type Decision int

const (
	// DecisionAdvanceSuccess records a completed job and advances.
	DecisionAdvanceSuccess Decision = iota
	// DecisionAdvanceFailure records a failed job and advances.
	DecisionAdvanceFailure
	// DecisionRotate keeps the job and switches account.
	DecisionRotate
	// DecisionAbort stops the batch with the results so far.
	DecisionAbort
)

func (d Decision) String() string {
	switch d {
	case DecisionAdvanceSuccess:
		return "advance_success"
	case DecisionAdvanceFailure:
		return "advance_failure"
	case DecisionRotate:
		return "rotate"
	default:
		return "abort"
	}
}

// Decide maps the outcome of one attempt to a queue decision. It is the only
// place deciding whether the queue cursor moves.
func Decide(err error) Decision {
	switch {
	case err == nil:
		return DecisionAdvanceSuccess
	case errors.Is(err, domain.ErrAccountsExhausted):
		return DecisionAbort
	case errors.Is(err, domain.ErrRateLimited), errors.Is(err, domain.ErrCredentialsRejected):
		return DecisionRotate
	case errors.Is(err, domain.ErrTimeout), errors.Is(err, domain.ErrCapture):
		return DecisionAdvanceFailure
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return DecisionAbort
	default:
		return DecisionAdvanceFailure
	}
}
