package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrValidation          = errors.New("validation failed")
	ErrAuth                = errors.New("authentication failed")
	ErrCredentialsRejected = fmt.Errorf("%w: credentials rejected", ErrAuth)
	ErrRateLimited         = errors.New("rate limited")
	ErrTimeout             = errors.New("timed out")
	ErrCapture             = errors.New("artifact capture failed")
	ErrAccountsExhausted   = errors.New("accounts exhausted")
	ErrProviderBusy        = errors.New("provider session busy")
	ErrUnknownProvider     = errors.New("unknown provider")
)

// ValidationError rejects a malformed batch request before any session work.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// JobError is the self-describing failure stored on a job record. Kind is one
// of the sentinel errors above.
type JobError struct {
	Index int
	Kind  error
	Cause string
}

// NewJobError builds a JobError from an underlying error, keeping its message
// as the human-readable cause.
func NewJobError(index int, kind error, err error) *JobError {
	cause := ""
	if err != nil {
		cause = err.Error()
	}
	return &JobError{Index: index, Kind: kind, Cause: cause}
}

func (e *JobError) Error() string {
	kind := "job failed"
	if e.Kind != nil {
		kind = e.Kind.Error()
	}
	cause := strings.TrimSpace(e.Cause)
	if cause == "" || cause == kind {
		return fmt.Sprintf("job %d: %s", e.Index, kind)
	}
	if strings.HasPrefix(cause, kind+":") {
		return fmt.Sprintf("job %d: %s", e.Index, cause)
	}
	return fmt.Sprintf("job %d: %s: %s", e.Index, kind, cause)
}

func (e *JobError) Unwrap() error { return e.Kind }

// ExhaustedError terminates a batch when rotation is requested but no account
// is left. Results holds every record accumulated before the stop.
type ExhaustedError struct {
	Index    int
	Accounts int
	Results  []Job
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("accounts exhausted: %d account(s) used, job %d not finished", e.Accounts, e.Index)
}

func (e *ExhaustedError) Unwrap() error { return ErrAccountsExhausted }

// KindOf returns the sentinel classification of err, or nil when err is not
// one of the known kinds.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrValidation,
		ErrAccountsExhausted,
		ErrRateLimited,
		ErrCredentialsRejected,
		ErrAuth,
		ErrTimeout,
		ErrCapture,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
