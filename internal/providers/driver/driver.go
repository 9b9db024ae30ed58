// Package driver defines the capability set the batch core needs from a
// provider automation adapter.
package driver

import (
	"context"

	"videobatch/internal/domain"
)

// Signal is the structured result of a point-in-time provider state check.
type Signal int

const (
	SignalNone Signal = iota
	SignalRateLimited
	SignalAuthRequired
)

func (s Signal) String() string {
	switch s {
	case SignalRateLimited:
		return "rate_limited"
	case SignalAuthRequired:
		return "auth_required"
	default:
		return "none"
	}
}

// SubmitResult is the immediate answer of the provider to a submitted prompt.
type SubmitResult int

const (
	SubmitAccepted SubmitResult = iota
	SubmitRateLimited
)

// Completion is the outcome of waiting for a submitted job.
type Completion int

const (
	CompletionDone Completion = iota
	CompletionRateLimited
)

// SignalDetector classifies provider state. Drivers embed one per provider.
type SignalDetector interface {
	Detect(ctx context.Context) (Signal, error)
}

// Driver operates one provider session on behalf of the batch core. Every
// blocking method honours the context deadline; exceeding it returns an error
// wrapping context.DeadlineExceeded.
type Driver interface {
	SignalDetector

	Name() string
	// RequiresAuth reports whether an account must be signed in before jobs
	// can be submitted.
	RequiresAuth() bool
	// Authenticate signs the account in. Failures wrap domain.ErrAuth, or
	// domain.ErrCredentialsRejected when the provider refused the credentials.
	Authenticate(ctx context.Context, account domain.Account) error
	// ResetSession returns the UI to a neutral pre-job state. Idempotent.
	ResetSession(ctx context.Context) error
	Submit(ctx context.Context, prompt string) (SubmitResult, error)
	AwaitCompletion(ctx context.Context) (Completion, error)
	// Capture retrieves the generated artifact using one strategy. Candidates
	// rejected by policy are skipped, not returned.
	Capture(ctx context.Context, strategy domain.CaptureStrategy, policy domain.CapturePolicy) (*domain.CaptureResult, error)
	// EndSession signs out and clears authenticated state.
	EndSession(ctx context.Context) error
}

// InteractiveAuthenticator is implemented by drivers whose sign-in waits on a
// human step. Such calls get no step timeout but stay cancellable.
type InteractiveAuthenticator interface {
	InteractiveAuth() bool
}

// Session is a driver that owns resources released by Close.
type Session interface {
	Driver
	Close() error
}

// IsInteractive reports whether d declares interactive authentication.
func IsInteractive(d Driver) bool {
	ia, ok := d.(InteractiveAuthenticator)
	return ok && ia.InteractiveAuth()
}
