package batch

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"videobatch/internal/domain"
)

func TestDecide(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Decision
	}{
		{"success", nil, DecisionAdvanceSuccess},
		{"submit rate limit", fmt.Errorf("%w: on submit", domain.ErrRateLimited), DecisionRotate},
		{"rejected credentials", fmt.Errorf("authenticate: %w", domain.ErrCredentialsRejected), DecisionRotate},
		{"generic auth", fmt.Errorf("%w: captcha", domain.ErrAuth), DecisionAdvanceFailure},
		{"step timeout", fmt.Errorf("%w: %w", domain.ErrTimeout, context.DeadlineExceeded), DecisionAdvanceFailure},
		{"capture", fmt.Errorf("%w: no valid artifact", domain.ErrCapture), DecisionAdvanceFailure},
		{"driver error", errors.New("element not found"), DecisionAdvanceFailure},
		{"cancelled", context.Canceled, DecisionAbort},
		{"batch deadline", context.DeadlineExceeded, DecisionAbort},
		{"exhausted", &domain.ExhaustedError{}, DecisionAbort},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Decide(tc.err); got != tc.want {
				t.Fatalf("Decide(%v) = %s, want %s", tc.err, got, tc.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateStart, StateEnsureSession, true},
		{StateSubmit, StateRateLimited, true},
		{StateCheckLimit, StateRateLimited, true},
		{StateRateLimited, StateRotateAccount, true},
		{StateRotateAccount, StateEnsureSession, true},
		{StateRotateAccount, StateExhausted, true},
		{StateCapture, StateRecordFailure, true},
		{StateAdvance, StateDone, true},
		{StateRotateAccount, StateAdvance, false},
		{StateRateLimited, StateAdvance, false},
		{StateDone, StateEnsureSession, false},
		{StateAdvance, StateRateLimited, false},
		{StateCheckLimit, StateRecordSuccess, false},
	}
	for _, tc := range tests {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestPoolRotationIsMonotonic(t *testing.T) {
	src := accounts("A", "B")
	p := NewPool(src)

	cur, ok := p.Current()
	if !ok || cur.Identity != "A" {
		t.Fatalf("current = %+v, %v", cur, ok)
	}
	next, ok := p.Rotate()
	if !ok || next.Identity != "B" || p.Cursor() != 1 {
		t.Fatalf("rotate = %+v, %v, cursor %d", next, ok, p.Cursor())
	}
	if _, ok := p.Rotate(); ok {
		t.Fatalf("expected exhaustion")
	}
	if _, ok := p.Rotate(); ok || p.Cursor() != p.Len() {
		t.Fatalf("cursor must stop at pool size, got %d", p.Cursor())
	}
	for _, a := range p.Accounts() {
		if !a.Exhausted {
			t.Fatalf("account %s should be marked exhausted", a.Identity)
		}
	}
	if src[0].Exhausted {
		t.Fatalf("caller accounts must not be mutated")
	}
	if !p.Exhausted() {
		t.Fatalf("Exhausted() = false")
	}
}

func TestQueueAdvance(t *testing.T) {
	q := NewQueue([]string{"a", "b"})
	job, ok := q.Current()
	if !ok || job.Index != 0 || job.Status != domain.JobStatusPending {
		t.Fatalf("current = %+v", job)
	}
	q.Advance()
	q.Advance()
	q.Advance()
	if q.Cursor() != 2 {
		t.Fatalf("cursor = %d, want 2", q.Cursor())
	}
	if _, ok := q.Current(); ok {
		t.Fatalf("expected empty queue")
	}
}

func TestResultsRejectOutOfOrder(t *testing.T) {
	var r Results
	if err := r.Record(domain.Job{Index: 1, Status: domain.JobStatusCompleted}); err == nil {
		t.Fatalf("expected out of order error")
	}
	if err := r.Record(domain.Job{Index: 0, Status: domain.JobStatusPending}); err == nil {
		t.Fatalf("expected non-terminal error")
	}
	if err := r.Record(domain.Job{Index: 0, Status: domain.JobStatusFailed, Error: "x"}); err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	snap := r.Snapshot()
	snap[0].Error = "mutated"
	if r.Snapshot()[0].Error != "x" {
		t.Fatalf("snapshot must be a copy")
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.PerStepTimeout != DefaultPerStepTimeout || cfg.CaptureMinBytes != DefaultCaptureMinBytes {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	policy := cfg.Policy()
	if policy.MediaType != "video/" || policy.MinBytes != 500_000 {
		t.Fatalf("policy = %+v", policy)
	}
}
