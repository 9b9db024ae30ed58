package batch

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"videobatch/internal/domain"
	"videobatch/internal/providers/driver"
)

func newTestOrchestrator(d driver.Driver, observer Observer) *Orchestrator {
	return New(d, Options{
		Config: Config{
			PerStepTimeout: time.Second,
			AwaitTimeout:   time.Second,
			CaptureTimeout: time.Second,
		},
		Sink:     indexSink{},
		Observer: observer,
	})
}

func TestRunRotatesOnSubmitRateLimit(t *testing.T) {
	d := newScriptedDriver()
	d.submit = limitedFor("A")

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1", "p2"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Jobs) != 2 {
		t.Fatalf("expected 2 results, got %d", len(res.Jobs))
	}
	for i, job := range res.Jobs {
		if job.Index != i || job.Status != domain.JobStatusCompleted {
			t.Fatalf("job %d = %+v", i, job)
		}
	}
	if res.AccountCursor != 1 || res.Rotations != 1 {
		t.Fatalf("account cursor = %d rotations = %d, want 1/1", res.AccountCursor, res.Rotations)
	}

	calls := d.Calls()
	want := []string{"auth:A", "submit:A:p1", "end:A", "auth:B", "submit:B:p1"}
	if !reflect.DeepEqual(calls[:len(want)], want) {
		t.Fatalf("call order = %v, want prefix %v", calls, want)
	}
	if d.count("submit:B:p2") != 1 {
		t.Fatalf("p2 should be submitted once under B: %v", calls)
	}
}

func TestRunExhaustsSingleAccount(t *testing.T) {
	d := newScriptedDriver()
	d.submit = limitedFor("A")

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1"}, accounts("A"))
	var exhausted *domain.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if !errors.Is(err, domain.ErrAccountsExhausted) {
		t.Fatalf("expected ErrAccountsExhausted")
	}
	if exhausted.Index != 0 || len(exhausted.Results) != 0 {
		t.Fatalf("unexpected exhaustion details %+v", exhausted)
	}
	if res == nil || len(res.Jobs) != 0 || res.AccountCursor != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestRunExhaustionKeepsPartialResults(t *testing.T) {
	d := newScriptedDriver()
	d.submit = func(identity, prompt string) (driver.SubmitResult, error) {
		if prompt == "p2" {
			return driver.SubmitRateLimited, nil
		}
		return driver.SubmitAccepted, nil
	}

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1", "p2", "p3"}, accounts("A", "B"))
	var exhausted *domain.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.Index != 1 || exhausted.Accounts != 2 {
		t.Fatalf("exhaustion = %+v", exhausted)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("partial results = %+v", res.Jobs)
	}
	if !reflect.DeepEqual(res.Jobs, exhausted.Results) {
		t.Fatalf("error results differ from returned results")
	}
	if res.AccountCursor != 2 {
		t.Fatalf("account cursor = %d, want pool size 2", res.AccountCursor)
	}
	if d.count("submit:A:p3")+d.count("submit:B:p3") != 0 {
		t.Fatalf("p3 must not run after exhaustion")
	}
}

func TestRunRotationDoesNotChangeRecords(t *testing.T) {
	rotated := newScriptedDriver()
	rotated.submit = limitedFor("A", "B")
	viaRotation, err := newTestOrchestrator(rotated, nil).Run(context.Background(), []string{"p1"}, accounts("A", "B", "C"))
	if err != nil {
		t.Fatalf("rotated run error = %v", err)
	}

	direct := newScriptedDriver()
	directly, err := newTestOrchestrator(direct, nil).Run(context.Background(), []string{"p1"}, accounts("C"))
	if err != nil {
		t.Fatalf("direct run error = %v", err)
	}

	if !reflect.DeepEqual(viaRotation.Jobs, directly.Jobs) {
		t.Fatalf("records differ:\nrotated: %+v\ndirect:  %+v", viaRotation.Jobs, directly.Jobs)
	}
	if viaRotation.Rotations != 2 || viaRotation.AccountCursor != 2 {
		t.Fatalf("rotations = %d cursor = %d", viaRotation.Rotations, viaRotation.AccountCursor)
	}
}

func TestRunRateLimitAfterCompletionRetriesSameJob(t *testing.T) {
	d := newScriptedDriver()
	d.limitAfter = func(identity, _ string) bool { return identity == "A" }

	var rotatedAt []int
	observer := Hooks{OnRotate: func(index, from, to int) {
		rotatedAt = append(rotatedAt, index)
		if to != from+1 {
			t.Errorf("rotation %d -> %d is not monotonic by one", from, to)
		}
	}}
	res, err := newTestOrchestrator(d, observer).Run(context.Background(), []string{"p1"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("results = %+v", res.Jobs)
	}
	if !reflect.DeepEqual(rotatedAt, []int{0}) {
		t.Fatalf("rotations at jobs %v, want [0]", rotatedAt)
	}
	if n := d.count("capture:active:A"); n != 0 {
		t.Fatalf("artifact must not be captured under a limited account, got %d captures", n)
	}
	if d.count("submit:B:p1") != 1 {
		t.Fatalf("job should be retried under B: %v", d.Calls())
	}
}

func TestRunAwaitRateLimitRotates(t *testing.T) {
	d := newScriptedDriver()
	d.await = func(_ context.Context, identity, _ string) (driver.Completion, error) {
		if identity == "A" {
			return driver.CompletionRateLimited, nil
		}
		return driver.CompletionDone, nil
	}
	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rotations != 1 || res.Jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunTimeoutFailsJobWithoutRotation(t *testing.T) {
	d := newScriptedDriver()
	d.await = func(ctx context.Context, _, prompt string) (driver.Completion, error) {
		if prompt == "p1" {
			<-ctx.Done()
			return driver.CompletionDone, ctx.Err()
		}
		return driver.CompletionDone, nil
	}
	o := New(d, Options{
		Config: Config{PerStepTimeout: time.Second, AwaitTimeout: 20 * time.Millisecond, CaptureTimeout: time.Second},
		Sink:   indexSink{},
	})

	res, err := o.Run(context.Background(), []string{"p1", "p2"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rotations != 0 || res.AccountCursor != 0 {
		t.Fatalf("timeout must not rotate: %+v", res)
	}
	if res.Jobs[0].Status != domain.JobStatusFailed || !strings.Contains(res.Jobs[0].Error, "timed out") {
		t.Fatalf("job 0 = %+v", res.Jobs[0])
	}
	if !strings.HasPrefix(res.Jobs[0].Error, "job 0:") {
		t.Fatalf("job error should carry its index: %q", res.Jobs[0].Error)
	}
	if res.Jobs[1].Status != domain.JobStatusCompleted {
		t.Fatalf("job 1 = %+v", res.Jobs[1])
	}
}

func TestRunCaptureFailureAdvancesWithoutRotation(t *testing.T) {
	d := newScriptedDriver()
	d.capture = func(_ context.Context, strategy domain.CaptureStrategy, _, prompt string) (*domain.CaptureResult, error) {
		if prompt == "p1" {
			return nil, errors.New("no download")
		}
		if strategy == domain.CapturePassive {
			return &domain.CaptureResult{ContentType: "video/mp4", Size: 2 << 20, SourceURL: "https://cdn.example/p2"}, nil
		}
		return nil, errors.New("button missing")
	}

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1", "p2"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rotations != 0 {
		t.Fatalf("capture failure must not rotate")
	}
	if res.Jobs[0].Status != domain.JobStatusFailed || !strings.Contains(res.Jobs[0].Error, domain.ErrCapture.Error()) {
		t.Fatalf("job 0 = %+v", res.Jobs[0])
	}
	if res.Jobs[0].ArtifactRef != "" {
		t.Fatalf("failed job must not carry an artifact")
	}
	if res.Jobs[1].Status != domain.JobStatusCompleted || res.Jobs[1].ArtifactRef == "" {
		t.Fatalf("job 1 = %+v", res.Jobs[1])
	}
}

func TestRunUndersizedArtifactFailsCapture(t *testing.T) {
	d := newScriptedDriver()
	d.capture = func(ctx context.Context, strategy domain.CaptureStrategy, _, _ string) (*domain.CaptureResult, error) {
		if strategy == domain.CaptureActive {
			return &domain.CaptureResult{ContentType: "image/jpeg", Size: 10 << 10}, nil
		}
		<-ctx.Done()
		return nil, ctx.Err()
	}
	o := New(d, Options{Config: Config{CaptureTimeout: 30 * time.Millisecond}, Sink: indexSink{}})

	res, err := o.Run(context.Background(), []string{"p1"}, accounts("A"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Jobs[0].Status != domain.JobStatusFailed {
		t.Fatalf("preview image must not complete the job: %+v", res.Jobs[0])
	}
}

func TestRunFailsForwardOnDriverErrorAndPanic(t *testing.T) {
	d := newScriptedDriver()
	d.submit = func(_, prompt string) (driver.SubmitResult, error) {
		switch prompt {
		case "p1":
			return driver.SubmitAccepted, errors.New("input box not found")
		case "p2":
			panic("selector exploded")
		}
		return driver.SubmitAccepted, nil
	}

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1", "p2", "p3"}, accounts("A"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Jobs) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Jobs))
	}
	if res.Jobs[0].Status != domain.JobStatusFailed || !strings.Contains(res.Jobs[0].Error, "input box not found") {
		t.Fatalf("job 0 = %+v", res.Jobs[0])
	}
	if res.Jobs[1].Status != domain.JobStatusFailed || !strings.Contains(res.Jobs[1].Error, "selector exploded") {
		t.Fatalf("job 1 = %+v", res.Jobs[1])
	}
	if res.Jobs[2].Status != domain.JobStatusCompleted {
		t.Fatalf("job 2 = %+v", res.Jobs[2])
	}
}

func TestRunCancellationReturnsPartialResults(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d := newScriptedDriver()
	d.await = func(ctx context.Context, _, prompt string) (driver.Completion, error) {
		if prompt == "p2" {
			cancel()
			<-ctx.Done()
			return driver.CompletionDone, ctx.Err()
		}
		return driver.CompletionDone, nil
	}

	var states []State
	observer := Hooks{OnState: func(_ int, _, to State) { states = append(states, to) }}
	res, err := newTestOrchestrator(d, observer).Run(ctx, []string{"p1", "p2", "p3"}, accounts("A"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if len(res.Jobs) != 1 || res.Jobs[0].Index != 0 {
		t.Fatalf("partial results = %+v", res.Jobs)
	}
	if states[len(states)-1] != StateAborted {
		t.Fatalf("last state = %s, want aborted", states[len(states)-1])
	}
}

func TestRunAuthFailureIsJobFailure(t *testing.T) {
	d := newScriptedDriver()
	d.auth = func(account domain.Account) error {
		return errors.New("captcha shown")
	}

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rotations != 0 {
		t.Fatalf("auth failure must not rotate")
	}
	if res.Jobs[0].Status != domain.JobStatusFailed || !strings.Contains(res.Jobs[0].Error, domain.ErrAuth.Error()) {
		t.Fatalf("job 0 = %+v", res.Jobs[0])
	}
}

func TestRunRetryAuthOnce(t *testing.T) {
	attempts := 0
	d := newScriptedDriver()
	d.auth = func(domain.Account) error {
		attempts++
		if attempts == 1 {
			return errors.New("login page did not load")
		}
		return nil
	}
	o := New(d, Options{Config: Config{RetryAuthOnce: true}, Sink: indexSink{}})

	res, err := o.Run(context.Background(), []string{"p1"}, accounts("A"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if attempts != 2 || res.Jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("attempts = %d job = %+v", attempts, res.Jobs[0])
	}
}

func TestRunRejectedCredentialsRotate(t *testing.T) {
	d := newScriptedDriver()
	d.auth = func(account domain.Account) error {
		if account.Identity == "A" {
			return domain.ErrCredentialsRejected
		}
		return nil
	}

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1"}, accounts("A", "B"))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Rotations != 1 || res.Jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("result = %+v", res)
	}
}

func TestRunValidation(t *testing.T) {
	d := newScriptedDriver()
	o := newTestOrchestrator(d, nil)

	if _, err := o.Run(context.Background(), nil, accounts("A")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("empty prompts: got %v", err)
	}
	if _, err := o.Run(context.Background(), []string{"p1", "  "}, accounts("A")); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("blank prompt: got %v", err)
	}
	if _, err := o.Run(context.Background(), []string{"p1"}, nil); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("missing accounts: got %v", err)
	}
	if len(d.Calls()) != 0 {
		t.Fatalf("validation failures must not touch the session: %v", d.Calls())
	}
}

func TestRunWithoutAuthUsesSingleAnonymousSlot(t *testing.T) {
	d := newScriptedDriver()
	d.requiresAuth = false

	res, err := newTestOrchestrator(d, nil).Run(context.Background(), []string{"p1", "p2"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(res.Jobs) != 2 || res.AccountCursor != 0 {
		t.Fatalf("result = %+v", res)
	}
	if d.count("auth:") != 0 {
		t.Fatalf("no sign-in expected: %v", d.Calls())
	}
}

func TestRunInteractiveAuthHasNoStepTimeout(t *testing.T) {
	d := newScriptedDriver()
	d.requiresAuth = false
	d.interactive = true
	d.auth = func(domain.Account) error {
		time.Sleep(50 * time.Millisecond)
		return nil
	}
	o := New(d, Options{Config: Config{PerStepTimeout: 10 * time.Millisecond}, Sink: indexSink{}})

	res, err := o.Run(context.Background(), []string{"p1"}, nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if res.Jobs[0].Status != domain.JobStatusCompleted {
		t.Fatalf("job = %+v", res.Jobs[0])
	}
}

func TestRunTransitionsFollowStateMachine(t *testing.T) {
	d := newScriptedDriver()
	d.submit = limitedFor("A")
	d.capture = func(ctx context.Context, strategy domain.CaptureStrategy, _, prompt string) (*domain.CaptureResult, error) {
		if prompt == "p2" {
			return nil, errors.New("gone")
		}
		if strategy == domain.CapturePassive {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &domain.CaptureResult{ContentType: "video/mp4", Size: 1 << 20}, nil
	}

	type edge struct{ from, to State }
	var edges []edge
	var recorded []int
	observer := Hooks{
		OnState: func(_ int, from, to State) { edges = append(edges, edge{from, to}) },
		OnJob:   func(job domain.Job) { recorded = append(recorded, job.Index) },
	}
	if _, err := newTestOrchestrator(d, observer).Run(context.Background(), []string{"p1", "p2"}, accounts("A", "B")); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	for _, e := range edges {
		if !CanTransition(e.from, e.to) {
			t.Fatalf("illegal transition %s -> %s", e.from, e.to)
		}
	}
	if edges[len(edges)-1].to != StateDone {
		t.Fatalf("last state = %s", edges[len(edges)-1].to)
	}
	if !reflect.DeepEqual(recorded, []int{0, 1}) {
		t.Fatalf("recorded order = %v", recorded)
	}
}
