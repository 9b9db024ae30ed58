package batch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"videobatch/internal/domain"
	"videobatch/internal/providers/driver"
)

// scriptedDriver is a provider driver whose behaviour per (account, prompt)
// is scripted by the test.
type scriptedDriver struct {
	requiresAuth bool
	interactive  bool

	// Hooks; nil means the happy path.
	auth       func(account domain.Account) error
	submit     func(identity, prompt string) (driver.SubmitResult, error)
	await      func(ctx context.Context, identity, prompt string) (driver.Completion, error)
	limitAfter func(identity, prompt string) bool
	capture    func(ctx context.Context, strategy domain.CaptureStrategy, identity, prompt string) (*domain.CaptureResult, error)

	mu        sync.Mutex
	signedIn  bool
	identity  string
	prompt    string
	completed bool
	calls     []string
}

func newScriptedDriver() *scriptedDriver {
	return &scriptedDriver{requiresAuth: true}
}

func (d *scriptedDriver) log(format string, args ...any) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, fmt.Sprintf(format, args...))
}

func (d *scriptedDriver) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]string, len(d.calls))
	copy(out, d.calls)
	return out
}

func (d *scriptedDriver) count(prefix string) int {
	n := 0
	for _, c := range d.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}

func (d *scriptedDriver) Name() string { return "scripted" }

func (d *scriptedDriver) RequiresAuth() bool { return d.requiresAuth }

func (d *scriptedDriver) InteractiveAuth() bool { return d.interactive }

func (d *scriptedDriver) Detect(ctx context.Context) (driver.Signal, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.completed && d.limitAfter != nil && d.limitAfter(d.identity, d.prompt) {
		return driver.SignalRateLimited, nil
	}
	if (d.requiresAuth || d.interactive) && !d.signedIn {
		return driver.SignalAuthRequired, nil
	}
	return driver.SignalNone, nil
}

func (d *scriptedDriver) Authenticate(ctx context.Context, account domain.Account) error {
	d.log("auth:%s", account.Identity)
	if d.auth != nil {
		if err := d.auth(account); err != nil {
			return err
		}
	}
	d.mu.Lock()
	d.signedIn = true
	d.identity = account.Identity
	d.mu.Unlock()
	return nil
}

func (d *scriptedDriver) ResetSession(ctx context.Context) error {
	d.mu.Lock()
	d.completed = false
	d.prompt = ""
	d.mu.Unlock()
	return nil
}

func (d *scriptedDriver) Submit(ctx context.Context, prompt string) (driver.SubmitResult, error) {
	d.mu.Lock()
	identity := d.identity
	d.prompt = prompt
	d.mu.Unlock()
	d.log("submit:%s:%s", identity, prompt)
	if d.submit != nil {
		return d.submit(identity, prompt)
	}
	return driver.SubmitAccepted, nil
}

func (d *scriptedDriver) AwaitCompletion(ctx context.Context) (driver.Completion, error) {
	d.mu.Lock()
	identity, prompt := d.identity, d.prompt
	d.mu.Unlock()
	if d.await != nil {
		c, err := d.await(ctx, identity, prompt)
		if err != nil || c != driver.CompletionDone {
			return c, err
		}
	}
	d.mu.Lock()
	d.completed = true
	d.mu.Unlock()
	return driver.CompletionDone, nil
}

func (d *scriptedDriver) Capture(ctx context.Context, strategy domain.CaptureStrategy, _ domain.CapturePolicy) (*domain.CaptureResult, error) {
	d.mu.Lock()
	identity, prompt := d.identity, d.prompt
	d.mu.Unlock()
	d.log("capture:%s:%s:%s", strategy, identity, prompt)
	if d.capture != nil {
		return d.capture(ctx, strategy, identity, prompt)
	}
	if strategy == domain.CapturePassive {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return &domain.CaptureResult{
		SourceURL:   "https://cdn.example/" + prompt + ".mp4",
		ContentType: "video/mp4",
		Size:        1 << 20,
	}, nil
}

func (d *scriptedDriver) EndSession(ctx context.Context) error {
	d.log("end:%s", d.currentIdentity())
	d.mu.Lock()
	d.signedIn = false
	d.identity = ""
	d.mu.Unlock()
	return nil
}

func (d *scriptedDriver) currentIdentity() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.identity
}

// indexSink names artifacts from the job only, so records do not depend on
// which account produced them.
type indexSink struct{}

func (indexSink) Store(_ context.Context, job domain.Job, res *domain.CaptureResult) (string, string, error) {
	if res == nil {
		return "", "", errors.New("nil capture")
	}
	name := fmt.Sprintf("%04d-%s.mp4", job.Index, job.Prompt)
	return "artifact://" + name, "/downloads/" + name, nil
}

func accounts(ids ...string) []domain.Account {
	out := make([]domain.Account, 0, len(ids))
	for _, id := range ids {
		out = append(out, domain.Account{Identity: id, Secret: "pw-" + id})
	}
	return out
}

func limitedFor(ids ...string) func(identity, prompt string) (driver.SubmitResult, error) {
	set := map[string]bool{}
	for _, id := range ids {
		set[id] = true
	}
	return func(identity, _ string) (driver.SubmitResult, error) {
		if set[identity] {
			return driver.SubmitRateLimited, nil
		}
		return driver.SubmitAccepted, nil
	}
}
