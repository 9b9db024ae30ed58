// Package batch runs a prompt batch against one provider driver: it walks
// the job queue, rotates accounts on rate limits and records one outcome per
// job.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"videobatch/internal/capture"
	"videobatch/internal/domain"
	"videobatch/internal/providers/driver"
)

// ArtifactSink persists a captured artifact for a job and returns its
// reference and local path.
type ArtifactSink interface {
	Store(ctx context.Context, job domain.Job, res *domain.CaptureResult) (ref string, path string, err error)
}

// Observer receives progress of a run. Calls happen on the run goroutine.
type Observer interface {
	StateChanged(index int, from, to State)
	AccountRotated(index int, from, to int)
	JobRecorded(job domain.Job)
}

// Hooks adapts optional callbacks to Observer.
type Hooks struct {
	OnState  func(index int, from, to State)
	OnRotate func(index int, from, to int)
	OnJob    func(job domain.Job)
}

func (h Hooks) StateChanged(index int, from, to State) {
	if h.OnState != nil {
		h.OnState(index, from, to)
	}
}

func (h Hooks) AccountRotated(index int, from, to int) {
	if h.OnRotate != nil {
		h.OnRotate(index, from, to)
	}
}

func (h Hooks) JobRecorded(job domain.Job) {
	if h.OnJob != nil {
		h.OnJob(job)
	}
}

// Options configure an Orchestrator.
type Options struct {
	Config   Config
	Logger   *zerolog.Logger
	Sink     ArtifactSink
	Observer Observer
}

// Orchestrator drives one provider session through a batch. A single
// Orchestrator must not run two batches at the same time.
type Orchestrator struct {
	drv      driver.Driver
	cfg      Config
	logger   zerolog.Logger
	sink     ArtifactSink
	observer Observer
}

// Result is the output of a run. Jobs holds one record per finished job in
// index order.
type Result struct {
	Jobs          []domain.Job `json:"results"`
	AccountCursor int          `json:"account_cursor"`
	Rotations     int          `json:"rotations"`
}

func New(drv driver.Driver, opts Options) *Orchestrator {
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	observer := opts.Observer
	if observer == nil {
		observer = Hooks{}
	}
	return &Orchestrator{
		drv:      drv,
		cfg:      opts.Config.withDefaults(),
		logger:   logger.With().Str("provider", drv.Name()).Logger(),
		sink:     opts.Sink,
		observer: observer,
	}
}

// Config returns the effective configuration.
func (o *Orchestrator) Config() Config { return o.cfg }

// Run processes prompts in order using accounts for rotation. It always
// returns the accumulated results: on pool exhaustion the error is a
// *domain.ExhaustedError, on cancellation it wraps ctx.Err().
func (o *Orchestrator) Run(ctx context.Context, prompts []string, accounts []domain.Account) (*Result, error) {
	if err := ValidatePrompts(prompts); err != nil {
		return nil, err
	}
	if err := ValidateAccounts(accounts, o.drv.RequiresAuth()); err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		accounts = []domain.Account{{}}
	}

	r := &run{
		o:     o,
		queue: NewQueue(prompts),
		pool:  NewPool(accounts),
		state: StateStart,
	}
	o.logger.Info().Int("jobs", len(prompts)).Int("accounts", len(accounts)).Msg("batch: started")
	return r.execute(ctx)
}

type run struct {
	o         *Orchestrator
	queue     *Queue
	pool      *Pool
	results   Results
	state     State
	rotations int
	// needsAuth forces sign-in after a rotation ended the previous session.
	needsAuth bool
}

func (r *run) execute(ctx context.Context) (*Result, error) {
	for {
		job, ok := r.queue.Current()
		if !ok {
			r.transition(-1, StateDone)
			r.o.logger.Info().Int("jobs", r.results.Len()).Int("account_cursor", r.pool.Cursor()).Int("rotations", r.rotations).Msg("batch: done")
			return r.result(), nil
		}
		if err := ctx.Err(); err != nil {
			return r.abort(job.Index, err)
		}

		err := r.attempt(ctx, job)
		if ctx.Err() != nil {
			return r.abort(job.Index, ctx.Err())
		}

		switch Decide(err) {
		case DecisionAdvanceSuccess:
			job.Status = domain.JobStatusCompleted
			r.transition(job.Index, StateRecordSuccess)
			r.record(job)
		case DecisionAdvanceFailure:
			kind := domain.KindOf(err)
			job.Status = domain.JobStatusFailed
			job.ArtifactRef, job.ArtifactPath = "", ""
			job.Error = domain.NewJobError(job.Index, kind, err).Error()
			r.transition(job.Index, StateRecordFailure)
			r.o.logger.Warn().Err(err).Int("job_index", job.Index).Msg("batch: job failed")
			r.record(job)
		case DecisionRotate:
			if err := r.rotate(ctx, job.Index, err); err != nil {
				return r.result(), err
			}
			continue
		default:
			return r.abort(job.Index, err)
		}

		r.transition(job.Index, StateAdvance)
		r.queue.Advance()
	}
}

func (r *run) record(job *domain.Job) {
	if err := r.results.Record(*job); err != nil {
		r.o.logger.Error().Err(err).Int("job_index", job.Index).Msg("batch: record rejected")
		return
	}
	r.o.observer.JobRecorded(*job)
	if job.Status == domain.JobStatusCompleted {
		r.o.logger.Info().Int("job_index", job.Index).Str("artifact", job.ArtifactRef).Msg("batch: job completed")
	}
}

// attempt runs one pass of a job from session check to capture. A nil error
// means the job completed and its artifact fields are set.
func (r *run) attempt(ctx context.Context, job *domain.Job) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.o.logger.Error().Interface("panic", p).Int("job_index", job.Index).Msg("batch: driver panic")
			err = fmt.Errorf("driver panic: %v", p)
		}
	}()

	drv := r.o.drv
	cfg := r.o.cfg

	r.transition(job.Index, StateEnsureSession)
	if err := r.ensureSession(ctx, job.Index); err != nil {
		return err
	}

	r.transition(job.Index, StateSubmit)
	if err := r.step(ctx, "reset session", cfg.PerStepTimeout, drv.ResetSession); err != nil {
		return err
	}
	var submitted driver.SubmitResult
	err = r.step(ctx, "submit", cfg.PerStepTimeout, func(ctx context.Context) error {
		var err error
		submitted, err = drv.Submit(ctx, job.Prompt)
		return err
	})
	if err != nil {
		return err
	}
	if submitted == driver.SubmitRateLimited {
		return fmt.Errorf("%w: on submit", domain.ErrRateLimited)
	}

	r.transition(job.Index, StateAwaitResult)
	var completion driver.Completion
	err = r.step(ctx, "await completion", cfg.AwaitTimeout, func(ctx context.Context) error {
		var err error
		completion, err = drv.AwaitCompletion(ctx)
		return err
	})
	if err != nil {
		return err
	}
	if completion == driver.CompletionRateLimited {
		return fmt.Errorf("%w: while generating", domain.ErrRateLimited)
	}

	// Some providers only show the limit once the result looks ready.
	r.transition(job.Index, StateCheckLimit)
	signal, err := r.detect(ctx)
	if err != nil {
		return err
	}
	if signal == driver.SignalRateLimited {
		return fmt.Errorf("%w: after completion", domain.ErrRateLimited)
	}

	r.transition(job.Index, StateCapture)
	res, err := capture.Race(ctx, drv, cfg.Policy(), cfg.CaptureTimeout)
	if err != nil {
		return err
	}
	ref, path := res.SourceURL, res.Path
	if r.o.sink != nil {
		ref, path, err = r.o.sink.Store(ctx, *job, res)
		if err != nil {
			capture.Discard(res)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: store artifact: %w", domain.ErrCapture, err)
		}
	}
	job.ArtifactRef, job.ArtifactPath = ref, path
	r.o.logger.Debug().Int("job_index", job.Index).Str("strategy", string(res.Strategy)).Int64("bytes", res.Size).Msg("batch: artifact captured")
	return nil
}

func (r *run) ensureSession(ctx context.Context, index int) error {
	account, _ := r.pool.Current()
	if account.Anonymous() && !driver.IsInteractive(r.o.drv) {
		return nil
	}
	signal, err := r.detect(ctx)
	if err != nil {
		return err
	}
	switch {
	case signal == driver.SignalRateLimited:
		return fmt.Errorf("%w: before submit", domain.ErrRateLimited)
	case signal == driver.SignalAuthRequired, r.needsAuth:
		return r.authenticate(ctx, index)
	}
	return nil
}

func (r *run) authenticate(ctx context.Context, index int) error {
	account, _ := r.pool.Current()
	logger := r.o.logger.With().Int("job_index", index).Str("account", account.Identity).Logger()

	err := r.signIn(ctx, account)
	if err != nil && r.o.cfg.RetryAuthOnce && !errors.Is(err, domain.ErrCredentialsRejected) && ctx.Err() == nil {
		logger.Warn().Err(err).Msg("batch: sign-in failed, retrying once")
		if resetErr := r.step(ctx, "reset session", r.o.cfg.PerStepTimeout, r.o.drv.ResetSession); resetErr != nil {
			return resetErr
		}
		err = r.signIn(ctx, account)
	}
	if err != nil {
		if errors.Is(err, domain.ErrTimeout) || errors.Is(err, domain.ErrAuth) || ctx.Err() != nil {
			return err
		}
		return fmt.Errorf("%w: %w", domain.ErrAuth, err)
	}
	r.needsAuth = false
	logger.Info().Msg("batch: signed in")
	return nil
}

func (r *run) signIn(ctx context.Context, account domain.Account) error {
	timeout := r.o.cfg.PerStepTimeout
	if driver.IsInteractive(r.o.drv) {
		timeout = 0
	}
	return r.step(ctx, "authenticate", timeout, func(ctx context.Context) error {
		return r.o.drv.Authenticate(ctx, account)
	})
}

func (r *run) detect(ctx context.Context) (driver.Signal, error) {
	var signal driver.Signal
	err := r.step(ctx, "detect", r.o.cfg.PerStepTimeout, func(ctx context.Context) error {
		var err error
		signal, err = r.o.drv.Detect(ctx)
		return err
	})
	return signal, err
}

// rotate ends the current session and moves to the next account. It returns
// an *domain.ExhaustedError when no account is left.
func (r *run) rotate(ctx context.Context, index int, cause error) error {
	if errors.Is(cause, domain.ErrRateLimited) {
		r.transition(index, StateRateLimited)
	}
	r.transition(index, StateRotateAccount)

	from := r.pool.Cursor()
	account, _ := r.pool.Current()
	r.o.logger.Warn().Err(cause).Int("job_index", index).Str("account", account.Identity).Msg("batch: rotating account")

	if err := r.step(ctx, "end session", r.o.cfg.PerStepTimeout, r.o.drv.EndSession); err != nil {
		if ctx.Err() != nil {
			return r.abortErr(index, ctx.Err())
		}
		r.o.logger.Error().Err(err).Int("job_index", index).Msg("batch: end session failed")
	}

	next, ok := r.pool.Rotate()
	if !ok {
		r.transition(index, StateExhausted)
		r.o.logger.Error().Int("job_index", index).Int("accounts", r.pool.Len()).Msg("batch: accounts exhausted")
		return &domain.ExhaustedError{Index: index, Accounts: r.pool.Len(), Results: r.results.Snapshot()}
	}
	r.rotations++
	r.needsAuth = true
	r.o.observer.AccountRotated(index, from, r.pool.Cursor())
	r.o.logger.Info().Int("job_index", index).Str("account", next.Identity).Int("account_cursor", r.pool.Cursor()).Msg("batch: account rotated")
	return nil
}

// step runs fn under timeout. A step deadline becomes domain.ErrTimeout;
// cancellation of ctx itself is returned as ctx.Err().
func (r *run) step(ctx context.Context, name string, timeout time.Duration, fn func(context.Context) error) error {
	stepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	err := fn(stepCtx)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(stepCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %s after %s", domain.ErrTimeout, name, timeout)
	}
	return fmt.Errorf("%s: %w", name, err)
}

func (r *run) transition(index int, to State) {
	from := r.state
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		r.o.logger.Error().Str("from", string(from)).Str("to", string(to)).Msg("batch: unexpected state transition")
	}
	r.state = to
	r.o.logger.Debug().Int("job_index", index).Str("from", string(from)).Str("state", string(to)).Msg("batch: state")
	r.o.observer.StateChanged(index, from, to)
}

func (r *run) abort(index int, err error) (*Result, error) {
	return r.result(), r.abortErr(index, err)
}

func (r *run) abortErr(index int, err error) error {
	r.transition(index, StateAborted)
	r.o.logger.Warn().Err(err).Int("job_index", index).Int("recorded", r.results.Len()).Msg("batch: aborted")
	return fmt.Errorf("batch: aborted at job %d: %w", index, err)
}

func (r *run) result() *Result {
	return &Result{
		Jobs:          r.results.Snapshot(),
		AccountCursor: r.pool.Cursor(),
		Rotations:     r.rotations,
	}
}
