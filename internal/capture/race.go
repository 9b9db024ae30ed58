package capture

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"videobatch/internal/domain"
)

// Capturer is the slice of the provider driver used by the race.
type Capturer interface {
	Capture(ctx context.Context, strategy domain.CaptureStrategy, policy domain.CapturePolicy) (*domain.CaptureResult, error)
}

// Strategies raced by Race, in commit-preference order on a simultaneous
// finish.
var Strategies = []domain.CaptureStrategy{domain.CaptureActive, domain.CapturePassive}

// Race runs the active and passive strategies of c concurrently and commits
// the first artifact that satisfies policy. A strategy returning a candidate
// the policy rejects counts as that strategy failing; the other keeps going
// until the deadline.
//
// Failure wraps domain.ErrCapture. Cancellation of ctx itself is returned
// unwrapped so callers can tell an operator abort from a capture timeout.
func Race(ctx context.Context, c Capturer, policy domain.CapturePolicy, timeout time.Duration) (*domain.CaptureResult, error) {
	raceCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		raceCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	tasks := make([]Task[*domain.CaptureResult], 0, len(Strategies))
	for _, strategy := range Strategies {
		tasks = append(tasks, strategyTask(c, strategy, policy))
	}

	winner, err := First(raceCtx, Discard, tasks...)
	if err == nil {
		return winner.Value, nil
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return nil, fmt.Errorf("%w: no valid artifact within %s", domain.ErrCapture, timeout)
	}
	return nil, fmt.Errorf("%w: %w", domain.ErrCapture, err)
}

func strategyTask(c Capturer, strategy domain.CaptureStrategy, policy domain.CapturePolicy) Task[*domain.CaptureResult] {
	return func(ctx context.Context) (*domain.CaptureResult, error) {
		res, err := c.Capture(ctx, strategy, policy)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", strategy, err)
		}
		if res == nil {
			return nil, fmt.Errorf("%s: no artifact", strategy)
		}
		if res.Size == 0 {
			res.Size = int64(len(res.Data))
		}
		if !policy.AcceptsResult(res) {
			Discard(res)
			return nil, fmt.Errorf("%s: rejected %q candidate of %d bytes", strategy, res.ContentType, res.Size)
		}
		if res.Strategy == "" {
			res.Strategy = strategy
		}
		return res, nil
	}
}

// Discard drops the partial work of a losing or rejected capture.
func Discard(res *domain.CaptureResult) {
	if res == nil {
		return
	}
	if res.Path != "" {
		_ = os.Remove(res.Path)
	}
	res.Data = nil
}
