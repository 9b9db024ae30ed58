package main

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"videobatch/internal/adapter/repo"
	"videobatch/internal/batch"
	"videobatch/internal/domain"
	"videobatch/internal/service"
)

type batchRunner interface {
	Run(ctx context.Context, req service.Request) (*batch.Result, error)
}

// batchWorker claims queued batches one at a time and runs them to a
// terminal status.
type batchWorker struct {
	batches  domain.BatchRepository
	runner   batchRunner
	logger   zerolog.Logger
	interval time.Duration
}

func (w *batchWorker) Run(ctx context.Context) error {
	if w.interval <= 0 {
		w.interval = 2 * time.Second
	}
	w.logger.Info().Dur("poll", w.interval).Msg("worker: started")
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		req, err := w.batches.ClaimNext(ctx)
		if err != nil {
			if !errors.Is(err, repo.ErrNoBatchQueued) && ctx.Err() == nil {
				w.logger.Error().Err(err).Msg("worker: failed to claim batch")
			}
			if err := sleep(ctx, w.interval); err != nil {
				return err
			}
			continue
		}

		if requeued := w.handle(ctx, req); requeued {
			if err := sleep(ctx, w.interval); err != nil {
				return err
			}
		}
	}
}

// handle runs one claimed batch. It reports whether the batch went back to
// the queue because its provider was busy.
func (w *batchWorker) handle(ctx context.Context, req *domain.BatchRequest) bool {
	logger := w.logger.With().Str("batch_id", req.ID).Str("provider", req.Provider).Logger()
	logger.Info().Int("prompts", len(req.Prompts)).Msg("worker: picked batch")

	// Records and the final status are written even when shutdown cancels
	// the run.
	store := context.WithoutCancel(ctx)
	observer := batch.Hooks{
		OnJob: func(job domain.Job) {
			if err := w.batches.SaveResult(store, req.ID, job); err != nil {
				logger.Error().Err(err).Int("job_index", job.Index).Msg("worker: save result failed")
			}
		},
		OnRotate: func(index, from, to int) {
			logger.Info().Int("job_index", index).Int("from", from).Int("to", to).Msg("worker: account rotated")
		},
	}

	res, err := w.runner.Run(ctx, service.Request{
		Provider: req.Provider,
		Category: req.Category,
		Prompts:  req.Prompts,
		Accounts: req.Accounts,
		Observer: observer,
	})

	status := finalStatus(err)
	if errors.Is(err, domain.ErrProviderBusy) {
		status = domain.BatchStatusQueued
	}
	cursor := 0
	if res != nil {
		cursor = res.AccountCursor
	}
	msg := ""
	if err != nil && status != domain.BatchStatusQueued {
		msg = err.Error()
	}
	if err := w.batches.Finish(store, req.ID, status, cursor, msg); err != nil {
		logger.Error().Err(err).Msg("worker: update status failed")
	}

	event := logger.Info()
	if status == domain.BatchStatusFailed {
		event = logger.Error().Err(err)
	}
	event.Str("status", string(status)).Msg("worker: batch done")
	return status == domain.BatchStatusQueued
}

func finalStatus(err error) domain.BatchStatus {
	switch {
	case err == nil:
		return domain.BatchStatusSucceeded
	case errors.Is(err, domain.ErrAccountsExhausted):
		return domain.BatchStatusExhausted
	default:
		return domain.BatchStatusFailed
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
