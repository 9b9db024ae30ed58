package batch

import (
	"fmt"

	"videobatch/internal/domain"
)

// Results accumulates one terminal record per job in queue order.
type Results struct {
	records []domain.Job
}

// Record appends job. Records must arrive in index order and be terminal.
func (r *Results) Record(job domain.Job) error {
	if job.Index != len(r.records) {
		return fmt.Errorf("batch: record job %d out of order, expected %d", job.Index, len(r.records))
	}
	if !job.Terminal() {
		return fmt.Errorf("batch: record job %d with status %q", job.Index, job.Status)
	}
	r.records = append(r.records, job)
	return nil
}

func (r *Results) Len() int { return len(r.records) }

// Snapshot returns a copy of the recorded jobs.
func (r *Results) Snapshot() []domain.Job {
	out := make([]domain.Job, len(r.records))
	copy(out, r.records)
	return out
}
