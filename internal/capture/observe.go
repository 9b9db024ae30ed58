package capture

import (
	"context"
	"errors"

	"videobatch/internal/domain"
)

var errStreamClosed = errors.New("capture: transfer stream closed")

// Observe waits for the first transfer accepted by policy and returns it as
// a passive capture. Smaller or mistyped transfers (thumbnails, previews,
// manifests) are skipped and observation continues until ctx is done.
func Observe(ctx context.Context, transfers <-chan domain.Transfer, policy domain.CapturePolicy) (*domain.CaptureResult, error) {
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case t, ok := <-transfers:
			if !ok {
				return nil, errStreamClosed
			}
			size := t.Size
			if size <= 0 {
				size = int64(len(t.Data))
			}
			if !policy.Accepts(t.ContentType, size) {
				continue
			}
			return &domain.CaptureResult{
				Strategy:    domain.CapturePassive,
				Data:        t.Data,
				SourceURL:   t.URL,
				ContentType: t.ContentType,
				Size:        size,
			}, nil
		}
	}
}
