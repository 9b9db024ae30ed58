package batch

import (
	"time"

	"videobatch/internal/domain"
)

const (
	DefaultPerStepTimeout   = 60 * time.Second
	DefaultAwaitTimeout     = 6 * time.Minute
	DefaultCaptureTimeout   = 2 * time.Minute
	DefaultCaptureMinBytes  = 500_000
	DefaultCaptureMediaType = "video/"
)

// Config is passed to the orchestrator at construction. Zero durations fall
// back to the defaults above.
type Config struct {
	SessionStorageRoot string
	DownloadRoot       string

	PerStepTimeout time.Duration
	AwaitTimeout   time.Duration
	CaptureTimeout time.Duration

	CaptureMinBytes  int64
	CaptureMediaType string

	// RetryAuthOnce retries a failed non-credential sign-in once after a
	// session reset before recording the job as failed.
	RetryAuthOnce bool
}

// DefaultConfig returns a config with every default applied.
func DefaultConfig() Config {
	return Config{}.withDefaults()
}

func (c Config) withDefaults() Config {
	if c.SessionStorageRoot == "" {
		c.SessionStorageRoot = "./sessions"
	}
	if c.DownloadRoot == "" {
		c.DownloadRoot = "./downloads"
	}
	if c.PerStepTimeout <= 0 {
		c.PerStepTimeout = DefaultPerStepTimeout
	}
	if c.AwaitTimeout <= 0 {
		c.AwaitTimeout = DefaultAwaitTimeout
	}
	if c.CaptureTimeout <= 0 {
		c.CaptureTimeout = DefaultCaptureTimeout
	}
	if c.CaptureMinBytes <= 0 {
		c.CaptureMinBytes = DefaultCaptureMinBytes
	}
	if c.CaptureMediaType == "" {
		c.CaptureMediaType = DefaultCaptureMediaType
	}
	return c
}

// Policy is the capture acceptance rule derived from the config.
func (c Config) Policy() domain.CapturePolicy {
	return domain.CapturePolicy{MediaType: c.CaptureMediaType, MinBytes: c.CaptureMinBytes}
}
