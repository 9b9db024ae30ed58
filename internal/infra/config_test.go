package infra

import (
	"errors"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	for _, key := range []string{"DATABASE_URL", "CORS_ALLOWED_ORIGINS", "STEP_TIMEOUT_SECONDS", "CAPTURE_MIN_BYTES", "BROWSER_HEADLESS"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StepTimeout != 60*time.Second {
		t.Fatalf("StepTimeout = %s, want 60s", cfg.StepTimeout)
	}
	if cfg.CaptureMinBytes != 500_000 {
		t.Fatalf("CaptureMinBytes = %d, want 500000", cfg.CaptureMinBytes)
	}
	if len(cfg.CORSAllowedOrigins) != 1 || cfg.CORSAllowedOrigins[0] != "http://localhost:5173" {
		t.Fatalf("CORSAllowedOrigins mismatch: %#v", cfg.CORSAllowedOrigins)
	}
	if cfg.BrowserHeadless {
		t.Fatalf("browser must be visible by default")
	}
	if !errors.Is(cfg.RequireDatabase(), ErrDatabaseRequired) {
		t.Fatalf("expected database to be required when DATABASE_URL is empty")
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://example")
	t.Setenv("STEP_TIMEOUT_SECONDS", "5")
	t.Setenv("AWAIT_TIMEOUT_SECONDS", "30")
	t.Setenv("CAPTURE_MIN_BYTES", "100000")
	t.Setenv("CAPTURE_MEDIA_TYPE", "video/mp4")
	t.Setenv("RETRY_AUTH_ONCE", "true")
	t.Setenv("BROWSER_HEADLESS", "1")
	t.Setenv("CORS_ALLOWED_ORIGINS", " https://app.example.com, ,http://localhost:5173 ")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if err := cfg.RequireDatabase(); err != nil {
		t.Fatalf("RequireDatabase: %v", err)
	}
	if !cfg.BrowserHeadless || !cfg.RetryAuthOnce {
		t.Fatalf("boolean overrides ignored: %+v", cfg)
	}
	want := []string{"https://app.example.com", "http://localhost:5173"}
	if len(cfg.CORSAllowedOrigins) != len(want) {
		t.Fatalf("CORSAllowedOrigins = %#v, want %#v", cfg.CORSAllowedOrigins, want)
	}
	for i := range want {
		if cfg.CORSAllowedOrigins[i] != want[i] {
			t.Fatalf("CORSAllowedOrigins[%d] = %q, want %q", i, cfg.CORSAllowedOrigins[i], want[i])
		}
	}

	bc := cfg.Batch()
	if bc.PerStepTimeout != 5*time.Second || bc.AwaitTimeout != 30*time.Second {
		t.Fatalf("batch timeouts = %s/%s", bc.PerStepTimeout, bc.AwaitTimeout)
	}
	if p := bc.Policy(); p.MinBytes != 100_000 || p.MediaType != "video/mp4" || !bc.RetryAuthOnce {
		t.Fatalf("batch policy = %+v retry=%v", p, bc.RetryAuthOnce)
	}
}

func TestGetEnvIgnoresMalformedNumbers(t *testing.T) {
	t.Setenv("RATE_LIMIT_PER_MINUTE", "many")
	t.Setenv("BROWSER_HEADLESS", "maybe")
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.RateLimitPerMin != 30 || cfg.BrowserHeadless {
		t.Fatalf("malformed values should fall back to defaults: %+v", cfg)
	}
}
