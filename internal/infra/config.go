package infra

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"videobatch/internal/batch"
)

// ErrDatabaseRequired is returned by RequireDatabase when DATABASE_URL is unset.
var ErrDatabaseRequired = errors.New("DATABASE_URL is required")

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	GeoIPDBPath string

	SessionStorageRoot string
	DownloadRoot       string
	ArtifactRoot       string
	StepTimeout        time.Duration
	AwaitTimeout       time.Duration
	CaptureTimeout     time.Duration
	CaptureMinBytes    int64
	CaptureMediaType   string
	RetryAuthOnce      bool

	BrowserExecPath string
	BrowserHeadless bool

	ArtifactBucket   string
	ArtifactPrefix   string
	ArtifactEndpoint string
	AWSRegion        string

	CORSAllowedOrigins []string
	HTTPReadTimeout    time.Duration
	HTTPWriteTimeout   time.Duration
	HTTPIdleTimeout    time.Duration
	RateLimitPerMin    int
	WorkerPollInterval time.Duration
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:      getEnv("APP_ENV", "development"),
		Port:        getEnv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		GeoIPDBPath: os.Getenv("GEOIP_DB_PATH"),

		SessionStorageRoot: getEnv("SESSION_STORAGE_ROOT", "./sessions"),
		DownloadRoot:       getEnv("DOWNLOAD_ROOT", "./downloads"),
		ArtifactRoot:       getEnv("ARTIFACT_ROOT", "./artifacts"),
		StepTimeout:        time.Second * time.Duration(getEnvInt("STEP_TIMEOUT_SECONDS", 60)),
		AwaitTimeout:       time.Second * time.Duration(getEnvInt("AWAIT_TIMEOUT_SECONDS", 360)),
		CaptureTimeout:     time.Second * time.Duration(getEnvInt("CAPTURE_TIMEOUT_SECONDS", 120)),
		CaptureMinBytes:    int64(getEnvInt("CAPTURE_MIN_BYTES", batch.DefaultCaptureMinBytes)),
		CaptureMediaType:   getEnv("CAPTURE_MEDIA_TYPE", batch.DefaultCaptureMediaType),
		RetryAuthOnce:      getEnvBool("RETRY_AUTH_ONCE", false),

		BrowserExecPath: os.Getenv("BROWSER_EXEC_PATH"),
		BrowserHeadless: getEnvBool("BROWSER_HEADLESS", false),

		ArtifactBucket:   os.Getenv("ARTIFACT_BUCKET"),
		ArtifactPrefix:   os.Getenv("ARTIFACT_PREFIX"),
		ArtifactEndpoint: os.Getenv("ARTIFACT_ENDPOINT"),
		AWSRegion:        getEnv("AWS_REGION", "us-east-1"),

		CORSAllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{"http://localhost:5173"}),
		HTTPReadTimeout:    time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		// Synchronous batch runs hold the response open for the whole batch.
		HTTPWriteTimeout:   time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 0)),
		HTTPIdleTimeout:    time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:    getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
		WorkerPollInterval: time.Second * time.Duration(getEnvInt("WORKER_POLL_SECONDS", 2)),
	}

	if cfg.CaptureMinBytes <= 0 {
		cfg.CaptureMinBytes = batch.DefaultCaptureMinBytes
	}
	return cfg, nil
}

// RequireDatabase fails when the binary needs Postgres but none is configured.
func (c *Config) RequireDatabase() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return ErrDatabaseRequired
	}
	return nil
}

// Batch derives the orchestrator configuration.
func (c *Config) Batch() batch.Config {
	return batch.Config{
		SessionStorageRoot: c.SessionStorageRoot,
		DownloadRoot:       c.DownloadRoot,
		PerStepTimeout:     c.StepTimeout,
		AwaitTimeout:       c.AwaitTimeout,
		CaptureTimeout:     c.CaptureTimeout,
		CaptureMinBytes:    c.CaptureMinBytes,
		CaptureMediaType:   c.CaptureMediaType,
		RetryAuthOnce:      c.RetryAuthOnce,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvList(key string, fallback []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	if len(out) == 0 {
		return fallback
	}
	return out
}
