package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"videobatch/internal/batch"
	"videobatch/internal/domain"
	"videobatch/internal/service"
	"videobatch/internal/storage"
)

// BatchRunner runs batches synchronously. *service.Service implements it.
type BatchRunner interface {
	Run(ctx context.Context, req service.Request) (*batch.Result, error)
	Providers() []string
}

type App struct {
	Runner  BatchRunner
	Batches domain.BatchRepository
	Files   *storage.FileStore
	Logger  zerolog.Logger

	Upgrader websocket.Upgrader
}

// NewApp builds the handler set. batches may be nil when no database is
// configured; the queue endpoints then answer 503.
func NewApp(runner BatchRunner, batches domain.BatchRepository, files *storage.FileStore, logger zerolog.Logger, allowedOrigins []string) *App {
	allow := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		allow[origin] = struct{}{}
	}
	return &App{
		Runner:  runner,
		Batches: batches,
		Files:   files,
		Logger:  logger,
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				_, ok := allow[origin]
				return ok
			},
		},
	}
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, map[string]any{"error": kind, "message": message})
}

// statusFor maps a batch error to its HTTP status and error code.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, "bad_request"
	case errors.Is(err, domain.ErrUnknownProvider), errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, domain.ErrProviderBusy):
		return http.StatusConflict, "provider_busy"
	case errors.Is(err, domain.ErrAccountsExhausted):
		return http.StatusTooManyRequests, "accounts_exhausted"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "aborted"
	default:
		return http.StatusInternalServerError, "internal"
	}
}
