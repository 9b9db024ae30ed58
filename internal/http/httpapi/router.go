package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"videobatch/internal/http/handlers"
	"videobatch/internal/middleware"
)

// Options carry the cross-cutting settings of the router.
type Options struct {
	Logger          zerolog.Logger
	AllowedOrigins  []string
	RateLimitPerMin int
	CountryLookup   middleware.CountryLookup
}

func NewRouter(app *handlers.App, opts Options) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.RequestID,
		chimw.RealIP,
		chimw.Recoverer,
		middleware.Logger(opts.Logger),
		middleware.CORS(opts.AllowedOrigins),
	)

	r.Get("/v1/healthz", app.Health)

	r.Route("/v1", func(r chi.Router) {
		r.Use(middleware.Origin(opts.CountryLookup))
		r.Get("/providers", app.Providers)
		r.Get("/providers/{provider}/stream", app.StreamBatch)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RateLimit(opts.RateLimitPerMin, time.Minute))
			r.Post("/providers/{provider}/batches", app.RunBatch)
			r.Post("/batches", app.EnqueueBatch)
		})

		r.Get("/batches/{id}", app.GetBatch)
		r.Get("/batches/{id}/archive", app.ArchiveBatch)
	})

	return r
}
