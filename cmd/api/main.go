package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"videobatch/internal/adapter/repo"
	"videobatch/internal/bootstrap"
	"videobatch/internal/domain"
	"videobatch/internal/http/handlers"
	httpapi "videobatch/internal/http/httpapi"
	"videobatch/internal/infra"
	"videobatch/internal/infra/credentials"
	"videobatch/internal/infra/geoip"
	"videobatch/internal/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv).With().Str("cmd", "api").Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Postgres is optional: without it the queue endpoints answer 503 and
	// accounts must come with each request.
	var (
		batches  domain.BatchRepository
		accounts domain.AccountRepository
	)
	if cfg.RequireDatabase() == nil {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("api: failed to connect database")
		}
		defer pool.Close()
		runner := infra.NewSQLRunner(pool, logger)
		batches = repo.NewBatchRepository(runner)
		accounts = credentials.NewStore(runner)
	} else {
		logger.Warn().Msg("api: DATABASE_URL not set, batch queue disabled")
	}

	resolver, err := geoip.NewResolver(cfg.GeoIPDBPath)
	if err != nil {
		logger.Warn().Err(err).Msg("api: geoip disabled")
	}
	var lookup middleware.CountryLookup
	if resolver != nil {
		defer resolver.Close()
		lookup = resolver.CountryCode
	}

	artifacts, err := bootstrap.Artifacts(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("api: failed to configure artifact storage")
	}
	svc := bootstrap.Service(cfg, logger, accounts, artifacts)

	app := handlers.NewApp(svc, batches, artifacts.Files(), logger, cfg.CORSAllowedOrigins)
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:          logger,
		AllowedOrigins:  cfg.CORSAllowedOrigins,
		RateLimitPerMin: cfg.RateLimitPerMin,
		CountryLookup:   lookup,
	})

	server := infra.NewHTTPServer(cfg, router)
	logger.Info().Str("addr", server.Addr()).Strs("providers", svc.Providers()).Msg("api: listening")
	if err := server.Run(ctx); err != nil {
		logger.Fatal().Err(err).Msg("api: http server failed")
	}
	logger.Info().Msg("api: stopped")
}
