// Package service runs batches on provider sessions. It keeps one batch per
// provider at a time and sources accounts from the credentials store when a
// request carries none.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"videobatch/internal/batch"
	"videobatch/internal/domain"
	"videobatch/internal/providers/driver"
	"videobatch/internal/providers/video"
	"videobatch/internal/storage"
)

// Opener starts provider sessions. *video.Registry implements it.
type Opener interface {
	Has(name string) bool
	Names() []string
	RequiresAuth(name string) bool
	Open(ctx context.Context, name string, settings video.Settings) (driver.Session, error)
}

// Options configure a Service.
type Options struct {
	Providers Opener
	Accounts  domain.AccountRepository
	Artifacts *storage.ArtifactStore
	Settings  video.Settings
	Config    batch.Config
	Logger    zerolog.Logger
}

// Service serialises batches per provider.
type Service struct {
	providers Opener
	accounts  domain.AccountRepository
	artifacts *storage.ArtifactStore
	settings  video.Settings
	cfg       batch.Config
	logger    zerolog.Logger

	mu   sync.Mutex
	busy map[string]bool
}

func New(opts Options) *Service {
	return &Service{
		providers: opts.Providers,
		accounts:  opts.Accounts,
		artifacts: opts.Artifacts,
		settings:  opts.Settings,
		cfg:       opts.Config,
		logger:    opts.Logger,
		busy:      make(map[string]bool),
	}
}

// Request is one batch to run.
type Request struct {
	Provider string
	Category string
	Prompts  []string
	Accounts []domain.Account
	Observer batch.Observer
}

// Providers lists the provider names a request may use.
func (s *Service) Providers() []string {
	return s.providers.Names()
}

// Run opens the provider session, runs the batch and closes the session.
// The returned result is non-nil whenever the batch started, including on
// exhaustion and cancellation.
func (s *Service) Run(ctx context.Context, req Request) (*batch.Result, error) {
	provider := strings.ToLower(strings.TrimSpace(req.Provider))
	if !s.providers.Has(provider) {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, req.Provider)
	}
	if err := batch.ValidatePrompts(req.Prompts); err != nil {
		return nil, err
	}

	release, err := s.acquire(provider)
	if err != nil {
		return nil, err
	}
	defer release()

	accounts := req.Accounts
	if len(accounts) == 0 && s.accounts != nil {
		stored, err := s.accounts.Accounts(ctx, provider)
		if err != nil {
			return nil, fmt.Errorf("service: load %s accounts: %w", provider, err)
		}
		accounts = stored
	}
	if err := batch.ValidateAccounts(accounts, s.providers.RequiresAuth(provider)); err != nil {
		return nil, err
	}

	logger := s.logger.With().Str("provider", provider).Str("category", req.Category).Logger()
	session, err := s.providers.Open(ctx, provider, s.settings)
	if err != nil {
		return nil, fmt.Errorf("service: open %s: %w", provider, err)
	}
	defer func() {
		if err := session.Close(); err != nil {
			logger.Warn().Err(err).Msg("service: close session failed")
		}
	}()

	opts := batch.Options{
		Config:   s.cfg,
		Logger:   &logger,
		Observer: req.Observer,
	}
	if s.artifacts != nil {
		opts.Sink = s.artifacts.WithCategory(req.Category)
	}
	res, err := batch.New(session, opts).Run(ctx, req.Prompts, accounts)
	switch {
	case err == nil:
		logger.Info().Int("jobs", len(res.Jobs)).Int("rotations", res.Rotations).Msg("service: batch finished")
	case errors.Is(err, domain.ErrAccountsExhausted):
		logger.Warn().Err(err).Msg("service: batch stopped")
	default:
		logger.Error().Err(err).Msg("service: batch failed")
	}
	return res, err
}

// acquire marks provider busy until the returned func is called.
func (s *Service) acquire(provider string) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.busy[provider] {
		return nil, fmt.Errorf("%w: %s is running another batch", domain.ErrProviderBusy, provider)
	}
	s.busy[provider] = true
	return func() {
		s.mu.Lock()
		delete(s.busy, provider)
		s.mu.Unlock()
	}, nil
}

// Busy reports whether provider is running a batch.
func (s *Service) Busy(provider string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy[strings.ToLower(strings.TrimSpace(provider))]
}
