// Package video maps provider names to the browser drivers that generate
// videos on them.
package video

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"videobatch/internal/domain"
	"videobatch/internal/providers/browser"
	"videobatch/internal/providers/driver"
	"videobatch/internal/providers/flow"
	"videobatch/internal/providers/gemini"
	"videobatch/internal/providers/qwen"
)

// Settings are shared by every provider session.
type Settings struct {
	ProfileRoot string
	DownloadDir string
	ExecPath    string
	Headless    bool
	Logger      zerolog.Logger
}

func (s Settings) browserOptions(name string) browser.Options {
	opts := browser.Options{
		Name:        name,
		ProfileRoot: s.ProfileRoot,
		ExecPath:    s.ExecPath,
		Headless:    s.Headless,
		Logger:      s.Logger,
	}
	if s.DownloadDir != "" {
		opts.DownloadDir = filepath.Join(s.DownloadDir, name)
	}
	return opts
}

// Factory opens a driver session for one provider.
type Factory func(ctx context.Context, settings Settings) (driver.Session, error)

type provider struct {
	open         Factory
	requiresAuth bool
}

// Registry holds the known providers.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]provider
}

func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]provider)}
}

// Register adds or replaces the factory for name. requiresAuth must match
// what the opened driver's RequiresAuth reports.
func (r *Registry) Register(name string, requiresAuth bool, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[normalize(name)] = provider{open: factory, requiresAuth: requiresAuth}
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[normalize(name)]
	return ok
}

// RequiresAuth reports whether the provider needs an account, without
// opening a session. Unknown names report false.
func (r *Registry) RequiresAuth(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.factories[normalize(name)].requiresAuth
}

// Names lists registered providers in order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Open starts a session for name. Unknown names wrap domain.ErrUnknownProvider.
func (r *Registry) Open(ctx context.Context, name string, settings Settings) (driver.Session, error) {
	r.mu.RLock()
	p, ok := r.factories[normalize(name)]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownProvider, name)
	}
	return p.open(ctx, settings)
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Default returns a registry with every built-in provider.
func Default() *Registry {
	r := NewRegistry()
	r.Register(qwen.Name, true, func(ctx context.Context, s Settings) (driver.Session, error) {
		return qwen.Open(ctx, s.browserOptions(qwen.Name))
	})
	r.Register(flow.Name, false, func(ctx context.Context, s Settings) (driver.Session, error) {
		return flow.Open(ctx, s.browserOptions(flow.Name))
	})
	r.Register(gemini.Name, false, func(ctx context.Context, s Settings) (driver.Session, error) {
		return gemini.Open(ctx, s.browserOptions(gemini.Name))
	})
	return r
}
