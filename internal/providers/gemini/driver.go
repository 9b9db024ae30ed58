// Package gemini drives video generation in the Gemini web app. It runs on
// the signed-in browser profile; sign-in, when needed, is done by a person in
// the visible window.
package gemini

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"videobatch/internal/domain"
	"videobatch/internal/providers/browser"
	"videobatch/internal/providers/driver"
)

const (
	Name = "gemini"
	URL  = "https://gemini.google.com/app"
)

const (
	selPromptInput = `div[contenteditable="true"]`
	selAlerts      = "[role='alert'], [role='status'], snack-bar-container, .model-response-text"
)

// Rules classify Gemini's refusal and snackbar text.
var Rules = browser.Rules{RateLimitPhrases: []string{
	"reached your limit",
	"daily limit",
	"can't generate more videos",
	"try again later",
	"quota",
}}

var (
	scriptLimitText = browser.Script(`(() => {
		const nodes = Array.from(document.querySelectorAll(%s));
		const last = nodes.length ? nodes[nodes.length - 1] : null;
		return last ? (last.innerText || "") : "";
	})()`, selAlerts)

	scriptSignedOut = `Array.from(document.querySelectorAll("a, button"))
		.some((n) => (n.href || "").includes("ServiceLogin") || (n.innerText || "").trim().toLowerCase() === "sign in")`

	scriptInputReady = browser.Script(`(() => {
		const el = document.querySelector(%s);
		return !!(el && el.offsetHeight > 0);
	})()`, selPromptInput)

	scriptVideoReady = `Array.from(document.querySelectorAll("video")).some((v) => (v.currentSrc || v.src || "").startsWith("http"))`
)

// Driver implements driver.Session for Gemini.
type Driver struct {
	session  *browser.Session
	detector *browser.Detector
	logger   zerolog.Logger
}

var (
	_ driver.Session                  = (*Driver)(nil)
	_ driver.InteractiveAuthenticator = (*Driver)(nil)
)

// Open starts a browser session on the Gemini profile. Headless is forced
// off so a person can complete sign-in.
func Open(ctx context.Context, opts browser.Options) (*Driver, error) {
	opts.Name = Name
	opts.Headless = false
	session, err := browser.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, URL); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("gemini: open %s: %w", URL, err)
	}
	return New(session, opts.Logger), nil
}

// New wraps an open session.
func New(session *browser.Session, logger zerolog.Logger) *Driver {
	return &Driver{
		session: session,
		detector: &browser.Detector{
			Session:     session,
			Rules:       Rules,
			LimitScript: scriptLimitText,
			AuthScript:  scriptSignedOut,
		},
		logger: logger.With().Str("provider", Name).Logger(),
	}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) RequiresAuth() bool { return false }

func (d *Driver) InteractiveAuth() bool { return true }

func (d *Driver) Detect(ctx context.Context) (driver.Signal, error) {
	return d.detector.Detect(ctx)
}

// Authenticate waits for a person to sign in through the browser window.
// The account is ignored.
func (d *Driver) Authenticate(ctx context.Context, _ domain.Account) error {
	d.logger.Warn().Msg("gemini: sign in through the browser window to continue")
	signedIn := fmt.Sprintf(`!(%s)`, scriptSignedOut)
	if err := d.session.WaitUntil(ctx, signedIn, 2*time.Second); err != nil {
		return fmt.Errorf("%w: gemini: wait for sign-in: %w", domain.ErrAuth, err)
	}
	d.logger.Info().Msg("gemini: signed in")
	return nil
}

// ResetSession opens a new conversation.
func (d *Driver) ResetSession(ctx context.Context) error {
	if err := d.session.Navigate(ctx, URL); err != nil {
		return fmt.Errorf("gemini: reload app: %w", err)
	}
	if err := d.session.WaitUntil(ctx, scriptInputReady, 0); err != nil {
		return fmt.Errorf("gemini: wait for prompt input: %w", err)
	}
	return nil
}

func (d *Driver) Submit(ctx context.Context, prompt string) (driver.SubmitResult, error) {
	s := d.session
	s.MarkJob()
	if err := s.Type(ctx, selPromptInput, prompt); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("gemini: %w", err)
	}
	if err := s.PressEnter(ctx); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("gemini: send prompt: %w", err)
	}
	return driver.SubmitAccepted, nil
}

// AwaitCompletion waits for a playable video, or for a response that
// reports a limit.
func (d *Driver) AwaitCompletion(ctx context.Context) (driver.Completion, error) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		signal, err := d.Detect(ctx)
		if err == nil && signal == driver.SignalRateLimited {
			return driver.CompletionRateLimited, nil
		}
		var ready bool
		if err := d.session.Eval(ctx, scriptVideoReady, &ready); err == nil && ready {
			return driver.CompletionDone, nil
		}
		select {
		case <-ctx.Done():
			return driver.CompletionDone, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Capture saves the video source through the page (active) or takes the
// body seen on the network (passive).
func (d *Driver) Capture(ctx context.Context, strategy domain.CaptureStrategy, policy domain.CapturePolicy) (*domain.CaptureResult, error) {
	switch strategy {
	case domain.CaptureActive:
		var src string
		if err := d.session.Eval(ctx, browser.LastVideoSource, &src); err != nil {
			return nil, fmt.Errorf("gemini: read video source: %w", err)
		}
		if src == "" {
			return nil, fmt.Errorf("gemini: %w: video source", browser.ErrElementNotFound)
		}
		dl, err := d.session.DownloadURL(ctx, src)
		if err != nil {
			return nil, err
		}
		return browser.DownloadResult(dl)
	case domain.CapturePassive:
		return d.session.CapturePassive(ctx, policy)
	default:
		return nil, fmt.Errorf("gemini: unknown capture strategy %q", strategy)
	}
}

// EndSession is a no-op: Gemini runs on a single signed-in profile and is
// never rotated.
func (d *Driver) EndSession(context.Context) error { return nil }

func (d *Driver) Close() error { return d.session.Close() }
