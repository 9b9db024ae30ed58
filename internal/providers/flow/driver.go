// Package flow drives Google Flow (labs.google) text-to-video generation
// through a browser session.
package flow

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"videobatch/internal/domain"
	"videobatch/internal/providers/browser"
	"videobatch/internal/providers/driver"
)

const (
	Name   = "flow"
	URL    = "https://labs.google/fx/tools/flow"
	Origin = "https://labs.google"

	signInURL    = "https://accounts.google.com/ServiceLogin"
	googleOrigin = "https://accounts.google.com"

	// PassiveMinBytes is the smallest network body taken for a rendered
	// clip; previews are smaller.
	PassiveMinBytes = 100_000
)

const (
	selPromptInput = "textarea[placeholder^='Generate a video with text']"
	selModeBox     = "button[role='combobox']"
	selModeOption  = "div[role='option']"
	selEmail       = `input[type="email"], input#identifierId`
	selPassword    = `input[type="password"]`
	selMenuItem    = "div[role='menuitem']"
	selAlerts      = "[role='alert'], [role='status'], [role='dialog'], [aria-live]"
)

// Rules classify Flow's alert and dialog text.
var Rules = browser.Rules{RateLimitPhrases: []string{
	"daily limit",
	"quota",
	"exceeded",
	"reached the daily",
	"try again later",
	"temporarily unavailable",
	"limit for your account",
}}

var (
	scriptLimitText = browser.Script(`Array.from(document.querySelectorAll(%s))
		.map((n) => n.innerText || "").filter(Boolean).join(" ")`, selAlerts)

	scriptSignedOut = browser.Script(`Array.from(document.querySelectorAll("button"))
		.some((b) => (b.innerText || "").trim().toLowerCase() === %s)`, "sign in")

	scriptModeLabel = browser.Script(`(() => {
		const el = document.querySelector(%s);
		return el ? (el.innerText || "") : "";
	})()`, selModeBox+" span")

	scriptLoginRejected = `(() => {
		const t = (document.body && document.body.innerText || "").toLowerCase();
		return t.includes("wrong password") || t.includes("couldn't find your google account");
	})()`
)

// iconButton clicks the button carrying a google-symbols icon named icon.
func iconButton(icon string) string {
	return browser.Script(`(() => {
		const want = %s;
		const i = Array.from(document.querySelectorAll("button i.google-symbols, button i"))
			.find((n) => (n.textContent || "").trim() === want);
		if (!i) return false;
		i.closest("button").click();
		return true;
	})()`, icon)
}

// generationDone holds once the video count grows past prev or an alert
// mentions a limit.
func generationDone(prev int) string {
	return fmt.Sprintf(`(() => {
		const alerts = Array.from(document.querySelectorAll(%s)).map((n) => n.innerText || "").join(" ");
		if (/quota|limit|exceeded|try again later/i.test(alerts)) return true;
		return document.querySelectorAll("video").length > %d;
	})()`, quote(selAlerts), prev)
}

func quote(s string) string { return browser.Script("%s", s) }

// Driver implements driver.Session for Google Flow. Accounts are optional.
type Driver struct {
	session  *browser.Session
	detector *browser.Detector
	logger   zerolog.Logger

	mu         sync.Mutex
	videosSeen int
}

var _ driver.Session = (*Driver)(nil)

// Open starts a browser session on the Flow profile and loads the home page.
func Open(ctx context.Context, opts browser.Options) (*Driver, error) {
	opts.Name = Name
	session, err := browser.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, URL); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("flow: open %s: %w", URL, err)
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

// RequiresAuth is false: Flow runs without accounts, with reduced quota.
func (d *Driver) RequiresAuth() bool { return false }

func (d *Driver) Detect(ctx context.Context) (driver.Signal, error) {
	return d.detector.Detect(ctx)
}

// Authenticate signs in on the Google account page in the same tab and
// returns to Flow, avoiding the sign-in popup.
func (d *Driver) Authenticate(ctx context.Context, account domain.Account) error {
	s := d.session
	target := signInURL + "?continue=" + url.QueryEscape(URL)
	if err := s.Navigate(ctx, target); err != nil {
		return fmt.Errorf("%w: flow: open sign-in: %w", domain.ErrAuth, err)
	}
	if err := s.Type(ctx, selEmail, account.Identity); err != nil {
		return fmt.Errorf("%w: flow: %w", domain.ErrAuth, err)
	}
	if err := s.PressEnter(ctx); err != nil {
		return fmt.Errorf("%w: flow: submit email: %w", domain.ErrAuth, err)
	}

	state, err := d.waitFor(ctx, browser.Exists(selPassword))
	if err != nil {
		return fmt.Errorf("%w: flow: wait for password: %w", domain.ErrAuth, err)
	}
	if state == "rejected" {
		return fmt.Errorf("%w: google has no account %s", domain.ErrCredentialsRejected, account.Identity)
	}
	if err := s.Type(ctx, selPassword, account.Secret); err != nil {
		return fmt.Errorf("%w: flow: %w", domain.ErrAuth, err)
	}
	if err := s.PressEnter(ctx); err != nil {
		return fmt.Errorf("%w: flow: submit password: %w", domain.ErrAuth, err)
	}

	state, err = d.waitFor(ctx, browser.Script(`location.href.startsWith(%s)`, Origin))
	if err != nil {
		return fmt.Errorf("%w: flow: wait for redirect: %w", domain.ErrAuth, err)
	}
	if state == "rejected" {
		return fmt.Errorf("%w: google refused %s", domain.ErrCredentialsRejected, account.Identity)
	}
	d.logger.Info().Str("account", account.Identity).Msg("flow: signed in")
	return nil
}

// waitFor polls until ready holds ("ok") or the sign-in page reports bad
// credentials ("rejected").
func (d *Driver) waitFor(ctx context.Context, ready string) (string, error) {
	script := fmt.Sprintf(`(() => {
		if (%s) return "rejected";
		if (%s) return "ok";
		return "";
	})()`, scriptLoginRejected, ready)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		if err := d.session.Eval(ctx, script, &state); err == nil && state != "" {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResetSession returns to the Flow home, opens a new project and selects
// Text to Video.
func (d *Driver) ResetSession(ctx context.Context) error {
	s := d.session
	if err := s.Navigate(ctx, URL); err != nil {
		return fmt.Errorf("flow: reload home: %w", err)
	}
	newProject := browser.ClickText("button", "new project")
	if err := s.WaitUntil(ctx, newProject, time.Second); err != nil {
		return fmt.Errorf("flow: open new project: %w", err)
	}
	if err := s.WaitUntil(ctx, browser.Exists(selPromptInput), 0); err != nil {
		return fmt.Errorf("flow: wait for prompt input: %w", err)
	}

	var mode string
	if err := s.Eval(ctx, scriptModeLabel, &mode); err != nil {
		return fmt.Errorf("flow: read mode: %w", err)
	}
	if !strings.Contains(mode, "Text to Video") {
		if err := s.Do(ctx, "open mode menu", browser.ClickText(selModeBox, "")); err != nil {
			return fmt.Errorf("flow: %w", err)
		}
		if err := s.WaitUntil(ctx, browser.ClickText(selModeOption, "text to video"), 0); err != nil {
			return fmt.Errorf("flow: select text to video: %w", err)
		}
	}
	return nil
}

func (d *Driver) Submit(ctx context.Context, prompt string) (driver.SubmitResult, error) {
	s := d.session
	var count int
	if err := s.Eval(ctx, browser.VideoCount, &count); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("flow: count videos: %w", err)
	}
	d.mu.Lock()
	d.videosSeen = count
	d.mu.Unlock()

	s.MarkJob()
	if err := s.Type(ctx, selPromptInput, prompt); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("flow: %w", err)
	}
	if err := s.Do(ctx, "start generation", iconButton("arrow_forward")); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("flow: %w", err)
	}
	if err := browser.Pause(ctx, time.Second); err != nil {
		return driver.SubmitAccepted, err
	}
	signal, err := d.Detect(ctx)
	if err != nil {
		return driver.SubmitAccepted, err
	}
	if signal == driver.SignalRateLimited {
		return driver.SubmitRateLimited, nil
	}
	return driver.SubmitAccepted, nil
}

func (d *Driver) AwaitCompletion(ctx context.Context) (driver.Completion, error) {
	d.mu.Lock()
	prev := d.videosSeen
	d.mu.Unlock()
	if err := d.session.WaitUntil(ctx, generationDone(prev), 2*time.Second); err != nil {
		return driver.CompletionDone, err
	}
	signal, err := d.Detect(ctx)
	if err != nil {
		return driver.CompletionDone, err
	}
	if signal == driver.SignalRateLimited {
		return driver.CompletionRateLimited, nil
	}
	return driver.CompletionDone, nil
}

// Capture saves the upscaled file from the download menu (active) or the
// clip body seen on the network (passive). Flow serves smaller clips than
// other providers, so the passive floor is lowered to PassiveMinBytes.
func (d *Driver) Capture(ctx context.Context, strategy domain.CaptureStrategy, policy domain.CapturePolicy) (*domain.CaptureResult, error) {
	switch strategy {
	case domain.CaptureActive:
		return d.session.CaptureDownload(ctx, d.startDownload)
	case domain.CapturePassive:
		if policy.MinBytes > PassiveMinBytes {
			policy.MinBytes = PassiveMinBytes
		}
		return d.session.CapturePassive(ctx, policy)
	default:
		return nil, fmt.Errorf("flow: unknown capture strategy %q", strategy)
	}
}

func (d *Driver) startDownload(ctx context.Context) error {
	s := d.session
	if err := s.WaitUntil(ctx, iconButton("download"), time.Second); err != nil {
		return fmt.Errorf("flow: open download menu: %w", err)
	}
	if err := s.WaitUntil(ctx, browser.ClickText(selMenuItem, "upscaled"), 0); err != nil {
		return fmt.Errorf("flow: choose upscaled: %w", err)
	}
	return nil
}

// EndSession tries the account menu sign-out, then clears Flow and Google
// cookies and storage.
func (d *Driver) EndSession(ctx context.Context) error {
	s := d.session
	if err := s.Do(ctx, "open account menu", browser.ClickText("button[aria-label*='Account']", "")); err == nil {
		_ = browser.Pause(ctx, 500*time.Millisecond)
		if err := s.Do(ctx, "sign out", browser.ClickText("button, a, [role='menuitem']", "sign out")); err != nil {
			d.logger.Debug().Err(err).Msg("flow: ui sign-out skipped")
		}
	}
	if err := s.ClearState(ctx, googleOrigin); err != nil {
		return fmt.Errorf("flow: %w", err)
	}
	if err := s.ClearState(ctx, Origin); err != nil {
		return fmt.Errorf("flow: %w", err)
	}
	return nil
}

func (d *Driver) Close() error { return d.session.Close() }
