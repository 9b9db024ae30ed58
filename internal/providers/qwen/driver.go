// Package qwen drives video generation on chat.qwen.ai through a browser
// session.
package qwen

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"videobatch/internal/domain"
	"videobatch/internal/providers/browser"
	"videobatch/internal/providers/driver"
)

const (
	Name   = "qwen"
	URL    = "https://chat.qwen.ai/"
	Origin = "https://chat.qwen.ai"

	// DefaultRatio is the aspect ratio selected before each prompt.
	DefaultRatio = "9:16"
)

const (
	selAuthButton  = "button.header-right-auth-button"
	selEmail       = "input[name='email']"
	selPassword    = "input[name='password']"
	selUserMenu    = "button.user-menu-btn"
	selLogout      = "li[data-menu-id$='logout']"
	selAlert       = ".qwen-alert"
	selPromptInput = "textarea"
	selSuggest     = ".chat-prompt-suggest-button"
	selRatioButton = ".chat-input-feature-btn.size-selector-btn"
	selRatioItem   = "li.ant-dropdown-menu-item .ant-dropdown-menu-title-content"
	selLoginError  = ".ant-message-error, .ant-form-item-explain-error"
)

// Rules classify the Qwen alert banner.
var Rules = browser.Rules{RateLimitPhrases: []string{
	"daily usage limit",
	"reached the daily",
	"please wait",
	"too many requests",
	"rate limit reached",
	"issue connecting",
	"try again",
}}

var (
	scriptLimitText = browser.InnerText(selAlert)
	scriptSignedOut = browser.Exists(selAuthButton)

	// Generation is over once the skeleton is gone and a video has a source,
	// or the alert banner shows up.
	scriptGenerationDone = browser.Script(`(() => {
		if (document.querySelector(%s)) return true;
		if (document.querySelector(%s)) return false;
		const v = document.querySelector("video");
		return !!(v && (v.currentSrc || v.src));
	})()`, selAlert, ".qwen-media-skeleton")

	scriptLoginState = browser.Script(`(() => {
		if (document.querySelector(%s)) return "rejected";
		if (!document.querySelector(%s) && !document.querySelector(%s)) return "ok";
		return "";
	})()`, selLoginError, selAuthButton, selEmail)

	scriptSelectRatio = browser.Script(`(() => {
		const want = %s;
		const el = Array.from(document.querySelectorAll(%s))
			.find((n) => (n.innerText || "").trim() === want);
		if (!el) return false;
		(el.closest("li") || el).click();
		return true;
	})()`, DefaultRatio, selRatioItem)

	scriptOpenVideoMenu = browser.Script(`(() => {
		const bars = Array.from(document.querySelectorAll(%s));
		if (!bars.length) return false;
		const use = bars[bars.length - 1].querySelector('use[*|href="#icon-line-more-01"]');
		if (!use) return false;
		const target = use.closest(%s) || use.closest("button") || use.parentElement;
		if (!target) return false;
		target.click();
		return true;
	})()`, ".qwen-chat-package-comp-new-action-control", ".qwen-chat-package-comp-new-action-control-container")
)

// Driver implements driver.Session for Qwen.
type Driver struct {
	session  *browser.Session
	detector *browser.Detector
	logger   zerolog.Logger
	pause    time.Duration
}

var _ driver.Session = (*Driver)(nil)

// Open starts a browser session on the Qwen profile and loads the chat page.
func Open(ctx context.Context, opts browser.Options) (*Driver, error) {
	opts.Name = Name
	session, err := browser.Open(ctx, opts)
	if err != nil {
		return nil, err
	}
	if err := session.Navigate(ctx, URL); err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("qwen: open %s: %w", URL, err)
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
		pause:  1500 * time.Millisecond,
	}
}

func (d *Driver) Name() string { return Name }

func (d *Driver) RequiresAuth() bool { return true }

func (d *Driver) Detect(ctx context.Context) (driver.Signal, error) {
	return d.detector.Detect(ctx)
}

func (d *Driver) Authenticate(ctx context.Context, account domain.Account) error {
	s := d.session
	var signedOut bool
	if err := s.Eval(ctx, scriptSignedOut, &signedOut); err != nil {
		return fmt.Errorf("%w: qwen: check session: %w", domain.ErrAuth, err)
	}
	if signedOut {
		if err := s.Do(ctx, "open sign-in", browser.ClickText(selAuthButton, "")); err != nil {
			return fmt.Errorf("%w: qwen: %w", domain.ErrAuth, err)
		}
	}
	if err := s.Type(ctx, selEmail, account.Identity); err != nil {
		return fmt.Errorf("%w: qwen: %w", domain.ErrAuth, err)
	}
	if err := s.Type(ctx, selPassword, account.Secret); err != nil {
		return fmt.Errorf("%w: qwen: %w", domain.ErrAuth, err)
	}
	if err := s.PressEnter(ctx); err != nil {
		return fmt.Errorf("%w: qwen: submit sign-in: %w", domain.ErrAuth, err)
	}

	state, err := d.waitLogin(ctx)
	if err != nil {
		return fmt.Errorf("%w: qwen: wait for sign-in: %w", domain.ErrAuth, err)
	}
	if state == "rejected" {
		return fmt.Errorf("%w: qwen refused %s", domain.ErrCredentialsRejected, account.Identity)
	}
	d.logger.Info().Str("account", account.Identity).Msg("qwen: signed in")
	return nil
}

func (d *Driver) waitLogin(ctx context.Context) (string, error) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
	for {
		var state string
		if err := d.session.Eval(ctx, scriptLoginState, &state); err == nil && state != "" {
			return state, nil
		}
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}

// ResetSession opens a fresh chat in video mode with the default ratio.
func (d *Driver) ResetSession(ctx context.Context) error {
	s := d.session
	if err := s.Navigate(ctx, URL); err != nil {
		return fmt.Errorf("qwen: reload chat: %w", err)
	}
	if err := s.WaitUntil(ctx, browser.Exists(selPromptInput), 0); err != nil {
		return fmt.Errorf("qwen: wait for prompt input: %w", err)
	}
	var signedOut bool
	if err := s.Eval(ctx, scriptSignedOut, &signedOut); err != nil {
		return fmt.Errorf("qwen: check session: %w", err)
	}
	if signedOut {
		// Video mode needs an account; ensure_session signs in first.
		return nil
	}
	if err := s.WaitUntil(ctx, browser.Exists(selSuggest), 0); err != nil {
		return fmt.Errorf("qwen: wait for suggestions: %w", err)
	}
	if err := s.Do(ctx, "enable video mode", browser.ClickText(selSuggest, "video")); err != nil {
		return fmt.Errorf("qwen: %w", err)
	}
	if err := browser.Pause(ctx, time.Second); err != nil {
		return err
	}
	return d.selectRatio(ctx)
}

func (d *Driver) selectRatio(ctx context.Context) error {
	s := d.session
	if err := s.WaitUntil(ctx, browser.Exists(selRatioButton), 0); err != nil {
		return fmt.Errorf("qwen: wait for ratio selector: %w", err)
	}
	var current string
	if err := s.Eval(ctx, browser.InnerText(selRatioButton), &current); err != nil {
		return fmt.Errorf("qwen: read ratio: %w", err)
	}
	if strings.Contains(current, DefaultRatio) {
		return nil
	}
	if err := s.Do(ctx, "open ratio menu", browser.ClickText(selRatioButton, "")); err != nil {
		return fmt.Errorf("qwen: %w", err)
	}
	if err := browser.Pause(ctx, 300*time.Millisecond); err != nil {
		return err
	}
	if err := s.Do(ctx, "select ratio "+DefaultRatio, scriptSelectRatio); err != nil {
		// The ratio is cosmetic; generation still works with the default.
		d.logger.Warn().Err(err).Msg("qwen: ratio not applied")
	}
	return nil
}

func (d *Driver) Submit(ctx context.Context, prompt string) (driver.SubmitResult, error) {
	s := d.session
	s.MarkJob()
	if err := s.Type(ctx, selPromptInput, prompt); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("qwen: %w", err)
	}
	if err := s.PressEnter(ctx); err != nil {
		return driver.SubmitAccepted, fmt.Errorf("qwen: send prompt: %w", err)
	}
	if err := browser.Pause(ctx, d.pause); err != nil {
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
	if err := d.session.WaitUntil(ctx, scriptGenerationDone, time.Second); err != nil {
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

// Capture downloads through the message menu (active) or picks the video
// body off the network (passive).
func (d *Driver) Capture(ctx context.Context, strategy domain.CaptureStrategy, policy domain.CapturePolicy) (*domain.CaptureResult, error) {
	switch strategy {
	case domain.CaptureActive:
		return d.session.CaptureDownload(ctx, d.startDownload)
	case domain.CapturePassive:
		return d.session.CapturePassive(ctx, policy)
	default:
		return nil, fmt.Errorf("qwen: unknown capture strategy %q", strategy)
	}
}

func (d *Driver) startDownload(ctx context.Context) error {
	s := d.session
	err := s.Do(ctx, "open video menu", scriptOpenVideoMenu)
	if err == nil {
		if err = browser.Pause(ctx, 500*time.Millisecond); err != nil {
			return err
		}
		err = s.Do(ctx, "click download", browser.ClickText("li, button, [role='menuitem']", "download"))
	}
	if err == nil {
		return nil
	}
	if !errors.Is(err, browser.ErrElementNotFound) {
		return fmt.Errorf("qwen: %w", err)
	}

	// No menu on this layout; save the player source instead.
	var src string
	if evalErr := s.Eval(ctx, browser.LastVideoSource, &src); evalErr != nil || src == "" {
		return fmt.Errorf("qwen: %w", err)
	}
	d.logger.Debug().Str("src", src).Msg("qwen: download menu missing, saving video source")
	return s.Do(ctx, "save video source", browser.AnchorDownload(src))
}

// EndSession signs out through the user menu, then clears cookies and
// storage so the next account starts clean.
func (d *Driver) EndSession(ctx context.Context) error {
	s := d.session
	if err := s.Do(ctx, "open user menu", browser.ClickText(selUserMenu, "")); err == nil {
		_ = browser.Pause(ctx, 300*time.Millisecond)
		if err := s.Do(ctx, "log out", browser.ClickText(selLogout, "")); err != nil {
			d.logger.Debug().Err(err).Msg("qwen: ui logout skipped")
		}
	}
	if err := s.ClearState(ctx, Origin); err != nil {
		return fmt.Errorf("qwen: %w", err)
	}
	if err := s.WaitUntil(ctx, scriptSignedOut, 0); err != nil {
		return fmt.Errorf("qwen: wait for sign-out: %w", err)
	}
	return nil
}

func (d *Driver) Close() error { return d.session.Close() }
