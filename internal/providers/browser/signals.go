package browser

import (
	"context"
	"strings"

	"videobatch/internal/providers/driver"
)

// Rules classify what a provider page shows into a driver signal.
type Rules struct {
	// RateLimitPhrases are matched case-insensitively against the limit text.
	RateLimitPhrases []string
}

// Classify returns SignalRateLimited when limitText contains a known phrase,
// SignalAuthRequired when the page asks for sign-in, SignalNone otherwise.
// A visible limit wins over a sign-in prompt.
func (r Rules) Classify(limitText string, authRequired bool) driver.Signal {
	text := strings.ToLower(limitText)
	if text != "" {
		for _, phrase := range r.RateLimitPhrases {
			if phrase != "" && strings.Contains(text, strings.ToLower(phrase)) {
				return driver.SignalRateLimited
			}
		}
	}
	if authRequired {
		return driver.SignalAuthRequired
	}
	return driver.SignalNone
}

// Detector evaluates two page scripts and classifies the result. LimitScript
// returns the text of the provider's alert area (empty when none);
// AuthScript returns true while a sign-in affordance is visible.
type Detector struct {
	Session     *Session
	Rules       Rules
	LimitScript string
	AuthScript  string
}

func (d *Detector) Detect(ctx context.Context) (driver.Signal, error) {
	var limitText string
	if d.LimitScript != "" {
		if err := d.Session.Eval(ctx, d.LimitScript, &limitText); err != nil {
			return driver.SignalNone, err
		}
	}
	var authRequired bool
	if d.AuthScript != "" {
		if err := d.Session.Eval(ctx, d.AuthScript, &authRequired); err != nil {
			return driver.SignalNone, err
		}
	}
	return d.Rules.Classify(limitText, authRequired), nil
}
