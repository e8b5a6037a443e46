// Package guard decides whether a route may be entered given the current
// authentication state.
//
// Guards are pure functions of the target path and the state machine. The
// synchronous shape answers only once readiness has resolved and the state
// is settled; the asynchronous shape waits for readiness first, bounded by
// the bootstrap timeout.
package guard

import (
	"context"
	"net/url"
	"strings"
	"time"

	"allin/internal/authstate"
)

// Default route paths.
const (
	DefaultSignInPath     = "/login"
	DefaultRegisterPath   = "/register"
	DefaultOnboardingPath = "/onboarding"
	DefaultHomePath       = "/"

	// ReturnURLParam carries the originally requested path to sign-in.
	ReturnURLParam = "returnUrl"
)

// Action is the outcome of a guard.
type Action int

const (
	// Admit lets the navigation proceed.
	Admit Action = iota
	// Redirect sends the navigation to Decision.Target instead.
	Redirect
)

// String returns the action name.
func (a Action) String() string {
	if a == Redirect {
		return "redirect"
	}
	return "admit"
}

// Decision is the result of evaluating a guard.
type Decision struct {
	Action Action

	// Target is the redirect path, empty when admitted.
	Target string

	// ReturnURL is the requested path to come back to after signing in.
	ReturnURL string

	// Reason is a short machine-readable explanation.
	Reason string
}

// Allowed reports whether the navigation is admitted.
func (d Decision) Allowed() bool {
	return d.Action == Admit
}

// URL renders the redirect location, for example "/login?returnUrl=%2Fgames".
// It is empty for admitted navigations.
func (d Decision) URL() string {
	if d.Action != Redirect {
		return ""
	}
	if d.ReturnURL == "" {
		return d.Target
	}
	return d.Target + "?" + ReturnURLParam + "=" + url.QueryEscape(d.ReturnURL)
}

// Reasons reported in Decision.Reason.
const (
	ReasonPublic          = "public"
	ReasonSignedIn        = "signed_in"
	ReasonGuest           = "guest"
	ReasonSignInRequired  = "sign_in_required"
	ReasonOnboarding      = "onboarding_required"
	ReasonOnboardingDone  = "onboarding_complete"
	ReasonAlreadySignedIn = "already_signed_in"
)

// Config holds the route layout the guards enforce.
type Config struct {
	SignInPath     string
	OnboardingPath string
	HomePath       string

	// PublicPaths are admitted for everyone, matched as path prefixes.
	PublicPaths []string

	// GuestOnlyPaths are for signed-out users only, for example sign-in
	// and register. The sign-in path is always guest-only.
	GuestOnlyPaths []string

	// Timeout bounds the asynchronous wait for readiness.
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.SignInPath == "" {
		c.SignInPath = DefaultSignInPath
	}
	if c.OnboardingPath == "" {
		c.OnboardingPath = DefaultOnboardingPath
	}
	if c.HomePath == "" {
		c.HomePath = DefaultHomePath
	}
	if c.GuestOnlyPaths == nil {
		c.GuestOnlyPaths = []string{DefaultRegisterPath}
	}
	c.GuestOnlyPaths = append([]string{c.SignInPath}, c.GuestOnlyPaths...)
	if c.Timeout <= 0 {
		c.Timeout = 3 * time.Second
	}
	return c
}

// Guard evaluates route admission against the auth state.
type Guard struct {
	auth  authstate.Reader
	ready *authstate.Readiness
	cfg   Config
}

// New returns a guard over auth, gated on ready.
func New(auth authstate.Reader, ready *authstate.Readiness, cfg Config) *Guard {
	return &Guard{auth: auth, ready: ready, cfg: cfg.withDefaults()}
}

// Evaluate decides synchronously. The second result is false while
// readiness is pending or the state is initial or loading; the caller then
// needs Admit.
func (g *Guard) Evaluate(target string) (Decision, bool) {
	if !g.ready.Resolved() || g.auth.State().Pending() {
		return Decision{}, false
	}
	return g.decide(target), true
}

// Admit waits for readiness, bounded by the configured timeout and ctx, then
// decides on the state at that moment. A state that is still loading counts
// as signed out.
func (g *Guard) Admit(ctx context.Context, target string) Decision {
	if d, ok := g.Evaluate(target); ok {
		return d
	}
	wctx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()
	g.ready.Wait(wctx)
	return g.decide(target)
}

func (g *Guard) decide(target string) Decision {
	path := cleanPath(target)
	if matchAny(path, g.cfg.PublicPaths) {
		return Decision{Action: Admit, Reason: ReasonPublic}
	}

	if !g.auth.IsAuthenticated() {
		if matchAny(path, g.cfg.GuestOnlyPaths) {
			return Decision{Action: Admit, Reason: ReasonGuest}
		}
		return Decision{Action: Redirect, Target: g.cfg.SignInPath, ReturnURL: returnURL(target), Reason: ReasonSignInRequired}
	}

	onboarding := match(path, g.cfg.OnboardingPath)
	if g.auth.NeedsOnboarding() {
		if onboarding {
			return Decision{Action: Admit, Reason: ReasonSignedIn}
		}
		return Decision{Action: Redirect, Target: g.cfg.OnboardingPath, Reason: ReasonOnboarding}
	}
	if onboarding {
		return Decision{Action: Redirect, Target: g.cfg.HomePath, Reason: ReasonOnboardingDone}
	}
	if matchAny(path, g.cfg.GuestOnlyPaths) {
		return Decision{Action: Redirect, Target: g.cfg.HomePath, Reason: ReasonAlreadySignedIn}
	}
	return Decision{Action: Admit, Reason: ReasonSignedIn}
}

// cleanPath strips the query and fragment and ensures a leading slash.
func cleanPath(target string) string {
	p := target
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 {
		p = strings.TrimRight(p, "/")
	}
	return p
}

// returnURL is the requested target as an absolute path, query included.
func returnURL(target string) string {
	if !strings.HasPrefix(target, "/") {
		return "/" + target
	}
	return target
}

func matchAny(path string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if match(path, prefix) {
			return true
		}
	}
	return false
}

// match reports whether path is prefix or below it. "/" matches only itself.
func match(path, prefix string) bool {
	prefix = cleanPath(prefix)
	if prefix == "/" {
		return path == "/"
	}
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
