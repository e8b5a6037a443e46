package session

import (
	"time"

	"github.com/jonboulle/clockwork"

	"allin/internal/metrics"
)

// Defaults for Options.
const (
	DefaultReadinessTimeout = 3 * time.Second
	DefaultPermissionTTL    = 2 * time.Hour
	DefaultRefreshInterval  = 6 * time.Hour
	DefaultRefreshLeeway    = 5 * time.Minute

	// minRefreshDelay keeps a near-expired token from scheduling a refresh loop.
	minRefreshDelay = 30 * time.Second
)

// RefreshPolicy selects how the next token refresh is scheduled.
type RefreshPolicy string

const (
	// PolicyInterval refreshes on a fixed interval.
	PolicyInterval RefreshPolicy = "interval"

	// PolicyLookahead refreshes a leeway before the token's JWT exp claim,
	// falling back to the interval for opaque tokens.
	PolicyLookahead RefreshPolicy = "lookahead"
)

// Valid reports whether p is a known policy.
func (p RefreshPolicy) Valid() bool {
	return p == PolicyInterval || p == PolicyLookahead
}

// RefreshConfig configures the token refresher.
type RefreshConfig struct {
	Policy   RefreshPolicy
	Interval time.Duration
	Leeway   time.Duration
}

func (c RefreshConfig) withDefaults() RefreshConfig {
	if !c.Policy.Valid() {
		c.Policy = PolicyInterval
	}
	if c.Interval <= 0 {
		c.Interval = DefaultRefreshInterval
	}
	if c.Leeway <= 0 {
		c.Leeway = DefaultRefreshLeeway
	}
	return c
}

type options struct {
	clock            clockwork.Clock
	metrics          *metrics.Metrics
	readinessTimeout time.Duration
	permissionTTL    time.Duration
	refresh          RefreshConfig
}

// Option configures a Session.
type Option func(*options)

// WithClock sets the clock used for timers and permission expiry.
func WithClock(clock clockwork.Clock) Option {
	return func(o *options) {
		o.clock = clock
	}
}

// WithMetrics records session activity on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) {
		o.metrics = m
	}
}

// WithReadinessTimeout bounds how long readiness waits for confirmation.
func WithReadinessTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.readinessTimeout = d
		}
	}
}

// WithPermissionTTL sets how long fetched entitlements stay cached.
func WithPermissionTTL(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.permissionTTL = d
		}
	}
}

// WithRefresh configures the token refresher.
func WithRefresh(cfg RefreshConfig) Option {
	return func(o *options) {
		o.refresh = cfg
	}
}

func buildOptions(opts []Option) options {
	o := options{
		readinessTimeout: DefaultReadinessTimeout,
		permissionTTL:    DefaultPermissionTTL,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clockwork.NewRealClock()
	}
	o.refresh = o.refresh.withDefaults()
	return o
}
