package session

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/jonboulle/clockwork"

	"allin/internal/metrics"
	"allin/pkg/logging"
)

// refresher keeps at most one refresh timer alive. Start while running is a
// no-op; the timer is armed inside Start and disarmed inside Stop, so the
// running flag and the timer never disagree.
type refresher struct {
	clock   clockwork.Clock
	cfg     RefreshConfig
	refresh func(ctx context.Context) error
	token   func() string
	metrics *metrics.Metrics

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   clockwork.Timer
	cancel  context.CancelFunc
}

func newRefresher(clock clockwork.Clock, cfg RefreshConfig, refresh func(context.Context) error, token func() string, m *metrics.Metrics) *refresher {
	return &refresher{
		clock:   clock,
		cfg:     cfg.withDefaults(),
		refresh: refresh,
		token:   token,
		metrics: m,
	}
}

// Start arms the timer. It reports false if a timer was already running.
func (r *refresher) Start() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return false
	}
	r.running = true
	r.gen++
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	delay := r.nextDelay()
	r.arm(ctx, r.gen, delay)
	r.metrics.RecordRefreshScheduled()
	logging.Debug("Refresh", "token refresh scheduled in %s (%s policy)", delay, r.cfg.Policy)
	return true
}

// Stop disarms the timer and cancels an in-flight refresh. It does not wait
// for the refresh goroutine, which may be blocked on the session lock held
// by the caller.
func (r *refresher) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running {
		return
	}
	r.running = false
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.cancel()
	r.cancel = nil
	logging.Debug("Refresh", "token refresh stopped")
}

// Running reports whether a timer is armed.
func (r *refresher) Running() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running
}

// arm must be called with r.mu held.
func (r *refresher) arm(ctx context.Context, gen uint64, delay time.Duration) {
	r.timer = r.clock.AfterFunc(delay, func() {
		r.fire(ctx, gen)
	})
}

func (r *refresher) fire(ctx context.Context, gen uint64) {
	if !r.current(gen) {
		return
	}
	// Errors are logged and counted by the refresh func.
	_ = r.refresh(ctx)

	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.running || r.gen != gen {
		return
	}
	delay := r.nextDelay()
	r.arm(ctx, gen, delay)
	logging.Debug("Refresh", "next token refresh in %s", delay)
}

func (r *refresher) current(gen uint64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.running && r.gen == gen
}

// nextDelay returns the wait before the next refresh under the configured
// policy.
func (r *refresher) nextDelay() time.Duration {
	if r.cfg.Policy != PolicyLookahead {
		return r.cfg.Interval
	}
	exp, ok := TokenExpiry(r.token())
	if !ok {
		return r.cfg.Interval
	}
	return lookaheadDelay(exp, r.clock.Now(), r.cfg.Leeway)
}

// lookaheadDelay returns exp minus leeway from now, never below
// minRefreshDelay.
func lookaheadDelay(exp, now time.Time, leeway time.Duration) time.Duration {
	d := exp.Sub(now) - leeway
	if d < minRefreshDelay {
		return minRefreshDelay
	}
	return d
}

// TokenExpiry reads the exp claim of a JWT without verifying it. Opaque
// tokens and tokens without exp report false.
func TokenExpiry(token string) (time.Time, bool) {
	if token == "" {
		return time.Time{}, false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
