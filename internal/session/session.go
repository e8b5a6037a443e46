package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/singleflight"

	"allin/internal/api"
	"allin/internal/authstate"
	"allin/internal/credential"
	"allin/internal/metrics"
	"allin/internal/permission"
	"allin/pkg/logging"
)

// Sentinel errors returned by the flows.
var (
	// ErrNotSignedIn is returned by operations that need a signed-in user.
	ErrNotSignedIn = errors.New("not signed in")

	// ErrSuperseded is returned when a sign-in or sign-out happened while the
	// operation was in flight and its result was dropped.
	ErrSuperseded = errors.New("result superseded by a newer sign-in or sign-out")

	// ErrOnboardingIncomplete is returned by CompleteOnboarding when the
	// server profile still lacks onboarding fields.
	ErrOnboardingIncomplete = errors.New("onboarding incomplete")
)

// Backend is the server surface the session depends on. *api.Client
// implements it.
type Backend interface {
	Login(ctx context.Context, email, password string) (*credential.IdentitySnapshot, error)
	Register(ctx context.Context, req api.RegisterRequest) (*credential.IdentitySnapshot, error)
	Profile(ctx context.Context) (*credential.UserProfile, error)
	UpdateProfile(ctx context.Context, update api.ProfileUpdate) (*credential.UserProfile, error)
	Refresh(ctx context.Context) (string, error)
	Logout(ctx context.Context, token string) error
	Entitlements(ctx context.Context) ([]string, error)
}

// Session is the per-process authentication context.
type Session struct {
	mu      sync.Mutex
	epoch   uint64
	machine *authstate.Machine
	ready   *authstate.Readiness

	creds   *credential.Store
	perms   *permission.Cache
	backend Backend

	clock   clockwork.Clock
	metrics *metrics.Metrics
	opts    options

	refresher    *refresher
	entitlements singleflight.Group

	startOnce    sync.Once
	readyTimer   clockwork.Timer
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
	unsubscribe  func()
	closeOnce    sync.Once
}

// New returns a session over the given stores and backend. Call Start once
// the process is ready to make its first determination.
func New(creds *credential.Store, perms *permission.Cache, backend Backend, opts ...Option) *Session {
	o := buildOptions(opts)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		machine: authstate.NewMachine(),
		ready:   authstate.NewReadiness(),
		creds:   creds,
		perms:   perms,
		backend: backend,
		clock:   o.clock,
		metrics: o.metrics,
		opts:    o,
		ctx:     ctx,
		cancel:  cancel,
	}
	s.refresher = newRefresher(o.clock, o.refresh, s.refreshOnce, creds.Token, o.metrics)
	s.unsubscribe = s.machine.SubscribeState(s.onStateChange)
	return s
}

// onStateChange runs under s.mu for every mutation made by the session.
func (s *Session) onStateChange(prev, next authstate.State) {
	if prev == next {
		return
	}
	s.metrics.RecordTransition(prev.String(), next.String())
	switch {
	case next.SignedIn() && !prev.SignedIn():
		s.refresher.Start()
	case !next.SignedIn() && prev.SignedIn():
		s.refresher.Stop()
	}
}

// State returns the current auth state.
func (s *Session) State() authstate.State {
	return s.machine.State()
}

// Auth returns the read-only view of the state machine.
func (s *Session) Auth() authstate.Reader {
	return s.machine
}

// Machine returns the state machine for subscriptions and diagnostics.
func (s *Session) Machine() *authstate.Machine {
	return s.machine
}

// Readiness returns the readiness signal resolved by the bootstrap.
func (s *Session) Readiness() *authstate.Readiness {
	return s.ready
}

// ReadinessTimeout returns the bound applied to readiness waits.
func (s *Session) ReadinessTimeout() time.Duration {
	return s.opts.readinessTimeout
}

// RefreshScheduled reports whether the token refresher is running.
func (s *Session) RefreshScheduled() bool {
	return s.refresher.Running()
}

// HasCredential reports whether a bearer token is stored, whatever the state.
// While a stored profile is being recovered the state is still loading but
// the token is there to revoke.
func (s *Session) HasCredential() bool {
	return s.creds.Token() != ""
}

// Close stops background work and waits for it to finish. The stored
// credentials are left untouched.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.readyTimer != nil {
			s.readyTimer.Stop()
		}
		s.mu.Unlock()
		s.refresher.Stop()
		s.unsubscribe()
		s.wg.Wait()
	})
	return nil
}

// goBackground runs fn on the session's lifetime context.
func (s *Session) goBackground(fn func(ctx context.Context)) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn(s.ctx)
	}()
}

// applicable reports whether a result captured at epoch may still be
// applied. s.mu must be held.
func (s *Session) applicable(epoch uint64, operation string) bool {
	if s.epoch == epoch {
		return true
	}
	logging.Debug("Session", "discarding stale %s result (epoch %d, now %d)", operation, epoch, s.epoch)
	s.metrics.RecordRaceDiscard(operation)
	return false
}

// currentEpoch returns the epoch to capture before asynchronous work.
func (s *Session) currentEpoch() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.epoch
}

// signOutLocked clears both stores and moves to unauthenticated. s.mu must be
// held. Clear errors are returned but the state change always happens.
func (s *Session) signOutLocked(reason string) error {
	s.epoch++
	var errs []error
	if err := s.creds.Clear(); err != nil {
		errs = append(errs, err)
	}
	if err := s.perms.Invalidate(); err != nil {
		errs = append(errs, err)
	}
	s.machine.SignOut()
	logging.Audit("Session", "signed_out", "reason", reason)
	return errors.Join(errs...)
}

// persistLocked writes snap to the credential store. A failed write can leave
// the durable and cookie stores holding different snapshots, so the stores
// are rewritten with restore or, when that is nil or fails too, cleared with
// a sign-out. Either way the stores agree with the machine afterwards. s.mu
// must be held.
func (s *Session) persistLocked(snap, restore *credential.IdentitySnapshot, operation string) error {
	err := s.creds.Write(snap)
	if err == nil {
		return nil
	}
	if restore != nil {
		rerr := s.creds.Write(restore)
		if rerr == nil {
			logging.Warn("Session", "%s: store failed, previous identity restored: %v", operation, err)
			return err
		}
		logging.Warn("Session", "%s: restoring previous identity failed: %v", operation, rerr)
	}
	if cerr := s.signOutLocked(operation + "_store_failed"); cerr != nil {
		logging.Warn("Session", "%s: failed to clear credentials after store failure: %v", operation, cerr)
	}
	return err
}

// expire signs out after the server rejected the credential, unless the
// epoch moved on since the rejected call started.
func (s *Session) expire(epoch uint64, operation string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.applicable(epoch, operation) {
		return
	}
	if err := s.signOutLocked(operation + "_rejected"); err != nil {
		logging.Warn("Session", "failed to clear credentials after rejection: %v", err)
	}
}
