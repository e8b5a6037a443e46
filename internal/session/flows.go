package session

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"allin/internal/api"
	"allin/internal/authstate"
	"allin/internal/credential"
	"allin/internal/metrics"
	"allin/internal/permission"
	"allin/pkg/logging"
)

// Login signs in with email and password and returns the resulting state.
// On failure the current state is returned unchanged with the error.
func (s *Session) Login(ctx context.Context, email, password string) (authstate.State, error) {
	id, err := s.backend.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		logging.Audit("Session", "login_failed", "status", api.StatusCode(err))
		return s.State(), err
	}
	return s.signIn(id, "login")
}

// Register creates an account, signs it in and returns the resulting state,
// normally StateNeedsOnboarding.
func (s *Session) Register(ctx context.Context, req api.RegisterRequest) (authstate.State, error) {
	id, err := s.backend.Register(ctx, req)
	if err != nil {
		return s.State(), err
	}
	return s.signIn(id, "register")
}

func (s *Session) signIn(id *credential.IdentitySnapshot, how string) (authstate.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.epoch++
	if err := s.persistLocked(id, nil, how); err != nil {
		s.ready.Resolve()
		return s.machine.State(), fmt.Errorf("failed to store credentials: %w", err)
	}
	if err := s.perms.Invalidate(); err != nil {
		logging.Warn("Session", "failed to invalidate permissions after %s: %v", how, err)
	}

	wasSignedIn := s.machine.State().SignedIn()
	state := s.machine.Resolve(id)
	if wasSignedIn {
		// New token, new schedule.
		s.refresher.Stop()
		s.refresher.Start()
	}
	s.ready.Resolve()
	logging.Audit("Session", "signed_in", "method", how, "user_id", id.User.ID, "state", state.String())
	return state, nil
}

// Logout clears both stores and sets StateUnauthenticated before returning,
// then notifies the server on a best-effort basis. Only local clear failures
// are returned.
func (s *Session) Logout(ctx context.Context) error {
	s.mu.Lock()
	token := s.creds.Token()
	err := s.signOutLocked("logout")
	s.ready.Resolve()
	s.mu.Unlock()

	if token != "" {
		if rerr := s.backend.Logout(ctx, token); rerr != nil {
			logging.Warn("Session", "server logout failed, local session already cleared: %v", rerr)
		}
	}
	return err
}

// UpdateProfile applies a partial profile update and returns the new state.
func (s *Session) UpdateProfile(ctx context.Context, update api.ProfileUpdate) (authstate.State, error) {
	if !s.machine.IsAuthenticated() {
		return s.State(), ErrNotSignedIn
	}
	if update.Empty() {
		return s.State(), nil
	}
	epoch := s.currentEpoch()

	profile, err := s.backend.UpdateProfile(ctx, update)
	if err != nil {
		if api.IsAuthFailure(err) {
			s.expire(epoch, "update_profile")
		}
		return s.State(), err
	}
	return s.applyProfile(epoch, *profile, "update_profile")
}

// CompleteOnboarding saves the onboarding fields, re-reads the profile from
// the server and moves to StateAuthenticated once nothing is missing. It
// returns ErrOnboardingIncomplete when fields are still blank.
func (s *Session) CompleteOnboarding(ctx context.Context, update api.ProfileUpdate) (authstate.State, error) {
	current := s.machine.Identity()
	if current == nil || !s.machine.State().SignedIn() {
		return s.State(), ErrNotSignedIn
	}
	epoch := s.currentEpoch()

	merged := update.Apply(current.User)
	if !update.Empty() {
		saved, err := s.backend.UpdateProfile(ctx, update)
		if err != nil {
			if api.IsAuthFailure(err) {
				s.expire(epoch, "onboarding")
			}
			return s.State(), err
		}
		merged = *saved
	}

	// The profile endpoint is authoritative for the onboarding fields.
	if fresh, err := s.backend.Profile(ctx); err == nil {
		merged = *fresh
	} else if api.IsAuthFailure(err) {
		s.expire(epoch, "onboarding")
		return s.State(), err
	} else {
		logging.Warn("Session", "profile re-read after onboarding failed, using merged profile: %v", err)
	}

	state, err := s.applyProfile(epoch, merged, "onboarding")
	if err != nil {
		return state, err
	}
	if missing := merged.MissingOnboardingFields(); len(missing) > 0 {
		return state, fmt.Errorf("%w: missing %s", ErrOnboardingIncomplete, strings.Join(missing, ", "))
	}
	return state, nil
}

// applyProfile writes profile with the current token and resolves the
// state, unless the epoch moved on.
func (s *Session) applyProfile(epoch uint64, profile credential.UserProfile, operation string) (authstate.State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.applicable(epoch, operation) {
		return s.machine.State(), ErrSuperseded
	}
	snap := &credential.IdentitySnapshot{User: profile, BearerToken: s.creds.Token()}
	if err := s.persistLocked(snap, s.machine.Identity(), operation); err != nil {
		return s.machine.State(), fmt.Errorf("failed to store profile: %w", err)
	}
	return s.machine.Resolve(snap), nil
}

// RefreshNow refreshes the bearer token immediately.
func (s *Session) RefreshNow(ctx context.Context) error {
	if !s.machine.IsAuthenticated() {
		return ErrNotSignedIn
	}
	return s.refreshOnce(ctx)
}

// refreshOnce replaces the stored bearer token with a fresh one. Identity
// fields are kept; the merge happens here and the store gets a whole
// snapshot. Failures never sign the user out.
func (s *Session) refreshOnce(ctx context.Context) error {
	epoch := s.currentEpoch()

	token, err := s.backend.Refresh(ctx)
	if err != nil {
		outcome := metrics.OutcomeTransient
		if api.IsAuthFailure(err) {
			outcome = metrics.OutcomeAuthFailure
		}
		s.metrics.RecordRefresh(outcome)
		logging.Warn("Refresh", "token refresh failed: %v", err)
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.applicable(epoch, "refresh") || !s.machine.State().SignedIn() {
		s.metrics.RecordRefresh(metrics.OutcomeDiscarded)
		return ErrSuperseded
	}
	current, ok := s.creds.Read()
	if !ok {
		s.metrics.RecordRefresh(metrics.OutcomeDiscarded)
		return ErrSuperseded
	}
	previous := current.Clone()
	current.BearerToken = token
	if err := s.persistLocked(current, previous, "refresh"); err != nil {
		s.metrics.RecordRefresh(metrics.OutcomeTransient)
		logging.Warn("Refresh", "failed to store refreshed token: %v", err)
		return err
	}
	s.machine.Resolve(current)
	s.metrics.RecordRefresh(metrics.OutcomeSuccess)
	logging.Audit("Refresh", "token_refreshed", "user_id", current.User.ID)
	return nil
}

// Entitlements returns the cached entitlements, fetching them from the
// server on a miss. Concurrent misses share one request.
func (s *Session) Entitlements(ctx context.Context) (*permission.Snapshot, error) {
	if !s.machine.IsAuthenticated() {
		return nil, ErrNotSignedIn
	}
	if snap, ok := s.perms.Read(); ok {
		s.metrics.RecordPermissionLookup("hit")
		return snap, nil
	}
	s.metrics.RecordPermissionLookup("miss")

	v, err, _ := s.entitlements.Do("entitlements", func() (any, error) {
		epoch := s.currentEpoch()
		ents, err := s.backend.Entitlements(ctx)
		if err != nil {
			if api.IsAuthFailure(err) {
				s.expire(epoch, "entitlements")
			}
			return nil, err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		if !s.applicable(epoch, "entitlements") {
			return nil, ErrSuperseded
		}
		return s.perms.Write(ents, s.opts.permissionTTL)
	})
	if err != nil {
		return nil, err
	}
	return v.(*permission.Snapshot), nil
}

// InvalidateEntitlements drops the cached entitlements, for example after a
// purchase changed them.
func (s *Session) InvalidateEntitlements() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.perms.Invalidate()
}

// Watcher reports changed storage keys until ctx is cancelled.
// *storage.FileStore implements it.
type Watcher interface {
	Watch(ctx context.Context, fn func(key string)) error
}

// WatchExternal follows changes that other processes make to the durable
// store and brings the state in line with them. It blocks until ctx is
// cancelled.
func (s *Session) WatchExternal(ctx context.Context, w Watcher) error {
	return w.Watch(ctx, func(key string) {
		if !slices.Contains(credential.IdentityKeys, key) {
			return
		}
		s.Resync()
	})
}

// Resync re-reads the credential store and applies what another process
// wrote. Torn reads of a partially written identity are ignored; the next
// change event completes them.
func (s *Session) Resync() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.machine.State().Pending() {
		return
	}
	lookup := s.creds.Inspect()
	current := s.machine.Identity()

	switch {
	case lookup.Snapshot == nil && lookup.Undecodable():
		return
	case lookup.Snapshot == nil:
		if current == nil {
			return
		}
		s.epoch++
		if err := s.perms.Invalidate(); err != nil {
			logging.Warn("Session", "failed to invalidate permissions: %v", err)
		}
		s.machine.SignOut()
		logging.Info("Session", "signed out by another process")
	case current == nil || current.User.ID != lookup.Snapshot.User.ID:
		s.epoch++
		if err := s.perms.Invalidate(); err != nil {
			logging.Warn("Session", "failed to invalidate permissions: %v", err)
		}
		state := s.machine.Resolve(lookup.Snapshot)
		logging.Info("Session", "signed in by another process as user %d (%s)", lookup.Snapshot.User.ID, state)
	case *current != *lookup.Snapshot:
		s.machine.Resolve(lookup.Snapshot)
		logging.Debug("Session", "identity updated by another process")
	}
}

var _ Backend = (*api.Client)(nil)

// IsAuthRequired reports whether err means the caller must sign in.
func IsAuthRequired(err error) bool {
	return errors.Is(err, ErrNotSignedIn)
}
