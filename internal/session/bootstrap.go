package session

import (
	"context"

	"allin/internal/api"
	"allin/internal/credential"
	"allin/internal/metrics"
	"allin/pkg/logging"
)

// Start runs the bootstrap once; later calls do nothing.
//
// The local determination happens before Start returns and performs no
// network I/O: absent credentials resolve to unauthenticated, decodable ones
// to the state implied by the stored profile. Both resolve readiness
// immediately. Confirmation against the server then runs in the background.
// When stored data is present but undecodable the state is loading until
// confirmation settles or the readiness timeout fires.
func (s *Session) Start() {
	s.startOnce.Do(func() {
		s.bootstrap()
	})
}

func (s *Session) bootstrap() {
	s.mu.Lock()
	lookup := s.creds.Inspect()
	epoch := s.epoch

	switch {
	case lookup.Snapshot != nil:
		state := s.machine.Resolve(lookup.Snapshot)
		s.mu.Unlock()
		s.ready.Resolve()
		logging.Info("Bootstrap", "restored session for user %d from %s store (%s), confirming",
			lookup.Snapshot.User.ID, lookup.Source, state)
		s.goBackground(func(ctx context.Context) {
			s.confirm(ctx, epoch, false)
		})

	case lookup.Undecodable() && lookup.Token != "":
		s.machine.SetLoading()
		s.armReadinessTimeoutLocked()
		s.mu.Unlock()
		logging.Info("Bootstrap", "stored profile unreadable, recovering it from the server")
		s.goBackground(func(ctx context.Context) {
			s.confirm(ctx, epoch, true)
		})

	case lookup.Undecodable():
		s.machine.SetLoading()
		if err := s.creds.Clear(); err != nil {
			logging.Warn("Bootstrap", "failed to clear unreadable credentials: %v", err)
		}
		s.machine.SignOut()
		s.mu.Unlock()
		s.ready.Resolve()
		logging.Info("Bootstrap", "stored credentials unreadable, signed out")

	default:
		s.machine.SignOut()
		s.mu.Unlock()
		s.ready.Resolve()
		logging.Debug("Bootstrap", "no stored credentials")
	}
}

// armReadinessTimeoutLocked resolves readiness after the configured timeout
// unless confirmation settles first. The timeout never changes state.
func (s *Session) armReadinessTimeoutLocked() {
	s.readyTimer = s.clock.AfterFunc(s.opts.readinessTimeout, func() {
		if s.ready.Resolve() {
			s.metrics.RecordReadinessTimeout()
			logging.Warn("Bootstrap", "confirmation still pending after %s, continuing as %s",
				s.opts.readinessTimeout, s.machine.State())
		}
	})
}

// confirm fetches the authoritative profile and applies it if no sign-in or
// sign-out happened meanwhile. recovering is set when there is no optimistic
// state to fall back to.
func (s *Session) confirm(ctx context.Context, epoch uint64, recovering bool) {
	profile, err := s.backend.Profile(ctx)

	s.mu.Lock()
	defer s.ready.Resolve()
	defer s.mu.Unlock()

	if s.readyTimer != nil {
		s.readyTimer.Stop()
	}
	if !s.applicable(epoch, "confirm") {
		s.metrics.RecordConfirmation(metrics.OutcomeDiscarded)
		return
	}

	switch {
	case err == nil:
		snap := &credential.IdentitySnapshot{User: *profile, BearerToken: s.creds.Token()}
		if snap.BearerToken == "" {
			logging.Warn("Bootstrap", "credentials vanished during confirmation")
			s.metrics.RecordConfirmation(metrics.OutcomeDiscarded)
			_ = s.signOutLocked("credentials_vanished")
			return
		}
		if err := s.persistLocked(snap, s.machine.Identity(), "confirm"); err != nil {
			logging.Warn("Bootstrap", "failed to persist confirmed profile: %v", err)
			return
		}
		state := s.machine.Resolve(snap)
		s.metrics.RecordConfirmation(metrics.OutcomeSuccess)
		logging.Info("Bootstrap", "session confirmed for user %d (%s)", profile.ID, state)

	case api.IsAuthFailure(err):
		s.metrics.RecordConfirmation(metrics.OutcomeAuthFailure)
		logging.Info("Bootstrap", "server rejected stored credentials: %v", err)
		if err := s.signOutLocked("confirm_rejected"); err != nil {
			logging.Warn("Bootstrap", "failed to clear rejected credentials: %v", err)
		}

	default:
		s.metrics.RecordConfirmation(metrics.OutcomeTransient)
		if ctx.Err() != nil {
			return
		}
		if recovering {
			logging.Warn("Bootstrap", "could not recover profile: %v", err)
			if err := s.signOutLocked("recovery_failed"); err != nil {
				logging.Warn("Bootstrap", "failed to clear credentials: %v", err)
			}
			return
		}
		logging.Warn("Bootstrap", "confirmation failed, keeping %s: %v", s.machine.State(), err)
	}
}
