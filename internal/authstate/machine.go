package authstate

import (
	"sync"
	"time"

	"allin/internal/credential"
	"allin/internal/observable"
	"allin/pkg/logging"
)

// Reader is the read-only view of the machine handed to guards and other
// consumers that must not change the state.
type Reader interface {
	State() State
	Identity() *credential.IdentitySnapshot
	IsAuthenticated() bool
	NeedsOnboarding() bool
}

// Transition records one state change.
type Transition struct {
	From State
	To   State
	At   time.Time
}

const maxTransitions = 64

// Machine is the authentication state machine. The mutators are used by the
// session bootstrap and the login, logout and onboarding flows only.
type Machine struct {
	state    *observable.Cell[State]
	identity *observable.Cell[*credential.IdentitySnapshot]

	mu      sync.Mutex
	history []Transition
	now     func() time.Time
}

// NewMachine returns a machine in StateInitial with no identity.
func NewMachine() *Machine {
	m := &Machine{
		state:    observable.NewCell(StateInitial),
		identity: observable.NewCell[*credential.IdentitySnapshot](nil),
		now:      time.Now,
	}
	m.state.Subscribe(func(prev, next State) {
		if prev == next {
			return
		}
		m.mu.Lock()
		m.history = append(m.history, Transition{From: prev, To: next, At: m.now()})
		if len(m.history) > maxTransitions {
			m.history = m.history[len(m.history)-maxTransitions:]
		}
		m.mu.Unlock()
		logging.Debug("AuthState", "transition %s -> %s", prev, next)
	})
	return m
}

// State returns the current state.
func (m *Machine) State() State {
	return m.state.Get()
}

// Identity returns a copy of the current identity, nil when signed out.
func (m *Machine) Identity() *credential.IdentitySnapshot {
	return m.identity.Get().Clone()
}

// IsAuthenticated reports whether the state is in the authenticated family
// and an identity is present.
func (m *Machine) IsAuthenticated() bool {
	return m.State().SignedIn() && m.identity.Get() != nil
}

// NeedsOnboarding reports whether the signed-in profile is incomplete. It is
// false outside the authenticated family whatever the identity holds.
func (m *Machine) NeedsOnboarding() bool {
	if !m.State().SignedIn() {
		return false
	}
	id := m.identity.Get()
	return id != nil && id.User.NeedsOnboarding()
}

// SubscribeState registers fn for state changes. fn runs synchronously on the
// goroutine that changed the state and must not call the mutators.
func (m *Machine) SubscribeState(fn func(prev, next State)) (unsubscribe func()) {
	return m.state.Subscribe(fn)
}

// SubscribeIdentity registers fn for identity changes.
func (m *Machine) SubscribeIdentity(fn func(prev, next *credential.IdentitySnapshot)) (unsubscribe func()) {
	return m.identity.Subscribe(fn)
}

// Transitions returns the recent state changes, oldest first.
func (m *Machine) Transitions() []Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Transition, len(m.history))
	copy(out, m.history)
	return out
}

// SetLoading marks a determination as in flight. The identity is kept.
func (m *Machine) SetLoading() {
	m.state.Set(StateLoading)
}

// Resolve sets the identity and derives the state from it: unauthenticated
// for nil, otherwise authenticated or needs onboarding by the onboarding
// predicate. It returns the resulting state.
func (m *Machine) Resolve(id *credential.IdentitySnapshot) State {
	next := StateForIdentity(id)
	// Identity first, so state subscribers read the matching identity.
	m.identity.Set(id.Clone())
	m.state.Set(next)
	return next
}

// SignOut clears the identity and sets StateUnauthenticated.
func (m *Machine) SignOut() {
	m.Resolve(nil)
}

// StateForIdentity returns the terminal state implied by id.
func StateForIdentity(id *credential.IdentitySnapshot) State {
	switch {
	case id == nil:
		return StateUnauthenticated
	case id.User.NeedsOnboarding():
		return StateNeedsOnboarding
	default:
		return StateAuthenticated
	}
}
