// Package authstate holds the process-wide authentication state: the finite
// state, the signed-in identity and the readiness signal that route guards
// wait on.
package authstate

// State is the authentication state of the process.
type State int

const (
	// StateInitial means nothing has been decided yet.
	StateInitial State = iota

	// StateLoading means a determination is in flight.
	StateLoading

	// StateUnauthenticated means there is no usable credential.
	StateUnauthenticated

	// StateNeedsOnboarding means signed in with an incomplete profile.
	StateNeedsOnboarding

	// StateAuthenticated means signed in with a complete profile.
	StateAuthenticated
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateInitial:
		return "initial"
	case StateLoading:
		return "loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateNeedsOnboarding:
		return "needs_onboarding"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Valid reports whether s is one of the defined states.
func (s State) Valid() bool {
	return s >= StateInitial && s <= StateAuthenticated
}

// SignedIn reports whether s belongs to the authenticated family
// (authenticated or needs onboarding).
func (s State) SignedIn() bool {
	return s == StateAuthenticated || s == StateNeedsOnboarding
}

// Pending reports whether no determination has been made yet.
func (s State) Pending() bool {
	return s == StateInitial || s == StateLoading
}
