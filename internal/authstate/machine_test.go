package authstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"allin/internal/credential"
)

func completeIdentity() *credential.IdentitySnapshot {
	return &credential.IdentitySnapshot{
		User: credential.UserProfile{
			ID:          7,
			Email:       "fan@example.com",
			Phone:       "+15550000007",
			DateOfBirth: "1988-12-24",
			Region:      "downtown",
		},
		BearerToken: "token",
	}
}

func incompleteIdentity() *credential.IdentitySnapshot {
	id := completeIdentity()
	id.User.Phone = ""
	return id
}

func TestState_String(t *testing.T) {
	testCases := []struct {
		state    State
		expected string
	}{
		{StateInitial, "initial"},
		{StateLoading, "loading"},
		{StateUnauthenticated, "unauthenticated"},
		{StateNeedsOnboarding, "needs_onboarding"},
		{StateAuthenticated, "authenticated"},
		{State(99), "unknown"},
	}

	for _, tc := range testCases {
		if tc.state.String() != tc.expected {
			t.Errorf("expected State(%d).String() = %q, got %q", tc.state, tc.expected, tc.state.String())
		}
	}
}

func TestState_Families(t *testing.T) {
	assert.True(t, StateAuthenticated.SignedIn())
	assert.True(t, StateNeedsOnboarding.SignedIn())
	assert.False(t, StateUnauthenticated.SignedIn())
	assert.False(t, StateLoading.SignedIn())
	assert.False(t, StateInitial.SignedIn())

	assert.True(t, StateInitial.Pending())
	assert.True(t, StateLoading.Pending())
	assert.False(t, StateAuthenticated.Pending())

	assert.True(t, StateAuthenticated.Valid())
	assert.False(t, State(-1).Valid())
	assert.False(t, State(5).Valid())
}

func TestMachine_InitialState(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, StateInitial, m.State())
	assert.Nil(t, m.Identity())
	assert.False(t, m.IsAuthenticated())
	assert.False(t, m.NeedsOnboarding())
}

func TestMachine_ResolveByPredicate(t *testing.T) {
	m := NewMachine()

	assert.Equal(t, StateAuthenticated, m.Resolve(completeIdentity()))
	assert.True(t, m.IsAuthenticated())
	assert.False(t, m.NeedsOnboarding())

	assert.Equal(t, StateNeedsOnboarding, m.Resolve(incompleteIdentity()))
	assert.True(t, m.IsAuthenticated())
	assert.True(t, m.NeedsOnboarding())

	assert.Equal(t, StateUnauthenticated, m.Resolve(nil))
	assert.False(t, m.IsAuthenticated())
	assert.Nil(t, m.Identity())
}

func TestMachine_NeedsOnboardingGatedByState(t *testing.T) {
	m := NewMachine()
	m.Resolve(incompleteIdentity())
	require.True(t, m.NeedsOnboarding())

	// Loading keeps the identity but must not report onboarding.
	m.SetLoading()
	assert.NotNil(t, m.Identity())
	assert.False(t, m.NeedsOnboarding())

	m.SignOut()
	assert.False(t, m.NeedsOnboarding())
}

func TestMachine_IdentityIsACopy(t *testing.T) {
	m := NewMachine()
	id := completeIdentity()
	m.Resolve(id)

	id.User.Phone = ""
	assert.False(t, m.NeedsOnboarding(), "mutating the caller's snapshot must not change the machine")

	got := m.Identity()
	got.User.Region = ""
	assert.False(t, m.NeedsOnboarding(), "mutating a returned snapshot must not change the machine")
}

func TestMachine_SubscribeState(t *testing.T) {
	m := NewMachine()

	var seen []State
	var identityDuringNotify []bool
	unsubscribe := m.SubscribeState(func(prev, next State) {
		seen = append(seen, next)
		identityDuringNotify = append(identityDuringNotify, m.Identity() != nil)
	})

	m.SetLoading()
	m.Resolve(completeIdentity())
	m.SignOut()
	unsubscribe()
	m.SetLoading()

	assert.Equal(t, []State{StateLoading, StateAuthenticated, StateUnauthenticated}, seen)
	assert.Equal(t, []bool{false, true, false}, identityDuringNotify)
}

func TestMachine_Transitions(t *testing.T) {
	m := NewMachine()
	m.SetLoading()
	m.Resolve(incompleteIdentity())
	m.Resolve(incompleteIdentity()) // no change, not recorded
	m.Resolve(completeIdentity())

	got := m.Transitions()
	require.Len(t, got, 3)
	assert.Equal(t, StateInitial, got[0].From)
	assert.Equal(t, StateLoading, got[0].To)
	assert.Equal(t, StateNeedsOnboarding, got[1].To)
	assert.Equal(t, StateAuthenticated, got[2].To)
}

func TestStateForIdentity(t *testing.T) {
	assert.Equal(t, StateUnauthenticated, StateForIdentity(nil))
	assert.Equal(t, StateAuthenticated, StateForIdentity(completeIdentity()))
	assert.Equal(t, StateNeedsOnboarding, StateForIdentity(incompleteIdentity()))
}

func TestMachine_ImplementsReader(t *testing.T) {
	var _ Reader = NewMachine()
}
