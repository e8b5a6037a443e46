// Package session wires the credential store, permission cache and auth
// state machine into one context object per process.
//
// A Session is constructed once and injected into every consumer. Start runs
// the bootstrap: a synchronous local guess from stored credentials followed
// by a background confirmation against the server. The login, logout and
// onboarding flows, the token refresher and entitlement lookups all go
// through the same object so that every write is ordered with the state
// change it implies.
//
// # Epochs
//
// Every sign-in, sign-out and credential rejection increments the session
// epoch. Asynchronous work captures the epoch before it starts and applies its
// result only if the epoch is unchanged; otherwise the result is dropped and
// counted as a race discard.
//
// # Locking
//
// Session.mu serialises credential and permission writes with the epoch
// check and the state transition. State subscribers run synchronously while
// it is held and must not call Session methods that mutate state.
package session
