// Package api is the client for the ALL-IN backend's identity endpoints.
//
// Every response is wrapped in an envelope:
//
//	{"success": true, "message": "login successful", "data": {...}}
//
// The backend's older {"code": 200, "message": ..., "data": ...} shape is
// accepted as well. Only the data member is returned to callers; a failed
// envelope or a non-2xx status becomes an *Error.
//
// # Error classification
//
// Callers branch on two predicates rather than on status codes:
//
//   - IsAuthFailure: the server rejected the credential (401) or there
//     was no credential to send. The session signs out.
//   - IsTransient: anything else (network errors, timeouts, 5xx). The
//     session keeps its last known state.
//
// # Authentication
//
// Authenticated calls go through an oauth2.Transport whose token source reads
// the stored bearer token at request time, so a refreshed token is picked up
// without rebuilding the client. Login and register use a plain client.
package api
