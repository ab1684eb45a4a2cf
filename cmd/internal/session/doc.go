// Package session owns the authenticated session of a Pulse client process.
//
// It has two halves:
//
//   - Store: durable persistence of the current credential (token + user
//     profile) across process restarts.
//   - Controller: the authoritative in-memory session state machine. It
//     hydrates from the Store at startup, re-validates the persisted token
//     against the backend without blocking callers, and serializes every
//     transition (SetAuth, Logout, confirmation results).
//
// The Controller is the only writer to the Store. Collaborators read state,
// trigger mutations, and subscribe to change notifications; the realtime
// channel derives its connection identity from the credential published
// here.
package session
