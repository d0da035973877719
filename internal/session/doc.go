// Package session adapts one agent socket connection into an ordered stream
// of frames plus a write and close surface.
//
// # Lifecycle
//
//	Open --Messages()--> Streaming --error / Close()--> Closed
//
// Messages starts a dedicated read goroutine the first time it is called.
// The goroutine hands whole frames over an unbuffered channel, so it stops
// reading from the socket while the consumer is busy handling the previous
// request. Requests from one session are therefore processed strictly one
// at a time, in arrival order.
//
// The channel closes when the peer hangs up, when a frame is malformed, when
// the transport fails, or when Close is called. Err reports why, with nil
// meaning a clean hang-up or a local Close. Malformed frames and transport
// failures close the session; it is never retried. A clean EOF leaves the
// write side open so replies to requests already handed over still reach a
// client that only shut down its sending half; the owner closes the session
// when it is done.
//
// # Provenance
//
// Each session carries the Provenance of its peer, captured at accept time
// from the socket's peer credentials where the platform supports it. The
// agent core passes it through untouched to policy and notification
// collaborators.
package session
