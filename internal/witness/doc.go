// Package witness observes signing.
//
// A Witness is consulted twice per sign request. Speak runs after the key
// has been resolved and before the store is asked to sign; a non-nil error
// vetoes the request and the client receives a failure. Witness runs after
// every attempt, vetoed or not, with the outcome.
//
// Implementations:
//
//   - Logger writes outcomes to slog
//   - Audit persists outcomes in the SQLite audit store
//   - Notifier prints an access notice, collapsing bursts from one client
//   - Multi fans out to several witnesses; the first veto wins
//
// Witnesses never change the signature or the failure reason the client
// sees, apart from a veto.
package witness
