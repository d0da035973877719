// Package agent answers SSH agent requests.
//
// # Agent
//
// Agent turns one decoded request into one response:
//
//	a := agent.New(agent.Config{Stores: list, Locks: signlock.NewSet(signlock.ScopeGlobal)})
//	resp := a.Handle(ctx, req, provenance)
//
// ListIdentities concatenates every store's identities in store priority
// order. It never waits on the signing lock.
//
// SignRequest resolves the key to the first store that lists it. If no store
// does, the store list is reloaded once and the lookup retried before the
// request fails as an unknown key. The witness may then veto the request.
// Signing with an identity that requires user authentication runs under the
// signing lock, so only one prompt is on screen at a time; other signs run
// unserialized. Store failures become protocol failures; the session is
// never closed because a sign failed.
//
// Other request types (adding keys, locking, extensions) are answered with
// a failure.
//
// # Manager
//
// Manager runs sessions. Each session is served by its own goroutine that
// decodes, handles, encodes and writes one request at a time, so requests
// within a session are answered strictly in order. A malformed frame or a
// transport error closes that session and no other.
//
//	mgr := agent.NewManager(a, logger)
//	mgr.Serve(ctx, controller.Sessions(ctx))
//
// Serve returns once ctx is done or the session source is exhausted, after
// closing every session and waiting for in-flight requests to finish.
//
// # Cancellation
//
// A sign request that has reached a store is not cancelled when its session
// goes away. The store call completes and its result is discarded.
package agent
