// Package socket binds the agent's Unix socket and turns accepted
// connections into sessions.
//
// Listen does all the work that can fail for good: clearing a stale socket
// file, refusing to clobber a live agent or a non-socket file, binding and
// setting permissions. Once it succeeds, Sessions yields one
// *session.Session per accepted connection until the context ends. Accept
// errors after that point are treated as transient: they are logged and
// retried with backoff and never end the stream.
package socket
