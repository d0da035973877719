// Package signlock serializes signing operations that may prompt the user.
//
// A Serializer is a FIFO mutex meant for long, possibly interactive
// operations such as a biometric prompt or a smart card PIN entry. Waiting
// callers park on a channel rather than spinning or holding a worker, and
// are released strictly in the order they called in:
//
//	sig, err := signlock.WithLock(s, func() (*ssh.Signature, error) {
//	    return store.Sign(ctx, identity, data, flags)
//	})
//
// On release the lock is handed directly to the oldest waiter; it is never
// observed unlocked while anyone is queued, so a late arrival cannot jump
// the queue. The operation's error (or panic) is passed through untouched
// after the lock has been released.
//
// There is no timeout and no cancellation. Bounding how long a prompt may
// take is the store's business.
//
// # Scope
//
// A Set hands out serializers by key. With ScopeGlobal every key shares one
// serializer, so interactive signings for unrelated keys queue behind each
// other; with ScopeIdentity each key gets its own.
package signlock
