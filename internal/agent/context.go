// ABOUTME: Carries the serving session's ID through request handling
// ABOUTME: Provides WithSessionID/SessionIDFromContext for witness and log correlation

package agent

import "context"

type sessionIDKey struct{}

// WithSessionID returns a context tagged with the serving session's ID.
func WithSessionID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, sessionIDKey{}, id)
}

// SessionIDFromContext returns the session ID, or "" if none was attached.
func SessionIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(sessionIDKey{}).(string)
	return id
}
