// ABOUTME: Witness that writes sign outcomes to slog
// ABOUTME: Successes log at Info; vetoes and store failures at Warn

package witness

import (
	"context"
	"log/slog"
)

// Logger logs every sign attempt.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a logging witness. Pass nil logger for default.
func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger.With("component", "witness")}
}

// Speak never vetoes.
func (l *Logger) Speak(ctx context.Context, a Access) error {
	l.logger.DebugContext(ctx, "sign requested",
		"session_id", a.SessionID,
		"fingerprint", a.Identity.Fingerprint(),
		"client", a.Provenance.String(),
	)
	return nil
}

func (l *Logger) Witness(ctx context.Context, e SignEvent) {
	attrs := []any{
		"session_id", e.SessionID,
		"fingerprint", e.Identity.Fingerprint(),
		"label", e.Identity.Label,
		"store", e.Store,
		"client", e.Provenance.String(),
		"serialized", e.Serialized,
		"duration", e.Duration,
	}
	if e.Err == nil {
		l.logger.InfoContext(ctx, "signed", attrs...)
		return
	}
	attrs = append(attrs, "outcome", e.Outcome(), "error", e.Err)
	l.logger.WarnContext(ctx, "sign failed", attrs...)
}
