// ABOUTME: Witness that persists every sign attempt to the audit store
// ABOUTME: Write failures are logged and never affect the client's response

package witness

import (
	"context"
	"log/slog"

	"github.com/2389/secret-agent/internal/audit"
)

// Recorder is the part of the audit store the witness needs.
type Recorder interface {
	RecordSign(ctx context.Context, r *audit.SignRecord) error
}

// Audit records sign outcomes.
type Audit struct {
	store  Recorder
	logger *slog.Logger
}

// NewAudit creates an audit witness. Pass nil logger for default.
func NewAudit(store Recorder, logger *slog.Logger) *Audit {
	if logger == nil {
		logger = slog.Default()
	}
	return &Audit{store: store, logger: logger.With("component", "witness.audit")}
}

func (a *Audit) Speak(context.Context, Access) error { return nil }

func (a *Audit) Witness(ctx context.Context, e SignEvent) {
	r := &audit.SignRecord{
		ID:          e.ID,
		SessionID:   e.SessionID,
		Fingerprint: e.Identity.Fingerprint(),
		Label:       e.Identity.Label,
		Store:       e.Store,
		Client:      e.Provenance.String(),
		Serialized:  e.Serialized,
		Outcome:     e.Outcome(),
		Duration:    e.Duration,
		Timestamp:   e.Started.UTC(),
	}
	if e.Provenance.Known {
		pid := e.Provenance.PID
		r.ClientPID = &pid
		if exe := e.Provenance.Executable; exe != "" {
			r.ClientExe = &exe
		}
	}

	// The client may already be gone; the record is still wanted.
	if err := a.store.RecordSign(context.WithoutCancel(ctx), r); err != nil {
		a.logger.Error("recording sign failed", "error", err, "fingerprint", r.Fingerprint)
	}
}
