// ABOUTME: Witness interface and the Access and SignEvent values it observes
// ABOUTME: Also holds Multi, the fan-out witness, and Nop

package witness

import (
	"context"
	"errors"
	"time"

	"github.com/2389/secret-agent/internal/audit"
	"github.com/2389/secret-agent/internal/keystore"
	"github.com/2389/secret-agent/internal/session"
)

// ErrVetoed is wrapped by witnesses that refuse a sign request.
var ErrVetoed = errors.New("signing vetoed")

// Access describes a pending sign request.
type Access struct {
	SessionID  string
	Identity   keystore.Identity
	Store      string
	Provenance session.Provenance
}

// SignEvent is the result of one sign attempt.
type SignEvent struct {
	ID string
	Access
	// Serialized is true when the store call ran under the signing lock.
	Serialized bool
	Started    time.Time
	Duration   time.Duration
	// Err is nil on success.
	Err error
}

// Vetoed reports whether a witness refused the request.
func (e SignEvent) Vetoed() bool {
	return errors.Is(e.Err, ErrVetoed)
}

// Outcome maps the event onto an audit outcome.
func (e SignEvent) Outcome() audit.Outcome {
	switch {
	case e.Err == nil:
		return audit.OutcomeSigned
	case e.Vetoed():
		return audit.OutcomeVetoed
	}
	switch keystore.Classify(e.Err) {
	case keystore.ReasonUserDenied:
		return audit.OutcomeUserDenied
	case keystore.ReasonTimeout:
		return audit.OutcomeTimeout
	default:
		return audit.OutcomeHardwareError
	}
}

// Witness observes sign requests.
type Witness interface {
	// Speak may veto a sign request by returning an error.
	Speak(ctx context.Context, a Access) error
	// Witness is told the outcome of every sign attempt.
	Witness(ctx context.Context, e SignEvent)
}

// Nop approves everything and records nothing.
type Nop struct{}

func (Nop) Speak(context.Context, Access) error { return nil }
func (Nop) Witness(context.Context, SignEvent)  {}

// Multi consults witnesses in order.
type Multi []Witness

// Speak returns the first veto. Later witnesses are not consulted.
func (m Multi) Speak(ctx context.Context, a Access) error {
	for _, w := range m {
		if err := w.Speak(ctx, a); err != nil {
			return err
		}
	}
	return nil
}

// Witness passes e to every witness.
func (m Multi) Witness(ctx context.Context, e SignEvent) {
	for _, w := range m {
		w.Witness(ctx, e)
	}
}
