// ABOUTME: Store capability interface, Identity type and sign failure taxonomy
// ABOUTME: Identities are public-key references; key material never leaves a store

package keystore

import (
	"bytes"
	"context"
	"errors"

	"golang.org/x/crypto/ssh"
)

// Sign failures a store may report. Errors that match none of these are
// treated as hardware errors.
var (
	ErrUserDenied    = errors.New("user denied signing")
	ErrHardwareError = errors.New("key store hardware error")
	ErrTimeout       = errors.New("signing timed out")
)

// ErrNotFound is returned when no store lists a key.
var ErrNotFound = errors.New("identity not found")

// SignFlags are the flags of an agent sign request.
type SignFlags uint32

const (
	FlagRSASHA256 SignFlags = 2
	FlagRSASHA512 SignFlags = 4
)

// Identity is a reference to a private key held by a store.
type Identity struct {
	PublicKey ssh.PublicKey
	Label     string
}

// Blob returns the SSH wire encoding of the public key.
func (i Identity) Blob() []byte {
	return i.PublicKey.Marshal()
}

// Fingerprint returns the "SHA256:..." fingerprint of the public key.
func (i Identity) Fingerprint() string {
	return ssh.FingerprintSHA256(i.PublicKey)
}

// Matches reports whether blob is this identity's public key.
func (i Identity) Matches(blob []byte) bool {
	return bytes.Equal(i.Blob(), blob)
}

// Store is the capability the agent consumes. Implementations must be safe
// for concurrent Identities calls; the agent serializes interactive Sign
// calls itself.
type Store interface {
	// Name identifies the store in logs and audit records.
	Name() string
	// Identities lists the keys the store can sign with.
	Identities(ctx context.Context) ([]Identity, error)
	// Sign signs data with the identity's private key.
	Sign(ctx context.Context, id Identity, data []byte, flags SignFlags) (*ssh.Signature, error)
	// RequiresAuthentication reports whether signing with id prompts the user.
	RequiresAuthentication(id Identity) bool
}

// Reloader is implemented by stores whose key set can change at runtime.
type Reloader interface {
	Reload(ctx context.Context) error
}

// FailureReason names why a sign attempt failed.
type FailureReason string

const (
	ReasonUserDenied    FailureReason = "user_denied"
	ReasonHardwareError FailureReason = "hardware_error"
	ReasonTimeout       FailureReason = "timeout"
)

// Classify maps a store error onto the three failure reasons.
func Classify(err error) FailureReason {
	switch {
	case errors.Is(err, ErrUserDenied):
		return ReasonUserDenied
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	default:
		return ReasonHardwareError
	}
}
