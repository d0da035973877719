// ABOUTME: Shared fakes for agent tests: an instrumented store and a recording witness
// ABOUTME: The store tracks concurrent Sign calls so tests can assert serialization

package agent

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/2389/secret-agent/internal/keystore"
	"github.com/2389/secret-agent/internal/witness"
)

func newSigner(t *testing.T) ssh.Signer {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	signer, err := ssh.NewSignerFromKey(priv)
	require.NoError(t, err)
	return signer
}

type fakeKey struct {
	signer ssh.Signer
	label  string
}

// fakeStore is an in-memory key store. Sign can be made to block, fail or
// panic, and it records how many calls were in flight at once.
type fakeStore struct {
	name  string
	gated bool

	signErr error
	panics  bool
	hold    time.Duration
	block   chan struct{} // Sign waits for close when non-nil
	entered chan string   // receives the key label as each Sign starts

	calls       atomic.Int32
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
	lastFlags   atomic.Uint32

	mu      sync.Mutex
	keys    []fakeKey
	pending []fakeKey // moved into keys by Reload
	reloads int
}

func (s *fakeStore) add(signer ssh.Signer, label string) keystore.Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys = append(s.keys, fakeKey{signer: signer, label: label})
	return keystore.Identity{PublicKey: signer.PublicKey(), Label: label}
}

func (s *fakeStore) Name() string { return s.name }

func (s *fakeStore) Identities(context.Context) ([]keystore.Identity, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]keystore.Identity, 0, len(s.keys))
	for _, k := range s.keys {
		ids = append(ids, keystore.Identity{PublicKey: k.signer.PublicKey(), Label: k.label})
	}
	return ids, nil
}

func (s *fakeStore) RequiresAuthentication(keystore.Identity) bool { return s.gated }

func (s *fakeStore) Reload(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reloads++
	s.keys = append(s.keys, s.pending...)
	s.pending = nil
	return nil
}

func (s *fakeStore) reloadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reloads
}

func (s *fakeStore) Sign(_ context.Context, id keystore.Identity, data []byte, flags keystore.SignFlags) (*ssh.Signature, error) {
	s.calls.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		peak := s.maxInFlight.Load()
		if n <= peak || s.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	s.lastFlags.Store(uint32(flags))

	if s.entered != nil {
		s.entered <- id.Label
	}
	if s.block != nil {
		<-s.block
	}
	time.Sleep(s.hold)

	if s.panics {
		panic("token fell out")
	}
	if s.signErr != nil {
		return nil, s.signErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, k := range s.keys {
		if id.Matches(k.signer.PublicKey().Marshal()) {
			return k.signer.Sign(rand.Reader, data)
		}
	}
	return nil, keystore.ErrHardwareError
}

type recordingWitness struct {
	mu     sync.Mutex
	veto   error
	spoken []witness.Access
	events []witness.SignEvent
}

func (w *recordingWitness) Speak(_ context.Context, a witness.Access) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.spoken = append(w.spoken, a)
	return w.veto
}

func (w *recordingWitness) Witness(_ context.Context, e witness.SignEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.events = append(w.events, e)
}

func (w *recordingWitness) Events() []witness.SignEvent {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]witness.SignEvent(nil), w.events...)
}

func waitEntered(t *testing.T, entered <-chan string) string {
	t.Helper()
	select {
	case label := <-entered:
		return label
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for store Sign to start")
		return ""
	}
}
