// ABOUTME: Request handler that maps agent requests onto key stores
// ABOUTME: Serializes auth-gated signs and reports every attempt to the witness

package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/ssh"

	"github.com/2389/secret-agent/internal/keystore"
	"github.com/2389/secret-agent/internal/session"
	"github.com/2389/secret-agent/internal/signlock"
	"github.com/2389/secret-agent/internal/wire"
	"github.com/2389/secret-agent/internal/witness"
)

var (
	// ErrUnknownKey indicates no store holds the requested key.
	ErrUnknownKey = errors.New("unknown key")
	// ErrUnsupportedRequest indicates a request type the agent does not serve.
	ErrUnsupportedRequest = errors.New("unsupported request")
)

// Failure reasons reported in wire.Failure. The client only ever sees a bare
// failure message; the reason is for logs and tests.
const (
	ReasonUnknownKey  = "unknown_key"
	ReasonUnsupported = "unsupported_request"
	ReasonVetoed      = "vetoed"
)

// Config holds the agent's collaborators.
type Config struct {
	Stores  *keystore.List
	Locks   *signlock.Set // nil means one global serializer
	Witness witness.Witness
	Logger  *slog.Logger
	// NoReloadOnMiss disables the reload-and-retry on unknown keys.
	NoReloadOnMiss bool
	// MissReloadInterval is the minimum time between reloads triggered by
	// unknown keys. Zero means DefaultMissReloadInterval.
	MissReloadInterval time.Duration
}

// DefaultMissReloadInterval bounds how often unknown keys can force the
// stores to re-read their keys.
const DefaultMissReloadInterval = time.Second

// Agent handles decoded requests.
type Agent struct {
	stores       *keystore.List
	locks        *signlock.Set
	witness      witness.Witness
	logger       *slog.Logger
	reloadOnMiss bool

	missInterval   time.Duration
	missMu         sync.Mutex
	lastMissReload time.Time
}

// New creates an Agent.
func New(cfg Config) *Agent {
	if cfg.Stores == nil {
		cfg.Stores = keystore.NewList(cfg.Logger)
	}
	if cfg.Locks == nil {
		cfg.Locks = signlock.NewSet(signlock.ScopeGlobal)
	}
	if cfg.Witness == nil {
		cfg.Witness = witness.Nop{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MissReloadInterval <= 0 {
		cfg.MissReloadInterval = DefaultMissReloadInterval
	}
	return &Agent{
		stores:       cfg.Stores,
		locks:        cfg.Locks,
		witness:      cfg.Witness,
		logger:       cfg.Logger.With("component", "agent"),
		reloadOnMiss: !cfg.NoReloadOnMiss,
		missInterval: cfg.MissReloadInterval,
	}
}

// Handle answers one request. It always returns a well-formed response.
func (a *Agent) Handle(ctx context.Context, req wire.Request, provenance session.Provenance) wire.Response {
	switch r := req.(type) {
	case wire.ListIdentities:
		return a.listIdentities(ctx)
	case wire.SignRequest:
		return a.sign(ctx, r, provenance)
	default:
		a.logger.Debug("unsupported request",
			"session_id", SessionIDFromContext(ctx),
			"type", wire.TypeName(req.Type()),
			"error", ErrUnsupportedRequest,
		)
		return wire.Failure{Reason: ReasonUnsupported}
	}
}

func (a *Agent) listIdentities(ctx context.Context) wire.Response {
	owned := a.stores.AllIdentities(ctx)
	ids := make([]wire.Identity, 0, len(owned))
	for _, o := range owned {
		ids = append(ids, wire.Identity{KeyBlob: o.Blob(), Comment: o.Label})
	}
	return wire.IdentityList{Identities: ids}
}

func (a *Agent) sign(ctx context.Context, req wire.SignRequest, provenance session.Provenance) wire.Response {
	sessionID := SessionIDFromContext(ctx)

	owned, err := a.lookup(ctx, req.KeyBlob)
	if err != nil {
		a.logger.Info("sign for unknown key",
			"session_id", sessionID,
			"client", provenance.String(),
			"error", err,
		)
		return wire.Failure{Reason: ReasonUnknownKey}
	}

	event := witness.SignEvent{
		ID: uuid.New().String(),
		Access: witness.Access{
			SessionID:  sessionID,
			Identity:   owned.Identity,
			Store:      owned.Store.Name(),
			Provenance: provenance,
		},
		Started: time.Now(),
	}

	if err := a.witness.Speak(ctx, event.Access); err != nil {
		if !errors.Is(err, witness.ErrVetoed) {
			err = fmt.Errorf("%w: %w", witness.ErrVetoed, err)
		}
		event.Err = err
		a.witness.Witness(ctx, event)
		return wire.Failure{Reason: ReasonVetoed}
	}

	// The store call outlives the client if it has to.
	signCtx := context.WithoutCancel(ctx)
	op := func() (*ssh.Signature, error) {
		return callStore(signCtx, owned, req.Data, keystore.SignFlags(req.Flags))
	}

	var sig *ssh.Signature
	if owned.Store.RequiresAuthentication(owned.Identity) {
		event.Serialized = true
		sig, err = signlock.WithLock(a.locks.For(owned.Fingerprint()), op)
	} else {
		sig, err = op()
	}
	event.Duration = time.Since(event.Started)
	event.Err = err
	a.witness.Witness(ctx, event)

	if err != nil {
		return wire.Failure{Reason: string(keystore.Classify(err))}
	}
	return wire.SignatureResponse{Signature: ssh.Marshal(sig)}
}

// lookup resolves blob to its store, reloading the stores once on a miss.
func (a *Agent) lookup(ctx context.Context, blob []byte) (keystore.Owned, error) {
	owned, err := a.stores.Lookup(ctx, blob)
	if errors.Is(err, keystore.ErrNotFound) && a.reloadOnMiss && a.claimMissReload() {
		if rerr := a.stores.Reload(ctx); rerr != nil {
			a.logger.Warn("reload after unknown key failed", "error", rerr)
		}
		owned, err = a.stores.Lookup(ctx, blob)
	}
	if err != nil {
		return keystore.Owned{}, fmt.Errorf("%w: %w", ErrUnknownKey, err)
	}
	return owned, nil
}

// claimMissReload reports whether an unknown key may reload the stores now.
func (a *Agent) claimMissReload() bool {
	a.missMu.Lock()
	defer a.missMu.Unlock()

	now := time.Now()
	if !a.lastMissReload.IsZero() && now.Sub(a.lastMissReload) < a.missInterval {
		return false
	}
	a.lastMissReload = now
	return true
}

// callStore invokes the store, turning a panic into a hardware error so the
// caller still gets a response.
func callStore(ctx context.Context, owned keystore.Owned, data []byte, flags keystore.SignFlags) (sig *ssh.Signature, err error) {
	defer func() {
		if r := recover(); r != nil {
			sig = nil
			err = fmt.Errorf("%w: store %s panicked: %v", keystore.ErrHardwareError, owned.Store.Name(), r)
		}
	}()

	sig, err = owned.Store.Sign(ctx, owned.Identity, data, flags)
	if err == nil && sig == nil {
		err = fmt.Errorf("%w: store %s returned no signature", keystore.ErrHardwareError, owned.Store.Name())
	}
	return sig, err
}
