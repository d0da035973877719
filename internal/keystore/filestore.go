// ABOUTME: Software key store over OpenSSH key pairs in a directory
// ABOUTME: Stands in for hardware stores; optional authenticator gates signing per key

package keystore

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/ssh"
)

// DefaultSignTimeout bounds how long a FileStore waits for its
// authenticator.
const DefaultSignTimeout = 60 * time.Second

// Authenticator is the external authority that approves a sign with an
// auth-gated key, typically by prompting the user. Returning ErrUserDenied
// rejects the sign.
type Authenticator interface {
	Authenticate(ctx context.Context, id Identity) error
}

// FileStoreConfig configures a FileStore.
type FileStoreConfig struct {
	Name string
	// Dir holds key pairs as <name> and <name>.pub.
	Dir string
	// RequireAuth gates every key in the store.
	RequireAuth bool
	// RequireAuthKeys gates only the listed fingerprints.
	RequireAuthKeys []string
	SignTimeout     time.Duration
	// Authenticator approves gated signs. With none configured, gated
	// signs proceed without a prompt but are still serialized.
	Authenticator Authenticator
	Logger        *slog.Logger
}

type fileKey struct {
	identity Identity
	signer   ssh.Signer
	gated    bool
}

// FileStore is a Store backed by unencrypted OpenSSH private keys.
type FileStore struct {
	cfg    FileStoreConfig
	logger *slog.Logger

	mu   sync.RWMutex
	keys []fileKey
}

// NewFileStore loads the key pairs in cfg.Dir.
func NewFileStore(cfg FileStoreConfig) (*FileStore, error) {
	if cfg.Dir == "" {
		return nil, errors.New("file store directory is required")
	}
	if cfg.Name == "" {
		cfg.Name = filepath.Base(cfg.Dir)
	}
	if cfg.SignTimeout <= 0 {
		cfg.SignTimeout = DefaultSignTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &FileStore{
		cfg:    cfg,
		logger: logger.With("component", "filestore", "store", cfg.Name),
	}
	if err := s.Reload(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Name implements Store.
func (s *FileStore) Name() string {
	return s.cfg.Name
}

// Reload re-reads the key directory.
func (s *FileStore) Reload(_ context.Context) error {
	pubs, err := filepath.Glob(filepath.Join(s.cfg.Dir, "*.pub"))
	if err != nil {
		return fmt.Errorf("scanning %s: %w", s.cfg.Dir, err)
	}
	slices.Sort(pubs)

	keys := make([]fileKey, 0, len(pubs))
	for _, pubPath := range pubs {
		key, err := s.loadPair(pubPath)
		if err != nil {
			s.logger.Warn("skipping key", "path", pubPath, "error", err)
			continue
		}
		keys = append(keys, key)
	}

	s.mu.Lock()
	s.keys = keys
	s.mu.Unlock()

	s.logger.Debug("keys loaded", "dir", s.cfg.Dir, "count", len(keys))
	return nil
}

func (s *FileStore) loadPair(pubPath string) (fileKey, error) {
	pubData, err := os.ReadFile(pubPath)
	if err != nil {
		return fileKey{}, fmt.Errorf("reading public key: %w", err)
	}
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(pubData)
	if err != nil {
		return fileKey{}, fmt.Errorf("parsing public key: %w", err)
	}

	privPath := strings.TrimSuffix(pubPath, ".pub")
	privData, err := os.ReadFile(privPath)
	if err != nil {
		return fileKey{}, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(privData)
	if err != nil {
		var missing *ssh.PassphraseMissingError
		if errors.As(err, &missing) {
			return fileKey{}, errors.New("private key is passphrase protected")
		}
		return fileKey{}, fmt.Errorf("parsing private key: %w", err)
	}
	if string(signer.PublicKey().Marshal()) != string(pub.Marshal()) {
		return fileKey{}, errors.New("public key does not match private key")
	}

	if comment == "" {
		comment = filepath.Base(privPath)
	}
	id := Identity{PublicKey: pub, Label: comment}
	return fileKey{
		identity: id,
		signer:   signer,
		gated:    s.cfg.RequireAuth || slices.Contains(s.cfg.RequireAuthKeys, id.Fingerprint()),
	}, nil
}

// Identities implements Store.
func (s *FileStore) Identities(_ context.Context) ([]Identity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]Identity, len(s.keys))
	for i, k := range s.keys {
		ids[i] = k.identity
	}
	return ids, nil
}

// RequiresAuthentication implements Store.
func (s *FileStore) RequiresAuthentication(id Identity) bool {
	k, ok := s.find(id.Blob())
	return ok && k.gated
}

// Sign implements Store. Gated keys consult the authenticator first, bounded
// by the configured sign timeout.
func (s *FileStore) Sign(ctx context.Context, id Identity, data []byte, flags SignFlags) (*ssh.Signature, error) {
	k, ok := s.find(id.Blob())
	if !ok {
		return nil, fmt.Errorf("%w: %s no longer in store %s", ErrHardwareError, id.Fingerprint(), s.cfg.Name)
	}

	if k.gated && s.cfg.Authenticator != nil {
		authCtx, cancel := context.WithTimeout(ctx, s.cfg.SignTimeout)
		err := s.cfg.Authenticator.Authenticate(authCtx, id)
		cancel()
		if err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, fmt.Errorf("%w: waiting for approval: %w", ErrTimeout, err)
			}
			return nil, err
		}
	}

	sig, err := signWithFlags(k.signer, data, flags)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHardwareError, err)
	}
	return sig, nil
}

func (s *FileStore) find(blob []byte) (fileKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, k := range s.keys {
		if k.identity.Matches(blob) {
			return k, true
		}
	}
	return fileKey{}, false
}

// signWithFlags honors the RSA SHA-2 flags; other key types ignore them.
func signWithFlags(signer ssh.Signer, data []byte, flags SignFlags) (*ssh.Signature, error) {
	if signer.PublicKey().Type() != ssh.KeyAlgoRSA {
		return signer.Sign(rand.Reader, data)
	}

	algo := ""
	switch {
	case flags&FlagRSASHA512 != 0:
		algo = ssh.KeyAlgoRSASHA512
	case flags&FlagRSASHA256 != 0:
		algo = ssh.KeyAlgoRSASHA256
	default:
		return signer.Sign(rand.Reader, data)
	}

	as, ok := signer.(ssh.AlgorithmSigner)
	if !ok {
		return nil, fmt.Errorf("signer for %s cannot select %s", signer.PublicKey().Type(), algo)
	}
	return as.SignWithAlgorithm(rand.Reader, data, algo)
}
