// ABOUTME: Hands out serializers by identity key, shared globally or one per identity
// ABOUTME: Global scope reproduces one process-wide serializer for every key

package signlock

import (
	"fmt"
	"sync"
)

// Scope selects how widely a Set shares serializers.
type Scope string

const (
	// ScopeGlobal shares one serializer across all identities.
	ScopeGlobal Scope = "global"
	// ScopeIdentity gives each identity its own serializer.
	ScopeIdentity Scope = "identity"
)

// ParseScope converts a config value into a Scope. Empty means global.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeGlobal:
		return ScopeGlobal, nil
	case ScopeIdentity:
		return ScopeIdentity, nil
	default:
		return "", fmt.Errorf("unknown serialization scope %q (want %q or %q)", s, ScopeGlobal, ScopeIdentity)
	}
}

// Set maps identity keys to serializers according to its scope.
type Set struct {
	scope  Scope
	global *Serializer

	mu    sync.Mutex
	byKey map[string]*Serializer
}

// NewSet creates a Set. Unknown scopes behave as ScopeGlobal.
func NewSet(scope Scope) *Set {
	if scope != ScopeIdentity {
		scope = ScopeGlobal
	}
	return &Set{
		scope:  scope,
		global: New(),
		byKey:  make(map[string]*Serializer),
	}
}

// Scope returns the scope the set was built with.
func (s *Set) Scope() Scope {
	return s.scope
}

// For returns the serializer guarding key, creating it on first use.
func (s *Set) For(key string) *Serializer {
	if s.scope == ScopeGlobal {
		return s.global
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ser, ok := s.byKey[key]
	if !ok {
		ser = New()
		s.byKey[key] = ser
	}
	return ser
}
