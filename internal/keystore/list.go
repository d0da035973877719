// ABOUTME: Ordered list of key stores searched in priority order
// ABOUTME: Concatenates identity listings and resolves key blobs to their owning store

package keystore

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"
)

// List is an ordered set of stores. The first store has the highest
// priority.
type List struct {
	stores []Store
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[string]subscriber
}

// NewList creates a List over stores in priority order. Pass nil logger for
// default.
func NewList(logger *slog.Logger, stores ...Store) *List {
	if logger == nil {
		logger = slog.Default()
	}
	return &List{
		stores:      stores,
		logger:      logger.With("component", "keystore"),
		subscribers: make(map[string]subscriber),
	}
}

// Stores returns the stores in priority order.
func (l *List) Stores() []Store {
	out := make([]Store, len(l.stores))
	copy(out, l.stores)
	return out
}

// Owned pairs an identity with the store that holds it.
type Owned struct {
	Identity
	Store Store
}

// AllIdentities lists every store's identities, store by store. A store
// that fails to list is logged and skipped so one unplugged token does not
// hide the others.
func (l *List) AllIdentities(ctx context.Context) []Owned {
	var out []Owned
	for _, s := range l.stores {
		ids, err := s.Identities(ctx)
		if err != nil {
			l.logger.Warn("listing identities failed",
				"store", s.Name(),
				"error", err,
			)
			continue
		}
		for _, id := range ids {
			out = append(out, Owned{Identity: id, Store: s})
		}
	}
	return out
}

// Lookup finds the first store, in priority order, that lists blob.
// Returns ErrNotFound if none does.
func (l *List) Lookup(ctx context.Context, blob []byte) (Owned, error) {
	for _, s := range l.stores {
		ids, err := s.Identities(ctx)
		if err != nil {
			l.logger.Warn("listing identities failed",
				"store", s.Name(),
				"error", err,
			)
			continue
		}
		for _, id := range ids {
			if id.Matches(blob) {
				return Owned{Identity: id, Store: s}, nil
			}
		}
	}
	return Owned{}, ErrNotFound
}

// Reload re-reads every store that supports it and notifies subscribers
// when the identities on offer changed. Errors from individual stores are
// collected; the remaining stores are still reloaded.
func (l *List) Reload(ctx context.Context) error {
	var (
		reloaded []string
		firstErr error
	)
	before := l.snapshot(ctx)
	for _, s := range l.stores {
		r, ok := s.(Reloader)
		if !ok {
			continue
		}
		if err := r.Reload(ctx); err != nil {
			l.logger.Warn("reloading store failed", "store", s.Name(), "error", err)
			if firstErr == nil {
				firstErr = fmt.Errorf("reloading %s: %w", s.Name(), err)
			}
			continue
		}
		reloaded = append(reloaded, s.Name())
	}

	if len(reloaded) == 0 {
		return firstErr
	}

	after := l.snapshot(ctx)
	if slices.Equal(before, after) {
		l.logger.Debug("stores reloaded without changes", "stores", reloaded)
		return firstErr
	}

	event := ReloadEvent{
		Stores:     reloaded,
		Identities: len(after),
		At:         time.Now(),
	}
	l.logger.Info("stores reloaded", "stores", reloaded, "identities", event.Identities)
	l.publish(event)
	return firstErr
}

// snapshot lists what AllIdentities would offer as comparable strings, in
// priority order.
func (l *List) snapshot(ctx context.Context) []string {
	owned := l.AllIdentities(ctx)
	out := make([]string, 0, len(owned))
	for _, o := range owned {
		out = append(out, o.Store.Name()+"\x00"+o.Fingerprint()+"\x00"+o.Label)
	}
	return out
}
