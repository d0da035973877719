// ABOUTME: Tests for the ordered store list and reload event fan-out
// ABOUTME: Covers priority lookup, concatenation order, failing stores and subscriptions

package keystore

import (
	"context"
	"errors"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

type staticStore struct {
	name    string
	ids     []Identity
	listErr error
	reloads int
}

func (s *staticStore) Name() string { return s.name }

func (s *staticStore) Identities(context.Context) ([]Identity, error) {
	return s.ids, s.listErr
}

func (s *staticStore) Sign(context.Context, Identity, []byte, SignFlags) (*ssh.Signature, error) {
	return nil, errors.New("not implemented")
}

func (s *staticStore) RequiresAuthentication(Identity) bool { return false }

type reloadingStore struct {
	staticStore
	err  error
	next []Identity
}

func (s *reloadingStore) Reload(context.Context) error {
	s.reloads++
	if s.next != nil {
		s.ids, s.next = s.next, nil
	}
	return s.err
}

func newIdentity(t *testing.T, label string) Identity {
	t.Helper()
	pub, err := ssh.NewPublicKey(newEd25519(t).Public())
	require.NoError(t, err)
	return Identity{PublicKey: pub, Label: label}
}

func TestList_AllIdentitiesInPriorityOrder(t *testing.T) {
	a1, a2, b1 := newIdentity(t, "a1"), newIdentity(t, "a2"), newIdentity(t, "b1")
	list := NewList(nil,
		&staticStore{name: "enclave", ids: []Identity{a1, a2}},
		&staticStore{name: "smartcard", ids: []Identity{b1}},
	)

	all := list.AllIdentities(t.Context())

	require.Len(t, all, 3)
	assert.Equal(t, []string{"a1", "a2", "b1"}, []string{all[0].Label, all[1].Label, all[2].Label})
	assert.Equal(t, "smartcard", all[2].Store.Name())
}

func TestList_FailingStoreIsSkipped(t *testing.T) {
	b1 := newIdentity(t, "b1")
	list := NewList(nil,
		&staticStore{name: "unplugged", listErr: errors.New("no reader")},
		&staticStore{name: "smartcard", ids: []Identity{b1}},
	)

	all := list.AllIdentities(t.Context())
	require.Len(t, all, 1)
	assert.Equal(t, "b1", all[0].Label)

	owned, err := list.Lookup(t.Context(), b1.Blob())
	require.NoError(t, err)
	assert.Equal(t, "smartcard", owned.Store.Name())
}

func TestList_LookupFirstStoreWins(t *testing.T) {
	shared := newIdentity(t, "shared")
	list := NewList(nil,
		&staticStore{name: "first", ids: []Identity{shared}},
		&staticStore{name: "second", ids: []Identity{shared}},
	)

	owned, err := list.Lookup(t.Context(), shared.Blob())
	require.NoError(t, err)
	assert.Equal(t, "first", owned.Store.Name())
}

func TestList_LookupUnknown(t *testing.T) {
	list := NewList(nil, &staticStore{name: "empty"})

	_, err := list.Lookup(t.Context(), newIdentity(t, "x").Blob())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestList_ReloadPublishesEvent(t *testing.T) {
	k1, k2 := newIdentity(t, "k1"), newIdentity(t, "k2")
	r := &reloadingStore{staticStore: staticStore{name: "dev", ids: []Identity{k1}}, next: []Identity{k1, k2}}
	list := NewList(nil, &staticStore{name: "static"}, r)

	events, _ := list.Subscribe(t.Context())

	require.NoError(t, list.Reload(t.Context()))
	assert.Equal(t, 1, r.reloads)

	select {
	case ev := <-events:
		assert.Equal(t, []string{"dev"}, ev.Stores)
		assert.Equal(t, 2, ev.Identities)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for reload event")
	}
}

func TestList_ReloadWithoutChangeIsSilent(t *testing.T) {
	r := &reloadingStore{staticStore: staticStore{name: "dev", ids: []Identity{newIdentity(t, "k")}}}
	list := NewList(nil, r)
	events, _ := list.Subscribe(t.Context())

	for range 3 {
		require.NoError(t, list.Reload(t.Context()))
	}
	assert.Equal(t, 3, r.reloads)

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestList_ReloadNoticesRemovedKey(t *testing.T) {
	k := newIdentity(t, "k")
	r := &reloadingStore{staticStore: staticStore{name: "dev", ids: []Identity{k}}, next: []Identity{}}
	list := NewList(nil, r)
	events, _ := list.Subscribe(t.Context())

	require.NoError(t, list.Reload(t.Context()))

	select {
	case ev := <-events:
		assert.Equal(t, 0, ev.Identities)
	case <-time.After(time.Second):
		t.Fatal("unplugging a key should publish an event")
	}
}

func TestList_ReloadWithoutReloadersIsSilent(t *testing.T) {
	list := NewList(nil, &staticStore{name: "static"})
	events, _ := list.Subscribe(t.Context())

	require.NoError(t, list.Reload(t.Context()))

	select {
	case ev := <-events:
		t.Fatalf("unexpected event %+v", ev)
	default:
	}
}

func TestList_ReloadReportsStoreErrors(t *testing.T) {
	boom := errors.New("token busy")
	bad := &reloadingStore{staticStore: staticStore{name: "bad"}, err: boom}
	good := &reloadingStore{staticStore: staticStore{name: "good"}}
	list := NewList(nil, bad, good)

	err := list.Reload(t.Context())
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, good.reloads, "remaining stores still reload")
}

func TestList_UnsubscribeOnContextCancel(t *testing.T) {
	list := NewList(nil)
	ctx, cancel := context.WithCancel(t.Context())

	events, _ := list.Subscribe(ctx)
	cancel()

	select {
	case _, ok := <-events:
		assert.False(t, ok, "channel should be closed")
	case <-time.After(time.Second):
		t.Fatal("subscription not cleaned up")
	}
}

func TestList_UnsubscribeReleasesWatcher(t *testing.T) {
	list := NewList(nil)
	baseline := runtime.NumGoroutine()

	ids := make([]string, 0, 20)
	for range 20 {
		_, id := list.Subscribe(context.Background())
		ids = append(ids, id)
	}
	for _, id := range ids {
		list.Unsubscribe(id)
	}

	assert.Eventually(t, func() bool {
		return runtime.NumGoroutine() <= baseline
	}, time.Second, 10*time.Millisecond, "watcher goroutines outlived Unsubscribe")
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ReasonUserDenied, Classify(ErrUserDenied))
	assert.Equal(t, ReasonTimeout, Classify(context.DeadlineExceeded))
	assert.Equal(t, ReasonHardwareError, Classify(errors.New("card removed")))
}
