// ABOUTME: Size-bounded suppression window keyed by string
// ABOUTME: Allow reports whether a key may fire again; expired keys are pruned lazily

package dedupe

import (
	"container/list"
	"sync"
	"time"
)

type entry struct {
	key  string
	seen time.Time
}

// Window remembers keys for a fixed duration. Entries are kept in the order
// they last fired, so the oldest is always at the front.
type Window struct {
	mu      sync.Mutex
	keys    map[string]*list.Element
	order   *list.List
	ttl     time.Duration
	maxSize int
	now     func() time.Time
}

// Option configures a Window.
type Option func(*Window)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(w *Window) { w.now = now }
}

// NewWindow creates a window that suppresses a key for ttl after it fires
// and tracks at most maxSize keys.
func NewWindow(ttl time.Duration, maxSize int, opts ...Option) *Window {
	if maxSize <= 0 {
		maxSize = 1
	}
	w := &Window{
		keys:    make(map[string]*list.Element),
		order:   list.New(),
		ttl:     ttl,
		maxSize: maxSize,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Allow reports whether key may fire now. When it returns true the key is
// suppressed for the next ttl. A zero ttl allows everything.
func (w *Window) Allow(key string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	w.pruneLocked(now)

	if elem, ok := w.keys[key]; ok {
		if now.Sub(elem.Value.(*entry).seen) < w.ttl {
			return false
		}
		w.order.Remove(elem)
		delete(w.keys, key)
	}

	if w.ttl <= 0 {
		return true
	}

	if w.order.Len() >= w.maxSize {
		w.removeLocked(w.order.Front())
	}
	w.keys[key] = w.order.PushBack(&entry{key: key, seen: now})
	return true
}

// Forget lets key fire again immediately.
func (w *Window) Forget(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if elem, ok := w.keys[key]; ok {
		w.removeLocked(elem)
	}
}

// Len returns the number of keys currently suppressed.
func (w *Window) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pruneLocked(w.now())
	return w.order.Len()
}

func (w *Window) pruneLocked(now time.Time) {
	for front := w.order.Front(); front != nil; front = w.order.Front() {
		if now.Sub(front.Value.(*entry).seen) < w.ttl {
			return
		}
		w.removeLocked(front)
	}
}

func (w *Window) removeLocked(elem *list.Element) {
	w.order.Remove(elem)
	delete(w.keys, elem.Value.(*entry).key)
}
