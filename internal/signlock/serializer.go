// ABOUTME: FIFO mutex that hands ownership directly to the oldest waiter
// ABOUTME: Serializes signing operations that would trigger interactive authentication

package signlock

import (
	"container/list"
	"sync"
)

// Serializer is a FIFO mutex. The zero value is not usable; call New.
type Serializer struct {
	mu      sync.Mutex
	locked  bool
	waiters *list.List // of chan struct{}, oldest at front
}

// New returns an unlocked Serializer.
func New() *Serializer {
	return &Serializer{waiters: list.New()}
}

// WithLock runs op while holding s and returns its results. The lock is
// released on every exit path, including a panic in op.
func WithLock[T any](s *Serializer, op func() (T, error)) (T, error) {
	s.acquire()
	defer s.release()
	return op()
}

// Do is WithLock for operations that only return an error.
func (s *Serializer) Do(op func() error) error {
	s.acquire()
	defer s.release()
	return op()
}

// Locked reports whether someone holds the lock.
func (s *Serializer) Locked() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.locked
}

// Waiting reports how many callers are queued behind the holder.
func (s *Serializer) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waiters.Len()
}

func (s *Serializer) acquire() {
	s.mu.Lock()
	if !s.locked {
		s.locked = true
		s.mu.Unlock()
		return
	}
	ready := make(chan struct{})
	s.waiters.PushBack(ready)
	s.mu.Unlock()

	<-ready
}

func (s *Serializer) release() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.locked {
		panic("signlock: release of unlocked serializer")
	}

	front := s.waiters.Front()
	if front == nil {
		s.locked = false
		return
	}
	s.waiters.Remove(front)
	// Ownership moves to the waiter; locked stays true.
	close(front.Value.(chan struct{}))
}
