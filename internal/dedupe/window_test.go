// ABOUTME: Tests for the suppression window used to collapse repeated notifications
// ABOUTME: Drives time with a fake clock; covers expiry, eviction, Forget and concurrency

package dedupe

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestWindow(ttl time.Duration, size int) (*Window, *fakeClock) {
	clock := &fakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	return NewWindow(ttl, size, WithClock(clock.Now)), clock
}

func TestWindow_SuppressesWithinTTL(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)

	assert.True(t, w.Allow("fp|ssh"))
	assert.False(t, w.Allow("fp|ssh"))

	clock.Advance(59 * time.Second)
	assert.False(t, w.Allow("fp|ssh"))

	clock.Advance(time.Second)
	assert.True(t, w.Allow("fp|ssh"), "key fires again once the window passes")
	assert.False(t, w.Allow("fp|ssh"))
}

func TestWindow_KeysAreIndependent(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 10)

	assert.True(t, w.Allow("a"))
	assert.True(t, w.Allow("b"))
	assert.False(t, w.Allow("a"))
}

func TestWindow_EvictsOldestAtCapacity(t *testing.T) {
	w, clock := newTestWindow(time.Hour, 2)

	assert.True(t, w.Allow("a"))
	clock.Advance(time.Second)
	assert.True(t, w.Allow("b"))
	clock.Advance(time.Second)
	assert.True(t, w.Allow("c"))

	assert.Equal(t, 2, w.Len())
	assert.True(t, w.Allow("a"), "oldest key was evicted")
	assert.False(t, w.Allow("c"))
}

func TestWindow_PrunesExpired(t *testing.T) {
	w, clock := newTestWindow(time.Minute, 10)

	w.Allow("a")
	w.Allow("b")
	assert.Equal(t, 2, w.Len())

	clock.Advance(2 * time.Minute)
	assert.Equal(t, 0, w.Len())
}

func TestWindow_Forget(t *testing.T) {
	w, _ := newTestWindow(time.Minute, 10)

	w.Allow("a")
	w.Forget("a")
	w.Forget("never-seen")
	assert.True(t, w.Allow("a"))
}

func TestWindow_ZeroTTLAllowsEverything(t *testing.T) {
	w, _ := newTestWindow(0, 10)

	assert.True(t, w.Allow("a"))
	assert.True(t, w.Allow("a"))
	assert.Equal(t, 0, w.Len())
}

func TestWindow_ConcurrentAllowFiresOnce(t *testing.T) {
	w := NewWindow(time.Minute, 100)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		allowed int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if w.Allow("same") {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, allowed)
}

func TestWindow_ManyKeysStayBounded(t *testing.T) {
	w := NewWindow(time.Minute, 16)
	for i := range 100 {
		w.Allow(fmt.Sprintf("key-%d", i))
	}
	assert.Equal(t, 16, w.Len())
}
