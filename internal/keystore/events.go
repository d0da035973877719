// ABOUTME: In-memory fan-out of store reload events to subscribers
// ABOUTME: Lets collaborators that mirror public keys refresh when stores change

package keystore

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// subscriberBufferSize is the channel buffer for each subscriber. Reloads
// are rare; a subscriber that falls this far behind loses events.
const subscriberBufferSize = 8

// ReloadEvent reports that one or more stores re-read their keys.
type ReloadEvent struct {
	Stores     []string
	Identities int
	At         time.Time
}

type subscriber struct {
	ch   chan ReloadEvent
	done chan struct{}
}

// Subscribe registers for reload events. The subscription ends, and the
// channel closes, when ctx is cancelled or Unsubscribe is called.
func (l *List) Subscribe(ctx context.Context) (<-chan ReloadEvent, string) {
	subID := uuid.New().String()
	sub := subscriber{
		ch:   make(chan ReloadEvent, subscriberBufferSize),
		done: make(chan struct{}),
	}

	l.mu.Lock()
	l.subscribers[subID] = sub
	l.mu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
			l.Unsubscribe(subID)
		case <-sub.done:
		}
	}()

	return sub.ch, subID
}

// Unsubscribe removes a subscription and closes its channel.
func (l *List) Unsubscribe(subID string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	sub, ok := l.subscribers[subID]
	if !ok {
		return
	}
	delete(l.subscribers, subID)
	close(sub.done)
	close(sub.ch)
}

// publish delivers event to every subscriber without blocking.
func (l *List) publish(event ReloadEvent) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for id, sub := range l.subscribers {
		select {
		case sub.ch <- event:
		default:
			l.logger.Debug("dropped reload event for slow subscriber", "sub_id", id)
		}
	}
}
