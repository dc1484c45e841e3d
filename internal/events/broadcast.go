package events

import (
	"context"
	"sync"
)

// Broadcaster fans events out to in-process subscribers of a target.
// A subscriber that falls behind misses events rather than blocking publishers.
type Broadcaster struct {
	buffer int

	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	closed bool
}

type subscription struct {
	ch chan Event
}

var _ Sink = (*Broadcaster)(nil)

func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 1
	}
	return &Broadcaster{buffer: buffer, subs: make(map[string]map[*subscription]struct{})}
}

// Subscribe returns a channel of events for targetID and a cancel func that
// unsubscribes and closes the channel.
func (b *Broadcaster) Subscribe(targetID string) (<-chan Event, func()) {
	sub := &subscription{ch: make(chan Event, b.buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	if b.subs[targetID] == nil {
		b.subs[targetID] = make(map[*subscription]struct{})
	}
	b.subs[targetID][sub] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return sub.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if _, ok := b.subs[targetID][sub]; !ok {
				return
			}
			delete(b.subs[targetID], sub)
			if len(b.subs[targetID]) == 0 {
				delete(b.subs, targetID)
			}
			close(sub.ch)
		})
	}
}

// Subscribers is the number of live subscriptions to targetID.
func (b *Broadcaster) Subscribers(targetID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[targetID])
}

func (b *Broadcaster) Publish(_ context.Context, e Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs[e.TargetID] {
		select {
		case sub.ch <- e:
		default:
		}
	}
	return nil
}

// Close ends every subscription.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for target, set := range b.subs {
		for sub := range set {
			close(sub.ch)
		}
		delete(b.subs, target)
	}
}
