// Package bus is the in-process publish/subscribe channel through which
// store mutations and session state changes become observable to UI
// collaborators. Delivery is non-blocking; slow subscribers lose events.
package bus

import (
	"strings"
	"sync"
	"time"
)

// Event is one published occurrence. Topic namespaces in use:
//
//	session.   connection lifecycle (session.state, session.connected)
//	chat.      chat collection changes (chat.list, chat.updated)
//	message.   live message list changes (message.received, message.deleted,
//	           message.edited, message.scroll)
//	store.     cross-cutting store signals (store.notification, store.error,
//	           store.reset)
type Event struct {
	Topic   string
	At      time.Time
	Payload any
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// Bus fans events out to prefix-matched subscribers.
type Bus struct {
	mu   sync.RWMutex
	subs map[int]*subscriber
	next int
}

// New creates an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]*subscriber)}
}

// Publish delivers an event to every subscriber whose prefix matches the
// topic. Subscribers with full buffers are skipped, never blocked on.
func (b *Bus) Publish(topic string, payload any) {
	evt := Event{Topic: topic, At: time.Now(), Payload: payload}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if strings.HasPrefix(topic, sub.prefix) {
			select {
			case sub.ch <- evt:
			default:
			}
		}
	}
}

// Subscribe registers interest in all topics starting with prefix. The
// returned function removes the subscription; the channel is not closed,
// so pending events remain readable.
func (b *Bus) Subscribe(prefix string, buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = &subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}
