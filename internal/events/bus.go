package events

import "sync"

// defaultBuffer is the per-subscriber channel capacity. A slow subscriber
// drops events once its buffer fills rather than stalling the publisher.
const defaultBuffer = 256

// Bus is a broadcast fan-out of Events. Any number of observers subscribe
// independently; each receives every event published after it subscribed.
// Publishing with zero subscribers is a no-op. Safe for concurrent use.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
	closed bool

	// debug, when set, receives every event including assistant_text, which
	// is never delivered to ordinary subscribers.
	debug Sink
}

// Sink receives a full-fidelity copy of every published event.
type Sink interface {
	Record(e Event)
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// SetDebugSink attaches a full-fidelity sink. Pass nil to detach.
func (b *Bus) SetDebugSink(s Sink) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.debug = s
}

// Subscribe registers a new observer. The returned cancel func must be
// called when the observer is done; after cancel the channel is closed.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	ch := make(chan Event, defaultBuffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every current subscriber. Events are dropped
// for subscribers whose buffers are full. assistant_text events go only to
// the debug sink.
func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.debug != nil {
		b.debug.Record(e)
	}
	if e.Type == TypeAssistantText {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// SubscriberCount reports the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close closes every subscriber channel. Publish after Close is a no-op for
// subscribers but still reaches the debug sink.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
