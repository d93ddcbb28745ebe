// Package notify delivers swap outcome events to interested parties.
// Delivery is best-effort and fully decoupled: a failed notification never
// affects a completed swap.
package notify

import (
	"context"
	"sync"

	"github.com/vadiminshakov/obmen/internal/domain"
)

// Event is emitted once per settled swap attempt, succeeded or rejected.
type Event struct {
	UserID  string            `json:"user_id"`
	Outcome domain.Outcome    `json:"outcome"`
	Record  domain.SwapRecord `json:"record"`
}

// Notifier receives swap events.
type Notifier interface {
	SwapExecuted(ctx context.Context, event Event)
}

// Multi fans an event out to several notifiers.
type Multi []Notifier

// SwapExecuted delivers the event to every notifier.
func (m Multi) SwapExecuted(ctx context.Context, event Event) {
	for _, n := range m {
		n.SwapExecuted(ctx, event)
	}
}

// Broadcaster fans out events to subscribers via buffered channels, dropping
// on slow consumers. It feeds the web layer's event stream.
type Broadcaster struct {
	mu     sync.RWMutex
	subs   map[chan Event]struct{}
	buffer int
}

// NewBroadcaster creates a broadcaster with the given per-subscriber buffer.
func NewBroadcaster(buffer int) *Broadcaster {
	if buffer < 1 {
		buffer = 64
	}
	return &Broadcaster{
		subs:   make(map[chan Event]struct{}),
		buffer: buffer,
	}
}

// SwapExecuted publishes the event to all subscribers.
func (b *Broadcaster) SwapExecuted(_ context.Context, event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- event:
		default:
			// drop slow consumer
		}
	}
}

// Subscribe returns a channel that receives events until Unsubscribe is called.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes the channel and closes it.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}
