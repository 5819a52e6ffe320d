package coordinator

import (
	"sync"
	"time"

	"github.com/catalogfi/xswap/pkg/swap"
)

// Event is published for every status transition.
type Event struct {
	OrderID    string          `json:"orderId"`
	From       swap.Status     `json:"from"`
	To         swap.Status     `json:"to"`
	ErrorClass swap.ErrorClass `json:"errorClass,omitempty"`
	Error      string          `json:"error,omitempty"`
	TxRef      string          `json:"txRef,omitempty"`
	At         time.Time       `json:"at"`
}

// Broadcaster fans events out to subscribers. A subscriber whose buffer is
// full is dropped.
type Broadcaster struct {
	mu     *sync.Mutex
	buffer int
	subs   map[int]chan Event
	next   int
}

func NewBroadcaster(buffer int) *Broadcaster {
	return &Broadcaster{
		mu:     new(sync.Mutex),
		buffer: buffer,
		subs:   map[int]chan Event{},
	}
}

// Subscribe returns the event channel and a function that unsubscribes. The
// channel is closed on unsubscribe or when the subscriber falls behind.
func (b *Broadcaster) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, b.buffer)
	b.subs[id] = ch
	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

func (b *Broadcaster) Publish(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		select {
		case ch <- event:
		default:
			delete(b.subs, id)
			close(ch)
		}
	}
}

// Close drops every subscriber.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
