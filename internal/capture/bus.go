// Package capture produces timestamped frames of the locked region and
// fans them out to stream subscribers without blocking the producer.
package capture

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"github.com/seealln/seealln/internal/domain"
)

// Subscription is one stream client's view of the frame fan-out.
type Subscription struct {
	ID string
	C  <-chan *domain.Frame

	cancel func()
}

// Cancel detaches the subscriber from the bus.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
	}
}

// SubscriberStats tracks delivery counters for a single subscriber.
type SubscriberStats struct {
	Sent    uint64
	Dropped uint64
}

// BusStats is a snapshot of bus activity.
type BusStats struct {
	Published   uint64
	Subscribers map[string]SubscriberStats
}

type subscriber struct {
	ch      chan *domain.Frame
	sent    atomic.Uint64
	dropped atomic.Uint64
}

// Bus distributes frames to bounded per-subscriber buffers. On
// overflow the oldest buffered frame is dropped so the stream degrades
// gracefully instead of stalling capture.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	closed      bool

	published atomic.Uint64
}

// NewBus creates an empty fan-out bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string]*subscriber)}
}

// Subscribe registers a new consumer with the given buffer depth.
func (b *Bus) Subscribe(buffer int) *Subscription {
	if buffer < 1 {
		buffer = 1
	}
	id := uuid.NewString()
	sub := &subscriber{ch: make(chan *domain.Frame, buffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return &Subscription{ID: id, C: sub.ch, cancel: func() {}}
	}
	b.subscribers[id] = sub
	b.mu.Unlock()

	return &Subscription{
		ID: id,
		C:  sub.ch,
		cancel: func() { b.unsubscribe(id) },
	}
}

func (b *Bus) unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subscribers[id]; ok {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}

// Publish delivers a frame to every subscriber without blocking. A
// full buffer sheds its oldest frame first; if the buffer is still
// full (consumer racing), the new frame is counted as dropped.
func (b *Bus) Publish(frame *domain.Frame) {
	b.published.Add(1)

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}

	for _, sub := range b.subscribers {
		select {
		case sub.ch <- frame:
			sub.sent.Add(1)
			continue
		default:
		}

		// Buffer full: drop the oldest, then retry once.
		select {
		case <-sub.ch:
			sub.dropped.Add(1)
		default:
		}
		select {
		case sub.ch <- frame:
			sub.sent.Add(1)
		default:
			sub.dropped.Add(1)
		}
	}
}

// Stats returns a snapshot of delivery counters.
func (b *Bus) Stats() BusStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	stats := BusStats{
		Published:   b.published.Load(),
		Subscribers: make(map[string]SubscriberStats, len(b.subscribers)),
	}
	for id, sub := range b.subscribers {
		stats.Subscribers[id] = SubscriberStats{
			Sent:    sub.sent.Load(),
			Dropped: sub.dropped.Load(),
		}
	}
	return stats
}

// Close detaches all subscribers and rejects future ones.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, sub := range b.subscribers {
		delete(b.subscribers, id)
		close(sub.ch)
	}
}
