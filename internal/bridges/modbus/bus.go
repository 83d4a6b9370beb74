package modbus

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultBusQueueSize is the per-subscriber buffer used when none is given.
const DefaultBusQueueSize = 64

// UpdateBus fans Snapshots out to any number of subscribers.
//
// Publish never blocks: each subscriber owns a bounded queue and the
// oldest queued snapshot is discarded when it is full.
type UpdateBus struct {
	queueSize int

	mu     sync.RWMutex
	subs   map[*Subscription]struct{}
	closed bool

	onDrop func()
}

// NewUpdateBus creates a bus.
//
// Parameters:
//   - queueSize: Per-subscriber capacity; zero or negative uses DefaultBusQueueSize
//
// Returns:
//   - *UpdateBus: Ready for Subscribe and Publish
func NewUpdateBus(queueSize int) *UpdateBus {
	if queueSize <= 0 {
		queueSize = DefaultBusQueueSize
	}
	return &UpdateBus{
		queueSize: queueSize,
		subs:      make(map[*Subscription]struct{}),
	}
}

// SetDropHook installs a callback run each time a snapshot is discarded
// for a slow subscriber. Must be called before Publish is used.
func (b *UpdateBus) SetDropHook(fn func()) {
	b.onDrop = fn
}

// Subscribe registers a new subscriber. The caller must Close it.
func (b *UpdateBus) Subscribe() *Subscription {
	s := &Subscription{
		bus: b,
		ch:  make(chan Snapshot, b.queueSize),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		s.closed = true
		close(s.ch)
		return s
	}
	b.subs[s] = struct{}{}
	return s
}

// Publish delivers snap to every subscriber without blocking.
func (b *UpdateBus) Publish(snap Snapshot) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for s := range b.subs {
		if s.offer(snap) && b.onDrop != nil {
			b.onDrop()
		}
	}
}

// SubscriberCount returns the number of open subscriptions.
func (b *UpdateBus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close ends every subscription. Further publishes are ignored.
func (b *UpdateBus) Close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.shutdown()
	}
}

func (b *UpdateBus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}

// Subscription is one consumer of an UpdateBus.
type Subscription struct {
	bus *UpdateBus
	ch  chan Snapshot

	mu      sync.Mutex // serialises offer against shutdown
	closed  bool
	dropped atomic.Uint64
}

// Updates returns the delivery channel. It is closed when the
// subscription or the bus is closed.
func (s *Subscription) Updates() <-chan Snapshot {
	return s.ch
}

// Next waits for the next snapshot.
//
// Returns:
//   - Snapshot: The next queued snapshot
//   - bool: false if ctx ended or the subscription closed
func (s *Subscription) Next(ctx context.Context) (Snapshot, bool) {
	select {
	case snap, ok := <-s.ch:
		return snap, ok
	case <-ctx.Done():
		return Snapshot{}, false
	}
}

// Dropped returns how many snapshots were discarded for this subscriber.
func (s *Subscription) Dropped() uint64 {
	return s.dropped.Load()
}

// Close unsubscribes. Safe to call more than once.
func (s *Subscription) Close() {
	s.bus.remove(s)
	s.shutdown()
}

func (s *Subscription) shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

// offer enqueues snap, evicting the oldest entry when full.
// Reports whether a snapshot was dropped.
func (s *Subscription) offer(snap Snapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}

	select {
	case s.ch <- snap:
		return false
	default:
	}

	// Full: discard the oldest, then retry. Only this goroutine sends,
	// so the retry succeeds once a slot has been freed.
	dropped := false
	select {
	case <-s.ch:
		dropped = true
	default:
	}
	select {
	case s.ch <- snap:
	default:
		dropped = true
	}
	if dropped {
		s.dropped.Add(1)
	}
	return dropped
}
