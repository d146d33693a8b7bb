// Copyright (c) HAL Core Contributors
// SPDX-License-Identifier: BUSL-1.1

package event

import (
	"sync"
	"sync/atomic"
	"time"
)

// DeliveryMode selects how a subscriber receives matched events, per
// §4.4's Sync/Async split.
type DeliveryMode uint8

const (
	// Sync runs the subscriber's handler on the dispatch goroutine; the
	// handler must not re-enter the bus (Publish/Subscribe), per §4.4.
	Sync DeliveryMode = iota
	// Async enqueues matched events to the subscriber's own listener,
	// drained by a dedicated per-subscriber goroutine this package owns.
	Async
)

// SubscribeOptions configures one subscription.
type SubscribeOptions struct {
	Filter       Filter
	Mode         DeliveryMode
	Handler      func([]Event)
	BatchSize    int           // 0 disables batching: every matched event is its own batch
	BatchTimeout time.Duration // max wait before flushing a partial batch
}

type subscription struct {
	id      uint64
	opts    SubscribeOptions
	sources *sourceIndex
	mu      sync.Mutex
	pending []Event
	timer   *time.Timer
}

// matches reports whether e satisfies the subscription's filter, checking
// the Sources allow-list through the subscription's own radix-backed index
// rather than re-scanning opts.Filter.Sources on every event.
func (sub *subscription) matches(e Event) bool {
	return sub.opts.Filter.matchesExceptSources(e) && sub.sources.contains(e.Source)
}

// Bus is the L2 Event System façade: a bounded ring queue feeding
// filtered, optionally batched delivery to Sync and Async subscribers.
type Bus struct {
	ring        *ring
	now         func() int64
	mu          sync.Mutex
	subs        map[uint64]*subscription
	nextSubID   uint64
	nextEventID uint64
	bcast       *broadcaster
	wake        chan struct{}
	stop        chan struct{}
	stopped     bool
}

// Option configures a Bus at construction.
type Option func(*Bus)

// WithCapacity overrides the ring's default capacity of 2048.
func WithCapacity(n int) Option {
	return func(b *Bus) { b.ring = newRing(n, b.ring.policy) }
}

// WithOverflowPolicy selects DropNewest (default) or DropOldest.
func WithOverflowPolicy(p OverflowPolicy) Option {
	return func(b *Bus) { b.ring.policy = p }
}

// WithClock overrides the nanosecond clock used to timestamp events;
// defaults to time.Now().UnixNano. Tests inject a deterministic clock.
func WithClock(now func() int64) Option {
	return func(b *Bus) { b.now = now }
}

// NewBus constructs a Bus with a default capacity-2048, drop-newest ring.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		ring: newRing(defaultCapacity, DropNewest),
		now:   func() int64 { return time.Now().UnixNano() },
		subs:  make(map[uint64]*subscription),
		bcast: newBroadcaster(),
		wake:  make(chan struct{}, 1),
		stop:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(b)
	}
	b.ring.onDropEdge = b.publishDropEdgeWarning
	return b
}

// Publish enqueues e, stamping ID and TimestampNS if unset. Multiple
// producer goroutines may call Publish concurrently.
func (b *Bus) Publish(e Event) {
	if e.ID == 0 {
		e.ID = atomic.AddUint64(&b.nextEventID, 1)
	}
	if e.TimestampNS == 0 {
		e.TimestampNS = b.now()
	}
	b.ring.enqueue(e)
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// publishDropEdgeWarning delivers the rising-edge "events_dropped became
// nonzero" notice directly to matching subscribers instead of enqueuing it
// on the ring: the ring is by construction full at the moment this fires,
// so there is no slot for the notice to occupy.
func (b *Bus) publishDropEdgeWarning() {
	e := Event{
		ID:          atomic.AddUint64(&b.nextEventID, 1),
		TimestampNS: b.now(),
		Category:    CategoryPerformance,
		Severity:    SeverityWarning,
		Source:      "event-bus",
		Kind:        "EventsDropped",
	}
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()
	for _, sub := range subs {
		if sub.matches(e) {
			b.dispatch(sub, e)
		}
	}
}

// Subscribe registers a new subscriber and returns its id (used to
// Unsubscribe). Async subscribers get a dedicated goroutine draining
// their listener and invoking Handler per delivered batch.
func (b *Bus) Subscribe(opts SubscribeOptions) uint64 {
	b.mu.Lock()
	id := b.nextSubID + 1
	b.nextSubID = id
	sub := &subscription{id: id, opts: opts, sources: newSourceIndex(opts.Filter.Sources)}
	b.subs[id] = sub
	b.mu.Unlock()

	if opts.Mode == Async {
		l := b.bcast.add(id)
		go func() {
			for batch := range l.Ch() {
				opts.Handler(batch)
			}
		}()
	}
	return id
}

// Unsubscribe removes a subscription; Async listeners are closed, waking
// their drain goroutine.
func (b *Bus) Unsubscribe(id uint64) {
	b.mu.Lock()
	delete(b.subs, id)
	b.mu.Unlock()
	b.bcast.remove(id)
}

// Pump drains up to max events from the ring and dispatches them to every
// matching subscriber, honoring each subscriber's batching configuration.
// This is the entrypoint cooperative/single-threaded callers must invoke
// per §4.4 ("no dispatch happens otherwise"); Run's dedicated goroutine
// calls it continuously under the Preemptive model.
func (b *Bus) Pump(max int) int {
	events := b.ring.drain(max)
	if len(events) == 0 {
		return 0
	}

	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	for _, sub := range subs {
		for _, e := range events {
			if sub.matches(e) {
				b.dispatch(sub, e)
			}
		}
	}
	return len(events)
}

func (b *Bus) dispatch(sub *subscription, e Event) {
	if sub.opts.BatchSize <= 1 {
		b.deliver(sub, []Event{e})
		return
	}

	sub.mu.Lock()
	sub.pending = append(sub.pending, e)
	flush := len(sub.pending) >= sub.opts.BatchSize
	var batch []Event
	if flush {
		batch = sub.pending
		sub.pending = nil
		if sub.timer != nil {
			sub.timer.Stop()
			sub.timer = nil
		}
	} else if sub.timer == nil && sub.opts.BatchTimeout > 0 {
		sub.timer = time.AfterFunc(sub.opts.BatchTimeout, func() { b.flushTimeout(sub) })
	}
	sub.mu.Unlock()

	if flush {
		b.deliver(sub, batch)
	}
}

func (b *Bus) flushTimeout(sub *subscription) {
	sub.mu.Lock()
	batch := sub.pending
	sub.pending = nil
	sub.timer = nil
	sub.mu.Unlock()
	if len(batch) > 0 {
		b.deliver(sub, batch)
	}
}

func (b *Bus) deliver(sub *subscription, batch []Event) {
	switch sub.opts.Mode {
	case Async:
		b.bcast.deliver(sub.id, batch)
	default:
		sub.opts.Handler(batch)
	}
}

// Run starts the Preemptive-model dedicated dispatch goroutine, draining
// the ring as events arrive until Stop is called. Cooperative and
// SingleThreaded callers must use Pump instead.
func (b *Bus) Run() {
	go func() {
		for {
			select {
			case <-b.stop:
				return
			case <-b.wake:
				for b.Pump(256) > 0 {
				}
			}
		}
	}()
}

// Stop halts the Run dispatch goroutine. Idempotent.
func (b *Bus) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.stopped = true
	close(b.stop)
}

// Dropped returns the ring's running drop count.
func (b *Bus) Dropped() uint64 { return b.ring.Dropped() }

// QueueLen returns the number of events currently buffered in the ring.
func (b *Bus) QueueLen() int { return b.ring.len() }
