package bus

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

const (
	// DefaultCapacity bounds the number of undelivered events.
	DefaultCapacity = 4096
	// DefaultBufferSize is the channel buffer of each subscription.
	DefaultBufferSize = 64
	// DefaultMaxSkew is how far past the bus clock an event may be stamped.
	DefaultMaxSkew = 2 * time.Second
)

var (
	// ErrBusFull is returned when too many events are waiting for delivery.
	ErrBusFull = errors.New("event bus is full")
	// ErrBusClosed is returned when publishing after Close.
	ErrBusClosed = errors.New("event bus is closed")
)

// Predicate selects the events a subscription receives.
type Predicate func(ev *threat.SignalEvent) bool

// All matches every event.
func All(*threat.SignalEvent) bool { return true }

// Sources matches events produced by one of the given kinds.
func Sources(kinds ...threat.SourceKind) Predicate {
	return func(ev *threat.SignalEvent) bool {
		for _, kind := range kinds {
			if ev.Source == kind {
				return true
			}
		}

		return false
	}
}

// Bus validates, orders and fans out signal events.
type Bus struct {
	// mu protects every field below.
	mu sync.Mutex
	// pending holds validated events waiting for delivery.
	pending eventQueue
	// seq is the arrival counter of published events.
	seq uint64
	// lastSeen is the newest accepted timestamp per source.
	lastSeen map[threat.SourceKind]time.Time
	// subs are the live subscriptions keyed by id.
	subs map[uint64]*Subscription
	// nextSubID numbers subscriptions.
	nextSubID uint64
	// closed is set by Close; publishing is rejected afterwards.
	closed bool
	// stopped is set once the delivery loop has exited.
	stopped bool

	capacity   int
	bufferSize int
	// maxSkew bounds future timestamps, relative to now.
	maxSkew time.Duration
	now     func() time.Time

	// wake nudges the delivery loop after a publish.
	wake chan struct{}
	// done is closed by Close.
	done      chan struct{}
	closeOnce sync.Once
}

// Option configures a Bus.
type Option func(*Bus)

// WithCapacity bounds the number of undelivered events.
func WithCapacity(capacity int) Option {
	return func(b *Bus) {
		if capacity > 0 {
			b.capacity = capacity
		}
	}
}

// WithBufferSize sets the channel buffer of new subscriptions.
func WithBufferSize(size int) Option {
	return func(b *Bus) {
		if size >= 0 {
			b.bufferSize = size
		}
	}
}

// WithMaxSkew bounds how far an event timestamp may lie in the future.
func WithMaxSkew(skew time.Duration) Option {
	return func(b *Bus) {
		if skew > 0 {
			b.maxSkew = skew
		}
	}
}

// WithClock replaces time.Now as the reference for future timestamps.
func WithClock(now func() time.Time) Option {
	return func(b *Bus) {
		if now != nil {
			b.now = now
		}
	}
}

// New creates an idle bus. Call Run to start delivery.
func New(opts ...Option) *Bus {
	b := &Bus{
		lastSeen:   make(map[threat.SourceKind]time.Time, len(threat.SourceKinds())),
		subs:       make(map[uint64]*Subscription),
		capacity:   DefaultCapacity,
		bufferSize: DefaultBufferSize,
		maxSkew:    DefaultMaxSkew,
		now:        time.Now,
		wake:       make(chan struct{}, 1),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Publish validates the event and enqueues it for delivery.
// It never blocks. Events older than the last accepted event of the same
// source, or stamped more than the max skew ahead of the bus clock, are
// rejected with threat.ErrInvalidEvent.
func (b *Bus) Publish(ev threat.SignalEvent) error {
	if err := ev.Validate(); err != nil {
		return err
	}

	// A future timestamp would hold the fusion clock and freeze decay.
	if limit := b.now().Add(b.maxSkew); ev.Timestamp.After(limit) {
		return fmt.Errorf(
			"%w: %s timestamp %s is more than %s ahead of the engine clock",
			threat.ErrInvalidEvent, ev.Source,
			ev.Timestamp.Format(time.RFC3339Nano), b.maxSkew,
		)
	}

	ev.Payload = ev.Payload.Clone()

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return ErrBusClosed
	}

	if last, ok := b.lastSeen[ev.Source]; ok && ev.Timestamp.Before(last) {
		return fmt.Errorf(
			"%w: %s timestamp %s precedes %s",
			threat.ErrInvalidEvent, ev.Source,
			ev.Timestamp.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano),
		)
	}

	if b.pending.Len() >= b.capacity {
		return ErrBusFull
	}

	b.lastSeen[ev.Source] = ev.Timestamp
	b.seq++
	heap.Push(&b.pending, envelope{event: ev, seq: b.seq})

	select {
	case b.wake <- struct{}{}:
	default:
	}

	return nil
}

// Subscribe returns a live stream of matching events published from now on.
// A nil predicate matches everything.
func (b *Bus) Subscribe(predicate Predicate) *Subscription {
	if predicate == nil {
		predicate = All
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextSubID++
	sub := &Subscription{
		id:        b.nextSubID,
		bus:       b,
		predicate: predicate,
		fromSeq:   b.seq,
		ch:        make(chan threat.SignalEvent, b.bufferSize),
		closed:    make(chan struct{}),
	}

	if b.stopped {
		close(sub.ch)

		return sub
	}

	b.subs[sub.id] = sub

	return sub
}

// Pending returns the number of undelivered events.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	return b.pending.Len()
}

// Close stops accepting events and ends the delivery loop.
func (b *Bus) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		b.closed = true
		b.mu.Unlock()

		close(b.done)
	})
}

// Run delivers events until the context is cancelled or the bus is closed.
// It must be called at most once. Subscription channels are closed on return.
func (b *Bus) Run(ctx context.Context) error {
	defer b.stop()

	for {
		for {
			env, targets, ok := b.next()
			if !ok {
				break
			}

			for _, sub := range targets {
				if !sub.deliver(ctx, b.done, env.event) {
					break
				}
			}

			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.done:
			return nil
		case <-b.wake:
		}
	}
}

// next pops the earliest pending event with the subscriptions it is for.
func (b *Bus) next() (envelope, []*Subscription, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pending.Len() == 0 {
		return envelope{}, nil, false
	}

	env := heap.Pop(&b.pending).(envelope) //nolint:forcetypeassert // heap contract.

	targets := make([]*Subscription, 0, len(b.subs))
	for _, sub := range b.subs {
		if env.seq > sub.fromSeq && sub.predicate(&env.event) {
			targets = append(targets, sub)
		}
	}

	return env, targets, true
}

// stop closes every subscription channel once delivery has ended.
func (b *Bus) stop() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stopped = true

	for id, sub := range b.subs {
		close(sub.ch)
		delete(b.subs, id)
	}
}

// remove detaches a subscription.
func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	delete(b.subs, id)
}
