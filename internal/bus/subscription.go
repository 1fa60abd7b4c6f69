package bus

import (
	"context"
	"sync"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// Subscription is a live, ordered stream of matching events.
type Subscription struct {
	id        uint64
	bus       *Bus
	predicate Predicate
	// fromSeq is the arrival sequence at subscribe time; older events are skipped.
	fromSeq uint64
	ch      chan threat.SignalEvent
	// closed is closed by Close so a blocked delivery gives up.
	closed    chan struct{}
	closeOnce sync.Once
}

// Events returns the event channel. It is closed when the bus stops.
func (s *Subscription) Events() <-chan threat.SignalEvent {
	return s.ch
}

// Close detaches the subscription. Buffered events are dropped.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
		s.bus.remove(s.id)
	})
}

// deliver hands one event to the subscriber. A slow subscriber holds back
// delivery; it returns false when the bus or the context is done.
func (s *Subscription) deliver(ctx context.Context, busDone <-chan struct{}, ev threat.SignalEvent) bool {
	select {
	case s.ch <- ev:
		return true
	case <-s.closed:
		return true
	case <-busDone:
		return false
	case <-ctx.Done():
		return false
	}
}
