package bus

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

var base = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func event(source threat.SourceKind, offset time.Duration, value float64) threat.SignalEvent {
	return threat.SignalEvent{Source: source, Timestamp: base.Add(offset), Value: value}
}

// startBus runs the bus in the background and stops it when the test ends.
func startBus(t *testing.T, b *Bus) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	go func() {
		defer close(done)

		_ = b.Run(ctx) //nolint:errcheck // Cancellation error is expected.
	}()

	t.Cleanup(func() {
		cancel()
		<-done
	})
}

// receive reads n events or fails after a timeout.
func receive(t *testing.T, sub *Subscription, n int) []threat.SignalEvent {
	t.Helper()

	got := make([]threat.SignalEvent, 0, n)

	for len(got) < n {
		select {
		case ev, ok := <-sub.Events():
			require.True(t, ok, "subscription closed early")

			got = append(got, ev)
		case <-time.After(2 * time.Second):
			require.FailNow(t, "timed out waiting for events", "got %d of %d", len(got), n)
		}
	}

	return got
}

// TestPublish_Validation checks boundary validation and per-source monotonicity.
func TestPublish_Validation(t *testing.T) {
	t.Parallel()

	b := New()

	require.ErrorIs(t, b.Publish(event(threat.SourceIMU, 0, 1.5)), threat.ErrInvalidEvent)
	require.ErrorIs(t, b.Publish(threat.SignalEvent{Source: threat.SourceIMU, Value: 0.1}), threat.ErrInvalidEvent)

	require.NoError(t, b.Publish(event(threat.SourceIMU, time.Second, 0.2)))
	require.NoError(t, b.Publish(event(threat.SourceIMU, time.Second, 0.3)))
	require.ErrorIs(t, b.Publish(event(threat.SourceIMU, 0, 0.2)), threat.ErrInvalidEvent)

	// Other sources keep their own clock.
	require.NoError(t, b.Publish(event(threat.SourcePressure, 0, 0.2)))
	require.Equal(t, 3, b.Pending())
}

// TestPublish_FutureTimestamp rejects events stamped beyond the allowed skew.
func TestPublish_FutureTimestamp(t *testing.T) {
	t.Parallel()

	b := New(WithClock(func() time.Time { return base }), WithMaxSkew(time.Second))

	require.NoError(t, b.Publish(event(threat.SourceVisionThreat, time.Second, 0.4)))
	require.ErrorIs(t, b.Publish(event(threat.SourceVisionThreat, time.Minute, 0.9)), threat.ErrInvalidEvent)
	require.ErrorIs(t, b.Publish(event(threat.SourceIMU, time.Second+time.Millisecond, 0.1)), threat.ErrInvalidEvent)

	// The rejected event did not advance the source clock.
	require.NoError(t, b.Publish(event(threat.SourceVisionThreat, time.Second, 0.5)))
	require.Equal(t, 2, b.Pending())
}

// TestDelivery_TimestampOrder verifies merged delivery by timestamp with arrival tie-break.
func TestDelivery_TimestampOrder(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.Subscribe(nil)

	require.NoError(t, b.Publish(event(threat.SourceVisionThreat, 30*time.Millisecond, 0.9)))
	require.NoError(t, b.Publish(event(threat.SourceIMU, 10*time.Millisecond, 0.1)))
	require.NoError(t, b.Publish(event(threat.SourcePressure, 10*time.Millisecond, 0.2)))
	require.NoError(t, b.Publish(event(threat.SourceIMU, 20*time.Millisecond, 0.3)))

	startBus(t, b)

	got := receive(t, sub, 4)
	require.Equal(t, threat.SourceIMU, got[0].Source)
	require.InDelta(t, 0.1, got[0].Value, 1e-9)
	require.Equal(t, threat.SourcePressure, got[1].Source)
	require.Equal(t, threat.SourceIMU, got[2].Source)
	require.Equal(t, threat.SourceVisionThreat, got[3].Source)
}

// TestSubscribe_NoHistory ensures late subscribers only see newer events.
func TestSubscribe_NoHistory(t *testing.T) {
	t.Parallel()

	b := New()
	early := b.Subscribe(nil)

	require.NoError(t, b.Publish(event(threat.SourceIMU, 0, 0.1)))

	late := b.Subscribe(nil)

	require.NoError(t, b.Publish(event(threat.SourceIMU, time.Millisecond, 0.2)))

	startBus(t, b)

	require.Len(t, receive(t, early, 2), 2)

	got := receive(t, late, 1)
	require.InDelta(t, 0.2, got[0].Value, 1e-9)

	select {
	case ev := <-late.Events():
		require.FailNow(t, "unexpected historical event", "%+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

// TestSubscribe_Predicate filters events by source.
func TestSubscribe_Predicate(t *testing.T) {
	t.Parallel()

	b := New()
	vision := b.Subscribe(Sources(threat.SourceVisionThreat, threat.SourceVisionPerson))

	startBus(t, b)

	require.NoError(t, b.Publish(event(threat.SourceIMU, 0, 0.4)))
	require.NoError(t, b.Publish(event(threat.SourceVisionPerson, time.Millisecond, 0.5)))

	got := receive(t, vision, 1)
	require.Equal(t, threat.SourceVisionPerson, got[0].Source)
}

// TestPublish_Capacity rejects events once the queue is full.
func TestPublish_Capacity(t *testing.T) {
	t.Parallel()

	b := New(WithCapacity(1))

	require.NoError(t, b.Publish(event(threat.SourceIMU, 0, 0.4)))
	require.ErrorIs(t, b.Publish(event(threat.SourceIMU, time.Millisecond, 0.4)), ErrBusFull)
}

// TestClose stops delivery, closes subscriptions and rejects publishing.
func TestClose(t *testing.T) {
	t.Parallel()

	b := New()
	sub := b.Subscribe(nil)

	done := make(chan error, 1)

	go func() { done <- b.Run(context.Background()) }()

	b.Close()
	require.NoError(t, <-done)

	_, ok := <-sub.Events()
	require.False(t, ok)

	require.ErrorIs(t, b.Publish(event(threat.SourceIMU, 0, 0.4)), ErrBusClosed)

	// Subscribing after stop yields a closed stream.
	_, ok = <-b.Subscribe(nil).Events()
	require.False(t, ok)
}

// TestSubscription_Close detaches a subscriber without blocking the others.
func TestSubscription_Close(t *testing.T) {
	t.Parallel()

	b := New(WithBufferSize(0))
	stalled := b.Subscribe(nil)
	active := b.Subscribe(nil)

	startBus(t, b)

	require.NoError(t, b.Publish(event(threat.SourceIMU, 0, 0.4)))
	stalled.Close()

	got := receive(t, active, 1)
	require.Equal(t, threat.SourceIMU, got[0].Source)
}

// TestPublish_Concurrent preserves per-source order under concurrent producers.
func TestPublish_Concurrent(t *testing.T) {
	t.Parallel()

	const perSource = 50

	sources := []threat.SourceKind{threat.SourceIMU, threat.SourcePressure, threat.SourceFlex, threat.SourceVisionPerson}

	b := New()
	sub := b.Subscribe(nil)

	startBus(t, b)

	var wg sync.WaitGroup

	for _, source := range sources {
		wg.Add(1)

		go func() {
			defer wg.Done()

			for i := range perSource {
				err := b.Publish(event(source, time.Duration(i)*time.Millisecond, 0.5))
				if err != nil {
					panic(fmt.Sprintf("publish %s #%d: %v", source, i, err))
				}
			}
		}()
	}

	wg.Wait()

	got := receive(t, sub, perSource*len(sources))
	last := make(map[threat.SourceKind]time.Time)

	for _, ev := range got {
		if prev, ok := last[ev.Source]; ok {
			require.False(t, ev.Timestamp.Before(prev), "source %s out of order", ev.Source)
		}

		last[ev.Source] = ev.Timestamp
	}
}
