package bus

import "github.com/oshokin/safeglove/internal/domain/threat"

// envelope is a pending event with its global arrival sequence.
type envelope struct {
	event threat.SignalEvent
	seq   uint64
}

// eventQueue is a min-heap of envelopes ordered by timestamp, then arrival.
type eventQueue []envelope

func (q eventQueue) Len() int { return len(q) }

func (q eventQueue) Less(i, j int) bool {
	if !q[i].event.Timestamp.Equal(q[j].event.Timestamp) {
		return q[i].event.Timestamp.Before(q[j].event.Timestamp)
	}

	return q[i].seq < q[j].seq
}

func (q eventQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *eventQueue) Push(x any) { *q = append(*q, x.(envelope)) } //nolint:forcetypeassert // heap contract.

func (q *eventQueue) Pop() any {
	old := *q
	n := len(old)
	item := old[n-1]
	old[n-1] = envelope{}
	*q = old[:n-1]

	return item
}
