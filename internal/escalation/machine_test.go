package escalation

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

var epoch = time.Unix(1_700_000_000, 0)

func newMachine(debounce time.Duration, hysteresis float64) *Machine {
	thresholds := DefaultThresholds()
	thresholds.Hysteresis = hysteresis

	var counter int

	return New(Options{
		Thresholds: thresholds,
		Debounce:   debounce,
		SessionID:  "session-1",
		NewID: func() string {
			counter++

			return "t-" + strconv.Itoa(counter)
		},
	})
}

func score(value float64, offset time.Duration) threat.ThreatScore {
	return threat.ThreatScore{Value: value, ComputedAt: epoch.Add(offset)}
}

// TestLevelFor maps scores onto levels at the boundaries.
func TestLevelFor(t *testing.T) {
	t.Parallel()

	th := DefaultThresholds()

	require.Equal(t, threat.Safe, th.LevelFor(0))
	require.Equal(t, threat.Safe, th.LevelFor(0.29))
	require.Equal(t, threat.Caution, th.LevelFor(0.3))
	require.Equal(t, threat.Caution, th.LevelFor(0.36))
	require.Equal(t, threat.Alert, th.LevelFor(0.6))
	require.Equal(t, threat.Emergency, th.LevelFor(0.85))
	require.Equal(t, threat.Emergency, th.LevelFor(1))
}

// TestEvaluate_EscalationSkipsLevels verifies a single Safe to Emergency transition.
func TestEvaluate_EscalationSkipsLevels(t *testing.T) {
	t.Parallel()

	m := newMachine(3*time.Second, 0)

	transition, ok := m.Evaluate(score(0.9, 0))
	require.True(t, ok)
	require.Equal(t, threat.Safe, transition.From)
	require.Equal(t, threat.Emergency, transition.To)
	require.Equal(t, "t-1", transition.ID)
	require.Equal(t, "session-1", transition.SessionID)
	require.InDelta(t, 0.9, transition.Score, 1e-9)
	require.Equal(t, epoch, transition.At)
	require.True(t, transition.Escalating())

	_, ok = m.Evaluate(score(0.95, 100*time.Millisecond))
	require.False(t, ok)
	require.Equal(t, threat.Emergency, m.Level())
}

// TestEvaluate_CautionFromVisionThreat verifies the 0.36 score lands on Caution.
func TestEvaluate_CautionFromVisionThreat(t *testing.T) {
	t.Parallel()

	m := newMachine(3*time.Second, 0)

	transition, ok := m.Evaluate(score(0.36, 0))
	require.True(t, ok)
	require.Equal(t, threat.Caution, transition.To)
}

// TestEvaluate_DebounceOneStepPerInterval verifies the step-down cadence.
func TestEvaluate_DebounceOneStepPerInterval(t *testing.T) {
	t.Parallel()

	m := newMachine(3*time.Second, 0)

	_, ok := m.Evaluate(score(0.9, 0))
	require.True(t, ok)

	var transitions []threat.LevelTransition

	for offset := 100 * time.Millisecond; offset <= 12*time.Second; offset += 100 * time.Millisecond {
		if transition, ok := m.Evaluate(score(0, offset)); ok {
			transitions = append(transitions, transition)
		}
	}

	require.Len(t, transitions, 3)

	require.Equal(t, threat.Emergency, transitions[0].From)
	require.Equal(t, threat.Alert, transitions[0].To)
	require.Equal(t, epoch.Add(3100*time.Millisecond), transitions[0].At)

	require.Equal(t, threat.Caution, transitions[1].To)
	require.Equal(t, epoch.Add(6100*time.Millisecond), transitions[1].At)

	require.Equal(t, threat.Safe, transitions[2].To)
	require.Equal(t, epoch.Add(9100*time.Millisecond), transitions[2].At)

	for i := 1; i < len(transitions); i++ {
		require.GreaterOrEqual(t, transitions[i].At.Sub(transitions[i-1].At), 3*time.Second)
		require.Equal(t, transitions[i-1].To, transitions[i].From)
		require.Equal(t, transitions[i].From-1, transitions[i].To)
	}
}

// TestEvaluate_DebounceInterrupted verifies that a score recovery restarts the interval.
func TestEvaluate_DebounceInterrupted(t *testing.T) {
	t.Parallel()

	m := newMachine(3*time.Second, 0)
	m.Evaluate(score(0.7, 0))

	_, ok := m.Evaluate(score(0.4, time.Second))
	require.False(t, ok)

	// Back above the Alert threshold before the interval elapsed.
	_, ok = m.Evaluate(score(0.65, 3*time.Second))
	require.False(t, ok)

	_, ok = m.Evaluate(score(0.4, 3500*time.Millisecond))
	require.False(t, ok)

	_, ok = m.Evaluate(score(0.4, 6*time.Second))
	require.False(t, ok)

	transition, ok := m.Evaluate(score(0.4, 6500*time.Millisecond))
	require.True(t, ok)
	require.Equal(t, threat.Caution, transition.To)
}

// TestEvaluate_Hysteresis verifies that scores inside the band hold the level.
func TestEvaluate_Hysteresis(t *testing.T) {
	t.Parallel()

	m := newMachine(time.Second, 0.05)
	m.Evaluate(score(0.6, 0))

	for offset := time.Second; offset <= 10*time.Second; offset += time.Second {
		_, ok := m.Evaluate(score(0.56, offset))
		require.False(t, ok)
	}

	m.Evaluate(score(0.54, 11*time.Second))

	transition, ok := m.Evaluate(score(0.54, 12*time.Second))
	require.True(t, ok)
	require.Equal(t, threat.Caution, transition.To)
}

// TestEvaluate_NoDuplicateTransitions verifies that identical transitions need an opposite one in between.
func TestEvaluate_NoDuplicateTransitions(t *testing.T) {
	t.Parallel()

	m := newMachine(500*time.Millisecond, 0)

	values := []float64{0.1, 0.35, 0.29, 0.31, 0.2, 0.2, 0.2, 0.4, 0.9, 0.1, 0.1, 0.1, 0.88, 0}

	type pair struct{ from, to threat.Level }

	seen := make(map[pair]bool)

	for i, value := range values {
		transition, ok := m.Evaluate(score(value, time.Duration(i)*400*time.Millisecond))
		if !ok {
			continue
		}

		key := pair{transition.From, transition.To}
		require.False(t, seen[key], "duplicate transition %v", key)

		seen[key] = true
		delete(seen, pair{transition.To, transition.From})
	}
}

// TestEvaluate_ZeroDebounce steps down once per evaluation.
func TestEvaluate_ZeroDebounce(t *testing.T) {
	t.Parallel()

	m := newMachine(0, 0)
	m.Evaluate(score(1, 0))

	for i, want := range []threat.Level{threat.Alert, threat.Caution, threat.Safe} {
		transition, ok := m.Evaluate(score(0, time.Duration(i+1)*time.Millisecond))
		require.True(t, ok)
		require.Equal(t, want, transition.To)
	}

	_, ok := m.Evaluate(score(0, time.Second))
	require.False(t, ok)
}

// TestReset returns to Safe without emitting a transition.
func TestReset(t *testing.T) {
	t.Parallel()

	m := newMachine(time.Second, 0)
	m.Evaluate(score(0.9, 0))

	m.Reset("session-2")

	require.Equal(t, threat.Safe, m.Level())
	require.Equal(t, "session-2", m.SessionID())

	transition, ok := m.Evaluate(score(0.7, time.Second))
	require.True(t, ok)
	require.Equal(t, threat.Safe, transition.From)
	require.Equal(t, "session-2", transition.SessionID)
}
