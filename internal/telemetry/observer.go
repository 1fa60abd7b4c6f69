package telemetry

import (
	"context"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// Observer consumes engine events. Implementations must not block:
// they are called from the evaluation loop and from dispatch tasks.
type Observer interface {
	// ScoreComputed is called for every fused score.
	ScoreComputed(ctx context.Context, score threat.ThreatScore)
	// LevelChanged is called once per level transition.
	LevelChanged(ctx context.Context, transition threat.LevelTransition)
	// TaskChanged is called on every dispatch task status change.
	TaskChanged(ctx context.Context, task threat.DispatchTask)
	// CriticalFailure is called when an action without fallback fails permanently.
	CriticalFailure(ctx context.Context, failure threat.CriticalDispatchFailure)
	// SensorHealth is called when a source becomes stale or recovers.
	SensorHealth(ctx context.Context, health threat.SensorHealth)
}

// Nop discards every event.
type Nop struct{}

// ScoreComputed implements Observer.
func (Nop) ScoreComputed(context.Context, threat.ThreatScore) {}

// LevelChanged implements Observer.
func (Nop) LevelChanged(context.Context, threat.LevelTransition) {}

// TaskChanged implements Observer.
func (Nop) TaskChanged(context.Context, threat.DispatchTask) {}

// CriticalFailure implements Observer.
func (Nop) CriticalFailure(context.Context, threat.CriticalDispatchFailure) {}

// SensorHealth implements Observer.
func (Nop) SensorHealth(context.Context, threat.SensorHealth) {}

// Multi fans every event out to several observers in order.
type Multi []Observer

// ScoreComputed implements Observer.
func (m Multi) ScoreComputed(ctx context.Context, score threat.ThreatScore) {
	for _, o := range m {
		o.ScoreComputed(ctx, score)
	}
}

// LevelChanged implements Observer.
func (m Multi) LevelChanged(ctx context.Context, transition threat.LevelTransition) {
	for _, o := range m {
		o.LevelChanged(ctx, transition)
	}
}

// TaskChanged implements Observer.
func (m Multi) TaskChanged(ctx context.Context, task threat.DispatchTask) {
	for _, o := range m {
		o.TaskChanged(ctx, task)
	}
}

// CriticalFailure implements Observer.
func (m Multi) CriticalFailure(ctx context.Context, failure threat.CriticalDispatchFailure) {
	for _, o := range m {
		o.CriticalFailure(ctx, failure)
	}
}

// SensorHealth implements Observer.
func (m Multi) SensorHealth(ctx context.Context, health threat.SensorHealth) {
	for _, o := range m {
		o.SensorHealth(ctx, health)
	}
}
