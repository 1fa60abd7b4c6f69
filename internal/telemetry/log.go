package telemetry

import (
	"context"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
)

// LogObserver writes every event to the context logger.
// Scores are logged at debug level since they arrive on every tick.
type LogObserver struct{}

// ScoreComputed implements Observer.
func (LogObserver) ScoreComputed(ctx context.Context, score threat.ThreatScore) {
	breakdown := make(map[string]float64, len(score.Breakdown))
	for source, contribution := range score.Breakdown {
		breakdown[string(source)] = contribution
	}

	logger.DebugKV(ctx, "Threat score computed",
		"score", score.Value,
		"breakdown", breakdown,
		"computed_at", score.ComputedAt.Format(time.RFC3339Nano))
}

// LevelChanged implements Observer.
func (LogObserver) LevelChanged(ctx context.Context, transition threat.LevelTransition) {
	logger.WarnKV(ctx, "Threat level changed",
		"transition_id", transition.ID,
		"session_id", transition.SessionID,
		"from", transition.From.String(),
		"to", transition.To.String(),
		"score", transition.Score)
}

// TaskChanged implements Observer.
func (LogObserver) TaskChanged(ctx context.Context, task threat.DispatchTask) {
	kv := []any{
		"task_id", task.ID,
		"kind", string(task.Action.Kind),
		"target", task.Action.Target,
		"threat_level", task.Action.Level.String(),
		"status", task.Status.String(),
		"attempts", task.Attempts,
	}

	if task.Action.Fallback {
		kv = append(kv, "fallback", true)
	}

	switch task.Status {
	case threat.TaskFailedPermanent:
		logger.ErrorKV(ctx, "Dispatch task failed", append(kv, "error", task.LastError)...)
	case threat.TaskSkipped:
		logger.WarnKV(ctx, "Dispatch task skipped, automatic response is disabled", kv...)
	case threat.TaskInFlight:
		if task.LastError != "" {
			kv = append(kv, "last_error", task.LastError)
		}

		logger.DebugKV(ctx, "Dispatch task in flight", kv...)
	default:
		logger.InfoKV(ctx, "Dispatch task updated", kv...)
	}
}

// CriticalFailure implements Observer.
func (LogObserver) CriticalFailure(ctx context.Context, failure threat.CriticalDispatchFailure) {
	logger.ErrorKV(ctx, "CRITICAL dispatch failure",
		"task_id", failure.Task.ID,
		"kind", string(failure.Task.Action.Kind),
		"transition_id", failure.Transition.ID,
		"threat_level", failure.Transition.To.String(),
		"attempts", failure.Task.Attempts,
		"error", failure.Err)
}

// SensorHealth implements Observer.
func (LogObserver) SensorHealth(ctx context.Context, health threat.SensorHealth) {
	if health.Stale {
		logger.WarnKV(ctx, "Sensor source went silent",
			"source", string(health.Source),
			"last_seen", health.LastSeen.Format(time.RFC3339Nano))

		return
	}

	logger.InfoKV(ctx, "Sensor source recovered", "source", string(health.Source))
}
