package dispatch

import (
	"context"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// Executor performs one action. It must return promptly once ctx is done and
// classify failures with threat.Transient or threat.Permanent; unclassified
// errors are retried.
type Executor interface {
	Execute(ctx context.Context, action threat.Action) error
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(ctx context.Context, action threat.Action) error

// Execute implements Executor.
func (f ExecutorFunc) Execute(ctx context.Context, action threat.Action) error {
	return f(ctx, action)
}

// Prober is implemented by executors that can check their gateway without
// performing an action.
type Prober interface {
	Probe(ctx context.Context) error
}

// Deduper remembers keys for a bounded time.
type Deduper interface {
	// MarkOnce records key for ttl and reports whether it was absent.
	MarkOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// IncidentStore persists the incident history.
type IncidentStore interface {
	Save(ctx context.Context, incidents []*threat.Incident) error
}
