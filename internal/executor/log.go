package executor

import (
	"context"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
)

// Log only records the action. It stands in for gateways that are not configured.
type Log struct{}

// Execute implements dispatch.Executor.
func (Log) Execute(ctx context.Context, action threat.Action) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	logger.InfoKV(ctx, "Action performed by log executor",
		"kind", string(action.Kind),
		"target", action.Target,
		"threat_level", action.Level.String(),
		"contacts", len(action.Contacts),
		"fallback", action.Fallback)

	return nil
}

// Probe implements dispatch.Prober.
func (Log) Probe(context.Context) error {
	return nil
}
