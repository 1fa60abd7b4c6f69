package executor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
)

// ErrUnknownPattern is returned for haptic targets without a pattern.
var ErrUnknownPattern = errors.New("unknown haptic pattern")

// Pattern is a sequence of motor pulses.
type Pattern struct {
	Name string
	// Pulses are the motor-on durations.
	Pulses []time.Duration
	// Gap is the pause between pulses.
	Gap time.Duration
}

// Duration returns how long the pattern plays.
func (p Pattern) Duration() time.Duration {
	if len(p.Pulses) == 0 {
		return 0
	}

	total := time.Duration(len(p.Pulses)-1) * p.Gap
	for _, pulse := range p.Pulses {
		total += pulse
	}

	return total
}

// DefaultPatterns returns the built-in patterns keyed by name.
// "none" stops the motors.
func DefaultPatterns() map[string]Pattern {
	return map[string]Pattern{
		"none": {Name: "none"},
		"gentle-pulse": {
			Name:   "gentle-pulse",
			Pulses: []time.Duration{200 * time.Millisecond, 200 * time.Millisecond},
			Gap:    400 * time.Millisecond,
		},
		"rapid-pulse": {
			Name:   "rapid-pulse",
			Pulses: []time.Duration{100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond, 100 * time.Millisecond},
			Gap:    100 * time.Millisecond,
		},
		"emergency-pattern": {
			Name:   "emergency-pattern",
			Pulses: []time.Duration{1500 * time.Millisecond},
		},
	}
}

// Driver switches the vibration motors.
type Driver interface {
	// Vibrate runs the motors for d and returns early when ctx is done.
	Vibrate(ctx context.Context, d time.Duration) error
	// Stop switches the motors off.
	Stop(ctx context.Context) error
}

// LogDriver simulates the motors by logging and sleeping.
type LogDriver struct{}

// Vibrate implements Driver.
func (LogDriver) Vibrate(ctx context.Context, d time.Duration) error {
	logger.DebugKV(ctx, "Haptic motors on", "duration", d)

	return sleep(ctx, d)
}

// Stop implements Driver.
func (LogDriver) Stop(ctx context.Context) error {
	logger.DebugKV(ctx, "Haptic motors off")

	return nil
}

// Haptic plays patterns on the glove's motors.
type Haptic struct {
	driver   Driver
	patterns map[string]Pattern
}

// NewHaptic creates a haptic executor; nil arguments select the defaults.
func NewHaptic(driver Driver, patterns map[string]Pattern) *Haptic {
	if driver == nil {
		driver = LogDriver{}
	}

	if patterns == nil {
		patterns = DefaultPatterns()
	}

	return &Haptic{
		driver:   driver,
		patterns: patterns,
	}
}

// Execute implements dispatch.Executor. The motors are stopped when the
// pattern is cancelled midway.
func (h *Haptic) Execute(ctx context.Context, action threat.Action) error {
	pattern, ok := h.patterns[action.Target]
	if !ok {
		return threat.Permanent(fmt.Errorf("%w: %q", ErrUnknownPattern, action.Target))
	}

	if err := h.play(ctx, pattern); err != nil {
		// Switching off must not depend on the cancelled context.
		if stopErr := h.driver.Stop(context.WithoutCancel(ctx)); stopErr != nil {
			logger.ErrorKV(ctx, "Failed to stop haptic motors", "error", stopErr)
		}

		return err
	}

	return h.driver.Stop(ctx)
}

// Probe implements dispatch.Prober with a short pulse.
func (h *Haptic) Probe(ctx context.Context) error {
	if err := h.driver.Vibrate(ctx, 50*time.Millisecond); err != nil {
		return fmt.Errorf("probe haptic motors: %w", err)
	}

	return h.driver.Stop(ctx)
}

func (h *Haptic) play(ctx context.Context, pattern Pattern) error {
	for i, pulse := range pattern.Pulses {
		if i > 0 {
			if err := sleep(ctx, pattern.Gap); err != nil {
				return err
			}
		}

		if err := h.driver.Vibrate(ctx, pulse); err != nil {
			return err
		}
	}

	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
