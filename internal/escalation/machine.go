package escalation

import (
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// DefaultDebounce is the default de-escalation debounce interval.
const DefaultDebounce = 3 * time.Second

// Thresholds are the minimum scores of the Caution, Alert and Emergency levels.
type Thresholds struct {
	Caution   float64
	Alert     float64
	Emergency float64
	// Hysteresis lowers the exit threshold of every level.
	Hysteresis float64
}

// DefaultThresholds returns the stock boundaries.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Caution:   0.3,
		Alert:     0.6,
		Emergency: 0.85,
	}
}

// Of returns the entry threshold of a level; Safe has none.
func (t Thresholds) Of(level threat.Level) float64 {
	switch level {
	case threat.Caution:
		return t.Caution
	case threat.Alert:
		return t.Alert
	case threat.Emergency:
		return t.Emergency
	default:
		return 0
	}
}

// LevelFor returns the highest level whose threshold the score meets.
func (t Thresholds) LevelFor(score float64) threat.Level {
	switch {
	case score >= t.Emergency:
		return threat.Emergency
	case score >= t.Alert:
		return threat.Alert
	case score >= t.Caution:
		return threat.Caution
	default:
		return threat.Safe
	}
}

// Options configures a Machine.
type Options struct {
	Thresholds Thresholds
	Debounce   time.Duration
	SessionID  string
	// NewID generates transition IDs; defaults to random UUIDs.
	NewID func() string
}

// Machine is the escalation state of one session.
// It is not safe for concurrent use: a single evaluation loop owns it.
type Machine struct {
	opts  Options
	level threat.Level
	// lowSince is when the score first dropped below the exit threshold.
	lowSince time.Time
	low      bool
}

// New creates a machine in the Safe level.
func New(opts Options) *Machine {
	if opts.Debounce < 0 {
		opts.Debounce = 0
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Machine{opts: opts}
}

// Level returns the current level.
func (m *Machine) Level() threat.Level {
	return m.level
}

// SessionID returns the session the transitions are attributed to.
func (m *Machine) SessionID() string {
	return m.opts.SessionID
}

// Reset returns the machine to Safe for a new session without a transition.
func (m *Machine) Reset(sessionID string) {
	m.level = threat.Safe
	m.low = false
	m.lowSince = time.Time{}
	m.opts.SessionID = sessionID
}

// Evaluate feeds one score and reports the resulting transition, if any.
// At most one transition is produced per call.
func (m *Machine) Evaluate(score threat.ThreatScore) (threat.LevelTransition, bool) {
	at := score.ComputedAt

	if target := m.opts.Thresholds.LevelFor(score.Value); target > m.level {
		m.low = false

		return m.transition(target, score), true
	}

	if m.level == threat.Safe || score.Value >= m.exitThreshold(m.level) {
		m.low = false

		return threat.LevelTransition{}, false
	}

	if !m.low {
		m.low = true
		m.lowSince = at

		if m.opts.Debounce > 0 {
			return threat.LevelTransition{}, false
		}
	}

	if at.Sub(m.lowSince) < m.opts.Debounce {
		return threat.LevelTransition{}, false
	}

	transition := m.transition(m.level-1, score)

	// The next step needs its own full interval.
	m.lowSince = at
	m.low = m.level > threat.Safe && score.Value < m.exitThreshold(m.level)

	return transition, true
}

func (m *Machine) exitThreshold(level threat.Level) float64 {
	return m.opts.Thresholds.Of(level) - m.opts.Thresholds.Hysteresis
}

func (m *Machine) transition(to threat.Level, score threat.ThreatScore) threat.LevelTransition {
	transition := threat.LevelTransition{
		ID:        m.opts.NewID(),
		SessionID: m.opts.SessionID,
		From:      m.level,
		To:        to,
		Score:     score.Value,
		At:        score.ComputedAt,
	}

	m.level = to

	return transition
}
