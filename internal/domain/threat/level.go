package threat

import (
	"strings"
	"time"
)

// Level is the discrete escalation stage. Levels are totally ordered.
type Level int

const (
	// Safe means no response is needed.
	Safe Level = iota
	// Caution means the wearer is warned.
	Caution
	// Alert means contacts are notified and video starts.
	Alert
	// Emergency means authorities are contacted.
	Emergency
)

// Levels returns all levels in ascending order.
func Levels() []Level {
	return []Level{Safe, Caution, Alert, Emergency}
}

// String implements fmt.Stringer.
func (l Level) String() string {
	switch l {
	case Safe:
		return "safe"
	case Caution:
		return "caution"
	case Alert:
		return "alert"
	case Emergency:
		return "emergency"
	default:
		return "unknown"
	}
}

// Valid reports whether the level is one of the four known stages.
func (l Level) Valid() bool {
	return l >= Safe && l <= Emergency
}

// ParseLevel converts a level name (case-insensitive) into a Level.
func ParseLevel(s string) (Level, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, level := range Levels() {
		if level.String() == s {
			return level, true
		}
	}

	return Safe, false
}

// LevelTransition records one change of the active level.
type LevelTransition struct {
	// ID identifies the transition for deduplication.
	ID string
	// SessionID is the session that produced the transition.
	SessionID string
	// From is the level before the change.
	From Level
	// To is the level after the change.
	To Level
	// Score is the fused score that triggered the change.
	Score float64
	// At is the evaluation time of the change.
	At time.Time
}

// Escalating reports whether the transition raises the level.
func (t *LevelTransition) Escalating() bool {
	return t.To > t.From
}
