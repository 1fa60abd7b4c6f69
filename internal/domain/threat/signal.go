package threat

import (
	"fmt"
	"math"
	"time"
)

// SourceKind identifies the producer family of a signal.
type SourceKind string

const (
	// SourceFlex is a finger flex sensor reading.
	SourceFlex SourceKind = "flex"
	// SourceIMU is an inertial movement anomaly.
	SourceIMU SourceKind = "imu"
	// SourcePressure is a grip/palm pressure anomaly.
	SourcePressure SourceKind = "pressure"
	// SourceVisionPerson is a person detection with a head count.
	SourceVisionPerson SourceKind = "vision-person"
	// SourceVisionGesture is a classified gesture.
	SourceVisionGesture SourceKind = "vision-gesture"
	// SourceVisionThreat is a direct threat classification.
	SourceVisionThreat SourceKind = "vision-threat"
)

// SourceKinds returns every known source kind in a stable order.
func SourceKinds() []SourceKind {
	return []SourceKind{
		SourceFlex,
		SourceIMU,
		SourcePressure,
		SourceVisionPerson,
		SourceVisionGesture,
		SourceVisionThreat,
	}
}

// ParseSourceKind validates a source kind name.
func ParseSourceKind(s string) (SourceKind, bool) {
	for _, kind := range SourceKinds() {
		if string(kind) == s {
			return kind, true
		}
	}

	return "", false
}

// Payload carries optional structured detection details.
type Payload struct {
	// PersonCount is the number of people in frame, nil when not reported.
	PersonCount *int
	// GestureID is the classifier label of a gesture, empty when not reported.
	GestureID string
}

// Clone returns a deep copy of the payload.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}

	cloned := &Payload{GestureID: p.GestureID}

	if p.PersonCount != nil {
		count := *p.PersonCount
		cloned.PersonCount = &count
	}

	return cloned
}

// SignalEvent is one normalized reading or detection.
// Events are values: once published they are never modified.
type SignalEvent struct {
	// Source is the producer family.
	Source SourceKind
	// Timestamp is when the reading was taken.
	Timestamp time.Time
	// Value is a magnitude or a confidence in [0,1].
	Value float64
	// Payload holds optional detection details.
	Payload *Payload
}

// Validate checks the fields that do not depend on history.
func (e *SignalEvent) Validate() error {
	if _, ok := ParseSourceKind(string(e.Source)); !ok {
		return fmt.Errorf("%w: unknown source %q", ErrInvalidEvent, e.Source)
	}

	if e.Timestamp.IsZero() {
		return fmt.Errorf("%w: missing timestamp", ErrInvalidEvent)
	}

	if math.IsNaN(e.Value) || e.Value < 0 || e.Value > 1 {
		return fmt.Errorf("%w: value %v outside [0,1]", ErrInvalidEvent, e.Value)
	}

	if e.Payload != nil && e.Payload.PersonCount != nil && *e.Payload.PersonCount < 0 {
		return fmt.Errorf("%w: negative person count", ErrInvalidEvent)
	}

	return nil
}

// ThreatScore is one fused confidence value with its per-source breakdown.
type ThreatScore struct {
	// Value is the fused score in [0,1].
	Value float64
	// Breakdown holds the weighted contribution of every enabled source.
	Breakdown map[SourceKind]float64
	// ComputedAt is the evaluation time the score belongs to.
	ComputedAt time.Time
}

// SensorHealth reports whether a source stopped producing events.
type SensorHealth struct {
	// Source is the affected producer family.
	Source SourceKind
	// Stale is true when no event arrived within the staleness limit.
	Stale bool
	// LastSeen is the timestamp of the most recent event.
	LastSeen time.Time
}
