package fusion

import (
	"math"
	"slices"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

const (
	// DefaultWindow is the sliding window per source.
	DefaultWindow = 2 * time.Second
	// DefaultStaleAfter marks a silent source as unhealthy.
	DefaultStaleAfter = 10 * time.Second
	// DefaultPersonThreshold is the head count from which person detections count.
	DefaultPersonThreshold = 3
)

// Options configures an Engine.
type Options struct {
	// Window is the sliding window per source.
	Window time.Duration
	// Decay is the time constant of the decay past the window; defaults to Window.
	Decay time.Duration
	// StaleAfter is the silence after which a source is reported stale.
	StaleAfter time.Duration
	// Weights maps each source kind to its share; must sum to 1.
	Weights map[threat.SourceKind]float64
	// Disabled sources are ignored and their weight redistributed.
	Disabled []threat.SourceKind
	// PersonThreshold is the minimum head count for person detections.
	PersonThreshold int
	// DistressGestures lists gesture ids that count as distress.
	DistressGestures []string
}

// sample is one normalized sub-score.
type sample struct {
	at    time.Time
	value float64
}

// sourceWindow holds the recent samples of one source.
type sourceWindow struct {
	samples []sample
	last    sample
	seen    bool
}

// Engine is the fusion state of one session.
// It is not safe for concurrent use: a single evaluation loop owns it.
type Engine struct {
	opts    Options
	weights map[threat.SourceKind]float64
	sources map[threat.SourceKind]*sourceWindow
	// now is the evaluation clock; it never moves backwards.
	now time.Time
}

// New validates the options and creates an empty engine.
func New(opts Options) (*Engine, error) {
	weights, err := ResolveWeights(opts.Weights, opts.Disabled)
	if err != nil {
		return nil, err
	}

	if opts.Window <= 0 {
		opts.Window = DefaultWindow
	}

	if opts.Decay <= 0 {
		opts.Decay = opts.Window
	}

	if opts.StaleAfter <= 0 {
		opts.StaleAfter = DefaultStaleAfter
	}

	if opts.PersonThreshold <= 0 {
		opts.PersonThreshold = DefaultPersonThreshold
	}

	e := &Engine{
		opts:    opts,
		weights: weights,
	}
	e.Reset()

	return e, nil
}

// Weights returns a copy of the effective weights after redistribution.
func (e *Engine) Weights() map[threat.SourceKind]float64 {
	weights := make(map[threat.SourceKind]float64, len(e.weights))
	for kind, weight := range e.weights {
		weights[kind] = weight
	}

	return weights
}

// Reset drops every buffered sample, e.g. on session restart.
func (e *Engine) Reset() {
	e.sources = make(map[threat.SourceKind]*sourceWindow, len(e.weights))
	for kind := range e.weights {
		e.sources[kind] = new(sourceWindow)
	}

	e.now = time.Time{}
}

// Observe adds an event to its source window and recomputes the score.
// Events of disabled sources only advance the evaluation clock.
func (e *Engine) Observe(ev threat.SignalEvent) threat.ThreatScore {
	e.advance(ev.Timestamp)

	if window, ok := e.sources[ev.Source]; ok {
		s := sample{at: ev.Timestamp, value: e.subScore(&ev)}
		window.samples = append(window.samples, s)

		if !window.seen || !s.at.Before(window.last.at) {
			window.last = s
			window.seen = true
		}
	}

	return e.compute()
}

// Tick recomputes the score at now without new data.
func (e *Engine) Tick(now time.Time) threat.ThreatScore {
	e.advance(now)

	return e.compute()
}

// Stale reports the health of every enabled source that has produced events.
func (e *Engine) Stale(now time.Time) []threat.SensorHealth {
	if now.Before(e.now) {
		now = e.now
	}

	health := make([]threat.SensorHealth, 0, len(e.sources))

	for _, kind := range threat.SourceKinds() {
		window, ok := e.sources[kind]
		if !ok || !window.seen {
			continue
		}

		health = append(health, threat.SensorHealth{
			Source:   kind,
			Stale:    now.Sub(window.last.at) > e.opts.StaleAfter,
			LastSeen: window.last.at,
		})
	}

	return health
}

// advance moves the evaluation clock forward.
func (e *Engine) advance(t time.Time) {
	if t.After(e.now) {
		e.now = t
	}
}

// subScore normalizes an event into the [0,1] contribution of its source.
func (e *Engine) subScore(ev *threat.SignalEvent) float64 {
	switch ev.Source {
	case threat.SourceVisionPerson:
		if ev.Payload != nil && ev.Payload.PersonCount != nil && *ev.Payload.PersonCount < e.opts.PersonThreshold {
			return 0
		}
	case threat.SourceVisionGesture:
		if ev.Payload != nil && ev.Payload.GestureID != "" &&
			!slices.Contains(e.opts.DistressGestures, ev.Payload.GestureID) {
			return 0
		}
	default:
	}

	return ev.Value
}

// compute prunes expired samples and fuses the per-source values.
func (e *Engine) compute() threat.ThreatScore {
	score := threat.ThreatScore{
		Breakdown:  make(map[threat.SourceKind]float64, len(e.weights)),
		ComputedAt: e.now,
	}

	for kind, weight := range e.weights {
		contribution := weight * e.sourceValue(e.sources[kind])
		score.Breakdown[kind] = contribution
		score.Value += contribution
	}

	score.Value = math.Max(0, math.Min(1, score.Value))

	return score
}

// sourceValue returns the windowed maximum or the decayed last sub-score.
func (e *Engine) sourceValue(window *sourceWindow) float64 {
	cutoff := e.now.Add(-e.opts.Window)

	kept := window.samples[:0]
	for _, s := range window.samples {
		if !s.at.Before(cutoff) {
			kept = append(kept, s)
		}
	}

	window.samples = kept

	if len(window.samples) > 0 {
		peak := 0.0
		for _, s := range window.samples {
			peak = math.Max(peak, s.value)
		}

		return peak
	}

	if !window.seen {
		return 0
	}

	excess := e.now.Sub(window.last.at) - e.opts.Window
	if excess <= 0 {
		return window.last.value
	}

	return window.last.value * math.Exp(-float64(excess)/float64(e.opts.Decay))
}
