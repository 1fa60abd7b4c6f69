package engine

import (
	"cmp"
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/safeglove/internal/bus"
	"github.com/oshokin/safeglove/internal/dispatch"
	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/escalation"
	"github.com/oshokin/safeglove/internal/fusion"
	"github.com/oshokin/safeglove/internal/logger"
	"github.com/oshokin/safeglove/internal/telemetry"
)

const (
	// DefaultTick is the fusion recomputation interval without events.
	DefaultTick = 100 * time.Millisecond
	// alarmTimeout bounds one run of the local alarm.
	alarmTimeout = 30 * time.Second
)

// ErrSessionStopped is returned by control requests after the loop has exited.
var ErrSessionStopped = errors.New("session is stopped")

// Alarm is raised for every critical dispatch failure.
type Alarm interface {
	Raise(ctx context.Context, failure threat.CriticalDispatchFailure) error
}

// SessionOptions holds the collaborators of a Session.
type SessionOptions struct {
	Bus         *bus.Bus
	Fusion      *fusion.Engine
	Machine     *escalation.Machine
	Coordinator *dispatch.Coordinator
	// Observer receives scores, transitions and sensor health changes.
	Observer telemetry.Observer
	// Alarm is optional.
	Alarm Alarm
	Tick  time.Duration
	// NewID generates session IDs; defaults to random UUIDs.
	NewID func() string
}

// Session is one active monitoring session.
type Session struct {
	opts     SessionOptions
	sub      *bus.Subscription
	restarts chan chan struct{}
	done     chan struct{}
	alarms   sync.WaitGroup

	// mu guards the copy of loop state served to readers.
	mu        sync.RWMutex
	sessionID string
	level     threat.Level
	score     threat.ThreatScore
	sensors   map[threat.SourceKind]threat.SensorHealth
}

// NewSession subscribes to the bus so no event published after this call is missed.
func NewSession(opts SessionOptions) *Session {
	if opts.Observer == nil {
		opts.Observer = telemetry.Nop{}
	}

	if opts.Tick <= 0 {
		opts.Tick = DefaultTick
	}

	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}

	return &Session{
		opts:      opts,
		sub:       opts.Bus.Subscribe(bus.All),
		restarts:  make(chan chan struct{}),
		done:      make(chan struct{}),
		sessionID: opts.Machine.SessionID(),
		level:     opts.Machine.Level(),
		score:     threat.ThreatScore{Breakdown: map[threat.SourceKind]float64{}},
		sensors:   make(map[threat.SourceKind]threat.SensorHealth),
	}
}

// Run processes events, ticks and control requests until the context is
// cancelled or the bus stops. It must be called once.
func (s *Session) Run(ctx context.Context) error {
	base := logger.WithName(ctx, "session")
	ctx = logger.WithKV(base, "session_id", s.SessionID())

	defer close(s.done)
	defer s.alarms.Wait()
	defer s.sub.Close()

	ticker := time.NewTicker(s.opts.Tick)
	defer ticker.Stop()

	critical := s.opts.Coordinator.Critical()

	logger.Info(ctx, "Session started")

	for {
		select {
		case <-ctx.Done():
			logger.Info(ctx, "Session stopped")

			return nil
		case ev, ok := <-s.sub.Events():
			if !ok {
				logger.Info(ctx, "Event bus closed, session stopped")

				return nil
			}

			s.evaluate(ctx, s.opts.Fusion.Observe(ev))
		case now := <-ticker.C:
			s.evaluate(ctx, s.opts.Fusion.Tick(now))
			s.checkSensors(ctx, now)
		case reply := <-s.restarts:
			ctx = s.restart(base)

			close(reply)
		case failure, ok := <-critical:
			if !ok {
				critical = nil

				continue
			}

			s.raise(ctx, failure)
		}
	}
}

// Publish hands a producer event to the bus.
func (s *Session) Publish(ctx context.Context, ev threat.SignalEvent) error {
	if err := s.opts.Bus.Publish(ev); err != nil {
		logger.DebugKV(ctx, "Event rejected", "source", string(ev.Source), "error", err)

		return err
	}

	return nil
}

// SessionID returns the current session.
func (s *Session) SessionID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.sessionID
}

// Status returns the observable state of the session.
func (s *Session) Status(context.Context) threat.Snapshot {
	dispatched := s.opts.Coordinator.Status()

	s.mu.RLock()
	snapshot := threat.Snapshot{
		SessionID: s.sessionID,
		Level:     s.level,
		Score: threat.ThreatScore{
			Value:      s.score.Value,
			Breakdown:  make(map[threat.SourceKind]float64, len(s.score.Breakdown)),
			ComputedAt: s.score.ComputedAt,
		},
		Sensors: make([]threat.SensorHealth, 0, len(s.sensors)),
	}

	for source, contribution := range s.score.Breakdown {
		snapshot.Score.Breakdown[source] = contribution
	}

	for _, health := range s.sensors {
		snapshot.Sensors = append(snapshot.Sensors, health)
	}
	s.mu.RUnlock()

	slices.SortFunc(snapshot.Sensors, func(a, b threat.SensorHealth) int {
		return cmp.Compare(a.Source, b.Source)
	})

	snapshot.AutoResponse = dispatched.AutoResponse
	snapshot.Tasks = dispatched.Tasks
	snapshot.ActiveIncident = dispatched.ActiveIncident
	snapshot.Incidents = dispatched.Incidents
	snapshot.CriticalFailures = dispatched.CriticalFailures
	snapshot.PendingEvents = s.opts.Bus.Pending()

	return snapshot
}

// RestartSession returns the session to Safe under a new session ID.
// Fusion windows are cleared, cancellable tasks are cancelled and the open
// incident is resolved; no transition is emitted.
func (s *Session) RestartSession(ctx context.Context) (threat.Snapshot, error) {
	reply := make(chan struct{})

	select {
	case s.restarts <- reply:
	case <-s.done:
		return threat.Snapshot{}, ErrSessionStopped
	case <-ctx.Done():
		return threat.Snapshot{}, ctx.Err()
	}

	select {
	case <-reply:
	case <-s.done:
		return threat.Snapshot{}, ErrSessionStopped
	case <-ctx.Done():
		return threat.Snapshot{}, ctx.Err()
	}

	return s.Status(ctx), nil
}

// SetAutoResponse enables or disables SMS and authority-contact actions.
func (s *Session) SetAutoResponse(ctx context.Context, enabled bool) (threat.Snapshot, error) {
	s.opts.Coordinator.SetAutoResponse(enabled)

	return s.Status(ctx), nil
}

// TestSystems probes every action executor.
func (s *Session) TestSystems(ctx context.Context) []threat.SystemCheck {
	results := s.opts.Coordinator.TestSystems(ctx)
	checks := make([]threat.SystemCheck, 0, len(results))

	for _, result := range results {
		check := threat.SystemCheck{
			Kind:       result.Kind,
			Registered: result.Registered,
		}

		if result.Err != nil {
			check.Error = result.Err.Error()
		}

		checks = append(checks, check)
	}

	return checks
}

// evaluate runs one score through escalation and dispatch.
func (s *Session) evaluate(ctx context.Context, score threat.ThreatScore) {
	s.opts.Observer.ScoreComputed(ctx, score)

	transition, changed := s.opts.Machine.Evaluate(score)

	s.mu.Lock()
	s.score = score
	s.level = s.opts.Machine.Level()
	s.mu.Unlock()

	if !changed {
		return
	}

	s.opts.Observer.LevelChanged(ctx, transition)

	err := s.opts.Coordinator.Dispatch(ctx, transition)
	switch {
	case err == nil:
	case errors.Is(err, dispatch.ErrDuplicateTransition):
		logger.DebugKV(ctx, "Transition already dispatched", "transition_id", transition.ID)
	default:
		logger.ErrorKV(ctx, "Failed to dispatch transition",
			"transition_id", transition.ID,
			"to", transition.To.String(),
			"error", err)
	}
}

// checkSensors reports sources whose health changed.
func (s *Session) checkSensors(ctx context.Context, now time.Time) {
	var changed []threat.SensorHealth

	s.mu.Lock()

	for _, health := range s.opts.Fusion.Stale(now) {
		previous, seen := s.sensors[health.Source]
		if !seen || previous.Stale != health.Stale {
			changed = append(changed, health)
		}

		s.sensors[health.Source] = health
	}

	s.mu.Unlock()

	for _, health := range changed {
		s.opts.Observer.SensorHealth(ctx, health)
	}
}

// restart resets the loop state and returns the context of the new session.
func (s *Session) restart(base context.Context) context.Context {
	var (
		id  = s.opts.NewID()
		now = time.Now()
	)

	s.opts.Fusion.Reset()
	s.opts.Machine.Reset(id)
	s.opts.Coordinator.Reset(now)

	s.mu.Lock()
	previous := s.sessionID
	s.sessionID = id
	s.level = threat.Safe
	s.score = threat.ThreatScore{Breakdown: map[threat.SourceKind]float64{}, ComputedAt: now}
	clear(s.sensors)
	s.mu.Unlock()

	ctx := logger.WithKV(base, "session_id", id)
	logger.InfoKV(ctx, "Session restarted", "previous_session_id", previous)

	return ctx
}

// raise runs the local alarm without holding up the evaluation loop.
func (s *Session) raise(ctx context.Context, failure threat.CriticalDispatchFailure) {
	if s.opts.Alarm == nil {
		return
	}

	s.alarms.Add(1)

	go func() {
		defer s.alarms.Done()

		alarmCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alarmTimeout)
		defer cancel()

		if err := s.opts.Alarm.Raise(alarmCtx, failure); err != nil {
			logger.ErrorKV(ctx, "Local alarm failed", "task_id", failure.Task.ID, "error", err)
		}
	}()
}
