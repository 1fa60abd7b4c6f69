package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
	"github.com/oshokin/safeglove/internal/repository/dedup"
	"github.com/oshokin/safeglove/internal/telemetry"
)

const (
	// DefaultMaxRetries is the number of attempts per task.
	DefaultMaxRetries = 3
	// DefaultTimeout bounds one attempt.
	DefaultTimeout = 5 * time.Second
	// DefaultBackoff is the first retry delay.
	DefaultBackoff = 200 * time.Millisecond
	// DefaultMaxBackoff caps the retry delay.
	DefaultMaxBackoff = 2 * time.Second
	// DefaultDedupWindow is how long transition IDs are remembered.
	DefaultDedupWindow = 30 * time.Second
	// DefaultDedupTimeout bounds one call to the dedup store.
	DefaultDedupTimeout = 250 * time.Millisecond
	// DefaultIncidentHistory bounds the resolved incidents kept.
	DefaultIncidentHistory = 100
	// DefaultProbeTimeout bounds one executor self-test.
	DefaultProbeTimeout = 5 * time.Second

	// retainedTasks bounds the terminal tasks kept for status reports.
	retainedTasks = 64
	// criticalBuffer is the capacity of the critical failure channel.
	criticalBuffer = 16
)

var (
	// ErrDuplicateTransition is returned for a transition ID seen within the dedup window.
	ErrDuplicateTransition = errors.New("transition already dispatched")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("dispatch coordinator is closed")
	// errNoExecutor is the permanent failure of an action kind without executor.
	errNoExecutor = errors.New("no executor registered")
	// errInvalidLevel rejects transitions to unknown levels.
	errInvalidLevel = errors.New("invalid transition level")
)

// DefaultCancelOnDeescalation lists the kinds a lower level cancels.
// Contacting the authorities is never withdrawn.
func DefaultCancelOnDeescalation() []threat.ActionKind {
	return []threat.ActionKind{threat.ActionHaptic, threat.ActionSMS, threat.ActionLivestream}
}

// Options configures a Coordinator.
type Options struct {
	// Plan maps levels to actions; defaults to DefaultPlan.
	Plan Plan
	// Executors performs the actions per kind.
	Executors map[threat.ActionKind]Executor
	// Fallbacks are secondary routes; only SMS uses one.
	Fallbacks map[threat.ActionKind]Executor
	// Deduper remembers transition IDs; defaults to an in-memory store.
	Deduper     Deduper
	DedupWindow time.Duration
	// DedupTimeout bounds the Deduper call made by Dispatch.
	DedupTimeout time.Duration
	MaxRetries   int
	Timeout      time.Duration
	Backoff      time.Duration
	MaxBackoff   time.Duration
	// SMSContacts are the primary SMS recipients.
	SMSContacts []string
	// SMSFallbackContacts receive SMS after a permanent primary failure.
	SMSFallbackContacts []string
	// AuthorityNumber is the recipient of authority-contact actions.
	AuthorityNumber string
	// Location is quoted in outgoing messages.
	Location string
	// AutoResponse enables SMS and authority-contact actions.
	AutoResponse bool
	// CancelOnDeescalation lists kinds cancelled by a lower level.
	CancelOnDeescalation []threat.ActionKind
	// Observer receives task and critical failure events.
	Observer telemetry.Observer
	// Store persists resolved incidents; nil disables persistence.
	Store IncidentStore
	// Incidents seeds the history, e.g. from a previous run.
	Incidents       []*threat.Incident
	IncidentHistory int
	// NewID generates task and incident IDs.
	NewID func() string
	// Now is the clock used for task timestamps.
	Now func() time.Time
}

func (o *Options) setDefaults() {
	if o.Plan == nil {
		o.Plan = DefaultPlan()
	}

	if o.Deduper == nil {
		o.Deduper = dedup.NewMemory()
	}

	if o.DedupWindow <= 0 {
		o.DedupWindow = DefaultDedupWindow
	}

	if o.DedupTimeout <= 0 {
		o.DedupTimeout = DefaultDedupTimeout
	}

	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}

	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}

	if o.Backoff <= 0 {
		o.Backoff = DefaultBackoff
	}

	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = max(o.Backoff, DefaultMaxBackoff)
	}

	if o.CancelOnDeescalation == nil {
		o.CancelOnDeescalation = DefaultCancelOnDeescalation()
	}

	if o.Observer == nil {
		o.Observer = telemetry.Nop{}
	}

	if o.IncidentHistory <= 0 {
		o.IncidentHistory = DefaultIncidentHistory
	}

	if o.NewID == nil {
		o.NewID = uuid.NewString
	}

	if o.Now == nil {
		o.Now = time.Now
	}
}

// task is the live state of one DispatchTask.
type task struct {
	state      threat.DispatchTask
	transition threat.LevelTransition
	ctx        context.Context //nolint:containedctx // Cancellation token of the task.
	cancel     context.CancelFunc
	done       chan struct{}
}

// Status is a snapshot of the coordinator.
type Status struct {
	// Level is the destination of the last dispatched transition.
	Level threat.Level
	// AutoResponse tells whether SMS and authority actions run.
	AutoResponse bool
	// Tasks lists outstanding and recently finished tasks, oldest first.
	Tasks []threat.DispatchTask
	// ActiveIncident is the open incident, nil when none.
	ActiveIncident *threat.Incident
	// Incidents is the resolved history, oldest first.
	Incidents []*threat.Incident
	// CriticalFailures counts reported critical failures.
	CriticalFailures int
}

// ProbeResult is the self-test outcome of one action kind.
type ProbeResult struct {
	Kind threat.ActionKind
	// Registered is false when no executor handles the kind.
	Registered bool
	// Err is the probe failure, nil when healthy or not probeable.
	Err error
}

// Coordinator runs the response plan of every level transition.
type Coordinator struct {
	opts     Options
	ctx      context.Context //nolint:containedctx // Parent of every task context.
	stop     context.CancelFunc
	critical chan threat.CriticalDispatchFailure
	wg       sync.WaitGroup

	mu           sync.Mutex
	closed       bool
	autoResponse bool
	level        threat.Level
	barrier      map[threat.ActionKind]chan struct{}
	tasks        []*task
	incident     *threat.Incident
	history      []*threat.Incident
	criticals    int
	persistSeq   uint64

	persistMu sync.Mutex
	savedSeq  uint64
}

// New creates a coordinator. ctx carries the logger and bounds every task.
func New(ctx context.Context, opts Options) *Coordinator {
	opts.setDefaults()

	base, stop := context.WithCancel(logger.WithName(ctx, "dispatch"))

	history := make([]*threat.Incident, 0, len(opts.Incidents))
	for _, incident := range opts.Incidents {
		history = append(history, incident.Clone())
	}

	if len(history) > opts.IncidentHistory {
		history = history[len(history)-opts.IncidentHistory:]
	}

	return &Coordinator{
		opts:         opts,
		ctx:          base,
		stop:         stop,
		critical:     make(chan threat.CriticalDispatchFailure, criticalBuffer),
		autoResponse: opts.AutoResponse,
		barrier:      make(map[threat.ActionKind]chan struct{}),
		history:      history,
	}
}

// markOnce asks the dedup store within DedupTimeout; Dispatch runs on the
// evaluation timeline and must not wait on a slow store.
func (c *Coordinator) markOnce(ctx context.Context, id string) (bool, error) {
	dedupCtx, cancel := context.WithTimeout(ctx, c.opts.DedupTimeout)
	defer cancel()

	type result struct {
		fresh bool
		err   error
	}

	done := make(chan result, 1)

	go func() {
		fresh, err := c.opts.Deduper.MarkOnce(dedupCtx, id, c.opts.DedupWindow)
		done <- result{fresh: fresh, err: err}
	}()

	select {
	case r := <-done:
		return r.fresh, r.err
	case <-dedupCtx.Done():
		return false, fmt.Errorf("mark transition: %w", dedupCtx.Err())
	}
}

// Critical delivers every CriticalDispatchFailure. The channel is closed by Close.
func (c *Coordinator) Critical() <-chan threat.CriticalDispatchFailure {
	return c.critical
}

// Dispatch starts the tasks of a transition and returns without waiting for them.
// A transition ID already dispatched within the dedup window yields ErrDuplicateTransition.
func (c *Coordinator) Dispatch(ctx context.Context, transition threat.LevelTransition) error {
	if !transition.To.Valid() {
		return fmt.Errorf("%w: %d", errInvalidLevel, transition.To)
	}

	fresh, err := c.markOnce(ctx, transition.ID)
	if err != nil {
		// A lost response is worse than a repeated one.
		logger.WarnKV(ctx, "Transition dedup store unavailable, dispatching anyway",
			"transition_id", transition.ID,
			"error", err)

		fresh = true
	}

	if !fresh {
		return fmt.Errorf("%w: %s", ErrDuplicateTransition, transition.ID)
	}

	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return ErrClosed
	}

	now := c.opts.Now()
	c.level = transition.To
	persist := c.trackIncident(transition)
	c.supersede(transition)

	var (
		created = make([]threat.DispatchTask, 0, len(c.opts.Plan[transition.To]))
		starts  []func()
	)

	for _, step := range c.opts.Plan[transition.To] {
		t := c.newTask(transition, step, now)
		c.tasks = append(c.tasks, t)

		if !c.autoResponse && requiresAutoResponse(step.Kind) {
			t.state.Status = threat.TaskSkipped
			t.cancel()
			close(t.done)
			c.recordAction(t)
			created = append(created, t.state.Clone())

			continue
		}

		previous := c.barrier[step.Kind]
		c.barrier[step.Kind] = t.done

		c.wg.Add(1)

		starts = append(starts, func() { go c.run(t, previous) })
		created = append(created, t.state.Clone())
	}

	save := c.schedulePersist(persist)
	c.trimTasks()
	c.mu.Unlock()

	for _, state := range created {
		c.opts.Observer.TaskChanged(c.ctx, state)
	}

	for _, start := range starts {
		start()
	}

	if save != nil {
		go save()
	}

	return nil
}

// SetAutoResponse enables or disables SMS and authority-contact actions.
func (c *Coordinator) SetAutoResponse(enabled bool) {
	c.mu.Lock()
	c.autoResponse = enabled
	c.mu.Unlock()

	state := "disabled"
	if enabled {
		state = "enabled"
	}

	logger.InfoKV(c.ctx, "Automatic response "+state)
}

// AutoResponse reports whether SMS and authority-contact actions run.
func (c *Coordinator) AutoResponse() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.autoResponse
}

// Reset starts a new session: outstanding tasks of cancellable kinds are
// cancelled and the active incident is resolved.
func (c *Coordinator) Reset(at time.Time) {
	c.mu.Lock()

	for _, t := range c.tasks {
		if !t.state.Status.Terminal() && slices.Contains(c.opts.CancelOnDeescalation, t.state.Action.Kind) {
			t.cancel()
		}
	}

	c.level = threat.Safe

	var save func()

	if c.incident != nil {
		c.resolveIncident(at)
		save = c.schedulePersist(true)
	}

	c.mu.Unlock()

	if save != nil {
		go save()
	}
}

// Status returns a snapshot of tasks and incidents.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	status := Status{
		Level:            c.level,
		AutoResponse:     c.autoResponse,
		Tasks:            make([]threat.DispatchTask, 0, len(c.tasks)),
		ActiveIncident:   c.incident.Clone(),
		Incidents:        c.incidentsLocked(),
		CriticalFailures: c.criticals,
	}

	for _, t := range c.tasks {
		status.Tasks = append(status.Tasks, t.state.Clone())
	}

	return status
}

// TestSystems probes every registered executor that supports it.
func (c *Coordinator) TestSystems(ctx context.Context) []ProbeResult {
	results := make([]ProbeResult, 0, len(threat.ActionKinds()))

	for _, kind := range threat.ActionKinds() {
		result := ProbeResult{Kind: kind}

		executor, ok := c.opts.Executors[kind]
		if ok {
			result.Registered = true

			if prober, ok := executor.(Prober); ok {
				probeCtx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
				result.Err = prober.Probe(probeCtx)

				cancel()
			}
		}

		logger.InfoKV(ctx, "Executor self-test",
			"kind", string(kind),
			"registered", result.Registered,
			"error", result.Err)

		results = append(results, result)
	}

	return results
}

// Close cancels outstanding tasks, waits for them and saves the incident history.
func (c *Coordinator) Close(ctx context.Context) error {
	c.mu.Lock()

	if c.closed {
		c.mu.Unlock()

		return nil
	}

	c.closed = true
	c.mu.Unlock()

	c.stop()

	done := make(chan struct{})

	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return fmt.Errorf("wait for dispatch tasks: %w", ctx.Err())
	}

	close(c.critical)

	if c.opts.Store == nil {
		return nil
	}

	c.mu.Lock()
	incidents := c.incidentsLocked()
	c.mu.Unlock()

	if err := c.opts.Store.Save(ctx, incidents); err != nil {
		return fmt.Errorf("save incidents: %w", err)
	}

	return nil
}

// run executes one task after the previous task of its kind finished.
func (c *Coordinator) run(t *task, previous <-chan struct{}) {
	defer c.wg.Done()
	defer close(t.done)

	ctx := t.ctx

	if previous != nil {
		select {
		case <-previous:
		case <-ctx.Done():
			c.finish(t, threat.TaskCancelled, nil)

			return
		}
	}

	err := c.execute(ctx, t, c.opts.Executors[t.state.Action.Kind])

	switch {
	case err == nil:
		c.finish(t, threat.TaskSucceeded, nil)
	case ctx.Err() != nil:
		c.finish(t, threat.TaskCancelled, nil)
	default:
		c.finish(t, threat.TaskFailedPermanent, err)

		switch t.state.Action.Kind {
		case threat.ActionSMS:
			c.fallback(t)
		case threat.ActionAuthorityContact:
			c.reportCritical(t, err)
		default:
		}
	}
}

// execute runs the attempts of a task and returns nil, the cancellation
// error or a permanent failure.
func (c *Coordinator) execute(ctx context.Context, t *task, executor Executor) error {
	if executor == nil {
		return threat.Permanent(fmt.Errorf("%w for %s", errNoExecutor, t.state.Action.Kind))
	}

	action := t.state.Action.Clone()
	backoff := c.opts.Backoff

	for attempt := 1; ; attempt++ {
		c.update(t, func(state *threat.DispatchTask) {
			state.Status = threat.TaskInFlight
			state.Attempts = attempt
		})

		err := c.attempt(ctx, executor, action)
		if err == nil {
			return nil
		}

		if ctx.Err() != nil {
			return ctx.Err()
		}

		c.mu.Lock()
		t.state.LastError = err.Error()
		c.mu.Unlock()

		if threat.IsPermanent(err) {
			return err
		}

		if attempt >= c.opts.MaxRetries {
			return threat.Permanent(fmt.Errorf("retries exhausted after %d attempts: %w", attempt, err))
		}

		timer := time.NewTimer(backoff)

		select {
		case <-ctx.Done():
			timer.Stop()

			return ctx.Err()
		case <-timer.C:
		}

		backoff = min(backoff*2, c.opts.MaxBackoff)
	}
}

// attempt invokes the executor once under the per-attempt timeout.
// Running out of time is a transient failure.
func (c *Coordinator) attempt(ctx context.Context, executor Executor, action threat.Action) error {
	attemptCtx, cancel := context.WithTimeout(ctx, c.opts.Timeout)
	defer cancel()

	err := executor.Execute(attemptCtx, action)
	if err != nil && ctx.Err() == nil && errors.Is(attemptCtx.Err(), context.DeadlineExceeded) {
		return threat.Transient(fmt.Errorf("attempt timed out after %s: %w", c.opts.Timeout, err))
	}

	return err
}

// fallback sends the SMS once more to the fallback contacts.
func (c *Coordinator) fallback(primary *task) {
	if len(c.opts.SMSFallbackContacts) == 0 {
		return
	}

	executor, ok := c.opts.Fallbacks[threat.ActionSMS]
	if !ok {
		executor = c.opts.Executors[threat.ActionSMS]
	}

	c.mu.Lock()

	action := primary.state.Action.Clone()
	action.Fallback = true
	action.Contacts = slices.Clone(c.opts.SMSFallbackContacts)

	t := &task{
		state: threat.DispatchTask{
			ID:        c.opts.NewID(),
			Action:    action,
			Status:    threat.TaskPending,
			UpdatedAt: c.opts.Now(),
		},
		transition: primary.transition,
		ctx:        primary.ctx,
		cancel:     primary.cancel,
		done:       primary.done,
	}
	c.tasks = append(c.tasks, t)
	c.trimTasks()
	state := t.state.Clone()
	c.mu.Unlock()

	c.opts.Observer.TaskChanged(c.ctx, state)

	err := c.execute(t.ctx, t, executor)

	switch {
	case err == nil:
		c.finish(t, threat.TaskSucceeded, nil)
	case t.ctx.Err() != nil:
		c.finish(t, threat.TaskCancelled, nil)
	default:
		c.finish(t, threat.TaskFailedPermanent, err)
	}
}

// reportCritical publishes the permanent failure of an authority contact.
func (c *Coordinator) reportCritical(t *task, err error) {
	c.mu.Lock()
	c.criticals++
	failure := threat.CriticalDispatchFailure{
		Task:       t.state.Clone(),
		Transition: t.transition,
		Err:        err,
		At:         c.opts.Now(),
	}
	c.mu.Unlock()

	c.opts.Observer.CriticalFailure(c.ctx, failure)

	select {
	case c.critical <- failure:
	case <-c.ctx.Done():
		logger.ErrorKV(c.ctx, "Critical failure not delivered, coordinator is closing",
			"task_id", failure.Task.ID)
	}
}

// finish moves a task to a terminal status.
func (c *Coordinator) finish(t *task, status threat.TaskStatus, err error) {
	c.update(t, func(state *threat.DispatchTask) {
		state.Status = status

		if err != nil {
			state.LastError = err.Error()
		}
	})
}

// update mutates the task state and notifies the observer.
func (c *Coordinator) update(t *task, mutate func(state *threat.DispatchTask)) {
	c.mu.Lock()
	mutate(&t.state)
	t.state.UpdatedAt = c.opts.Now()

	if t.state.Status.Terminal() {
		c.recordAction(t)
	}

	state := t.state.Clone()
	c.mu.Unlock()

	c.opts.Observer.TaskChanged(c.ctx, state)
}

// newTask builds a pending task; the caller holds c.mu.
func (c *Coordinator) newTask(transition threat.LevelTransition, step Step, now time.Time) *task {
	action := threat.Action{
		Kind:         step.Kind,
		Target:       step.Target,
		Level:        transition.To,
		TransitionID: transition.ID,
	}

	if c.incident != nil {
		action.IncidentID = c.incident.ID
	}

	switch step.Kind {
	case threat.ActionSMS:
		action.Contacts = slices.Clone(c.opts.SMSContacts)
		action.Message = ContactMessage(transition.To, c.opts.Location, transition.At)
	case threat.ActionAuthorityContact:
		if c.opts.AuthorityNumber != "" {
			action.Contacts = []string{c.opts.AuthorityNumber}
		}

		action.Message = AuthorityMessage(transition.To, c.opts.Location, transition.At, action.IncidentID)
	default:
	}

	id := c.opts.NewID()
	ctx, cancel := context.WithCancel(logger.WithKV(c.ctx, "task_id", id))

	return &task{
		state: threat.DispatchTask{
			ID:        id,
			Action:    action,
			Status:    threat.TaskPending,
			UpdatedAt: now,
		},
		transition: transition,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// supersede cancels outstanding tasks made obsolete by transition; the caller holds c.mu.
func (c *Coordinator) supersede(transition threat.LevelTransition) {
	for _, t := range c.tasks {
		if t.state.Status.Terminal() || t.transition.ID == transition.ID {
			continue
		}

		kind := t.state.Action.Kind
		replaced := c.opts.Plan.Has(transition.To, kind)
		withdrawn := transition.To < t.state.Action.Level && slices.Contains(c.opts.CancelOnDeescalation, kind)

		if replaced || withdrawn {
			t.cancel()
		}
	}
}

// trimTasks drops the oldest terminal tasks beyond the retention limit; the caller holds c.mu.
func (c *Coordinator) trimTasks() {
	excess := len(c.tasks) - retainedTasks
	if excess <= 0 {
		return
	}

	c.tasks = slices.DeleteFunc(c.tasks, func(t *task) bool {
		if excess > 0 && t.state.Status.Terminal() {
			excess--

			return true
		}

		return false
	})
}

func requiresAutoResponse(kind threat.ActionKind) bool {
	return kind == threat.ActionSMS || kind == threat.ActionAuthorityContact
}
