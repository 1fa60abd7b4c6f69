package dispatch

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"testing/synctest"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/telemetry"
)

var (
	errGatewayDown   = errors.New("gateway down")
	errInvalidNumber = errors.New("invalid number")
	errLineBusy      = errors.New("line busy")
	errStoreDown     = errors.New("store down")
)

// fakeDeduper delegates MarkOnce to fn.
type fakeDeduper struct {
	fn func(ctx context.Context) (bool, error)
}

func (d fakeDeduper) MarkOnce(ctx context.Context, _ string, _ time.Duration) (bool, error) {
	return d.fn(ctx)
}

// fakeExecutor records invocations and delegates to fn.
type fakeExecutor struct {
	mu        sync.Mutex
	calls     []threat.Action
	times     []time.Time
	active    int
	maxActive int
	fn        func(ctx context.Context, call int, action threat.Action) error
}

func (f *fakeExecutor) Execute(ctx context.Context, action threat.Action) error {
	f.mu.Lock()
	f.calls = append(f.calls, action.Clone())
	f.times = append(f.times, time.Now())
	call := len(f.calls)
	f.active++
	f.maxActive = max(f.maxActive, f.active)
	fn := f.fn
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if fn == nil {
		return nil
	}

	return fn(ctx, call, action)
}

func (f *fakeExecutor) Calls() []threat.Action {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]threat.Action(nil), f.calls...)
}

func (f *fakeExecutor) Times() []time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]time.Time(nil), f.times...)
}

func (f *fakeExecutor) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.maxActive
}

// probingExecutor is a fakeExecutor with a self-test.
type probingExecutor struct {
	fakeExecutor
	probeErr error
}

func (p *probingExecutor) Probe(context.Context) error {
	return p.probeErr
}

// recorder keeps task and critical failure events.
type recorder struct {
	telemetry.Nop

	mu       sync.Mutex
	tasks    []threat.DispatchTask
	critical []threat.CriticalDispatchFailure
}

func (r *recorder) TaskChanged(_ context.Context, task threat.DispatchTask) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = append(r.tasks, task)
}

func (r *recorder) CriticalFailure(_ context.Context, failure threat.CriticalDispatchFailure) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.critical = append(r.critical, failure)
}

func (r *recorder) Critical() []threat.CriticalDispatchFailure {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]threat.CriticalDispatchFailure(nil), r.critical...)
}

// memoryStore keeps every saved snapshot.
type memoryStore struct {
	mu    sync.Mutex
	saves [][]*threat.Incident
}

func (s *memoryStore) Save(_ context.Context, incidents []*threat.Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.saves = append(s.saves, incidents)

	return nil
}

func (s *memoryStore) Last() []*threat.Incident {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.saves) == 0 {
		return nil
	}

	return s.saves[len(s.saves)-1]
}

type fixture struct {
	c         *Coordinator
	observer  *recorder
	executors map[threat.ActionKind]*fakeExecutor
}

func newFixture(t *testing.T, mutate func(*Options)) *fixture {
	t.Helper()

	var ids atomic.Int64

	f := &fixture{
		observer:  new(recorder),
		executors: make(map[threat.ActionKind]*fakeExecutor),
	}

	opts := Options{
		Executors:           make(map[threat.ActionKind]Executor),
		SMSContacts:         []string{"+15550100"},
		SMSFallbackContacts: []string{"+15550200"},
		AuthorityNumber:     "112",
		Location:            "Main st 1",
		AutoResponse:        true,
		Observer:            f.observer,
		NewID: func() string {
			return "id-" + strconv.FormatInt(ids.Add(1), 10)
		},
	}

	for _, kind := range threat.ActionKinds() {
		executor := new(fakeExecutor)
		f.executors[kind] = executor
		opts.Executors[kind] = executor
	}

	if mutate != nil {
		mutate(&opts)
	}

	f.c = New(context.Background(), opts)

	return f
}

func (f *fixture) close(t *testing.T) {
	t.Helper()

	require.NoError(t, f.c.Close(context.Background()))
}

func (f *fixture) tasksOf(kind threat.ActionKind) []threat.DispatchTask {
	var tasks []threat.DispatchTask

	for _, task := range f.c.Status().Tasks {
		if task.Action.Kind == kind {
			tasks = append(tasks, task)
		}
	}

	return tasks
}

func transitionTo(id string, from, to threat.Level) threat.LevelTransition {
	return threat.LevelTransition{
		ID:        id,
		SessionID: "session-1",
		From:      from,
		To:        to,
		Score:     0.9,
		At:        time.Now(),
	}
}

// settle lets retries and backoffs run to completion.
func settle() {
	time.Sleep(time.Minute)
	synctest.Wait()
}

// TestDispatch_RunsPlan verifies that every action of the level is executed once.
func TestDispatch_RunsPlan(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		synctest.Wait()

		haptic := f.executors[threat.ActionHaptic].Calls()
		require.Len(t, haptic, 1)
		require.Equal(t, "rapid-pulse", haptic[0].Target)
		require.Equal(t, threat.Alert, haptic[0].Level)
		require.Equal(t, "t-1", haptic[0].TransitionID)

		sms := f.executors[threat.ActionSMS].Calls()
		require.Len(t, sms, 1)
		require.Equal(t, []string{"+15550100"}, sms[0].Contacts)
		require.Contains(t, sms[0].Message, "Alert level: alert")
		require.Contains(t, sms[0].Message, "Main st 1")
		require.NotEmpty(t, sms[0].IncidentID)
		require.False(t, sms[0].Fallback)

		livestream := f.executors[threat.ActionLivestream].Calls()
		require.Len(t, livestream, 1)
		require.Equal(t, "start", livestream[0].Target)

		require.Empty(t, f.executors[threat.ActionAuthorityContact].Calls())

		status := f.c.Status()
		require.Equal(t, threat.Alert, status.Level)
		require.Len(t, status.Tasks, 3)

		for _, task := range status.Tasks {
			require.Equal(t, threat.TaskSucceeded, task.Status)
			require.Equal(t, 1, task.Attempts)
		}

		require.NotNil(t, status.ActiveIncident)
		require.Equal(t, threat.IncidentActive, status.ActiveIncident.Status)
		require.Len(t, status.ActiveIncident.Actions, 3)
	})
}

// TestDispatch_DuplicateTransition verifies that a repeated transition ID creates no tasks.
func TestDispatch_DuplicateTransition(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		transition := transitionTo("t-1", threat.Safe, threat.Emergency)

		require.NoError(t, f.c.Dispatch(context.Background(), transition))
		require.ErrorIs(t, f.c.Dispatch(context.Background(), transition), ErrDuplicateTransition)
		synctest.Wait()

		for _, kind := range threat.ActionKinds() {
			require.Len(t, f.executors[kind].Calls(), 1, "kind %s", kind)
		}

		require.Len(t, f.c.Status().Tasks, 4)
	})
}

// TestDispatch_DedupStoreFailsOpen verifies that a failing dedup store does not suppress the response.
func TestDispatch_DedupStoreFailsOpen(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, func(o *Options) {
			o.Deduper = fakeDeduper{fn: func(context.Context) (bool, error) {
				return false, errStoreDown
			}}
		})
		defer f.close(t)

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Emergency)))
		synctest.Wait()

		for _, kind := range threat.ActionKinds() {
			require.Len(t, f.executors[kind].Calls(), 1, "kind %s", kind)
		}
	})
}

// TestDispatch_StalledDedupStore verifies that Dispatch gives up on the store
// after DedupTimeout and still starts the tasks.
func TestDispatch_StalledDedupStore(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, func(o *Options) {
			o.DedupTimeout = 50 * time.Millisecond
			o.Deduper = fakeDeduper{fn: func(ctx context.Context) (bool, error) {
				<-ctx.Done()

				return false, ctx.Err()
			}}
		})
		defer f.close(t)

		start := time.Now()

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Emergency)))
		require.Equal(t, 50*time.Millisecond, time.Since(start))

		synctest.Wait()

		for _, kind := range threat.ActionKinds() {
			require.Len(t, f.executors[kind].Calls(), 1, "kind %s", kind)
		}
	})
}

// TestDispatch_RetryTransient verifies exponential backoff between attempts.
func TestDispatch_RetryTransient(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		f.executors[threat.ActionSMS].fn = func(_ context.Context, call int, _ threat.Action) error {
			if call < 3 {
				return errGatewayDown
			}

			return nil
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		settle()

		times := f.executors[threat.ActionSMS].Times()
		require.Len(t, times, 3)
		require.Equal(t, DefaultBackoff, times[1].Sub(times[0]))
		require.Equal(t, 2*DefaultBackoff, times[2].Sub(times[1]))

		tasks := f.tasksOf(threat.ActionSMS)
		require.Len(t, tasks, 1)
		require.Equal(t, threat.TaskSucceeded, tasks[0].Status)
		require.Equal(t, 3, tasks[0].Attempts)
		require.Equal(t, errGatewayDown.Error(), tasks[0].LastError)
	})
}

// TestDispatch_TimeoutIsTransient verifies that hung attempts are timed out and retried.
func TestDispatch_TimeoutIsTransient(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, func(o *Options) {
			o.Timeout = time.Second
			o.SMSFallbackContacts = nil
		})
		defer f.close(t)

		f.executors[threat.ActionSMS].fn = func(ctx context.Context, _ int, _ threat.Action) error {
			<-ctx.Done()

			return ctx.Err()
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		settle()

		times := f.executors[threat.ActionSMS].Times()
		require.Len(t, times, DefaultMaxRetries)
		require.Equal(t, time.Second+DefaultBackoff, times[1].Sub(times[0]))

		tasks := f.tasksOf(threat.ActionSMS)
		require.Len(t, tasks, 1)
		require.Equal(t, threat.TaskFailedPermanent, tasks[0].Status)
		require.Equal(t, DefaultMaxRetries, tasks[0].Attempts)
		require.Contains(t, tasks[0].LastError, "timed out")
	})
}

// TestDispatch_PermanentFailureNotRetried verifies a single attempt for permanent errors.
func TestDispatch_PermanentFailureNotRetried(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, func(o *Options) {
			o.SMSFallbackContacts = nil
		})
		defer f.close(t)

		f.executors[threat.ActionSMS].fn = func(context.Context, int, threat.Action) error {
			return threat.Permanent(errInvalidNumber)
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		settle()

		require.Len(t, f.executors[threat.ActionSMS].Calls(), 1)

		tasks := f.tasksOf(threat.ActionSMS)
		require.Len(t, tasks, 1)
		require.Equal(t, threat.TaskFailedPermanent, tasks[0].Status)
		require.Contains(t, tasks[0].LastError, errInvalidNumber.Error())
		require.Empty(t, f.observer.Critical())
	})
}

// TestDispatch_SMSFallbackFails verifies the single fallback attempt and the absence of a critical report.
func TestDispatch_SMSFallbackFails(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		secondary := &fakeExecutor{
			fn: func(context.Context, int, threat.Action) error {
				return threat.Permanent(errGatewayDown)
			},
		}

		f := newFixture(t, func(o *Options) {
			o.Fallbacks = map[threat.ActionKind]Executor{threat.ActionSMS: secondary}
		})
		defer f.close(t)

		f.executors[threat.ActionSMS].fn = func(context.Context, int, threat.Action) error {
			return threat.Permanent(errGatewayDown)
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		settle()

		require.Len(t, f.executors[threat.ActionSMS].Calls(), 1)

		fallbackCalls := secondary.Calls()
		require.Len(t, fallbackCalls, 1)
		require.True(t, fallbackCalls[0].Fallback)
		require.Equal(t, []string{"+15550200"}, fallbackCalls[0].Contacts)

		tasks := f.tasksOf(threat.ActionSMS)
		require.Len(t, tasks, 2)

		for _, task := range tasks {
			require.Equal(t, threat.TaskFailedPermanent, task.Status)
		}

		require.True(t, tasks[1].Action.Fallback)
		require.Empty(t, f.observer.Critical())
		require.Empty(t, f.c.Critical())
		require.Zero(t, f.c.Status().CriticalFailures)
	})
}

// TestDispatch_SMSFallbackSucceeds verifies that the primary executor serves
// the fallback route when no secondary is registered.
func TestDispatch_SMSFallbackSucceeds(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		f.executors[threat.ActionSMS].fn = func(_ context.Context, _ int, action threat.Action) error {
			if action.Fallback {
				return nil
			}

			return threat.Permanent(errInvalidNumber)
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		settle()

		calls := f.executors[threat.ActionSMS].Calls()
		require.Len(t, calls, 2)
		require.Equal(t, []string{"+15550200"}, calls[1].Contacts)

		tasks := f.tasksOf(threat.ActionSMS)
		require.Len(t, tasks, 2)
		require.Equal(t, threat.TaskFailedPermanent, tasks[0].Status)
		require.Equal(t, threat.TaskSucceeded, tasks[1].Status)
	})
}

// TestDispatch_AuthorityContactCritical verifies the critical report after exhaustion.
func TestDispatch_AuthorityContactCritical(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		f.executors[threat.ActionAuthorityContact].fn = func(context.Context, int, threat.Action) error {
			return errLineBusy
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Emergency)))
		settle()

		calls := f.executors[threat.ActionAuthorityContact].Calls()
		require.Len(t, calls, DefaultMaxRetries)
		require.Equal(t, []string{"112"}, calls[0].Contacts)
		require.Contains(t, calls[0].Message, "Immediate response required.")

		select {
		case failure := <-f.c.Critical():
			require.Equal(t, "t-1", failure.Transition.ID)
			require.Equal(t, threat.ActionAuthorityContact, failure.Task.Action.Kind)
			require.Equal(t, threat.TaskFailedPermanent, failure.Task.Status)
			require.Equal(t, DefaultMaxRetries, failure.Task.Attempts)
			require.ErrorIs(t, failure.Err, errLineBusy)
			require.True(t, threat.IsPermanent(failure.Err))
		default:
			require.FailNow(t, "critical failure not delivered")
		}

		require.Len(t, f.observer.Critical(), 1)
		require.Equal(t, 1, f.c.Status().CriticalFailures)
	})
}

// TestDispatch_EmergencyToSafeCancelsLivestream verifies that the running
// stream is cancelled before the stop action runs.
func TestDispatch_EmergencyToSafeCancelsLivestream(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		var (
			mu     sync.Mutex
			events []string
		)

		f.executors[threat.ActionLivestream].fn = func(ctx context.Context, _ int, action threat.Action) error {
			if action.Target == "start" {
				<-ctx.Done()

				mu.Lock()
				events = append(events, "start cancelled")
				mu.Unlock()

				return ctx.Err()
			}

			mu.Lock()
			events = append(events, action.Target)
			mu.Unlock()

			return nil
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Emergency)))
		synctest.Wait()

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-2", threat.Emergency, threat.Safe)))
		synctest.Wait()

		mu.Lock()
		require.Equal(t, []string{"start cancelled", "stop"}, events)
		mu.Unlock()

		tasks := f.tasksOf(threat.ActionLivestream)
		require.Len(t, tasks, 2)
		require.Equal(t, threat.TaskCancelled, tasks[0].Status)
		require.Equal(t, threat.TaskSucceeded, tasks[1].Status)
		require.Equal(t, 1, f.executors[threat.ActionLivestream].MaxActive())
	})
}

// TestDispatch_DeescalationKeepsAuthorityContact verifies that a lower level
// never withdraws a call to the authorities.
func TestDispatch_DeescalationKeepsAuthorityContact(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		f.executors[threat.ActionAuthorityContact].fn = func(ctx context.Context, _ int, _ threat.Action) error {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(2 * time.Second):
				return nil
			}
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Emergency)))
		synctest.Wait()

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-2", threat.Emergency, threat.Alert)))
		settle()

		tasks := f.tasksOf(threat.ActionAuthorityContact)
		require.Len(t, tasks, 1)
		require.Equal(t, threat.TaskSucceeded, tasks[0].Status)
	})
}

// TestDispatch_OneInFlightPerKind verifies that tasks of one kind never overlap.
func TestDispatch_OneInFlightPerKind(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		// The pattern runs to completion even when cancelled.
		f.executors[threat.ActionHaptic].fn = func(context.Context, int, threat.Action) error {
			time.Sleep(500 * time.Millisecond)

			return nil
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Caution)))
		synctest.Wait()

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-2", threat.Caution, threat.Alert)))
		settle()

		times := f.executors[threat.ActionHaptic].Times()
		require.Len(t, times, 2)
		require.GreaterOrEqual(t, times[1].Sub(times[0]), 500*time.Millisecond)
		require.Equal(t, 1, f.executors[threat.ActionHaptic].MaxActive())

		calls := f.executors[threat.ActionHaptic].Calls()
		require.Equal(t, "gentle-pulse", calls[0].Target)
		require.Equal(t, "rapid-pulse", calls[1].Target)
	})
}

// TestDispatch_AutoResponseDisabled verifies that contacts and authorities are skipped.
func TestDispatch_AutoResponseDisabled(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		f.c.SetAutoResponse(false)
		require.False(t, f.c.AutoResponse())

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Emergency)))
		synctest.Wait()

		require.Empty(t, f.executors[threat.ActionSMS].Calls())
		require.Empty(t, f.executors[threat.ActionAuthorityContact].Calls())
		require.Len(t, f.executors[threat.ActionHaptic].Calls(), 1)
		require.Len(t, f.executors[threat.ActionLivestream].Calls(), 1)

		require.Equal(t, threat.TaskSkipped, f.tasksOf(threat.ActionSMS)[0].Status)
		require.Equal(t, threat.TaskSkipped, f.tasksOf(threat.ActionAuthorityContact)[0].Status)

		f.c.SetAutoResponse(true)

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-2", threat.Emergency, threat.Alert)))
		synctest.Wait()

		require.Len(t, f.executors[threat.ActionSMS].Calls(), 1)
	})
}

// TestDispatch_IncidentLifecycle verifies opening, peak tracking, resolution and persistence.
func TestDispatch_IncidentLifecycle(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		store := new(memoryStore)

		f := newFixture(t, func(o *Options) {
			o.Store = store
			o.IncidentHistory = 2
		})
		defer f.close(t)

		ctx := context.Background()

		require.NoError(t, f.c.Dispatch(ctx, transitionTo("t-1", threat.Safe, threat.Caution)))
		synctest.Wait()
		require.Nil(t, f.c.Status().ActiveIncident)

		require.NoError(t, f.c.Dispatch(ctx, transitionTo("t-2", threat.Caution, threat.Alert)))
		synctest.Wait()

		active := f.c.Status().ActiveIncident
		require.NotNil(t, active)
		require.Equal(t, threat.Alert, active.PeakLevel)
		require.Equal(t, "session-1", active.SessionID)

		require.NoError(t, f.c.Dispatch(ctx, transitionTo("t-3", threat.Alert, threat.Emergency)))
		synctest.Wait()
		require.Equal(t, active.ID, f.c.Status().ActiveIncident.ID)
		require.Equal(t, threat.Emergency, f.c.Status().ActiveIncident.PeakLevel)

		require.NoError(t, f.c.Dispatch(ctx, transitionTo("t-4", threat.Emergency, threat.Safe)))
		synctest.Wait()

		status := f.c.Status()
		require.Nil(t, status.ActiveIncident)
		require.Len(t, status.Incidents, 1)

		resolved := status.Incidents[0]
		require.Equal(t, active.ID, resolved.ID)
		require.Equal(t, threat.IncidentResolved, resolved.Status)
		require.Equal(t, threat.Emergency, resolved.PeakLevel)
		require.False(t, resolved.ResolvedAt.IsZero())
		require.Len(t, resolved.Actions, 7)

		saved := store.Last()
		require.Len(t, saved, 1)
		require.Equal(t, active.ID, saved[0].ID)

		for i := range 2 {
			id := strconv.Itoa(i)
			require.NoError(t, f.c.Dispatch(ctx, transitionTo("up-"+id, threat.Safe, threat.Alert)))
			require.NoError(t, f.c.Dispatch(ctx, transitionTo("down-"+id, threat.Alert, threat.Safe)))
			synctest.Wait()
		}

		require.Len(t, f.c.Status().Incidents, 2)
	})
}

// TestReset verifies that a session restart cancels work and resolves the incident.
func TestReset(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)
		defer f.close(t)

		f.executors[threat.ActionLivestream].fn = func(ctx context.Context, _ int, _ threat.Action) error {
			<-ctx.Done()

			return ctx.Err()
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		synctest.Wait()

		f.c.Reset(time.Now())
		synctest.Wait()

		status := f.c.Status()
		require.Equal(t, threat.Safe, status.Level)
		require.Nil(t, status.ActiveIncident)
		require.Len(t, status.Incidents, 1)
		require.Equal(t, threat.TaskCancelled, f.tasksOf(threat.ActionLivestream)[0].Status)
	})
}

// TestClose verifies that closing cancels outstanding tasks and rejects new transitions.
func TestClose(t *testing.T) {
	t.Parallel()

	synctest.Test(t, func(t *testing.T) {
		f := newFixture(t, nil)

		f.executors[threat.ActionLivestream].fn = func(ctx context.Context, _ int, _ threat.Action) error {
			<-ctx.Done()

			return ctx.Err()
		}

		require.NoError(t, f.c.Dispatch(context.Background(), transitionTo("t-1", threat.Safe, threat.Alert)))
		synctest.Wait()

		require.NoError(t, f.c.Close(context.Background()))
		require.NoError(t, f.c.Close(context.Background()))

		require.Equal(t, threat.TaskCancelled, f.tasksOf(threat.ActionLivestream)[0].Status)
		require.ErrorIs(t, f.c.Dispatch(context.Background(), transitionTo("t-2", threat.Alert, threat.Safe)), ErrClosed)

		_, open := <-f.c.Critical()
		require.False(t, open)
	})
}

// TestTestSystems verifies probe results per action kind.
func TestTestSystems(t *testing.T) {
	t.Parallel()

	sms := &probingExecutor{probeErr: errGatewayDown}

	c := New(context.Background(), Options{
		Executors: map[threat.ActionKind]Executor{
			threat.ActionHaptic: new(fakeExecutor),
			threat.ActionSMS:    sms,
		},
	})
	defer func() { require.NoError(t, c.Close(context.Background())) }()

	results := c.TestSystems(context.Background())
	require.Len(t, results, len(threat.ActionKinds()))

	byKind := make(map[threat.ActionKind]ProbeResult, len(results))
	for _, result := range results {
		byKind[result.Kind] = result
	}

	require.True(t, byKind[threat.ActionHaptic].Registered)
	require.NoError(t, byKind[threat.ActionHaptic].Err)
	require.True(t, byKind[threat.ActionSMS].Registered)
	require.ErrorIs(t, byKind[threat.ActionSMS].Err, errGatewayDown)
	require.False(t, byKind[threat.ActionLivestream].Registered)
	require.False(t, byKind[threat.ActionAuthorityContact].Registered)
}
