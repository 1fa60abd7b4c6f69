package threat

import (
	"slices"
	"time"
)

// ActionKind identifies a response executor.
type ActionKind string

const (
	// ActionHaptic drives the glove's vibration motors.
	ActionHaptic ActionKind = "haptic"
	// ActionSMS notifies emergency contacts.
	ActionSMS ActionKind = "sms"
	// ActionLivestream starts or stops the live video feed.
	ActionLivestream ActionKind = "livestream"
	// ActionAuthorityContact reaches the authorities.
	ActionAuthorityContact ActionKind = "authority-contact"
)

// ActionKinds returns every known action kind in a stable order.
func ActionKinds() []ActionKind {
	return []ActionKind{ActionHaptic, ActionSMS, ActionLivestream, ActionAuthorityContact}
}

// ParseActionKind validates an action kind name.
func ParseActionKind(s string) (ActionKind, bool) {
	for _, kind := range ActionKinds() {
		if string(kind) == s {
			return kind, true
		}
	}

	return "", false
}

// Action is one response step handed to an executor.
type Action struct {
	// Kind selects the executor.
	Kind ActionKind
	// Target is the executor-specific parameter, e.g. a haptic pattern,
	// "start"/"stop" for livestream or a contact group for SMS.
	Target string
	// Level is the destination level of the transition that requested it.
	Level Level
	// TransitionID links the action to its transition.
	TransitionID string
	// IncidentID links the action to the open incident, if any.
	IncidentID string
	// Contacts are the recipients for SMS and authority-contact actions.
	Contacts []string
	// Message is the text sent to recipients.
	Message string
	// Fallback is true when the action retries a failed primary on a secondary route.
	Fallback bool
}

// Clone returns a copy that does not share the contacts slice.
func (a *Action) Clone() Action {
	cloned := *a
	cloned.Contacts = slices.Clone(a.Contacts)

	return cloned
}

// TaskStatus is the lifecycle stage of a DispatchTask.
type TaskStatus int

const (
	// TaskPending waits for the previous task of the same kind.
	TaskPending TaskStatus = iota
	// TaskInFlight is executing or backing off between attempts.
	TaskInFlight
	// TaskSucceeded completed successfully.
	TaskSucceeded
	// TaskFailedPermanent exhausted its attempts or failed permanently.
	TaskFailedPermanent
	// TaskCancelled was superseded by a newer transition.
	TaskCancelled
	// TaskSkipped was not executed because automatic response is disabled.
	TaskSkipped
)

// String implements fmt.Stringer.
func (s TaskStatus) String() string {
	switch s {
	case TaskPending:
		return "pending"
	case TaskInFlight:
		return "in-flight"
	case TaskSucceeded:
		return "succeeded"
	case TaskFailedPermanent:
		return "failed-permanent"
	case TaskCancelled:
		return "cancelled"
	case TaskSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// ParseTaskStatus converts a status name back into a TaskStatus.
func ParseTaskStatus(s string) (TaskStatus, bool) {
	for status := TaskPending; status <= TaskSkipped; status++ {
		if status.String() == s {
			return status, true
		}
	}

	return TaskPending, false
}

// Terminal reports whether no further status change can happen.
func (s TaskStatus) Terminal() bool {
	return s >= TaskSucceeded
}

// DispatchTask is the bookkeeping record of one action execution.
type DispatchTask struct {
	// ID identifies the task.
	ID string
	// Action is what the task executes.
	Action Action
	// Attempts counts executor invocations so far.
	Attempts int
	// LastError is the message of the most recent failure.
	LastError string
	// Status is the current lifecycle stage.
	Status TaskStatus
	// UpdatedAt is when Status last changed.
	UpdatedAt time.Time
}

// Clone returns a copy safe to hand to observers.
func (t *DispatchTask) Clone() DispatchTask {
	cloned := *t
	cloned.Action = t.Action.Clone()

	return cloned
}
