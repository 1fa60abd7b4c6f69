package threat

import (
	"slices"
	"time"
)

// IncidentStatus is the lifecycle stage of an incident.
type IncidentStatus string

const (
	// IncidentActive is an incident still being responded to.
	IncidentActive IncidentStatus = "active"
	// IncidentResolved is an incident closed by a return to Safe or a restart.
	IncidentResolved IncidentStatus = "resolved"
)

// ActionRecord is one line of an incident's response log.
type ActionRecord struct {
	// Kind is the executed action kind.
	Kind ActionKind
	// Target is the action parameter.
	Target string
	// Status is the terminal task status.
	Status TaskStatus
	// Attempts is how many times the executor was invoked.
	Attempts int
	// Fallback is true for the secondary route of an action.
	Fallback bool
	// At is when the task reached Status.
	At time.Time
	// Detail holds the last error, if any.
	Detail string
}

// Incident groups every response from the first escalation to Alert until
// the level returns to Safe.
type Incident struct {
	// ID identifies the incident in messages and history.
	ID string
	// SessionID is the session the incident belongs to.
	SessionID string
	// OpenedAt is the time of the escalation that opened it.
	OpenedAt time.Time
	// ResolvedAt is zero while the incident is active.
	ResolvedAt time.Time
	// PeakLevel is the highest level reached.
	PeakLevel Level
	// Status is active or resolved.
	Status IncidentStatus
	// Actions lists terminal task outcomes in completion order.
	Actions []ActionRecord
}

// Clone returns a deep copy of the incident.
func (i *Incident) Clone() *Incident {
	if i == nil {
		return nil
	}

	cloned := *i
	cloned.Actions = slices.Clone(i.Actions)

	return &cloned
}
