package threat

// Snapshot is the observable state of a running session.
type Snapshot struct {
	// SessionID identifies the current session.
	SessionID string
	// Level is the current escalation level.
	Level Level
	// Score is the latest fused score.
	Score ThreatScore
	// AutoResponse tells whether SMS and authority actions run.
	AutoResponse bool
	// Tasks lists outstanding and recently finished dispatch tasks.
	Tasks []DispatchTask
	// ActiveIncident is the open incident, nil when none.
	ActiveIncident *Incident
	// Incidents is the resolved history, oldest first.
	Incidents []*Incident
	// Sensors reports the health of every source seen so far.
	Sensors []SensorHealth
	// CriticalFailures counts critical dispatch failures of the process.
	CriticalFailures int
	// PendingEvents is the number of events waiting for delivery.
	PendingEvents int
}

// SystemCheck is the self-test outcome of one action executor.
type SystemCheck struct {
	Kind ActionKind
	// Registered is false when no executor handles the kind.
	Registered bool
	// Error is empty when the executor is healthy.
	Error string
}
