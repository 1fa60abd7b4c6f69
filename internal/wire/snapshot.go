package wire

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// SnapshotToStruct encodes the session status.
func SnapshotToStruct(snapshot threat.Snapshot) (*structpb.Struct, error) {
	breakdown := make(map[string]any, len(snapshot.Score.Breakdown))
	for source, contribution := range snapshot.Score.Breakdown {
		breakdown[string(source)] = contribution
	}

	tasks := make([]any, 0, len(snapshot.Tasks))
	for _, task := range snapshot.Tasks {
		tasks = append(tasks, taskToMap(task))
	}

	sensors := make([]any, 0, len(snapshot.Sensors))
	for _, sensor := range snapshot.Sensors {
		sensors = append(sensors, map[string]any{
			"source":    string(sensor.Source),
			"stale":     sensor.Stale,
			"last_seen": formatTime(sensor.LastSeen),
		})
	}

	fields := map[string]any{
		"session_id": snapshot.SessionID,
		"level":      snapshot.Level.String(),
		"score": map[string]any{
			"value":       snapshot.Score.Value,
			"computed_at": formatTime(snapshot.Score.ComputedAt),
			"breakdown":   breakdown,
		},
		"auto_response":     snapshot.AutoResponse,
		"tasks":             tasks,
		"incidents":         incidentList(snapshot.Incidents),
		"sensors":           sensors,
		"critical_failures": snapshot.CriticalFailures,
		"pending_events":    snapshot.PendingEvents,
	}

	if snapshot.ActiveIncident != nil {
		fields["active_incident"] = incidentToMap(snapshot.ActiveIncident)
	}

	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("encode status: %w", err)
	}

	return s, nil
}

// SnapshotFromStruct decodes the session status.
func SnapshotFromStruct(s *structpb.Struct) (threat.Snapshot, error) {
	r := newReader(s)

	level, ok := threat.ParseLevel(r.str("level"))
	if !ok {
		return threat.Snapshot{}, fmt.Errorf("%w: level %q", ErrMalformed, r.str("level"))
	}

	score := r.sub("score")

	computedAt, err := score.time("computed_at")
	if err != nil {
		return threat.Snapshot{}, err
	}

	snapshot := threat.Snapshot{
		SessionID: r.str("session_id"),
		Level:     level,
		Score: threat.ThreatScore{
			Value:      score.num("value"),
			Breakdown:  make(map[threat.SourceKind]float64),
			ComputedAt: computedAt,
		},
		AutoResponse:     r.boolean("auto_response"),
		CriticalFailures: r.integer("critical_failures"),
		PendingEvents:    r.integer("pending_events"),
	}

	for source, value := range score.sub("breakdown") {
		snapshot.Score.Breakdown[threat.SourceKind(source)] = value.GetNumberValue()
	}

	for _, value := range r.list("tasks") {
		task, err := taskFromReader(newReader(value.GetStructValue()))
		if err != nil {
			return threat.Snapshot{}, err
		}

		snapshot.Tasks = append(snapshot.Tasks, task)
	}

	if r.has("active_incident") {
		snapshot.ActiveIncident, err = incidentFromReader(r.sub("active_incident"))
		if err != nil {
			return threat.Snapshot{}, err
		}
	}

	if snapshot.Incidents, err = incidentsFromList(r.list("incidents")); err != nil {
		return threat.Snapshot{}, err
	}

	for _, value := range r.list("sensors") {
		sensor := newReader(value.GetStructValue())

		lastSeen, err := sensor.time("last_seen")
		if err != nil {
			return threat.Snapshot{}, err
		}

		snapshot.Sensors = append(snapshot.Sensors, threat.SensorHealth{
			Source:   threat.SourceKind(sensor.str("source")),
			Stale:    sensor.boolean("stale"),
			LastSeen: lastSeen,
		})
	}

	return snapshot, nil
}

// ChecksToStruct encodes self-test results.
func ChecksToStruct(checks []threat.SystemCheck) (*structpb.Struct, error) {
	list := make([]any, 0, len(checks))
	for _, check := range checks {
		list = append(list, map[string]any{
			"kind":       string(check.Kind),
			"registered": check.Registered,
			"error":      check.Error,
		})
	}

	s, err := structpb.NewStruct(map[string]any{"checks": list})
	if err != nil {
		return nil, fmt.Errorf("encode self-test: %w", err)
	}

	return s, nil
}

// ChecksFromStruct decodes self-test results.
func ChecksFromStruct(s *structpb.Struct) []threat.SystemCheck {
	values := newReader(s).list("checks")
	checks := make([]threat.SystemCheck, 0, len(values))

	for _, value := range values {
		check := newReader(value.GetStructValue())
		checks = append(checks, threat.SystemCheck{
			Kind:       threat.ActionKind(check.str("kind")),
			Registered: check.boolean("registered"),
			Error:      check.str("error"),
		})
	}

	return checks
}

func taskToMap(task threat.DispatchTask) map[string]any {
	return map[string]any{
		"id":            task.ID,
		"kind":          string(task.Action.Kind),
		"target":        task.Action.Target,
		"level":         task.Action.Level.String(),
		"transition_id": task.Action.TransitionID,
		"incident_id":   task.Action.IncidentID,
		"contacts":      anyList(task.Action.Contacts),
		"fallback":      task.Action.Fallback,
		"attempts":      task.Attempts,
		"status":        task.Status.String(),
		"last_error":    task.LastError,
		"updated_at":    formatTime(task.UpdatedAt),
	}
}

func taskFromReader(r reader) (threat.DispatchTask, error) {
	status, ok := threat.ParseTaskStatus(r.str("status"))
	if !ok {
		return threat.DispatchTask{}, fmt.Errorf("%w: task status %q", ErrMalformed, r.str("status"))
	}

	level, ok := threat.ParseLevel(r.str("level"))
	if !ok {
		return threat.DispatchTask{}, fmt.Errorf("%w: task level %q", ErrMalformed, r.str("level"))
	}

	updatedAt, err := r.time("updated_at")
	if err != nil {
		return threat.DispatchTask{}, err
	}

	return threat.DispatchTask{
		ID: r.str("id"),
		Action: threat.Action{
			Kind:         threat.ActionKind(r.str("kind")),
			Target:       r.str("target"),
			Level:        level,
			TransitionID: r.str("transition_id"),
			IncidentID:   r.str("incident_id"),
			Contacts:     stringList(r.list("contacts")),
			Fallback:     r.boolean("fallback"),
		},
		Attempts:  r.integer("attempts"),
		LastError: r.str("last_error"),
		Status:    status,
		UpdatedAt: updatedAt,
	}, nil
}
