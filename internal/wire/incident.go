package wire

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// incidentFileVersion is written into persisted histories.
const incidentFileVersion = 1

// IncidentsToStruct encodes an incident history.
func IncidentsToStruct(incidents []*threat.Incident) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(map[string]any{
		"version":   incidentFileVersion,
		"incidents": incidentList(incidents),
	})
	if err != nil {
		return nil, fmt.Errorf("encode incidents: %w", err)
	}

	return s, nil
}

// IncidentsFromStruct decodes an incident history.
func IncidentsFromStruct(s *structpb.Struct) ([]*threat.Incident, error) {
	r := newReader(s)

	if version := r.integer("version"); version != incidentFileVersion {
		return nil, fmt.Errorf("%w: unsupported incident file version %d", ErrMalformed, version)
	}

	return incidentsFromList(r.list("incidents"))
}

func incidentList(incidents []*threat.Incident) []any {
	list := make([]any, 0, len(incidents))
	for _, incident := range incidents {
		list = append(list, incidentToMap(incident))
	}

	return list
}

func incidentsFromList(values []*structpb.Value) ([]*threat.Incident, error) {
	incidents := make([]*threat.Incident, 0, len(values))

	for _, value := range values {
		incident, err := incidentFromReader(newReader(value.GetStructValue()))
		if err != nil {
			return nil, err
		}

		incidents = append(incidents, incident)
	}

	return incidents, nil
}

func incidentToMap(incident *threat.Incident) map[string]any {
	actions := make([]any, 0, len(incident.Actions))
	for _, action := range incident.Actions {
		actions = append(actions, map[string]any{
			"kind":     string(action.Kind),
			"target":   action.Target,
			"status":   action.Status.String(),
			"attempts": action.Attempts,
			"fallback": action.Fallback,
			"at":       formatTime(action.At),
			"detail":   action.Detail,
		})
	}

	return map[string]any{
		"id":          incident.ID,
		"session_id":  incident.SessionID,
		"opened_at":   formatTime(incident.OpenedAt),
		"resolved_at": formatTime(incident.ResolvedAt),
		"peak_level":  incident.PeakLevel.String(),
		"status":      string(incident.Status),
		"actions":     actions,
	}
}

func incidentFromReader(r reader) (*threat.Incident, error) {
	peak, ok := threat.ParseLevel(r.str("peak_level"))
	if !ok {
		return nil, fmt.Errorf("%w: incident level %q", ErrMalformed, r.str("peak_level"))
	}

	status := threat.IncidentStatus(r.str("status"))
	if status != threat.IncidentActive && status != threat.IncidentResolved {
		return nil, fmt.Errorf("%w: incident status %q", ErrMalformed, status)
	}

	openedAt, err := r.time("opened_at")
	if err != nil {
		return nil, err
	}

	resolvedAt, err := r.time("resolved_at")
	if err != nil {
		return nil, err
	}

	incident := &threat.Incident{
		ID:         r.str("id"),
		SessionID:  r.str("session_id"),
		OpenedAt:   openedAt,
		ResolvedAt: resolvedAt,
		PeakLevel:  peak,
		Status:     status,
	}

	for _, value := range r.list("actions") {
		action := newReader(value.GetStructValue())

		taskStatus, ok := threat.ParseTaskStatus(action.str("status"))
		if !ok {
			return nil, fmt.Errorf("%w: action status %q", ErrMalformed, action.str("status"))
		}

		at, err := action.time("at")
		if err != nil {
			return nil, err
		}

		incident.Actions = append(incident.Actions, threat.ActionRecord{
			Kind:     threat.ActionKind(action.str("kind")),
			Target:   action.str("target"),
			Status:   taskStatus,
			Attempts: action.integer("attempts"),
			Fallback: action.boolean("fallback"),
			At:       at,
			Detail:   action.str("detail"),
		})
	}

	return incident, nil
}
