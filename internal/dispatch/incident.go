package dispatch

import (
	"context"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
	"github.com/oshokin/safeglove/internal/logger"
)

// trackIncident opens, raises or resolves the active incident for a
// transition and reports whether the history changed. The caller holds c.mu.
func (c *Coordinator) trackIncident(transition threat.LevelTransition) bool {
	switch {
	case transition.To >= threat.Alert:
		if c.incident == nil {
			c.incident = &threat.Incident{
				ID:        c.opts.NewID(),
				SessionID: transition.SessionID,
				OpenedAt:  transition.At,
				PeakLevel: transition.To,
				Status:    threat.IncidentActive,
			}

			logger.WarnKV(c.ctx, "Incident opened",
				"incident_id", c.incident.ID,
				"threat_level", transition.To.String())

			return false
		}

		c.incident.PeakLevel = max(c.incident.PeakLevel, transition.To)
	case transition.To == threat.Safe && c.incident != nil:
		c.resolveIncident(transition.At)

		return true
	default:
	}

	return false
}

// resolveIncident moves the active incident into the bounded history.
// The caller holds c.mu.
func (c *Coordinator) resolveIncident(at time.Time) {
	c.incident.ResolvedAt = at
	c.incident.Status = threat.IncidentResolved

	logger.InfoKV(c.ctx, "Incident resolved",
		"incident_id", c.incident.ID,
		"peak_level", c.incident.PeakLevel.String(),
		"actions", len(c.incident.Actions))

	c.history = append(c.history, c.incident)
	if excess := len(c.history) - c.opts.IncidentHistory; excess > 0 {
		c.history = c.history[excess:]
	}

	c.incident = nil
}

// recordAction appends the terminal outcome of a task to its incident.
// The caller holds c.mu.
func (c *Coordinator) recordAction(t *task) {
	id := t.state.Action.IncidentID
	if id == "" {
		return
	}

	incident := c.incident
	if incident == nil || incident.ID != id {
		incident = nil

		for i := len(c.history) - 1; i >= 0; i-- {
			if c.history[i].ID == id {
				incident = c.history[i]

				break
			}
		}
	}

	if incident == nil {
		return
	}

	incident.Actions = append(incident.Actions, threat.ActionRecord{
		Kind:     t.state.Action.Kind,
		Target:   t.state.Action.Target,
		Status:   t.state.Status,
		Attempts: t.state.Attempts,
		Fallback: t.state.Action.Fallback,
		At:       t.state.UpdatedAt,
		Detail:   t.state.LastError,
	})
}

// incidentsLocked returns a copy of the resolved history. The caller holds c.mu.
func (c *Coordinator) incidentsLocked() []*threat.Incident {
	incidents := make([]*threat.Incident, 0, len(c.history))
	for _, incident := range c.history {
		incidents = append(incidents, incident.Clone())
	}

	return incidents
}

// schedulePersist snapshots the history for the store and returns the save
// job to run outside the lock, nil when nothing has to be written.
// The caller holds c.mu.
func (c *Coordinator) schedulePersist(changed bool) func() {
	if !changed || c.opts.Store == nil || c.closed {
		return nil
	}

	c.persistSeq++

	var (
		seq       = c.persistSeq
		incidents = c.incidentsLocked()
	)

	c.wg.Add(1)

	return func() {
		defer c.wg.Done()

		c.persistMu.Lock()
		defer c.persistMu.Unlock()

		// A newer snapshot was already written.
		if seq <= c.savedSeq {
			return
		}

		if err := c.opts.Store.Save(context.WithoutCancel(c.ctx), incidents); err != nil {
			logger.ErrorKV(c.ctx, "Failed to save incident history", "error", err)

			return
		}

		c.savedSeq = seq
	}
}
