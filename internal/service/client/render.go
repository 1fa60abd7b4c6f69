package client

import (
	"fmt"
	"io"
	"slices"
	"strings"
	"time"

	"github.com/fatih/color"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

// timeLayout is used for every rendered timestamp.
const timeLayout = "2006-01-02 15:04:05"

// levelColor picks the color of a threat level.
func levelColor(level threat.Level) *color.Color {
	switch level {
	case threat.Safe:
		return color.New(color.FgGreen)
	case threat.Caution:
		return color.New(color.FgYellow)
	case threat.Alert:
		return color.New(color.FgHiRed)
	case threat.Emergency:
		return color.New(color.FgRed, color.Bold)
	default:
		return color.New(color.Reset)
	}
}

// statusColor picks the color of a task status.
func statusColor(status threat.TaskStatus) *color.Color {
	switch status {
	case threat.TaskSucceeded:
		return color.New(color.FgGreen)
	case threat.TaskFailedPermanent:
		return color.New(color.FgRed)
	case threat.TaskInFlight, threat.TaskPending:
		return color.New(color.FgYellow)
	default:
		return color.New(color.FgHiBlack)
	}
}

// RenderStatus writes a human-readable session snapshot.
func RenderStatus(w io.Writer, snapshot threat.Snapshot) {
	level := strings.ToUpper(snapshot.Level.String())

	_, _ = fmt.Fprintf(w, "Session:        %s\n", snapshot.SessionID)
	_, _ = fmt.Fprintf(w, "Level:          %s\n", levelColor(snapshot.Level).Sprint(level))
	_, _ = fmt.Fprintf(w, "Score:          %.3f (at %s)\n", snapshot.Score.Value, formatTime(snapshot.Score.ComputedAt))
	_, _ = fmt.Fprintf(w, "Auto-response:  %s\n", onOff(snapshot.AutoResponse))
	_, _ = fmt.Fprintf(w, "Pending events: %d\n", snapshot.PendingEvents)

	if snapshot.CriticalFailures > 0 {
		_, _ = fmt.Fprintf(w, "Critical:       %s\n",
			color.New(color.FgRed, color.Bold).Sprintf("%d dispatch failure(s)", snapshot.CriticalFailures))
	}

	if len(snapshot.Score.Breakdown) > 0 {
		_, _ = fmt.Fprintln(w, "\nContributions:")

		sources := make([]threat.SourceKind, 0, len(snapshot.Score.Breakdown))
		for source := range snapshot.Score.Breakdown {
			sources = append(sources, source)
		}

		slices.Sort(sources)

		for _, source := range sources {
			_, _ = fmt.Fprintf(w, "  %-15s %.3f\n", source, snapshot.Score.Breakdown[source])
		}
	}

	if len(snapshot.Sensors) > 0 {
		_, _ = fmt.Fprintln(w, "\nSensors:")

		for _, sensor := range snapshot.Sensors {
			health := color.New(color.FgGreen).Sprint("OK")
			if sensor.Stale {
				health = color.New(color.FgYellow).Sprint("STALE")
			}

			_, _ = fmt.Fprintf(w, "  %-15s %s (last seen %s)\n", sensor.Source, health, formatTime(sensor.LastSeen))
		}
	}

	if len(snapshot.Tasks) > 0 {
		_, _ = fmt.Fprintln(w, "\nTasks:")

		for _, task := range snapshot.Tasks {
			line := fmt.Sprintf("  %-17s %-18s %s attempts=%d",
				task.Action.Kind, task.Action.Target, statusColor(task.Status).Sprint(task.Status), task.Attempts)

			if task.Action.Fallback {
				line += " fallback"
			}

			if task.LastError != "" {
				line += " error=" + task.LastError
			}

			_, _ = fmt.Fprintln(w, line)
		}
	}

	if snapshot.ActiveIncident != nil {
		_, _ = fmt.Fprintf(w, "\nActive incident %s since %s, peak %s\n",
			snapshot.ActiveIncident.ID,
			formatTime(snapshot.ActiveIncident.OpenedAt),
			levelColor(snapshot.ActiveIncident.PeakLevel).Sprint(snapshot.ActiveIncident.PeakLevel))
	}

	if len(snapshot.Incidents) > 0 {
		_, _ = fmt.Fprintf(w, "\nResolved incidents: %d\n", len(snapshot.Incidents))

		last := snapshot.Incidents[len(snapshot.Incidents)-1]
		_, _ = fmt.Fprintf(w, "  last %s: %s to %s, peak %s, %d action(s)\n",
			last.ID, formatTime(last.OpenedAt), formatTime(last.ResolvedAt), last.PeakLevel, len(last.Actions))
	}
}

// RenderChecks writes self-test results and reports whether all passed.
func RenderChecks(w io.Writer, checks []threat.SystemCheck) bool {
	passed := true

	for _, check := range checks {
		var result string

		switch {
		case !check.Registered:
			result = color.New(color.FgYellow).Sprint("NOT CONFIGURED")
		case check.Error != "":
			result = color.New(color.FgRed).Sprint("FAIL") + " " + check.Error
			passed = false
		default:
			result = color.New(color.FgGreen).Sprint("OK")
		}

		_, _ = fmt.Fprintf(w, "%-17s %s\n", check.Kind, result)
	}

	return passed
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}

	return t.Local().Format(timeLayout)
}

func onOff(enabled bool) string {
	if enabled {
		return color.New(color.FgGreen).Sprint("enabled")
	}

	return color.New(color.FgYellow).Sprint("disabled")
}
