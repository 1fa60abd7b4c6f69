package dispatch

import (
	"fmt"
	"strings"
	"time"

	"github.com/oshokin/safeglove/internal/domain/threat"
)

const (
	unknownLocation = "Unknown location"
	unknownIncident = "unknown"
)

// ContactMessage composes the SMS text for emergency contacts.
func ContactMessage(level threat.Level, location string, at time.Time) string {
	if location == "" {
		location = unknownLocation
	}

	var b strings.Builder

	b.WriteString("SafeGlove alert\n")
	fmt.Fprintf(&b, "Alert level: %s\n", level)
	fmt.Fprintf(&b, "Location: %s\n", location)
	fmt.Fprintf(&b, "Time: %s\n", at.Format(time.TimeOnly))

	if level >= threat.Emergency {
		b.WriteString("EMERGENCY - authorities have been contacted.")
	} else {
		b.WriteString("Monitoring situation.")
	}

	return b.String()
}

// AuthorityMessage composes the text for the authority gateway.
func AuthorityMessage(level threat.Level, location string, at time.Time, incidentID string) string {
	if location == "" {
		location = unknownLocation
	}

	if incidentID == "" {
		incidentID = unknownIncident
	}

	var b strings.Builder

	b.WriteString("EMERGENCY ALERT - SafeGlove safety system\n")
	fmt.Fprintf(&b, "Threat level: %s\n", level)
	fmt.Fprintf(&b, "Location: %s\n", location)
	fmt.Fprintf(&b, "Time: %s\n", at.Format(time.DateTime))
	fmt.Fprintf(&b, "Incident ID: %s\n", incidentID)
	b.WriteString("Immediate response required.")

	return b.String()
}
