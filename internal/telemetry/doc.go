// Package telemetry receives the structured events of the escalation engine:
// score recomputations, level transitions, dispatch task status changes,
// critical dispatch failures and sensor health advisories.
package telemetry
