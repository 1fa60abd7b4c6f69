// Package threat contains the core domain types of the escalation engine.
//
// It defines the normalized SignalEvent produced by sensors and vision
// pipelines, the fused ThreatScore, the discrete Level with its transitions,
// response Actions with their DispatchTask bookkeeping, Incident records and
// the error taxonomy shared by every component.
package threat
