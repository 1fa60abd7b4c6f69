// Package engine runs the threat-escalation session and the daemon around it.
//
// A Session owns the single evaluation timeline: bus events, fusion ticks and
// control requests are processed one at a time by one goroutine. Run wires
// the session to configuration, executors, stores, metrics and gRPC.
package engine
