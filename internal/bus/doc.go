// Package bus implements the signal event bus.
//
// Producers publish normalized SignalEvents concurrently; the bus validates
// them at the boundary, orders pending events by timestamp (ties broken by
// arrival) and fans them out to live subscribers from a single delivery
// goroutine. Subscribers only see events published after they subscribed.
package bus
