// Package escalation maps fused threat scores onto the four threat levels.
//
// Escalation is immediate and may skip levels. De-escalation is debounced:
// the score must stay below the current level's threshold minus the
// hysteresis margin for the whole debounce interval, and then the level drops
// by exactly one step.
package escalation
