// Package executor implements the response actions: the haptic motor
// driver, webhook gateways for SMS, livestream and authority contact, local
// commands and a logging stand-in for unconfigured gateways.
package executor
