// Package logger wraps zap for the engine and the CLI:
//   - a global sugared logger with console or JSON encoding,
//   - context helpers (ToContext/FromContext/WithName/WithKV/WithFields),
//   - level parsing and runtime level changes,
//   - context-scoped helpers (Infof, WarnKV, ErrorKV, ...).
//
// Components accept a context and log through the logger it carries, so a
// session, a transition or a dispatch task can be followed across goroutines.
package logger
