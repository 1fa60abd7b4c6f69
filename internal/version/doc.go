// Package version exposes build metadata of the safeglove binaries.
//
// Version, Commit and BuildTime are injected with -ldflags at build time
// and keep their defaults for local builds. Short and Full render them for
// the version subcommand and the engine startup log.
package version
