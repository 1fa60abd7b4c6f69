package version

import "fmt"

// Build metadata, overridden with -ldflags -X at release time.
var (
	Version   = "0.1.0-dev"
	Commit    = "none"
	BuildTime = "unknown"
)

// Short returns the version alone.
func Short() string {
	return Version
}

// Full returns version, commit and build time on one line.
func Full() string {
	return fmt.Sprintf("safeglove %s (commit %s, built %s)", Version, Commit, BuildTime)
}
