// Package version carries build-time version information for dbforge.
package version

import (
	"fmt"
	"runtime"
)

// Build information, normally overridden by -ldflags at release time.
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GoVersion = runtime.Version()
)

// FullVersion returns a human-readable string for --version output.
func FullVersion() string {
	return fmt.Sprintf("%s (commit: %s, built: %s, %s)", Version, GitCommit, BuildTime, GoVersion)
}

// UserAgent returns the string dbforge sends as a User-Agent header when
// talking to the artifact registry.
func UserAgent() string {
	return fmt.Sprintf("dbforge/%s", Version)
}
