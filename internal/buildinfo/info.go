// Package buildinfo carries version metadata stamped in at link time.
package buildinfo

import "fmt"

// Set via -ldflags "-X github.com/cleared-dev/moneypipe/internal/buildinfo.Version=..."
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the version line shown by --version.
func String() string {
	return fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date)
}
