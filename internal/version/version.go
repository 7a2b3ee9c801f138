// Package version exposes docrag build metadata. The variables are set with
// -ldflags "-X github.com/kailas-cloud/docrag/internal/version.Version=...".
package version

import "fmt"

//nolint:revive // Set via ldflags at build time.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// String renders the build metadata on one line.
func String() string {
	return fmt.Sprintf("docrag %s (commit %s, built %s)", Version, Commit, Date)
}
