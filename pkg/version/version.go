// Package version carries build metadata for the tbkit binaries.
package version

import "fmt"

// Version, GitCommit, and BuildDate are set at build time via ldflags:
//
//	go build -ldflags "-X github.com/tbkit-project/tbkit/pkg/version.Version=v1.0.0 \
//	  -X github.com/tbkit-project/tbkit/pkg/version.GitCommit=abc1234 \
//	  -X github.com/tbkit-project/tbkit/pkg/version.BuildDate=2026-01-01T00:00:00Z"
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// Info returns a formatted version string for display.
func Info() string {
	return Version + " (" + GitCommit + ") built " + BuildDate
}

// Line renders the line printed by `<binary> version`.
func Line(binary string) string {
	if Version == "dev" {
		return binary + " dev build (use 'make build' for version info)"
	}
	return fmt.Sprintf("%s %s (%s)", binary, Version, GitCommit)
}
