// Package version carries build metadata, set with -ldflags at release time:
//
//	go build -ldflags "-X ssrelay/internal/version.Version=v1.2.3 -X ssrelay/internal/version.Commit=abc123"
package version

// Set via -ldflags.
var (
	Version = "dev"
	Commit  = "none"
)

// String renders version and commit for CLI output.
func String() string {
	return Version + " (" + Commit + ")"
}
