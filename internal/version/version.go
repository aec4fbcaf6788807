// Package version holds build-time metadata injected via ldflags.
package version

import "runtime/debug"

// These variables are set at build time using -ldflags:
//
//	-X 'github.com/janekbaraniewski/costledger/internal/version.Version=...'
//	-X 'github.com/janekbaraniewski/costledger/internal/version.CommitHash=...'
//	-X 'github.com/janekbaraniewski/costledger/internal/version.BuildDate=...'
var (
	Version    = "dev"
	CommitHash = "unknown"
	BuildDate  = "unknown"
)

// String returns a formatted version string.
func String() string {
	commit := CommitHash
	if commit == "unknown" {
		commit = vcsRevision()
	}
	return Version + " (" + commit + ") built " + BuildDate
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			if len(s.Value) > 12 {
				return s.Value[:12]
			}
			return s.Value
		}
	}
	return "unknown"
}
