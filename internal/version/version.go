// Package version reports build information.
package version

import (
	"fmt"
	"runtime/debug"
)

// Set at build time with -ldflags "-X ...".
var (
	Version = "dev"
	Commit  = ""
)

// String returns the version, followed by the short commit when known.
func String() string {
	commit := Commit
	if commit == "" {
		commit = vcsRevision()
	}
	if len(commit) > 7 {
		commit = commit[:7]
	}
	if commit == "" {
		return Version
	}
	return fmt.Sprintf("%s (%s)", Version, commit)
}

func vcsRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" {
			return s.Value
		}
	}
	return ""
}
