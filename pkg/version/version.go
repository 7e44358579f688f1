// Package version reports how the xrefsearch binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
)

// Version, Commit and Date are set with ldflags by release builds:
//
//	-X github.com/Aman-CERP/xrefsearch/pkg/version.Version=$(VERSION)
//
// Otherwise Commit and Date come from the VCS stamp go build embeds.
var (
	Version = "dev"
	Commit  = "unknown"
	Date    = "unknown"
)

// GoVersion is the toolchain that built the binary.
var GoVersion = runtime.Version()

// BuildInfo is the JSON form of the version.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	Modified  bool   `json:"modified,omitempty"`
	GoVersion string `json:"go_version"`
	OS        string `json:"os"`
	Arch      string `json:"arch"`
}

var (
	stampOnce sync.Once
	modified  bool
)

// stamp fills Commit and Date from the embedded VCS settings when ldflags
// left them unset.
func stamp() {
	stampOnce.Do(func() {
		bi, ok := debug.ReadBuildInfo()
		if !ok {
			return
		}
		for _, s := range bi.Settings {
			switch s.Key {
			case "vcs.revision":
				if Commit == "unknown" {
					Commit = s.Value[:min(len(s.Value), 12)]
				}
			case "vcs.time":
				if Date == "unknown" {
					Date = s.Value
				}
			case "vcs.modified":
				modified = s.Value == "true"
			}
		}
	})
}

// String returns the one-line version banner.
func String() string {
	stamp()
	commit := Commit
	if modified {
		commit += "+dirty"
	}
	return fmt.Sprintf("xrefsearch %s (commit: %s, built: %s, go: %s)",
		Version, commit, Date, GoVersion)
}

// Short returns the version alone.
func Short() string {
	return Version
}

// GetInfo returns the build information.
func GetInfo() BuildInfo {
	stamp()
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		Modified:  modified,
		GoVersion: GoVersion,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
	}
}
