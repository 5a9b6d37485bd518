// Package version exposes build metadata stamped in with -ldflags, e.g.
//
//	-X github.com/grovetools/livequery/version.Version=v0.3.0
package version

import (
	"fmt"
	"runtime"
)

// These variables are populated by the Go linker during the build process.
var (
	Version   = "dev"
	Commit    = "none"
	Branch    = "unknown"
	BuildDate = "unknown"
)

// Info holds all the versioning information.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Branch    string `json:"branch"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns a struct populated with the version information.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Branch:    Branch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// UserAgent is sent with the websocket handshake.
func (i Info) UserAgent() string {
	return fmt.Sprintf("livequery/%s (%s)", i.Version, i.Platform)
}

// String returns a formatted string of the version information.
func (i Info) String() string {
	return fmt.Sprintf(
		"  Commit:    %s\n  Branch:    %s\n  Built:     %s\n  Go:        %s\n  Platform:  %s",
		i.Commit, i.Branch, i.BuildDate, i.GoVersion, i.Platform,
	)
}
