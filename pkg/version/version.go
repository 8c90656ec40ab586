// Package version holds build information injected with -ldflags:
//
//	-X github.com/Aman-CERP/indexpool/pkg/version.Version=$(VERSION)
//	-X github.com/Aman-CERP/indexpool/pkg/version.Commit=$(git rev-parse --short HEAD)
//	-X github.com/Aman-CERP/indexpool/pkg/version.Date=$(date -u +%FT%TZ)
package version

import (
	"fmt"
	"runtime"
)

// Version is "dev" for builds without ldflags.
var Version = "dev"

var (
	Commit = "unknown"
	Date   = "unknown"
)

// BuildInfo is structured version information for JSON output.
type BuildInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Date      string `json:"date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// String returns a one-line version string with all build info.
func String() string {
	return fmt.Sprintf("indexpool %s (commit: %s, built: %s, %s %s/%s)",
		Version, Commit, Date, runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version string.
func Short() string {
	return Version
}

// GetInfo returns structured version information.
func GetInfo() BuildInfo {
	return BuildInfo{
		Version:   Version,
		Commit:    Commit,
		Date:      Date,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}
