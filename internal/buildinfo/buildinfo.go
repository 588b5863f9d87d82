// Package buildinfo holds version and build metadata stamped at compile
// time via ldflags, e.g.
//
//	go build -ldflags "-X github.com/nugget/airnode/internal/buildinfo.Version=1.2.0"
package buildinfo

import (
	"fmt"
	"runtime"
	"time"
)

var (
	Version   = "dev"
	GitCommit = "unknown"
	GitBranch = "unknown"
	BuildTime = "unknown"
)

var startTime = time.Now()

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	GitBranch string `json:"git_branch"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// Current returns the stamped build metadata.
func Current() Build {
	return Build{
		Version:   Version,
		GitCommit: GitCommit,
		GitBranch: GitBranch,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// LogAttrs returns the build metadata as slog key/value pairs.
func (b Build) LogAttrs() []any {
	return []any{
		"version", b.Version,
		"commit", b.GitCommit,
		"branch", b.GitBranch,
		"built", b.BuildTime,
		"go", b.GoVersion,
		"platform", b.Platform,
	}
}

// Uptime returns the duration since process start.
func Uptime() time.Duration {
	return time.Since(startTime).Truncate(time.Second)
}

// String returns a one-line summary.
func String() string {
	return fmt.Sprintf("airnode %s (%s@%s) built %s", Version, GitCommit, GitBranch, BuildTime)
}
