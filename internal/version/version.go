// Package version reports the build of the running binary.
package version

import (
	"runtime/debug"
	"sync"
)

// Overridden with -ldflags "-X github.com/memohai/rolodex/internal/version.Version=..." at build time.
var (
	Version    = "dev"
	CommitHash = ""
	BuildTime  = ""
)

// Info is the build description served by /ping.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	BuildTime string `json:"build_time,omitempty"`
}

var readVCS = sync.OnceFunc(func() {
	if CommitHash != "" {
		return
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, setting := range info.Settings {
		switch setting.Key {
		case "vcs.revision":
			CommitHash = setting.Value
		case "vcs.time":
			BuildTime = setting.Value
		}
	}
})

// Get returns the build info, filling the commit from VCS stamping when ldflags left it empty.
func Get() Info {
	readVCS()
	return Info{Version: Version, Commit: shortHash(CommitHash), BuildTime: BuildTime}
}

// GetInfo formats the version as "v1.2.3 (abc1234)".
func GetInfo() string {
	info := Get()
	if info.Commit == "" {
		return info.Version
	}
	return info.Version + " (" + info.Commit + ")"
}

func shortHash(h string) string {
	if len(h) > 7 {
		return h[:7]
	}
	return h
}
