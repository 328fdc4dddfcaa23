// Package buildinfo reports how the engine binary was built. Version, commit
// and time are injected via ldflags:
//
//	go build -ldflags "-X github.com/unityext/core/buildinfo.version=v1.2.0"
package buildinfo

import "runtime/debug"

// Properties holds build-time properties.
type Properties struct {
	Version   string `json:"version"`
	BuildTime string `json:"build_time"`
	GitCommit string `json:"git_commit"`
	GoVersion string `json:"go_version"`
}

// Package-level variables for ldflags injection (unexported).
var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

// Get returns the current build properties. When no commit was injected the
// VCS revision stamped by the go tool is used instead.
func Get() Properties {
	p := Properties{
		Version:   version,
		BuildTime: buildTime,
		GitCommit: gitCommit,
		GoVersion: "unknown",
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return p
	}
	p.GoVersion = info.GoVersion
	if p.GitCommit != "unknown" {
		return p
	}
	for _, s := range info.Settings {
		if s.Key == "vcs.revision" && s.Value != "" {
			p.GitCommit = s.Value
		}
	}
	return p
}
