package config

import "fmt"

// Linker-injected build metadata, e.g.
//
//	go build -ldflags "-X seopulse/internal/config.version=1.2.3 \
//	    -X seopulse/internal/config.commit=$(git rev-parse --short HEAD) \
//	    -X seopulse/internal/config.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version   = "dev"
	commit    = "none"
	buildTime = "unknown"
)

// NewBuildInfo constructs a BuildInfo from the linker-injected variables.
func NewBuildInfo() BuildInfo {
	return BuildInfo{
		Version:   version,
		Commit:    commit,
		BuildTime: buildTime,
	}
}

// String renders the build info for startup logs.
func (b BuildInfo) String() string {
	return fmt.Sprintf("%s (%s, built %s)", b.Version, b.Commit, b.BuildTime)
}
