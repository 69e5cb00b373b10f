// Package buildinfo holds build-time metadata, injected with
//
//	-ldflags "-X github.com/wilfranr/control-id-miid/internal/buildinfo.version=v1.2.0
//	          -X github.com/wilfranr/control-id-miid/internal/buildinfo.buildDate=2026-01-31"
package buildinfo

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// UnknownValue stands in for metadata the build did not provide
const UnknownValue = "unknown"

var (
	version   string
	buildDate string
)

// Info is the build metadata of the running binary
type Info struct {
	Version   string `json:"version"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata. Without linker flags the module version
// recorded by the go tool is used when there is one.
func Get() Info {
	info := Info{
		Version:   version,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
	}
	if info.Version == "" {
		if bi, ok := debug.ReadBuildInfo(); ok && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
			info.Version = bi.Main.Version
		}
	}
	if info.Version == "" {
		info.Version = UnknownValue
	}
	if info.BuildDate == "" {
		info.BuildDate = UnknownValue
	}
	return info
}

// String formats the metadata for the version command and startup log
func (i Info) String() string {
	return fmt.Sprintf("controlid-sync %s (built %s, %s)", i.Version, i.BuildDate, i.GoVersion)
}
