// Package version reports how the rulebook binary was built.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build metadata, set via ldflags, e.g.
//
//	-X github.com/macropower/rulebook/pkg/version.Version=v1.2.0
var (
	Version   string
	Branch    string
	BuildUser string
	BuildDate string
)

// Revision is the short VCS revision embedded by the Go toolchain, with a
// "-dirty" suffix for builds from a modified tree.
var Revision = readRevision()

// Info describes the running binary.
type Info struct {
	Version   string `json:"version"`
	Revision  string `json:"revision"`
	Branch    string `json:"branch,omitempty"`
	BuildUser string `json:"buildUser,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// Get returns the build information of the running binary.
func Get() Info {
	return Info{
		Version:   GetVersion(),
		Revision:  Revision,
		Branch:    Branch,
		BuildUser: BuildUser,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS + "/" + runtime.GOARCH,
	}
}

// String formats i as "<version> (revision <rev>)".
func (i Info) String() string {
	return fmt.Sprintf("%s (revision %s)", i.Version, i.Revision)
}

// GetVersion returns [Version], falling back to [Revision] for builds
// without release metadata.
func GetVersion() string {
	if Version != "" {
		return Version
	}

	return Revision
}

func readRevision() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "unknown"
	}

	return RevisionFrom(info)
}

// RevisionFrom returns the short VCS revision recorded in info, or
// "unknown".
func RevisionFrom(info *debug.BuildInfo) string {
	const shortLen = 7

	rev := "unknown"
	dirty := false

	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value[:min(len(s.Value), shortLen)]
		case "vcs.modified":
			dirty = s.Value == "true"
		}
	}

	if dirty {
		return rev + "-dirty"
	}

	return rev
}
