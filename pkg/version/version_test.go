package version_test

import (
	"runtime"
	"runtime/debug"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/macropower/rulebook/pkg/version"
)

func TestRevisionFrom(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		settings []debug.BuildSetting
		want     string
	}{
		"clean tree": {
			settings: []debug.BuildSetting{
				{Key: "vcs.revision", Value: "0123456789abcdef"},
				{Key: "vcs.modified", Value: "false"},
			},
			want: "0123456",
		},
		"modified tree": {
			settings: []debug.BuildSetting{
				{Key: "vcs.modified", Value: "true"},
				{Key: "vcs.revision", Value: "0123456789abcdef"},
			},
			want: "0123456-dirty",
		},
		"short revision": {
			settings: []debug.BuildSetting{{Key: "vcs.revision", Value: "abc"}},
			want:     "abc",
		},
		"no vcs": {
			settings: []debug.BuildSetting{{Key: "GOOS", Value: "linux"}},
			want:     "unknown",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got := version.RevisionFrom(&debug.BuildInfo{Settings: tc.settings})
			assert.Equal(t, tc.want, got)
		})
	}
}

//nolint:paralleltest // Sets package build metadata.
func TestGet(t *testing.T) {
	prev := version.Version
	t.Cleanup(func() { version.Version = prev })

	version.Version = ""

	info := version.Get()
	assert.Equal(t, version.Revision, info.Version)
	assert.Equal(t, runtime.Version(), info.GoVersion)
	assert.Equal(t, runtime.GOOS+"/"+runtime.GOARCH, info.Platform)

	version.Version = "v1.2.0"

	info = version.Get()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "v1.2.0 (revision "+version.Revision+")", info.String())
}
