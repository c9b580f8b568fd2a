package api_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/api"
)

//nolint:paralleltest // We need to set environment variables, so run tests sequentially.
func TestGetConfigPath(t *testing.T) {
	tcs := map[string]struct {
		setupEnv func(t *testing.T)
		want     string
	}{
		"XDG_CONFIG_HOME is set and not empty": {
			setupEnv: func(t *testing.T) {
				t.Helper()
				t.Setenv("XDG_CONFIG_HOME", "/custom/config")
			},
			want: "/custom/config/rulebook/config.yaml",
		},
		"XDG_CONFIG_HOME is empty and HOME is set": {
			setupEnv: func(t *testing.T) {
				t.Helper()
				t.Setenv("XDG_CONFIG_HOME", "")
				t.Setenv("HOME", "/test/home")
			},
			want: "/test/home/.config/rulebook/config.yaml",
		},
		"XDG_CONFIG_HOME is not set and HOME is set": {
			setupEnv: func(t *testing.T) {
				t.Helper()

				err := os.Unsetenv("XDG_CONFIG_HOME")
				require.NoError(t, err)
				t.Setenv("HOME", "/test/home")
			},
			want: "/test/home/.config/rulebook/config.yaml",
		},
		"XDG_CONFIG_HOME is empty and HOME is empty": {
			setupEnv: func(t *testing.T) {
				t.Helper()
				t.Setenv("XDG_CONFIG_HOME", "")
				t.Setenv("HOME", "")
			},
			want: filepath.Join(os.TempDir(), "rulebook", "config.yaml"), //nolint:usetesting // Needs to equal host.
		},
		"XDG_CONFIG_HOME is not set and HOME is empty": {
			setupEnv: func(t *testing.T) {
				t.Helper()

				err := os.Unsetenv("XDG_CONFIG_HOME")
				require.NoError(t, err)
				t.Setenv("HOME", "")
			},
			want: filepath.Join(os.TempDir(), "rulebook", "config.yaml"), //nolint:usetesting // Needs to equal host.
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			if tc.setupEnv != nil {
				tc.setupEnv(t)
			}

			got := api.GetConfigPath("config.yaml")

			assert.NotEmpty(t, got)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestReadFile(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		setupFile func(t *testing.T) string
		wantErr   bool
	}{
		"valid file": {
			setupFile: func(t *testing.T) string {
				t.Helper()

				path := filepath.Join(t.TempDir(), "test.yaml")
				err := os.WriteFile(path, []byte("content"), 0o600)
				require.NoError(t, err)

				return path
			},
			wantErr: false,
		},
		"non-existent file": {
			setupFile: func(t *testing.T) string {
				t.Helper()

				return "/non/existent/file.yaml"
			},
			wantErr: true,
		},
		"directory instead of file": {
			setupFile: func(t *testing.T) string {
				t.Helper()

				return t.TempDir()
			},
			wantErr: true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := tc.setupFile(t)

			got, err := api.ReadFile(path)

			if tc.wantErr {
				require.Error(t, err)
				assert.Nil(t, got)
			} else {
				require.NoError(t, err)
				assert.NotNil(t, got)
			}
		})
	}
}

func TestMarshalYAML(t *testing.T) {
	t.Parallel()

	type testObj struct {
		Name  string `json:"name"`
		Value int    `json:"value"`
	}

	obj := testObj{Name: "test", Value: 42}

	data, err := api.MarshalYAML(obj)
	require.NoError(t, err)
	assert.NotEmpty(t, data)
	assert.Contains(t, string(data), "name: test")
	assert.Contains(t, string(data), "value: 42")
}

func TestWriteIfNotExists(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		setupPath func(t *testing.T) string
		errMsg    string
		wantErr   bool
	}{
		"new file": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				return filepath.Join(t.TempDir(), "new.yaml")
			},
			wantErr: false,
		},
		"existing file": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				path := filepath.Join(t.TempDir(), "existing.yaml")
				err := os.WriteFile(path, []byte("existing"), 0o600)
				require.NoError(t, err)

				return path
			},
			wantErr: false, // Should not overwrite existing file.
		},
		"creates parent directories": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				dir := t.TempDir()

				return filepath.Join(dir, "nested", "deep", "file.yaml")
			},
			wantErr: false,
		},
		"path is directory": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				return t.TempDir()
			},
			wantErr: true,
			errMsg:  "path is a directory",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := tc.setupPath(t)

			err := api.WriteIfNotExists(path, []byte("new content"))

			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
			} else {
				require.NoError(t, err)

				_, err := os.Stat(path)
				require.NoError(t, err)
			}
		})
	}
}

func TestWriteDefaultFile(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		setupPath func(t *testing.T) string
		errMsg    string
		force     bool
		wantErr   bool
	}{
		"new file": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				return filepath.Join(t.TempDir(), "config.yaml")
			},
			force:   false,
			wantErr: false,
		},
		"existing file without force": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				path := filepath.Join(t.TempDir(), "config.yaml")
				err := os.WriteFile(path, []byte("existing"), 0o600)
				require.NoError(t, err)

				return path
			},
			force:   false,
			wantErr: false, // Should not overwrite existing file.
		},
		"creates parent directories": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				dir := t.TempDir()

				return filepath.Join(dir, "nested", "deep", "config.yaml")
			},
			force:   false,
			wantErr: false,
		},
		"path is directory": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				return t.TempDir()
			},
			force:   false,
			wantErr: true,
			errMsg:  "path is a directory",
		},
		"force creates backup": {
			setupPath: func(t *testing.T) string {
				t.Helper()

				path := filepath.Join(t.TempDir(), "config.yaml")
				err := os.WriteFile(path, []byte("existing content"), 0o600)
				require.NoError(t, err)

				return path
			},
			force:   true,
			wantErr: false,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			path := tc.setupPath(t)

			// Record if the file existed before to check backup behavior.
			var originalContent []byte

			info, err := os.Stat(path)
			if err == nil && info.Mode().IsRegular() {
				originalContent, err = os.ReadFile(path)
				require.NoError(t, err)
			}

			err = api.WriteDefaultFile(path, []byte("default content"), tc.force, "test")

			if tc.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.errMsg)
			} else {
				require.NoError(t, err)

				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.True(t, info.Mode().IsRegular())
				assert.Positive(t, info.Size())

				// If force=true and original content existed, verify backup was created.
				if tc.force && len(originalContent) > 0 {
					dir := filepath.Dir(path)
					entries, err := os.ReadDir(dir)
					require.NoError(t, err)

					backupFound := false
					for _, entry := range entries {
						if filepath.Ext(entry.Name()) != ".old" {
							continue
						}

						backupPath := filepath.Join(dir, entry.Name())
						backupContent, err := os.ReadFile(backupPath)
						require.NoError(t, err)
						assert.Equal(t, originalContent, backupContent, "backup should contain original content")

						backupFound = true

						break
					}

					assert.True(t, backupFound, "backup file should be created when force=true and file exists")
				}
			}
		})
	}
}

func TestFindConfigFile(t *testing.T) {
	t.Parallel()

	names := []string{".rulebook.yaml", "rulebook.yaml"}

	write := func(t *testing.T, path string) {
		t.Helper()

		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
		require.NoError(t, os.WriteFile(path, []byte("kind: Profile\n"), 0o600))
	}

	tcs := map[string]struct {
		setup func(t *testing.T, root string) string
		want  string
		err   bool
	}{
		"in start directory": {
			setup: func(t *testing.T, root string) string {
				t.Helper()
				write(t, filepath.Join(root, "rulebook.yaml"))

				return root
			},
			want: "rulebook.yaml",
		},
		"in parent of nested directory": {
			setup: func(t *testing.T, root string) string {
				t.Helper()
				write(t, filepath.Join(root, ".rulebook.yaml"))
				require.NoError(t, os.MkdirAll(filepath.Join(root, "src", "pkg"), 0o700))

				return filepath.Join(root, "src", "pkg")
			},
			want: ".rulebook.yaml",
		},
		"nearest directory wins": {
			setup: func(t *testing.T, root string) string {
				t.Helper()
				write(t, filepath.Join(root, ".rulebook.yaml"))
				write(t, filepath.Join(root, "svc", "rulebook.yaml"))

				return filepath.Join(root, "svc")
			},
			want: filepath.Join("svc", "rulebook.yaml"),
		},
		"earlier name wins": {
			setup: func(t *testing.T, root string) string {
				t.Helper()
				write(t, filepath.Join(root, ".rulebook.yaml"))
				write(t, filepath.Join(root, "rulebook.yaml"))

				return root
			},
			want: ".rulebook.yaml",
		},
		"start is a file": {
			setup: func(t *testing.T, root string) string {
				t.Helper()
				write(t, filepath.Join(root, ".rulebook.yaml"))
				write(t, filepath.Join(root, "README.md"))

				return filepath.Join(root, "README.md")
			},
			want: ".rulebook.yaml",
		},
		"directory with a profile name is skipped": {
			setup: func(t *testing.T, root string) string {
				t.Helper()
				require.NoError(t, os.MkdirAll(filepath.Join(root, ".rulebook.yaml"), 0o700))

				return root
			},
		},
		"not found": {
			setup: func(_ *testing.T, root string) string {
				return root
			},
		},
		"missing start": {
			setup: func(_ *testing.T, root string) string {
				return filepath.Join(root, "nope")
			},
			err: true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			root := t.TempDir()

			got, err := api.FindConfigFile(tc.setup(t, root), names)
			if tc.err {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)

			if tc.want == "" {
				assert.Empty(t, got)
				return
			}

			assert.Equal(t, filepath.Join(root, tc.want), got)
		})
	}
}

//nolint:paralleltest // Sets environment variables.
func TestGetConfigPath_Nested(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", "/custom/config")

	assert.Equal(t, "/custom/config/rulebook/profiles/web.yaml", api.GetConfigPath("profiles", "web.yaml"))
}

func TestWriteFileAtomic(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "rules.json")

	require.NoError(t, api.WriteFileAtomic(path, []byte("first")))
	require.NoError(t, api.WriteFileAtomic(path, []byte("second")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "second", string(got))

	// No temp files are left behind.
	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestWriteFileAtomic_KeepsOriginalOnFailure(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "rules.json")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o600))

	// Renaming a file over a non-empty directory fails.
	target := filepath.Join(dir, "occupied")
	require.NoError(t, os.MkdirAll(filepath.Join(target, "child"), 0o700))

	err := api.WriteFileAtomic(target, []byte("new"))
	require.Error(t, err)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "original", string(got))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestBackupFileName(t *testing.T) {
	t.Parallel()

	ts := time.Date(2024, 1, 2, 3, 4, 5, 6, time.UTC)

	assert.Equal(t, "rules.20240102T030405.000000006Z.json", api.BackupFileName("rules.json", ts))
	assert.Equal(t, "rules.20240102T030405.000000006Z", api.BackupFileName("rules", ts))

	later := api.BackupFileName("rules.json", ts.Add(time.Second))
	assert.Less(t, api.BackupFileName("rules.json", ts), later)
}

//nolint:paralleltest // Sets environment variables.
func TestExpandPath(t *testing.T) {
	home, err := os.UserHomeDir()
	require.NoError(t, err)

	t.Setenv("RULEBOOK_TEST_DIR", "/srv/rules")

	assert.Equal(t, filepath.Join(home, "rules.json"), api.ExpandPath("~/rules.json"))
	assert.Equal(t, home, api.ExpandPath("~"))
	assert.Equal(t, "/abs/rules.json", api.ExpandPath("/abs/rules.json"))
	assert.Equal(t, "rel/~/x", api.ExpandPath("rel/~/x"))
	assert.Equal(t, "/srv/rules/rules.db", api.ExpandPath("$RULEBOOK_TEST_DIR/rules.db"))
}
