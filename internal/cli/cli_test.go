package cli_test

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/internal/cli"
	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
	"github.com/macropower/rulebook/pkg/version"
)

type testEnv struct {
	dir    string
	config string
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	cfg := filepath.Join(dir, "config.yaml")

	data := strings.NewReplacer("DIR", dir).Replace(`apiVersion: rulebook.jacobcolvin.com/v1beta1
kind: Configuration
storage:
  backend: file
  path: DIR/rules.json
profiles:
  dir: DIR/profiles
backups:
  dir: DIR/backups
  keep: 2
templates:
  dir: DIR/templates
`)

	require.NoError(t, os.WriteFile(cfg, []byte(data), 0o600))

	return &testEnv{dir: dir, config: cfg}
}

func (e *testEnv) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()

	var stdout, stderr bytes.Buffer

	cmd := cli.NewRootCmd()
	cmd.SetArgs(append([]string{"--config", e.config, "--log-level", "error"}, args...))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetIn(strings.NewReader(""))

	err := cmd.ExecuteContext(t.Context())

	return stdout.String(), stderr.String(), err
}

func (e *testEnv) mustRun(t *testing.T, args ...string) string {
	t.Helper()

	out, stderr, err := e.run(t, args...)
	require.NoError(t, err, stderr)

	return out
}

func (e *testEnv) addRule(t *testing.T, args ...string) *rule.Rule {
	t.Helper()

	out := e.mustRun(t, append([]string{"rules", "add", "-o", "json"}, args...)...)

	var r rule.Rule
	require.NoError(t, json.Unmarshal([]byte(out), &r))

	return &r
}

//nolint:paralleltest // Sets environment variables.
func TestInit(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	var stdout, stderr bytes.Buffer

	cmd := cli.NewRootCmd()
	cmd.SetArgs([]string{"--log-level", "error", "init", "--archetype", "balanced"})
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)

	require.NoError(t, cmd.ExecuteContext(t.Context()), stderr.String())

	home := filepath.Join(dir, "rulebook")

	for _, path := range []string{
		filepath.Join(home, "config.yaml"),
		filepath.Join(home, "rules.json"),
		filepath.Join(home, "profiles", "balanced.yaml"),
	} {
		_, err := os.Stat(path)
		require.NoError(t, err, path)
		assert.Contains(t, stdout.String(), path)
	}
}

func TestInit_ExistingConfig(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	before, err := os.ReadFile(env.config)
	require.NoError(t, err)

	out := env.mustRun(t, "init")
	assert.Contains(t, out, filepath.Join(env.dir, "rules.json"))
	assert.Contains(t, out, "(0 rules)")

	after, err := os.ReadFile(env.config)
	require.NoError(t, err)
	assert.Equal(t, string(before), string(after))

	info, err := os.Stat(filepath.Join(env.dir, "profiles"))
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestRules_Lifecycle(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	r := env.addRule(t,
		"--title", "Validate input",
		"--content", "Validate every request body.",
		"--category", "security",
		"--urgency", "high",
		"--tag", "api",
	)
	require.NotEmpty(t, r.ID)
	assert.Equal(t, rule.CategorySecurity, r.Category)
	assert.Equal(t, rule.UrgencyHigh, r.Urgency)
	assert.Equal(t, []string{"api"}, r.Tags)

	env.addRule(t, "--title", "Write tests", "--content", "Cover new code.", "--category", "testing")

	out := env.mustRun(t, "rules", "get", r.ID)
	assert.Contains(t, out, "Validate input")
	assert.Contains(t, out, "Validate every request body.")
	assert.Contains(t, out, "Security")

	out = env.mustRun(t, "rules", "list")
	assert.Contains(t, out, r.ID)
	assert.Contains(t, out, "Write tests")

	out = env.mustRun(t, "rules", "list", "--urgency", "high")
	assert.Contains(t, out, "Validate input")
	assert.NotContains(t, out, "Write tests")

	out = env.mustRun(t, "rules", "update", r.ID, "--urgency", "critical", "-o", "json")

	var updated rule.Rule
	require.NoError(t, json.Unmarshal([]byte(out), &updated))
	assert.Equal(t, rule.UrgencyCritical, updated.Urgency)
	assert.Equal(t, "Validate input", updated.Title)

	out = env.mustRun(t, "rules", "search", "request", "-o", "json")

	var res rulestore.SearchResult
	require.NoError(t, json.Unmarshal([]byte(out), &res))
	require.Len(t, res.Rules, 1)
	assert.Equal(t, r.ID, res.Rules[0].ID)
	assert.Equal(t, 1, res.Facets.Categories[rule.CategorySecurity])

	out = env.mustRun(t, "rules", "stats", "-o", "json")

	var st rulestore.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 2, st.Total)
	assert.Equal(t, 1, st.ByUrgency[rule.UrgencyCritical])

	out = env.mustRun(t, "rules", "stats")
	assert.Contains(t, out, "2 rules")

	env.mustRun(t, "rules", "delete", r.ID, "--yes")

	_, _, err := env.run(t, "rules", "get", r.ID)
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestRules_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tcs := map[string]struct {
		target error
		want   string
		args   []string
	}{
		"missing title": {
			args:   []string{"rules", "add", "--content", "x"},
			target: errs.ErrValidation,
		},
		"unknown category": {
			args: []string{"rules", "add", "--title", "x", "--content", "x", "--category", "nope"},
			want: "unknown category",
		},
		"unknown rule": {
			args:   []string{"rules", "get", "missing"},
			target: errs.ErrNotFound,
		},
		"empty update": {
			args: []string{"rules", "update", "missing"},
			want: "nothing to update",
		},
		"delete without confirmation": {
			args: []string{"rules", "delete", "missing"},
		},
		"bad output format": {
			args: []string{"rules", "list", "-o", "xml"},
			want: "--output",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, _, err := env.run(t, tc.args...)
			require.Error(t, err)

			if tc.target != nil {
				require.ErrorIs(t, err, tc.target)
			}
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestRules_Import(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	path := filepath.Join(env.dir, "team.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`rules:
  - title: Use context
    content: Pass context.Context to blocking calls.
    category: CODING_STANDARDS
    urgency: HIGH
  - title: Document APIs
    content: Every exported symbol has a doc comment.
    category: DOCUMENTATION
    urgency: LOW
  - title: ""
    content: missing title
    category: CUSTOM
    urgency: INFO
`), 0o600))

	out, _, err := env.run(t, "rules", "import", "--dry-run", path)
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, out, "2 valid rules")

	out, _, err = env.run(t, "rules", "stats", "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, out, `"total": 0`)

	out, _, err = env.run(t, "rules", "import", path)
	require.ErrorIs(t, err, errs.ErrValidation)
	assert.Contains(t, err.Error(), "rules[2]")
	assert.Contains(t, out, "Imported 2 of 2")

	out = env.mustRun(t, "rules", "list", "-o", "json")

	var rules []rule.Rule
	require.NoError(t, json.Unmarshal([]byte(out), &rules))
	require.Len(t, rules, 2)
	assert.Equal(t, "Use context", rules[0].Title)
	assert.Equal(t, []string{"team.yaml"}, rules[0].Sources)
}

func TestRules_ImportTOML(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	path := filepath.Join(env.dir, "rules.toml")
	require.NoError(t, os.WriteFile(path, []byte(`[[rules]]
title = "Pin versions"
content = "Pin every dependency."
category = "WORKFLOW"
urgency = "MEDIUM"
`), 0o600))

	out := env.mustRun(t, "rules", "import", "--source", "handbook", path)
	assert.Contains(t, out, "Imported 1 of 1")

	out = env.mustRun(t, "rules", "stats", "-o", "json")

	var st rulestore.Statistics
	require.NoError(t, json.Unmarshal([]byte(out), &st))
	assert.Equal(t, 1, st.BySource["handbook"])
}

func TestRules_Backup(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	env.addRule(t, "--title", "One", "--content", "First rule.")

	_, stderr, err := env.run(t, "rules", "backup")
	require.NoError(t, err)
	assert.Contains(t, stderr, filepath.Join(env.dir, "backups"))

	out := env.mustRun(t, "rules", "backup", "--list", "-o", "json")

	var backups []rulestore.BackupInfo
	require.NoError(t, json.Unmarshal([]byte(out), &backups))
	require.Len(t, backups, 1)
	assert.Positive(t, backups[0].Size)

	env.mustRun(t, "rules", "backup", "--prune", "--keep", "1")

	out = env.mustRun(t, "rules", "backup", "--list")
	assert.Contains(t, out, filepath.Join(env.dir, "backups"))
}

func TestProfile(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	target := filepath.Join(env.dir, "out")

	out := env.mustRun(t, "profile", "create", "minimal",
		"--set", "id=docs",
		"--set", "name=Docs",
		"--set", "deployment.targetDir="+target,
	)
	assert.Contains(t, out, filepath.Join(env.dir, "profiles", "docs.yaml"))

	out = env.mustRun(t, "profile", "list", "-o", "json")

	var entries []config.ProfileEntry
	require.NoError(t, json.Unmarshal([]byte(out), &entries))
	require.Len(t, entries, 1)
	assert.Equal(t, "docs", entries[0].Name)

	out, stderr, err := env.run(t, "profile", "validate", "docs")
	require.NoError(t, err)
	assert.Contains(t, out, `Profile "docs" is valid.`)
	assert.Contains(t, stderr, config.CodeEmptyResolution)

	out = env.mustRun(t, "profile", "show", "docs")
	assert.Contains(t, out, "id: docs")
	assert.Contains(t, out, "targetDir: "+target)

	out = env.mustRun(t, "profile", "archetypes")
	assert.Contains(t, out, "balanced")
	assert.Contains(t, out, "comprehensive")

	out = env.mustRun(t, "profile", "archetypes", "minimal")
	assert.Contains(t, out, "kind: Profile")
}

func TestProfile_CreateDryRun(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	out := env.mustRun(t, "profile", "create", "minimal", "--dry-run",
		"--set", "id=preview",
		"--set", "artifacts.instructions.selection.maxRules=3",
		"--set", "metadata.tags=[a, b]",
	)
	assert.Contains(t, out, "id: preview")
	assert.Contains(t, out, "maxRules: 3")
	// Nested keys not named by --set survive the merge.
	assert.Contains(t, out, "minUrgency: HIGH")

	_, err := os.Stat(filepath.Join(env.dir, "profiles", "preview.yaml"))
	require.ErrorIs(t, err, os.ErrNotExist)
}

func TestProfile_Errors(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	tcs := map[string]struct {
		target error
		want   string
		args   []string
	}{
		"unknown archetype": {
			args:   []string{"profile", "create", "nope"},
			target: errs.ErrNotFound,
		},
		"invalid override": {
			args: []string{"profile", "create", "minimal", "--set", "novalue"},
			want: "path=value",
		},
		"schema violation": {
			args: []string{"profile", "create", "minimal", "--set", "artifacts.instructions.organization.groupBy=bogus"},
		},
		"unknown profile": {
			args: []string{"profile", "validate", "missing"},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, _, err := env.run(t, tc.args...)
			require.Error(t, err)

			if tc.target != nil {
				require.ErrorIs(t, err, tc.target)
			}
			if tc.want != "" {
				assert.Contains(t, err.Error(), tc.want)
			}
		})
	}
}

func TestRenderAndDeploy(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	target := filepath.Join(env.dir, "out")

	env.addRule(t,
		"--title", "Parameterize queries",
		"--content", "Never build SQL from strings.",
		"--category", "security",
		"--urgency", "critical",
	)
	env.addRule(t,
		"--title", "Prefer small functions",
		"--content", "Keep functions short.",
		"--category", "coding-standards",
		"--urgency", "low",
	)

	env.mustRun(t, "profile", "create", "minimal",
		"--set", "id=api",
		"--set", "name=API",
		"--set", "deployment.targetDir="+target,
	)

	out := env.mustRun(t, "render", "api", "instructions", "--pretty=false")
	assert.Contains(t, out, "# API")
	assert.Contains(t, out, "### Parameterize queries")
	// Below the HIGH minimum.
	assert.NotContains(t, out, "Prefer small functions")

	deployed := filepath.Join(target, "copilot-instructions.md")

	out = env.mustRun(t, "render", "api", "--diff")
	assert.Contains(t, out, "+### Parameterize queries")

	out = env.mustRun(t, "deploy", "api", "--dry-run")
	assert.Contains(t, out, "would write "+deployed)

	_, err := os.Stat(deployed)
	require.ErrorIs(t, err, os.ErrNotExist)

	out = env.mustRun(t, "deploy", "api")
	assert.Contains(t, out, "wrote "+deployed)

	b, err := os.ReadFile(deployed)
	require.NoError(t, err)
	assert.Contains(t, string(b), "Never build SQL from strings.")

	out = env.mustRun(t, "render", "api", "--diff")
	assert.Empty(t, out)

	_, _, err = env.run(t, "render", "api", "nope")
	require.ErrorIs(t, err, errs.ErrNotFound)
}

func TestVersion(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)

	out := env.mustRun(t, "version", "-o", "json")

	var info version.Info
	require.NoError(t, json.Unmarshal([]byte(out), &info))
	assert.NotEmpty(t, info.Revision)
	assert.NotEmpty(t, info.GoVersion)

	out = env.mustRun(t, "version")
	assert.Contains(t, out, "rulebook")
}

//nolint:paralleltest // Changes the working directory.
func TestDeploy_ProjectProfile(t *testing.T) {
	env := newTestEnv(t)
	project := filepath.Join(env.dir, "project")
	target := filepath.Join(project, "out")
	nested := filepath.Join(project, "src", "pkg")

	require.NoError(t, os.MkdirAll(nested, 0o700))

	env.addRule(t,
		"--title", "Parameterize queries",
		"--content", "Never build SQL from strings.",
		"--category", "security",
		"--urgency", "critical",
	)

	env.mustRun(t, "profile", "create", "minimal",
		"--set", "id=project",
		"--set", "name=Project",
		"--set", "deployment.targetDir="+target,
		"--file", filepath.Join(project, ".rulebook.yaml"),
	)

	t.Chdir(nested)

	out := env.mustRun(t, "render", "--pretty=false")
	assert.Contains(t, out, "# Project")
	assert.Contains(t, out, "### Parameterize queries")

	out = env.mustRun(t, "deploy")
	assert.Contains(t, out, "wrote "+filepath.Join(target, "copilot-instructions.md"))

	t.Chdir(t.TempDir())

	_, _, err := env.run(t, "deploy")
	require.ErrorIs(t, err, errs.ErrNotFound)
	assert.Contains(t, err.Error(), ".rulebook.yaml")
}
