package template_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/template"
)

func TestNewRegistry_Builtins(t *testing.T) {
	t.Parallel()

	r, err := template.NewRegistry()
	require.NoError(t, err)

	assert.Equal(t, []string{template.Instructions, template.RuleTemplate, template.Summary}, r.Names())
	assert.True(t, r.Has(template.Instructions))
	assert.False(t, r.Has("nope"))
}

func TestRegistry_RenderInstructions(t *testing.T) {
	t.Parallel()

	r := template.MustNewRegistry()

	data := map[string]any{
		"profile":        map[string]any{"name": "Go Service"},
		"includeHeaders": true,
		"groups": []map[string]any{
			{
				"name":  "Security",
				"emoji": "🔒",
				"rules": []map[string]any{
					{"title": "Validate input", "content": "Never trust user input."},
				},
			},
			{
				"name": "Testing",
				"rules": []map[string]any{
					{"title": "Table tests", "content": "Prefer table tests."},
				},
			},
		},
	}

	got, err := r.Render(template.Instructions, data)
	require.NoError(t, err)

	want := "# Go Service\n\n" +
		"## 🔒 Security\n\n" +
		"### Validate input\n\nNever trust user input.\n\n" +
		"## Testing\n\n" +
		"### Table tests\n\nPrefer table tests.\n\n"
	assert.Equal(t, want, got)

	data["includeHeaders"] = false
	data["profile"] = map[string]any{"name": "Go Service", "description": "Rules for Go."}

	got, err = r.Render(template.Instructions, data)
	require.NoError(t, err)
	assert.Contains(t, got, "# Go Service\n\nRules for Go.\n\n### Validate input")
	assert.NotContains(t, got, "## Testing")
}

func TestRegistry_RenderInstructionsEmpty(t *testing.T) {
	t.Parallel()

	got, err := template.MustNewRegistry().Render(template.Instructions, map[string]any{
		"profile": map[string]any{"name": "Empty"},
	})
	require.NoError(t, err)
	assert.Equal(t, "# Empty\n\n_No rules selected._\n", got)
}

func TestRegistry_RenderRule(t *testing.T) {
	t.Parallel()

	got, err := template.MustNewRegistry().Render(template.RuleTemplate, map[string]any{
		"title":   "Use contexts",
		"content": "Pass ctx first.",
		"urgency": "HIGH",
		"tags":    []string{"go", "api"},
	})
	require.NoError(t, err)
	assert.Equal(t, "### 🟠 Use contexts\n\nPass ctx first.\n\nTags: go, api\n", got)
}

func TestRegistry_RenderSummary(t *testing.T) {
	t.Parallel()

	got, err := template.MustNewRegistry().Render(template.Summary, map[string]any{
		"count": 3,
		"summary": map[string]any{
			"categories": []map[string]any{
				{"key": "SECURITY", "name": "Security", "count": 2},
				{"key": "TESTING", "name": "Testing", "count": 1},
			},
			"urgencies": []map[string]any{
				{"key": "HIGH", "emoji": "🟠", "count": 2},
				{"key": "LOW", "emoji": "🔵", "count": 1},
			},
		},
	})
	require.NoError(t, err)
	assert.Contains(t, got, "3 rules\n")
	assert.Contains(t, got, "- Security: 2\n- Testing: 1\n")
	assert.Contains(t, got, "- 🟠 HIGH: 2\n- 🔵 LOW: 1\n")
}

func TestRegistry_NotFound(t *testing.T) {
	t.Parallel()

	r := template.MustNewRegistry()

	_, err := r.Render("instrctions", nil)
	require.ErrorIs(t, err, errs.ErrTemplateNotFound)

	var nf *errs.TemplateNotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "instrctions", nf.Name)
	assert.Contains(t, nf.Suggestions, template.Instructions)
}

func TestRegistry_Add(t *testing.T) {
	t.Parallel()

	r := template.MustNewRegistry(template.WithMissingKey(template.MissingEmpty))

	require.NoError(t, r.Add("greet", "Hi {{name}}{{missing}}"))

	got, err := r.Render("greet", map[string]any{"name": "Ada"})
	require.NoError(t, err)
	assert.Equal(t, "Hi Ada", got)

	err = r.Add("broken", "{{#if x}}")
	require.Error(t, err)

	var perr *template.ParseError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "broken", perr.Name)
	assert.False(t, r.Has("broken"))
}

func TestRegistry_LoadDir(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "team"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rule.tmpl"), []byte("* {{title}}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "team", "digest.tmpl"), []byte("{{len rules}} rules"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("{{"), 0o600))

	r := template.MustNewRegistry()
	require.NoError(t, r.LoadDir(dir))

	got, err := r.Render(template.RuleTemplate, map[string]any{"title": "Overridden"})
	require.NoError(t, err)
	assert.Equal(t, "* Overridden", got)

	got, err = r.Render("team/digest", map[string]any{"rules": []int{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, "2 rules", got)

	assert.False(t, r.Has("notes"))
}

func TestRegistry_LoadDirErrors(t *testing.T) {
	t.Parallel()

	r := template.MustNewRegistry()

	require.NoError(t, r.LoadDir(""))
	require.NoError(t, r.LoadDir(filepath.Join(t.TempDir(), "missing")))

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	require.Error(t, r.LoadDir(file))

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.tmpl"), []byte("{{/each}}"), 0o600))

	err := r.LoadDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad:1:1: unexpected {{/each}}")
}
