package yaml_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/yaml"
)

const errorSource = `a: b
b: c
foo: "bar"
key: value
baz: 5
c: d
e: f`

func TestError_Excerpt(t *testing.T) {
	t.Parallel()

	err := yaml.NewError(
		errors.New("bad value"),
		yaml.WithPath(yaml.NewPathBuilder().Root().Child("key").Build()),
		yaml.WithSourceLines(1),
		yaml.WithSource([]byte(errorSource)),
	)

	want := `[4:1] bad value:

  3 | foo: "bar"
> 4 | key: value
    | ^
  5 | baz: 5`

	assert.Equal(t, want, err.Error())
	assert.Equal(t, 4, err.Line())
	require.ErrorContains(t, errors.Unwrap(err), "bad value")
}

func TestError_Highlighted(t *testing.T) {
	t.Parallel()

	err := yaml.NewError(
		errors.New("bad value"),
		yaml.WithPath(yaml.NewPathBuilder().Root().Child("baz").Build()),
		yaml.WithHighlight("terminal16m", "monokai"),
		yaml.WithSource([]byte(errorSource)),
	)

	got := err.Error()
	assert.Contains(t, got, "[5:1] bad value:")
	assert.Contains(t, got, "\x1b[")
}

func TestUnmarshal_SyntaxError(t *testing.T) {
	t.Parallel()

	var v map[string]any

	err := yaml.Unmarshal([]byte("a: b\nc: [1, 2\n"), &v)
	require.Error(t, err)

	var yamlErr *yaml.Error
	require.ErrorAs(t, err, &yamlErr)
	assert.Positive(t, yamlErr.Line())
}

func TestMarshal(t *testing.T) {
	t.Parallel()

	b, err := yaml.Marshal(map[string]any{
		"list": []string{"a", "b"},
	})
	require.NoError(t, err)
	assert.Equal(t, "list:\n  - a\n  - b\n", string(b))
}
