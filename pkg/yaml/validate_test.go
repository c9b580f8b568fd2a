package yaml_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/yaml"
)

func mustBuildPath(t *testing.T, parts ...string) *yaml.Error {
	t.Helper()

	pb := yaml.NewPathBuilder().Root()
	for _, p := range parts {
		pb = pb.Child(p)
	}

	return &yaml.Error{Path: pb.Build()}
}

func TestError_WithoutSource(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		err  *yaml.Error
		want string
	}{
		"with path": {
			err:  mustBuildPath(t, "field", "subfield"),
			want: "error at $.field.subfield: value is required",
		},
		"without path": {
			err:  &yaml.Error{},
			want: "value is required",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			tc.err.Err = errors.New("value is required")
			assert.Equal(t, tc.want, tc.err.Error())
		})
	}
}

func TestNewValidator(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		errMsg     string
		schemaData []byte
	}{
		"valid schema": {
			schemaData: []byte(`{"type": "object", "required": ["id"]}`),
		},
		"invalid json": {
			schemaData: []byte(`{"invalid": json}`),
			errMsg:     "unmarshal schema",
		},
		"invalid schema": {
			schemaData: []byte(`{"type": "invalid_type"}`),
			errMsg:     "compile schema",
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			v, err := yaml.NewValidator("/test.json", tc.schemaData)
			if tc.errMsg != "" {
				require.ErrorContains(t, err, tc.errMsg)

				return
			}

			require.NoError(t, err)
			assert.NotNil(t, v)
		})
	}
}

const profileSchema = `{
	"type": "object",
	"required": ["id", "artifacts"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"created": {"type": "string"},
		"artifacts": {
			"type": "object",
			"additionalProperties": {
				"type": "object",
				"properties": {
					"maxRules": {"type": "integer", "minimum": 1}
				}
			}
		}
	}
}`

func TestValidator_Validate(t *testing.T) {
	t.Parallel()

	v := yaml.MustNewValidator("/profile.json", []byte(profileSchema))

	tcs := map[string]struct {
		input    string
		wantPath string
		wantLine int
	}{
		"valid": {
			input: "id: p1\ncreated: 2024-01-02T03:04:05Z\nartifacts:\n  instructions:\n    maxRules: 3\n",
		},
		"missing required field": {
			input:    "artifacts: {}\n",
			wantPath: "$",
		},
		"nested violation points at the field": {
			input:    "id: p1\nartifacts:\n  instructions:\n    maxRules: 0\n",
			wantPath: "$.artifacts.instructions.maxRules",
			wantLine: 4,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var data any

			err := yaml.NewDecoder(bytes.NewReader([]byte(tc.input))).Decode(&data)
			require.NoError(t, err)

			err = v.Validate(data)
			if tc.wantPath == "" {
				require.NoError(t, err)

				return
			}

			var yamlErr *yaml.Error
			require.ErrorAs(t, err, &yamlErr)
			assert.Equal(t, tc.wantPath, yamlErr.Path.String())

			if tc.wantLine > 0 {
				yamlErr.Source = []byte(tc.input)
				assert.Equal(t, tc.wantLine, yamlErr.Line())
				assert.Contains(t, yamlErr.Error(), "maxRules: 0")
			}
		})
	}
}
