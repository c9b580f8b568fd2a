package expr_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/expr"
	"github.com/macropower/rulebook/pkg/rule"
)

func TestMatcher(t *testing.T) {
	t.Parallel()

	r := &rule.Rule{
		ID:           "sec-1",
		Title:        "Validate input",
		Content:      "Never trust user input.",
		Category:     rule.CategorySecurity,
		Urgency:      rule.UrgencyHigh,
		Tags:         []string{"Web", "input"},
		ProjectTypes: []string{"api"},
	}

	tcs := map[string]struct {
		expression string
		want       bool
		wantErr    bool
	}{
		"category equality": {
			expression: `rule.category == "SECURITY"`,
			want:       true,
		},
		"urgency rank": {
			expression: `urgencyRank(rule.urgency) >= 3`,
			want:       true,
		},
		"at least critical": {
			expression: `atLeast(rule.urgency, "critical")`,
			want:       false,
		},
		"has tag ignores case": {
			expression: `hasTag(rule.tags, "web")`,
			want:       true,
		},
		"title contains": {
			expression: `rule.title.lowerAscii().contains("input")`,
			want:       true,
		},
		"list exists": {
			expression: `rule.projectTypes.exists(p, p == "cli")`,
			want:       false,
		},
		"not boolean": {
			expression: `rule.title`,
			wantErr:    false,
		},
		"syntax error": {
			expression: `rule.category ==`,
			wantErr:    true,
		},
		"non-bool literal": {
			expression: `1 + 2`,
			wantErr:    true,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			m, err := expr.NewMatcher(tc.expression)
			if tc.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)

			got, err := m.Match(r)
			if name == "not boolean" {
				require.ErrorIs(t, err, expr.ErrNotBool)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRuleVars(t *testing.T) {
	t.Parallel()

	vars := expr.RuleVars(&rule.Rule{ID: "a", Category: rule.CategoryTesting})

	assert.Equal(t, "a", vars["id"])
	assert.Equal(t, "TESTING", vars["category"])
	assert.Equal(t, []string{}, vars["tags"])
}
