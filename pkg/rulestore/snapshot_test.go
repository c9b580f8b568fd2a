package rulestore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

func TestMarshalSnapshot(t *testing.T) {
	t.Parallel()

	snap := rulestore.NewSnapshot(fixedNow)
	for _, id := range []string{"b", "a", "c"} {
		r := newRule("Rule "+id, rule.CategoryTesting, rule.UrgencyLow)
		r.ID = id
		snap.Rules.Set(id, r)
	}

	data, err := rulestore.MarshalSnapshot(snap)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"metadata": {`)
	assert.Contains(t, string(data), `"urgencyLevels": [`)

	got, err := rulestore.UnmarshalSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, got.IDs())
	assert.Equal(t, 3, got.Metadata.TotalRules)
}

func TestUnmarshalSnapshot_Errors(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		data     string
		wantCode string
		err      string
	}{
		"not json": {
			data: "{",
			err:  "unmarshal snapshot",
		},
		"key mismatch": {
			data: `{"rules": {"a": {"id": "b", "title": "t", "content": "c", "category": "TESTING", "urgency": "LOW"}}}`,
			wantCode: rule.CodeMissingID,
		},
		"invalid urgency": {
			data: `{"rules": {"a": {"id": "a", "title": "t", "content": "c", "category": "TESTING", "urgency": "SOON"}}}`,
			wantCode: rule.CodeInvalidUrgency,
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			_, err := rulestore.UnmarshalSnapshot([]byte(tc.data))
			require.Error(t, err)

			if tc.err != "" {
				assert.Contains(t, err.Error(), tc.err)
			}
			if tc.wantCode != "" {
				var verr *errs.ValidationError
				require.ErrorAs(t, err, &verr)
				assert.True(t, verr.Violations.Has(tc.wantCode))
			}
		})
	}
}

func TestSnapshot_Clone(t *testing.T) {
	t.Parallel()

	snap := rulestore.NewSnapshot(fixedNow)
	r := newRule("Original", rule.CategoryTesting, rule.UrgencyLow, "x")
	r.ID = "r"
	snap.Rules.Set("r", r)

	c := snap.Clone()
	cr, _ := c.Rules.Get("r")
	cr.Title = "Changed"
	cr.Tags[0] = "y"
	c.Rules.Delete("r")

	orig, ok := snap.Rules.Get("r")
	require.True(t, ok)
	assert.Equal(t, "Original", orig.Title)
	assert.Equal(t, []string{"x"}, orig.Tags)
}
