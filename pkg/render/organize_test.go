package render_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/render"
	"github.com/macropower/rulebook/pkg/rule"
)

func TestOrganize(t *testing.T) {
	t.Parallel()

	type group struct {
		name string
		ids  []string
	}

	tcs := map[string]struct {
		org  *profiles.Organization
		want []group
	}{
		"nil uses defaults": {
			want: []group{
				{name: "Security", ids: []string{"s1", "s2"}},
				{name: "Testing", ids: []string{"t1"}},
				{name: "Documentation", ids: []string{"d1"}},
			},
		},
		"urgency groups, most urgent first": {
			org: &profiles.Organization{GroupBy: profiles.GroupByUrgency, SortBy: profiles.SortByTitle},
			want: []group{
				{name: "Critical", ids: []string{"s1"}},
				{name: "High", ids: []string{"t1"}},
				{name: "Low", ids: []string{"s2"}},
				{name: "Info", ids: []string{"d1"}},
			},
		},
		"single group sorted by urgency": {
			org: &profiles.Organization{GroupBy: profiles.GroupByNone},
			want: []group{
				{name: "Rules", ids: []string{"s1", "t1", "s2", "d1"}},
			},
		},
		"single group in resolved order": {
			org: &profiles.Organization{GroupBy: profiles.GroupByNone, SortBy: profiles.SortByNone},
			want: []group{
				{name: "Rules", ids: []string{"s1", "s2", "t1", "d1"}},
			},
		},
		"single group sorted by title": {
			org: &profiles.Organization{GroupBy: profiles.GroupByNone, SortBy: profiles.SortByTitle},
			want: []group{
				{name: "Rules", ids: []string{"d1", "s2", "t1", "s1"}},
			},
		},
	}

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var got []group
			for _, g := range render.Organize(testPool(), tc.org) {
				var ids []string
				for _, r := range g.Rules {
					ids = append(ids, r.ID)
				}

				got = append(got, group{name: g.Name, ids: ids})
			}

			assert.Equal(t, tc.want, got)
		})
	}
}

func TestOrganize_StableAndEmpty(t *testing.T) {
	t.Parallel()

	rules := []*rule.Rule{
		{ID: "b", Title: "Same", Category: rule.CategoryTesting, Urgency: rule.UrgencyHigh},
		{ID: "a", Title: "Same", Category: rule.CategoryTesting, Urgency: rule.UrgencyHigh},
	}

	groups := render.Organize(rules, &profiles.Organization{SortBy: profiles.SortByTitle})
	assert.Len(t, groups, 1)
	assert.Equal(t, "b", groups[0].Rules[0].ID)
	assert.Equal(t, "🧪", groups[0].Emoji)
	assert.Equal(t, string(rule.CategoryTesting), groups[0].Key)

	assert.Empty(t, render.Organize(nil, nil))
	assert.Empty(t, render.Organize(nil, &profiles.Organization{GroupBy: profiles.GroupByNone}))
}

func TestOrganize_DoesNotModifyInput(t *testing.T) {
	t.Parallel()

	rules := testPool()
	render.Organize(rules, &profiles.Organization{GroupBy: profiles.GroupByNone, SortBy: profiles.SortByTitle})

	assert.Equal(t, "s1", rules[0].ID)
}
