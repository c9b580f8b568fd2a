package rulestore_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

func seed(t *testing.T, s *rulestore.Store) {
	t.Helper()

	rules := []*rule.Rule{
		newRule("Validate input", rule.CategorySecurity, rule.UrgencyCritical, "web"),
		newRule("Escape output", rule.CategorySecurity, rule.UrgencyHigh, "web", "html"),
		newRule("Table tests", rule.CategoryTesting, rule.UrgencyMedium, "go"),
		newRule("Document exported names", rule.CategoryDocumentation, rule.UrgencyLow, "go"),
	}
	rules[0].Sources = []string{"owasp", "team"}
	rules[2].Sources = []string{"team"}

	for _, r := range rules {
		_, err := s.Add(t.Context(), r)
		require.NoError(t, err)
	}
}

func TestStore_Search(t *testing.T) {
	t.Parallel()

	tcs := map[string]struct {
		filter     rulestore.Filter
		want       []string
		categories map[rule.Category]int
		urgencies  map[rule.Urgency]int
	}{
		"empty filter matches all": {
			filter: rulestore.Filter{},
			want:   []string{"Validate input", "Escape output", "Table tests", "Document exported names"},
			categories: map[rule.Category]int{
				rule.CategorySecurity:      2,
				rule.CategoryTesting:       1,
				rule.CategoryDocumentation: 1,
			},
			urgencies: map[rule.Urgency]int{
				rule.UrgencyCritical: 1,
				rule.UrgencyHigh:     1,
				rule.UrgencyMedium:   1,
				rule.UrgencyLow:      1,
			},
		},
		"category": {
			filter:     rulestore.Filter{Categories: []rule.Category{rule.CategorySecurity}},
			want:       []string{"Validate input", "Escape output"},
			categories: map[rule.Category]int{rule.CategorySecurity: 2},
			urgencies:  map[rule.Urgency]int{rule.UrgencyCritical: 1, rule.UrgencyHigh: 1},
		},
		"categories are or-ed": {
			filter: rulestore.Filter{Categories: []rule.Category{rule.CategoryTesting, rule.CategoryDocumentation}},
			want:   []string{"Table tests", "Document exported names"},
			categories: map[rule.Category]int{
				rule.CategoryTesting:       1,
				rule.CategoryDocumentation: 1,
			},
			urgencies: map[rule.Urgency]int{rule.UrgencyMedium: 1, rule.UrgencyLow: 1},
		},
		"fields are and-ed": {
			filter: rulestore.Filter{
				Categories: []rule.Category{rule.CategorySecurity},
				Urgencies:  []rule.Urgency{rule.UrgencyHigh},
			},
			want:       []string{"Escape output"},
			categories: map[rule.Category]int{rule.CategorySecurity: 1},
			urgencies:  map[rule.Urgency]int{rule.UrgencyHigh: 1},
		},
		"tags": {
			filter:     rulestore.Filter{Tags: []string{"GO"}},
			want:       []string{"Table tests", "Document exported names"},
			categories: map[rule.Category]int{rule.CategoryTesting: 1, rule.CategoryDocumentation: 1},
			urgencies:  map[rule.Urgency]int{rule.UrgencyMedium: 1, rule.UrgencyLow: 1},
		},
		"text matches title case-insensitively": {
			filter:     rulestore.Filter{Text: "ESCAPE"},
			want:       []string{"Escape output"},
			categories: map[rule.Category]int{rule.CategorySecurity: 1},
			urgencies:  map[rule.Urgency]int{rule.UrgencyHigh: 1},
		},
		"text matches content": {
			filter:     rulestore.Filter{Text: "tests content"},
			want:       []string{"Table tests"},
			categories: map[rule.Category]int{rule.CategoryTesting: 1},
			urgencies:  map[rule.Urgency]int{rule.UrgencyMedium: 1},
		},
		"no match": {
			filter:     rulestore.Filter{Text: "kubernetes"},
			want:       nil,
			categories: map[rule.Category]int{},
			urgencies:  map[rule.Urgency]int{},
		},
	}

	s, _ := openFileStore(t)
	seed(t, s)

	for name, tc := range tcs {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			res := s.Search(tc.filter)

			var got []string
			for _, r := range res.Rules {
				got = append(got, r.Title)
			}

			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.categories, res.Facets.Categories)
			assert.Equal(t, tc.urgencies, res.Facets.Urgencies)
		})
	}
}

func TestStore_Statistics(t *testing.T) {
	t.Parallel()

	s, _ := openFileStore(t)
	seed(t, s)

	st := s.Statistics()

	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.ByCategory[rule.CategorySecurity])
	assert.Equal(t, 0, st.ByCategory[rule.CategoryWorkflow])
	assert.Len(t, st.ByCategory, len(rule.Categories))
	assert.Len(t, st.ByUrgency, len(rule.Urgencies))
	assert.Equal(t, 1, st.ByUrgency[rule.UrgencyCritical])
	assert.Equal(t, 0, st.ByUrgency[rule.UrgencyInfo])
	assert.Equal(t, map[string]int{"owasp": 1, "team": 2}, st.BySource)
}

func TestTally_Empty(t *testing.T) {
	t.Parallel()

	st := rulestore.Tally(nil)

	assert.Equal(t, 0, st.Total)
	assert.Empty(t, st.BySource)
	assert.Len(t, st.ByCategory, len(rule.Categories))
}
