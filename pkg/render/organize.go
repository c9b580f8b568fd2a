package render

import (
	"slices"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/rule"
)

// Group is a titled run of rules in an artifact.
type Group struct {
	// Key is the category or urgency token, or empty for ungrouped output.
	Key   string
	Name  string
	Emoji string
	Rules []*rule.Rule
}

// Organize splits rules into groups and orders each group, following org.
// Category groups follow category order, urgency groups run from most to
// least urgent, and empty groups are omitted. [profiles.GroupByNone] yields
// a single group, unless rules is empty. Sorting is stable. A nil org uses
// the defaults.
func Organize(rules []*rule.Rule, org *profiles.Organization) []Group {
	o := profiles.Organization{}
	if org != nil {
		o = *org
	}

	o.EnsureDefaults()

	var groups []Group

	switch o.GroupBy {
	case profiles.GroupByUrgency:
		for _, u := range slices.Backward(rule.Urgencies) {
			groups = appendGroup(groups, Group{
				Key:   string(u),
				Name:  titleOf(string(u)),
				Emoji: u.Emoji(),
				Rules: filter(rules, func(r *rule.Rule) bool { return r.Urgency == u }),
			})
		}

	case profiles.GroupByNone:
		groups = appendGroup(groups, Group{
			Name:  "Rules",
			Rules: slices.Clone(rules),
		})

	default:
		for _, c := range rule.Categories {
			groups = appendGroup(groups, Group{
				Key:   string(c),
				Name:  c.Title(),
				Emoji: c.Emoji(),
				Rules: filter(rules, func(r *rule.Rule) bool { return r.Category == c }),
			})
		}
	}

	for _, g := range groups {
		sortRules(g.Rules, o.SortBy)
	}

	return groups
}

func sortRules(rules []*rule.Rule, by profiles.SortBy) {
	switch by {
	case profiles.SortByUrgency:
		slices.SortStableFunc(rules, func(a, b *rule.Rule) int {
			return b.Urgency.Rank() - a.Urgency.Rank()
		})
	case profiles.SortByTitle:
		slices.SortStableFunc(rules, func(a, b *rule.Rule) int {
			return strings.Compare(strings.ToLower(a.Title), strings.ToLower(b.Title))
		})
	case profiles.SortByNone:
	}
}

func appendGroup(groups []Group, g Group) []Group {
	if len(g.Rules) == 0 {
		return groups
	}

	return append(groups, g)
}

func filter(rules []*rule.Rule, pred func(*rule.Rule) bool) []*rule.Rule {
	var out []*rule.Rule
	for _, r := range rules {
		if pred(r) {
			out = append(out, r)
		}
	}

	return out
}

func titleOf(token string) string {
	return cases.Title(language.English).String(strings.ToLower(token))
}
