// Package selection resolves declarative [Criteria] against a rule pool.
//
// Resolution runs these steps in order, each on the output of the previous:
//
//  1. Start with the full pool.
//  2. Intersect with the union of the include groups' matches. When that
//     union is empty the working set is left unchanged.
//  3. Intersect with the explicit include ids.
//  4. Subtract the union of the exclude groups' matches.
//  5. Subtract the explicit exclude ids.
//  6. Keep only rules whose category is required.
//  7. Keep only rules at or above the minimum urgency.
//  8. If the working set exceeds the cap, stable sort it by urgency
//     (highest first) and truncate.
//
// Resolution is pure. An empty result is not an error; only malformed groups
// are.
package selection

import (
	"fmt"
	"slices"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
)

// Side names which group list of a [Criteria] a [GroupError] belongs to.
type Side string

const (
	SideInclude Side = "include"
	SideExclude Side = "exclude"
)

// GroupError reports a group that could not be resolved.
type GroupError struct {
	Err   error
	Side  Side
	Index int
}

func (e *GroupError) Error() string {
	return fmt.Sprintf("%s[%d]: %v", e.Side, e.Index, e.Err)
}

func (e *GroupError) Unwrap() error {
	return e.Err
}

// Criteria selects rules for one artifact.
type Criteria struct {
	// MinUrgency drops rules ranked below it. Empty means no threshold.
	MinUrgency rule.Urgency `json:"minUrgency,omitempty" jsonschema:"title=Minimum Urgency"`
	// MaxRules caps the result, keeping the most urgent rules.
	MaxRules *int `json:"maxRules,omitempty" jsonschema:"title=Max Rules,minimum=0"`
	// Include groups are unioned and intersected with the pool.
	Include []Group `json:"include,omitempty" jsonschema:"title=Include"`
	// Exclude groups are unioned and subtracted.
	Exclude []Group `json:"exclude,omitempty" jsonschema:"title=Exclude"`
	// ExplicitIncludes restricts the result to these rule ids.
	ExplicitIncludes []string `json:"explicitIncludes,omitempty" jsonschema:"title=Explicit Includes"`
	// ExplicitExcludes removes these rule ids.
	ExplicitExcludes []string `json:"explicitExcludes,omitempty" jsonschema:"title=Explicit Excludes"`
	// RequiredCategories keeps only rules in these categories.
	RequiredCategories []rule.Category `json:"requiredCategories,omitempty" jsonschema:"title=Required Categories"`
}

// Validate reports every malformed field of c.
func (c *Criteria) Validate() error {
	return c.Violations().Err()
}

// Violations returns every malformed field of c.
func (c *Criteria) Violations() errs.Violations {
	var vs errs.Violations

	for i, g := range c.Include {
		gvs, _ := g.check()
		vs.Merge(fmt.Sprintf("%s[%d]", SideInclude, i), gvs)
	}
	for i, g := range c.Exclude {
		gvs, _ := g.check()
		vs.Merge(fmt.Sprintf("%s[%d]", SideExclude, i), gvs)
	}
	vs = append(vs, c.scalarViolations()...)

	return vs
}

// Resolve returns the rules of pool selected by c. The pool is not modified,
// and the returned slice shares its elements.
func Resolve(pool []*rule.Rule, c Criteria) ([]*rule.Rule, error) {
	err := c.scalarViolations().Err()
	if err != nil {
		return nil, err
	}

	working := slices.Clone(pool)

	if len(c.Include) > 0 {
		inc, err := union(pool, c.Include, SideInclude)
		if err != nil {
			return nil, err
		}
		if len(inc) > 0 {
			working = keep(working, func(r *rule.Rule) bool { return inc[r] })
		}
	}

	if len(c.ExplicitIncludes) > 0 {
		ids := idSet(c.ExplicitIncludes)
		working = keep(working, func(r *rule.Rule) bool { return ids[r.ID] })
	}

	if len(c.Exclude) > 0 {
		exc, err := union(pool, c.Exclude, SideExclude)
		if err != nil {
			return nil, err
		}

		working = keep(working, func(r *rule.Rule) bool { return !exc[r] })
	}

	if len(c.ExplicitExcludes) > 0 {
		ids := idSet(c.ExplicitExcludes)
		working = keep(working, func(r *rule.Rule) bool { return !ids[r.ID] })
	}

	if len(c.RequiredCategories) > 0 {
		working = keep(working, func(r *rule.Rule) bool {
			return slices.Contains(c.RequiredCategories, r.Category)
		})
	}

	if c.MinUrgency != "" {
		working = keep(working, func(r *rule.Rule) bool { return r.Urgency.AtLeast(c.MinUrgency) })
	}

	if c.MaxRules != nil && len(working) > *c.MaxRules {
		slices.SortStableFunc(working, func(a, b *rule.Rule) int {
			return b.Urgency.Rank() - a.Urgency.Rank()
		})

		working = working[:*c.MaxRules]
	}

	return working, nil
}

// ResolveGroup returns the rules of pool matched by a single group, in pool
// order.
func ResolveGroup(pool []*rule.Rule, g Group) ([]*rule.Rule, error) {
	return g.Filter(pool)
}

func (c *Criteria) scalarViolations() errs.Violations {
	var vs errs.Violations

	for i, cat := range c.RequiredCategories {
		if !cat.Valid() {
			vs.Add(fmt.Sprintf("requiredCategories[%d]", i), CodeInvalidCategory, "unknown category %q", cat)
		}
	}
	if c.MinUrgency != "" && !c.MinUrgency.Valid() {
		vs.Add("minUrgency", CodeInvalidUrgency, "unknown urgency %q", c.MinUrgency)
	}
	if c.MaxRules != nil && *c.MaxRules < 0 {
		vs.Add("maxRules", CodeInvalidMaxRules, "maxRules must not be negative")
	}

	return vs
}

// union returns the set of pool rules matched by any of groups.
func union(pool []*rule.Rule, groups []Group, side Side) (map[*rule.Rule]bool, error) {
	set := map[*rule.Rule]bool{}

	for i, g := range groups {
		c, err := g.compile()
		if err != nil {
			return nil, &GroupError{Side: side, Index: i, Err: err}
		}

		matched, err := c.filter(pool)
		if err != nil {
			return nil, &GroupError{Side: side, Index: i, Err: err}
		}

		for _, r := range matched {
			set[r] = true
		}
	}

	return set, nil
}

func keep(rules []*rule.Rule, pred func(*rule.Rule) bool) []*rule.Rule {
	out := rules[:0:0]
	for _, r := range rules {
		if pred(r) {
			out = append(out, r)
		}
	}

	return out
}

func idSet(ids []string) map[string]bool {
	set := make(map[string]bool, len(ids))
	for _, id := range ids {
		set[id] = true
	}

	return set
}
