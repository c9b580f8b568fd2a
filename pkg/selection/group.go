package selection

import (
	"fmt"
	"slices"
	"strings"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/expr"
	"github.com/macropower/rulebook/pkg/rule"
)

// Violation codes reported for malformed groups and criteria.
const (
	CodeInvalidCategory = rule.CodeInvalidCategory
	CodeInvalidUrgency  = rule.CodeInvalidUrgency
	CodeInvalidMatch    = "INVALID_MATCH"
	CodeInvalidMaxRules = "INVALID_MAX_RULES"
)

// Group is a conjunctive rule filter. Fields are AND-ed; values within a
// field are OR-ed. An empty Group matches every rule.
type Group struct {
	// Match is an optional CEL expression over the `rule` variable.
	Match string `json:"match,omitempty" jsonschema:"title=Match"`
	// Categories limits matches to rules in any of these categories.
	Categories []rule.Category `json:"categories,omitempty" jsonschema:"title=Categories"`
	// Urgencies limits matches to rules with any of these urgencies.
	Urgencies []rule.Urgency `json:"urgencies,omitempty" jsonschema:"title=Urgencies"`
	// Tags limits matches to rules carrying any of these tags.
	Tags []string `json:"tags,omitempty" jsonschema:"title=Tags"`
	// ProjectTypes limits matches to rules for any of these project types.
	ProjectTypes []string `json:"projectTypes,omitempty" jsonschema:"title=Project Types"`
}

// Empty reports whether g has no constraints.
func (g Group) Empty() bool {
	return g.Match == "" &&
		len(g.Categories) == 0 &&
		len(g.Urgencies) == 0 &&
		len(g.Tags) == 0 &&
		len(g.ProjectTypes) == 0
}

// Validate reports unknown enum tokens and uncompilable match expressions.
func (g Group) Validate() error {
	vs, _ := g.check()

	return vs.Err()
}

// String returns a compact description of g, e.g.
// "categories=SECURITY,TESTING urgencies=HIGH".
func (g Group) String() string {
	var parts []string

	if len(g.Categories) > 0 {
		parts = append(parts, "categories="+joinStrings(g.Categories))
	}
	if len(g.Urgencies) > 0 {
		parts = append(parts, "urgencies="+joinStrings(g.Urgencies))
	}
	if len(g.Tags) > 0 {
		parts = append(parts, "tags="+strings.Join(g.Tags, ","))
	}
	if len(g.ProjectTypes) > 0 {
		parts = append(parts, "projectTypes="+strings.Join(g.ProjectTypes, ","))
	}
	if g.Match != "" {
		parts = append(parts, fmt.Sprintf("match=%q", g.Match))
	}
	if len(parts) == 0 {
		return "all"
	}

	return strings.Join(parts, " ")
}

// check validates g and compiles its match expression.
func (g Group) check() (errs.Violations, *expr.Matcher) {
	var vs errs.Violations

	for i, c := range g.Categories {
		if !c.Valid() {
			vs.Add(fmt.Sprintf("categories[%d]", i), CodeInvalidCategory, "unknown category %q", c)
		}
	}
	for i, u := range g.Urgencies {
		if !u.Valid() {
			vs.Add(fmt.Sprintf("urgencies[%d]", i), CodeInvalidUrgency, "unknown urgency %q", u)
		}
	}

	if g.Match == "" {
		return vs, nil
	}

	m, err := expr.NewMatcher(g.Match)
	if err != nil {
		vs.Add("match", CodeInvalidMatch, "%v", err)
		return vs, nil
	}

	return vs, m
}

// compiled is a validated [Group] ready for matching.
type compiled struct {
	matcher *expr.Matcher
	group   Group
}

func (g Group) compile() (*compiled, error) {
	vs, m := g.check()

	err := vs.Err()
	if err != nil {
		return nil, err
	}

	return &compiled{group: g, matcher: m}, nil
}

func (c *compiled) matches(r *rule.Rule) (bool, error) {
	g := c.group

	if len(g.Categories) > 0 && !slices.Contains(g.Categories, r.Category) {
		return false, nil
	}
	if len(g.Urgencies) > 0 && !slices.Contains(g.Urgencies, r.Urgency) {
		return false, nil
	}
	if len(g.Tags) > 0 && !r.HasTag(g.Tags...) {
		return false, nil
	}
	if len(g.ProjectTypes) > 0 && !r.HasProjectType(g.ProjectTypes...) {
		return false, nil
	}
	if c.matcher == nil {
		return true, nil
	}

	ok, err := c.matcher.Match(r)
	if err != nil {
		return false, fmt.Errorf("rule %q: %w", r.ID, err)
	}

	return ok, nil
}

// filter returns the rules in pool matched by c, in pool order.
func (c *compiled) filter(pool []*rule.Rule) ([]*rule.Rule, error) {
	var out []*rule.Rule

	for _, r := range pool {
		ok, err := c.matches(r)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, r)
		}
	}

	return out, nil
}

// Filter returns the rules in pool matched by g, in pool order. It fails
// only when g is malformed.
func (g Group) Filter(pool []*rule.Rule) ([]*rule.Rule, error) {
	c, err := g.compile()
	if err != nil {
		return nil, err
	}

	return c.filter(pool)
}

func joinStrings[S ~string](ss []S) string {
	out := make([]string, 0, len(ss))
	for _, s := range ss {
		out = append(out, string(s))
	}

	return strings.Join(out, ",")
}
