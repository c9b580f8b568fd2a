package profiles

import (
	"slices"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/macropower/rulebook/pkg/errs"
)

// GroupBy selects how rules are grouped in an artifact.
type GroupBy string

const (
	// GroupByCategory groups rules by category, in category order.
	GroupByCategory GroupBy = "category"
	// GroupByUrgency groups rules by urgency, most urgent first.
	GroupByUrgency GroupBy = "urgency"
	// GroupByNone puts all rules in one group.
	GroupByNone GroupBy = "none"
)

// GroupBys lists the valid [GroupBy] values.
var GroupBys = []GroupBy{GroupByCategory, GroupByUrgency, GroupByNone}

func (g GroupBy) Valid() bool {
	return slices.Contains(GroupBys, g)
}

func (GroupBy) JSONSchemaExtend(jss *jsonschema.Schema) {
	jss.Enum = nil
	for _, g := range GroupBys {
		jss.Enum = append(jss.Enum, string(g))
	}
}

// SortBy selects how rules are ordered within a group.
type SortBy string

const (
	// SortByUrgency orders rules most urgent first.
	SortByUrgency SortBy = "urgency"
	// SortByTitle orders rules alphabetically by title.
	SortByTitle SortBy = "title"
	// SortByNone keeps the resolved order.
	SortByNone SortBy = "none"
)

// SortBys lists the valid [SortBy] values.
var SortBys = []SortBy{SortByUrgency, SortByTitle, SortByNone}

func (s SortBy) Valid() bool {
	return slices.Contains(SortBys, s)
}

func (SortBy) JSONSchemaExtend(jss *jsonschema.Schema) {
	jss.Enum = nil
	for _, s := range SortBys {
		jss.Enum = append(jss.Enum, string(s))
	}
}

// Organization controls grouping and ordering of an artifact's rules.
type Organization struct {
	// IncludeHeaders renders a heading per group. Defaults to true.
	IncludeHeaders *bool `json:"includeHeaders,omitempty" jsonschema:"title=Include Headers"`
	// GroupBy groups the rules. Defaults to "category".
	GroupBy GroupBy `json:"groupBy,omitempty" jsonschema:"title=Group By"`
	// SortBy orders the rules within each group. Defaults to "urgency".
	SortBy SortBy `json:"sortBy,omitempty" jsonschema:"title=Sort By"`
}

func (o *Organization) EnsureDefaults() {
	if o.GroupBy == "" {
		o.GroupBy = GroupByCategory
	}
	if o.SortBy == "" {
		o.SortBy = SortByUrgency
	}
	if o.IncludeHeaders == nil {
		headers := true
		o.IncludeHeaders = &headers
	}
}

// Headers reports whether group headings are rendered.
func (o *Organization) Headers() bool {
	return o.IncludeHeaders == nil || *o.IncludeHeaders
}

func (o *Organization) violations() []errs.Violation {
	var vs errs.Violations

	if o.GroupBy != "" && !o.GroupBy.Valid() {
		vs.Add("groupBy", CodeInvalidGroupBy, "unknown groupBy %q, must be one of: %s", o.GroupBy, join(GroupBys))
	}
	if o.SortBy != "" && !o.SortBy.Valid() {
		vs.Add("sortBy", CodeInvalidSortBy, "unknown sortBy %q, must be one of: %s", o.SortBy, join(SortBys))
	}

	return vs
}

func join[T ~string](vs []T) string {
	ss := make([]string, 0, len(vs))
	for _, v := range vs {
		ss = append(ss, string(v))
	}

	return strings.Join(ss, ", ")
}
