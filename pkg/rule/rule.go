// Package rule defines the [Rule] data unit: a categorized, urgency-ranked,
// reusable instruction snippet.
package rule

import (
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/macropower/rulebook/pkg/errs"
)

// Violation codes reported by [Rule.Validate].
const (
	CodeMissingID       = "MISSING_ID"
	CodeMissingTitle    = "MISSING_TITLE"
	CodeMissingContent  = "MISSING_CONTENT"
	CodeInvalidCategory = "INVALID_CATEGORY"
	CodeInvalidUrgency  = "INVALID_URGENCY"
	CodeDuplicateID     = "DUPLICATE_ID"
)

// Rule is a reusable instruction snippet.
type Rule struct {
	Created      time.Time `json:"created"      jsonschema:"title=Created"`
	LastModified time.Time `json:"lastModified" jsonschema:"title=Last Modified"`
	// ID uniquely identifies the rule within a store.
	ID string `json:"id" jsonschema:"title=ID"`
	// Title is a short, non-empty summary.
	Title string `json:"title" jsonschema:"title=Title,minLength=1"`
	// Content is the instruction body.
	Content  string   `json:"content"  jsonschema:"title=Content,minLength=1"`
	Category Category `json:"category" jsonschema:"title=Category"`
	Urgency  Urgency  `json:"urgency"  jsonschema:"title=Urgency"`
	// Sources records where the rule came from, in order.
	Sources      []string `json:"sources,omitempty"      jsonschema:"title=Sources"`
	ProjectTypes []string `json:"projectTypes,omitempty" jsonschema:"title=Project Types"`
	Tags         []string `json:"tags,omitempty"         jsonschema:"title=Tags"`
}

// NewID returns a new random rule ID.
func NewID() string {
	return uuid.NewString()
}

// Validate checks every constraint on r and returns a [*errs.ValidationError]
// listing all violations, or nil.
func (r *Rule) Validate() error {
	return r.Violations().Err()
}

// Violations returns all violated constraints on r.
func (r *Rule) Violations() errs.Violations {
	var vs errs.Violations

	if strings.TrimSpace(r.ID) == "" {
		vs.Add("id", CodeMissingID, "id is required")
	}
	if strings.TrimSpace(r.Title) == "" {
		vs.Add("title", CodeMissingTitle, "title must not be empty")
	}
	if strings.TrimSpace(r.Content) == "" {
		vs.Add("content", CodeMissingContent, "content must not be empty")
	}
	if !r.Category.Valid() {
		vs.Add("category", CodeInvalidCategory, "unknown category %q, must be one of: %s", r.Category, joinCategories())
	}
	if !r.Urgency.Valid() {
		vs.Add("urgency", CodeInvalidUrgency, "unknown urgency %q, must be one of: %s", r.Urgency, joinUrgencies())
	}

	return vs
}

// Normalize removes duplicate and blank entries from the set-valued fields,
// keeping first occurrences in order.
func (r *Rule) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Tags = uniq(r.Tags)
	r.ProjectTypes = uniq(r.ProjectTypes)
}

// HasTag reports whether r carries any of the given tags.
func (r *Rule) HasTag(tags ...string) bool {
	return containsAny(r.Tags, tags)
}

// HasProjectType reports whether r applies to any of the given project types.
func (r *Rule) HasProjectType(types ...string) bool {
	return containsAny(r.ProjectTypes, types)
}

// Clone returns a deep copy of r.
func (r *Rule) Clone() *Rule {
	if r == nil {
		return nil
	}

	c := *r
	c.Sources = slices.Clone(r.Sources)
	c.ProjectTypes = slices.Clone(r.ProjectTypes)
	c.Tags = slices.Clone(r.Tags)

	return &c
}

// Patch holds a partial update. Nil fields are left unchanged.
type Patch struct {
	Title        *string   `json:"title,omitempty"`
	Content      *string   `json:"content,omitempty"`
	Category     *Category `json:"category,omitempty"`
	Urgency      *Urgency  `json:"urgency,omitempty"`
	Sources      *[]string `json:"sources,omitempty"`
	ProjectTypes *[]string `json:"projectTypes,omitempty"`
	Tags         *[]string `json:"tags,omitempty"`
}

// Empty reports whether p changes nothing.
func (p Patch) Empty() bool {
	return p == Patch{}
}

// Apply returns a copy of r with p merged in. r is not modified.
func (r *Rule) Apply(p Patch) *Rule {
	m := r.Clone()

	if p.Title != nil {
		m.Title = *p.Title
	}
	if p.Content != nil {
		m.Content = *p.Content
	}
	if p.Category != nil {
		m.Category = *p.Category
	}
	if p.Urgency != nil {
		m.Urgency = *p.Urgency
	}
	if p.Sources != nil {
		m.Sources = slices.Clone(*p.Sources)
	}
	if p.ProjectTypes != nil {
		m.ProjectTypes = slices.Clone(*p.ProjectTypes)
	}
	if p.Tags != nil {
		m.Tags = slices.Clone(*p.Tags)
	}

	m.Normalize()

	return m
}

func uniq(ss []string) []string {
	if ss == nil {
		return nil
	}

	seen := make(map[string]bool, len(ss))
	out := make([]string, 0, len(ss))

	for _, s := range ss {
		s = strings.TrimSpace(s)
		if s == "" || seen[s] {
			continue
		}

		seen[s] = true
		out = append(out, s)
	}

	return out
}

func containsAny(have, want []string) bool {
	for _, w := range want {
		for _, h := range have {
			if strings.EqualFold(h, w) {
				return true
			}
		}
	}

	return false
}
