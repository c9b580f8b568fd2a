package rule

import (
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Category is a closed classification tag on a [Rule].
type Category string

const (
	CategoryCodingStandards Category = "CODING_STANDARDS"
	CategoryArchitecture    Category = "ARCHITECTURE"
	CategorySecurity        Category = "SECURITY"
	CategoryTesting         Category = "TESTING"
	CategoryDocumentation   Category = "DOCUMENTATION"
	CategoryPerformance     Category = "PERFORMANCE"
	CategoryTaskManagement  Category = "TASK_MANAGEMENT"
	CategoryWorkflow        Category = "WORKFLOW"
	CategoryCommunication   Category = "COMMUNICATION"
	CategoryCustom          Category = "CUSTOM"
)

// Categories lists all categories in display order.
var Categories = []Category{
	CategoryCodingStandards,
	CategoryArchitecture,
	CategorySecurity,
	CategoryTesting,
	CategoryDocumentation,
	CategoryPerformance,
	CategoryTaskManagement,
	CategoryWorkflow,
	CategoryCommunication,
	CategoryCustom,
}

var categoryEmoji = map[Category]string{
	CategoryCodingStandards: "📐",
	CategoryArchitecture:    "🏗️",
	CategorySecurity:        "🔒",
	CategoryTesting:         "🧪",
	CategoryDocumentation:   "📝",
	CategoryPerformance:     "⚡",
	CategoryTaskManagement:  "📋",
	CategoryWorkflow:        "🔄",
	CategoryCommunication:   "💬",
	CategoryCustom:          "🔧",
}

// ParseCategory parses a category token. Matching ignores case, and accepts
// dashes or spaces in place of underscores.
func ParseCategory(s string) (Category, error) {
	c := normalizeCategory(s)
	if !c.Valid() {
		return c, fmt.Errorf("unknown category %q, must be one of: %s", s, joinCategories())
	}

	return c, nil
}

func normalizeCategory(s string) Category {
	s = strings.TrimSpace(s)
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)

	return Category(strings.ToUpper(s))
}

func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Index returns the display position of c, or -1 if c is unknown.
func (c Category) Index() int {
	return slices.Index(Categories, c)
}

// Title returns a human-readable name, e.g. "Coding Standards".
func (c Category) Title() string {
	s := strings.ReplaceAll(strings.ToLower(string(c)), "_", " ")

	return cases.Title(language.English).String(s)
}

// Emoji returns the glyph for c, or an empty string if c is unknown.
func (c Category) Emoji() string {
	return categoryEmoji[c]
}

func (c Category) String() string {
	return string(c)
}

func (c *Category) UnmarshalText(text []byte) error {
	*c = normalizeCategory(string(text))

	return nil
}

func (Category) JSONSchemaExtend(jss *jsonschema.Schema) {
	jss.Enum = nil
	for _, c := range Categories {
		jss.Enum = append(jss.Enum, string(c))
	}
}

func joinCategories() string {
	ss := make([]string, 0, len(Categories))
	for _, c := range Categories {
		ss = append(ss, string(c))
	}

	return strings.Join(ss, ", ")
}
