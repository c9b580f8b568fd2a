package rule

import (
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"
)

// Urgency is an ordered severity level: INFO < LOW < MEDIUM < HIGH < CRITICAL.
type Urgency string

const (
	UrgencyInfo     Urgency = "INFO"
	UrgencyLow      Urgency = "LOW"
	UrgencyMedium   Urgency = "MEDIUM"
	UrgencyHigh     Urgency = "HIGH"
	UrgencyCritical Urgency = "CRITICAL"
)

// Urgencies lists all urgency levels in ascending order.
var Urgencies = []Urgency{
	UrgencyInfo,
	UrgencyLow,
	UrgencyMedium,
	UrgencyHigh,
	UrgencyCritical,
}

var urgencyEmoji = map[Urgency]string{
	UrgencyInfo:     "ℹ️",
	UrgencyLow:      "🔵",
	UrgencyMedium:   "🟡",
	UrgencyHigh:     "🟠",
	UrgencyCritical: "🔴",
}

// ParseUrgency parses an urgency token, ignoring case and surrounding space.
func ParseUrgency(s string) (Urgency, error) {
	u := Urgency(strings.ToUpper(strings.TrimSpace(s)))
	if !u.Valid() {
		return u, fmt.Errorf("unknown urgency %q, must be one of: %s", s, joinUrgencies())
	}

	return u, nil
}

// Rank returns the position of u in [Urgencies], or -1 if u is unknown.
func (u Urgency) Rank() int {
	for i, v := range Urgencies {
		if v == u {
			return i
		}
	}

	return -1
}

func (u Urgency) Valid() bool {
	return u.Rank() >= 0
}

// AtLeast reports whether u ranks at or above threshold.
func (u Urgency) AtLeast(threshold Urgency) bool {
	return u.Rank() >= threshold.Rank()
}

// Emoji returns the glyph for u, or an empty string if u is unknown.
func (u Urgency) Emoji() string {
	return urgencyEmoji[u]
}

func (u Urgency) String() string {
	return string(u)
}

func (u *Urgency) UnmarshalText(text []byte) error {
	*u = Urgency(strings.ToUpper(strings.TrimSpace(string(text))))

	return nil
}

func (Urgency) JSONSchemaExtend(jss *jsonschema.Schema) {
	jss.Enum = nil
	for _, u := range Urgencies {
		jss.Enum = append(jss.Enum, string(u))
	}
}

func joinUrgencies() string {
	ss := make([]string, 0, len(Urgencies))
	for _, u := range Urgencies {
		ss = append(ss, string(u))
	}

	return strings.Join(ss, ", ")
}
