package config

import (
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/selection"
)

// Warning codes reported by [Manager.Validate]. Warnings never make a
// profile invalid.
const (
	CodeNoTemplate      = "NO_TEMPLATE"
	CodeUnknownTemplate = "UNKNOWN_TEMPLATE"
	CodeNoDirectories   = "NO_DIRECTORIES"
	CodeEmptyResolution = "EMPTY_RESOLUTION"
)

// Report is the result of [Manager.Validate].
type Report struct {
	// RuleResolution maps each artifact kind to its resolution.
	RuleResolution map[string]*Resolution `json:"ruleResolution"`
	Errors         errs.Violations        `json:"errors"`
	Warnings       errs.Violations        `json:"warnings"`
	// Valid is true when there are no errors.
	Valid bool `json:"valid"`
}

// Err returns a [*errs.ConfigurationInvalidError] for the report's errors,
// or nil if the profile is valid.
func (r *Report) Err(id string) error {
	if r.Valid {
		return nil
	}

	return &errs.ConfigurationInvalidError{ID: id, Violations: r.Errors}
}

// Resolution describes how one artifact's selection resolved against the
// rule pool.
type Resolution struct {
	RulesByCategory   map[rule.Category]int `json:"rulesByCategory"`
	RulesByUrgency    map[rule.Urgency]int  `json:"rulesByUrgency"`
	ResolvedRuleIDs   []string              `json:"resolvedRuleIds"`
	FailedResolutions []FailedResolution    `json:"failedResolutions,omitempty"`
}

// FailedResolution records a selection group that could not be resolved.
// Index is -1 when the failure is not tied to a single group.
type FailedResolution struct {
	Side  selection.Side `json:"side,omitempty"`
	Error string         `json:"error"`
	Index int            `json:"index"`
}

func newResolution() *Resolution {
	return &Resolution{
		RulesByCategory: map[rule.Category]int{},
		RulesByUrgency:  map[rule.Urgency]int{},
		ResolvedRuleIDs: []string{},
	}
}
