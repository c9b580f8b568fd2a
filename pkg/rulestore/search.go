package rulestore

import (
	"slices"
	"strings"

	"github.com/macropower/rulebook/pkg/rule"
)

// Filter narrows a [Store.Search]. Fields are AND-ed; values within a field
// are OR-ed. Empty fields match everything.
type Filter struct {
	// Text is matched case-insensitively against title and content.
	Text       string          `json:"text,omitempty"`
	Categories []rule.Category `json:"categories,omitempty"`
	Urgencies  []rule.Urgency  `json:"urgencies,omitempty"`
	Tags       []string        `json:"tags,omitempty"`
}

// Match reports whether r passes f.
func (f Filter) Match(r *rule.Rule) bool {
	if len(f.Categories) > 0 && !slices.Contains(f.Categories, r.Category) {
		return false
	}
	if len(f.Urgencies) > 0 && !slices.Contains(f.Urgencies, r.Urgency) {
		return false
	}
	if len(f.Tags) > 0 && !r.HasTag(f.Tags...) {
		return false
	}

	text := strings.ToLower(strings.TrimSpace(f.Text))
	if text == "" {
		return true
	}

	return strings.Contains(strings.ToLower(r.Title), text) ||
		strings.Contains(strings.ToLower(r.Content), text)
}

// Facets counts a result set per category and per urgency.
type Facets struct {
	Categories map[rule.Category]int `json:"categories"`
	Urgencies  map[rule.Urgency]int  `json:"urgencies"`
}

// SearchResult holds the matching rules, in insertion order, and their
// facets.
type SearchResult struct {
	Facets Facets       `json:"facets"`
	Rules  []*rule.Rule `json:"rules"`
}

// Search returns copies of the rules matching f.
func (s *Store) Search(f Filter) *SearchResult {
	s.mu.RLock()
	defer s.mu.RUnlock()

	res := &SearchResult{
		Rules: []*rule.Rule{},
		Facets: Facets{
			Categories: map[rule.Category]int{},
			Urgencies:  map[rule.Urgency]int{},
		},
	}

	for pair := s.snap.Rules.Oldest(); pair != nil; pair = pair.Next() {
		r := pair.Value
		if !f.Match(r) {
			continue
		}

		res.Rules = append(res.Rules, r.Clone())
		res.Facets.Categories[r.Category]++
		res.Facets.Urgencies[r.Urgency]++
	}

	return res
}

// Statistics counts rules per category, urgency and source.
type Statistics struct {
	ByCategory map[rule.Category]int `json:"byCategory"`
	ByUrgency  map[rule.Urgency]int  `json:"byUrgency"`
	BySource   map[string]int        `json:"bySource"`
	Total      int                   `json:"total"`
}

// Statistics counts every stored rule.
func (s *Store) Statistics() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Tally(s.snap.List())
}

// Tally counts rules per category, urgency and source. Every known category
// and urgency is present, with a zero count if no rule has it. A rule with
// several sources counts once per source.
func Tally(rules []*rule.Rule) Statistics {
	st := Statistics{
		Total:      len(rules),
		ByCategory: make(map[rule.Category]int, len(rule.Categories)),
		ByUrgency:  make(map[rule.Urgency]int, len(rule.Urgencies)),
		BySource:   map[string]int{},
	}

	for _, c := range rule.Categories {
		st.ByCategory[c] = 0
	}
	for _, u := range rule.Urgencies {
		st.ByUrgency[u] = 0
	}

	for _, r := range rules {
		st.ByCategory[r.Category]++
		st.ByUrgency[r.Urgency]++

		for _, src := range r.Sources {
			st.BySource[src]++
		}
	}

	return st
}
