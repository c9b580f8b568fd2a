package mcp

import (
	"context"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

const (
	toolListRules   = "list_rules"
	toolSearchRules = "search_rules"
	toolGetRule     = "get_rule"

	defaultListLimit = 100
)

// RuleSummary is the short form of a rule returned by listings.
type RuleSummary struct {
	ID       string        `json:"id"             jsonschema:"The rule id. Pass it to get_rule exactly as shown."`
	Title    string        `json:"title"`
	Category rule.Category `json:"category"`
	Urgency  rule.Urgency  `json:"urgency"`
	Tags     []string      `json:"tags,omitempty"`
}

// RuleDetail is the full form of a rule.
type RuleDetail struct {
	Created      time.Time     `json:"created"`
	LastModified time.Time     `json:"lastModified"`
	ID           string        `json:"id"`
	Title        string        `json:"title"`
	Content      string        `json:"content"`
	Category     rule.Category `json:"category"`
	Urgency      rule.Urgency  `json:"urgency"`
	Rendered     string        `json:"rendered"               jsonschema:"The rule rendered with the rule template."`
	Sources      []string      `json:"sources,omitempty"`
	ProjectTypes []string      `json:"projectTypes,omitempty"`
	Tags         []string      `json:"tags,omitempty"`
}

type ListRulesInput struct {
	Category rule.Category `json:"category,omitempty" jsonschema:"Only list rules in this category."`
	Urgency  rule.Urgency  `json:"urgency,omitempty"  jsonschema:"Only list rules at or above this urgency."`
	Limit    int           `json:"limit,omitempty"    jsonschema:"Maximum number of rules to return. Defaults to 100."`
}

type ListRulesOutput struct {
	Rules     []RuleSummary `json:"rules"`
	Total     int           `json:"total"               jsonschema:"Number of matching rules before the limit is applied."`
	Truncated bool          `json:"truncated,omitempty"`
}

type SearchRulesInput struct {
	Text       string          `json:"text,omitempty"       jsonschema:"Text matched case-insensitively against rule titles and content."`
	Categories []rule.Category `json:"categories,omitempty" jsonschema:"Match any of these categories."`
	Urgencies  []rule.Urgency  `json:"urgencies,omitempty"  jsonschema:"Match any of these urgencies."`
	Tags       []string        `json:"tags,omitempty"       jsonschema:"Match rules carrying any of these tags."`
}

type SearchRulesOutput struct {
	Categories map[string]int `json:"categories" jsonschema:"Matching rule counts per category."`
	Urgencies  map[string]int `json:"urgencies"  jsonschema:"Matching rule counts per urgency."`
	Rules      []RuleSummary  `json:"rules"`
	Total      int            `json:"total"`
}

type GetRuleInput struct {
	ID string `json:"id" jsonschema:"The rule id, exactly as returned by list_rules or search_rules."`
}

func (s *Server) handleListRules(
	_ context.Context,
	_ *mcp.CallToolRequest,
	in ListRulesInput,
) (*mcp.CallToolResult, ListRulesOutput, error) {
	var f rulestore.Filter
	if in.Category != "" {
		f.Categories = []rule.Category{in.Category}
	}

	limit := in.Limit
	if limit <= 0 {
		limit = defaultListLimit
	}

	out := ListRulesOutput{Rules: []RuleSummary{}}

	for _, r := range s.rules.Search(f).Rules {
		if in.Urgency != "" && !r.Urgency.AtLeast(in.Urgency) {
			continue
		}

		out.Total++
		if len(out.Rules) < limit {
			out.Rules = append(out.Rules, summarize(r))
		}
	}

	out.Truncated = out.Total > len(out.Rules)

	return nil, out, nil
}

func (s *Server) handleSearchRules(
	_ context.Context,
	_ *mcp.CallToolRequest,
	in SearchRulesInput,
) (*mcp.CallToolResult, SearchRulesOutput, error) {
	res := s.rules.Search(rulestore.Filter{
		Text:       in.Text,
		Categories: in.Categories,
		Urgencies:  in.Urgencies,
		Tags:       in.Tags,
	})

	out := SearchRulesOutput{
		Rules:      make([]RuleSummary, 0, len(res.Rules)),
		Categories: make(map[string]int, len(res.Facets.Categories)),
		Urgencies:  make(map[string]int, len(res.Facets.Urgencies)),
		Total:      len(res.Rules),
	}

	for _, r := range res.Rules {
		out.Rules = append(out.Rules, summarize(r))
	}
	for c, n := range res.Facets.Categories {
		out.Categories[string(c)] = n
	}
	for u, n := range res.Facets.Urgencies {
		out.Urgencies[string(u)] = n
	}

	return nil, out, nil
}

func (s *Server) handleGetRule(
	_ context.Context,
	_ *mcp.CallToolRequest,
	in GetRuleInput,
) (*mcp.CallToolResult, RuleDetail, error) {
	r, ok := s.rules.Get(in.ID)
	if !ok {
		all := s.rules.All()

		ids := make([]string, 0, len(all))
		for _, r := range all {
			ids = append(ids, r.ID)
		}

		return nil, RuleDetail{}, errs.NewNotFoundError("rule", in.ID, ids)
	}

	rendered, err := s.renderer.RenderRule(r, "")
	if err != nil {
		return nil, RuleDetail{}, fmt.Errorf("render rule %q: %w", r.ID, err)
	}

	out := RuleDetail{
		ID:           r.ID,
		Title:        r.Title,
		Content:      r.Content,
		Category:     r.Category,
		Urgency:      r.Urgency,
		Sources:      r.Sources,
		ProjectTypes: r.ProjectTypes,
		Tags:         r.Tags,
		Created:      r.Created,
		LastModified: r.LastModified,
		Rendered:     truncateString(rendered, maxTextLen),
	}

	return nil, out, nil
}

func summarize(r *rule.Rule) RuleSummary {
	return RuleSummary{
		ID:       r.ID,
		Title:    r.Title,
		Category: r.Category,
		Urgency:  r.Urgency,
		Tags:     r.Tags,
	}
}
