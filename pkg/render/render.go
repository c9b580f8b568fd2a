// Package render turns profiles into text artifacts.
//
// A [Renderer] resolves the rules of a profile artifact against a rule pool,
// organizes them into groups (see [Organize]) and renders the result through
// a named template of a [template.Registry]. [Renderer.Deploy] writes every
// artifact of a profile to a [Sink].
//
// Templates receive a nested map with these keys:
//
//	profile         {id, name, description, tags}
//	artifact        artifact kind, e.g. "instructions"
//	generated       render time
//	groups          [{key, name, emoji, count, rules}]
//	rules           all rules, in group order
//	count           number of rules
//	includeHeaders  whether group headings are rendered
//	summary         {byCategory, byUrgency, bySource}, non-zero counts only,
//	                plus categories in display order and urgencies from
//	                CRITICAL down, each [{key, name, emoji, count}]
//
// Each rule is a map with id, title, content, category, categoryTitle,
// urgency, emoji, tags, sources, projectTypes, created and lastModified.
package render

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/log"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
	"github.com/macropower/rulebook/pkg/selection"
	"github.com/macropower/rulebook/pkg/telemetry"
	"github.com/macropower/rulebook/pkg/template"
)

// Summary counts rules per category, urgency and source.
type Summary = rulestore.Statistics

// RulePool provides the rules artifacts are resolved against.
// [*rulestore.Store] satisfies it.
type RulePool interface {
	All() []*rule.Rule
}

// Renderer renders profile artifacts.
type Renderer struct {
	pool      RulePool
	templates *template.Registry
	metrics   *telemetry.Metrics
	tracer    trace.Tracer
	now       func() time.Time
}

// Option configures a [Renderer].
type Option func(*Renderer)

// WithClock replaces [time.Now] for the "generated" field.
func WithClock(now func() time.Time) Option {
	return func(r *Renderer) {
		r.now = now
	}
}

// WithMetrics records renders in m.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(r *Renderer) {
		r.metrics = m
	}
}

// WithTracer replaces the default tracer.
func WithTracer(t trace.Tracer) Option {
	return func(r *Renderer) {
		r.tracer = t
	}
}

// New creates a [Renderer]. A nil templates uses a registry holding only the
// built-in templates.
func New(pool RulePool, templates *template.Registry, opts ...Option) *Renderer {
	if templates == nil {
		templates = template.MustNewRegistry()
	}

	r := &Renderer{
		pool:      pool,
		templates: templates,
		now:       time.Now,
		tracer:    telemetry.Tracer("render"),
	}
	for _, opt := range opts {
		opt(r)
	}

	return r
}

// Templates returns the registry the renderer uses.
func (r *Renderer) Templates() *template.Registry {
	return r.templates
}

// Resolve returns the rules selected by the artifact kind of p, organized
// into groups.
func (r *Renderer) Resolve(p *profiles.Profile, kind string) ([]Group, error) {
	a, err := p.Artifact(kind)
	if err != nil {
		return nil, err
	}

	var c selection.Criteria
	if a.Selection != nil {
		c = *a.Selection
	}

	rules, err := selection.Resolve(r.rules(), c)
	if err != nil {
		return nil, fmt.Errorf("resolve artifact %q: %w", kind, err)
	}

	return Organize(rules, a.Organization), nil
}

// RenderArtifact resolves and renders the artifact kind of p with the
// template named by the artifact, or [template.Instructions].
func (r *Renderer) RenderArtifact(ctx context.Context, p *profiles.Profile, kind string) (string, error) {
	name := template.Instructions
	if a, ok := p.Artifacts[kind]; ok && a != nil && a.Template != "" {
		name = a.Template
	}

	ctx, span := r.tracer.Start(ctx, "render", trace.WithAttributes(
		attribute.String("profile", p.ID),
		attribute.String("artifact", kind),
		attribute.String("template", name),
	))
	defer span.End()

	count := 0

	text, err := func() (string, error) {
		groups, err := r.Resolve(p, kind)
		if err != nil {
			return "", err
		}

		data := r.artifactData(p, kind, groups)
		count, _ = data["count"].(int)

		return r.templates.Render(name, data)
	}()

	r.metrics.ObserveRender(name, count, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())

		return "", fmt.Errorf("render %s/%s: %w", p.ID, kind, err)
	}

	span.SetAttributes(attribute.Int("rules", count))

	log.WithContext(ctx).DebugContext(ctx, "rendered artifact",
		slog.String("profile", p.ID),
		slog.String("artifact", kind),
		slog.Int("rules", count),
	)

	return text, nil
}

// RenderRule renders a single rule with the named template, or
// [template.RuleTemplate] when name is empty.
func (r *Renderer) RenderRule(rl *rule.Rule, name string) (string, error) {
	if name == "" {
		name = template.RuleTemplate
	}

	text, err := r.templates.Render(name, ruleData(rl))
	if err != nil {
		return "", fmt.Errorf("render rule %s: %w", rl.ID, err)
	}

	return text, nil
}

// RenderSummary renders the counts of rules with [template.Summary].
func (r *Renderer) RenderSummary(rules []*rule.Rule) (string, error) {
	text, err := r.templates.Render(template.Summary, map[string]any{
		"count":   len(rules),
		"summary": summaryData(Summarize(rules)),
	})
	if err != nil {
		return "", fmt.Errorf("render summary: %w", err)
	}

	return text, nil
}

// Summarize counts rules per category, urgency and source.
func Summarize(rules []*rule.Rule) Summary {
	return rulestore.Tally(rules)
}

func (r *Renderer) rules() []*rule.Rule {
	if r.pool == nil {
		return nil
	}

	return r.pool.All()
}

func (r *Renderer) artifactData(p *profiles.Profile, kind string, groups []Group) map[string]any {
	var (
		all       []*rule.Rule
		rulesData []map[string]any
		tags      []string
	)

	groupData := make([]map[string]any, 0, len(groups))
	headers := true

	for _, g := range groups {
		rs := make([]map[string]any, 0, len(g.Rules))
		for _, rl := range g.Rules {
			rs = append(rs, ruleData(rl))
		}

		all = append(all, g.Rules...)
		rulesData = append(rulesData, rs...)
		groupData = append(groupData, map[string]any{
			"key":   g.Key,
			"name":  g.Name,
			"emoji": g.Emoji,
			"count": len(g.Rules),
			"rules": rs,
		})
	}

	if p.Metadata != nil {
		tags = p.Metadata.Tags
	}
	if a := p.Artifacts[kind]; a != nil && a.Organization != nil {
		headers = a.Organization.Headers()
	}

	return map[string]any{
		"profile": map[string]any{
			"id":          p.ID,
			"name":        p.Name,
			"description": p.Description,
			"tags":        tags,
		},
		"artifact":       kind,
		"generated":      r.now(),
		"groups":         groupData,
		"rules":          rulesData,
		"count":          len(all),
		"includeHeaders": headers,
		"summary":        summaryData(Summarize(all)),
	}
}

func ruleData(r *rule.Rule) map[string]any {
	return map[string]any{
		"id":            r.ID,
		"title":         r.Title,
		"content":       r.Content,
		"category":      string(r.Category),
		"categoryTitle": r.Category.Title(),
		"urgency":       string(r.Urgency),
		"emoji":         r.Urgency.Emoji(),
		"tags":          r.Tags,
		"sources":       r.Sources,
		"projectTypes":  r.ProjectTypes,
		"created":       r.Created,
		"lastModified":  r.LastModified,
	}
}

func summaryData(s Summary) map[string]any {
	byCategory := map[string]any{}
	for c, n := range s.ByCategory {
		if n > 0 {
			byCategory[string(c)] = n
		}
	}

	byUrgency := map[string]any{}
	for u, n := range s.ByUrgency {
		if n > 0 {
			byUrgency[string(u)] = n
		}
	}

	bySource := map[string]any{}
	for src, n := range s.BySource {
		bySource[src] = n
	}

	var categories []any
	for _, c := range rule.Categories {
		if n := s.ByCategory[c]; n > 0 {
			categories = append(categories, countData(string(c), c.Title(), c.Emoji(), n))
		}
	}

	var urgencies []any
	for _, u := range slices.Backward(rule.Urgencies) {
		if n := s.ByUrgency[u]; n > 0 {
			urgencies = append(urgencies, countData(string(u), string(u), u.Emoji(), n))
		}
	}

	return map[string]any{
		"byCategory": byCategory,
		"byUrgency":  byUrgency,
		"bySource":   bySource,
		"categories": categories,
		"urgencies":  urgencies,
		"total":      s.Total,
	}
}

func countData(key, name, emoji string, n int) map[string]any {
	return map[string]any{
		"key":   key,
		"name":  name,
		"emoji": emoji,
		"count": n,
	}
}
