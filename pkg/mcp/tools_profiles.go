package mcp

import (
	"context"
	"fmt"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/render"
)

const (
	toolListProfiles   = "list_profiles"
	toolResolveProfile = "resolve_profile"
	toolRenderArtifact = "render_artifact"
)

type ListProfilesInput struct{}

type ListProfilesOutput struct {
	Profiles []string `json:"profiles" jsonschema:"Profile names, usable as the profile argument of other tools."`
}

type ResolveProfileInput struct {
	Profile  string `json:"profile"            jsonschema:"A profile name from list_profiles, or a path to a profile file."`
	Artifact string `json:"artifact,omitempty" jsonschema:"Only resolve this artifact kind. Defaults to all artifacts."`
}

// ArtifactResolution is the resolved selection of one artifact.
type ArtifactResolution struct {
	RulesByCategory map[string]int `json:"rulesByCategory"`
	RulesByUrgency  map[string]int `json:"rulesByUrgency"`
	Artifact        string         `json:"artifact"`
	RuleIDs         []string       `json:"ruleIds"            jsonschema:"Ids of the selected rules, in store order."`
	Failures        []string       `json:"failures,omitempty" jsonschema:"Selection groups that could not be resolved."`
}

type ResolveProfileOutput struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"`
	Errors    []errs.Violation     `json:"errors"`
	Warnings  []errs.Violation     `json:"warnings"`
	Artifacts []ArtifactResolution `json:"artifacts"`
	Valid     bool                 `json:"valid"`
}

type RenderArtifactInput struct {
	Profile  string `json:"profile"  jsonschema:"A profile name from list_profiles, or a path to a profile file."`
	Artifact string `json:"artifact" jsonschema:"The artifact kind to render, e.g. instructions."`
}

type RenderArtifactOutput struct {
	Profile   string `json:"profile"`
	Artifact  string `json:"artifact"`
	Path      string `json:"path,omitempty"      jsonschema:"Where deploy would write the artifact."`
	Text      string `json:"text"`
	Truncated bool   `json:"truncated,omitempty"`
}

func (s *Server) handleListProfiles(
	_ context.Context,
	_ *mcp.CallToolRequest,
	_ ListProfilesInput,
) (*mcp.CallToolResult, ListProfilesOutput, error) {
	entries, err := s.profiles.List()
	if err != nil {
		return nil, ListProfilesOutput{}, fmt.Errorf("list profiles: %w", err)
	}

	out := ListProfilesOutput{Profiles: make([]string, 0, len(entries))}
	for _, e := range entries {
		out.Profiles = append(out.Profiles, e.Name)
	}

	return nil, out, nil
}

func (s *Server) handleResolveProfile(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	in ResolveProfileInput,
) (*mcp.CallToolResult, ResolveProfileOutput, error) {
	p, err := s.profiles.Load(ctx, in.Profile, config.LoadOptions{})
	if err != nil {
		return nil, ResolveProfileOutput{}, err
	}

	kinds := p.ArtifactNames()
	if in.Artifact != "" {
		_, err := p.Artifact(in.Artifact)
		if err != nil {
			return nil, ResolveProfileOutput{}, err
		}

		kinds = []string{in.Artifact}
	}

	report := s.profiles.Validate(p)

	out := ResolveProfileOutput{
		ID:        p.ID,
		Name:      p.Name,
		Valid:     report.Valid,
		Errors:    append([]errs.Violation{}, report.Errors...),
		Warnings:  append([]errs.Violation{}, report.Warnings...),
		Artifacts: make([]ArtifactResolution, 0, len(kinds)),
	}

	for _, kind := range kinds {
		res, ok := report.RuleResolution[kind]
		if !ok {
			continue
		}

		out.Artifacts = append(out.Artifacts, artifactResolution(kind, res))
	}

	return nil, out, nil
}

func artifactResolution(kind string, res *config.Resolution) ArtifactResolution {
	ar := ArtifactResolution{
		Artifact:        kind,
		RuleIDs:         append([]string{}, res.ResolvedRuleIDs...),
		RulesByCategory: make(map[string]int, len(res.RulesByCategory)),
		RulesByUrgency:  make(map[string]int, len(res.RulesByUrgency)),
	}

	for c, n := range res.RulesByCategory {
		ar.RulesByCategory[string(c)] = n
	}
	for u, n := range res.RulesByUrgency {
		ar.RulesByUrgency[string(u)] = n
	}

	for _, f := range res.FailedResolutions {
		if f.Index < 0 {
			ar.Failures = append(ar.Failures, f.Error)
			continue
		}

		ar.Failures = append(ar.Failures, fmt.Sprintf("%s[%d]: %s", f.Side, f.Index, f.Error))
	}

	return ar
}

func (s *Server) handleRenderArtifact(
	ctx context.Context,
	_ *mcp.CallToolRequest,
	in RenderArtifactInput,
) (*mcp.CallToolResult, RenderArtifactOutput, error) {
	p, err := s.profiles.Load(ctx, in.Profile, config.LoadOptions{ValidateRules: true})
	if err != nil {
		return nil, RenderArtifactOutput{}, err
	}

	text, err := s.renderer.RenderArtifact(ctx, p, in.Artifact)
	if err != nil {
		return nil, RenderArtifactOutput{}, err
	}

	out := RenderArtifactOutput{
		Profile:   p.ID,
		Artifact:  in.Artifact,
		Text:      truncateString(text, maxTextLen),
		Truncated: len(text) > maxTextLen,
	}

	// The path is informational; profiles without a deployment target
	// still render.
	path, err := render.OutputPath(p, in.Artifact)
	if err == nil {
		out.Path = path
	}

	result := &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: strings.TrimSpace(out.Text)},
		},
	}

	return result, out, nil
}
