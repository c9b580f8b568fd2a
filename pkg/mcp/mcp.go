// Package mcp exposes the rule library, profiles and the renderer to agents
// as a Model Context Protocol server.
//
// Tools:
//
//	list_rules        list rules, optionally by category or urgency
//	search_rules      full-text search with facets
//	get_rule          one rule, with its rendered form
//	resolve_profile   validate a profile and show which rules it selects
//	render_artifact   render one artifact of a profile
//	server_logs       recent server log lines
package mcp

import (
	"reflect"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/macropower/rulebook/pkg/rule"
)

const (
	name         = "rulebook"
	instructions = `MCP Server 'rulebook' manages a library of reusable instruction rules and renders them into per-project instruction files, driven by profiles.

When to use these tools:
- Finding which rules exist for a topic (security, testing, ...) before writing instructions
- Checking what a profile selects, and why an artifact is empty
- Previewing the exact text an artifact renders to

Workflow:
1. Use 'search_rules' (or 'list_rules') to find rules; use 'get_rule' with an EXACT id from the results for full content
2. Use 'resolve_profile' with a profile name to validate it and see the rule ids each artifact selects
3. Use 'render_artifact' to preview an artifact's text
4. If a tool reports an error, read 'server_logs' for details
`
	// maxTextLen bounds the text returned by a single tool call.
	maxTextLen = 64 * 1024
)

// schemaOptions maps the enum types of the rule model to schemas listing
// their values.
func schemaOptions() *jsonschema.ForOptions {
	categories := make([]any, 0, len(rule.Categories))
	for _, c := range rule.Categories {
		categories = append(categories, string(c))
	}

	urgencies := make([]any, 0, len(rule.Urgencies))
	for _, u := range rule.Urgencies {
		urgencies = append(urgencies, string(u))
	}

	return &jsonschema.ForOptions{
		TypeSchemas: map[reflect.Type]*jsonschema.Schema{
			reflect.TypeFor[rule.Category](): {
				Type:        "string",
				Description: "A rule category.",
				Enum:        categories,
			},
			reflect.TypeFor[rule.Urgency](): {
				Type:        "string",
				Description: "A rule urgency, from INFO (lowest) to CRITICAL (highest).",
				Enum:        urgencies,
			},
		},
	}
}

// schemaFor infers the schema of T. It panics on types that cannot be
// represented, which only happens for programming errors.
func schemaFor[T any]() *jsonschema.Schema {
	s, err := jsonschema.For[T](schemaOptions())
	if err != nil {
		panic(err)
	}

	return s
}

// truncateString truncates a string to maxLen bytes with a marker if needed.
func truncateString(str string, maxLen int) string {
	if len(str) > maxLen {
		return str[:maxLen] + "\n[OUTPUT TRUNCATED]"
	}

	return str
}
