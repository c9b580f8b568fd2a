// Package profiles provides the Profile configuration type for rulebook.
//
// A profile is a named bundle of selection criteria and organization
// directives, one per artifact, plus a deployment target.
package profiles

import (
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/invopop/jsonschema"

	_ "embed"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/api/v1beta1"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/selection"
	"github.com/macropower/rulebook/pkg/yaml"
)

//go:generate go run ../../../internal/schemagen/profiles -o profiles.v1beta1.json

// Kind is the kind of profile files.
const Kind = "Profile"

// Violation codes reported by [Profile.Violations].
const (
	CodeMissingID               = "MISSING_ID"
	CodeMissingName             = "MISSING_NAME"
	CodeMissingMetadata         = "MISSING_METADATA"
	CodeMissingArtifacts        = "MISSING_ARTIFACTS"
	CodeMissingSelection        = "MISSING_SELECTION"
	CodeMissingDeploymentTarget = "MISSING_DEPLOYMENT_TARGET"
	CodeInvalidDirectory        = "INVALID_DIRECTORY"
	CodeInvalidGroupBy          = "INVALID_GROUP_BY"
	CodeInvalidSortBy           = "INVALID_SORT_BY"
	CodeInvalidConfidence       = "INVALID_MIGRATION_CONFIDENCE"
)

var (
	//go:embed profiles.v1beta1.json
	schemaJSON []byte

	// ValidKinds contains the valid kind values for profiles.
	ValidKinds = []string{Kind}

	// DefaultValidator validates profiles against the JSON schema.
	DefaultValidator = yaml.MustNewValidator("/profiles.v1beta1.json", schemaJSON)

	// Compile-time interface checks.
	_ v1beta1.Object = (*Profile)(nil)
)

// Profile is a named rule deployment configuration.
//
//nolint:recvcheck // Must satisfy the jsonschema interface.
type Profile struct {
	// Artifacts maps an artifact kind (e.g. "instructions") to its
	// selection and organization.
	Artifacts map[string]*Artifact `json:"artifacts,omitempty" jsonschema:"title=Artifacts"`
	// Deployment describes where rendered artifacts are written.
	Deployment *Deployment `json:"deployment,omitempty" jsonschema:"title=Deployment"`
	// Metadata records profile bookkeeping.
	Metadata *Metadata `json:"metadata,omitempty" jsonschema:"title=Metadata"`
	// ID uniquely identifies the profile.
	ID string `json:"id" jsonschema:"title=ID"`
	// Name is a human-readable name.
	Name string `json:"name" jsonschema:"title=Name"`
	// Description is an optional summary rendered into artifacts.
	Description      string `json:"description,omitempty" jsonschema:"title=Description"`
	v1beta1.TypeMeta `json:",inline"`
}

// Artifact configures one rendered output of a profile.
type Artifact struct {
	// Selection chooses the rules of the artifact.
	Selection *selection.Criteria `json:"selection,omitempty" jsonschema:"title=Selection"`
	// Organization groups and orders the selected rules.
	Organization *Organization `json:"organization,omitempty" jsonschema:"title=Organization"`
	// Template is the registered template name. Defaults to "instructions"
	// when rendering.
	Template string `json:"template,omitempty" jsonschema:"title=Template"`
	// Output is the file name, relative to the deployment target directory.
	Output string `json:"output,omitempty" jsonschema:"title=Output"`
}

// Deployment describes the deployment target.
type Deployment struct {
	// Hooks run around deployment.
	Hooks *Hooks `json:"hooks,omitempty" jsonschema:"title=Hooks"`
	// TargetDir is the directory artifacts are written to.
	TargetDir string `json:"targetDir,omitempty" jsonschema:"title=Target Directory"`
	// Directories are created under TargetDir before writing.
	Directories []string `json:"directories,omitempty" jsonschema:"title=Directories"`
}

// Hooks are shell commands run during deployment.
type Hooks struct {
	// PostDeploy runs in the target directory after all artifacts are
	// written.
	PostDeploy string `json:"postDeploy,omitempty" jsonschema:"title=Post Deploy"`
}

// Metadata records profile bookkeeping.
type Metadata struct {
	Created      time.Time `json:"created"      jsonschema:"title=Created"`
	LastModified time.Time `json:"lastModified" jsonschema:"title=Last Modified"`
	// MigrationConfidence is the confidence (0 to 1) of an automated
	// migration that produced the profile.
	MigrationConfidence *float64 `json:"migrationConfidence,omitempty" jsonschema:"title=Migration Confidence,minimum=0,maximum=1"`
	Tags                []string `json:"tags,omitempty"                jsonschema:"title=Tags"`
}

// New creates a new [Profile] with default values.
func New() *Profile {
	p := &Profile{TypeMeta: v1beta1.NewTypeMeta(Kind)}
	p.EnsureDefaults()

	return p
}

// EnsureDefaults initializes nil fields to their default values. Metadata
// timestamps are stamped when metadata is present.
func (p *Profile) EnsureDefaults() {
	p.SetDefaults(Kind)

	if p.Artifacts == nil {
		p.Artifacts = map[string]*Artifact{}
	}

	for _, a := range p.Artifacts {
		if a != nil {
			a.EnsureDefaults()
		}
	}

	if p.Deployment != nil && p.Deployment.TargetDir != "" {
		p.Deployment.TargetDir = api.ExpandPath(p.Deployment.TargetDir)
	}

	if p.Metadata != nil {
		p.Metadata.Stamp(time.Now().UTC())
	}
}

// EnsureDefaults fills in the organization defaults.
func (a *Artifact) EnsureDefaults() {
	if a.Organization == nil {
		a.Organization = &Organization{}
	}

	a.Organization.EnsureDefaults()
}

// Stamp sets empty timestamps to now.
func (m *Metadata) Stamp(now time.Time) {
	if m.Created.IsZero() {
		m.Created = now
	}
	if m.LastModified.IsZero() {
		m.LastModified = m.Created
	}
}

// Touch sets LastModified to now.
func (m *Metadata) Touch(now time.Time) {
	m.Stamp(now)
	m.LastModified = now
}

// ArtifactNames returns the artifact kinds in sorted order.
func (p *Profile) ArtifactNames() []string {
	return slices.Sorted(maps.Keys(p.Artifacts))
}

// Artifact returns the artifact of the given kind.
func (p *Profile) Artifact(kind string) (*Artifact, error) {
	a, ok := p.Artifacts[kind]
	if !ok || a == nil {
		return nil, errs.NewNotFoundError("artifact", kind, p.ArtifactNames())
	}

	return a, nil
}

// Violations returns the structural errors of the profile: missing required
// fields, unknown organization values and malformed selection criteria.
func (p *Profile) Violations() errs.Violations {
	var vs errs.Violations

	if strings.TrimSpace(p.ID) == "" {
		vs.Add("id", CodeMissingID, "id is required")
	}
	if strings.TrimSpace(p.Name) == "" {
		vs.Add("name", CodeMissingName, "name is required")
	}

	if p.Metadata == nil {
		vs.Add("metadata", CodeMissingMetadata, "metadata is required")
	} else if c := p.Metadata.MigrationConfidence; c != nil && (*c < 0 || *c > 1) {
		vs.Add("metadata.migrationConfidence", CodeInvalidConfidence,
			"migration confidence must be between 0 and 1, got %v", *c)
	}

	if len(p.Artifacts) == 0 {
		vs.Add("artifacts", CodeMissingArtifacts, "at least one artifact is required")
	}

	for _, kind := range p.ArtifactNames() {
		vs.Merge("artifacts."+kind, p.Artifacts[kind].violations())
	}

	vs.Merge("deployment", p.Deployment.Violations())

	return vs
}

// Violations reports a missing target directory and any directory that
// would be created outside of it. A nil Deployment has no target.
func (d *Deployment) Violations() errs.Violations {
	var vs errs.Violations

	if d == nil || strings.TrimSpace(d.TargetDir) == "" {
		vs.Add("targetDir", CodeMissingDeploymentTarget, "a deployment target directory is required")
		return vs
	}

	for i, dir := range d.Directories {
		if !filepath.IsLocal(dir) {
			vs.Add(fmt.Sprintf("directories[%d]", i), CodeInvalidDirectory,
				"directory %q must be a relative path inside the target directory", dir)
		}
	}

	return vs
}

// Validate returns a [*errs.ValidationError] listing every structural error,
// or nil.
func (p *Profile) Validate() error {
	return p.Violations().Err()
}

func (a *Artifact) violations() []errs.Violation {
	var vs errs.Violations

	if a == nil || a.Selection == nil {
		vs.Add("selection", CodeMissingSelection, "selection is required")
		return vs
	}

	vs.Merge("selection", a.Selection.Violations())

	if a.Organization != nil {
		vs.Merge("organization", a.Organization.violations())
	}

	return vs
}

func (p Profile) JSONSchemaExtend(jss *jsonschema.Schema) {
	v1beta1.ExtendSchemaWithEnums(jss, v1beta1.ValidAPIVersions, ValidKinds)
}

// MarshalYAML serializes the profile to YAML.
func (p Profile) MarshalYAML() ([]byte, error) {
	type alias Profile

	b, err := api.MarshalYAML(alias(p))
	if err != nil {
		return nil, fmt.Errorf("marshal profile: %w", err)
	}

	return b, nil
}

// Write writes the profile to the specified path if it doesn't already exist.
func (p Profile) Write(path string) error {
	b, err := p.MarshalYAML()
	if err != nil {
		return err
	}

	err = api.WriteIfNotExists(path, b)
	if err != nil {
		return fmt.Errorf("write profile: %w", err)
	}

	return nil
}

// GetDir returns the default profiles directory.
func GetDir() string {
	return api.GetConfigPath("profiles")
}
