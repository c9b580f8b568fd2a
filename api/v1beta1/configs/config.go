// Package configs provides the global Configuration type for rulebook.
package configs

import (
	"fmt"

	"github.com/invopop/jsonschema"

	_ "embed"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/api/v1beta1"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/yaml"
)

//go:generate go run ../../../internal/schemagen/configs -o configs.v1beta1.json

// Kind is the kind of global configuration files.
const Kind = "Configuration"

var (
	//go:embed config.yaml
	defaultConfigYAML []byte

	//go:embed configs.v1beta1.json
	schemaJSON []byte

	// ValidKinds contains the valid kind values for global configurations.
	ValidKinds = []string{Kind}

	// DefaultValidator validates global configuration against the JSON schema.
	DefaultValidator = yaml.MustNewValidator("/configs.v1beta1.json", schemaJSON)

	// Compile-time interface checks.
	_ v1beta1.Object = (*Config)(nil)
)

// Config represents the global rulebook configuration.
//
//nolint:recvcheck // Must satisfy the jsonschema interface.
type Config struct {
	// Storage configures where the rule library is persisted.
	Storage *Storage `json:"storage,omitempty" jsonschema:"title=Storage"`
	// Profiles configures profile discovery.
	Profiles *Profiles `json:"profiles,omitempty" jsonschema:"title=Profiles"`
	// Backups configures rule library backups.
	Backups *Backups `json:"backups,omitempty" jsonschema:"title=Backups"`
	// Templates configures template lookup and rendering.
	Templates *Templates `json:"templates,omitempty" jsonschema:"title=Templates"`
	// Telemetry configures OpenTelemetry tracing.
	Telemetry *Telemetry `json:"telemetry,omitempty" jsonschema:"title=Telemetry"`
	// Server configures the MCP server.
	Server           *Server `json:"server,omitempty" jsonschema:"title=Server"`
	v1beta1.TypeMeta `json:",inline"`
}

// New creates a new global [Config] with default values.
func New() *Config {
	c := &Config{TypeMeta: v1beta1.NewTypeMeta(Kind)}
	c.EnsureDefaults()

	return c
}

// EnsureDefaults initializes nil fields to their default values.
func (c *Config) EnsureDefaults() {
	c.SetDefaults(Kind)

	if c.Storage == nil {
		c.Storage = &Storage{}
	}
	if c.Profiles == nil {
		c.Profiles = &Profiles{}
	}
	if c.Backups == nil {
		c.Backups = &Backups{}
	}
	if c.Templates == nil {
		c.Templates = &Templates{}
	}
	if c.Telemetry == nil {
		c.Telemetry = &Telemetry{}
	}
	if c.Server == nil {
		c.Server = &Server{}
	}

	c.Storage.EnsureDefaults()
	c.Profiles.EnsureDefaults()
	c.Backups.EnsureDefaults()
	c.Templates.EnsureDefaults()
	c.Telemetry.EnsureDefaults()
	c.Server.EnsureDefaults()
}

// Validate validates the configuration, reporting every violation.
func (c *Config) Validate() error {
	var vs errs.Violations

	if c.Storage != nil {
		vs.Merge("storage", c.Storage.violations())
	}
	if c.Backups != nil {
		vs.Merge("backups", c.Backups.violations())
	}
	if c.Templates != nil {
		vs.Merge("templates", c.Templates.violations())
	}
	if c.Telemetry != nil {
		vs.Merge("telemetry", c.Telemetry.violations())
	}
	if c.Server != nil {
		vs.Merge("server", c.Server.violations())
	}

	return vs.Err()
}

func (c Config) JSONSchemaExtend(jss *jsonschema.Schema) {
	v1beta1.ExtendSchemaWithEnums(jss, v1beta1.ValidAPIVersions, ValidKinds)
}

// MarshalYAML serializes the config to YAML.
func (c Config) MarshalYAML() ([]byte, error) {
	type alias Config

	b, err := api.MarshalYAML(alias(c))
	if err != nil {
		return nil, fmt.Errorf("marshal config: %w", err)
	}

	return b, nil
}

// Write writes the config to the specified path if it doesn't already exist.
func (c Config) Write(path string) error {
	b, err := c.MarshalYAML()
	if err != nil {
		return err
	}

	err = api.WriteIfNotExists(path, b)
	if err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	return nil
}

// WriteDefault writes the embedded default config.yaml to the specified path.
func WriteDefault(path string, force bool) error {
	err := api.WriteDefaultFile(path, defaultConfigYAML, force, "configuration")
	if err != nil {
		return fmt.Errorf("write default config: %w", err)
	}

	return nil
}

// DefaultYAML returns the embedded default configuration file.
func DefaultYAML() []byte {
	return defaultConfigYAML
}

// GetPath returns the path to the global configuration file.
func GetPath() string {
	return api.GetConfigPath("config.yaml")
}
