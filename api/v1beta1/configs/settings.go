package configs

import (
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"github.com/robfig/cron/v3"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/template"
)

// Backend selects the persistence backend of the rule library.
type Backend string

const (
	// BackendFile stores the library as a single JSON snapshot file.
	BackendFile Backend = "file"
	// BackendSQLite stores the library in a SQLite database.
	BackendSQLite Backend = "sqlite"
)

// Backends lists the supported backends.
var Backends = []Backend{BackendFile, BackendSQLite}

func (Backend) JSONSchemaExtend(jss *jsonschema.Schema) {
	jss.Enum = nil
	for _, b := range Backends {
		jss.Enum = append(jss.Enum, string(b))
	}
}

// Storage configures the rule library.
type Storage struct {
	// Backend is the persistence backend.
	Backend Backend `json:"backend,omitempty" jsonschema:"title=Backend"`
	// Path is the snapshot file or database path. Defaults to a file in the
	// user config directory.
	Path string `json:"path,omitempty" jsonschema:"title=Path"`
}

func (s *Storage) EnsureDefaults() {
	if s.Backend == "" {
		s.Backend = BackendFile
	}
	if s.Path == "" {
		switch s.Backend {
		case BackendSQLite:
			s.Path = api.GetConfigPath("rules.db")
		default:
			s.Path = api.GetConfigPath("rules.json")
		}
	}

	s.Path = api.ExpandPath(s.Path)
}

func (s *Storage) violations() []errs.Violation {
	var vs errs.Violations

	if !slices.Contains(Backends, s.Backend) {
		vs.Add("backend", "INVALID_BACKEND", "unknown backend %q", s.Backend)
	}

	return vs
}

// Profiles configures profile discovery.
type Profiles struct {
	// Dir is the directory searched for profile files.
	Dir string `json:"dir,omitempty" jsonschema:"title=Directory"`
}

func (p *Profiles) EnsureDefaults() {
	if p.Dir == "" {
		p.Dir = api.GetConfigPath("profiles")
	}

	p.Dir = api.ExpandPath(p.Dir)
}

// Backups configures rule library backups.
type Backups struct {
	// Keep is the number of backups retained after pruning. Zero keeps all.
	Keep *int `json:"keep,omitempty" jsonschema:"title=Keep,minimum=0"`
	// Dir is the backup directory.
	Dir string `json:"dir,omitempty" jsonschema:"title=Directory"`
	// Schedule is a cron expression for automatic backups while serving.
	// Empty disables scheduled backups.
	Schedule string `json:"schedule,omitempty" jsonschema:"title=Schedule"`
}

const defaultBackupKeep = 10

func (b *Backups) EnsureDefaults() {
	if b.Dir == "" {
		b.Dir = api.GetConfigPath("backups")
	}
	if b.Keep == nil {
		keep := defaultBackupKeep
		b.Keep = &keep
	}

	b.Dir = api.ExpandPath(b.Dir)
}

// GetKeep returns the retention count.
func (b *Backups) GetKeep() int {
	if b.Keep == nil {
		return defaultBackupKeep
	}

	return *b.Keep
}

func (b *Backups) violations() []errs.Violation {
	var vs errs.Violations

	if b.Keep != nil && *b.Keep < 0 {
		vs.Add("keep", "INVALID_KEEP", "keep must not be negative")
	}
	if b.Schedule != "" {
		_, err := cron.ParseStandard(b.Schedule)
		if err != nil {
			vs.Add("schedule", "INVALID_SCHEDULE", "%v", err)
		}
	}

	return vs
}

// Templates configures template lookup.
type Templates struct {
	// Dir holds user templates ("<name>.tmpl"), overriding built-ins.
	Dir string `json:"dir,omitempty" jsonschema:"title=Directory"`
	// MissingKey controls unresolved variables: "echo" keeps the original
	// token, "empty" renders nothing, "error" fails the render.
	MissingKey string `json:"missingKey,omitempty" jsonschema:"title=Missing Key,enum=echo,enum=empty,enum=error"`
}

func (t *Templates) EnsureDefaults() {
	if t.MissingKey == "" {
		t.MissingKey = template.MissingEcho.String()
	}

	t.Dir = api.ExpandPath(t.Dir)
}

func (t *Templates) violations() []errs.Violation {
	var vs errs.Violations

	_, err := template.ParseMissingKey(t.MissingKey)
	if err != nil {
		vs.Add("missingKey", "INVALID_MISSING_KEY", "%v", err)
	}

	return vs
}

// Telemetry configures OpenTelemetry tracing.
type Telemetry struct {
	// SampleRatio is the fraction of traces sampled, from 0 to 1.
	SampleRatio *float64 `json:"sampleRatio,omitempty" jsonschema:"title=Sample Ratio,minimum=0,maximum=1"`
	// Endpoint is the OTLP gRPC collector address.
	Endpoint string `json:"endpoint,omitempty" jsonschema:"title=Endpoint"`
	// Enabled turns on trace export.
	Enabled bool `json:"enabled,omitempty" jsonschema:"title=Enabled"`
	// Insecure disables TLS for the collector connection.
	Insecure bool `json:"insecure,omitempty" jsonschema:"title=Insecure"`
}

func (t *Telemetry) EnsureDefaults() {
	if t.Endpoint == "" {
		t.Endpoint = "localhost:4317"
	}
	if t.SampleRatio == nil {
		ratio := 1.0
		t.SampleRatio = &ratio
	}
}

func (t *Telemetry) violations() []errs.Violation {
	var vs errs.Violations

	if t.SampleRatio != nil && (*t.SampleRatio < 0 || *t.SampleRatio > 1) {
		vs.Add("sampleRatio", "INVALID_SAMPLE_RATIO", "sampleRatio must be between 0 and 1")
	}

	return vs
}

// Server configures the MCP server.
type Server struct {
	// Address is the listen address for the streamable HTTP transport.
	Address string `json:"address,omitempty" jsonschema:"title=Address"`
	// MetricsPath is the HTTP path serving Prometheus metrics.
	MetricsPath string `json:"metricsPath,omitempty" jsonschema:"title=Metrics Path"`
}

func (s *Server) EnsureDefaults() {
	if s.Address == "" {
		s.Address = "127.0.0.1:8080"
	}
	if s.MetricsPath == "" {
		s.MetricsPath = "/metrics"
	}
}

func (s *Server) violations() []errs.Violation {
	var vs errs.Violations

	if !strings.HasPrefix(s.MetricsPath, "/") {
		vs.Add("metricsPath", "INVALID_METRICS_PATH", "metricsPath must start with %q", "/")
	}

	return vs
}
