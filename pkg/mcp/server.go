package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"go.opentelemetry.io/otel/trace"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/log"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
	"github.com/macropower/rulebook/pkg/telemetry"
	"github.com/macropower/rulebook/pkg/version"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 5 * time.Second
)

// RuleSource provides the rule library. [*rulestore.Store] satisfies it.
type RuleSource interface {
	All() []*rule.Rule
	Get(id string) (*rule.Rule, bool)
	Search(f rulestore.Filter) *rulestore.SearchResult
}

// ProfileSource loads and validates profiles. [*config.Manager] satisfies it.
type ProfileSource interface {
	Load(ctx context.Context, source string, opts config.LoadOptions) (*profiles.Profile, error)
	Validate(p *profiles.Profile) *config.Report
	List() ([]config.ProfileEntry, error)
}

// Renderer renders profiles and rules. [*render.Renderer] satisfies it.
type Renderer interface {
	RenderArtifact(ctx context.Context, p *profiles.Profile, kind string) (string, error)
	RenderRule(rl *rule.Rule, name string) (string, error)
}

// Server implements the MCP server for rulebook.
type Server struct {
	rules       RuleSource
	profiles    ProfileSource
	renderer    Renderer
	recorder    *log.Recorder
	metrics     *telemetry.Metrics
	tracer      trace.Tracer
	traffic     io.Writer
	server      *mcp.Server
	address     string
	metricsPath string
}

// Option configures a [Server].
type Option func(*Server)

// WithAddress serves the streamable HTTP transport on addr. Without it,
// [Server.Serve] uses stdio.
func WithAddress(addr string) Option {
	return func(s *Server) {
		s.address = addr
	}
}

// WithMetrics records tool calls in m and, over HTTP, serves m on path.
func WithMetrics(m *telemetry.Metrics, path string) Option {
	return func(s *Server) {
		s.metrics = m
		s.metricsPath = path
	}
}

// WithRecorder enables the server_logs tool, reading from r.
func WithRecorder(r *log.Recorder) Option {
	return func(s *Server) {
		s.recorder = r
	}
}

// WithTracer replaces the default tracer.
func WithTracer(t trace.Tracer) Option {
	return func(s *Server) {
		s.tracer = t
	}
}

// WithTrafficLog writes every JSON-RPC message exchanged over stdio to w.
func WithTrafficLog(w io.Writer) Option {
	return func(s *Server) {
		s.traffic = w
	}
}

// NewServer creates a new MCP server and registers its tools.
func NewServer(rules RuleSource, profileSource ProfileSource, renderer Renderer, opts ...Option) *Server {
	s := &Server{
		rules:    rules,
		profiles: profileSource,
		renderer: renderer,
		tracer:   telemetry.Tracer("mcp"),
	}
	for _, opt := range opts {
		opt(s)
	}

	impl := &mcp.Implementation{
		Name:    name,
		Version: version.GetVersion(),
	}

	s.server = mcp.NewServer(impl, &mcp.ServerOptions{
		Instructions: instructions,
	})

	s.registerTools()

	return s
}

// registerTools registers all available tools with the MCP server.
func (s *Server) registerTools() {
	addTool(s, &mcp.Tool{
		Name:        toolListRules,
		Description: "List rules in the library, optionally narrowed to one category or a minimum urgency. Returns ids, titles, categories, urgencies and tags. Use get_rule for content.",
		Annotations: readOnly(),
	}, s.handleListRules)

	addTool(s, &mcp.Tool{
		Name:        toolSearchRules,
		Description: "Search rules by text (matched against title and content), categories, urgencies and tags. Returns matching rules and per-category and per-urgency counts.",
		Annotations: readOnly(),
	}, s.handleSearchRules)

	addTool(s, &mcp.Tool{
		Name:        toolGetRule,
		Description: "Get one rule with its full content and rendered form. You MUST use an id EXACTLY as returned by list_rules or search_rules.",
		Annotations: readOnly(),
	}, s.handleGetRule)

	addTool(s, &mcp.Tool{
		Name:        toolListProfiles,
		Description: "List the profiles available to resolve_profile and render_artifact.",
		Annotations: readOnly(),
	}, s.handleListProfiles)

	addTool(s, &mcp.Tool{
		Name:        toolResolveProfile,
		Description: "Validate a profile and show, per artifact, the rule ids its selection resolves to, with counts by category and urgency. Errors and warnings are included.",
		Annotations: readOnly(),
	}, s.handleResolveProfile)

	addTool(s, &mcp.Tool{
		Name:        toolRenderArtifact,
		Description: "Render one artifact of a profile to text, exactly as deploy would write it. Nothing is written to disk.",
		Annotations: readOnly(),
	}, s.handleRenderArtifact)

	if s.recorder != nil {
		addTool(s, &mcp.Tool{
			Name:        toolServerLogs,
			Description: "Read recent server log lines, newest last. Use after a tool reports an error.",
			Annotations: readOnly(),
		}, s.handleServerLogs)
	}
}

func addTool[In, Out any](s *Server, t *mcp.Tool, h mcp.ToolHandlerFor[In, Out]) {
	t.InputSchema = schemaFor[In]()
	t.OutputSchema = schemaFor[Out]()

	mcp.AddTool(s.server, t, withTracing(s.tracer, s.metrics, t.Name, h))
}

func readOnly() *mcp.ToolAnnotations {
	return &mcp.ToolAnnotations{ReadOnlyHint: true}
}

// Connect serves a single session over t. It is used for in-process clients.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	ss, err := s.server.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}

	return ss, nil
}

// Serve starts the MCP server. It blocks until ctx is canceled or the
// transport fails.
func (s *Server) Serve(ctx context.Context) error {
	if s.address == "" {
		return s.serveStdio(ctx)
	}

	return s.serveHTTP(ctx)
}

func (s *Server) serveStdio(ctx context.Context) error {
	var t mcp.Transport = &mcp.StdioTransport{}
	if s.traffic != nil {
		t = &mcp.LoggingTransport{Transport: t, Writer: s.traffic}
	}

	log.WithContext(ctx).InfoContext(ctx, "starting MCP server", slog.String("transport", "stdio"))

	err := s.server.Run(ctx, t)
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("run MCP server: %w", err)
	}

	return nil
}

// Handler returns the HTTP handler serving the MCP endpoint and, when
// metrics are configured, the metrics endpoint.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server {
		return s.server
	}, nil))

	if s.metrics != nil && s.metricsPath != "" {
		mux.Handle(s.metricsPath, s.metrics.Handler())
	}

	return mux
}

func (s *Server) serveHTTP(ctx context.Context) error {
	logger := log.WithContext(ctx)

	var lc net.ListenConfig

	ln, err := lc.Listen(ctx, "tcp", s.address)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.address, err)
	}

	srv := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}

	logger.InfoContext(ctx, "starting MCP server",
		slog.String("transport", "http"),
		slog.String("address", ln.Addr().String()),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("serve: %w", err)

	case <-ctx.Done():
		logger.InfoContext(ctx, "shutting down MCP server")

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		err := srv.Shutdown(shutdownCtx)
		if err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}

		return nil
	}
}
