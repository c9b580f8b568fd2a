package cli

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/macropower/rulebook/api/v1beta1/configs"
	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/render"
	"github.com/macropower/rulebook/pkg/rulestore"
	"github.com/macropower/rulebook/pkg/telemetry"
	"github.com/macropower/rulebook/pkg/template"
)

// app holds the handles shared by commands. Every command opens its own and
// closes it before returning.
type app struct {
	settings  *configs.Config
	store     *rulestore.Store
	templates *template.Registry
	profiles  *config.Manager
	renderer  *render.Renderer
	metrics   *telemetry.Metrics
}

// loadSettings reads the global configuration file. A missing default file
// yields the defaults; a missing file named by --config is an error.
func loadSettings(path string) (*configs.Config, error) {
	explicit := path != ""
	if !explicit {
		path = configs.GetPath()
	}

	_, err := os.Stat(path)
	if errors.Is(err, fs.ErrNotExist) && !explicit {
		slog.Debug("no configuration file, using defaults", slog.String("path", path))

		return configs.New(), nil
	}

	cl, err := config.NewLoaderFromFile(path, configs.New, configs.DefaultValidator, loaderOpts()...)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := cl.ValidateAndLoad()
	if err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}

	err = cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("invalid config %q: %w", path, err)
	}

	slog.Debug("loaded configuration", slog.String("path", path))

	return cfg, nil
}

// loaderOpts highlights YAML error excerpts when stderr is a terminal.
func loaderOpts() []config.LoaderOpt {
	if !isTerminal(os.Stderr) {
		return nil
	}

	return []config.LoaderOpt{config.WithHighlight("terminal256", "")}
}

func openBackend(ctx context.Context, s *configs.Storage) (rulestore.Backend, error) {
	switch s.Backend {
	case configs.BackendSQLite:
		b, err := rulestore.NewSQLiteBackend(ctx, s.Path)
		if err != nil {
			return nil, fmt.Errorf("open sqlite backend: %w", err)
		}

		return b, nil

	default:
		return rulestore.NewFileBackend(s.Path), nil
	}
}

// openApp loads the settings and opens the rule store, templates, profile
// manager and renderer they describe. A nil metrics disables metrics.
func openApp(ctx context.Context, ra *RootArgs, metrics *telemetry.Metrics) (*app, error) {
	cfg, err := loadSettings(ra.ConfigPath)
	if err != nil {
		return nil, err
	}

	missing, err := template.ParseMissingKey(cfg.Templates.MissingKey)
	if err != nil {
		return nil, fmt.Errorf("templates: %w", err)
	}

	templates, err := template.NewRegistry(template.WithMissingKey(missing))
	if err != nil {
		return nil, fmt.Errorf("create template registry: %w", err)
	}

	err = templates.LoadDir(cfg.Templates.Dir)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}

	backend, err := openBackend(ctx, cfg.Storage)
	if err != nil {
		return nil, err
	}

	store, err := rulestore.Open(ctx, backend,
		rulestore.WithBackupDir(cfg.Backups.Dir),
		rulestore.WithMetrics(metrics),
	)
	if err != nil {
		_ = backend.Close()

		return nil, err //nolint:wrapcheck // Already wrapped by Open.
	}

	profiles := config.NewManager(cfg.Profiles.Dir, store,
		config.WithTemplates(templates),
		config.WithLoaderOptions(loaderOpts()...),
	)

	return &app{
		settings:  cfg,
		store:     store,
		templates: templates,
		profiles:  profiles,
		renderer:  render.New(store, templates, render.WithMetrics(metrics)),
		metrics:   metrics,
	}, nil
}

// Close releases the rule store. Errors are logged.
func (a *app) Close(ctx context.Context) {
	err := a.store.Close(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "close rule store", slog.Any("err", err))
	}
}
