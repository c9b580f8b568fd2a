package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/bmatcuk/doublestar/v4"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/log"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/selection"
	"github.com/macropower/rulebook/pkg/yaml"
)

// DefaultTemplate is rendered for artifacts that name no template.
const DefaultTemplate = "instructions"

// ProfileExts are the file extensions recognized as profiles.
var ProfileExts = []string{".yaml", ".yml"}

// RulePool provides the rules profiles are resolved against.
// [*rulestore.Store] satisfies it.
type RulePool interface {
	All() []*rule.Rule
}

// TemplateSet reports which template names exist.
// [*template.Registry] satisfies it.
type TemplateSet interface {
	Has(name string) bool
}

// LoadOptions configures [Manager.Load].
type LoadOptions struct {
	// ValidateRules runs [Manager.Validate] after loading and fails with a
	// [*errs.ConfigurationInvalidError] if the profile is invalid.
	ValidateRules bool
}

// ProfileEntry is a profile file found by [Manager.List].
type ProfileEntry struct {
	// Name is the path relative to the profiles directory, without
	// extension. It can be passed to [Manager.Load].
	Name string `json:"name"`
	Path string `json:"path"`
}

type cacheKey struct {
	path string
	opts LoadOptions
}

type cacheEntry struct {
	modTime time.Time
	profile *profiles.Profile
}

// Manager loads, validates and saves profiles.
type Manager struct {
	pool       RulePool
	templates  TemplateSet
	now        func() time.Time
	cache      map[cacheKey]cacheEntry
	dir        string
	loaderOpts []LoaderOpt
	mu         sync.Mutex
}

// ManagerOpt configures a [Manager].
type ManagerOpt func(*Manager)

// WithTemplates enables UNKNOWN_TEMPLATE warnings for names missing from t.
func WithTemplates(t TemplateSet) ManagerOpt {
	return func(m *Manager) {
		m.templates = t
	}
}

// WithClock replaces [time.Now] for metadata timestamps.
func WithClock(now func() time.Time) ManagerOpt {
	return func(m *Manager) {
		m.now = now
	}
}

// WithLoaderOptions passes opts to every [Loader] the manager creates.
func WithLoaderOptions(opts ...LoaderOpt) ManagerOpt {
	return func(m *Manager) {
		m.loaderOpts = append(m.loaderOpts, opts...)
	}
}

// NewManager creates a [Manager] for the profiles in dir, resolving rules
// from pool. A nil pool resolves against no rules.
func NewManager(dir string, pool RulePool, opts ...ManagerOpt) *Manager {
	m := &Manager{
		dir:   dir,
		pool:  pool,
		now:   time.Now,
		cache: map[cacheKey]cacheEntry{},
	}
	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Dir returns the profiles directory.
func (m *Manager) Dir() string {
	return m.dir
}

// Load reads the profile at source, which is either a file path or a name
// from [Manager.List]. The file is schema-validated, decoded and defaulted.
//
// Results are cached per source and options until the file changes or is
// saved through [Manager.Save]. The returned profile is shared by callers
// of the same cache entry and must not be modified; use [Manager.Create] or
// load a fresh copy with [NewLoaderFromFile] to edit.
func (m *Manager) Load(ctx context.Context, source string, opts LoadOptions) (*profiles.Profile, error) {
	path, err := m.resolve(source)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, &errs.StorageError{Op: "stat", Path: path, Err: err}
	}

	key := cacheKey{path: path, opts: opts}

	m.mu.Lock()
	entry, ok := m.cache[key]
	m.mu.Unlock()

	if ok && entry.modTime.Equal(info.ModTime()) {
		return entry.profile, nil
	}

	loader, err := NewLoaderFromFile(path, profiles.New, profiles.DefaultValidator, m.loaderOpts...)
	if err != nil {
		return nil, &errs.StorageError{Op: "read", Path: path, Err: err}
	}

	p, err := loader.ValidateAndLoad()
	if err != nil {
		return nil, fmt.Errorf("load profile %s: %w", path, err)
	}

	if opts.ValidateRules {
		err = m.Validate(p).Err(p.ID)
		if err != nil {
			return nil, fmt.Errorf("load profile %s: %w", path, err)
		}
	}

	m.mu.Lock()
	m.cache[key] = cacheEntry{profile: p, modTime: info.ModTime()}
	m.mu.Unlock()

	log.WithContext(ctx).DebugContext(ctx, "loaded profile",
		slog.String("id", p.ID),
		slog.String("path", path),
	)

	return p, nil
}

// resolve maps a load source to an absolute file path.
func (m *Manager) resolve(source string) (string, error) {
	candidates := []string{source}
	if m.dir != "" && !filepath.IsAbs(source) {
		for _, ext := range ProfileExts {
			candidates = append(candidates, filepath.Join(m.dir, source+ext))
		}

		candidates = append(candidates, filepath.Join(m.dir, source))
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err == nil && info.Mode().IsRegular() {
			abs, err := filepath.Abs(c)
			if err != nil {
				return "", fmt.Errorf("resolve profile path: %w", err)
			}

			return abs, nil
		}
	}

	var names []string

	entries, err := m.List()
	if err == nil {
		for _, e := range entries {
			names = append(names, e.Name)
		}
	}

	return "", errs.NewNotFoundError("profile", source, names)
}

// Validate checks p for structural errors and resolves each artifact's
// selection against the rule pool. Warnings are reported alongside but
// never make the profile invalid.
func (m *Manager) Validate(p *profiles.Profile) *Report {
	report := &Report{
		RuleResolution: map[string]*Resolution{},
		Errors:         p.Violations(),
		Warnings:       errs.Violations{},
	}

	var pool []*rule.Rule
	if m.pool != nil {
		pool = m.pool.All()
	}

	for _, kind := range p.ArtifactNames() {
		a := p.Artifacts[kind]
		field := "artifacts." + kind

		res := newResolution()
		report.RuleResolution[kind] = res

		if a == nil {
			continue
		}

		switch {
		case a.Template == "":
			report.Warnings.Add(field+".template", CodeNoTemplate,
				"no template specified, %q is used", DefaultTemplate)
		case m.templates != nil && !m.templates.Has(a.Template):
			report.Warnings.Add(field+".template", CodeUnknownTemplate,
				"template %q is not registered", a.Template)
		}

		if a.Selection == nil {
			continue
		}

		m.resolveArtifact(pool, a.Selection, res)

		if len(res.FailedResolutions) == 0 && len(res.ResolvedRuleIDs) == 0 {
			report.Warnings.Add(field+".selection", CodeEmptyResolution, "selection matches no rules")
		}
	}

	if p.Deployment != nil && len(p.Deployment.Directories) == 0 {
		report.Warnings.Add("deployment.directories", CodeNoDirectories, "no directories specified")
	}

	report.Valid = len(report.Errors) == 0

	return report
}

func (m *Manager) resolveArtifact(pool []*rule.Rule, c *selection.Criteria, res *Resolution) {
	for side, groups := range map[selection.Side][]selection.Group{
		selection.SideInclude: c.Include,
		selection.SideExclude: c.Exclude,
	} {
		for i, g := range groups {
			_, err := selection.ResolveGroup(pool, g)
			if err != nil {
				res.FailedResolutions = append(res.FailedResolutions, FailedResolution{
					Side:  side,
					Index: i,
					Error: err.Error(),
				})
			}
		}
	}

	slices.SortFunc(res.FailedResolutions, func(a, b FailedResolution) int {
		if a.Side != b.Side {
			return strings.Compare(string(a.Side), string(b.Side))
		}

		return a.Index - b.Index
	})

	rules, err := selection.Resolve(pool, *c)
	if err != nil {
		if len(res.FailedResolutions) == 0 {
			res.FailedResolutions = append(res.FailedResolutions, FailedResolution{Index: -1, Error: err.Error()})
		}

		return
	}

	for _, r := range rules {
		res.ResolvedRuleIDs = append(res.ResolvedRuleIDs, r.ID)
		res.RulesByCategory[r.Category]++
		res.RulesByUrgency[r.Urgency]++
	}
}

// Create returns a new profile built from the named archetype, deep-merged
// with overrides. Nested maps in overrides are merged key by key; lists and
// scalars replace the archetype's values. The metadata timestamps are set
// to now.
func (m *Manager) Create(archetype string, overrides map[string]any) (*profiles.Profile, error) {
	data, err := profiles.ArchetypeYAML(archetype)
	if err != nil {
		return nil, err //nolint:wrapcheck // Already a NotFoundError.
	}

	if len(overrides) > 0 {
		base := map[string]any{}

		err = yaml.Unmarshal(data, &base)
		if err != nil {
			return nil, fmt.Errorf("decode archetype %q: %w", archetype, err)
		}

		err = mergo.Merge(&base, overrides, mergo.WithOverride)
		if err != nil {
			return nil, fmt.Errorf("merge overrides: %w", err)
		}

		data, err = yaml.Marshal(base)
		if err != nil {
			return nil, fmt.Errorf("encode profile: %w", err)
		}
	}

	p, err := NewLoaderFromBytes(data, profiles.New, profiles.DefaultValidator, m.loaderOpts...).ValidateAndLoad()
	if err != nil {
		return nil, fmt.Errorf("create profile from %q: %w", archetype, err)
	}

	now := m.now().UTC()
	if p.Metadata == nil {
		p.Metadata = &profiles.Metadata{}
	}

	p.Metadata.Created = now
	p.Metadata.LastModified = now

	return p, nil
}

// Save validates p and writes it to target, or to "<id>.yaml" in the
// profiles directory when target is empty. A profile with errors is
// rejected with a [*errs.ConfigurationInvalidError] and nothing is written.
// When target exists, p is merged into it so comments survive. The
// metadata lastModified timestamp is updated after a successful write.
func (m *Manager) Save(ctx context.Context, p *profiles.Profile, target string) (string, error) {
	err := m.Validate(p).Err(p.ID)
	if err != nil {
		return "", fmt.Errorf("save profile: %w", err)
	}

	if target == "" {
		target = filepath.Join(m.dir, p.ID+ProfileExts[0])
	}

	md := *p.Metadata
	md.Touch(m.now().UTC())

	out := *p
	out.Metadata = &md

	data, err := m.encode(&out, target)
	if err != nil {
		return "", err
	}

	err = api.WriteFileAtomic(target, data)
	if err != nil {
		return "", &errs.StorageError{Op: "write", Path: target, Err: err}
	}

	p.Metadata.Created = md.Created
	p.Metadata.LastModified = md.LastModified

	m.invalidate(target)

	log.WithContext(ctx).InfoContext(ctx, "saved profile",
		slog.String("id", p.ID),
		slog.String("path", target),
	)

	return target, nil
}

// encode marshals p, merging it into the existing file at target when the
// merge reproduces p exactly.
func (m *Manager) encode(p *profiles.Profile, target string) ([]byte, error) {
	data, err := p.MarshalYAML()
	if err != nil {
		return nil, fmt.Errorf("save profile: %w", err)
	}

	existing, err := os.ReadFile(target)
	if errors.Is(err, fs.ErrNotExist) {
		return data, nil
	}
	if err != nil {
		return nil, &errs.StorageError{Op: "read", Path: target, Err: err}
	}

	merged, err := yaml.MergeRootFromValue(existing, p)
	if err != nil {
		slog.Debug("cannot merge into existing profile", slog.String("path", target), slog.Any("err", err))
		return data, nil
	}

	// Merging keeps keys absent from p, e.g. removed artifacts.
	check, err := NewLoaderFromBytes(merged, profiles.New, nil).Load()
	if err != nil {
		return data, nil
	}

	checkData, err := check.MarshalYAML()
	if err != nil || !bytes.Equal(checkData, data) {
		return data, nil
	}

	return merged, nil
}

func (m *Manager) invalidate(target string) {
	abs, err := filepath.Abs(target)
	if err != nil {
		abs = target
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for key := range m.cache {
		if key.path == abs {
			delete(m.cache, key)
		}
	}
}

// List returns the profile files under the profiles directory, sorted by
// name. A missing directory has no profiles.
func (m *Manager) List() ([]ProfileEntry, error) {
	if m.dir == "" {
		return nil, nil
	}

	matches, err := doublestar.Glob(os.DirFS(m.dir), "**/*.{yaml,yml}", doublestar.WithFilesOnly())
	if err != nil {
		return nil, &errs.StorageError{Op: "list profiles", Path: m.dir, Err: err}
	}

	entries := make([]ProfileEntry, 0, len(matches))
	for _, match := range matches {
		entries = append(entries, ProfileEntry{
			Name: strings.TrimSuffix(match, filepath.Ext(match)),
			Path: filepath.Join(m.dir, filepath.FromSlash(match)),
		})
	}

	slices.SortFunc(entries, func(a, b ProfileEntry) int {
		return strings.Compare(a.Name, b.Name)
	})

	return entries, nil
}

// Archetypes returns the names of the built-in archetypes.
func (m *Manager) Archetypes() []string {
	return profiles.Archetypes()
}
