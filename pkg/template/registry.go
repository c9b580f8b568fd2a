package template

import (
	"embed"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"slices"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/macropower/rulebook/pkg/errs"
)

// Names of the built-in templates.
const (
	Instructions = "instructions"
	RuleTemplate = "rule"
	Summary      = "summary"
)

// Ext is the file extension of template files.
const Ext = ".tmpl"

//go:embed templates/*.tmpl
var builtins embed.FS

// Registry holds named templates. It is safe for concurrent use.
type Registry struct {
	templates map[string]*Template
	opts      []Option
	mu        sync.RWMutex
}

// NewRegistry creates a [Registry] holding the built-in templates. The
// options apply to every template in the registry.
func NewRegistry(opts ...Option) (*Registry, error) {
	r := &Registry{
		templates: map[string]*Template{},
		opts:      opts,
	}

	err := r.LoadFS(builtins, "templates")
	if err != nil {
		return nil, fmt.Errorf("load built-in templates: %w", err)
	}

	return r, nil
}

// MustNewRegistry is like [NewRegistry] but panics on error.
func MustNewRegistry(opts ...Option) *Registry {
	r, err := NewRegistry(opts...)
	if err != nil {
		panic(err)
	}

	return r
}

// Add parses src and registers it under name, replacing any existing
// template of that name.
func (r *Registry) Add(name, src string) error {
	t, err := Parse(src, append(slices.Clone(r.opts), WithName(name))...)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates[name] = t
	r.mu.Unlock()

	return nil
}

// LoadDir registers every "*.tmpl" file under dir, named by its path
// relative to dir without the extension. A missing dir is not an error.
func (r *Registry) LoadDir(dir string) error {
	if dir == "" {
		return nil
	}

	info, err := os.Stat(dir)
	if os.IsNotExist(err) {
		slog.Debug("template directory does not exist", slog.String("dir", dir))
		return nil
	}
	if err != nil {
		return fmt.Errorf("stat template directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%s: not a directory", dir)
	}

	return r.LoadFS(os.DirFS(dir), ".")
}

// LoadFS registers every "*.tmpl" file under root in fsys.
func (r *Registry) LoadFS(fsys fs.FS, root string) error {
	matches, err := doublestar.Glob(fsys, path.Join(root, "**", "*"+Ext))
	if err != nil {
		return fmt.Errorf("glob templates: %w", err)
	}

	for _, m := range matches {
		b, err := fs.ReadFile(fsys, m)
		if err != nil {
			return fmt.Errorf("read template %s: %w", m, err)
		}

		rel := strings.TrimPrefix(m, root+"/")
		if root == "." {
			rel = m
		}

		name := strings.TrimSuffix(rel, Ext)

		err = r.Add(name, string(b))
		if err != nil {
			return fmt.Errorf("parse template %s: %w", m, err)
		}

		slog.Debug("registered template", slog.String("name", name))
	}

	return nil
}

// Get returns the template registered under name.
func (r *Registry) Get(name string) (*Template, error) {
	r.mu.RLock()
	t, ok := r.templates[name]
	r.mu.RUnlock()

	if !ok {
		return nil, errs.NewTemplateNotFoundError(name, r.Names())
	}

	return t, nil
}

// Has reports whether a template is registered under name.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.templates[name]

	return ok
}

// Names returns the registered template names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.templates))
	for name := range r.templates {
		names = append(names, name)
	}

	slices.Sort(names)

	return names
}

// Render executes the template registered under name against data. It fails
// with [errs.TemplateNotFoundError] for unknown names.
func (r *Registry) Render(name string, data any) (string, error) {
	t, err := r.Get(name)
	if err != nil {
		return "", err
	}

	return t.Execute(data)
}
