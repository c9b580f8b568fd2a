package profiles

import (
	"embed"
	"io/fs"
	"path"
	"slices"
	"strings"

	"github.com/macropower/rulebook/pkg/errs"
)

// Built-in archetype names.
const (
	ArchetypeComprehensive = "comprehensive"
	ArchetypeMinimal       = "minimal"
	ArchetypeBalanced      = "balanced"
)

//go:embed archetypes/*.yaml
var archetypes embed.FS

// Archetypes returns the names of the built-in archetypes in sorted order.
func Archetypes() []string {
	entries, err := fs.ReadDir(archetypes, "archetypes")
	if err != nil {
		panic(err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), path.Ext(e.Name())))
	}

	slices.Sort(names)

	return names
}

// ArchetypeYAML returns the YAML source of the named built-in archetype.
func ArchetypeYAML(name string) ([]byte, error) {
	b, err := archetypes.ReadFile(path.Join("archetypes", name+".yaml"))
	if err != nil {
		return nil, errs.NewNotFoundError("archetype", name, Archetypes())
	}

	return b, nil
}
