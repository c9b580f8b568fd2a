package yaml

import (
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// ModulePath is the import path prefix used to match Go doc comments to
// reflected types.
const ModulePath = "github.com/macropower/rulebook"

// SchemaGenerator generates a JSON schema for a config type, using the Go
// doc comments of the given package directories as descriptions.
type SchemaGenerator struct {
	obj  any
	dirs []string
}

// NewSchemaGenerator creates a [SchemaGenerator] for obj. Each dir is a
// package directory relative to the module root, and the generator must run
// from the module root.
func NewSchemaGenerator(obj any, dirs ...string) *SchemaGenerator {
	return &SchemaGenerator{obj: obj, dirs: dirs}
}

// Generate reflects the schema and returns it as indented JSON.
func (g *SchemaGenerator) Generate() ([]byte, error) {
	r := &jsonschema.Reflector{
		FieldNameTag:               "json",
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
	}

	for _, dir := range g.dirs {
		err := r.AddGoComments(ModulePath, dir)
		if err != nil {
			return nil, fmt.Errorf("add go comments from %s: %w", dir, err)
		}
	}

	jss := r.Reflect(g.obj)

	b, err := json.MarshalIndent(jss, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}

	return append(b, '\n'), nil
}
