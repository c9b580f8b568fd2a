package main

import (
	"flag"
	"log"
	"os"
	"path/filepath"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/yaml"
)

var (
	outFile = flag.String("o", "schema.json", "Output file for the generated schema")
	rootDir = flag.String("root", "../../..", "Module root, used to read doc comments")
)

func main() {
	flag.Parse()

	out, err := filepath.Abs(*outFile)
	if err != nil {
		log.Fatalf("resolve output path: %v", err)
	}

	err = os.Chdir(*rootDir)
	if err != nil {
		log.Fatalf("change to module root: %v", err)
	}

	gen := yaml.NewSchemaGenerator(profiles.New(),
		"api/v1beta1",
		"api/v1beta1/profiles",
		"pkg/rule",
		"pkg/selection",
	)
	jsData, err := gen.Generate()
	if err != nil {
		log.Fatalf("generate JSON schema: %v", err)
	}

	err = os.WriteFile(out, jsData, 0o600)
	if err != nil {
		log.Fatalf("write schema file: %v", err)
	}
}
