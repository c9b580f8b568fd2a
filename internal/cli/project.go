package cli

import (
	"fmt"
	"os"

	xstrings "github.com/charmbracelet/x/exp/strings"

	"github.com/macropower/rulebook/api"
	"github.com/macropower/rulebook/pkg/errs"
)

// projectProfileNames are the profile files looked up in the working
// directory and its parents when a command is not given a profile.
var projectProfileNames = []string{".rulebook.yaml", ".rulebook.yml", "rulebook.yaml", "rulebook.yml"}

// profileSource returns args[0], or the nearest project profile when args
// is empty.
func profileSource(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}

	wd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}

	path, err := api.FindConfigFile(wd, projectProfileNames)
	if err != nil {
		return "", fmt.Errorf("find project profile: %w", err)
	}
	if path == "" {
		return "", fmt.Errorf("no profile given and no %s in %s or its parents: %w",
			xstrings.EnglishJoin(projectProfileNames, false), wd, errs.ErrNotFound)
	}

	return path, nil
}
