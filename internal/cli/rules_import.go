package cli

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/importer"
)

type rulesImportArgs struct {
	*RootArgs

	Format string
	Source string
	DryRun bool
}

func newRulesImportCmd(rootArgs *RootArgs) *cobra.Command {
	ia := &rulesImportArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Add the rules of YAML, JSON or TOML files",
		Long: `Add the rules of YAML, JSON or TOML files. A file holds a list of rules, or
a mapping with a "rules" list. Invalid records are reported and skipped;
the valid ones are still added. Use "-" to read stdin, together with --format.`,
		Example: `  rulebook rules import team-rules.yaml legacy.toml

  # Check a file without changing the library:
  rulebook rules import --dry-run rules.json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesImport(cmd, ia, args)
		},
	}

	cmd.Flags().StringVar(&ia.Format, "format", "", "Document format, one of: yaml, json, toml (default from the file extension)")
	cmd.Flags().StringVar(&ia.Source, "source", "", "Source recorded on rules without one (default the file name)")
	cmd.Flags().BoolVar(&ia.DryRun, "dry-run", false, "Validate the files without adding rules")

	must(cmd.RegisterFlagCompletionFunc("format",
		cobra.FixedCompletions([]string{"yaml", "json", "toml"}, cobra.ShellCompDirectiveNoFileComp),
	))

	return cmd
}

func (ia *rulesImportArgs) read(cmd *cobra.Command, path string) (*importer.Result, error) {
	var opts []importer.Option
	if ia.Source != "" {
		opts = append(opts, importer.WithSource(ia.Source))
	}

	if path != "-" && ia.Format == "" {
		return importer.Read(path, opts...) //nolint:wrapcheck // Already wrapped.
	}

	if ia.Format == "" {
		return nil, errors.New("--format is required when reading stdin")
	}

	format, err := importer.ParseFormat(ia.Format)
	if err != nil {
		return nil, err //nolint:wrapcheck // Message names the flag value.
	}

	if path == "-" {
		return importer.Decode(cmd.InOrStdin(), format, opts...) //nolint:wrapcheck // Already wrapped.
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, &errs.StorageError{Op: "read", Path: path, Err: err}
	}
	defer f.Close()

	if ia.Source == "" {
		opts = append(opts, importer.WithSource(path))
	}

	return importer.Decode(f, format, opts...) //nolint:wrapcheck // Already wrapped.
}

func runRulesImport(cmd *cobra.Command, ia *rulesImportArgs, paths []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, ia.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	var (
		failures []error
		added    int
		valid    int
	)

	for _, path := range paths {
		res, err := ia.read(cmd, path)
		if err != nil {
			failures = append(failures, err)
			continue
		}

		err = res.Err()
		if err != nil {
			failures = append(failures, fmt.Errorf("%s: %w", path, err))
		}

		for _, r := range res.Rules() {
			valid++

			if ia.DryRun {
				continue
			}

			_, err := a.store.Add(ctx, r)
			if err != nil {
				failures = append(failures, fmt.Errorf("%s: %q: %w", path, r.Title, err))
				continue
			}

			added++
		}

		slog.DebugContext(ctx, "read rules file",
			slog.String("path", path),
			slog.Int("records", len(res.Records)),
			slog.Int("invalid", len(res.Invalid())),
		)
	}

	out := cmd.OutOrStdout()
	if ia.DryRun {
		mustN(fmt.Fprintf(out, "%d valid rules, nothing added (dry run)\n", valid))
	} else {
		mustN(fmt.Fprintf(out, "Imported %d of %d valid rules\n", added, valid))
	}

	return errors.Join(failures...)
}
