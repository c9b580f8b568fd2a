package cli

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"
	"strings"

	"charm.land/lipgloss/v2"
	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/yaml"
)

func NewProfileCmd(rootArgs *RootArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "profile",
		Aliases: []string{"profiles"},
		Short:   "Create, inspect and validate profiles",
	}

	cmd.AddCommand(
		newProfileCreateCmd(rootArgs),
		newProfileValidateCmd(rootArgs),
		newProfileShowCmd(rootArgs),
		newProfileListCmd(rootArgs),
		newProfileArchetypesCmd(),
	)

	return cmd
}

type profileCreateArgs struct {
	*RootArgs

	File        string
	Set         []string
	DryRun      bool
	Interactive bool
}

func newProfileCreateCmd(rootArgs *RootArgs) *cobra.Command {
	ca := &profileCreateArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "create ARCHETYPE",
		Short: "Create a profile from an archetype",
		Long: `Create a profile from an archetype. --set overrides fields by dotted path;
values are parsed as YAML, so lists and numbers keep their type. The profile
is validated and written to the profiles directory as <id>.yaml.`,
		Example: `  rulebook profile create balanced --set id=api --set name="API service"

  # Print the result instead of writing it:
  rulebook profile create minimal --set id=docs --dry-run`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeArchetypes,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileCreate(cmd, ca, args[0])
		},
	}

	cmd.Flags().StringArrayVar(&ca.Set, "set", nil, "Override a field, as path=value")
	cmd.Flags().StringVar(&ca.File, "file", "", "Write to this path instead of the profiles directory")
	cmd.Flags().BoolVar(&ca.DryRun, "dry-run", false, "Print the profile instead of writing it")
	cmd.Flags().BoolVarP(&ca.Interactive, "interactive", "i", false, "Fill in the id, name and target directory in a form")

	must(cmd.MarkFlagFilename("file", "yaml", "yml"))

	return cmd
}

func runProfileCreate(cmd *cobra.Command, ca *profileCreateArgs, archetype string) error {
	ctx := cmd.Context()

	overrides, err := parseOverrides(ca.Set)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, ca.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	p, err := a.profiles.Create(archetype, overrides)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	if ca.Interactive {
		err = promptProfile(cmd, p)
		if err != nil {
			return err
		}
	}

	if ca.DryRun {
		report := a.profiles.Validate(p)
		printViolations(cmd.ErrOrStderr(), report)

		b, err := p.MarshalYAML()
		if err != nil {
			return fmt.Errorf("encode profile: %w", err)
		}

		out := cmd.OutOrStdout()

		return writeHighlighted(out, string(b), "yaml", isTerminalWriter(out))
	}

	path, err := a.profiles.Save(ctx, p, ca.File)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	mustN(fmt.Fprintf(cmd.OutOrStdout(), "Created profile %q at %s\n", p.ID, path))

	return nil
}

// parseOverrides turns "a.b=value" pairs into a nested map. Values are
// decoded as YAML, falling back to the raw string.
func parseOverrides(pairs []string) (map[string]any, error) {
	out := map[string]any{}

	for _, pair := range pairs {
		key, raw, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid argument %q for --set, expected path=value", pair)
		}

		var value any

		err := yaml.Unmarshal([]byte(raw), &value)
		if err != nil || value == nil {
			value = raw
		}

		parts := strings.Split(key, ".")
		m := out

		for _, part := range parts[:len(parts)-1] {
			next, ok := m[part].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[part] = next
			}

			m = next
		}

		m[parts[len(parts)-1]] = value
	}

	return out, nil
}

func promptProfile(cmd *cobra.Command, p *profiles.Profile) error {
	if !isTerminal(os.Stdin) {
		return errors.New("--interactive requires a terminal")
	}

	if p.Deployment == nil {
		p.Deployment = &profiles.Deployment{}
	}

	required := func(s string) error {
		if strings.TrimSpace(s) == "" {
			return errors.New("required")
		}

		return nil
	}

	err := huh.NewForm(huh.NewGroup(
		huh.NewInput().Title("ID").Value(&p.ID).Validate(required),
		huh.NewInput().Title("Name").Value(&p.Name).Validate(required),
		huh.NewInput().Title("Description").Value(&p.Description),
		huh.NewInput().Title("Target directory").Value(&p.Deployment.TargetDir).Validate(required),
	)).WithTheme(huhTheme()).WithShowHelp(false).RunWithContext(cmd.Context())
	if err != nil {
		return fmt.Errorf("run profile form: %w", err)
	}

	return nil
}

type profileValidateArgs struct {
	*RootArgs

	Output string
}

func newProfileValidateCmd(rootArgs *RootArgs) *cobra.Command {
	va := &profileValidateArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "validate PROFILE",
		Short: "Check a profile and resolve its selections",
		Long: `Check a profile and resolve its selections against the rule library.
PROFILE is a name from "rulebook profile list" or a file path. Exits
non-zero if the profile has errors; warnings are only reported.`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProfiles(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProfileValidate(cmd, va, args[0])
		},
	}

	addOutputFlag(cmd, &va.Output)

	return cmd
}

func runProfileValidate(cmd *cobra.Command, va *profileValidateArgs, source string) error {
	ctx := cmd.Context()

	err := checkOutputFormat(va.Output)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, va.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	p, err := a.profiles.Load(ctx, source, config.LoadOptions{})
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	report := a.profiles.Validate(p)

	out := cmd.OutOrStdout()
	if va.Output != formatText {
		err = writeStructured(out, va.Output, report)
		if err != nil {
			return err
		}

		return report.Err(p.ID) //nolint:wrapcheck // Already typed.
	}

	printResolution(out, report)
	printViolations(cmd.ErrOrStderr(), report)

	err = report.Err(p.ID)
	if err != nil {
		return err //nolint:wrapcheck // Already typed.
	}

	mustN(fmt.Fprintf(out, "Profile %q is valid.\n", p.ID))

	return nil
}

func printResolution(w io.Writer, report *config.Report) {
	for _, kind := range slices.Sorted(maps.Keys(report.RuleResolution)) {
		res := report.RuleResolution[kind]

		mustN(lipgloss.Fprintln(w, titleStyle.Render(kind)+
			labelStyle.Render(fmt.Sprintf("  %d rules", len(res.ResolvedRuleIDs)))))

		for _, u := range slices.Backward(rule.Urgencies) {
			if n := res.RulesByUrgency[u]; n > 0 {
				mustN(lipgloss.Fprintln(w, fmt.Sprintf("  %s %3d",
					urgencyStyle(u).Width(len("CRITICAL")).Render(u.String()), n)))
			}
		}

		for _, f := range res.FailedResolutions {
			mustN(fmt.Fprintf(w, "  failed: %s\n", formatFailure(f)))
		}
	}
}

func formatFailure(f config.FailedResolution) string {
	if f.Index < 0 {
		return f.Error
	}

	return fmt.Sprintf("%s[%d]: %s", f.Side, f.Index, f.Error)
}

func printViolations(w io.Writer, report *config.Report) {
	list := func(label string, style lipgloss.Style, vs errs.Violations) {
		for _, v := range vs {
			field := v.Field
			if field != "" {
				field += ": "
			}

			mustN(lipgloss.Fprintln(w, style.Render(label)+" "+field+v.Message+labelStyle.Render(" ("+v.Code+")")))
		}
	}

	list("warning", urgencyStyle(rule.UrgencyMedium), report.Warnings)
	list("error", urgencyStyle(rule.UrgencyCritical), report.Errors)
}

type profileShowArgs struct {
	*RootArgs

	Output string
}

func newProfileShowCmd(rootArgs *RootArgs) *cobra.Command {
	sa := &profileShowArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:               "show PROFILE",
		Short:             "Print a profile with its defaults applied",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeProfiles(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			err := checkOutputFormat(sa.Output)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, sa.RootArgs, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			p, err := a.profiles.Load(ctx, args[0], config.LoadOptions{})
			if err != nil {
				return err //nolint:wrapcheck // Already wrapped.
			}

			out := cmd.OutOrStdout()
			if sa.Output == formatJSON {
				return writeStructured(out, sa.Output, p)
			}

			b, err := p.MarshalYAML()
			if err != nil {
				return fmt.Errorf("encode profile: %w", err)
			}

			return writeHighlighted(out, string(b), "yaml", isTerminalWriter(out))
		},
	}

	addOutputFlag(cmd, &sa.Output)

	return cmd
}

type profileListArgs struct {
	*RootArgs

	Output string
}

func newProfileListCmd(rootArgs *RootArgs) *cobra.Command {
	la := &profileListArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List the profiles in the profiles directory",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := checkOutputFormat(la.Output)
			if err != nil {
				return err
			}

			cfg, err := loadSettings(la.ConfigPath)
			if err != nil {
				return err
			}

			entries, err := config.NewManager(cfg.Profiles.Dir, nil).List()
			if err != nil {
				return err //nolint:wrapcheck // Already typed.
			}

			out := cmd.OutOrStdout()
			if la.Output != formatText {
				if entries == nil {
					entries = []config.ProfileEntry{}
				}

				return writeStructured(out, la.Output, entries)
			}

			if len(entries) == 0 {
				mustN(fmt.Fprintf(out, "No profiles in %s.\n", cfg.Profiles.Dir))
				return nil
			}

			for _, e := range entries {
				mustN(lipgloss.Fprintln(out, titleStyle.Render(e.Name)+"  "+labelStyle.Render(e.Path)))
			}

			return nil
		},
	}

	addOutputFlag(cmd, &la.Output)

	return cmd
}

func newProfileArchetypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "archetypes [NAME]",
		Short: "List the built-in archetypes, or print one",
		Args:  cobra.MaximumNArgs(1),
		ValidArgsFunction: func(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
			if len(args) > 0 {
				return nil, cobra.ShellCompDirectiveNoFileComp
			}

			return completeArchetypes(cmd, args, toComplete)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()

			if len(args) == 0 {
				for _, name := range profiles.Archetypes() {
					mustN(fmt.Fprintln(out, name))
				}

				return nil
			}

			b, err := profiles.ArchetypeYAML(args[0])
			if err != nil {
				return err //nolint:wrapcheck // Already a NotFoundError.
			}

			return writeHighlighted(out, string(b), "yaml", isTerminalWriter(out))
		},
	}
}
