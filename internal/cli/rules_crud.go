package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/errs"
	"github.com/macropower/rulebook/pkg/rule"
	"github.com/macropower/rulebook/pkg/rulestore"
)

type rulesAddArgs struct {
	*RootArgs
	ruleFlags

	ID          string
	Output      string
	Interactive bool
}

func newRulesAddCmd(rootArgs *RootArgs) *cobra.Command {
	ra := &rulesAddArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a rule",
		Example: `  rulebook rules add --title "Validate input" --content "Validate every request body." \
    --category security --urgency high --tag api

  # Fill in the fields in a form:
  rulebook rules add -i`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRulesAdd(cmd, ra)
		},
	}

	ra.ruleFlags.AddFlags(cmd)
	cmd.Flags().StringVar(&ra.ID, "id", "", "Rule id (generated when empty)")
	cmd.Flags().BoolVarP(&ra.Interactive, "interactive", "i", false, "Fill in the rule in a form")
	addOutputFlag(cmd, &ra.Output)

	return cmd
}

func runRulesAdd(cmd *cobra.Command, ra *rulesAddArgs) error {
	ctx := cmd.Context()

	err := checkOutputFormat(ra.Output)
	if err != nil {
		return err
	}

	err = ra.readContent(cmd.InOrStdin())
	if err != nil {
		return err
	}

	r, err := ra.newRule()
	if err != nil {
		return err
	}

	r.ID = ra.ID

	if ra.Interactive {
		err = promptRule(cmd, r)
		if err != nil {
			return err
		}
	}

	a, err := openApp(ctx, ra.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	added, err := a.store.Add(ctx, r)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	if ra.Output != formatText {
		return writeStructured(cmd.OutOrStdout(), ra.Output, added)
	}

	mustN(fmt.Fprintf(cmd.OutOrStdout(), "Added rule %s\n", added.ID))

	return nil
}

type rulesGetArgs struct {
	*RootArgs

	Output string
}

func newRulesGetCmd(rootArgs *RootArgs) *cobra.Command {
	ga := &rulesGetArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:               "get ID",
		Short:             "Show a rule",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeRuleIDs(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			err := checkOutputFormat(ga.Output)
			if err != nil {
				return err
			}

			a, err := openApp(ctx, ga.RootArgs, nil)
			if err != nil {
				return err
			}
			defer a.Close(ctx)

			r, err := getRule(a.store, args[0])
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if ga.Output != formatText {
				return writeStructured(out, ga.Output, r)
			}

			printRule(out, r, min(terminalWidth(out), 100))

			return nil
		},
	}

	addOutputFlag(cmd, &ga.Output)

	return cmd
}

func getRule(store *rulestore.Store, id string) (*rule.Rule, error) {
	r, ok := store.Get(id)
	if ok {
		return r, nil
	}

	all := store.All()
	ids := make([]string, 0, len(all))
	for _, r := range all {
		ids = append(ids, r.ID)
	}

	return nil, errs.NewNotFoundError("rule", id, ids)
}

type rulesListArgs struct {
	*RootArgs

	Category string
	Urgency  string
	Output   string
}

func newRulesListCmd(rootArgs *RootArgs) *cobra.Command {
	la := &rulesListArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "List rules",
		Example: `  # Rules of at least HIGH urgency:
  rulebook rules list --urgency high`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRulesList(cmd, la)
		},
	}

	cmd.Flags().StringVar(&la.Category, "category", "", "Only list rules in this category")
	cmd.Flags().StringVar(&la.Urgency, "urgency", "", "Only list rules of at least this urgency")
	addOutputFlag(cmd, &la.Output)
	registerEnumCompletions(cmd)

	return cmd
}

func runRulesList(cmd *cobra.Command, la *rulesListArgs) error {
	ctx := cmd.Context()

	err := checkOutputFormat(la.Output)
	if err != nil {
		return err
	}

	var f rulestore.Filter

	if la.Category != "" {
		f.Categories, err = parseCategories([]string{la.Category})
		if err != nil {
			return err
		}
	}

	if la.Urgency != "" {
		minimum, err := rule.ParseUrgency(la.Urgency)
		if err != nil {
			return err //nolint:wrapcheck // Message names the flag value.
		}

		for _, u := range rule.Urgencies {
			if u.AtLeast(minimum) {
				f.Urgencies = append(f.Urgencies, u)
			}
		}
	}

	a, err := openApp(ctx, la.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	rules := a.store.Search(f).Rules

	out := cmd.OutOrStdout()
	if la.Output != formatText {
		return writeStructured(out, la.Output, rules)
	}

	printRules(out, rules)

	return nil
}

type rulesUpdateArgs struct {
	*RootArgs
	ruleFlags

	Output string
}

func newRulesUpdateCmd(rootArgs *RootArgs) *cobra.Command {
	ua := &rulesUpdateArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "update ID",
		Short: "Change fields of a rule",
		Long: `Change fields of a rule. Only the flags given are changed; list flags
replace the whole list.`,
		Example: `  rulebook rules update 3f2a... --urgency critical --tag api --tag auth`,
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeRuleIDs(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesUpdate(cmd, ua, args[0])
		},
	}

	ua.ruleFlags.AddFlags(cmd)
	addOutputFlag(cmd, &ua.Output)

	return cmd
}

func runRulesUpdate(cmd *cobra.Command, ua *rulesUpdateArgs, id string) error {
	ctx := cmd.Context()

	err := checkOutputFormat(ua.Output)
	if err != nil {
		return err
	}

	err = ua.readContent(cmd.InOrStdin())
	if err != nil {
		return err
	}

	patch, err := ua.patch(cmd)
	if err != nil {
		return err
	}

	if patch.Empty() {
		return errors.New("nothing to update, set at least one field flag")
	}

	a, err := openApp(ctx, ua.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	updated, err := a.store.Update(ctx, id, patch)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	if ua.Output != formatText {
		return writeStructured(cmd.OutOrStdout(), ua.Output, updated)
	}

	mustN(fmt.Fprintf(cmd.OutOrStdout(), "Updated rule %s\n", updated.ID))

	return nil
}

type rulesDeleteArgs struct {
	*RootArgs

	Yes bool
}

func newRulesDeleteCmd(rootArgs *RootArgs) *cobra.Command {
	da := &rulesDeleteArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:               "delete ID",
		Aliases:           []string{"rm"},
		Short:             "Delete a rule",
		Args:              cobra.ExactArgs(1),
		ValidArgsFunction: completeRuleIDs(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesDelete(cmd, da, args[0])
		},
	}

	cmd.Flags().BoolVarP(&da.Yes, "yes", "y", false, "Delete without asking")

	return cmd
}

func runRulesDelete(cmd *cobra.Command, da *rulesDeleteArgs, id string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, da.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	r, err := getRule(a.store, id)
	if err != nil {
		return err
	}

	if !da.Yes {
		if !isTerminal(os.Stdin) {
			return errors.New("refusing to delete without confirmation, pass --yes")
		}

		confirmed := false

		err = huh.NewForm(huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete %q?", r.Title)).
				Affirmative("Delete").
				Negative("Keep").
				Value(&confirmed),
		)).WithTheme(huhTheme()).WithShowHelp(false).RunWithContext(ctx)
		if err != nil {
			return fmt.Errorf("run confirmation: %w", err)
		}

		if !confirmed {
			return nil
		}
	}

	err = a.store.Delete(ctx, r.ID)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	mustN(fmt.Fprintf(cmd.OutOrStdout(), "Deleted rule %s\n", r.ID))

	return nil
}
