package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/rulestore"
)

type rulesSearchArgs struct {
	*RootArgs

	Output     string
	Categories []string
	Urgencies  []string
	Tags       []string
}

func newRulesSearchCmd(rootArgs *RootArgs) *cobra.Command {
	sa := &rulesSearchArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "search [TEXT...]",
		Short: "Search rules by text, category, urgency and tag",
		Long: `Search rules. TEXT is matched case-insensitively against titles and
content. Filters of different kinds must all match; values of one kind
match if any does.`,
		Example: `  rulebook rules search injection --category security --urgency high --urgency critical`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRulesSearch(cmd, sa, strings.Join(args, " "))
		},
	}

	cmd.Flags().StringSliceVar(&sa.Categories, "category", nil, "Match any of these categories")
	cmd.Flags().StringSliceVar(&sa.Urgencies, "urgency", nil, "Match any of these urgencies")
	cmd.Flags().StringSliceVar(&sa.Tags, "tag", nil, "Match any of these tags")
	addOutputFlag(cmd, &sa.Output)
	registerEnumCompletions(cmd)

	return cmd
}

func runRulesSearch(cmd *cobra.Command, sa *rulesSearchArgs, text string) error {
	ctx := cmd.Context()

	err := checkOutputFormat(sa.Output)
	if err != nil {
		return err
	}

	f := rulestore.Filter{Text: text, Tags: sa.Tags}

	f.Categories, err = parseCategories(sa.Categories)
	if err != nil {
		return err
	}

	f.Urgencies, err = parseUrgencies(sa.Urgencies)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, sa.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	res := a.store.Search(f)

	out := cmd.OutOrStdout()
	if sa.Output != formatText {
		return writeStructured(out, sa.Output, res)
	}

	printRules(out, res.Rules)

	return nil
}

type rulesStatsArgs struct {
	*RootArgs

	Output string
}

func newRulesStatsCmd(rootArgs *RootArgs) *cobra.Command {
	sa := &rulesStatsArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Count rules per urgency, category and source",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
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

			st := a.store.Statistics()

			out := cmd.OutOrStdout()
			if sa.Output != formatText {
				return writeStructured(out, sa.Output, st)
			}

			printStatistics(out, st)

			md := a.store.Metadata()
			mustN(fmt.Fprintf(out, "\nLibrary %s, last modified %s\n",
				a.store.Location(), md.LastModified.Format("2006-01-02 15:04:05")))

			return nil
		},
	}

	addOutputFlag(cmd, &sa.Output)

	return cmd
}
