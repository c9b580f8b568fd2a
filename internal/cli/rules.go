package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/huh"
	xstrings "github.com/charmbracelet/x/exp/strings"
	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/rule"
)

func NewRulesCmd(rootArgs *RootArgs) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "rules",
		Aliases: []string{"rule"},
		Short:   "Manage the rule library",
	}

	cmd.AddCommand(
		newRulesAddCmd(rootArgs),
		newRulesGetCmd(rootArgs),
		newRulesListCmd(rootArgs),
		newRulesUpdateCmd(rootArgs),
		newRulesDeleteCmd(rootArgs),
		newRulesSearchCmd(rootArgs),
		newRulesStatsCmd(rootArgs),
		newRulesBackupCmd(rootArgs),
		newRulesImportCmd(rootArgs),
	)

	return cmd
}

// ruleFlags holds the editable fields of a rule.
type ruleFlags struct {
	Title        string
	Content      string
	ContentFile  string
	Category     string
	Urgency      string
	Tags         []string
	ProjectTypes []string
	Sources      []string
}

func (rf *ruleFlags) AddFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&rf.Title, "title", "", "Rule title")
	cmd.Flags().StringVar(&rf.Content, "content", "", "Rule content")
	cmd.Flags().StringVar(&rf.ContentFile, "content-file", "", `Read the rule content from a file ("-" for stdin)`)
	cmd.Flags().StringVar(&rf.Category, "category", "",
		"Rule category, one of "+xstrings.EnglishJoin(categoryNames(), true))
	cmd.Flags().StringVar(&rf.Urgency, "urgency", "",
		"Rule urgency, one of "+xstrings.EnglishJoin(urgencyNames(), true))
	cmd.Flags().StringSliceVar(&rf.Tags, "tag", nil, "Rule tags")
	cmd.Flags().StringSliceVar(&rf.ProjectTypes, "project-type", nil, "Project types the rule applies to")
	cmd.Flags().StringSliceVar(&rf.Sources, "source", nil, "Where the rule came from")

	cmd.MarkFlagsMutuallyExclusive("content", "content-file")

	must(cmd.MarkFlagFilename("content-file"))
	registerEnumCompletions(cmd)
}

func (rf *ruleFlags) readContent(stdin io.Reader) error {
	if rf.ContentFile == "" {
		return nil
	}

	var (
		b   []byte
		err error
	)

	if rf.ContentFile == "-" {
		b, err = io.ReadAll(stdin)
	} else {
		b, err = os.ReadFile(rf.ContentFile)
	}
	if err != nil {
		return fmt.Errorf("read content: %w", err)
	}

	rf.Content = string(b)

	return nil
}

// patch builds a [rule.Patch] from the flags that were set on cmd.
func (rf *ruleFlags) patch(cmd *cobra.Command) (rule.Patch, error) {
	var p rule.Patch

	flags := cmd.Flags()

	if flags.Changed("title") {
		p.Title = &rf.Title
	}
	if flags.Changed("content") || flags.Changed("content-file") {
		p.Content = &rf.Content
	}
	if flags.Changed("category") {
		c, err := rule.ParseCategory(rf.Category)
		if err != nil {
			return p, err //nolint:wrapcheck // Message names the flag value.
		}

		p.Category = &c
	}
	if flags.Changed("urgency") {
		u, err := rule.ParseUrgency(rf.Urgency)
		if err != nil {
			return p, err //nolint:wrapcheck // Message names the flag value.
		}

		p.Urgency = &u
	}
	if flags.Changed("tag") {
		p.Tags = &rf.Tags
	}
	if flags.Changed("project-type") {
		p.ProjectTypes = &rf.ProjectTypes
	}
	if flags.Changed("source") {
		p.Sources = &rf.Sources
	}

	return p, nil
}

// newRule builds a rule from the flags. Category and urgency default to
// CUSTOM and MEDIUM. Missing title or content is left for the store to
// reject.
func (rf *ruleFlags) newRule() (*rule.Rule, error) {
	r := &rule.Rule{
		Title:        rf.Title,
		Content:      rf.Content,
		Category:     rule.CategoryCustom,
		Urgency:      rule.UrgencyMedium,
		Tags:         rf.Tags,
		ProjectTypes: rf.ProjectTypes,
		Sources:      rf.Sources,
	}

	var err error

	if rf.Category != "" {
		r.Category, err = rule.ParseCategory(rf.Category)
		if err != nil {
			return nil, err //nolint:wrapcheck // Message names the flag value.
		}
	}
	if rf.Urgency != "" {
		r.Urgency, err = rule.ParseUrgency(rf.Urgency)
		if err != nil {
			return nil, err //nolint:wrapcheck // Message names the flag value.
		}
	}

	return r, nil
}

// promptRule asks for the fields of r in a form, starting from its current
// values.
func promptRule(cmd *cobra.Command, r *rule.Rule) error {
	if !isTerminal(os.Stdin) {
		return errors.New("--interactive requires a terminal")
	}

	tags := strings.Join(r.Tags, ", ")

	categories := make([]huh.Option[rule.Category], 0, len(rule.Categories))
	for _, c := range rule.Categories {
		categories = append(categories, huh.NewOption(c.Emoji()+" "+c.Title(), c))
	}

	urgencies := make([]huh.Option[rule.Urgency], 0, len(rule.Urgencies))
	for _, u := range rule.Urgencies {
		urgencies = append(urgencies, huh.NewOption(u.Emoji()+" "+u.String(), u))
	}

	notEmpty := func(field string) func(string) error {
		return func(s string) error {
			if strings.TrimSpace(s) == "" {
				return fmt.Errorf("%s must not be empty", field)
			}

			return nil
		}
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Title").Value(&r.Title).Validate(notEmpty("title")),
			huh.NewText().Title("Content").Lines(8).Value(&r.Content).Validate(notEmpty("content")),
		),
		huh.NewGroup(
			huh.NewSelect[rule.Category]().Title("Category").Options(categories...).Value(&r.Category),
			huh.NewSelect[rule.Urgency]().Title("Urgency").Options(urgencies...).Value(&r.Urgency),
			huh.NewInput().Title("Tags").Description("Comma-separated").Value(&tags),
		),
	).WithTheme(huhTheme()).WithShowHelp(false)

	err := form.RunWithContext(cmd.Context())
	if err != nil {
		return fmt.Errorf("run rule form: %w", err)
	}

	r.Tags = splitList(tags)

	return nil
}

func splitList(s string) []string {
	var out []string
	for v := range strings.SplitSeq(s, ",") {
		v = strings.TrimSpace(v)
		if v != "" {
			out = append(out, v)
		}
	}

	return out
}

func categoryNames() []string {
	names := make([]string, 0, len(rule.Categories))
	for _, c := range rule.Categories {
		names = append(names, c.String())
	}

	return names
}

func urgencyNames() []string {
	names := make([]string, 0, len(rule.Urgencies))
	for _, u := range rule.Urgencies {
		names = append(names, u.String())
	}

	return names
}

// registerEnumCompletions completes the category and urgency flags of cmd,
// if it has them.
func registerEnumCompletions(cmd *cobra.Command) {
	for name, values := range map[string][]string{
		"category": categoryNames(),
		"urgency":  urgencyNames(),
	} {
		if cmd.Flags().Lookup(name) == nil {
			continue
		}

		must(cmd.RegisterFlagCompletionFunc(name,
			cobra.FixedCompletions(values, cobra.ShellCompDirectiveNoFileComp),
		))
	}
}

func parseCategories(ss []string) ([]rule.Category, error) {
	out := make([]rule.Category, 0, len(ss))
	for _, s := range ss {
		c, err := rule.ParseCategory(s)
		if err != nil {
			return nil, err //nolint:wrapcheck // Message names the flag value.
		}

		out = append(out, c)
	}

	return out, nil
}

func parseUrgencies(ss []string) ([]rule.Urgency, error) {
	out := make([]rule.Urgency, 0, len(ss))
	for _, s := range ss {
		u, err := rule.ParseUrgency(s)
		if err != nil {
			return nil, err //nolint:wrapcheck // Message names the flag value.
		}

		out = append(out, u)
	}

	return out, nil
}
