package cli

import (
	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/api/v1beta1/profiles"
	"github.com/macropower/rulebook/pkg/config"
)

func completeArchetypes(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
	return profiles.Archetypes(), cobra.ShellCompDirectiveNoFileComp
}

// completeProfiles completes the first positional argument with the names
// of the profiles in the configured profiles directory.
func completeProfiles(ra *RootArgs) cobra.CompletionFunc {
	return func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		cfg, err := loadSettings(ra.ConfigPath)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		entries, err := config.NewManager(cfg.Profiles.Dir, nil).List()
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}

		names := make([]string, 0, len(entries))
		for _, e := range entries {
			names = append(names, e.Name)
		}

		return names, cobra.ShellCompDirectiveNoFileComp
	}
}

// completeRuleIDs completes rule ids, showing each rule's title.
func completeRuleIDs(ra *RootArgs) cobra.CompletionFunc {
	return func(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
		if len(args) > 0 {
			return nil, cobra.ShellCompDirectiveNoFileComp
		}

		a, err := openApp(cmd.Context(), ra, nil)
		if err != nil {
			return nil, cobra.ShellCompDirectiveError
		}
		defer a.Close(cmd.Context())

		rules := a.store.All()
		out := make([]string, 0, len(rules))
		for _, r := range rules {
			out = append(out, cobra.CompletionWithDesc(r.ID, r.Title))
		}

		return out, cobra.ShellCompDirectiveNoFileComp
	}
}
