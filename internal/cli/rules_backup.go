package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/rulestore"
)

type rulesBackupArgs struct {
	*RootArgs

	Output string
	Keep   int
	List   bool
	Prune  bool
}

func newRulesBackupCmd(rootArgs *RootArgs) *cobra.Command {
	ba := &rulesBackupArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "backup",
		Short: "Back up the rule library",
		Example: `  # Write a backup and keep the 5 newest:
  rulebook rules backup --prune --keep 5

  # Show the existing backups:
  rulebook rules backup --list`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRulesBackup(cmd, ba)
		},
	}

	cmd.Flags().BoolVar(&ba.List, "list", false, "List backups instead of writing one")
	cmd.Flags().BoolVar(&ba.Prune, "prune", false, "Delete the oldest backups after writing")
	cmd.Flags().IntVar(&ba.Keep, "keep", 0, "Backups to keep when pruning (default from the config file)")
	addOutputFlag(cmd, &ba.Output)

	cmd.MarkFlagsMutuallyExclusive("list", "prune")

	return cmd
}

func runRulesBackup(cmd *cobra.Command, ba *rulesBackupArgs) error {
	ctx := cmd.Context()

	err := checkOutputFormat(ba.Output)
	if err != nil {
		return err
	}

	a, err := openApp(ctx, ba.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	out := cmd.OutOrStdout()

	if !ba.List {
		path, err := a.store.Backup(ctx)
		if err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}

		mustN(fmt.Fprintf(cmd.ErrOrStderr(), "Wrote %s\n", path))
	}

	if ba.Prune {
		keep := ba.Keep
		if !cmd.Flags().Changed("keep") {
			keep = a.settings.Backups.GetKeep()
		}

		removed, err := a.store.Prune(ctx, keep)
		if err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}

		for _, path := range removed {
			mustN(fmt.Fprintf(cmd.ErrOrStderr(), "Removed %s\n", path))
		}
	}

	if !ba.List {
		return nil
	}

	backups, err := a.store.Backups()
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	if ba.Output != formatText {
		if backups == nil {
			backups = []rulestore.BackupInfo{}
		}

		return writeStructured(out, ba.Output, backups)
	}

	printBackups(out, backups)

	return nil
}
