package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/api/v1beta1/configs"
)

type InitArgs struct {
	*RootArgs

	Archetype string
	Force     bool
}

func NewInitCmd(rootArgs *RootArgs) *cobra.Command {
	ia := &InitArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration and create the rule library",
		Example: `  # Write ~/.config/rulebook/config.yaml and create an empty library:
  rulebook init

  # Also create a starter profile from the "balanced" archetype:
  rulebook init --archetype balanced`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInit(cmd, ia)
		},
	}

	cmd.Flags().BoolVar(&ia.Force, "force", false, "Back up and replace an existing configuration file")
	cmd.Flags().StringVar(&ia.Archetype, "archetype", "", "Create a starter profile from this archetype")

	err := cmd.RegisterFlagCompletionFunc("archetype", completeArchetypes)
	if err != nil {
		panic(err)
	}

	return cmd
}

func runInit(cmd *cobra.Command, ia *InitArgs) error {
	ctx := cmd.Context()

	path := ia.ConfigPath
	if path == "" {
		path = configs.GetPath()
	}

	err := configs.WriteDefault(path, ia.Force)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	// The file now exists, so later loads read it rather than the defaults.
	ia.ConfigPath = path

	a, err := openApp(ctx, ia.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	err = os.MkdirAll(a.profiles.Dir(), 0o700)
	if err != nil {
		return fmt.Errorf("create profiles directory: %w", err)
	}

	out := cmd.OutOrStdout()

	mustN(fmt.Fprintf(out, "config:   %s\n", path))
	mustN(fmt.Fprintf(out, "rules:    %s (%d rules)\n", a.store.Location(), a.store.Len()))
	mustN(fmt.Fprintf(out, "profiles: %s\n", a.profiles.Dir()))

	if ia.Archetype == "" {
		return nil
	}

	p, err := a.profiles.Create(ia.Archetype, nil)
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	target, err := a.profiles.Save(ctx, p, "")
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	slog.DebugContext(ctx, "created starter profile", slog.String("archetype", ia.Archetype))
	mustN(fmt.Fprintf(out, "profile:  %s\n", target))

	return nil
}
