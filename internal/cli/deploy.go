package cli

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/config"
	"github.com/macropower/rulebook/pkg/render"
)

type DeployArgs struct {
	*RootArgs

	DryRun  bool
	NoHooks bool
}

func NewDeployCmd(rootArgs *RootArgs) *cobra.Command {
	da := &DeployArgs{RootArgs: rootArgs}

	cmd := &cobra.Command{
		Use:   "deploy [PROFILE]",
		Short: "Write every artifact of a profile to its target directory",
		Long: `Render every artifact of a profile and write it under the profile's
deployment.targetDir. Nothing is written unless every artifact renders.
The post-deploy hook, if any, then runs in the target directory with
RULEBOOK_PROFILE and RULEBOOK_TARGET_DIR set. Without PROFILE, the nearest
.rulebook.yaml (or rulebook.yaml) in the working directory or one of its
parents is deployed.`,
		Example: `  rulebook deploy api

  # List the files that would be written:
  rulebook deploy api --dry-run`,
		Args:              cobra.MaximumNArgs(1),
		ValidArgsFunction: completeProfiles(rootArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			source, err := profileSource(args)
			if err != nil {
				return err
			}

			return runDeploy(cmd, da, source)
		},
	}

	cmd.Flags().BoolVar(&da.DryRun, "dry-run", false, "Render without writing files or running hooks")
	cmd.Flags().BoolVar(&da.NoHooks, "no-hooks", false, "Do not run the post-deploy hook")

	return cmd
}

func runDeploy(cmd *cobra.Command, da *DeployArgs, source string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx, da.RootArgs, nil)
	if err != nil {
		return err
	}
	defer a.Close(ctx)

	p, err := a.profiles.Load(ctx, source, config.LoadOptions{ValidateRules: true})
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	out := cmd.OutOrStdout()

	if da.DryRun {
		sink := render.NewMemorySink()

		_, err = a.renderer.Deploy(ctx, p, sink, render.WithoutHooks())
		if err != nil {
			return err //nolint:wrapcheck // Already wrapped.
		}

		for _, path := range sink.Paths() {
			text, _ := sink.File(path)
			mustN(fmt.Fprintf(out, "would write %s (%s)\n", path, humanize.Bytes(uint64(len(text)))))
		}

		return nil
	}

	var opts []render.DeployOpt
	if da.NoHooks {
		opts = append(opts, render.WithoutHooks())
	}

	res, err := a.renderer.Deploy(ctx, p, render.FileSink{}, opts...)
	if res != nil {
		for _, path := range res.Files {
			mustN(fmt.Fprintf(out, "wrote %s\n", path))
		}

		if res.Hook != nil {
			mustN(fmt.Fprint(out, res.Hook.Stdout))
			mustN(fmt.Fprint(cmd.ErrOrStderr(), res.Hook.Stderr))
		}
	}
	if err != nil {
		return err //nolint:wrapcheck // Already wrapped.
	}

	return nil
}
