package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/macropower/rulebook/pkg/version"
)

func NewVersionCmd() *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			err := checkOutputFormat(output)
			if err != nil {
				return err
			}

			info := version.Get()

			out := cmd.OutOrStdout()
			if output != formatText {
				return writeStructured(out, output, info)
			}

			mustN(fmt.Fprintf(out, "%s %s\n", cmdName, info))
			if info.BuildDate != "" {
				mustN(fmt.Fprintf(out, "  built %s by %s from %s\n", info.BuildDate, info.BuildUser, info.Branch))
			}
			mustN(fmt.Fprintf(out, "  %s %s\n", info.GoVersion, info.Platform))

			return nil
		},
	}

	addOutputFlag(cmd, &output)

	return cmd
}
