package cli

import (
	"github.com/spf13/cobra"
)

// NewOptInCommand creates the opt-in command.
func NewOptInCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "opt-in <experiment> <branch>",
		Short: "Force enrollment into a specific branch",
		Long: `Force enrollment into a specific branch of an applied experiment.

Opt-in skips bucketing and targeting. It is a development override; the
next apply keeps the forced branch as long as the experiment stays in
the catalog.`,
		Args:          cobra.ExactArgs(2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptIn(rootOpts, args[0], args[1], cmd)
		},
	}
}

func runOptIn(opts *RootOptions, slug, branch string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.OptInWithBranch(cmd.Context(), slug, branch)
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	return outputEvents(out, opts.Format, events)
}
