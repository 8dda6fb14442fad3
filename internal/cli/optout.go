package cli

import (
	"github.com/spf13/cobra"
)

// NewOptOutCommand creates the opt-out command.
func NewOptOutCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "opt-out <experiment>",
		Short: "Withdraw from a single experiment",
		Long: `Withdraw from a single experiment.

An enrolled device is disqualified and stays out across later applies;
the record lingers so re-bucketing cannot pull it back in.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runOptOut(rootOpts, args[0], cmd)
		},
	}
}

func runOptOut(opts *RootOptions, slug string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.OptOut(cmd.Context(), slug)
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	return outputEvents(out, opts.Format, events)
}
