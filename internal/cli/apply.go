package cli

import (
	"github.com/spf13/cobra"
)

// NewApplyCommand creates the apply command.
func NewApplyCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "apply",
		Short: "Apply the staged catalog to enrollments",
		Long: `Apply the staged catalog, evolving enrollments against it.

Without a staged catalog this re-evaluates the applied one, which is a
no-op unless device state changed. Emitted change events are printed.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(rootOpts, cmd)
		},
	}
}

func runApply(opts *RootOptions, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.ApplyPendingExperiments(cmd.Context())
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	return outputEvents(out, opts.Format, events)
}
