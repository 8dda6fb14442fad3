package cli

import (
	"github.com/spf13/cobra"
)

// NewUpdateCommand creates the update command.
func NewUpdateCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "update",
		Short:         "Fetch the remote catalog and apply it in one step",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runUpdate(rootOpts, cmd)
		},
	}
}

func runUpdate(opts *RootOptions, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.UpdateExperiments(cmd.Context())
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	return outputEvents(out, opts.Format, events)
}
