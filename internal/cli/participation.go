package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewParticipationCommand creates the participation command.
func NewParticipationCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "participation <on|off>",
		Short: "Set global experiment participation",
		Long: `Set global experiment participation for this device.

Turning participation off disqualifies every active enrollment. Turning
it back on does not re-enroll anything by itself; run apply afterwards
to re-evaluate the catalog.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runParticipation(rootOpts, args[0], cmd)
		},
	}
}

func runParticipation(opts *RootOptions, state string, cmd *cobra.Command) error {
	out := cmd.OutOrStdout()

	var participating bool
	switch state {
	case "on":
		participating = true
	case "off":
		participating = false
	default:
		return NewExitError(ExitCommandError, fmt.Sprintf("invalid argument %q: must be \"on\" or \"off\"", state))
	}

	client, err := openClient(cmd, opts)
	if err != nil {
		return err
	}
	defer client.Close()

	events, err := client.SetGlobalUserParticipation(cmd.Context(), participating)
	if err != nil {
		return commandError(out, opts.Format, err)
	}
	return outputEvents(out, opts.Format, events)
}
