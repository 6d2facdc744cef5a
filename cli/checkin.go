package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/cppla/livewell/liveness"
)

func NewCheckInCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "checkin",
		Short: "Check in now and push the new state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadRegistered(rootOpts.StatePath)
			if err != nil {
				return err
			}
			p := clientPolicy()
			now := time.Now()
			s = s.RecordCheckIn(now, p)
			if err := SaveState(rootOpts.StatePath, s); err != nil {
				return WrapExitError(ExitCommandError, "failed to save state", err)
			}
			printStatus(cmd.OutOrStdout(), rootOpts.Format, s, liveness.StatusAt(s, now, p))
			return pushNow(cmd.Context(), rootOpts, s)
		},
	}
}

func NewStatusCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Print whether you are checked in and the time left before an alert",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadRegistered(rootOpts.StatePath)
			if err != nil {
				return err
			}
			printStatus(cmd.OutOrStdout(), rootOpts.Format, s, liveness.StatusAt(s, time.Now(), clientPolicy()))
			return nil
		},
	}
}
