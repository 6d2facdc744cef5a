package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cppla/livewell/liveness"
	"github.com/cppla/livewell/syncclient"
	"github.com/cppla/livewell/utils"
)

func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Show a live countdown; press Enter to check in",
		Long: `Show the check-in status every second until interrupted. Each line read
from stdin records a check-in, saves the state file and pushes it in the
background.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, rootOpts)
		},
	}
}

func runWatch(cmd *cobra.Command, opts *RootOptions) error {
	s, err := loadRegistered(opts.StatePath)
	if err != nil {
		return err
	}

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()
	log := utils.L()

	pusher := syncclient.NewPusher(syncclient.NewClient(opts.Server, nil), syncclient.PusherOptions{
		Logger: log,
		OnStatus: func(st syncclient.Status) {
			if st.Phase == syncclient.PhaseError {
				fmt.Fprintf(out, "sync error: %s\n", st.LastError)
			}
		},
	})
	go pusher.Run(ctx)

	tracker := liveness.NewTracker(s, liveness.TrackerOptions{
		Policy: clientPolicy(),
		OnTick: func(st liveness.Status) {
			printTick(out, opts.Format, s.UserID, st, pusher.Status().Phase)
		},
		OnChange: func(next liveness.State) {
			if err := SaveState(opts.StatePath, next); err != nil {
				log.Error("save state failed", zap.String("path", opts.StatePath), zap.Error(err))
			}
			pusher.Submit(next)
		},
	})

	go readCheckIns(ctx, cmd.InOrStdin(), tracker, log)

	if err := tracker.Run(ctx); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func readCheckIns(ctx context.Context, in io.Reader, tracker *liveness.Tracker, log *zap.Logger) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if _, err := tracker.CheckIn(ctx); err != nil {
			if ctx.Err() == nil {
				log.Warn("check-in failed", zap.Error(err))
			}
			return
		}
	}
}

func printTick(out io.Writer, format, userID string, st liveness.Status, phase syncclient.Phase) {
	if format == "json" {
		printStatus(out, format, liveness.State{UserID: userID}, st)
		return
	}
	live := "not checked in"
	if st.IsLive {
		live = "checked in"
	}
	fmt.Fprintf(out, "\r%s | streak %d | alert in %s | sync %s   ",
		live, st.Streak, time.Duration(st.SecondsToAlert)*time.Second, phase)
}
