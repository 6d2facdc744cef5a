package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/services"
	"github.com/cppla/livewell/utils"
)

type SweepOptions struct {
	*RootOptions
	UserID string
	TestTo string
}

func NewSweepCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &SweepOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Run one alert sweep and print the report",
		Long: `Run one alert sweep against the configured store and print the JSON report.

Without flags this is the batch sweep the scheduler runs. --user alerts one
subject's guardian regardless of whether the subject is overdue and leaves the
watermark untouched. --test-to sends the fixed connectivity message.

Example:
  livewell sweep
  livewell sweep --user user_3f9c0a1b2c4d
  livewell sweep --test-to me@example.com`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSweep(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.UserID, "user", "", "alert this subject's primary guardian only")
	cmd.Flags().StringVar(&opts.TestTo, "test-to", "", "send the connectivity check to this address")
	cmd.MarkFlagsMutuallyExclusive("user", "test-to")

	return cmd
}

func runSweep(ctx context.Context, opts *SweepOptions, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}

	claims := services.NewClaimStore(utils.GetRedis(), utils.Logger)
	if opts.TestTo != "" {
		sweeper, err := services.NewSweeperFromConfig(nil, cfg, claims, utils.Logger)
		if err != nil {
			return WrapExitError(ExitCommandError, "alert sweep is not configured", err)
		}
		report, err := sweeper.RunConnectivityCheck(ctx, opts.TestTo)
		return printReport(out, report, err)
	}

	db, err := config.OpenDatabase(cfg.DBDriver, config.BuildDSN(cfg), cfg.LogLevel)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to connect database", err)
	}
	if err := config.Migrate(db); err != nil {
		return WrapExitError(ExitCommandError, "migration failed", err)
	}
	if sqlDB, err := db.DB(); err == nil {
		defer sqlDB.Close()
	}

	sweeper, err := services.NewSweeperFromConfig(db, cfg, claims, utils.Logger)
	if err != nil {
		return WrapExitError(ExitCommandError, "alert sweep is not configured", err)
	}

	var report *services.Report
	if opts.UserID != "" {
		report, err = sweeper.RunTargeted(ctx, opts.UserID)
	} else {
		report, err = sweeper.Run(ctx)
	}
	return printReport(out, report, err)
}

func printReport(out io.Writer, report *services.Report, err error) error {
	if err != nil {
		return WrapExitError(ExitCommandError, "sweep failed", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintln(out, string(data))
	if report.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d alert(s) failed", report.Failed))
	}
	return nil
}
