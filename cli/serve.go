package cli

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cppla/livewell/config"
	"github.com/cppla/livewell/routes"
	"github.com/cppla/livewell/services"
	"github.com/cppla/livewell/utils"
)

func NewServeCommand(_ *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync and alert-check HTTP server",
		Long: `Run the HTTP server (POST /sync, GET /alert-check, /api/*).

When SWEEP_INTERVAL is set the server also sweeps for overdue subjects on that
interval. SIGINT/SIGTERM drain connections before exiting; SIGUSR2 restarts
the process without dropping the listener.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd)
		},
	}
}

func runServe(cmd *cobra.Command) error {
	cfg := config.Load()
	if err := utils.InitLogger(cfg); err != nil {
		return WrapExitError(ExitCommandError, "failed to initialize logger", err)
	}

	db := config.InitDatabase()

	claims := services.NewClaimStore(utils.GetRedis(), utils.Logger)
	sweeper, sweeperErr := services.NewSweeperFromConfig(db, cfg, claims, utils.Logger)
	if sweeperErr != nil {
		utils.Logger.Warn("alert sweep disabled", zap.Error(sweeperErr))
	}

	r := routes.SetupRouter(db, sweeper, sweeperErr)

	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	schedulerDone := make(<-chan struct{})
	if sweeper != nil {
		schedulerDone = services.StartScheduler(ctx, sweeper, cfg.SweepInterval, utils.Logger)
	}
	stopScheduler := func() {
		cancel()
		if sweeper != nil {
			<-schedulerDone
		}
	}

	utils.Sugar.Infof("Starting server on port %s (graceful)", cfg.AppPort)
	if err := utils.GraceServer(":"+cfg.AppPort, r, stopScheduler); err != nil {
		return WrapExitError(ExitFailure, "server stopped with error", err)
	}
	return nil
}
