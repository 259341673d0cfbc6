package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/rustyeddy/riskledger/internal/api"
	"github.com/rustyeddy/riskledger/internal/app"
	"github.com/rustyeddy/riskledger/internal/scheduler"
	"github.com/rustyeddy/riskledger/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API and run the snapshot scheduler",
	Long: `Start the HTTP API (leaderboard, ledger reads, risk guidance and cycle
submission) together with the end-of-day snapshot job.

Example:
  riskledger serve -c riskledger.yaml`,
	RunE: runServe,
}

var serveNoScheduler bool

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveNoScheduler, "no-scheduler", false, "disable the snapshot cron job")
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return err
	}
	defer log.Sync()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.HTTP.Mode != "" {
		gin.SetMode(cfg.HTTP.Mode)
	}
	srv := api.NewServer(a.Coordinator,
		api.WithLogger(log),
		api.WithVersion(version),
		api.WithMarketData(a.Data, a.Data, a.ContextSpec(nil)),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Serve(gctx, cfg.HTTP.Addr) })

	if !serveNoScheduler && cfg.Scheduler.SnapshotCron != "" {
		sched, err := scheduler.New(cfg.Scheduler.SnapshotCron, a.Coordinator, log)
		if err != nil {
			return err
		}
		g.Go(func() error {
			sched.Start(gctx)
			return nil
		})
	}

	log.Info("riskledger serving",
		logger.StringField("addr", cfg.HTTP.Addr),
		logger.StringField("snapshot_cron", cfg.Scheduler.SnapshotCron))
	return g.Wait()
}
