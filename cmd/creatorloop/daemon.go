package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fentz26/creatorloop/internal/audit"
	"github.com/fentz26/creatorloop/internal/config"
	"github.com/fentz26/creatorloop/internal/controlplane"
	"github.com/fentz26/creatorloop/internal/economy"
	"github.com/fentz26/creatorloop/internal/logging"
	"github.com/fentz26/creatorloop/internal/scheduler"
	"github.com/fentz26/creatorloop/internal/store"
)

const shutdownTimeout = 30 * time.Second

var (
	listenAddr  string
	dbPath      string
	noScheduler bool
)

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Start the creatorloop daemon",
	Long:  `Starts the daemon which serves the HTTP API and runs scheduled autorun cycles.`,
	RunE:  runDaemon,
}

func init() {
	bindDaemonFlags(daemonCmd.Flags())
}

func bindDaemonFlags(f *pflag.FlagSet) {
	f.StringVar(&listenAddr, "listen", "", "Listen address for the API server")
	f.StringVar(&dbPath, "db", "", "Path to SQLite database")
	f.BoolVar(&noScheduler, "no-scheduler", false, "Serve the API without the autorun scheduler")
}

// applyDaemonFlags lets explicit flags win over file and environment config.
func applyDaemonFlags(cmd *cobra.Command, c *config.Config) error {
	if cmd.Flags().Changed("listen") {
		c.Listen = listenAddr
	}
	if cmd.Flags().Changed("db") {
		c.DBPath = dbPath
	}
	if noScheduler {
		c.Scheduler.Enabled = false
	}
	return c.Validate()
}

func runDaemon(cmd *cobra.Command, args []string) error {
	if err := applyDaemonFlags(cmd, cfg); err != nil {
		return err
	}
	log := logging.L()
	log.Info("starting creatorloop daemon", zap.String("db", cfg.DBPath))

	st, err := store.New(cfg.DBPath)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing database connection")
		if err := st.Close(); err != nil {
			log.Error("database close", zap.Error(err))
		}
	}()

	hostname, _ := os.Hostname()
	service := controlplane.NewService(st, audit.NewRecorder(st), controlplane.Options{
		LockTTL:  cfg.LockTTL,
		HolderID: "creatorloop@" + hostname,
		OutcomeAgent: economy.OutcomeAgentOptions{
			StaleAfterHours: cfg.OutcomeAgent.StaleAfterHours,
			MaxRuns:         cfg.OutcomeAgent.MaxRuns,
		},
	})
	server := controlplane.NewServer(service, st, cfg.Listen)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Scheduler.Enabled {
		sched := scheduler.New(service, &scheduler.Config{
			PollInterval:         cfg.Scheduler.PollInterval,
			MaxConcurrentStories: cfg.Scheduler.MaxConcurrentStories,
			Mode:                 cfg.Scheduler.Mode,
			OutcomeAgent:         cfg.OutcomeAgent.Enabled,
			ApplyOutcomes:        cfg.OutcomeAgent.Apply,
		})
		sched.Start()
		defer sched.Stop()
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("daemon stopped", zap.Error(err))
		return err
	}
	log.Info("shutdown complete")
	return nil
}
