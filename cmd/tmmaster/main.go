// Command tmmaster runs the master control plane: it accepts sync
// requests over HTTP, plans them across registered agents, and tracks
// per-request progress.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/treemover/treemover/internal/config"
	"github.com/treemover/treemover/internal/logging"
	"github.com/treemover/treemover/internal/master"
	"github.com/treemover/treemover/internal/scheduler"
	"github.com/treemover/treemover/internal/store"
)

func main() {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "tmmaster",
		Short:         "Run the transfer master",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadMaster(cfgFile)
			if err != nil {
				return err
			}
			logger := logging.New("tmmaster", cfg.LogLevel)

			var st store.Store = store.NewMemory()
			if cfg.StorePath != "" {
				bolt, err := store.OpenBolt(cfg.StorePath)
				if err != nil {
					return err
				}
				defer bolt.Close()
				st = bolt
				logger.Info("progress store opened", "path", cfg.StorePath)
			}

			hub := master.NewHub()
			sched := scheduler.NewMaster(scheduler.DefaultRegistry(), st, logger)
			svc := master.NewService(sched, hub, logger)
			srv := master.NewServer(svc, hub, logger)

			if err := srv.Listen(cfg.ControlAddress); err != nil {
				return err
			}
			logger.Info("control plane listening", "addr", cfg.ControlAddress, "port", srv.BoundPort())

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			errCh := make(chan error, 1)
			go func() { errCh <- srv.Serve() }()

			select {
			case <-ctx.Done():
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			case err := <-errCh:
				return err
			}
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
