// Command tmagent runs a transfer agent: it registers with the master
// and either serves chunk receivers (destination role) or executes
// assignment batches (source role).
package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/treemover/treemover/internal/agent"
	"github.com/treemover/treemover/internal/config"
	"github.com/treemover/treemover/internal/logging"
)

func main() {
	var cfgFile string

	cmd := &cobra.Command{
		Use:           "tmagent",
		Short:         "Run a transfer agent",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadAgent(cfgFile)
			if err != nil {
				return err
			}
			logger := logging.New("tmagent", cfg.LogLevel)

			worker, err := agent.NewWorker(agent.Config{
				AgentID:     cfg.AgentID,
				Role:        cfg.Role,
				MasterURL:   cfg.MasterURL,
				BindAddress: cfg.BindAddress,
				DataAddress: cfg.DataAddress,
				DataPort:    cfg.DataPort,
				DestRoot:    cfg.DestRoot,
				Parallelism: cfg.Parallelism,
			}, logger)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			logger.Info("agent starting", "agent_id", cfg.AgentID, "role", cfg.Role, "master", cfg.MasterURL)
			err = worker.Run(ctx)
			if errors.Is(err, ctx.Err()) {
				return nil
			}
			return err
		},
	}
	cmd.Flags().StringVar(&cfgFile, "config", "", "path to config file")

	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}
