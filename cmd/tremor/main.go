package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"tremor/internal/config"
	"tremor/internal/logger"
	"tremor/pkg/logging"
)

var configFile string

func main() {
	rootCmd := &cobra.Command{
		Use:   "tremor",
		Short: "Earthquake event routing and push delivery daemon",
		Long:  "tremor ingests event notifications from upstream monitoring sources and pushes per-group alerts to a chat platform",
		RunE:  serveCmd().RunE,
	}

	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (required)")

	rootCmd.AddCommand(serveCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the routing daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			earlyLog := logging.NewEarlyLog()

			if configFile == "" {
				configFile = os.Getenv("CONFIG_FILE")
				if configFile == "" {
					earlyLog.Error("Config file is required. Use --config flag or CONFIG_FILE environment variable")
					return fmt.Errorf("config file is required")
				}
			}

			cfg, err := config.Load(configFile)
			if err != nil {
				earlyLog.Error("Failed to load config: %v", err)
				return err
			}

			log, err := logger.New(cfg.Logging.Level)
			if err != nil {
				earlyLog.Error("Failed to init logger: %v", err)
				return err
			}
			defer log.Sync()

			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			log.Infow("Starting tremor")

			app := NewApp(cfg, configFile, log)
			if err := app.Initialize(ctx); err != nil {
				log.Fatalf("Failed to initialize application: %v", err)
			}

			log.Infow("Daemon running")
			if err := app.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("Daemon stopped with error", "error", err)
				return err
			}
			log.Infow("Shutdown complete")
			return nil
		},
	}
}
