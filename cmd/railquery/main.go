package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/railquery-data/internal/common/config"
	"github.com/railquery-data/internal/common/db"
	"github.com/railquery-data/internal/common/logger"
)

var (
	configPath string
	logLevel   string

	cfg      *config.Config
	log      logger.Logger
	database *db.DB
)

var rootCmd = &cobra.Command{
	Use:               "railquery",
	Short:             "Load a GTFS feed, build the rail subset and query departures",
	SilenceUsage:      true,
	PersistentPreRunE: setup,
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if database != nil {
			database.Close()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file (overrides RAILQUERY_CONFIG)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (overrides LOG_LEVEL)")

	rootCmd.AddCommand(importCmd, materializeCmd, refreshCmd, watchCmd)
	rootCmd.AddCommand(snapshotsCmd, cleanupCmd)
	rootCmd.AddCommand(departuresCmd, stationCmd, askCmd)
}

func setup(cmd *cobra.Command, args []string) error {
	// A missing .env is fine; the environment may already be set
	_ = godotenv.Load()

	if configPath != "" {
		os.Setenv("RAILQUERY_CONFIG", configPath)
	}

	var err error
	cfg, err = config.Load()
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.Logging.Level = logLevel
	}

	loggerConfig := logger.DefaultLoggerConfig()
	loggerConfig.Level = logger.ParseLogLevel(cfg.Logging.Level)
	loggerConfig.FilePath = cfg.Logging.FilePath
	loggerConfig.File = cfg.Logging.FilePath != ""
	log = logger.FromConfig(loggerConfig)

	database, err = db.New(cfg.Database.Driver, cfg.Database.DataSource(), log)
	if err != nil {
		return fmt.Errorf("connecting to database: %w", err)
	}
	return nil
}

// signalContext is cancelled on SIGINT or SIGTERM
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
