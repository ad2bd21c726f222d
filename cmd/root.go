// Package cmd implements the listings command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	infralogger "github.com/jonesrussell/north-cloud/listings/infrastructure/logger"
	"github.com/jonesrussell/north-cloud/listings/internal/bootstrap"
	"github.com/jonesrussell/north-cloud/listings/internal/config"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// debug enables debug logging for all commands.
	debug bool

	rootCmd = &cobra.Command{
		Use:   "listings",
		Short: "Real-estate listing ingestion pipeline",
		Long: `listings discovers, scrapes and unifies real-estate listings from saved
searches on listing platforms into canonical properties.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command. SIGINT and SIGTERM cancel the command context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default is ./config.yaml or ./config/config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(
		newServeCommand(),
		newRunCommand(),
		newUnifyCommand(),
		newReanalyzeCommand(),
		newControlCommand(),
		newMigrateCommand(),
		newStatusCommand(),
		newVersionCommand(),
	)
}

// loadConfig loads the configuration and the logger shared by every command.
func loadConfig() (*config.Config, infralogger.Logger, error) {
	cfg, err := bootstrap.LoadConfig(cfgFile, debug)
	if err != nil {
		return nil, nil, err
	}
	log, err := bootstrap.CreateLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// withApp builds the application, runs fn and releases it.
func withApp(ctx context.Context, fn func(app *bootstrap.App) error) error {
	cfg, log, err := loadConfig()
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(app)
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", cfg.App.Name, cfg.App.Version)
			return nil
		},
	}
}
