// Package cmd defines the stocksync command line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/stocksync/internal/app"
	"github.com/JakeFAU/stocksync/internal/config"
	"github.com/JakeFAU/stocksync/internal/dispatcher"
	"github.com/JakeFAU/stocksync/internal/logging"
)

type appKeyType string

const appKey appKeyType = "app"

// App is the surface the commands use. Tests swap in a fake through newApp.
type App interface {
	Config() config.Config
	Logger() *zap.Logger
	Sync(ctx context.Context, params config.SyncConfig) (dispatcher.Summary, error)
	Migrate(ctx context.Context) error
	Schedule(ctx context.Context, params config.SyncConfig) error
	Close()
}

var newApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (App, error) {
	return app.New(ctx, cfg, logger)
}

// cmdLogger is set once config is loaded; Execute falls back to a
// production logger before that.
var cmdLogger *zap.Logger

func newRootCmd() *cobra.Command {
	var cfgFile string

	cmd := &cobra.Command{
		Use:   "stocksync",
		Short: "Incrementally mirrors A-share market datasets into a relational store.",
		Long: `stocksync lists the listed companies of the Shanghai and Shenzhen exchanges,
fetches daily quotes, money flow, financial indicators, forecasts and express
reports for each of them, and upserts the rows into PostgreSQL or SQLite.
Every run only asks for periods newer than what is already stored.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			logger, err := logging.New(cfg.Logging)
			if err != nil {
				return err
			}
			cmdLogger = logger

			a, err := newApp(cmd.Context(), cfg, logger)
			if err != nil {
				return fmt.Errorf("initialize application services: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), appKey, a))
			return nil
		},

		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if a, ok := cmd.Context().Value(appKey).(App); ok && a != nil {
				a.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (yaml, json or toml)")

	cmd.AddCommand(newSyncCmd(), newMigrateCmd(), newScheduleCmd())
	return cmd
}

func resolveApp(ctx context.Context) (App, error) {
	a, ok := ctx.Value(appKey).(App)
	if !ok || a == nil {
		return nil, fmt.Errorf("application not initialized")
	}
	return a, nil
}

// Execute runs the root command until it finishes or the process is signalled.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		stop()
		logger := cmdLogger
		if logger == nil {
			logger, _ = logging.New(logging.Config{})
		}
		if logger == nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		logger.Fatal("command execution failed", zap.Error(err))
	}
}
