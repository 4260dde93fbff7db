package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/penzu-sync/internal/app"
	"github.com/JakeFAU/penzu-sync/internal/config"
	"github.com/JakeFAU/penzu-sync/internal/id/uuid"
	"github.com/JakeFAU/penzu-sync/internal/logging"
	"github.com/JakeFAU/penzu-sync/internal/syncer"
)

// runSync is swapped out in tests.
var runSync = func(ctx context.Context, cfg config.Config, logger *zap.Logger) (syncer.Result, error) {
	return app.Run(ctx, cfg, logger, uuid.New())
}

func newRootCmd() *cobra.Command {
	var (
		cfgFile  string
		envFiles []string
	)

	cmd := &cobra.Command{
		Use:   "penzusync",
		Short: "Copy every Penzu journal entry into a document store.",
		Long: `penzusync pages through a Penzu journal over its OAuth1-signed REST API,
fetches the full body of every entry and upserts it into MongoDB (penzu.entries)
keyed by entry id. Re-running is safe: existing documents are updated in place.`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := config.LoadDotEnv(envFiles...); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "load env failed: %v\n", err)
				return err
			}
			cfg, err := config.Load(cfgFile)
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "load config failed: %v\n", err)
				return err
			}
			logger, err := logging.New(logging.Options{
				Development: cfg.Logging.Development,
				Level:       cfg.Logging.Level,
			})
			if err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "logger init failed: %v\n", err)
				return err
			}
			defer func() {
				_ = logger.Sync() //nolint:errcheck // stderr sync fails on some terminals
			}()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			res, err := runSync(ctx, cfg, logger)
			if err != nil {
				logger.Error("sync failed", zap.String("run_id", res.RunID), zap.Error(err))
				return err
			}
			logSummary(logger, res)
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgFile, "config", "", "optional config file (yaml, json or toml)")
	cmd.Flags().StringSliceVar(&envFiles, "env-file", nil, "dotenv files to load before reading the environment (default .env)")

	return cmd
}

func logSummary(logger *zap.Logger, res syncer.Result) {
	logger.Info("sync complete",
		zap.String("run_id", res.RunID),
		zap.Int("pages", res.Pages),
		zap.Int("listed", res.Listed),
		zap.Int("saved", res.Saved),
		zap.Int("skipped", res.Skipped),
	)
}
