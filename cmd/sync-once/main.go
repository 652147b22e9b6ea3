// Command sync-once is a cobra CLI, grounded on stormdb's cmd/pgstorm tree,
// for operators to trigger a single change-detect or full-sync run by
// hand — the operational counterpart to the teacher's cmd/verify-db and
// cmd/restore-seed one-off tools.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"retailsync/internal/app"
	"retailsync/internal/config"
)

var rootCmd = &cobra.Command{
	Use:   "sync-once",
	Short: "Trigger a single RMS-to-commerce sync run",
	Long: `sync-once runs one iteration of the product sync engine outside the
daemon's own schedule: change-detect processes whatever has changed since
the last watermark, full-sync re-processes every in-stock item regardless
of the watermark.`,
}

var (
	fullSyncIncludeZeroStock bool
	fullSyncCategoryFilter   string
	fullSyncFamilyFilter     string
)

var changeDetectCmd = &cobra.Command{
	Use:   "change-detect",
	Short: "Run one ChangeDetector tick",
	RunE:  runChangeDetect,
}

var fullSyncCmd = &cobra.Command{
	Use:   "full-sync",
	Short: "Run one full-sync pass over all RMS items",
	RunE:  runFullSync,
}

func init() {
	rootCmd.AddCommand(changeDetectCmd)
	rootCmd.AddCommand(fullSyncCmd)

	fullSyncCmd.Flags().BoolVar(&fullSyncIncludeZeroStock, "include-zero-stock", false, "include out-of-stock rows in the full sync")
	fullSyncCmd.Flags().StringVar(&fullSyncCategoryFilter, "category", "", "restrict the full sync to one RMS categoria")
	fullSyncCmd.Flags().StringVar(&fullSyncFamilyFilter, "family", "", "restrict the full sync to one RMS familia")
}

func buildService(ctx context.Context) (*app.Service, *zap.Logger, error) {
	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return nil, nil, fmt.Errorf("build logger: %w", err)
	}

	cfg, err := config.Load()
	if err != nil {
		return nil, logger, fmt.Errorf("load configuration: %w", err)
	}

	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return nil, logger, fmt.Errorf("build service: %w", err)
	}
	return svc, logger, nil
}

func runChangeDetect(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer func() { _ = logger.Sync() }()

	outcome, stats, err := svc.RunChangeDetect(ctx)
	if err != nil {
		return fmt.Errorf("change-detect run: %w", err)
	}
	logger.Info("change-detect complete",
		zap.String("outcome", string(outcome)),
		zap.Int("processed", stats.Processed),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors),
		zap.Float64("success_ratio", stats.SuccessRatio()),
	)
	return nil
}

func runFullSync(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	svc, logger, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()
	defer func() { _ = logger.Sync() }()

	stats, err := svc.RunFullSync(ctx, fullSyncIncludeZeroStock, fullSyncCategoryFilter, fullSyncFamilyFilter)
	if err != nil {
		return fmt.Errorf("full-sync run: %w", err)
	}
	logger.Info("full-sync complete",
		zap.Int("processed", stats.Processed),
		zap.Int("created", stats.Created),
		zap.Int("updated", stats.Updated),
		zap.Int("errors", stats.Errors),
		zap.Float64("success_ratio", stats.SuccessRatio()),
	)
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
