// Command ingest-order is a cobra CLI taking a commerce order id and
// reference number and invoking the OrderIngestPipeline — it stands in
// for the out-of-scope webhook receiver's eventual call into the same
// pipeline (spec.md §1 places "web-hook receiver framing" out of scope).
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"retailsync/internal/app"
	"retailsync/internal/config"
	"retailsync/internal/domain"
)

var rootCmd = &cobra.Command{
	Use:   "ingest-order <commerce-order-id> <reference-number>",
	Short: "Ingest one paid commerce order into RMS",
	Long: `ingest-order runs the OrderIngestPipeline (§4.13) for a single commerce
order: it fetches the order by id, validates and resolves it, and inserts
the resulting header/lines into RMS transactionally. Re-running it with
the same reference number is safe and returns Duplicate.`,
	Args: cobra.ExactArgs(2),
	RunE: runIngestOrder,
}

func runIngestOrder(cmd *cobra.Command, args []string) error {
	commerceOrderID, referenceNumber := args[0], args[1]

	_ = godotenv.Load()

	logger, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}

	ctx := cmd.Context()
	svc, err := app.New(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("build service: %w", err)
	}
	defer svc.Close()

	outcome := svc.IngestOrder(ctx, commerceOrderID, referenceNumber)
	logger.Info("order ingest complete",
		zap.String("status", string(outcome.Status)),
		zap.String("reason", outcome.Reason),
		zap.Int64("order_id", outcome.OrderID),
	)

	if outcome.Status == domain.OrderRejected {
		return fmt.Errorf("order rejected: %s", outcome.Reason)
	}
	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
