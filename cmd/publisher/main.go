// Command publisher replays a clinical dataset file onto the ingestion
// subject in concurrent batches and reports throughput.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/clinigraph/internal/config"
	"github.com/gyaneshwarpardhi/clinigraph/internal/metrics"
	"github.com/gyaneshwarpardhi/clinigraph/internal/publisher"
	"github.com/gyaneshwarpardhi/clinigraph/internal/transport"
)

var (
	cfgPath   string
	envFile   string
	dataFile  string
	batchSize int
	workers   int
	repeat    int
	pause     time.Duration
	verbose   bool
)

var rootCmd = &cobra.Command{
	Use:   "publisher",
	Short: "Publish a clinical dataset to the ingestion stream",
	Long: `Reads a dataset (JSON array or newline-delimited JSON) and publishes
every record to the configured NATS JetStream subject.

Records are split into batches; up to --workers batches are in flight at
once. With --repeat N the same dataset is published N times and a summary
table is printed at the end.`,
	SilenceUsage: true,
	RunE:         runPublish,
}

func init() {
	rootCmd.Flags().StringVar(&cfgPath, "config", "", "Path to YAML config (defaults + env when empty)")
	rootCmd.Flags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")
	rootCmd.Flags().StringVarP(&dataFile, "file", "f", "", "Dataset file (JSON array or NDJSON)")
	rootCmd.Flags().IntVar(&batchSize, "batch-size", 0, "Messages per batch (config default when 0)")
	rootCmd.Flags().IntVar(&workers, "workers", 0, "Concurrent batches (config default when 0)")
	rootCmd.Flags().IntVar(&repeat, "repeat", 1, "Publish the dataset this many times")
	rootCmd.Flags().DurationVar(&pause, "pause", 2*time.Second, "Pause between repeated runs")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "Log every batch")
	_ = rootCmd.MarkFlagRequired("file")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func runPublish(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	if err := config.LoadDotEnv(envFile); err != nil {
		return fmt.Errorf("load env file: %w", err)
	}
	loader, err := config.NewLoader(cfgPath)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	if err := config.Validate(cfg); err != nil {
		return err
	}
	if repeat < 1 {
		return fmt.Errorf("--repeat must be at least 1")
	}

	f, err := os.Open(dataFile)
	if err != nil {
		return fmt.Errorf("open dataset: %w", err)
	}
	records, err := publisher.ReadRecords(f)
	f.Close()
	if err != nil {
		return err
	}

	bs := batchSize
	if bs <= 0 {
		bs = cfg.Publisher.BatchSize
	}
	wk := workers
	if wk <= 0 {
		wk = cfg.Publisher.Workers
	}

	client, err := transport.Connect(ctx, cfg.NATS, "clinigraph-publisher", logger)
	if err != nil {
		return err
	}
	defer client.Close()
	if _, err := client.EnsureStream(ctx); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printHeader(out, cfg.NATS, dataFile, len(records), bs, wk)

	pub := publisher.New(transport.NewSink(client, cfg.NATS.Subject), cfg.Publisher, logger)
	pub.OnProgress(func(p publisher.Progress) { printProgress(out, p) })

	var runs []runResult
	for i := 1; i <= repeat; i++ {
		if i > 1 {
			select {
			case <-time.After(pause):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		st, err := pub.PublishDataset(ctx, records, bs, wk)
		if st != nil {
			printStats(out, *st)
			runs = append(runs, runResult{Name: fmt.Sprintf("run-%d", i), Stats: *st})
		}
		if err != nil {
			return err
		}
	}
	if len(runs) > 1 {
		printSummary(out, runs)
	}
	return nil
}

type runResult struct {
	Name  string
	Stats metrics.PublishStats
}
