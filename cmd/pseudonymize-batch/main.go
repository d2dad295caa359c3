package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/raaihank/llm-pseudonymizer/internal/batch"
	"github.com/raaihank/llm-pseudonymizer/internal/cache"
	"github.com/raaihank/llm-pseudonymizer/internal/config"
	"github.com/raaihank/llm-pseudonymizer/internal/extractor"
	"github.com/raaihank/llm-pseudonymizer/internal/logger"
	"github.com/raaihank/llm-pseudonymizer/internal/service"
)

type options struct {
	configPath string
	input      string
	output     string
	backend    string
	batchSize  int
	workers    int
	failFast   bool
	noCache    bool
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "pseudonymize-batch --input dataset.csv [--output result.jsonl]",
		Short: "Pseudonymize every record of a CSV, JSON lines or Parquet dataset",
		Example: "  pseudonymize-batch --input dataset.csv --workers 8\n" +
			"  pseudonymize-batch --input dataset.parquet --backend rules --output out.jsonl",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cmd, opts)
		},
	}

	flags := cmd.Flags()
	flags.StringVar(&opts.configPath, "config", "", "Configuration file path")
	flags.StringVarP(&opts.input, "input", "i", "", "Input dataset file (CSV, Parquet or JSON lines)")
	flags.StringVarP(&opts.output, "output", "o", "-", "Output JSON lines file, - for stdout")
	flags.StringVar(&opts.backend, "backend", "", "Override the extractor backend (ollama or rules)")
	flags.IntVar(&opts.batchSize, "batch-size", 0, "Records per batch (default from config)")
	flags.IntVar(&opts.workers, "workers", 0, "Number of worker goroutines (default from config)")
	flags.BoolVar(&opts.failFast, "fail-fast", false, "Stop at the first failed record")
	flags.BoolVar(&opts.noCache, "no-cache", false, "Do not use the Redis entity cache")
	_ = cmd.MarkFlagRequired("input")

	return cmd
}

func run(ctx context.Context, cmd *cobra.Command, opts *options) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if opts.backend != "" {
		cfg.Extractor.Backend = opts.backend
	}
	if opts.batchSize > 0 {
		cfg.Batch.BatchSize = opts.batchSize
	}
	if opts.workers > 0 {
		cfg.Batch.WorkerCount = opts.workers
	}
	if cmd.Flags().Changed("fail-fast") {
		cfg.Batch.FailFast = opts.failFast
	}

	// stdout may carry the results, so logs always go to stderr.
	log, err := logger.New(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: "stderr",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var entityCache extractor.Cache
	if cfg.Cache.Enabled && !opts.noCache {
		ec, err := cache.NewEntityCache(&cache.Config{
			RedisURL:       cfg.Cache.RedisURL,
			MaxConnections: cfg.Cache.MaxConnections,
			MinIdleConns:   cfg.Cache.MinIdleConns,
			DefaultTTL:     cfg.Cache.DefaultTTL,
			KeyPrefix:      cfg.Cache.KeyPrefix,
		}, log.WithComponent("cache").Logger)
		if err != nil {
			log.Warn("Entity cache unavailable, continuing without it", zap.Error(err))
		} else {
			defer ec.Close()
			entityCache = ec
		}
	}

	ext, err := extractor.New(cfg.Extractor, entityCache, log.WithComponent("extractor"))
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	svc := service.New(ext, log.WithComponent("service"))

	out, closeOut, err := openOutput(opts.output)
	if err != nil {
		return err
	}
	defer closeOut()

	pipeline := batch.NewPipeline(svc, cfg.Batch, log.WithComponent("batch").Logger)
	result, err := pipeline.ProcessFile(ctx, opts.input, out)
	if result != nil {
		printSummary(cmd.ErrOrStderr(), result)
	}
	if err != nil {
		return fmt.Errorf("batch processing failed: %w", err)
	}
	return nil
}

func openOutput(path string) (io.Writer, func(), error) {
	if path == "" || path == "-" {
		return os.Stdout, func() {}, nil
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create output file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

func printSummary(w io.Writer, result *batch.ProcessingResult) {
	summary, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		fmt.Fprintf(w, "processed %d records (%d ok, %d failed, %d invalid)\n",
			result.TotalRecords, result.ProcessedOK, result.ProcessedFailed, result.Invalid)
		return
	}
	fmt.Fprintln(w, string(summary))
}
