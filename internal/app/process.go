package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/moexlab/tickerlink/internal/cli"
	"github.com/moexlab/tickerlink/internal/db"
	"github.com/moexlab/tickerlink/internal/embed"
	"github.com/moexlab/tickerlink/internal/pipeline"
)

func runProcess(args []string) int {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	mode := fs.String("mode", db.ModeOnlyUnprocessed, "Selection mode: only_unprocessed, recheck_all or recheck_selected_range")
	batchSize := fs.Int("batch-size", 0, "Maximum articles in this run (0 uses TL_BATCH_SIZE)")
	fromArg := fs.String("from", "", "Range lower bound, RFC3339 or YYYY-MM-DD")
	toArg := fs.String("to", "", "Range upper bound, RFC3339 or YYYY-MM-DD")
	operator := fs.String("operator", "", "Operator recorded on the run")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	from, err := parseTimeArg(*fromArg, false)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--from: %v\n", err)
		return 2
	}
	to, err := parseTimeArg(*toArg, true)
	if err != nil {
		fmt.Fprintf(os.Stderr, "--to: %v\n", err)
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}
	if *batchSize <= 0 {
		*batchSize = cfg.BatchSize
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("process command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := pipeline.New(pool, cfg, logger, embed.NewService(cfg, logger), nil)
	result, err := svc.Run(ctx, pipeline.RunOptions{
		Selection: pipeline.Selection{
			Mode:      *mode,
			BatchSize: *batchSize,
			From:      from,
			To:        to,
		},
		Operator: *operator,
	})
	if errors.Is(err, pipeline.ErrNothingToProcess) {
		fmt.Println("nothing to process")
		return 0
	}
	if err != nil {
		logger.Error().Err(err).Msg("process run failed")
		fmt.Fprintf(os.Stderr, "Run failed: %v\n", err)
		return 1
	}

	printRunResult(result)
	if result.Status == db.RunStatusFailed {
		return 1
	}
	return 0
}

func runResume(args []string) int {
	fs := flag.NewFlagSet("resume", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Minute, "Command timeout")
	batchID := fs.String("batch", "", "Batch id of the run to resume (required)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *batchID == "" {
		fmt.Fprintln(os.Stderr, "--batch is required")
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("resume command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	svc := pipeline.New(pool, cfg, logger, embed.NewService(cfg, logger), nil)
	result, err := svc.Resume(ctx, *batchID)
	if errors.Is(err, db.ErrRunNotFound) {
		fmt.Fprintf(os.Stderr, "Run %s not found\n", *batchID)
		return 1
	}
	if errors.Is(err, pipeline.ErrRunNotResumable) {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	if err != nil {
		logger.Error().Err(err).Str("batch_id", *batchID).Msg("resume failed")
		fmt.Fprintf(os.Stderr, "Resume failed: %v\n", err)
		return 1
	}

	printRunResult(result)
	if result.Status == db.RunStatusFailed {
		return 1
	}
	return 0
}

func printRunResult(result pipeline.RunResult) {
	fmt.Printf("run %s status=%s processed=%d candidates=%d auto_applied=%d skipped=%d errors=%d duration=%.1fs\n",
		result.BatchID,
		result.Status,
		result.Metrics.ProcessedArticles,
		result.Metrics.CandidatesGenerated,
		result.Metrics.AutoApplied,
		result.Metrics.SkippedDuplicates,
		result.Metrics.Errors,
		result.Metrics.DurationSeconds,
	)
}
