package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/moexlab/tickerlink/internal/cli"
	"github.com/moexlab/tickerlink/internal/db"
)

func runRuns(args []string) int {
	fs := flag.NewFlagSet("runs", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 30*time.Second, "Command timeout")
	limit := fs.Int("limit", 20, "Maximum runs to list")
	batchID := fs.String("batch", "", "Show one run instead of listing")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}

	cfg, logger, ok := bootstrap(envLoader)
	if !ok {
		return 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		logger.Error().Err(err).Msg("runs command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if *batchID != "" {
		run, err := pool.GetRun(ctx, *batchID)
		if errors.Is(err, db.ErrRunNotFound) {
			fmt.Fprintf(os.Stderr, "Run %s not found\n", *batchID)
			return 1
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load run: %v\n", err)
			return 1
		}
		printRun(run)
		return 0
	}

	runs, err := pool.ListRuns(ctx, *limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list runs: %v\n", err)
		return 1
	}
	if len(runs) == 0 {
		fmt.Println("no runs recorded")
		return 0
	}
	for i := range runs {
		printRun(&runs[i])
	}
	return 0
}

func printRun(run *db.ProcessingRun) {
	metrics := db.DecodeRunMetrics(run)
	finished := "-"
	if run.FinishedAt != nil {
		finished = run.FinishedAt.Format(time.RFC3339)
	}
	fmt.Printf("%s mode=%s status=%s articles=%d chunks=%d/%d candidates=%d auto=%d errors=%d started=%s finished=%s\n",
		run.BatchID,
		run.Mode,
		run.Status,
		run.BatchSizeActual,
		run.ChunkCursor,
		run.ChunkCount,
		metrics.CandidatesGenerated,
		metrics.AutoApplied,
		metrics.Errors,
		run.StartedAt.Format(time.RFC3339),
		finished,
	)
}
