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

func runHealth(args []string) int {
	fs := flag.NewFlagSet("health", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 10*time.Second, "Command timeout")
	recent := fs.Int("recent", 10, "Number of recent runs to inspect")

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
		logger.Error().Err(err).Msg("health command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	if sqlDB := pool.DB(); sqlDB != nil {
		if err := sqlDB.PingContext(ctx); err != nil {
			logger.Error().Err(err).Msg("database ping failed")
			fmt.Fprintf(os.Stderr, "Database ping failed: %v\n", err)
			return 1
		}
	}

	health, err := pool.HealthSummary(ctx, *recent)
	if err != nil {
		logger.Error().Err(err).Msg("health summary failed")
		fmt.Fprintf(os.Stderr, "Health summary failed: %v\n", err)
		return 1
	}

	logger.Info().Str("health", health).Msg("health check completed")
	fmt.Printf("database=ok pipeline=%s\n", health)
	return 0
}
