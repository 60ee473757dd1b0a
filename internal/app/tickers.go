package app

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/cli"
	"github.com/moexlab/tickerlink/internal/db"
	"github.com/moexlab/tickerlink/internal/embed"
	"github.com/moexlab/tickerlink/internal/match"
)

func runTickers(args []string) int {
	fs := flag.NewFlagSet("tickers", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 2*time.Minute, "Command timeout")
	action := fs.String("action", "import", "Action: import, list or embed")
	file := fs.String("file", "", "Path to the ticker feed JSON file (required for import)")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return 0
		}
		return 2
	}
	if *action == "import" && *file == "" {
		fmt.Fprintln(os.Stderr, "--file is required for import")
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
		logger.Error().Err(err).Msg("tickers command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	switch *action {
	case "import":
		feed, err := os.Open(*file)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open feed file: %v\n", err)
			return 1
		}
		defer feed.Close()

		result, err := catalogue.ImportFeed(ctx, pool, feed, logger)
		if err != nil {
			logger.Error().Err(err).Str("file", *file).Msg("ticker import failed")
			fmt.Fprintf(os.Stderr, "Import failed: %v\n", err)
			return 1
		}
		logger.Info().
			Str("file", *file).
			Int("total", result.Total).
			Int("imported", result.Imported).
			Int("skipped", result.Skipped).
			Msg("ticker import completed")
		fmt.Printf("tickers total=%d imported=%d skipped=%d\n", result.Total, result.Imported, result.Skipped)
		return 0

	case "list":
		cat, err := catalogue.Load(ctx, pool, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load tickers: %v\n", err)
			return 1
		}
		for _, entry := range cat.Entries() {
			vector := "no"
			if len(entry.EmbedVector) > 0 {
				vector = "yes"
			}
			fmt.Printf("%-12s %-40s aliases=%d vector=%s\n",
				entry.Symbol, entry.Name, len(entry.Aliases), vector)
		}
		fmt.Printf("%d tickers\n", cat.Len())
		return 0

	case "embed":
		embedder := embed.NewService(cfg, logger)
		if embedder == nil {
			fmt.Fprintln(os.Stderr, "Embedding API key is not configured")
			return 1
		}
		cat, err := catalogue.Load(ctx, pool, logger)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to load tickers: %v\n", err)
			return 1
		}
		gen := match.NewSemanticGenerator(embedder, pool, logger)
		if err := gen.Prepare(ctx, cat, cfg); err != nil {
			logger.Error().Err(err).Msg("ticker embedding failed")
			fmt.Fprintf(os.Stderr, "Embedding failed: %v\n", err)
			return 1
		}
		fmt.Printf("embedded vectors for %d tickers\n", cat.Len())
		return 0

	default:
		fmt.Fprintf(os.Stderr, "Unknown action %q (use import, list or embed)\n", *action)
		return 2
	}
}
