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
	"github.com/moexlab/tickerlink/internal/httpapi"
	"github.com/moexlab/tickerlink/internal/pipeline"
	"github.com/moexlab/tickerlink/internal/review"
)

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	host := fs.String("host", "", "Listen host (defaults to TL_HTTP_HOST)")
	port := fs.Int("port", 0, "Listen port (defaults to TL_HTTP_PORT)")

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
	if *host == "" {
		*host = cfg.HTTPHost
	}
	if *port == 0 {
		*port = cfg.HTTPPort
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	pool, err := db.NewPool(connectCtx, cfg)
	cancel()
	if err != nil {
		logger.Error().Err(err).Msg("serve command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	runner := pipeline.New(pool, cfg, logger, embed.NewService(cfg, logger), nil)
	workflow := review.New(pool, cfg, logger)

	server := httpapi.NewServer(pool, cfg, logger, runner, workflow, httpapi.Options{
		Host: *host,
		Port: *port,
	})
	if err := server.Start(ctx); err != nil {
		logger.Error().Err(err).Msg("api server failed")
		fmt.Fprintf(os.Stderr, "Server failed: %v\n", err)
		return 1
	}
	return 0
}
