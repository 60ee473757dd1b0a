// Package app implements the tickerlink command line interface.
package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/cli"
	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/logging"
)

// Run executes the CLI command and returns a process exit code.
func Run(args []string) int {
	if len(args) == 0 {
		printUsage()
		return 2
	}

	switch strings.ToLower(strings.TrimSpace(args[0])) {
	case "help", "--help", "-h":
		printUsage()
		return 0
	case "health":
		return runHealth(args[1:])
	case "tickers":
		return runTickers(args[1:])
	case "process", "run-once":
		return runProcess(args[1:])
	case "resume":
		return runResume(args[1:])
	case "runs":
		return runRuns(args[1:])
	case "review":
		return runReview(args[1:])
	case "serve":
		return runServe(args[1:])
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n\n", args[0])
		printUsage()
		return 2
	}
}

func printUsage() {
	fmt.Fprintln(os.Stderr, "tickerlink CLI")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, "  tickerlink <command> [flags]")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Commands:")
	fmt.Fprintln(os.Stderr, "  health   Verify database connectivity and pipeline health")
	fmt.Fprintln(os.Stderr, "  tickers  Import, list or embed the ticker catalogue")
	fmt.Fprintln(os.Stderr, "  process  Run one candidate generation batch")
	fmt.Fprintln(os.Stderr, "  resume   Continue an interrupted run from its last committed chunk")
	fmt.Fprintln(os.Stderr, "  runs     List recent runs or show one run")
	fmt.Fprintln(os.Stderr, "  review   Confirm, reject or restore candidates")
	fmt.Fprintln(os.Stderr, "  serve    Start the review API server")
	fmt.Fprintln(os.Stderr, "")
	fmt.Fprintln(os.Stderr, "Use \"tickerlink <command> -h\" for command-specific flags.")
}

// bootstrap loads the env file, the configuration and the logger shared by
// every command.
func bootstrap(envLoader *cli.EnvLoader) (*config.Config, zerolog.Logger, bool) {
	if envLoader != nil {
		if _, err := envLoader.Load(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", err)
		}
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		return nil, zerolog.Logger{}, false
	}

	logger, err := logging.New(cfg.Environment, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		return nil, zerolog.Logger{}, false
	}
	return cfg, logger, true
}

func parseTimeArg(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if parsed, err := time.Parse(time.RFC3339, raw); err == nil {
		utc := parsed.UTC()
		return &utc, nil
	}
	parsed, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("%q is not RFC3339 or YYYY-MM-DD", raw)
	}
	utc := parsed.UTC()
	if endOfDay {
		utc = utc.Add(24*time.Hour - time.Nanosecond)
	}
	return &utc, nil
}
