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
	"github.com/moexlab/tickerlink/internal/review"
)

func runReview(args []string) int {
	fs := flag.NewFlagSet("review", flag.ContinueOnError)
	fs.SetOutput(os.Stderr)

	envLoader := cli.AddEnvFlag(fs, ".env", "Path to the .env file")
	timeout := fs.Duration("timeout", 60*time.Second, "Command timeout")
	action := fs.String("action", "list", "Action: list, confirm, reject, restore, confirm-above, reject-below, reject-all, restore-rejected")
	candidateID := fs.Int64("id", 0, "Candidate id for confirm/reject/restore")
	operator := fs.String("operator", "", "Operator recorded on the transition")
	override := fs.Bool("override", false, "Allow rejecting an already confirmed candidate")
	threshold := fs.Float64("threshold", -1, "Score threshold for confirm-above/reject-below")
	state := fs.String("state", "", "List filter: pending, confirmed or rejected")
	batchID := fs.String("batch", "", "List filter: batch id")
	limit := fs.Int("limit", 50, "Maximum candidates to list")

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
		logger.Error().Err(err).Msg("review command failed to connect to database")
		fmt.Fprintf(os.Stderr, "Failed to connect to database: %v\n", err)
		return 1
	}
	defer pool.Close()

	workflow := review.New(pool, cfg, logger)

	switch *action {
	case "list":
		return reviewList(ctx, workflow, *state, *batchID, *limit)
	case "confirm", "reject", "restore":
		if *candidateID < 1 {
			fmt.Fprintln(os.Stderr, "--id is required")
			return 2
		}
		if *operator == "" {
			fmt.Fprintln(os.Stderr, "--operator is required")
			return 2
		}
		switch *action {
		case "confirm":
			err = workflow.Confirm(ctx, *candidateID, *operator)
		case "reject":
			err = workflow.Reject(ctx, *candidateID, *operator, *override)
		case "restore":
			err = workflow.Restore(ctx, *candidateID, *operator)
		}
		if errors.Is(err, db.ErrCandidateNotFound) {
			fmt.Fprintf(os.Stderr, "Candidate %d not found\n", *candidateID)
			return 1
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "%v\n", err)
			return 1
		}
		fmt.Printf("candidate %d %sed\n", *candidateID, *action)
		return 0
	case "confirm-above", "reject-below", "reject-all", "restore-rejected":
		if *operator == "" {
			fmt.Fprintln(os.Stderr, "--operator is required")
			return 2
		}
		var changed int64
		switch *action {
		case "confirm-above":
			if *threshold < 0 || *threshold > 1 {
				fmt.Fprintln(os.Stderr, "--threshold must be within [0, 1]")
				return 2
			}
			changed, err = workflow.ConfirmAllAbove(ctx, *threshold, *operator)
		case "reject-below":
			if *threshold < 0 || *threshold > 1 {
				fmt.Fprintln(os.Stderr, "--threshold must be within [0, 1]")
				return 2
			}
			changed, err = workflow.RejectAllBelow(ctx, *threshold, *operator)
		case "reject-all":
			changed, err = workflow.RejectAll(ctx, *operator)
		case "restore-rejected":
			changed, err = workflow.RestoreRejected(ctx, *operator)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "Bulk action failed: %v\n", err)
			return 1
		}
		fmt.Printf("%s changed=%d\n", *action, changed)
		return 0
	default:
		fmt.Fprintf(os.Stderr, "unknown action: %s\n", *action)
		return 2
	}
}

func reviewList(ctx context.Context, workflow *review.Workflow, state, batchID string, limit int) int {
	filter := db.CandidateFilter{BatchID: batchID, Limit: limit}
	switch state {
	case "":
	case "pending":
		value := db.ConfirmPending
		filter.State = &value
	case "confirmed":
		value := db.ConfirmConfirmed
		filter.State = &value
	case "rejected":
		value := db.ConfirmRejected
		filter.State = &value
	default:
		fmt.Fprintln(os.Stderr, "--state must be pending, confirmed or rejected")
		return 2
	}

	items, err := workflow.List(ctx, filter)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to list candidates: %v\n", err)
		return 1
	}
	if len(items) == 0 {
		fmt.Println("no candidates match")
		return 0
	}
	for _, item := range items {
		fmt.Printf("%d article=%d %s score=%.3f method=%s state=%d auto=%t title=%q\n",
			item.CandidateID,
			item.ArticleID,
			item.Symbol,
			item.Score,
			item.Method,
			item.Confirmed,
			item.AutoSuggest,
			item.Title,
		)
	}
	return 0
}
