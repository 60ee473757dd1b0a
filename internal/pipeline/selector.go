// Package pipeline orchestrates batch runs: selecting articles, driving the
// candidate generators chunk by chunk and keeping the run ledger current.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/moexlab/tickerlink/internal/db"
)

// ErrNothingToProcess signals an empty selection. Callers treat it as a
// clean no-op, not a failure.
var ErrNothingToProcess = errors.New("no articles match the selection")

// ErrInvalidSelection marks caller mistakes in the selection parameters.
var ErrInvalidSelection = errors.New("invalid selection")

// Selection describes which articles a run should cover.
type Selection struct {
	Mode      string
	BatchSize int
	From      *time.Time
	To        *time.Time
}

func (s Selection) validate() error {
	switch s.Mode {
	case db.ModeOnlyUnprocessed, db.ModeRecheckAll:
	case db.ModeRecheckSelectedRange:
		if s.From == nil && s.To == nil {
			return fmt.Errorf("%w: mode %q requires a from or to bound", ErrInvalidSelection, s.Mode)
		}
	default:
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidSelection, s.Mode)
	}
	if s.BatchSize < 1 {
		return fmt.Errorf("%w: batch size must be >= 1, got %d", ErrInvalidSelection, s.BatchSize)
	}
	return nil
}

// selectArticleIDs freezes the article set for one run.
func selectArticleIDs(ctx context.Context, pool *db.Pool, sel Selection) ([]int64, error) {
	if err := sel.validate(); err != nil {
		return nil, err
	}
	ids, err := pool.SelectArticleIDs(ctx, db.ArticleBatchOptions{
		Mode:      sel.Mode,
		BatchSize: sel.BatchSize,
		From:      sel.From,
		To:        sel.To,
	})
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNothingToProcess
	}
	return ids, nil
}
