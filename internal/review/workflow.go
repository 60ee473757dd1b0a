// Package review implements the manual confirmation workflow over stored
// candidates.
package review

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/db"
)

var ErrIllegalTransition = errors.New("illegal confirmation transition")

// Workflow enforces which confirmation transitions an operator may perform.
// Every applied transition appends a history entry on the candidate row.
type Workflow struct {
	pool   *db.Pool
	cfg    *config.Config
	logger zerolog.Logger
}

func New(pool *db.Pool, cfg *config.Config, logger zerolog.Logger) *Workflow {
	return &Workflow{pool: pool, cfg: cfg, logger: logger}
}

// Confirm moves a pending candidate to confirmed.
func (w *Workflow) Confirm(ctx context.Context, candidateID int64, operator string) error {
	return w.transition(ctx, candidateID, db.ConfirmConfirmed, operator, false)
}

// Reject moves a candidate to rejected. Rejecting an already confirmed
// candidate requires the override flag.
func (w *Workflow) Reject(ctx context.Context, candidateID int64, operator string, override bool) error {
	return w.transition(ctx, candidateID, db.ConfirmRejected, operator, override)
}

// Restore returns a rejected candidate to pending so it can be re-reviewed.
func (w *Workflow) Restore(ctx context.Context, candidateID int64, operator string) error {
	return w.transition(ctx, candidateID, db.ConfirmPending, operator, false)
}

func (w *Workflow) transition(ctx context.Context, candidateID int64, newState int, operator string, override bool) error {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return fmt.Errorf("operator is required")
	}

	row, err := w.pool.GetCandidate(ctx, candidateID)
	if err != nil {
		return err
	}
	if err := checkTransition(row.Confirmed, newState, override); err != nil {
		return fmt.Errorf("candidate %d: %w", candidateID, err)
	}

	if err := w.pool.SetConfirmation(ctx, candidateID, newState, operator, w.cfg.HistoryKeepMax); err != nil {
		return err
	}
	w.logger.Info().
		Int64("candidate_id", candidateID).
		Int("from", row.Confirmed).
		Int("to", newState).
		Str("operator", operator).
		Msg("candidate state changed")
	return nil
}

// checkTransition encodes the legal state machine. Same-state transitions
// and silent un-confirmation are refused; un-rejecting goes through pending.
func checkTransition(from, to int, override bool) error {
	if from == to {
		return fmt.Errorf("%w: candidate is already in state %d", ErrIllegalTransition, to)
	}
	switch {
	case from == db.ConfirmPending:
		return nil
	case from == db.ConfirmRejected && to == db.ConfirmPending:
		return nil
	case from == db.ConfirmRejected && to == db.ConfirmConfirmed:
		return fmt.Errorf("%w: restore the rejected candidate to pending before confirming", ErrIllegalTransition)
	case from == db.ConfirmConfirmed && to == db.ConfirmRejected:
		if override {
			return nil
		}
		return fmt.Errorf("%w: rejecting a confirmed candidate requires override", ErrIllegalTransition)
	case from == db.ConfirmConfirmed && to == db.ConfirmPending:
		return fmt.Errorf("%w: confirmed candidates cannot be reopened", ErrIllegalTransition)
	}
	return fmt.Errorf("%w: %d -> %d", ErrIllegalTransition, from, to)
}

// ConfirmAllAbove confirms every pending candidate scoring at or above the
// threshold and returns how many rows changed.
func (w *Workflow) ConfirmAllAbove(ctx context.Context, threshold float64, operator string) (int64, error) {
	return w.bulk(ctx, db.ConfirmPending, db.ConfirmConfirmed, ">=", &threshold, operator)
}

// RejectAllBelow rejects every pending candidate scoring below the threshold.
func (w *Workflow) RejectAllBelow(ctx context.Context, threshold float64, operator string) (int64, error) {
	return w.bulk(ctx, db.ConfirmPending, db.ConfirmRejected, "<", &threshold, operator)
}

// RejectAll rejects every pending candidate regardless of score.
func (w *Workflow) RejectAll(ctx context.Context, operator string) (int64, error) {
	return w.bulk(ctx, db.ConfirmPending, db.ConfirmRejected, "", nil, operator)
}

// RestoreRejected returns every rejected candidate to pending.
func (w *Workflow) RestoreRejected(ctx context.Context, operator string) (int64, error) {
	return w.bulk(ctx, db.ConfirmRejected, db.ConfirmPending, "", nil, operator)
}

func (w *Workflow) bulk(ctx context.Context, fromState, newState int, scoreOp string, threshold *float64, operator string) (int64, error) {
	operator = strings.TrimSpace(operator)
	if operator == "" {
		return 0, fmt.Errorf("operator is required")
	}
	changed, err := w.pool.BulkSetConfirmation(ctx, fromState, newState, scoreOp, threshold, operator, w.cfg.HistoryKeepMax)
	if err != nil {
		return 0, err
	}
	w.logger.Info().
		Int("from", fromState).
		Int("to", newState).
		Int64("changed", changed).
		Str("operator", operator).
		Msg("bulk candidate state change")
	return changed, nil
}

// List returns candidates matching the filter for review screens.
func (w *Workflow) List(ctx context.Context, filter db.CandidateFilter) ([]db.CandidateView, error) {
	return w.pool.FetchCandidates(ctx, filter)
}

// Delete removes candidates outright, for cleaning up bad imports.
func (w *Workflow) Delete(ctx context.Context, ids []int64) (int64, error) {
	return w.pool.DeleteCandidates(ctx, ids)
}
