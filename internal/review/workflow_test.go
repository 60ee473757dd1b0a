package review

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/db"
)

func newWorkflow(t *testing.T) (*Workflow, *db.Pool) {
	t.Helper()
	pool, err := db.NewPoolWithDialector(context.Background(), sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open test pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })

	cfg := &config.Config{HistoryKeepMax: 10}
	return New(pool, cfg, zerolog.Nop()), pool
}

// seedCandidate inserts one pending candidate and returns its id.
func seedCandidate(t *testing.T, pool *db.Pool, articleID, tickerID int64, score float64) int64 {
	t.Helper()
	result, err := pool.UpsertCandidate(context.Background(), db.CandidateUpsert{
		ArticleID: articleID,
		TickerID:  tickerID,
		Score:     score,
		Method:    "substring",
		BatchID:   "batch-review",
	}, db.UpsertOptions{AutoApplyThreshold: 0.85, AutoApplyEnabled: false, HistoryKeepMax: 10})
	if err != nil {
		t.Fatalf("seed candidate: %v", err)
	}
	return result.CandidateID
}

func candidateState(t *testing.T, pool *db.Pool, id int64) *db.Candidate {
	t.Helper()
	row, err := pool.GetCandidate(context.Background(), id)
	if err != nil {
		t.Fatalf("get candidate %d: %v", id, err)
	}
	return row
}

func TestConfirmAndRejectFromPending(t *testing.T) {
	t.Parallel()

	wf, pool := newWorkflow(t)
	ctx := context.Background()

	confirmID := seedCandidate(t, pool, 1, 1, 0.70)
	rejectID := seedCandidate(t, pool, 1, 2, 0.70)

	if err := wf.Confirm(ctx, confirmID, "alice"); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}
	row := candidateState(t, pool, confirmID)
	if row.Confirmed != db.ConfirmConfirmed || row.ConfirmedBy == nil || *row.ConfirmedBy != "alice" {
		t.Fatalf("confirmation not recorded: %+v", row)
	}
	if row.ConfirmedAt == nil {
		t.Fatal("confirmed_at not set")
	}

	if err := wf.Reject(ctx, rejectID, "alice", false); err != nil {
		t.Fatalf("reject from pending must not need override: %v", err)
	}
	if got := candidateState(t, pool, rejectID); got.Confirmed != db.ConfirmRejected {
		t.Fatalf("expected rejected, got %d", got.Confirmed)
	}
}

func TestTransitionRules(t *testing.T) {
	t.Parallel()

	wf, pool := newWorkflow(t)
	ctx := context.Background()

	id := seedCandidate(t, pool, 2, 1, 0.70)
	if err := wf.Confirm(ctx, id, "alice"); err != nil {
		t.Fatalf("confirm failed: %v", err)
	}

	// Confirmed candidates stay put without an override.
	if err := wf.Reject(ctx, id, "bob", false); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("expected ErrIllegalTransition, got %v", err)
	}
	if err := wf.Restore(ctx, id, "bob"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("confirmed -> pending must be refused, got %v", err)
	}
	if err := wf.Confirm(ctx, id, "bob"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("same-state transition must be refused, got %v", err)
	}

	// Override unlocks the rejection.
	if err := wf.Reject(ctx, id, "bob", true); err != nil {
		t.Fatalf("override reject failed: %v", err)
	}
	if got := candidateState(t, pool, id); got.Confirmed != db.ConfirmRejected {
		t.Fatalf("expected rejected, got %d", got.Confirmed)
	}

	// Rejected cannot jump straight to confirmed.
	if err := wf.Confirm(ctx, id, "bob"); !errors.Is(err, ErrIllegalTransition) {
		t.Fatalf("rejected -> confirmed must go through pending, got %v", err)
	}

	// Restore, then confirm again.
	if err := wf.Restore(ctx, id, "bob"); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	row := candidateState(t, pool, id)
	if row.Confirmed != db.ConfirmPending {
		t.Fatalf("expected pending after restore, got %d", row.Confirmed)
	}
	if row.ConfirmedBy != nil || row.ConfirmedAt != nil {
		t.Fatalf("restore must clear the confirmation marks: %+v", row)
	}
	if err := wf.Confirm(ctx, id, "carol"); err != nil {
		t.Fatalf("confirm after restore failed: %v", err)
	}
}

func TestTransitionRequiresOperator(t *testing.T) {
	t.Parallel()

	wf, pool := newWorkflow(t)
	id := seedCandidate(t, pool, 3, 1, 0.70)

	if err := wf.Confirm(context.Background(), id, "  "); err == nil {
		t.Fatal("blank operator must be refused")
	}
	if _, err := wf.RejectAll(context.Background(), ""); err == nil {
		t.Fatal("bulk actions need an operator too")
	}
}

func TestTransitionMissingCandidate(t *testing.T) {
	t.Parallel()

	wf, _ := newWorkflow(t)
	if err := wf.Confirm(context.Background(), 12345, "alice"); !errors.Is(err, db.ErrCandidateNotFound) {
		t.Fatalf("expected ErrCandidateNotFound, got %v", err)
	}
}

func TestBulkActions(t *testing.T) {
	t.Parallel()

	wf, pool := newWorkflow(t)
	ctx := context.Background()

	high := seedCandidate(t, pool, 4, 1, 0.92)
	mid := seedCandidate(t, pool, 4, 2, 0.75)
	low := seedCandidate(t, pool, 4, 3, 0.40)

	changed, err := wf.ConfirmAllAbove(ctx, 0.90, "alice")
	if err != nil {
		t.Fatalf("confirm-above failed: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 confirmed, got %d", changed)
	}

	changed, err = wf.RejectAllBelow(ctx, 0.60, "alice")
	if err != nil {
		t.Fatalf("reject-below failed: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 rejected, got %d", changed)
	}

	if got := candidateState(t, pool, high); got.Confirmed != db.ConfirmConfirmed {
		t.Fatalf("high scorer should be confirmed, got %d", got.Confirmed)
	}
	if got := candidateState(t, pool, mid); got.Confirmed != db.ConfirmPending {
		t.Fatalf("mid scorer should stay pending, got %d", got.Confirmed)
	}
	if got := candidateState(t, pool, low); got.Confirmed != db.ConfirmRejected {
		t.Fatalf("low scorer should be rejected, got %d", got.Confirmed)
	}

	// RestoreRejected only touches rejected rows.
	changed, err = wf.RestoreRejected(ctx, "alice")
	if err != nil {
		t.Fatalf("restore-rejected failed: %v", err)
	}
	if changed != 1 {
		t.Fatalf("expected 1 restored, got %d", changed)
	}
	if got := candidateState(t, pool, low); got.Confirmed != db.ConfirmPending {
		t.Fatalf("restored row should be pending, got %d", got.Confirmed)
	}

	// RejectAll clears the remaining pending rows.
	changed, err = wf.RejectAll(ctx, "alice")
	if err != nil {
		t.Fatalf("reject-all failed: %v", err)
	}
	if changed != 2 {
		t.Fatalf("expected 2 rejected, got %d", changed)
	}
}

func TestListAndDelete(t *testing.T) {
	t.Parallel()

	wf, pool := newWorkflow(t)
	ctx := context.Background()

	a := seedCandidate(t, pool, 5, 1, 0.80)
	b := seedCandidate(t, pool, 5, 2, 0.65)

	rows, err := wf.List(ctx, db.CandidateFilter{PendingOnly: true})
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 pending candidates, got %d", len(rows))
	}

	deleted, err := wf.Delete(ctx, []int64{a})
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted, got %d", deleted)
	}
	if _, err := pool.GetCandidate(ctx, a); !errors.Is(err, db.ErrCandidateNotFound) {
		t.Fatalf("deleted candidate still readable: %v", err)
	}
	if _, err := pool.GetCandidate(ctx, b); err != nil {
		t.Fatalf("sibling candidate should survive: %v", err)
	}
}
