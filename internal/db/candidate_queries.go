package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

var ErrCandidateNotFound = errors.New("candidate not found")

// Upsert outcome reasons.
const (
	ReasonInserted         = "inserted"
	ReasonScoreImproved    = "score_improved"
	ReasonScoreNotImproved = "score_not_improved"
	ReasonConfirmedLocked  = "confirmed_locked"
	ReasonRejectedKept     = "rejected_kept"
	ReasonReevaluated      = "reevaluated"
)

// UpsertOptions carries the configuration slice the repository needs.
type UpsertOptions struct {
	AutoApplyThreshold      float64
	AutoApplyEnabled        bool
	AllowConfirmedOverwrite bool
	HistoryKeepMax          int
}

// CandidateUpsert is one scored (article, ticker) link produced by a run.
type CandidateUpsert struct {
	ArticleID int64
	TickerID  int64
	Score     float64
	Method    string
	BatchID   string
	Metadata  json.RawMessage
}

// UpsertResult reports what the idempotent upsert decided.
type UpsertResult struct {
	CandidateID   int64
	ExistingScore float64
	NewScore      float64
	Applied       bool
	AutoConfirmed bool
	Reason        string
}

// UpsertCandidate enforces the one-row-per-(article,ticker) invariant.
// Reprocessing an article updates the existing row; a score never regresses
// and confirmed/rejected state survives unless re-evaluation is permitted.
func (p *Pool) UpsertCandidate(ctx context.Context, c CandidateUpsert, opts UpsertOptions) (UpsertResult, error) {
	if p == nil || p.gdb == nil {
		return UpsertResult{}, fmt.Errorf("database pool is not initialized")
	}

	var result UpsertResult
	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Candidate
		err := tx.Where("article_id = ? AND ticker_id = ?", c.ArticleID, c.TickerID).First(&existing).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			inserted, insErr := insertCandidate(tx, c, opts)
			if insErr != nil {
				return insErr
			}
			result = inserted
			return nil
		case err != nil:
			return fmt.Errorf("look up candidate: %w", err)
		}

		updated, updErr := updateCandidate(tx, &existing, c, opts)
		if updErr != nil {
			return updErr
		}
		result = updated
		return nil
	})
	if err != nil {
		return UpsertResult{}, err
	}
	return result, nil
}

func insertCandidate(tx *gorm.DB, c CandidateUpsert, opts UpsertOptions) (UpsertResult, error) {
	now := globaltime.UTC()
	autoSuggest := c.Score >= opts.AutoApplyThreshold
	autoConfirm := autoSuggest && opts.AutoApplyEnabled

	history := []HistoryEntry{{
		Event:    ReasonInserted,
		NewScore: &c.Score,
		Method:   c.Method,
		BatchID:  c.BatchID,
		At:       now.Format(time.RFC3339),
	}}

	row := Candidate{
		ArticleID:   c.ArticleID,
		TickerID:    c.TickerID,
		Score:       c.Score,
		Method:      c.Method,
		Confirmed:   ConfirmPending,
		BatchID:     c.BatchID,
		AutoSuggest: autoSuggest,
		Metadata:    c.Metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if autoConfirm {
		operator := SystemOperator
		state := ConfirmConfirmed
		prev := ConfirmPending
		row.Confirmed = state
		row.ConfirmedBy = &operator
		row.ConfirmedAt = &now
		history = append(history, HistoryEntry{
			Event:     "auto_confirmed",
			PrevState: &prev,
			NewState:  &state,
			Operator:  operator,
			BatchID:   c.BatchID,
			At:        now.Format(time.RFC3339),
		})
	}

	encoded, err := encodeHistory(history, opts.HistoryKeepMax)
	if err != nil {
		return UpsertResult{}, err
	}
	row.History = encoded

	if err := tx.Create(&row).Error; err != nil {
		return UpsertResult{}, fmt.Errorf("insert candidate: %w", err)
	}
	return UpsertResult{
		CandidateID:   row.CandidateID,
		NewScore:      c.Score,
		Applied:       true,
		AutoConfirmed: autoConfirm,
		Reason:        ReasonInserted,
	}, nil
}

func updateCandidate(tx *gorm.DB, existing *Candidate, c CandidateUpsert, opts UpsertOptions) (UpsertResult, error) {
	now := globaltime.UTC()
	history := decodeHistory(existing.History)

	result := UpsertResult{
		CandidateID:   existing.CandidateID,
		ExistingScore: existing.Score,
		NewScore:      c.Score,
	}

	appendReprocess := func(event string) {
		history = append(history, HistoryEntry{
			Event:     event,
			PrevScore: &existing.Score,
			NewScore:  &c.Score,
			Method:    c.Method,
			BatchID:   c.BatchID,
			At:        now.Format(time.RFC3339),
		})
	}

	updates := map[string]any{"updated_at": now}

	switch existing.Confirmed {
	case ConfirmConfirmed:
		if !opts.AllowConfirmedOverwrite {
			// Validated rows keep their state; the reprocessing event is
			// still recorded for audit.
			appendReprocess("reprocessed")
			if c.Score > existing.Score {
				updates["score"] = c.Score
				updates["method"] = c.Method
				updates["batch_id"] = c.BatchID
			}
			result.Reason = ReasonConfirmedLocked
			break
		}
		// Re-evaluation explicitly permitted: the row returns to pending.
		prev := ConfirmConfirmed
		next := ConfirmPending
		appendReprocess(ReasonReevaluated)
		history = append(history, HistoryEntry{
			Event:     ReasonReevaluated,
			PrevState: &prev,
			NewState:  &next,
			Operator:  SystemOperator,
			BatchID:   c.BatchID,
			At:        now.Format(time.RFC3339),
		})
		updates["score"] = c.Score
		updates["method"] = c.Method
		updates["batch_id"] = c.BatchID
		updates["confirmed"] = ConfirmPending
		updates["confirmed_by"] = nil
		updates["confirmed_at"] = nil
		result.Applied = true
		result.Reason = ReasonReevaluated

	case ConfirmRejected:
		appendReprocess("reprocessed")
		if c.Score > existing.Score {
			updates["score"] = c.Score
			updates["method"] = c.Method
			updates["batch_id"] = c.BatchID
		}
		result.Reason = ReasonRejectedKept

	default: // pending
		if c.Score <= existing.Score {
			// Score stays put but the reprocessing is still audited.
			appendReprocess(ReasonScoreNotImproved)
			result.Reason = ReasonScoreNotImproved
			break
		}
		appendReprocess(ReasonScoreImproved)
		updates["score"] = c.Score
		updates["method"] = c.Method
		updates["batch_id"] = c.BatchID
		updates["auto_suggest"] = c.Score >= opts.AutoApplyThreshold
		if len(c.Metadata) > 0 {
			updates["metadata"] = c.Metadata
		}
		result.Applied = true
		result.Reason = ReasonScoreImproved

		if opts.AutoApplyEnabled && c.Score >= opts.AutoApplyThreshold {
			prev := ConfirmPending
			next := ConfirmConfirmed
			operator := SystemOperator
			history = append(history, HistoryEntry{
				Event:     "auto_confirmed",
				PrevState: &prev,
				NewState:  &next,
				Operator:  operator,
				BatchID:   c.BatchID,
				At:        now.Format(time.RFC3339),
			})
			updates["confirmed"] = ConfirmConfirmed
			updates["confirmed_by"] = operator
			updates["confirmed_at"] = now
			result.AutoConfirmed = true
		}
	}

	encoded, err := encodeHistory(history, opts.HistoryKeepMax)
	if err != nil {
		return UpsertResult{}, err
	}
	updates["history"] = encoded

	if err := tx.Model(&Candidate{}).Where("candidate_id = ?", existing.CandidateID).Updates(updates).Error; err != nil {
		return UpsertResult{}, fmt.Errorf("update candidate: %w", err)
	}
	return result, nil
}

// CandidateFilter narrows candidate listing queries.
type CandidateFilter struct {
	PendingOnly bool
	State       *int
	MinScore    *float64
	BatchID     string
	From        *time.Time
	To          *time.Time
	Limit       int
}

// CandidateView joins the review-relevant ticker and article fields.
type CandidateView struct {
	CandidateID int64      `json:"candidate_id"`
	ArticleID   int64      `json:"article_id"`
	TickerID    int64      `json:"ticker_id"`
	Symbol      string     `json:"symbol"`
	TickerName  string     `json:"ticker_name"`
	Title       string     `json:"title"`
	PublishedAt *time.Time `json:"published_at,omitempty"`
	Score       float64    `json:"score"`
	Method      string     `json:"method"`
	Confirmed   int        `json:"confirmed"`
	ConfirmedBy *string    `json:"confirmed_by,omitempty"`
	ConfirmedAt *time.Time `json:"confirmed_at,omitempty"`
	BatchID     string     `json:"batch_id"`
	AutoSuggest bool       `json:"auto_suggest"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

// FetchCandidates lists candidates ordered by score, strongest first.
func (p *Pool) FetchCandidates(ctx context.Context, filter CandidateFilter) ([]CandidateView, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 200
	}

	where := "WHERE 1 = 1"
	args := []any{}
	if filter.PendingOnly {
		where += " AND c.confirmed = ?"
		args = append(args, ConfirmPending)
	} else if filter.State != nil {
		where += " AND c.confirmed = ?"
		args = append(args, *filter.State)
	}
	if filter.MinScore != nil {
		where += " AND c.score >= ?"
		args = append(args, *filter.MinScore)
	}
	if filter.BatchID != "" {
		where += " AND c.batch_id = ?"
		args = append(args, filter.BatchID)
	}
	if filter.From != nil {
		where += " AND COALESCE(a.published_at, a.ingested_at) >= ?"
		args = append(args, filter.From.UTC())
	}
	if filter.To != nil {
		where += " AND COALESCE(a.published_at, a.ingested_at) <= ?"
		args = append(args, filter.To.UTC())
	}

	q := fmt.Sprintf(`
SELECT c.candidate_id, c.article_id, c.ticker_id,
       COALESCE(t.symbol, ''), COALESCE(t.name, ''), COALESCE(a.title, ''), a.published_at,
       c.score, c.method, c.confirmed, c.confirmed_by, c.confirmed_at,
       c.batch_id, c.auto_suggest, c.created_at, c.updated_at
FROM candidates c
LEFT JOIN tickers t ON t.ticker_id = c.ticker_id
LEFT JOIN articles a ON a.article_id = c.article_id
%s
ORDER BY c.score DESC, c.candidate_id ASC
LIMIT ?
`, where)
	args = append(args, limit)

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query candidates: %w", err)
	}
	defer rows.Close()

	items := make([]CandidateView, 0, limit)
	for rows.Next() {
		var row CandidateView
		if err := rows.Scan(
			&row.CandidateID,
			&row.ArticleID,
			&row.TickerID,
			&row.Symbol,
			&row.TickerName,
			&row.Title,
			&row.PublishedAt,
			&row.Score,
			&row.Method,
			&row.Confirmed,
			&row.ConfirmedBy,
			&row.ConfirmedAt,
			&row.BatchID,
			&row.AutoSuggest,
			&row.CreatedAt,
			&row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan candidate row: %w", err)
		}
		items = append(items, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate candidate rows: %w", err)
	}
	return items, nil
}

// GetCandidate loads a single candidate row.
func (p *Pool) GetCandidate(ctx context.Context, candidateID int64) (*Candidate, error) {
	var row Candidate
	err := p.gdb.WithContext(ctx).Where("candidate_id = ?", candidateID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCandidateNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load candidate %d: %w", candidateID, err)
	}
	return &row, nil
}

// SetConfirmation writes a confirmation state and appends the transition to
// the history log. Transition legality is the review package's concern.
func (p *Pool) SetConfirmation(ctx context.Context, candidateID int64, newState int, operator string, keepMax int) error {
	return p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Candidate
		err := tx.Where("candidate_id = ?", candidateID).First(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrCandidateNotFound
		}
		if err != nil {
			return fmt.Errorf("load candidate %d: %w", candidateID, err)
		}
		return setConfirmationTx(tx, &row, newState, operator, keepMax)
	})
}

func setConfirmationTx(tx *gorm.DB, row *Candidate, newState int, operator string, keepMax int) error {
	now := globaltime.UTC()
	prev := row.Confirmed
	history := append(decodeHistory(row.History), HistoryEntry{
		Event:     "confirmation_changed",
		PrevState: &prev,
		NewState:  &newState,
		Operator:  operator,
		At:        now.Format(time.RFC3339),
	})
	encoded, err := encodeHistory(history, keepMax)
	if err != nil {
		return err
	}

	updates := map[string]any{
		"confirmed":  newState,
		"history":    encoded,
		"updated_at": now,
	}
	if newState == ConfirmPending {
		updates["confirmed_by"] = nil
		updates["confirmed_at"] = nil
	} else {
		updates["confirmed_by"] = operator
		updates["confirmed_at"] = now
	}
	if err := tx.Model(&Candidate{}).Where("candidate_id = ?", row.CandidateID).Updates(updates).Error; err != nil {
		return fmt.Errorf("update confirmation: %w", err)
	}
	return nil
}

// BulkSetConfirmation transitions every candidate currently in fromState
// (optionally bounded by a score predicate) to newState, appending a history
// entry per row. Returns the affected count.
func (p *Pool) BulkSetConfirmation(ctx context.Context, fromState, newState int, scoreOp string, threshold *float64, operator string, keepMax int) (int64, error) {
	var affected int64
	err := p.gdb.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := tx.Where("confirmed = ?", fromState)
		if threshold != nil {
			switch scoreOp {
			case ">=":
				query = query.Where("score >= ?", *threshold)
			case "<":
				query = query.Where("score < ?", *threshold)
			default:
				return fmt.Errorf("unsupported score predicate: %q", scoreOp)
			}
		}

		var rows []Candidate
		if err := query.Find(&rows).Error; err != nil {
			return fmt.Errorf("select candidates for bulk transition: %w", err)
		}
		for i := range rows {
			if err := setConfirmationTx(tx, &rows[i], newState, operator, keepMax); err != nil {
				return err
			}
		}
		affected = int64(len(rows))
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// DeleteCandidates hard-deletes the given rows. Irreversible; reserved for
// an explicit operator cleanup of a filtered view.
func (p *Pool) DeleteCandidates(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := p.gdb.WithContext(ctx).Where("candidate_id IN ?", ids).Delete(&Candidate{})
	if res.Error != nil {
		return 0, fmt.Errorf("delete candidates: %w", res.Error)
	}
	return res.RowsAffected, nil
}

func decodeHistory(raw json.RawMessage) []HistoryEntry {
	if len(raw) == 0 {
		return nil
	}
	var entries []HistoryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}

func encodeHistory(entries []HistoryEntry, keepMax int) (json.RawMessage, error) {
	if keepMax > 0 && len(entries) > keepMax {
		entries = entries[len(entries)-keepMax:]
	}
	encoded, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	return encoded, nil
}
