package db

import (
	"context"
	"fmt"
	"time"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

// ArticleBatchOptions controls batch selection queries.
type ArticleBatchOptions struct {
	Mode      string
	BatchSize int
	From      *time.Time
	To        *time.Time
}

// ArticleRow is the typed read model handed to the matchers.
type ArticleRow struct {
	ArticleID            int64
	Title                string
	Body                 string
	Language             string
	Source               string
	PublishedAt          *time.Time
	IngestedAt           time.Time
	Processed            bool
	ProcessedAt          *time.Time
	LastBatchID          *string
	LastProcessedVersion *string
}

// Text returns the matchable text of the article.
func (a ArticleRow) Text() string {
	if a.Body == "" {
		return a.Title
	}
	return a.Title + "\n" + a.Body
}

// SelectArticleIDs returns the ids eligible for a run under the given mode,
// capped at BatchSize. The effective timestamp is published_at falling back
// to ingested_at. Zero eligible rows yield an empty slice, never an error.
func (p *Pool) SelectArticleIDs(ctx context.Context, opts ArticleBatchOptions) ([]int64, error) {
	if opts.BatchSize < 1 {
		return nil, fmt.Errorf("batch size must be >= 1")
	}

	var (
		where string
		order string
		args  []any
	)
	switch opts.Mode {
	case ModeOnlyUnprocessed:
		where = "WHERE a.processed = ?"
		args = append(args, false)
		order = "COALESCE(a.published_at, a.ingested_at) ASC, a.article_id ASC"
	case ModeRecheckAll:
		order = "COALESCE(a.published_at, a.ingested_at) DESC, a.article_id DESC"
	case ModeRecheckSelectedRange:
		where = "WHERE COALESCE(a.published_at, a.ingested_at) >= ? AND COALESCE(a.published_at, a.ingested_at) <= ?"
		from, to := rangeBounds(opts.From, opts.To)
		args = append(args, from, to)
		order = "COALESCE(a.published_at, a.ingested_at) DESC, a.article_id DESC"
	default:
		return nil, fmt.Errorf("unknown batch mode: %q", opts.Mode)
	}

	q := fmt.Sprintf(`
SELECT a.article_id
FROM articles a
%s
ORDER BY %s
LIMIT ?
`, where, order)
	args = append(args, opts.BatchSize)

	rows, err := p.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("select article ids: %w", err)
	}
	defer rows.Close()

	ids := make([]int64, 0, opts.BatchSize)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan article id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article ids: %w", err)
	}
	return ids, nil
}

// FetchArticlesByIDs loads article rows for the given ids, preserving the
// order of the input slice.
func (p *Pool) FetchArticlesByIDs(ctx context.Context, ids []int64) ([]ArticleRow, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	const q = `
SELECT a.article_id, a.title, a.body, a.language, a.source,
       a.published_at, a.ingested_at, a.processed, a.processed_at,
       a.last_batch_id, a.last_processed_version
FROM articles a
WHERE a.article_id IN ?
`
	rows, err := p.Query(ctx, q, ids)
	if err != nil {
		return nil, fmt.Errorf("query articles: %w", err)
	}
	defer rows.Close()

	byID := make(map[int64]ArticleRow, len(ids))
	for rows.Next() {
		var row ArticleRow
		if err := rows.Scan(
			&row.ArticleID,
			&row.Title,
			&row.Body,
			&row.Language,
			&row.Source,
			&row.PublishedAt,
			&row.IngestedAt,
			&row.Processed,
			&row.ProcessedAt,
			&row.LastBatchID,
			&row.LastProcessedVersion,
		); err != nil {
			return nil, fmt.Errorf("scan article row: %w", err)
		}
		byID[row.ArticleID] = row
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate article rows: %w", err)
	}

	ordered := make([]ArticleRow, 0, len(byID))
	for _, id := range ids {
		if row, ok := byID[id]; ok {
			ordered = append(ordered, row)
		}
	}
	return ordered, nil
}

// MarkArticlesProcessed flips processing bookkeeping after a completed run.
func (p *Pool) MarkArticlesProcessed(ctx context.Context, ids []int64, batchID, version string) error {
	if len(ids) == 0 {
		return nil
	}
	now := globaltime.UTC()
	const q = `
UPDATE articles
SET processed = ?, processed_at = ?, last_batch_id = ?, last_processed_version = ?, updated_at = ?
WHERE article_id IN ?
`
	if _, err := p.Exec(ctx, q, true, now, batchID, version, now, ids); err != nil {
		return fmt.Errorf("mark articles processed: %w", err)
	}
	return nil
}

// ResetProcessedFlags returns articles to the unprocessed pool.
func (p *Pool) ResetProcessedFlags(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	const q = `
UPDATE articles
SET processed = ?, processed_at = NULL, updated_at = ?
WHERE article_id IN ?
`
	if _, err := p.Exec(ctx, q, false, globaltime.UTC(), ids); err != nil {
		return fmt.Errorf("reset processed flags: %w", err)
	}
	return nil
}

func rangeBounds(from, to *time.Time) (time.Time, time.Time) {
	lo := time.Date(1970, 1, 1, 0, 0, 0, 0, time.UTC)
	hi := globaltime.UTC()
	if from != nil {
		lo = from.UTC()
	}
	if to != nil {
		hi = to.UTC()
	}
	return lo, hi
}
