package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/db"
)

func newServicePool(t *testing.T) *db.Pool {
	t.Helper()
	pool, err := db.NewPoolWithDialector(context.Background(), sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open test pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func serviceConfig() *config.Config {
	return &config.Config{
		BatchSize:          100,
		ChunkSize:          2,
		FuzzyThreshold:     65,
		ReviewLowerScore:   0.60,
		CosCandidateScore:  0.60,
		CosAutoScore:       0.80,
		AutoApplyThreshold: 0.85,
		AutoApplyEnabled:   true,
		HistoryKeepMax:     10,
		MaxChunkFailures:   3,
		PipelineVersion:    "v-test",
		GeneratorTimeout:   5 * time.Second,
	}
}

func seedCatalogue(t *testing.T, pool *db.Pool) {
	t.Helper()
	ctx := context.Background()
	if _, err := pool.UpsertTicker(ctx, db.TickerRow{Symbol: "SBER", Name: "Сбербанк", Aliases: []string{"Сбер"}}); err != nil {
		t.Fatalf("seed ticker: %v", err)
	}
	if _, err := pool.UpsertTicker(ctx, db.TickerRow{Symbol: "GAZP", Name: "Газпром"}); err != nil {
		t.Fatalf("seed ticker: %v", err)
	}
}

func seedNews(t *testing.T, pool *db.Pool, id int64, title string) {
	t.Helper()
	now := time.Now().UTC()
	published := now.Add(time.Duration(id) * time.Minute)
	article := db.Article{
		ArticleID:   id,
		Title:       title,
		Body:        "",
		Source:      "test-feed",
		PublishedAt: &published,
		IngestedAt:  now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := pool.GORM().Create(&article).Error; err != nil {
		t.Fatalf("seed article %d: %v", id, err)
	}
}

func TestRunGeneratesCandidatesAndCompletes(t *testing.T) {
	t.Parallel()

	pool := newServicePool(t)
	seedCatalogue(t, pool)
	seedNews(t, pool, 1, "Сбербанк повысил ставку по вкладам")
	seedNews(t, pool, 2, "Погода в столице останется солнечной")
	seedNews(t, pool, 3, "Газпром отчитался о прибыли")
	seedNews(t, pool, 4, "Выставка открылась в музее")
	seedNews(t, pool, 5, "Сбербанк запустил новый сервис")

	var events []Event
	svc := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(event Event) {
		events = append(events, event)
	}))

	result, err := svc.Run(context.Background(), RunOptions{
		Selection: Selection{Mode: db.ModeOnlyUnprocessed, BatchSize: 100},
		Operator:  "tester",
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if result.Status != db.RunStatusCompleted {
		t.Fatalf("expected completed, got %s", result.Status)
	}
	if result.Metrics.TotalArticles != 5 || result.Metrics.ProcessedArticles != 5 {
		t.Fatalf("unexpected article counters: %+v", result.Metrics)
	}
	if result.Metrics.ChunkCount != 3 {
		t.Fatalf("expected 3 chunks for 5 articles, got %d", result.Metrics.ChunkCount)
	}
	if result.Metrics.CandidatesGenerated != 3 {
		t.Fatalf("expected 3 candidates, got %d", result.Metrics.CandidatesGenerated)
	}
	if result.Metrics.AutoApplied != 3 {
		t.Fatalf("exact name hits score 1.0 and must auto-apply: %+v", result.Metrics)
	}

	if len(events) != 3 {
		t.Fatalf("expected one event per chunk, got %d", len(events))
	}
	last := events[len(events)-1]
	if !last.Final || last.Percent != 100 || last.Processed != 5 {
		t.Fatalf("unexpected final event: %+v", last)
	}

	ctx := context.Background()
	candidates, err := pool.FetchCandidates(ctx, db.CandidateFilter{BatchID: result.BatchID})
	if err != nil {
		t.Fatalf("fetch candidates: %v", err)
	}
	if len(candidates) != 3 {
		t.Fatalf("expected 3 stored candidates, got %d", len(candidates))
	}
	for _, c := range candidates {
		if c.Score < 0.99 {
			t.Fatalf("exact name match should score 1.0: %+v", c)
		}
	}

	run, err := pool.GetRun(ctx, result.BatchID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != db.RunStatusCompleted || run.FinishedAt == nil {
		t.Fatalf("run row not finalized: status=%s finished=%v", run.Status, run.FinishedAt)
	}

	// Rerunning only_unprocessed finds nothing left.
	if _, err := svc.Run(ctx, RunOptions{Selection: Selection{Mode: db.ModeOnlyUnprocessed, BatchSize: 100}}); !errors.Is(err, ErrNothingToProcess) {
		t.Fatalf("expected ErrNothingToProcess, got %v", err)
	}
}

func TestRunEmptySelection(t *testing.T) {
	t.Parallel()

	pool := newServicePool(t)
	seedCatalogue(t, pool)

	svc := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(Event) {}))
	_, err := svc.Run(context.Background(), RunOptions{Selection: Selection{Mode: db.ModeOnlyUnprocessed, BatchSize: 10}})
	if !errors.Is(err, ErrNothingToProcess) {
		t.Fatalf("expected ErrNothingToProcess, got %v", err)
	}

	runs, err := pool.ListRuns(context.Background(), 10)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 0 {
		t.Fatalf("empty selection must not leave a ledger row, got %d", len(runs))
	}
}

func TestRunRejectsBadSelection(t *testing.T) {
	t.Parallel()

	pool := newServicePool(t)
	svc := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(Event) {}))

	if _, err := svc.Run(context.Background(), RunOptions{Selection: Selection{Mode: "sideways", BatchSize: 10}}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection for an unknown mode, got %v", err)
	}
	if _, err := svc.Run(context.Background(), RunOptions{Selection: Selection{Mode: db.ModeRecheckSelectedRange, BatchSize: 10}}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection for a range mode without bounds, got %v", err)
	}
	if _, err := svc.Run(context.Background(), RunOptions{Selection: Selection{Mode: db.ModeOnlyUnprocessed, BatchSize: 0}}); !errors.Is(err, ErrInvalidSelection) {
		t.Fatalf("expected ErrInvalidSelection for a zero batch size, got %v", err)
	}
}

func TestCancelAndResume(t *testing.T) {
	t.Parallel()

	pool := newServicePool(t)
	seedCatalogue(t, pool)
	for i := int64(1); i <= 6; i++ {
		seedNews(t, pool, i, fmt.Sprintf("Сбербанк новость номер %d", i))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cancelled := false
	svc := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(event Event) {
		if !cancelled && event.ChunkIndex == 1 {
			cancelled = true
			cancel()
		}
	}))

	result, err := svc.Run(ctx, RunOptions{Selection: Selection{Mode: db.ModeOnlyUnprocessed, BatchSize: 100}})
	if err != nil {
		t.Fatalf("cancelled run should not error: %v", err)
	}
	if result.Status != db.RunStatusCancelled {
		t.Fatalf("expected cancelled, got %s", result.Status)
	}
	if result.Metrics.ProcessedArticles != 2 {
		t.Fatalf("expected one committed chunk before cancel, got %+v", result.Metrics)
	}

	run, err := pool.GetRun(context.Background(), result.BatchID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if run.Status != db.RunStatusCancelled || run.ChunkCursor != 1 {
		t.Fatalf("cursor not committed: status=%s cursor=%d", run.Status, run.ChunkCursor)
	}

	resumer := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(Event) {}))
	resumed, err := resumer.Resume(context.Background(), result.BatchID)
	if err != nil {
		t.Fatalf("resume failed: %v", err)
	}
	if resumed.Status != db.RunStatusCompleted {
		t.Fatalf("expected completed after resume, got %s", resumed.Status)
	}
	if resumed.Metrics.ProcessedArticles != 6 {
		t.Fatalf("resume must finish the frozen selection: %+v", resumed.Metrics)
	}

	// A completed run cannot be resumed again.
	if _, err := resumer.Resume(context.Background(), result.BatchID); !errors.Is(err, ErrRunNotResumable) {
		t.Fatalf("expected ErrRunNotResumable, got %v", err)
	}
}

func TestResumeUnknownRun(t *testing.T) {
	t.Parallel()

	pool := newServicePool(t)
	svc := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(Event) {}))

	if _, err := svc.Resume(context.Background(), "no-such-batch"); !errors.Is(err, db.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, got %v", err)
	}
}

func TestRunFailsWithEmptyCatalogue(t *testing.T) {
	t.Parallel()

	pool := newServicePool(t)
	seedNews(t, pool, 1, "Сбербанк повысил ставку")

	svc := New(pool, serviceConfig(), zerolog.Nop(), nil, ReporterFunc(func(Event) {}))
	result, err := svc.Run(context.Background(), RunOptions{Selection: Selection{Mode: db.ModeOnlyUnprocessed, BatchSize: 10}})
	if err == nil {
		t.Fatal("expected an error with no tickers imported")
	}
	if result.Status != db.RunStatusFailed {
		t.Fatalf("expected failed, got %q", result.Status)
	}
}

func TestChunkIDs(t *testing.T) {
	t.Parallel()

	ids := []int64{1, 2, 3, 4, 5}
	chunks := chunkIDs(ids, 2)
	if len(chunks) != 3 || len(chunks[2]) != 1 {
		t.Fatalf("unexpected chunking: %v", chunks)
	}
	if len(chunkIDs(nil, 2)) != 0 {
		t.Fatal("no ids means no chunks")
	}
	if got := chunkIDs(ids, 0); len(got) != 5 {
		t.Fatalf("size floor of 1 expected, got %v", got)
	}
}
