package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/db"
	"github.com/moexlab/tickerlink/internal/embed"
	"github.com/moexlab/tickerlink/internal/globaltime"
	"github.com/moexlab/tickerlink/internal/match"
	"github.com/moexlab/tickerlink/internal/textnorm"
)

var ErrRunNotResumable = errors.New("run is not resumable")

// RunOptions parameterizes one batch run.
type RunOptions struct {
	Selection
	Operator string
}

// RunResult is the terminal outcome of a run or resume.
type RunResult struct {
	BatchID string
	Status  string
	Metrics db.RunMetrics
}

// Service drives batch runs end to end. A run freezes its article selection
// at creation, commits progress per chunk and can be resumed from the last
// committed chunk after a crash or cancellation.
type Service struct {
	pool     *db.Pool
	cfg      *config.Config
	logger   zerolog.Logger
	embedder *embed.Service
	reporter Reporter

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

func New(pool *db.Pool, cfg *config.Config, logger zerolog.Logger, embedder *embed.Service, reporter Reporter) *Service {
	if reporter == nil {
		reporter = NewThrottled(NewLogReporter(logger), 2*time.Second)
	}
	return &Service{
		pool:     pool,
		cfg:      cfg,
		logger:   logger,
		embedder: embedder,
		reporter: reporter,
		cancels:  make(map[string]context.CancelFunc),
	}
}

// Run executes a full batch run synchronously and returns its outcome.
// An empty selection returns ErrNothingToProcess without a ledger row.
func (s *Service) Run(ctx context.Context, opts RunOptions) (RunResult, error) {
	ids, err := selectArticleIDs(ctx, s.pool, opts.Selection)
	if err != nil {
		return RunResult{}, err
	}

	batchID, err := s.pool.CreateProcessingRun(ctx, opts.Mode, opts.BatchSize, ids, opts.Operator, s.cfg.PipelineVersion)
	if err != nil {
		return RunResult{}, err
	}
	s.logger.Info().
		Str("batch_id", batchID).
		Str("mode", opts.Mode).
		Int("articles", len(ids)).
		Msg("run started")

	return s.execute(ctx, batchID, ids, 0, db.RunMetrics{}, 0, globaltime.Now())
}

// StartAsync creates the run row, then executes it on a background goroutine
// that survives the caller's request context. The returned batch id can be
// polled, and Cancel stops the run at the next chunk boundary.
func (s *Service) StartAsync(ctx context.Context, opts RunOptions) (string, error) {
	ids, err := selectArticleIDs(ctx, s.pool, opts.Selection)
	if err != nil {
		return "", err
	}
	batchID, err := s.pool.CreateProcessingRun(ctx, opts.Mode, opts.BatchSize, ids, opts.Operator, s.cfg.PipelineVersion)
	if err != nil {
		return "", err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[batchID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, batchID)
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.execute(runCtx, batchID, ids, 0, db.RunMetrics{}, 0, globaltime.Now()); err != nil {
			s.logger.Error().Str("batch_id", batchID).Err(err).Msg("background run ended with error")
		}
	}()
	return batchID, nil
}

// ResumeAsync validates the run can be resumed, then continues it on a
// background goroutine the same way StartAsync does.
func (s *Service) ResumeAsync(ctx context.Context, batchID string) error {
	run, err := s.pool.GetRun(ctx, batchID)
	if err != nil {
		return err
	}
	switch run.Status {
	case db.RunStatusRunning, db.RunStatusFailed, db.RunStatusCancelled, db.RunStatusPending:
	default:
		return fmt.Errorf("%w: run %s has status %s", ErrRunNotResumable, batchID, run.Status)
	}
	s.mu.Lock()
	_, active := s.cancels[batchID]
	s.mu.Unlock()
	if active {
		return fmt.Errorf("%w: run %s is already active in this process", ErrRunNotResumable, batchID)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s.mu.Lock()
	s.cancels[batchID] = cancel
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.cancels, batchID)
			s.mu.Unlock()
			cancel()
		}()
		if _, err := s.Resume(runCtx, batchID); err != nil {
			s.logger.Error().Str("batch_id", batchID).Err(err).Msg("background resume ended with error")
		}
	}()
	return nil
}

// Cancel requests a stop at the next chunk boundary for a run started in
// this process. It reports whether such a run was found.
func (s *Service) Cancel(batchID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[batchID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Resume continues an interrupted run from its last committed chunk against
// the frozen article selection. Completed runs are not resumable.
func (s *Service) Resume(ctx context.Context, batchID string) (RunResult, error) {
	run, err := s.pool.GetRun(ctx, batchID)
	if err != nil {
		return RunResult{}, err
	}
	switch run.Status {
	case db.RunStatusRunning, db.RunStatusFailed, db.RunStatusCancelled, db.RunStatusPending:
	default:
		return RunResult{}, fmt.Errorf("%w: run %s has status %s", ErrRunNotResumable, batchID, run.Status)
	}

	ids, err := db.DecodeRunArticleIDs(run)
	if err != nil {
		return RunResult{}, err
	}
	if len(ids) == 0 {
		return RunResult{}, fmt.Errorf("%w: run %s has no frozen selection", ErrRunNotResumable, batchID)
	}

	metrics := db.DecodeRunMetrics(run)
	if err := s.pool.FinishRun(ctx, batchID, db.RunStatusRunning, metrics); err != nil {
		return RunResult{}, err
	}
	s.logger.Info().
		Str("batch_id", batchID).
		Int("chunk_cursor", run.ChunkCursor).
		Int("articles", len(ids)).
		Msg("run resumed")

	return s.execute(ctx, batchID, ids, run.ChunkCursor, metrics, 0, globaltime.Now())
}

func (s *Service) execute(ctx context.Context, batchID string, ids []int64, startCursor int, metrics db.RunMetrics, consecutiveFailures int, started time.Time) (RunResult, error) {
	registry, hybrid, normalizer, err := s.buildMatchers(ctx)
	if err != nil {
		return s.finish(batchID, db.RunStatusFailed, metrics, started, err)
	}

	chunks := chunkIDs(ids, s.cfg.ChunkSize)
	metrics.TotalArticles = len(ids)
	metrics.ChunkCount = len(chunks)
	if startCursor > len(chunks) {
		startCursor = len(chunks)
	}

	for i := startCursor; i < len(chunks); i++ {
		if ctx.Err() != nil {
			return s.finish(batchID, db.RunStatusCancelled, metrics, started, nil)
		}

		chunkMetrics, err := s.processChunk(ctx, batchID, chunks[i], registry, hybrid, normalizer)
		if err != nil {
			if ctx.Err() != nil {
				return s.finish(batchID, db.RunStatusCancelled, metrics, started, nil)
			}
			metrics.Errors++
			consecutiveFailures++
			s.logger.Error().
				Str("batch_id", batchID).
				Int("chunk", i).
				Int("consecutive_failures", consecutiveFailures).
				Err(err).
				Msg("chunk failed")
			if consecutiveFailures >= s.cfg.MaxChunkFailures {
				_, ferr := s.finish(batchID, db.RunStatusFailed, metrics, started, nil)
				if ferr != nil {
					return RunResult{}, ferr
				}
				return RunResult{BatchID: batchID, Status: db.RunStatusFailed, Metrics: metrics},
					fmt.Errorf("aborting run %s after %d consecutive chunk failures: %w", batchID, consecutiveFailures, err)
			}
		} else {
			consecutiveFailures = 0
			metrics.Add(chunkMetrics)
			metrics.ProcessedArticles += len(chunks[i])
		}

		if err := s.pool.AdvanceRunCursor(ctx, batchID, i+1, metrics, consecutiveFailures); err != nil {
			return s.finish(batchID, db.RunStatusFailed, metrics, started, err)
		}
		s.reporter.Report(progressEvent(batchID, i+1, len(chunks), metrics.ProcessedArticles, metrics.TotalArticles, started, i == len(chunks)-1))
	}

	status := db.RunStatusCompleted
	if metrics.Errors > 0 {
		status = db.RunStatusCompletedWithErrors
	}
	return s.finish(batchID, status, metrics, started, nil)
}

// finish records the terminal status using a context that survives
// cancellation, so a cancelled run still lands in the ledger.
func (s *Service) finish(batchID, status string, metrics db.RunMetrics, started time.Time, cause error) (RunResult, error) {
	metrics.DurationSeconds = globaltime.Now().Sub(started).Seconds()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.pool.FinishRun(ctx, batchID, status, metrics); err != nil {
		s.logger.Error().Str("batch_id", batchID).Str("status", status).Err(err).Msg("failed to persist terminal run status")
		if cause == nil {
			cause = err
		}
	}

	s.logger.Info().
		Str("batch_id", batchID).
		Str("status", status).
		Int("processed", metrics.ProcessedArticles).
		Int("candidates", metrics.CandidatesGenerated).
		Int("auto_applied", metrics.AutoApplied).
		Int("errors", metrics.Errors).
		Float64("duration_seconds", metrics.DurationSeconds).
		Msg("run finished")

	result := RunResult{BatchID: batchID, Status: status, Metrics: metrics}
	if cause != nil {
		return result, cause
	}
	return result, nil
}

func (s *Service) processChunk(ctx context.Context, batchID string, ids []int64, registry *match.Registry, hybrid *match.Hybrid, normalizer *textnorm.Normalizer) (db.RunMetrics, error) {
	articles, err := s.pool.FetchArticlesByIDs(ctx, ids)
	if err != nil {
		return db.RunMetrics{}, err
	}

	upsertOpts := db.UpsertOptions{
		AutoApplyThreshold:      s.cfg.AutoApplyThreshold,
		AutoApplyEnabled:        s.cfg.AutoApplyEnabled,
		AllowConfirmedOverwrite: s.cfg.AllowConfirmedOverwrite,
		HistoryKeepMax:          s.cfg.HistoryKeepMax,
	}

	var chunkMetrics db.RunMetrics
	for _, row := range articles {
		if ctx.Err() != nil {
			return chunkMetrics, ctx.Err()
		}

		text := row.Text()
		article := match.Article{
			ArticleID: row.ArticleID,
			RawText:   text,
			Norm:      normalizer.Normalize(text),
			Language:  row.Language,
		}
		if article.Language == "" {
			article.Language = textnorm.DetectLanguage(text)
		}

		signals := registry.Generate(ctx, article, s.cfg)
		for _, scored := range hybrid.Combine(row.ArticleID, signals) {
			if scored.Score < s.cfg.ReviewLowerScore {
				continue
			}
			metadata, err := json.Marshal(map[string]any{
				"evidence":        scored.Evidence,
				"language":        article.Language,
				"auto_confidence": scored.AutoConfidence,
			})
			if err != nil {
				metadata = nil
			}
			result, err := s.pool.UpsertCandidate(ctx, db.CandidateUpsert{
				ArticleID: scored.ArticleID,
				TickerID:  scored.TickerID,
				Score:     scored.Score,
				Method:    scored.Method,
				BatchID:   batchID,
				Metadata:  metadata,
			}, upsertOpts)
			if err != nil {
				return chunkMetrics, fmt.Errorf("upsert candidate article=%d ticker=%d: %w", scored.ArticleID, scored.TickerID, err)
			}

			switch {
			case result.Reason == db.ReasonInserted:
				chunkMetrics.CandidatesGenerated++
			case result.Applied:
				chunkMetrics.CandidatesGenerated++
			default:
				chunkMetrics.SkippedDuplicates++
			}
			if result.AutoConfirmed {
				chunkMetrics.AutoApplied++
			}
		}
	}

	if err := s.pool.MarkArticlesProcessed(ctx, ids, batchID, s.cfg.PipelineVersion); err != nil {
		return chunkMetrics, err
	}
	return chunkMetrics, nil
}

// buildMatchers loads the ticker catalogue and prepares every available
// generator against it.
func (s *Service) buildMatchers(ctx context.Context) (*match.Registry, *match.Hybrid, *textnorm.Normalizer, error) {
	cat, err := catalogue.Load(ctx, s.pool, s.logger)
	if err != nil {
		return nil, nil, nil, err
	}
	if cat.Len() == 0 {
		return nil, nil, nil, fmt.Errorf("ticker catalogue is empty, import a feed first")
	}

	normalizer := textnorm.New(nil)
	generators := []match.Generator{
		match.NewSubstringGenerator(normalizer),
		match.NewFuzzyGenerator(normalizer),
	}
	if s.cfg.EnableNER {
		generators = append(generators, match.NewNERGenerator(normalizer))
	}
	if s.embedder != nil {
		generators = append(generators, match.NewSemanticGenerator(s.embedder, s.pool, s.logger))
	}

	registry := match.NewRegistry(ctx, generators, cat, s.cfg, s.logger)
	if registry.Len() == 0 {
		return nil, nil, nil, fmt.Errorf("no candidate generators available")
	}
	return registry, match.NewHybrid(nil), normalizer, nil
}

func chunkIDs(ids []int64, size int) [][]int64 {
	if size < 1 {
		size = 1
	}
	chunks := make([][]int64, 0, (len(ids)+size-1)/size)
	for start := 0; start < len(ids); start += size {
		end := start + size
		if end > len(ids) {
			end = len(ids)
		}
		chunks = append(chunks, ids[start:end])
	}
	return chunks
}
