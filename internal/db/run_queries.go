package db

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

var ErrRunNotFound = errors.New("processing run not found")

// Pipeline health states derived from recent run outcomes.
const (
	HealthIdle      = "idle"
	HealthRunning   = "running"
	HealthHealthy   = "healthy"
	HealthUnhealthy = "unhealthy"
)

// CreateProcessingRun opens a run ledger row with the frozen article
// selection and returns its batch id.
func (p *Pool) CreateProcessingRun(ctx context.Context, mode string, requested int, articleIDs []int64, operator, version string) (string, error) {
	ids, err := json.Marshal(articleIDs)
	if err != nil {
		return "", fmt.Errorf("encode article ids: %w", err)
	}

	now := globaltime.UTC()
	run := ProcessingRun{
		BatchID:            uuid.NewString(),
		Mode:               mode,
		BatchSizeRequested: requested,
		BatchSizeActual:    len(articleIDs),
		Status:             RunStatusRunning,
		StartedAt:          now,
		ArticleIDs:         ids,
		Version:            version,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if operator != "" {
		run.Operator = &operator
	}
	if err := p.gdb.WithContext(ctx).Create(&run).Error; err != nil {
		return "", fmt.Errorf("create processing run: %w", err)
	}
	return run.BatchID, nil
}

// AdvanceRunCursor persists per-chunk progress so an interrupted run can
// resume from the last committed chunk.
func (p *Pool) AdvanceRunCursor(ctx context.Context, batchID string, cursor int, metrics RunMetrics, consecutiveFailures int) error {
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode run metrics: %w", err)
	}
	updates := map[string]any{
		"chunk_cursor":         cursor,
		"chunk_count":          metrics.ChunkCount,
		"metrics":              encoded,
		"error_count":          metrics.Errors,
		"consecutive_failures": consecutiveFailures,
		"updated_at":           globaltime.UTC(),
	}
	res := p.gdb.WithContext(ctx).Model(&ProcessingRun{}).Where("batch_id = ?", batchID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("advance run cursor: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// FinishRun records a terminal (or re-entrant running) status with final metrics.
func (p *Pool) FinishRun(ctx context.Context, batchID, status string, metrics RunMetrics) error {
	encoded, err := json.Marshal(metrics)
	if err != nil {
		return fmt.Errorf("encode run metrics: %w", err)
	}
	now := globaltime.UTC()
	updates := map[string]any{
		"status":      status,
		"metrics":     encoded,
		"chunk_count": metrics.ChunkCount,
		"error_count": metrics.Errors,
		"updated_at":  now,
	}
	switch status {
	case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusFailed, RunStatusCancelled:
		updates["finished_at"] = now
	case RunStatusRunning:
		updates["finished_at"] = nil
	}
	res := p.gdb.WithContext(ctx).Model(&ProcessingRun{}).Where("batch_id = ?", batchID).Updates(updates)
	if res.Error != nil {
		return fmt.Errorf("finish run: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrRunNotFound
	}
	return nil
}

// GetRun loads one run row.
func (p *Pool) GetRun(ctx context.Context, batchID string) (*ProcessingRun, error) {
	var run ProcessingRun
	err := p.gdb.WithContext(ctx).Where("batch_id = ?", batchID).First(&run).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", batchID, err)
	}
	return &run, nil
}

// ListRuns returns recent runs, newest first.
func (p *Pool) ListRuns(ctx context.Context, limit int) ([]ProcessingRun, error) {
	if limit <= 0 {
		limit = 20
	}
	var runs []ProcessingRun
	err := p.gdb.WithContext(ctx).
		Order("started_at DESC").
		Limit(limit).
		Find(&runs).Error
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return runs, nil
}

// DecodeRunArticleIDs returns the frozen selection stored on the run row.
func DecodeRunArticleIDs(run *ProcessingRun) ([]int64, error) {
	if run == nil || len(run.ArticleIDs) == 0 {
		return nil, nil
	}
	var ids []int64
	if err := json.Unmarshal(run.ArticleIDs, &ids); err != nil {
		return nil, fmt.Errorf("decode run article ids: %w", err)
	}
	return ids, nil
}

// DecodeRunMetrics returns the persisted aggregate counters.
func DecodeRunMetrics(run *ProcessingRun) RunMetrics {
	var metrics RunMetrics
	if run == nil || len(run.Metrics) == 0 {
		return metrics
	}
	if err := json.Unmarshal(run.Metrics, &metrics); err != nil {
		return RunMetrics{}
	}
	return metrics
}

// HealthSummary derives a coarse pipeline health state from recent runs:
// running if a run is active, unhealthy when over half of the recent
// terminal runs failed, idle when there is no history at all.
func (p *Pool) HealthSummary(ctx context.Context, recent int) (string, error) {
	runs, err := p.ListRuns(ctx, recent)
	if err != nil {
		return "", err
	}
	if len(runs) == 0 {
		return HealthIdle, nil
	}

	terminal := 0
	failed := 0
	for _, run := range runs {
		switch run.Status {
		case RunStatusRunning, RunStatusPending:
			return HealthRunning, nil
		case RunStatusFailed:
			terminal++
			failed++
		case RunStatusCompleted, RunStatusCompletedWithErrors, RunStatusCancelled:
			terminal++
		}
	}
	if terminal == 0 {
		return HealthIdle, nil
	}
	if failed*2 > terminal {
		return HealthUnhealthy, nil
	}
	return HealthHealthy, nil
}
