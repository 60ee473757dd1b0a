package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/db"
	"github.com/moexlab/tickerlink/internal/globaltime"
	"github.com/moexlab/tickerlink/internal/pipeline"
	"github.com/moexlab/tickerlink/internal/review"
)

type runView struct {
	BatchID             string        `json:"batch_id"`
	Mode                string        `json:"mode"`
	Status              string        `json:"status"`
	BatchSizeRequested  int           `json:"batch_size_requested"`
	BatchSizeActual     int           `json:"batch_size_actual"`
	ChunkCursor         int           `json:"chunk_cursor"`
	ChunkCount          int           `json:"chunk_count"`
	ErrorCount          int           `json:"error_count"`
	ConsecutiveFailures int           `json:"consecutive_failures"`
	Operator            *string       `json:"operator,omitempty"`
	Version             string        `json:"version"`
	StartedAt           time.Time     `json:"started_at"`
	FinishedAt          *time.Time    `json:"finished_at,omitempty"`
	Percent             float64       `json:"percent"`
	ETASeconds          float64       `json:"eta_seconds,omitempty"`
	Metrics             db.RunMetrics `json:"metrics"`
}

func toRunView(run *db.ProcessingRun) runView {
	view := runView{
		BatchID:             run.BatchID,
		Mode:                run.Mode,
		Status:              run.Status,
		BatchSizeRequested:  run.BatchSizeRequested,
		BatchSizeActual:     run.BatchSizeActual,
		ChunkCursor:         run.ChunkCursor,
		ChunkCount:          run.ChunkCount,
		ErrorCount:          run.ErrorCount,
		ConsecutiveFailures: run.ConsecutiveFailures,
		Operator:            run.Operator,
		Version:             run.Version,
		StartedAt:           run.StartedAt,
		FinishedAt:          run.FinishedAt,
		Metrics:             db.DecodeRunMetrics(run),
	}
	if view.Metrics.TotalArticles > 0 {
		view.Percent = float64(view.Metrics.ProcessedArticles) / float64(view.Metrics.TotalArticles) * 100
	}
	if run.Status == db.RunStatusRunning && view.Metrics.ProcessedArticles > 0 && view.Metrics.ProcessedArticles < view.Metrics.TotalArticles {
		elapsed := globaltime.UTC().Sub(run.StartedAt).Seconds()
		perArticle := elapsed / float64(view.Metrics.ProcessedArticles)
		view.ETASeconds = perArticle * float64(view.Metrics.TotalArticles-view.Metrics.ProcessedArticles)
	}
	return view
}

func (s *Server) handleHealth(c echo.Context) error {
	health, err := s.pool.HealthSummary(c.Request().Context(), 10)
	if err != nil {
		s.logger.Error().Err(err).Msg("health summary failed")
		return internalError(c, "Failed to compute health")
	}
	return success(c, map[string]any{
		"service": "tickerlink",
		"health":  health,
		"time":    globaltime.UTC(),
	})
}

func (s *Server) handleRunList(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"), 20, 200)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}
	runs, err := s.pool.ListRuns(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error().Err(err).Msg("list runs failed")
		return internalError(c, "Failed to load runs")
	}
	items := make([]runView, 0, len(runs))
	for i := range runs {
		items = append(items, toRunView(&runs[i]))
	}
	return success(c, map[string]any{"items": items})
}

func (s *Server) handleRunDetail(c echo.Context) error {
	batchID := strings.TrimSpace(c.Param("batch_id"))
	if batchID == "" {
		return failValidation(c, map[string]string{"batch_id": "is required"})
	}
	run, err := s.pool.GetRun(c.Request().Context(), batchID)
	if errors.Is(err, db.ErrRunNotFound) {
		return failNotFound(c, "Run not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("load run failed")
		return internalError(c, "Failed to load run")
	}
	return success(c, toRunView(run))
}

type runStartRequest struct {
	Mode      string `json:"mode"`
	BatchSize int    `json:"batch_size"`
	From      string `json:"from"`
	To        string `json:"to"`
}

func (s *Server) handleRunStart(c echo.Context) error {
	var req runStartRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	if strings.TrimSpace(req.Mode) == "" {
		req.Mode = db.ModeOnlyUnprocessed
	}
	if req.BatchSize <= 0 {
		req.BatchSize = s.cfg.BatchSize
	}
	from, err := parseTimeFilter(req.From, false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	to, err := parseTimeFilter(req.To, true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}

	batchID, err := s.runner.StartAsync(c.Request().Context(), pipeline.RunOptions{
		Selection: pipeline.Selection{
			Mode:      strings.TrimSpace(req.Mode),
			BatchSize: req.BatchSize,
			From:      from,
			To:        to,
		},
		Operator: operatorFrom(c),
	})
	if errors.Is(err, pipeline.ErrNothingToProcess) {
		return success(c, map[string]any{"started": false, "reason": "nothing to process"})
	}
	if errors.Is(err, pipeline.ErrInvalidSelection) {
		return failValidation(c, map[string]string{"selection": err.Error()})
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("start run failed")
		return internalError(c, "Failed to start run")
	}
	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"started":  true,
		"batch_id": batchID,
	})
}

func (s *Server) handleRunCancel(c echo.Context) error {
	batchID := strings.TrimSpace(c.Param("batch_id"))
	if batchID == "" {
		return failValidation(c, map[string]string{"batch_id": "is required"})
	}
	if s.runner.Cancel(batchID) {
		return success(c, map[string]any{"cancelling": true})
	}

	run, err := s.pool.GetRun(c.Request().Context(), batchID)
	if errors.Is(err, db.ErrRunNotFound) {
		return failNotFound(c, "Run not found")
	}
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("load run failed")
		return internalError(c, "Failed to load run")
	}
	return failConflict(c, "Run "+run.Status+" is not active in this process")
}

func (s *Server) handleRunResume(c echo.Context) error {
	batchID := strings.TrimSpace(c.Param("batch_id"))
	if batchID == "" {
		return failValidation(c, map[string]string{"batch_id": "is required"})
	}
	err := s.runner.ResumeAsync(c.Request().Context(), batchID)
	if errors.Is(err, db.ErrRunNotFound) {
		return failNotFound(c, "Run not found")
	}
	if errors.Is(err, pipeline.ErrRunNotResumable) {
		return failConflict(c, err.Error())
	}
	if err != nil {
		s.logger.Error().Err(err).Str("batch_id", batchID).Msg("resume run failed")
		return internalError(c, "Failed to resume run")
	}
	return successWithStatus(c, http.StatusAccepted, map[string]any{
		"resumed":  true,
		"batch_id": batchID,
	})
}

func (s *Server) handleCandidateList(c echo.Context) error {
	limit, err := parseLimit(c.QueryParam("limit"), defaultListLimit, maxListLimit)
	if err != nil {
		return failValidation(c, map[string]string{"limit": err.Error()})
	}

	filter := db.CandidateFilter{
		BatchID: strings.TrimSpace(c.QueryParam("batch_id")),
		Limit:   limit,
	}
	if raw := strings.TrimSpace(c.QueryParam("state")); raw != "" {
		state, err := parseState(raw)
		if err != nil {
			return failValidation(c, map[string]string{"state": err.Error()})
		}
		filter.State = &state
	}
	if raw := strings.TrimSpace(c.QueryParam("min_score")); raw != "" {
		minScore, err := strconv.ParseFloat(raw, 64)
		if err != nil || minScore < 0 || minScore > 1 {
			return failValidation(c, map[string]string{"min_score": "must be within [0, 1]"})
		}
		filter.MinScore = &minScore
	}
	filter.From, err = parseTimeFilter(c.QueryParam("from"), false)
	if err != nil {
		return failValidation(c, map[string]string{"from": "must be RFC3339 or YYYY-MM-DD"})
	}
	filter.To, err = parseTimeFilter(c.QueryParam("to"), true)
	if err != nil {
		return failValidation(c, map[string]string{"to": "must be RFC3339 or YYYY-MM-DD"})
	}

	items, err := s.review.List(c.Request().Context(), filter)
	if err != nil {
		s.logger.Error().Err(err).Msg("list candidates failed")
		return internalError(c, "Failed to load candidates")
	}
	return success(c, map[string]any{"items": items})
}

func parseState(raw string) (int, error) {
	switch strings.ToLower(raw) {
	case "pending":
		return db.ConfirmPending, nil
	case "confirmed":
		return db.ConfirmConfirmed, nil
	case "rejected":
		return db.ConfirmRejected, nil
	}
	return 0, errors.New("must be pending, confirmed or rejected")
}

func (s *Server) handleCandidateConfirm(c echo.Context) error {
	return s.candidateTransition(c, func(candidateID int64, operator string) error {
		return s.review.Confirm(c.Request().Context(), candidateID, operator)
	})
}

func (s *Server) handleCandidateReject(c echo.Context) error {
	override := strings.EqualFold(strings.TrimSpace(c.QueryParam("override")), "true")
	return s.candidateTransition(c, func(candidateID int64, operator string) error {
		return s.review.Reject(c.Request().Context(), candidateID, operator, override)
	})
}

func (s *Server) handleCandidateRestore(c echo.Context) error {
	return s.candidateTransition(c, func(candidateID int64, operator string) error {
		return s.review.Restore(c.Request().Context(), candidateID, operator)
	})
}

func (s *Server) candidateTransition(c echo.Context, apply func(candidateID int64, operator string) error) error {
	candidateID, err := strconv.ParseInt(strings.TrimSpace(c.Param("candidate_id")), 10, 64)
	if err != nil || candidateID < 1 {
		return failValidation(c, map[string]string{"candidate_id": "must be a positive integer"})
	}
	operator := operatorFrom(c)
	if operator == "" {
		return failValidation(c, map[string]string{operatorHeader: "header is required"})
	}

	err = apply(candidateID, operator)
	switch {
	case err == nil:
		return success(c, map[string]any{"candidate_id": candidateID, "applied": true})
	case errors.Is(err, db.ErrCandidateNotFound):
		return failNotFound(c, "Candidate not found")
	case errors.Is(err, review.ErrIllegalTransition):
		return failConflict(c, err.Error())
	default:
		s.logger.Error().Err(err).Int64("candidate_id", candidateID).Msg("candidate transition failed")
		return internalError(c, "Failed to update candidate")
	}
}

type bulkRequest struct {
	Action    string   `json:"action"`
	Threshold *float64 `json:"threshold,omitempty"`
}

func (s *Server) handleCandidateBulk(c echo.Context) error {
	var req bulkRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	operator := operatorFrom(c)
	if operator == "" {
		return failValidation(c, map[string]string{operatorHeader: "header is required"})
	}

	ctx := c.Request().Context()
	var (
		changed int64
		err     error
	)
	switch strings.ToLower(strings.TrimSpace(req.Action)) {
	case "confirm_above":
		if req.Threshold == nil {
			return failValidation(c, map[string]string{"threshold": "is required for confirm_above"})
		}
		changed, err = s.review.ConfirmAllAbove(ctx, *req.Threshold, operator)
	case "reject_below":
		if req.Threshold == nil {
			return failValidation(c, map[string]string{"threshold": "is required for reject_below"})
		}
		changed, err = s.review.RejectAllBelow(ctx, *req.Threshold, operator)
	case "reject_all":
		changed, err = s.review.RejectAll(ctx, operator)
	case "restore_rejected":
		changed, err = s.review.RestoreRejected(ctx, operator)
	default:
		return failValidation(c, map[string]string{"action": "must be confirm_above, reject_below, reject_all or restore_rejected"})
	}
	if err != nil {
		s.logger.Error().Err(err).Str("action", req.Action).Msg("bulk candidate action failed")
		return internalError(c, "Failed to apply bulk action")
	}
	return success(c, map[string]any{"action": req.Action, "changed": changed})
}

type deleteRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) handleCandidateDelete(c echo.Context) error {
	var req deleteRequest
	if err := c.Bind(&req); err != nil {
		return failValidation(c, map[string]string{"body": "must be valid JSON"})
	}
	if len(req.IDs) == 0 {
		return failValidation(c, map[string]string{"ids": "must not be empty"})
	}
	deleted, err := s.review.Delete(c.Request().Context(), req.IDs)
	if err != nil {
		s.logger.Error().Err(err).Msg("delete candidates failed")
		return internalError(c, "Failed to delete candidates")
	}
	return success(c, map[string]any{"deleted": deleted})
}

func (s *Server) handleTickerImport(c echo.Context) error {
	result, err := catalogue.ImportFeed(c.Request().Context(), s.pool, c.Request().Body, s.logger)
	if err != nil {
		s.logger.Error().Err(err).Msg("ticker import failed")
		return fail(c, http.StatusBadRequest, "Failed to import ticker feed: "+err.Error(), nil)
	}
	return success(c, result)
}
