package db

import (
	"encoding/json"
	"time"
)

// Batch selection modes.
const (
	ModeOnlyUnprocessed      = "only_unprocessed"
	ModeRecheckAll           = "recheck_all"
	ModeRecheckSelectedRange = "recheck_selected_range"
)

// Processing run statuses.
const (
	RunStatusPending             = "pending"
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
	RunStatusCancelled           = "cancelled"
)

// Candidate confirmation states.
const (
	ConfirmPending   = 0
	ConfirmConfirmed = 1
	ConfirmRejected  = -1
)

// SystemOperator is recorded when the pipeline confirms a candidate itself.
const SystemOperator = "system"

// Article maps the articles table. Rows are produced by an upstream
// ingestion process; this service only flips processing bookkeeping.
type Article struct {
	ArticleID            int64      `gorm:"column:article_id;primaryKey;autoIncrement"`
	Title                string     `gorm:"column:title;not null"`
	Body                 string     `gorm:"column:body;not null;default:''"`
	Language             string     `gorm:"column:language;not null;default:''"`
	Source               string     `gorm:"column:source;not null;default:''"`
	PublishedAt          *time.Time `gorm:"column:published_at"`
	IngestedAt           time.Time  `gorm:"column:ingested_at;not null"`
	Processed            bool       `gorm:"column:processed;not null;default:false;index"`
	ProcessedAt          *time.Time `gorm:"column:processed_at"`
	LastBatchID          *string    `gorm:"column:last_batch_id"`
	LastProcessedVersion *string    `gorm:"column:last_processed_version"`
	CreatedAt            time.Time  `gorm:"column:created_at;not null"`
	UpdatedAt            time.Time  `gorm:"column:updated_at;not null"`
}

func (Article) TableName() string { return "articles" }

// Ticker maps the tickers reference table. Read-only during a run.
type Ticker struct {
	TickerID    int64           `gorm:"column:ticker_id;primaryKey;autoIncrement"`
	Symbol      string          `gorm:"column:symbol;not null;uniqueIndex"`
	Name        string          `gorm:"column:name;not null;default:''"`
	Aliases     json.RawMessage `gorm:"column:aliases"`
	ISIN        *string         `gorm:"column:isin"`
	Exchange    *string         `gorm:"column:exchange"`
	Description *string         `gorm:"column:description"`
	EmbedVector json.RawMessage `gorm:"column:embed_vector"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null"`
}

func (Ticker) TableName() string { return "tickers" }

// Candidate maps the candidates table: one scored link between an article
// and a ticker. The (article_id, ticker_id) pair is unique; reprocessing
// updates the existing row instead of inserting a duplicate.
type Candidate struct {
	CandidateID int64           `gorm:"column:candidate_id;primaryKey;autoIncrement"`
	ArticleID   int64           `gorm:"column:article_id;not null;uniqueIndex:idx_candidates_article_ticker;index"`
	TickerID    int64           `gorm:"column:ticker_id;not null;uniqueIndex:idx_candidates_article_ticker"`
	Score       float64         `gorm:"column:score;not null"`
	Method      string          `gorm:"column:method;not null"`
	Confirmed   int             `gorm:"column:confirmed;not null;default:0;index"`
	ConfirmedBy *string         `gorm:"column:confirmed_by"`
	ConfirmedAt *time.Time      `gorm:"column:confirmed_at"`
	BatchID     string          `gorm:"column:batch_id;not null;index"`
	AutoSuggest bool            `gorm:"column:auto_suggest;not null;default:false"`
	History     json.RawMessage `gorm:"column:history"`
	Metadata    json.RawMessage `gorm:"column:metadata"`
	CreatedAt   time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null"`
}

func (Candidate) TableName() string { return "candidates" }

// HistoryEntry is one append-only audit record on a candidate.
type HistoryEntry struct {
	Event     string   `json:"event"`
	PrevScore *float64 `json:"prev_score,omitempty"`
	NewScore  *float64 `json:"new_score,omitempty"`
	PrevState *int     `json:"prev_state,omitempty"`
	NewState  *int     `json:"new_state,omitempty"`
	Method    string   `json:"method,omitempty"`
	Operator  string   `json:"operator,omitempty"`
	BatchID   string   `json:"batch_id,omitempty"`
	At        string   `json:"at"`
}

// ProcessingRun maps the processing_runs ledger: one orchestrator execution.
type ProcessingRun struct {
	BatchID             string          `gorm:"column:batch_id;primaryKey"`
	Mode                string          `gorm:"column:mode;not null"`
	BatchSizeRequested  int             `gorm:"column:batch_size_requested;not null"`
	BatchSizeActual     int             `gorm:"column:batch_size_actual;not null;default:0"`
	Status              string          `gorm:"column:status;not null;index"`
	StartedAt           time.Time       `gorm:"column:started_at;not null"`
	FinishedAt          *time.Time      `gorm:"column:finished_at"`
	ChunkCount          int             `gorm:"column:chunk_count;not null;default:0"`
	ChunkCursor         int             `gorm:"column:chunk_cursor;not null;default:0"`
	ArticleIDs          json.RawMessage `gorm:"column:article_ids"`
	Metrics             json.RawMessage `gorm:"column:metrics"`
	ErrorCount          int             `gorm:"column:error_count;not null;default:0"`
	ConsecutiveFailures int             `gorm:"column:consecutive_failures;not null;default:0"`
	Operator            *string         `gorm:"column:operator"`
	Version             string          `gorm:"column:version;not null;default:''"`
	CreatedAt           time.Time       `gorm:"column:created_at;not null"`
	UpdatedAt           time.Time       `gorm:"column:updated_at;not null"`
}

func (ProcessingRun) TableName() string { return "processing_runs" }

// RunMetrics is the aggregate counter set persisted on a run row.
type RunMetrics struct {
	TotalArticles       int     `json:"total_articles"`
	ProcessedArticles   int     `json:"processed_articles"`
	CandidatesGenerated int     `json:"candidates_generated"`
	AutoApplied         int     `json:"auto_applied"`
	SkippedDuplicates   int     `json:"skipped_duplicates"`
	Errors              int     `json:"errors"`
	ChunkCount          int     `json:"chunk_count"`
	DurationSeconds     float64 `json:"duration_seconds"`
}

func (m *RunMetrics) Add(other RunMetrics) {
	m.ProcessedArticles += other.ProcessedArticles
	m.CandidatesGenerated += other.CandidatesGenerated
	m.AutoApplied += other.AutoApplied
	m.SkippedDuplicates += other.SkippedDuplicates
	m.Errors += other.Errors
}

func autoMigrateModels() []any {
	return []any{
		&Article{},
		&Ticker{},
		&Candidate{},
		&ProcessingRun{},
	}
}
