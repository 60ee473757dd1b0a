package pipeline

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

// Event is one progress snapshot emitted after a committed chunk.
type Event struct {
	BatchID    string
	ChunkIndex int
	ChunkCount int
	Processed  int
	Total      int
	Percent    float64
	Elapsed    time.Duration
	ETA        time.Duration
	Final      bool
}

// Reporter receives progress events. Implementations must be cheap: the
// orchestrator calls them on its hot path.
type Reporter interface {
	Report(event Event)
}

// ReporterFunc adapts a plain function to the Reporter interface.
type ReporterFunc func(event Event)

func (f ReporterFunc) Report(event Event) { f(event) }

// LogReporter logs each event as one structured line.
type LogReporter struct {
	logger zerolog.Logger
}

func NewLogReporter(logger zerolog.Logger) *LogReporter {
	return &LogReporter{logger: logger}
}

func (r *LogReporter) Report(event Event) {
	r.logger.Info().
		Str("batch_id", event.BatchID).
		Int("chunk", event.ChunkIndex).
		Int("chunks", event.ChunkCount).
		Int("processed", event.Processed).
		Int("total", event.Total).
		Float64("percent", event.Percent).
		Dur("elapsed", event.Elapsed).
		Dur("eta", event.ETA).
		Msg("run progress")
}

// Throttled wraps a reporter with a minimum interval between events. The
// first and the final event always pass through.
type Throttled struct {
	inner    Reporter
	interval time.Duration

	mu       sync.Mutex
	lastSent time.Time
}

func NewThrottled(inner Reporter, interval time.Duration) *Throttled {
	return &Throttled{inner: inner, interval: interval}
}

func (t *Throttled) Report(event Event) {
	t.mu.Lock()
	now := globaltime.Now()
	send := event.Final || t.lastSent.IsZero() || now.Sub(t.lastSent) >= t.interval
	if send {
		t.lastSent = now
	}
	t.mu.Unlock()

	if send {
		t.inner.Report(event)
	}
}

// progressEvent derives a snapshot from run counters and the wall clock.
func progressEvent(batchID string, chunkIndex, chunkCount, processed, total int, started time.Time, final bool) Event {
	event := Event{
		BatchID:    batchID,
		ChunkIndex: chunkIndex,
		ChunkCount: chunkCount,
		Processed:  processed,
		Total:      total,
		Elapsed:    globaltime.Now().Sub(started),
		Final:      final,
	}
	if total > 0 {
		event.Percent = float64(processed) / float64(total) * 100
	}
	if processed > 0 && processed < total {
		perArticle := event.Elapsed / time.Duration(processed)
		event.ETA = perArticle * time.Duration(total-processed)
	}
	return event
}
