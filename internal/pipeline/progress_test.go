package pipeline

import (
	"testing"
	"time"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

func TestProgressEvent(t *testing.T) {
	started := globaltime.Now().Add(-10 * time.Second)

	event := progressEvent("batch-1", 2, 4, 50, 100, started, false)
	if event.Percent != 50 {
		t.Fatalf("expected 50%%, got %g", event.Percent)
	}
	if event.Elapsed < 9*time.Second {
		t.Fatalf("elapsed too small: %s", event.Elapsed)
	}
	// 50 articles in ~10s leaves ~10s for the remaining 50.
	if event.ETA < 8*time.Second || event.ETA > 12*time.Second {
		t.Fatalf("unexpected ETA: %s", event.ETA)
	}

	final := progressEvent("batch-1", 4, 4, 100, 100, started, true)
	if !final.Final || final.Percent != 100 || final.ETA != 0 {
		t.Fatalf("unexpected final event: %+v", final)
	}

	empty := progressEvent("batch-1", 0, 0, 0, 0, started, true)
	if empty.Percent != 0 || empty.ETA != 0 {
		t.Fatalf("zero totals must not divide: %+v", empty)
	}
}

func TestThrottledPassesFirstAndFinal(t *testing.T) {
	var seen []Event
	throttled := NewThrottled(ReporterFunc(func(event Event) {
		seen = append(seen, event)
	}), time.Hour)

	throttled.Report(Event{ChunkIndex: 1})
	throttled.Report(Event{ChunkIndex: 2})
	throttled.Report(Event{ChunkIndex: 3})
	throttled.Report(Event{ChunkIndex: 4, Final: true})

	if len(seen) != 2 {
		t.Fatalf("expected first and final only, got %d events", len(seen))
	}
	if seen[0].ChunkIndex != 1 || !seen[1].Final {
		t.Fatalf("unexpected events: %+v", seen)
	}
}

func TestThrottledZeroIntervalPassesAll(t *testing.T) {
	count := 0
	throttled := NewThrottled(ReporterFunc(func(Event) { count++ }), 0)

	throttled.Report(Event{ChunkIndex: 1})
	throttled.Report(Event{ChunkIndex: 2})
	throttled.Report(Event{ChunkIndex: 3})
	if count != 3 {
		t.Fatalf("zero interval must not throttle, got %d", count)
	}
}
