package db

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

func newTestPool(t *testing.T) *Pool {
	t.Helper()
	pool, err := NewPoolWithDialector(context.Background(), sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open test database: %v", err)
	}
	t.Cleanup(func() {
		_ = pool.Close()
	})
	return pool
}

func seedArticle(t *testing.T, pool *Pool, id int64, title, body string, publishedAt time.Time, processed bool) {
	t.Helper()
	now := globaltime.UTC()
	row := Article{
		ArticleID:   id,
		Title:       title,
		Body:        body,
		Source:      "test-feed",
		PublishedAt: &publishedAt,
		IngestedAt:  now,
		Processed:   processed,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := pool.GORM().Create(&row).Error; err != nil {
		t.Fatalf("seed article %d: %v", id, err)
	}
}

func seedTicker(t *testing.T, pool *Pool, symbol, name string, aliases []string) int64 {
	t.Helper()
	id, err := pool.UpsertTicker(context.Background(), TickerRow{
		Symbol:  symbol,
		Name:    name,
		Aliases: aliases,
	})
	if err != nil {
		t.Fatalf("seed ticker %s: %v", symbol, err)
	}
	return id
}

func defaultUpsertOptions() UpsertOptions {
	return UpsertOptions{
		AutoApplyThreshold: 0.85,
		AutoApplyEnabled:   true,
		HistoryKeepMax:     10,
	}
}
