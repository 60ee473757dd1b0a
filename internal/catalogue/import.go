package catalogue

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/db"
	feedschema "github.com/moexlab/tickerlink/schema"
)

// ImportResult summarizes one feed import.
type ImportResult struct {
	Total    int
	Imported int
	Skipped  int
}

// ImportFeed reads a JSON array of ticker feed items, validates each against
// the embedded schema, and upserts valid rows by symbol. One bad row is
// logged and skipped; it never aborts the refresh.
func ImportFeed(ctx context.Context, pool *db.Pool, reader io.Reader, logger zerolog.Logger) (ImportResult, error) {
	var result ImportResult

	var payloads []json.RawMessage
	decoder := json.NewDecoder(reader)
	if err := decoder.Decode(&payloads); err != nil {
		return result, fmt.Errorf("decode ticker feed: %w", err)
	}

	result.Total = len(payloads)
	for i, payload := range payloads {
		item, err := feedschema.ValidateTickerPayload(payload)
		if err != nil {
			logger.Warn().Int("index", i).Err(err).Msg("skipping invalid ticker feed row")
			result.Skipped++
			continue
		}

		row := db.TickerRow{
			Symbol:      item.Symbol,
			Name:        item.Name,
			Aliases:     item.Aliases,
			ISIN:        item.ISIN,
			Exchange:    item.Exchange,
			Description: item.Description,
		}
		if _, err := pool.UpsertTicker(ctx, row); err != nil {
			return result, fmt.Errorf("upsert ticker %s: %w", item.Symbol, err)
		}
		result.Imported++
	}

	logger.Info().
		Int("total", result.Total).
		Int("imported", result.Imported).
		Int("skipped", result.Skipped).
		Msg("ticker feed import finished")
	return result, nil
}
