package db

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/globaltime"
)

// TickerRow is the typed catalogue read model. Alias and vector decoding is
// tolerant: one malformed row degrades that field, never the whole load.
type TickerRow struct {
	TickerID    int64
	Symbol      string
	Name        string
	Aliases     []string
	ISIN        *string
	Exchange    *string
	Description *string
	EmbedVector []float32
}

// LoadTickers reads the full reference catalogue.
func (p *Pool) LoadTickers(ctx context.Context, logger zerolog.Logger) ([]TickerRow, error) {
	const q = `
SELECT t.ticker_id, t.symbol, t.name, t.aliases, t.isin, t.exchange, t.description, t.embed_vector
FROM tickers t
ORDER BY t.symbol ASC
`
	rows, err := p.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query tickers: %w", err)
	}
	defer rows.Close()

	tickers := make([]TickerRow, 0, 256)
	for rows.Next() {
		var (
			row       TickerRow
			aliasRaw  []byte
			vectorRaw []byte
		)
		if err := rows.Scan(
			&row.TickerID,
			&row.Symbol,
			&row.Name,
			&aliasRaw,
			&row.ISIN,
			&row.Exchange,
			&row.Description,
			&vectorRaw,
		); err != nil {
			return nil, fmt.Errorf("scan ticker row: %w", err)
		}

		row.Aliases = decodeAliases(aliasRaw)
		if len(vectorRaw) > 0 {
			if err := json.Unmarshal(vectorRaw, &row.EmbedVector); err != nil {
				logger.Warn().Str("symbol", row.Symbol).Err(err).Msg("discarding malformed ticker embedding")
				row.EmbedVector = nil
			}
		}
		tickers = append(tickers, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ticker rows: %w", err)
	}
	return tickers, nil
}

// UpsertTicker inserts or updates a catalogue entry by symbol.
func (p *Pool) UpsertTicker(ctx context.Context, row TickerRow) (int64, error) {
	aliases, err := json.Marshal(row.Aliases)
	if err != nil {
		return 0, fmt.Errorf("encode aliases: %w", err)
	}

	now := globaltime.UTC()
	var existingID int64
	err = p.QueryRow(ctx, `SELECT t.ticker_id FROM tickers t WHERE t.symbol = ?`, row.Symbol).Scan(&existingID)
	switch {
	case err == nil:
		const q = `
UPDATE tickers
SET name = ?, aliases = ?, isin = ?, exchange = ?, description = ?, updated_at = ?
WHERE ticker_id = ?
`
		if _, err := p.Exec(ctx, q, row.Name, aliases, row.ISIN, row.Exchange, row.Description, now, existingID); err != nil {
			return 0, fmt.Errorf("update ticker %s: %w", row.Symbol, err)
		}
		return existingID, nil
	case IsNoRows(err):
		ticker := Ticker{
			Symbol:      row.Symbol,
			Name:        row.Name,
			Aliases:     aliases,
			ISIN:        row.ISIN,
			Exchange:    row.Exchange,
			Description: row.Description,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.gdb.WithContext(ctx).Create(&ticker).Error; err != nil {
			return 0, fmt.Errorf("insert ticker %s: %w", row.Symbol, err)
		}
		return ticker.TickerID, nil
	default:
		return 0, fmt.Errorf("look up ticker %s: %w", row.Symbol, err)
	}
}

// StoreTickerEmbedding caches a precomputed semantic vector on the row.
func (p *Pool) StoreTickerEmbedding(ctx context.Context, tickerID int64, vector []float32) error {
	payload, err := json.Marshal(vector)
	if err != nil {
		return fmt.Errorf("encode embedding: %w", err)
	}
	const q = `
UPDATE tickers
SET embed_vector = ?, updated_at = ?
WHERE ticker_id = ?
`
	tag, err := p.Exec(ctx, q, payload, globaltime.UTC(), tickerID)
	if err != nil {
		return fmt.Errorf("store ticker embedding: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("ticker %d not found", tickerID)
	}
	return nil
}

// decodeAliases accepts a JSON array, a JSON string, or a bare string.
// Legacy rows carried all three shapes.
func decodeAliases(raw []byte) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		out := list[:0]
		for _, alias := range list {
			if alias != "" {
				out = append(out, alias)
			}
		}
		return out
	}
	var single string
	if err := json.Unmarshal(raw, &single); err == nil && single != "" {
		return []string{single}
	}
	if s := string(raw); s != "" {
		return []string{s}
	}
	return nil
}
