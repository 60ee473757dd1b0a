// Package catalogue holds the in-memory ticker reference used by all
// matchers. The catalogue is read-only during a run and refreshed between
// runs.
package catalogue

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/db"
)

// Entry is one ticker with its matchable name surface.
type Entry struct {
	TickerID    int64
	Symbol      string
	Name        string
	Aliases     []string
	ISIN        *string
	Exchange    *string
	Description *string
	EmbedVector []float32
}

// AllNames returns every textual form the ticker may be mentioned under:
// symbol first, then display name, aliases, and description.
func (e *Entry) AllNames() []string {
	names := make([]string, 0, len(e.Aliases)+3)
	seen := make(map[string]struct{}, len(e.Aliases)+3)
	push := func(value string) {
		if value == "" {
			return
		}
		if _, ok := seen[value]; ok {
			return
		}
		seen[value] = struct{}{}
		names = append(names, value)
	}

	push(e.Symbol)
	push(e.Name)
	for _, alias := range e.Aliases {
		push(alias)
	}
	if e.Description != nil {
		push(*e.Description)
	}
	return names
}

type Catalogue struct {
	entries []Entry
	byID    map[int64]*Entry
}

// Load reads the full reference from the database. Partial-row tolerance
// lives in the query layer; a ticker with a broken alias or vector field
// still loads with that field degraded.
func Load(ctx context.Context, pool *db.Pool, logger zerolog.Logger) (*Catalogue, error) {
	rows, err := pool.LoadTickers(ctx, logger)
	if err != nil {
		return nil, fmt.Errorf("load ticker catalogue: %w", err)
	}

	entries := make([]Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, Entry{
			TickerID:    row.TickerID,
			Symbol:      row.Symbol,
			Name:        row.Name,
			Aliases:     row.Aliases,
			ISIN:        row.ISIN,
			Exchange:    row.Exchange,
			Description: row.Description,
			EmbedVector: row.EmbedVector,
		})
	}
	return FromEntries(entries), nil
}

// FromEntries builds a catalogue from already-typed entries. Tests use this
// directly.
func FromEntries(entries []Entry) *Catalogue {
	byID := make(map[int64]*Entry, len(entries))
	for i := range entries {
		byID[entries[i].TickerID] = &entries[i]
	}
	return &Catalogue{entries: entries, byID: byID}
}

func (c *Catalogue) Entries() []Entry {
	if c == nil {
		return nil
	}
	return c.entries
}

func (c *Catalogue) ByID(tickerID int64) (*Entry, bool) {
	if c == nil {
		return nil, false
	}
	entry, ok := c.byID[tickerID]
	return entry, ok
}

func (c *Catalogue) Len() int {
	if c == nil {
		return 0
	}
	return len(c.entries)
}
