package catalogue

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm/logger"

	"github.com/moexlab/tickerlink/internal/db"
)

func newImportPool(t *testing.T) *db.Pool {
	t.Helper()
	pool, err := db.NewPoolWithDialector(context.Background(), sqlite.Open(":memory:"), logger.Silent)
	if err != nil {
		t.Fatalf("open test pool: %v", err)
	}
	t.Cleanup(func() { _ = pool.Close() })
	return pool
}

func TestImportFeedSkipsInvalidRows(t *testing.T) {
	t.Parallel()

	pool := newImportPool(t)
	feed := `[
		{"symbol": "SBER", "name": "Сбербанк", "aliases": ["Сбер", "Sberbank"], "isin": "RU0009029540"},
		{"symbol": "lower-case", "name": "bad symbol"},
		{"name": "missing symbol"},
		{"symbol": "GAZP", "name": "Газпром", "unknown_field": true},
		{"symbol": "YDEX", "name": "Яндекс"}
	]`

	result, err := ImportFeed(context.Background(), pool, strings.NewReader(feed), zerolog.Nop())
	if err != nil {
		t.Fatalf("import failed: %v", err)
	}
	if result.Total != 5 || result.Imported != 2 || result.Skipped != 3 {
		t.Fatalf("unexpected totals: %+v", result)
	}

	cat, err := Load(context.Background(), pool, zerolog.Nop())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cat.Len() != 2 {
		t.Fatalf("expected 2 catalogue entries, got %d", cat.Len())
	}

	var sber *Entry
	for i := range cat.Entries() {
		if cat.Entries()[i].Symbol == "SBER" {
			sber = &cat.Entries()[i]
		}
	}
	if sber == nil {
		t.Fatal("SBER not imported")
	}
	if !reflect.DeepEqual(sber.Aliases, []string{"Сбер", "Sberbank"}) {
		t.Fatalf("aliases lost: %v", sber.Aliases)
	}
	if sber.ISIN == nil || *sber.ISIN != "RU0009029540" {
		t.Fatalf("isin lost: %v", sber.ISIN)
	}
}

func TestImportFeedUpsertsBySymbol(t *testing.T) {
	t.Parallel()

	pool := newImportPool(t)
	ctx := context.Background()

	if _, err := ImportFeed(ctx, pool, strings.NewReader(`[{"symbol": "SBER", "name": "Сбербанк"}]`), zerolog.Nop()); err != nil {
		t.Fatalf("first import failed: %v", err)
	}
	if _, err := ImportFeed(ctx, pool, strings.NewReader(`[{"symbol": "SBER", "name": "Сбербанк России", "aliases": ["Сбер"]}]`), zerolog.Nop()); err != nil {
		t.Fatalf("second import failed: %v", err)
	}

	cat, err := Load(ctx, pool, zerolog.Nop())
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if cat.Len() != 1 {
		t.Fatalf("re-import must not duplicate, got %d entries", cat.Len())
	}
	entry := cat.Entries()[0]
	if entry.Name != "Сбербанк России" || !reflect.DeepEqual(entry.Aliases, []string{"Сбер"}) {
		t.Fatalf("re-import did not update the row: %+v", entry)
	}
}

func TestImportFeedRejectsMalformedPayload(t *testing.T) {
	t.Parallel()

	pool := newImportPool(t)
	if _, err := ImportFeed(context.Background(), pool, strings.NewReader(`{"symbol": "SBER"}`), zerolog.Nop()); err == nil {
		t.Fatal("a non-array payload must fail the import")
	}
}

func TestAllNamesDeduplicates(t *testing.T) {
	t.Parallel()

	desc := "Крупнейший банк"
	entry := Entry{
		TickerID:    1,
		Symbol:      "SBER",
		Name:        "Сбербанк",
		Aliases:     []string{"Сбер", "Сбербанк", ""},
		Description: &desc,
	}
	got := entry.AllNames()
	want := []string{"SBER", "Сбербанк", "Сбер", "Крупнейший банк"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("AllNames() = %v, want %v", got, want)
	}
}

func TestByID(t *testing.T) {
	t.Parallel()

	cat := FromEntries([]Entry{{TickerID: 7, Symbol: "GAZP"}})
	entry, ok := cat.ByID(7)
	if !ok || entry.Symbol != "GAZP" {
		t.Fatalf("lookup failed: %v %v", entry, ok)
	}
	if _, ok := cat.ByID(8); ok {
		t.Fatal("unknown id must miss")
	}

	var nilCat *Catalogue
	if nilCat.Len() != 0 {
		t.Fatal("nil catalogue has zero length")
	}
}
