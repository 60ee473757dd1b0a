package match

import (
	"context"
	"reflect"
	"sort"
	"testing"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/textnorm"
)

func TestExtractEntitySpans(t *testing.T) {
	t.Parallel()

	spans := extractEntitySpans(`Глава ПАО «Сбербанк» встретился с руководством Газпром Нефть в Москве`)
	sort.Strings(spans)
	want := []string{"Газпром Нефть", "Москве", "ПАО Сбербанк", "Сбербанк"}
	if !reflect.DeepEqual(spans, want) {
		t.Fatalf("unexpected spans: %v", spans)
	}
}

func TestExtractEntitySpansLegalFormMarker(t *testing.T) {
	t.Parallel()

	spans := extractEntitySpans("отчетность ооо Ромашка за квартал")
	if !reflect.DeepEqual(spans, []string{"Ромашка"}) {
		t.Fatalf("unexpected spans: %v", spans)
	}

	if spans := extractEntitySpans(""); spans != nil {
		t.Fatalf("expected nil for empty text, got %v", spans)
	}
}

func TestNERGeneratorExactQuotedMatch(t *testing.T) {
	t.Parallel()

	gen := NewNERGenerator(textnorm.New(nil))
	if err := gen.Prepare(context.Background(), testCatalogue(), testConfig()); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	article := testArticle(30, `Выручка ПАО «Сбербанк» превысила прогнозы`)
	signals, err := gen.Generate(context.Background(), article, testConfig())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	sig, ok := signals[1]
	if !ok {
		t.Fatalf("expected a signal for ticker 1, got %v", signals)
	}
	if sig.Score != nerExactScore {
		t.Fatalf("expected exact score %g, got %g", nerExactScore, sig.Score)
	}
	if sig.Evidence != "Сбербанк" {
		t.Fatalf("unexpected evidence %q", sig.Evidence)
	}
}

func TestNERGeneratorHonorsScoreFloor(t *testing.T) {
	t.Parallel()

	gen := NewNERGenerator(textnorm.New(nil))
	cfg := testConfig()
	cfg.ReviewLowerScore = 0.99
	if err := gen.Prepare(context.Background(), testCatalogue(), cfg); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	signals, err := gen.Generate(context.Background(), testArticle(31, `Выручка ПАО «Сбербанк» превысила прогнозы`), cfg)
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected floor to drop all signals, got %v", signals)
	}
}

func TestNERGeneratorNoSpans(t *testing.T) {
	t.Parallel()

	gen := NewNERGenerator(textnorm.New(nil))
	if err := gen.Prepare(context.Background(), testCatalogue(), testConfig()); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}
	signals, err := gen.Generate(context.Background(), testArticle(32, "рынок закрылся без изменений"), testConfig())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if len(signals) != 0 {
		t.Fatalf("expected no signals without entity spans, got %v", signals)
	}
}

func TestKeepBestPrefersHigherScore(t *testing.T) {
	t.Parallel()

	results := map[int64]Signal{}
	keepBest(results, 1, Signal{Score: 0.75}, 0.6)
	keepBest(results, 1, Signal{Score: 0.95}, 0.6)
	keepBest(results, 1, Signal{Score: 0.80}, 0.6)
	if results[1].Score != 0.95 {
		t.Fatalf("expected best score kept, got %g", results[1].Score)
	}
	keepBest(results, 2, Signal{Score: 0.50}, 0.6)
	if _, ok := results[2]; ok {
		t.Fatal("expected sub-floor signal to be dropped")
	}
}

func TestNERGeneratorContainsMatch(t *testing.T) {
	t.Parallel()

	cat := catalogue.FromEntries([]catalogue.Entry{
		{TickerID: 9, Symbol: "GAZP", Name: "Газпром Нефть"},
	})
	gen := NewNERGenerator(textnorm.New(nil))
	if err := gen.Prepare(context.Background(), cat, testConfig()); err != nil {
		t.Fatalf("prepare failed: %v", err)
	}

	// span "Газпром" is contained in the catalogue alias on a token boundary
	signals, err := gen.Generate(context.Background(), testArticle(33, "акции Газпром выросли"), testConfig())
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	sig, ok := signals[9]
	if !ok {
		t.Fatalf("expected a containment signal, got %v", signals)
	}
	if sig.Score != nerContainsScore {
		t.Fatalf("expected containment score %g, got %g", nerContainsScore, sig.Score)
	}
}
