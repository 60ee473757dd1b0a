package match

import (
	"context"
	"strings"
	"unicode"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/textnorm"
)

// legalForms are organization markers whose following span is almost always
// a company name ("ПАО «Сбербанк»", "Acme Inc").
var legalForms = map[string]struct{}{
	"пао": {}, "оао": {}, "зао": {}, "ооо": {}, "ао": {}, "гк": {},
	"банк": {}, "группа": {}, "холдинг": {},
	"inc": {}, "corp": {}, "ltd": {}, "llc": {}, "plc": {},
	"group": {}, "bank": {}, "holding": {},
}

const (
	nerExactScore     = 0.95
	nerContainsScore  = 0.85
	nerFuzzyScore     = 0.75
	nerFuzzyMinRatio  = 80
	nerLongSpanBonus  = 0.05
	nerLongSpanLength = 10
)

// NERGenerator extracts organization-looking spans (quoted names, capitalized
// runs, legal-form-marked names) and resolves them against the catalogue.
// It has no model dependency; when disabled it is absent from the registry.
type NERGenerator struct {
	normalizer *textnorm.Normalizer
	exact      map[string][]int64
	aliases    map[int64][]string
}

func NewNERGenerator(normalizer *textnorm.Normalizer) *NERGenerator {
	return &NERGenerator{normalizer: normalizer}
}

func (g *NERGenerator) Name() string { return MethodNER }

func (g *NERGenerator) Prepare(_ context.Context, cat *catalogue.Catalogue, _ *config.Config) error {
	exact := make(map[string][]int64)
	aliases := make(map[int64][]string, cat.Len())
	for _, entry := range cat.Entries() {
		normed := make([]string, 0, 4)
		for _, name := range entry.AllNames() {
			clean := g.normalizer.Normalize(name).Clean
			if clean == "" {
				continue
			}
			normed = append(normed, clean)
			exact[clean] = append(exact[clean], entry.TickerID)
		}
		if len(normed) > 0 {
			aliases[entry.TickerID] = normed
		}
	}
	g.exact = exact
	g.aliases = aliases
	return nil
}

func (g *NERGenerator) Generate(_ context.Context, article Article, cfg *config.Config) (map[int64]Signal, error) {
	spans := extractEntitySpans(article.RawText)
	if len(spans) == 0 {
		return nil, nil
	}

	results := make(map[int64]Signal)
	for _, span := range spans {
		normSpan := g.normalizer.Normalize(span).Clean
		if normSpan == "" {
			continue
		}

		// exact catalogue hit first, the cheap path
		if tickerIDs, ok := g.exact[normSpan]; ok {
			for _, tickerID := range tickerIDs {
				keepBest(results, tickerID, Signal{
					Score:    spanScore(nerExactScore, span),
					Method:   MethodNER,
					Evidence: span,
				}, cfg.ReviewLowerScore)
			}
			continue
		}

		for tickerID, aliases := range g.aliases {
			best := 0.0
			for _, alias := range aliases {
				var score float64
				switch {
				case textnorm.ContainsToken(alias, normSpan) || textnorm.ContainsToken(normSpan, alias):
					score = nerContainsScore
				case fuzzy.Ratio(normSpan, alias) >= nerFuzzyMinRatio:
					score = nerFuzzyScore
				}
				if score > best {
					best = score
				}
			}
			if best > 0 {
				keepBest(results, tickerID, Signal{
					Score:    spanScore(best, span),
					Method:   MethodNER,
					Evidence: span,
				}, cfg.ReviewLowerScore)
			}
		}
	}
	return results, nil
}

func keepBest(results map[int64]Signal, tickerID int64, signal Signal, floor float64) {
	if signal.Score < floor {
		return
	}
	if existing, ok := results[tickerID]; ok && existing.Score >= signal.Score {
		return
	}
	results[tickerID] = signal
}

func spanScore(base float64, span string) float64 {
	if len([]rune(span)) > nerLongSpanLength {
		base += nerLongSpanBonus
	}
	if base > 1.0 {
		return 1.0
	}
	return base
}

// extractEntitySpans pulls organization-looking spans out of raw text:
// quoted names, maximal runs of capitalized words, and spans following a
// legal-form marker.
func extractEntitySpans(text string) []string {
	if text == "" {
		return nil
	}

	seen := make(map[string]struct{})
	var spans []string
	push := func(span string) {
		span = strings.TrimSpace(span)
		if span == "" || len([]rune(span)) < 2 {
			return
		}
		if _, ok := seen[span]; ok {
			return
		}
		seen[span] = struct{}{}
		spans = append(spans, span)
	}

	for _, quoted := range extractQuoted(text) {
		push(quoted)
	}

	words := strings.Fields(text)
	var run []string
	flushRun := func() {
		if len(run) > 0 {
			push(strings.Join(run, " "))
			run = nil
		}
	}
	for i, word := range words {
		trimmed := strings.TrimFunc(word, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsDigit(r)
		})
		if trimmed == "" {
			flushRun()
			continue
		}
		if isCapitalized(trimmed) && i > 0 {
			run = append(run, trimmed)
			continue
		}
		flushRun()
		if _, ok := legalForms[strings.ToLower(trimmed)]; ok && i+1 < len(words) {
			next := strings.TrimFunc(words[i+1], func(r rune) bool {
				return !unicode.IsLetter(r) && !unicode.IsDigit(r)
			})
			if isCapitalized(next) {
				push(next)
			}
		}
	}
	flushRun()
	return spans
}

func extractQuoted(text string) []string {
	var quoted []string
	for _, pair := range [][2]rune{{'«', '»'}, {'"', '"'}, {'„', '“'}} {
		rest := text
		for {
			open := strings.IndexRune(rest, pair[0])
			if open < 0 {
				break
			}
			rest = rest[open+len(string(pair[0])):]
			closing := strings.IndexRune(rest, pair[1])
			if closing < 0 {
				break
			}
			quoted = append(quoted, rest[:closing])
			rest = rest[closing+len(string(pair[1])):]
		}
	}
	return quoted
}

func isCapitalized(word string) bool {
	runes := []rune(word)
	if len(runes) < 2 {
		return false
	}
	return unicode.IsUpper(runes[0]) && unicode.IsLetter(runes[0])
}
