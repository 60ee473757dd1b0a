package match

import (
	"context"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/textnorm"
)

// FuzzyGenerator scores token-set similarity between the article text and
// each ticker alias. It emits only above the configured fuzzy threshold
// (0-100 scale), normalized to [0,1].
type FuzzyGenerator struct {
	normalizer *textnorm.Normalizer
	aliases    map[int64][]string
}

func NewFuzzyGenerator(normalizer *textnorm.Normalizer) *FuzzyGenerator {
	return &FuzzyGenerator{normalizer: normalizer}
}

func (g *FuzzyGenerator) Name() string { return MethodFuzzy }

func (g *FuzzyGenerator) Prepare(_ context.Context, cat *catalogue.Catalogue, _ *config.Config) error {
	aliases := make(map[int64][]string, cat.Len())
	for _, entry := range cat.Entries() {
		normed := make([]string, 0, 4)
		for _, name := range entry.AllNames() {
			if clean := g.normalizer.Normalize(name).Clean; clean != "" {
				normed = append(normed, clean)
			}
		}
		if len(normed) > 0 {
			aliases[entry.TickerID] = normed
		}
	}
	g.aliases = aliases
	return nil
}

func (g *FuzzyGenerator) Generate(_ context.Context, article Article, cfg *config.Config) (map[int64]Signal, error) {
	if article.Norm.Empty() {
		return nil, nil
	}

	threshold := cfg.FuzzyThreshold
	results := make(map[int64]Signal)
	for tickerID, aliases := range g.aliases {
		bestRatio := 0
		bestAlias := ""
		for _, alias := range aliases {
			ratio := fuzzy.TokenSetRatio(article.Norm.Clean, alias)
			if ratio > bestRatio {
				bestRatio = ratio
				bestAlias = alias
			}
		}
		if bestRatio >= threshold && bestRatio > 0 {
			results[tickerID] = Signal{
				Score:    float64(bestRatio) / 100.0,
				Method:   MethodFuzzy,
				Evidence: bestAlias,
			}
		}
	}
	return results, nil
}
