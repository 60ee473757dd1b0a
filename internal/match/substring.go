package match

import (
	"context"
	"sort"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/textnorm"
)

// SubstringGenerator matches exact containment of a normalized alias inside
// the normalized article text. Longer aliases win ties so that short,
// ambiguous symbols do not shadow a full company name match.
type SubstringGenerator struct {
	normalizer *textnorm.Normalizer
	aliases    map[int64][]string
}

func NewSubstringGenerator(normalizer *textnorm.Normalizer) *SubstringGenerator {
	return &SubstringGenerator{normalizer: normalizer}
}

func (g *SubstringGenerator) Name() string { return MethodSubstring }

func (g *SubstringGenerator) Prepare(_ context.Context, cat *catalogue.Catalogue, _ *config.Config) error {
	aliases := make(map[int64][]string, cat.Len())
	for _, entry := range cat.Entries() {
		normed := make([]string, 0, 4)
		for _, name := range entry.AllNames() {
			if clean := g.normalizer.Normalize(name).Clean; clean != "" {
				normed = append(normed, clean)
			}
		}
		// longest first, so the first hit is the most specific one
		sort.Slice(normed, func(i, j int) bool { return len(normed[i]) > len(normed[j]) })
		if len(normed) > 0 {
			aliases[entry.TickerID] = normed
		}
	}
	g.aliases = aliases
	return nil
}

func (g *SubstringGenerator) Generate(_ context.Context, article Article, _ *config.Config) (map[int64]Signal, error) {
	if article.Norm.Empty() {
		return nil, nil
	}

	results := make(map[int64]Signal)
	for tickerID, aliases := range g.aliases {
		for _, alias := range aliases {
			if textnorm.ContainsToken(article.Norm.Clean, alias) {
				results[tickerID] = Signal{
					Score:    1.0,
					Method:   MethodSubstring,
					Evidence: alias,
				}
				break
			}
		}
	}
	return results, nil
}
