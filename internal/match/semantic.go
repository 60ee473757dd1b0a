package match

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/config"
)

// Embedder produces embedding vectors for arbitrary text.
type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// VectorStore persists freshly computed ticker vectors so later runs reuse
// them. May be nil (vectors stay in memory for the run).
type VectorStore interface {
	StoreTickerEmbedding(ctx context.Context, tickerID int64, vector []float32) error
}

// SemanticGenerator compares an article embedding against precomputed ticker
// vectors by cosine similarity. Registered only when an embedder exists.
type SemanticGenerator struct {
	embedder Embedder
	store    VectorStore
	logger   zerolog.Logger
	vectors  map[int64][]float32
}

func NewSemanticGenerator(embedder Embedder, store VectorStore, logger zerolog.Logger) *SemanticGenerator {
	return &SemanticGenerator{embedder: embedder, store: store, logger: logger}
}

func (g *SemanticGenerator) Name() string { return MethodSemantic }

// Prepare collects ticker vectors, computing and persisting missing ones.
// A ticker whose embedding cannot be computed is skipped, not fatal.
func (g *SemanticGenerator) Prepare(ctx context.Context, cat *catalogue.Catalogue, _ *config.Config) error {
	if g.embedder == nil {
		return fmt.Errorf("no embedder configured")
	}

	vectors := make(map[int64][]float32, cat.Len())
	for _, entry := range cat.Entries() {
		if len(entry.EmbedVector) > 0 {
			vectors[entry.TickerID] = entry.EmbedVector
			continue
		}

		names := entry.AllNames()
		if len(names) == 0 {
			continue
		}
		vector, err := g.embedder.EmbedText(ctx, strings.Join(names, " "))
		if err != nil {
			g.logger.Warn().Str("symbol", entry.Symbol).Err(err).Msg("skipping ticker without embedding")
			continue
		}
		vectors[entry.TickerID] = vector
		if g.store != nil {
			if err := g.store.StoreTickerEmbedding(ctx, entry.TickerID, vector); err != nil {
				g.logger.Warn().Str("symbol", entry.Symbol).Err(err).Msg("failed to cache ticker embedding")
			}
		}
	}
	if len(vectors) == 0 {
		return fmt.Errorf("no ticker vectors available")
	}
	g.vectors = vectors
	return nil
}

func (g *SemanticGenerator) Generate(ctx context.Context, article Article, cfg *config.Config) (map[int64]Signal, error) {
	if strings.TrimSpace(article.RawText) == "" {
		return nil, nil
	}

	articleVector, err := g.embedder.EmbedText(ctx, article.RawText)
	if err != nil {
		return nil, fmt.Errorf("embed article %d: %w", article.ArticleID, err)
	}

	results := make(map[int64]Signal)
	for tickerID, vector := range g.vectors {
		similarity := cosineSimilarity(articleVector, vector)
		if similarity < cfg.CosCandidateScore {
			continue
		}
		results[tickerID] = Signal{
			Score:          similarity,
			Method:         MethodSemantic,
			Evidence:       fmt.Sprintf("cosine=%.3f model=%s", similarity, g.embedder.Model()),
			AutoConfidence: similarity >= cfg.CosAutoScore,
		}
	}
	return results, nil
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
