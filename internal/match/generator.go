// Package match implements the candidate generation strategies and the
// hybrid scorer that merges their signals.
package match

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/moexlab/tickerlink/internal/catalogue"
	"github.com/moexlab/tickerlink/internal/config"
	"github.com/moexlab/tickerlink/internal/textnorm"
)

// Generator method names as they appear in candidate method trails.
const (
	MethodSubstring = "substring"
	MethodFuzzy     = "fuzzy"
	MethodNER       = "ner"
	MethodSemantic  = "semantic"
)

// DefaultWeights order the strategies by trustworthiness when the hybrid
// scorer folds corroborating signals together.
var DefaultWeights = map[string]float64{
	MethodSubstring: 1.0,
	MethodFuzzy:     0.8,
	MethodNER:       0.7,
	MethodSemantic:  0.6,
}

// Article is the normalized input every generator consumes.
type Article struct {
	ArticleID int64
	RawText   string
	Norm      textnorm.NormalizedText
	Language  string
}

// Signal is one generator's evidence for a (article, ticker) link.
type Signal struct {
	Score          float64
	Method         string
	Evidence       string
	AutoConfidence bool
}

// Generator is one pluggable candidate strategy. Prepare runs once per
// catalogue refresh; Generate must tolerate any input and degrade to an
// empty result instead of failing the article.
type Generator interface {
	Name() string
	Prepare(ctx context.Context, cat *catalogue.Catalogue, cfg *config.Config) error
	Generate(ctx context.Context, article Article, cfg *config.Config) (map[int64]Signal, error)
}

// Registry holds the strategies that are actually available. A strategy
// whose optional dependency is missing is absent from the list, not branched
// on at runtime.
type Registry struct {
	generators []Generator
	logger     zerolog.Logger

	mu        sync.Mutex
	failedLog map[string]struct{}
}

// NewRegistry prepares every available generator against the catalogue.
// A generator that fails to prepare is dropped with a single log line.
func NewRegistry(ctx context.Context, candidates []Generator, cat *catalogue.Catalogue, cfg *config.Config, logger zerolog.Logger) *Registry {
	registry := &Registry{
		logger:    logger,
		failedLog: make(map[string]struct{}),
	}
	for _, gen := range candidates {
		if gen == nil {
			continue
		}
		if err := gen.Prepare(ctx, cat, cfg); err != nil {
			logger.Warn().Str("generator", gen.Name()).Err(err).Msg("generator unavailable, skipping")
			continue
		}
		registry.generators = append(registry.generators, gen)
	}
	logger.Info().Int("generators", len(registry.generators)).Msg("candidate generator registry prepared")
	return registry
}

func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.generators))
	for _, gen := range r.generators {
		names = append(names, gen.Name())
	}
	return names
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.generators)
}

// Generate runs every available strategy against one article, bounding each
// by the configured per-generator timeout. A failing or timed-out strategy
// contributes an empty result; the failure is logged once per registry
// lifetime, not once per article.
func (r *Registry) Generate(ctx context.Context, article Article, cfg *config.Config) map[string]map[int64]Signal {
	results := make(map[string]map[int64]Signal, len(r.generators))
	for _, gen := range r.generators {
		genCtx := ctx
		var cancel context.CancelFunc
		if cfg.GeneratorTimeout > 0 {
			genCtx, cancel = context.WithTimeout(ctx, cfg.GeneratorTimeout)
		}
		signals, err := gen.Generate(genCtx, article, cfg)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			r.logFailureOnce(gen.Name(), err)
			continue
		}
		if len(signals) > 0 {
			results[gen.Name()] = signals
		}
	}
	return results
}

func (r *Registry) logFailureOnce(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, logged := r.failedLog[name]; logged {
		return
	}
	r.failedLog[name] = struct{}{}
	r.logger.Warn().Str("generator", name).Err(err).Msg("generator failed, contributing empty results for this run")
}
