// Package embed produces text embeddings for the semantic matcher.
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
	"golang.org/x/time/rate"

	"github.com/moexlab/tickerlink/internal/config"
)

// Service wraps the embeddings API with a content-hash cache and a rate
// limiter so repeated chunks of a resumed run do not re-bill.
type Service struct {
	client  *openai.Client
	model   string
	cache   *gocache.Cache
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewService builds the embedding service, or returns nil when no API key is
// configured: the semantic matcher is then simply absent from the registry.
func NewService(cfg *config.Config, logger zerolog.Logger) *Service {
	if cfg == nil || !cfg.SemanticEnabled() {
		return nil
	}

	clientConfig := openai.DefaultConfig(strings.TrimSpace(cfg.OpenAIAPIKey))
	if base := strings.TrimSpace(cfg.OpenAIBaseURL); base != "" {
		clientConfig.BaseURL = base
	}

	perSec := cfg.EmbedRatePerSec
	if perSec <= 0 {
		perSec = 4
	}
	ttl := cfg.EmbedCacheTTL
	if ttl <= 0 {
		ttl = time.Hour
	}

	return &Service{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.EmbeddingModel,
		cache:   gocache.New(ttl, 2*ttl),
		limiter: rate.NewLimiter(rate.Limit(perSec), 2),
		logger:  logger,
	}
}

func (s *Service) Model() string {
	if s == nil {
		return ""
	}
	return s.model
}

// EmbedText returns the embedding vector for text, serving repeats from the
// cache keyed by model and content hash.
func (s *Service) EmbedText(ctx context.Context, text string) ([]float32, error) {
	if s == nil {
		return nil, fmt.Errorf("embedding service is not configured")
	}
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}

	key := cacheKey(s.model, trimmed)
	if cached, found := s.cache.Get(key); found {
		if vector, ok := cached.([]float32); ok {
			return vector, nil
		}
	}

	if err := s.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding rate limit wait: %w", err)
	}

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{trimmed},
		Model: openai.EmbeddingModel(s.model),
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("embedding response is empty")
	}

	vector := resp.Data[0].Embedding
	s.cache.Set(key, vector, gocache.DefaultExpiration)
	return vector, nil
}

func cacheKey(model, text string) string {
	sum := sha256.Sum256([]byte(model + "\x00" + text))
	return hex.EncodeToString(sum[:])
}
