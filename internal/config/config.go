package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	Environment string `envconfig:"ENVIRONMENT" default:"local"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	DBMinConns  int32  `envconfig:"TL_DB_MIN_CONNS" default:"1"`
	DBMaxConns  int32  `envconfig:"TL_DB_MAX_CONNS" default:"8"`

	BatchSize               int     `envconfig:"TL_BATCH_SIZE" default:"100"`
	ChunkSize               int     `envconfig:"TL_CHUNK_SIZE" default:"100"`
	FuzzyThreshold          int     `envconfig:"TL_FUZZY_THRESHOLD" default:"65"`
	ReviewLowerScore        float64 `envconfig:"TL_REVIEW_LOWER_SCORE" default:"0.60"`
	CosCandidateScore       float64 `envconfig:"TL_COS_CANDIDATE_SCORE" default:"0.60"`
	CosAutoScore            float64 `envconfig:"TL_COS_AUTO_SCORE" default:"0.80"`
	AutoApplyThreshold      float64 `envconfig:"TL_AUTO_APPLY_THRESHOLD" default:"0.85"`
	AutoApplyEnabled        bool    `envconfig:"TL_AUTO_APPLY_ENABLED" default:"true"`
	AllowConfirmedOverwrite bool    `envconfig:"TL_ALLOW_CONFIRMED_OVERWRITE" default:"false"`
	HistoryKeepMax          int     `envconfig:"TL_HISTORY_KEEP_MAX" default:"10"`
	MaxChunkFailures        int     `envconfig:"TL_MAX_CHUNK_FAILURES" default:"3"`
	EnableNER               bool    `envconfig:"TL_ENABLE_NER" default:"true"`
	PipelineVersion         string  `envconfig:"TL_PIPELINE_VERSION" default:"v1"`

	GeneratorTimeout time.Duration `envconfig:"TL_GENERATOR_TIMEOUT" default:"10s"`

	OpenAIAPIKey    string        `envconfig:"TL_OPENAI_API_KEY" default:""`
	OpenAIBaseURL   string        `envconfig:"TL_OPENAI_BASE_URL" default:""`
	EmbeddingModel  string        `envconfig:"TL_EMBEDDING_MODEL" default:"text-embedding-3-small"`
	EmbedRatePerSec float64       `envconfig:"TL_EMBED_RATE_PER_SEC" default:"4"`
	EmbedCacheTTL   time.Duration `envconfig:"TL_EMBED_CACHE_TTL" default:"1h"`

	HTTPHost string `envconfig:"TL_HTTP_HOST" default:"127.0.0.1"`
	HTTPPort int    `envconfig:"TL_HTTP_PORT" default:"8092"`
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if strings.TrimSpace(c.DatabaseURL) == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.DBMinConns < 0 {
		return fmt.Errorf("TL_DB_MIN_CONNS must be >= 0")
	}
	if c.DBMaxConns < 1 {
		return fmt.Errorf("TL_DB_MAX_CONNS must be >= 1")
	}
	if c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("TL_DB_MIN_CONNS (%d) cannot exceed TL_DB_MAX_CONNS (%d)", c.DBMinConns, c.DBMaxConns)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("TL_BATCH_SIZE must be >= 1")
	}
	if c.ChunkSize < 1 {
		return fmt.Errorf("TL_CHUNK_SIZE must be >= 1")
	}
	if c.FuzzyThreshold < 0 || c.FuzzyThreshold > 100 {
		return fmt.Errorf("TL_FUZZY_THRESHOLD must be within [0, 100]")
	}
	for name, value := range map[string]float64{
		"TL_REVIEW_LOWER_SCORE":   c.ReviewLowerScore,
		"TL_COS_CANDIDATE_SCORE":  c.CosCandidateScore,
		"TL_COS_AUTO_SCORE":       c.CosAutoScore,
		"TL_AUTO_APPLY_THRESHOLD": c.AutoApplyThreshold,
	} {
		if value < 0 || value > 1 {
			return fmt.Errorf("%s must be within [0, 1]", name)
		}
	}
	if c.CosAutoScore < c.CosCandidateScore {
		return fmt.Errorf("TL_COS_AUTO_SCORE (%g) cannot be below TL_COS_CANDIDATE_SCORE (%g)", c.CosAutoScore, c.CosCandidateScore)
	}
	if c.HistoryKeepMax < 1 {
		return fmt.Errorf("TL_HISTORY_KEEP_MAX must be >= 1")
	}
	if c.MaxChunkFailures < 1 {
		return fmt.Errorf("TL_MAX_CHUNK_FAILURES must be >= 1")
	}
	if c.GeneratorTimeout <= 0 {
		return fmt.Errorf("TL_GENERATOR_TIMEOUT must be positive")
	}
	return nil
}

// SemanticEnabled reports whether the semantic matcher can be registered at all.
func (c *Config) SemanticEnabled() bool {
	return strings.TrimSpace(c.OpenAIAPIKey) != ""
}
