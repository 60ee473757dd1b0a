package config

import (
	"strings"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		DatabaseURL:        "postgres://localhost:5432/tickerlink",
		DBMinConns:         1,
		DBMaxConns:         8,
		BatchSize:          100,
		ChunkSize:          100,
		FuzzyThreshold:     65,
		ReviewLowerScore:   0.60,
		CosCandidateScore:  0.60,
		CosAutoScore:       0.80,
		AutoApplyThreshold: 0.85,
		HistoryKeepMax:     10,
		MaxChunkFailures:   3,
		GeneratorTimeout:   10 * time.Second,
	}
}

func TestValidateAcceptsDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}
}

func TestValidateErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"missing database url", func(c *Config) { c.DatabaseURL = "  " }, "DATABASE_URL"},
		{"min conns above max", func(c *Config) { c.DBMinConns = 9 }, "TL_DB_MIN_CONNS"},
		{"zero max conns", func(c *Config) { c.DBMaxConns = 0 }, "TL_DB_MAX_CONNS"},
		{"zero batch size", func(c *Config) { c.BatchSize = 0 }, "TL_BATCH_SIZE"},
		{"zero chunk size", func(c *Config) { c.ChunkSize = 0 }, "TL_CHUNK_SIZE"},
		{"fuzzy threshold above 100", func(c *Config) { c.FuzzyThreshold = 101 }, "TL_FUZZY_THRESHOLD"},
		{"negative review score", func(c *Config) { c.ReviewLowerScore = -0.1 }, "TL_REVIEW_LOWER_SCORE"},
		{"auto apply above one", func(c *Config) { c.AutoApplyThreshold = 1.5 }, "TL_AUTO_APPLY_THRESHOLD"},
		{"cos auto below candidate", func(c *Config) { c.CosAutoScore = 0.5 }, "TL_COS_AUTO_SCORE"},
		{"zero history keep", func(c *Config) { c.HistoryKeepMax = 0 }, "TL_HISTORY_KEEP_MAX"},
		{"zero chunk failures", func(c *Config) { c.MaxChunkFailures = 0 }, "TL_MAX_CHUNK_FAILURES"},
		{"zero generator timeout", func(c *Config) { c.GeneratorTimeout = 0 }, "TL_GENERATOR_TIMEOUT"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected a validation error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestSemanticEnabled(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	if cfg.SemanticEnabled() {
		t.Fatal("no API key means semantic matching is off")
	}
	cfg.OpenAIAPIKey = "  "
	if cfg.SemanticEnabled() {
		t.Fatal("a blank API key must not enable semantic matching")
	}
	cfg.OpenAIAPIKey = "sk-test"
	if !cfg.SemanticEnabled() {
		t.Fatal("an API key enables semantic matching")
	}
}
