package match

import (
	"math"
	"strings"
	"testing"
)

func TestHybridSoloSignalKeepsRawScore(t *testing.T) {
	t.Parallel()

	hybrid := NewHybrid(nil)
	candidates := hybrid.Combine(100, map[string]map[int64]Signal{
		MethodFuzzy: {
			1: {Score: 0.9, Method: MethodFuzzy},
		},
	})
	if len(candidates) != 1 {
		t.Fatalf("expected one candidate, got %v", candidates)
	}
	got := candidates[0]
	if got.ArticleID != 100 || got.TickerID != 1 {
		t.Fatalf("unexpected identity: %+v", got)
	}
	if math.Abs(got.Score-0.9) > 1e-9 {
		t.Fatalf("solo signal must keep its raw score 0.9, got %g", got.Score)
	}
	if got.Method != MethodFuzzy {
		t.Fatalf("unexpected method trail %q", got.Method)
	}
}

func TestHybridSoloSemanticSurvivesReviewFloor(t *testing.T) {
	t.Parallel()

	// A strong semantic-only match must stay above the default persistence
	// floor of 0.60 instead of being discounted to 0.6*sim.
	got := NewHybrid(nil).Combine(1, map[string]map[int64]Signal{
		MethodSemantic: {4: {Score: 0.95, Method: MethodSemantic, AutoConfidence: true}},
	})[0]
	if math.Abs(got.Score-0.95) > 1e-9 {
		t.Fatalf("expected raw 0.95, got %g", got.Score)
	}
	if got.Score < 0.60 {
		t.Fatalf("semantic-only candidate dropped below the review floor: %g", got.Score)
	}
}

func TestHybridCombinedAtLeastMaxIndividual(t *testing.T) {
	t.Parallel()

	hybrid := NewHybrid(nil)
	got := hybrid.Combine(1, map[string]map[int64]Signal{
		MethodFuzzy: {8: {Score: 0.9, Method: MethodFuzzy}},
		MethodNER:   {8: {Score: 0.9, Method: MethodNER}},
	})[0]
	if got.Score < 0.9 {
		t.Fatalf("two agreeing methods scored %g, below the individual max 0.9", got.Score)
	}
	// best 0.9 + 0.1 * (ner weight 0.7 * 0.9)
	want := 0.9 + 0.1*0.63
	if math.Abs(got.Score-want) > 1e-9 {
		t.Fatalf("expected %g, got %g", want, got.Score)
	}
}

func TestHybridCorroborationNeverLowersScore(t *testing.T) {
	t.Parallel()

	hybrid := NewHybrid(nil)

	alone := hybrid.Combine(1, map[string]map[int64]Signal{
		MethodSubstring: {7: {Score: 1.0, Method: MethodSubstring}},
	})[0].Score

	corroborated := hybrid.Combine(1, map[string]map[int64]Signal{
		MethodSubstring: {7: {Score: 1.0, Method: MethodSubstring}},
		MethodFuzzy:     {7: {Score: 0.7, Method: MethodFuzzy}},
		MethodSemantic:  {7: {Score: 0.65, Method: MethodSemantic}},
	})[0].Score

	if corroborated < alone {
		t.Fatalf("corroboration lowered score: %g < %g", corroborated, alone)
	}
	if corroborated > 1.0 {
		t.Fatalf("score above 1.0: %g", corroborated)
	}
}

func TestHybridCombinationFormula(t *testing.T) {
	t.Parallel()

	hybrid := NewHybrid(nil)
	got := hybrid.Combine(1, map[string]map[int64]Signal{
		MethodSubstring: {3: {Score: 0.8, Method: MethodSubstring}},
		MethodNER:       {3: {Score: 0.5, Method: MethodNER}},
	})[0]

	// best = raw 0.8, support = 1 - (1 - 0.5*0.7)
	want := 0.8 + (1-0.8)*(1-(1-0.35))
	if math.Abs(got.Score-want) > 1e-9 {
		t.Fatalf("expected %g, got %g", want, got.Score)
	}
}

func TestHybridMethodTrailAndAutoConfidence(t *testing.T) {
	t.Parallel()

	hybrid := NewHybrid(nil)
	got := hybrid.Combine(5, map[string]map[int64]Signal{
		MethodSemantic:  {2: {Score: 0.85, Method: MethodSemantic, AutoConfidence: true, Evidence: "cosine=0.850"}},
		MethodSubstring: {2: {Score: 1.0, Method: MethodSubstring, Evidence: "газпром"}},
	})[0]

	if got.Method != MethodSemantic+"|"+MethodSubstring {
		t.Fatalf("unexpected method trail %q", got.Method)
	}
	if !got.AutoConfidence {
		t.Fatal("expected auto confidence to propagate")
	}
	if !strings.Contains(got.Evidence, "газпром") || !strings.Contains(got.Evidence, "cosine") {
		t.Fatalf("unexpected evidence %q", got.Evidence)
	}
}

func TestHybridOrdersByScoreThenTicker(t *testing.T) {
	t.Parallel()

	hybrid := NewHybrid(nil)
	candidates := hybrid.Combine(9, map[string]map[int64]Signal{
		MethodSubstring: {
			1: {Score: 0.7, Method: MethodSubstring},
			2: {Score: 1.0, Method: MethodSubstring},
			3: {Score: 0.7, Method: MethodSubstring},
		},
	})
	if len(candidates) != 3 {
		t.Fatalf("expected three candidates, got %d", len(candidates))
	}
	if candidates[0].TickerID != 2 {
		t.Fatalf("expected strongest candidate first, got %+v", candidates[0])
	}
	if candidates[1].TickerID != 1 || candidates[2].TickerID != 3 {
		t.Fatalf("expected ticker id tiebreak, got %+v", candidates)
	}
}

func TestHybridEmptyInput(t *testing.T) {
	t.Parallel()

	if got := NewHybrid(nil).Combine(1, nil); len(got) != 0 {
		t.Fatalf("expected no candidates, got %v", got)
	}
}
