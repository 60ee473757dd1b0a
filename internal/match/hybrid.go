package match

import (
	"sort"
	"strings"
)

// ScoredCandidate is the per-(article, ticker) output of combining all
// generator signals for one article.
type ScoredCandidate struct {
	ArticleID      int64
	TickerID       int64
	Score          float64
	Method         string
	Evidence       string
	AutoConfidence bool
}

// Hybrid folds per-method signals into one candidate per ticker. The
// strongest raw signal dominates and the remaining signals close part of the
// gap to 1.0, so the combined score is never below any individual signal.
type Hybrid struct {
	weights map[string]float64
}

func NewHybrid(weights map[string]float64) *Hybrid {
	if len(weights) == 0 {
		weights = DefaultWeights
	}
	return &Hybrid{weights: weights}
}

// Combine merges the registry output for one article. Signals for the same
// ticker from different methods collapse into a single candidate whose score
// is best + (1-best) * (1 - prod(1 - w_i*s_i)) over the non-best signals,
// where best is the strongest raw score. Method weights discount only the
// corroborating signals; a solo signal keeps its raw score.
func (h *Hybrid) Combine(articleID int64, signals map[string]map[int64]Signal) []ScoredCandidate {
	byTicker := make(map[int64][]Signal)
	for _, methodSignals := range signals {
		for tickerID, sig := range methodSignals {
			byTicker[tickerID] = append(byTicker[tickerID], sig)
		}
	}

	candidates := make([]ScoredCandidate, 0, len(byTicker))
	for tickerID, sigs := range byTicker {
		candidates = append(candidates, h.combineTicker(articleID, tickerID, sigs))
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].TickerID < candidates[j].TickerID
	})
	return candidates
}

func (h *Hybrid) combineTicker(articleID, tickerID int64, sigs []Signal) ScoredCandidate {
	sort.Slice(sigs, func(i, j int) bool { return sigs[i].Method < sigs[j].Method })

	bestIdx := 0
	best := -1.0
	for i, sig := range sigs {
		if sig.Score > best {
			best = sig.Score
			bestIdx = i
		}
	}
	best = clamp01(best)

	support := 1.0
	for i, sig := range sigs {
		if i == bestIdx {
			continue
		}
		support *= 1 - clamp01(h.weight(sig.Method)*sig.Score)
	}
	score := clamp01(best + (1-best)*(1-support))

	methods := make([]string, 0, len(sigs))
	autoConfidence := false
	var evidence []string
	for _, sig := range sigs {
		methods = append(methods, sig.Method)
		if sig.AutoConfidence {
			autoConfidence = true
		}
		if sig.Evidence != "" {
			evidence = append(evidence, sig.Method+": "+sig.Evidence)
		}
	}

	return ScoredCandidate{
		ArticleID:      articleID,
		TickerID:       tickerID,
		Score:          score,
		Method:         strings.Join(methods, "|"),
		Evidence:       strings.Join(evidence, "; "),
		AutoConfidence: autoConfidence,
	}
}

func (h *Hybrid) weight(method string) float64 {
	if w, ok := h.weights[method]; ok {
		return w
	}
	return 1.0
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
