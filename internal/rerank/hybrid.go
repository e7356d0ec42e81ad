package rerank

import (
	"context"
	"strconv"

	"github.com/coreindex/coreindex/internal/search"
)

// HybridConfig weights the primary and fallback rerankers' scores when
// both succeed.
type HybridConfig struct {
	// PrimaryWeight and FallbackWeight combine as
	// w_p*primary + w_f*fallback when both rerankers return a score for
	// a candidate. They need not sum to 1.
	PrimaryWeight  float64
	FallbackWeight float64
}

// DefaultHybridConfig weights the primary reranker more heavily; the
// fallback only meaningfully contributes when the primary is degraded.
func DefaultHybridConfig() HybridConfig {
	return HybridConfig{PrimaryWeight: 0.7, FallbackWeight: 0.3}
}

// HybridReranker invokes a primary reranker and, on error, falls back to
// a secondary. When the primary succeeds, its scores are blended with a
// best-effort fallback pass so the final ranking benefits from both
// signals; if the fallback also fails, the primary's ranking stands.
type HybridReranker struct {
	primary  search.Reranker
	fallback search.Reranker
	cfg      HybridConfig
}

var _ search.Reranker = (*HybridReranker)(nil)

// NewHybridReranker creates a combinator over primary and fallback.
func NewHybridReranker(primary, fallback search.Reranker, cfg HybridConfig) *HybridReranker {
	return &HybridReranker{primary: primary, fallback: fallback, cfg: cfg}
}

// Rerank runs the primary reranker; on error it degrades to the
// fallback's ranking alone. When the primary succeeds, it also asks the
// fallback to score the same candidates and, if that succeeds too,
// blends the two scores by the configured weights before re-sorting.
func (h *HybridReranker) Rerank(ctx context.Context, query string, candidates []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	primaryOut, primaryErr := h.primary.Rerank(ctx, query, candidates, len(candidates))
	if primaryErr != nil {
		if h.fallback == nil {
			return nil, newError(KindOf(primaryErr), "hybrid.Rerank", primaryErr)
		}
		return h.fallback.Rerank(ctx, query, candidates, topK)
	}
	if h.fallback == nil {
		return truncate(primaryOut, topK), nil
	}

	fallbackOut, fallbackErr := h.fallback.Rerank(ctx, query, candidates, len(candidates))
	if fallbackErr != nil {
		return truncate(primaryOut, topK), nil
	}

	fallbackScore := make(map[string]float64, len(fallbackOut))
	for _, r := range fallbackOut {
		fallbackScore[resultKey(r)] = scoreOf(r)
	}

	blended := make([]scoredCandidate, len(primaryOut))
	for i, r := range primaryOut {
		p := scoreOf(r)
		f, ok := fallbackScore[resultKey(r)]
		combined := h.cfg.PrimaryWeight * p
		if ok {
			combined += h.cfg.FallbackWeight * f
		}
		out := cloneResult(r)
		out.Metadata["rerank_score"] = combined
		blended[i] = scoredCandidate{result: out, score: combined, rank: i}
	}

	sortScoredDescending(blended)
	if topK <= 0 || topK > len(blended) {
		topK = len(blended)
	}
	final := make([]*search.SearchResult, topK)
	for i, sc := range blended[:topK] {
		final[i] = sc.result
	}
	return final, nil
}

// Available reports the primary's availability; the fallback is only
// consulted at Rerank time on primary failure.
func (h *HybridReranker) Available(ctx context.Context) bool {
	return h.primary.Available(ctx)
}

// Close closes both the primary and, if present, the fallback reranker.
func (h *HybridReranker) Close() error {
	err := h.primary.Close()
	if h.fallback != nil {
		if fErr := h.fallback.Close(); fErr != nil && err == nil {
			err = fErr
		}
	}
	return err
}

func resultKey(r *search.SearchResult) string {
	return r.FilePath + ":" + strconv.Itoa(r.Line)
}

func scoreOf(r *search.SearchResult) float64 {
	if r.Metadata == nil {
		return r.Score
	}
	if v, ok := r.Metadata["rerank_score"]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return r.Score
}

func truncate(results []*search.SearchResult, topK int) []*search.SearchResult {
	if topK > 0 && topK < len(results) {
		return results[:topK]
	}
	return results
}
