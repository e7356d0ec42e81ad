package search

import "context"

// Reranker reorders the top-ranked fused results using a model the
// fusion stage itself has no access to (cross-encoder, external API,
// ...). Any implementation's Rerank failure must degrade gracefully:
// HybridEngine falls back to the pre-rerank fused order rather than
// failing the search.
type Reranker interface {
	// Rerank reorders candidates for query, returning at most topK of
	// them in ranked order. Input order carries the candidates' fused
	// rank and should be treated as the prior for ties.
	Rerank(ctx context.Context, query string, candidates []*SearchResult, topK int) ([]*SearchResult, error)

	// Available reports whether the reranker is currently usable
	// (model loaded, endpoint reachable, ...).
	Available(ctx context.Context) bool

	Close() error
}

// NoOpReranker returns candidates unchanged; used as a safe default
// when no reranker is configured.
type NoOpReranker struct{}

func (NoOpReranker) Rerank(_ context.Context, _ string, candidates []*SearchResult, topK int) ([]*SearchResult, error) {
	if topK > 0 && topK < len(candidates) {
		candidates = candidates[:topK]
	}
	return candidates, nil
}

func (NoOpReranker) Available(context.Context) bool { return true }
func (NoOpReranker) Close() error                   { return nil }

var _ Reranker = NoOpReranker{}
