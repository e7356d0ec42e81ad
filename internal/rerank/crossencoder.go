package rerank

import (
	"context"
	"math"
	"sync"

	"github.com/coreindex/coreindex/internal/search"
)

// CrossEncoderConfig configures the local cross-encoder-style reranker.
type CrossEncoderConfig struct {
	// BatchSize is how many candidates are scored per internal batch.
	// Scoring here has no GPU/CPU kernel to amortize, but the batching
	// loop is kept so a future real transformer backend can be dropped
	// in behind the same Score method without changing callers.
	BatchSize int
}

// DefaultCrossEncoderConfig returns sensible defaults.
func DefaultCrossEncoderConfig() CrossEncoderConfig {
	return CrossEncoderConfig{BatchSize: 16}
}

// CrossEncoderReranker jointly scores each (query, passage) pair the way
// a trained cross-encoder would, but with deterministic lexical features
// in place of a transformer forward pass: no ONNX/ggml runtime is wired
// into this module, so this backend gives the Reranker interface a local,
// no-network implementation distinct from the TF-IDF scorer (full
// cosine similarity over a corpus vocabulary vs. a joint per-pair
// feature combination), mirroring the embedder package's own
// deterministic-hash stand-in for a real embedding model.
type CrossEncoderReranker struct {
	cfg    CrossEncoderConfig
	mu     sync.RWMutex
	closed bool
}

var _ search.Reranker = (*CrossEncoderReranker)(nil)

// NewCrossEncoderReranker creates a local cross-encoder-style reranker.
func NewCrossEncoderReranker(cfg CrossEncoderConfig) *CrossEncoderReranker {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultCrossEncoderConfig().BatchSize
	}
	return &CrossEncoderReranker{cfg: cfg}
}

// Rerank jointly scores each candidate against query in batches of
// cfg.BatchSize and returns the top topK in descending score order.
func (r *CrossEncoderReranker) Rerank(_ context.Context, query string, candidates []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, newError(ErrKindUnknown, "crossencoder.Rerank", errReRankerClosed)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	queryTokens := tfidfTokenize(query)
	scored := make([]scoredCandidate, 0, len(candidates))
	for start := 0; start < len(candidates); start += r.cfg.BatchSize {
		end := min(start+r.cfg.BatchSize, len(candidates))
		for i := start; i < end; i++ {
			c := candidates[i]
			score := pairScore(queryTokens, c.Snippet)
			scored = append(scored, scoredCandidate{result: c, score: score, rank: i})
		}
	}

	sortScoredDescending(scored)

	if topK <= 0 || topK > len(scored) {
		topK = len(scored)
	}
	out := make([]*search.SearchResult, 0, topK)
	for _, sc := range scored[:topK] {
		res := cloneResult(sc.result)
		res.Metadata["rerank_score"] = sc.score
		res.Metadata["original_rank"] = sc.rank
		out = append(out, res)
	}
	return out, nil
}

// Available reports true until Close is called; this backend has no
// external dependency.
func (r *CrossEncoderReranker) Available(context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed
}

// Close marks the reranker unusable for subsequent calls.
func (r *CrossEncoderReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

// pairScore jointly considers query/passage overlap, the position of
// the first query-token match, and a length penalty, combined through a
// logistic squash so the result lands in (0, 1) like a trained
// cross-encoder's relevance probability.
func pairScore(queryTokens []string, snippet string) float64 {
	if len(queryTokens) == 0 {
		return 0
	}
	passageTokens := tfidfTokenize(snippet)
	if len(passageTokens) == 0 {
		return 0
	}

	passageIndex := make(map[string]int, len(passageTokens))
	for i, t := range passageTokens {
		if _, exists := passageIndex[t]; !exists {
			passageIndex[t] = i
		}
	}

	var matched int
	earliest := len(passageTokens)
	for _, qt := range queryTokens {
		if idx, ok := passageIndex[qt]; ok {
			matched++
			if idx < earliest {
				earliest = idx
			}
		}
	}

	coverage := float64(matched) / float64(len(queryTokens))
	proximity := 1.0 / (1.0 + float64(earliest)/float64(len(passageTokens)))
	lengthPenalty := 1.0 / (1.0 + math.Log1p(float64(len(passageTokens))/32.0))

	raw := 3.0*coverage + 1.0*proximity + 0.5*lengthPenalty - 2.0
	return 1.0 / (1.0 + math.Exp(-raw))
}
