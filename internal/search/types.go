// Package search implements Hybrid Search: concurrent retrieval from the
// BM25, fuzzy and optional semantic sources, Reciprocal Rank Fusion of
// their results, and an optional reranking pass.
package search

import (
	"context"
	"time"
)

// Source identifies which retrieval source produced (or contributed to)
// a SearchResult.
type Source string

const (
	SourceBM25     Source = "bm25"
	SourceSemantic Source = "semantic"
	SourceFuzzy    Source = "fuzzy"
	// SourceHybrid marks a result that was matched by more than one
	// source; its Metadata carries each contributing source's original
	// rank and score.
	SourceHybrid Source = "hybrid"
)

// Weights configures the relative importance of each retrieval source.
// The three fields should sum to 1; Search renormalizes otherwise.
type Weights struct {
	BM25     float64
	Semantic float64
	Fuzzy    float64
}

// DefaultWeights returns the default source weights for a mixed query.
func DefaultWeights() Weights {
	return Weights{BM25: 0.4, Semantic: 0.4, Fuzzy: 0.2}
}

// Sum returns the sum of the three weights.
func (w Weights) Sum() float64 {
	return w.BM25 + w.Semantic + w.Fuzzy
}

// Normalized returns w scaled so its components sum to 1. If the sum is
// zero, w is returned unchanged (callers treat an all-zero Weights as
// "every source disabled").
func (w Weights) Normalized() Weights {
	sum := w.Sum()
	if sum == 0 {
		return w
	}
	return Weights{BM25: w.BM25 / sum, Semantic: w.Semantic / sum, Fuzzy: w.Fuzzy / sum}
}

// QueryType represents the classification category for a search query.
type QueryType string

const (
	// QueryTypeLexical indicates the query needs exact/keyword matching.
	// Used for: error codes, identifiers, quoted phrases, file paths.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic indicates the query is natural language seeking meaning.
	// Used for: questions, conceptual queries, explanations.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeMixed indicates the query benefits from both approaches.
	// Used for: multi-word technical queries, default fallback.
	QueryTypeMixed QueryType = "MIXED"
)

// Classifier determines optimal search weights for a query.
type Classifier interface {
	// Classify analyzes a query and returns its type and optimal weights.
	// On error, implementations should return (QueryTypeMixed, DefaultWeights(), err).
	Classify(ctx context.Context, query string) (QueryType, Weights, error)
}

// WeightsForQueryType returns the predefined weights for a query type.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeLexical:
		return Weights{BM25: 0.7, Semantic: 0.1, Fuzzy: 0.2}
	case QueryTypeSemantic:
		return Weights{BM25: 0.15, Semantic: 0.75, Fuzzy: 0.1}
	default:
		return DefaultWeights()
	}
}

// SearchOptions configures a hybrid search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10).
	Limit int

	// Filter restricts results by content type: "all", "code", "docs".
	Filter string

	// Language filters results by programming language (e.g., "go").
	Language string

	// SymbolType filters results by symbol type (e.g., "function").
	SymbolType string

	// Weights overrides the default source weights. Nil selects weights
	// via Classifier if one is configured, else DefaultWeights.
	Weights *Weights

	// DisableBM25, DisableSemantic, DisableFuzzy toggle individual
	// sources off. All default false (every source enabled).
	DisableBM25     bool
	DisableSemantic bool
	DisableFuzzy    bool

	// Scopes restricts results to files within these path prefixes (OR logic).
	Scopes []string

	// Rerank enables the reranking hook over the top RerankK fused results.
	Rerank bool

	// RerankK is the number of top fused results handed to the reranker
	// (default: 20).
	RerankK int
}

// SearchResult is a single hybrid search hit.
type SearchResult struct {
	FilePath string         `json:"filepath"`
	Line     int            `json:"line,omitempty"` // 0 when the result has no specific line (e.g. whole-file match)
	Score    float64        `json:"score"`
	Snippet  string         `json:"snippet,omitempty"`
	Source   Source         `json:"source"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// EngineStats reports counters for the HybridEngine's last searches.
type EngineStats struct {
	CacheHits   int64
	CacheMisses int64
}

// Config configures a HybridEngine.
type Config struct {
	// IndividualLimitMultiplier scales Limit into the per-source fetch
	// size (spec default: 2.5, floor 50).
	IndividualLimitMultiplier float64
	IndividualLimitFloor      int

	// RRFConstant is the RRF fusion constant k (spec default: 60).
	RRFConstant int

	// DefaultRerankK is used when SearchOptions.RerankK is unset.
	DefaultRerankK int

	// CacheSize is the LRU result-cache capacity; 0 disables caching.
	CacheSize int

	// ParallelExecution toggles concurrent vs sequential source dispatch.
	ParallelExecution bool

	// SearchTimeout bounds a single source retrieval.
	SearchTimeout time.Duration
}

// DefaultConfig returns the spec's default HybridEngine configuration.
func DefaultConfig() Config {
	return Config{
		IndividualLimitMultiplier: 2.5,
		IndividualLimitFloor:      50,
		RRFConstant:               60,
		DefaultRerankK:            20,
		CacheSize:                 256,
		ParallelExecution:         true,
		SearchTimeout:             5 * time.Second,
	}
}
