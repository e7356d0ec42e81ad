package rerank

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"

	"github.com/coreindex/coreindex/internal/search"
)

var tokenRegex = regexp.MustCompile(`[a-zA-Z0-9]+`)

// tfidfStopWords mirrors the code-aware stop-word set used elsewhere in
// this module's tokenizers; kept local since this package must not
// import the embedder (a TF-IDF reranker is a distinct, local-only
// scoring model, not an embedding lookup).
var tfidfStopWords = map[string]bool{
	"func": true, "function": true, "def": true, "class": true,
	"return": true, "import": true, "const": true, "var": true,
	"let": true, "int": true, "string": true, "bool": true,
	"the": true, "a": true, "an": true, "of": true, "to": true,
	"and": true, "or": true, "is": true, "in": true,
}

func tfidfTokenize(text string) []string {
	var tokens []string
	for _, word := range tokenRegex.FindAllString(text, -1) {
		lower := strings.ToLower(word)
		if lower == "" || tfidfStopWords[lower] {
			continue
		}
		tokens = append(tokens, splitIdentifier(lower)...)
	}
	return tokens
}

// splitIdentifier breaks snake_case identifiers into parts; camelCase is
// already lowered by the caller and is left as a single token since the
// TF-IDF signal cares about whole-word overlap, not sub-token structure.
func splitIdentifier(s string) []string {
	if !strings.ContainsAny(s, "_") {
		return []string{s}
	}
	var out []string
	for _, part := range strings.Split(s, "_") {
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// TFIDFReranker scores (query, candidate snippet) pairs by cosine
// similarity of their TF-IDF vectors over a vocabulary built from the
// candidate set itself. It needs no network access or trained model,
// making it a safe always-available default reranker backend.
type TFIDFReranker struct {
	mu     sync.RWMutex
	closed bool
}

var _ search.Reranker = (*TFIDFReranker)(nil)

// NewTFIDFReranker creates a local TF-IDF reranker.
func NewTFIDFReranker() *TFIDFReranker {
	return &TFIDFReranker{}
}

// Rerank scores candidates' snippets against query and returns the top
// topK in descending score order. Results carry their TF-IDF score in
// Metadata["rerank_score"] alongside their original fused rank in
// Metadata["original_rank"].
func (r *TFIDFReranker) Rerank(_ context.Context, query string, candidates []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, newError(ErrKindUnknown, "tfidf.Rerank", errReRankerClosed)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	docs := make([][]string, len(candidates))
	for i, c := range candidates {
		docs[i] = tfidfTokenize(c.Snippet)
	}
	queryTokens := tfidfTokenize(query)

	df := documentFrequency(docs)
	n := float64(len(docs))

	queryVec := tfVector(queryTokens)
	scored := make([]scoredCandidate, len(candidates))
	for i, c := range candidates {
		docVec := tfVector(docs[i])
		sim := cosineTFIDF(queryVec, docVec, df, n)
		scored[i] = scoredCandidate{result: c, score: sim, rank: i}
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
func (r *TFIDFReranker) Available(context.Context) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return !r.closed
}

// Close marks the reranker unusable for subsequent calls.
func (r *TFIDFReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

type scoredCandidate struct {
	result *search.SearchResult
	score  float64
	rank   int
}

func sortScoredDescending(s []scoredCandidate) {
	// Simple insertion sort: candidate lists reranked here are already
	// bounded to RerankK (spec default 20), so O(n^2) is not a concern.
	for i := 1; i < len(s); i++ {
		j := i
		for j > 0 && s[j-1].score < s[j].score {
			s[j-1], s[j] = s[j], s[j-1]
			j--
		}
	}
}

func tfVector(tokens []string) map[string]float64 {
	vec := make(map[string]float64, len(tokens))
	for _, t := range tokens {
		vec[t]++
	}
	total := float64(len(tokens))
	if total == 0 {
		return vec
	}
	for k, v := range vec {
		vec[k] = v / total
	}
	return vec
}

func documentFrequency(docs [][]string) map[string]int {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]bool, len(doc))
		for _, t := range doc {
			if !seen[t] {
				seen[t] = true
				df[t]++
			}
		}
	}
	return df
}

func idf(term string, df map[string]int, n float64) float64 {
	d := float64(df[term])
	// Smoothed IDF: always positive, avoids division by zero when a
	// query term never appears in the candidate set.
	return math.Log(1 + n/(1+d))
}

func cosineTFIDF(queryTF, docTF map[string]float64, df map[string]int, n float64) float64 {
	var dot, queryNorm, docNorm float64
	for term, qtf := range queryTF {
		weight := qtf * idf(term, df, n)
		queryNorm += weight * weight
		if dtf, ok := docTF[term]; ok {
			dot += weight * (dtf * idf(term, df, n))
		}
	}
	for term, dtf := range docTF {
		weight := dtf * idf(term, df, n)
		docNorm += weight * weight
	}
	if queryNorm == 0 || docNorm == 0 {
		return 0
	}
	return dot / (math.Sqrt(queryNorm) * math.Sqrt(docNorm))
}

func cloneResult(r *search.SearchResult) *search.SearchResult {
	clone := *r
	clone.Metadata = make(map[string]any, len(r.Metadata)+2)
	for k, v := range r.Metadata {
		clone.Metadata[k] = v
	}
	return &clone
}
