package rerank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coreindex/coreindex/internal/search"
)

// ExternalConfig configures the external HTTP rerank API backend.
type ExternalConfig struct {
	// Endpoint is the rerank API base URL, e.g. "https://api.example.com".
	Endpoint string
	// APIKey is sent as a bearer token; empty disables the Authorization header.
	APIKey string
	// Model is the remote model identifier, passed through verbatim.
	Model string
	// Timeout bounds a single rerank request.
	Timeout time.Duration
	// BatchSize caps candidates sent in the single rerank request;
	// candidates beyond the first BatchSize are not sent and are not
	// returned.
	BatchSize int
}

// DefaultExternalConfig returns conservative defaults.
func DefaultExternalConfig() ExternalConfig {
	return ExternalConfig{
		Timeout:   10 * time.Second,
		BatchSize: 50,
	}
}

// ExternalReranker calls a remote rerank endpoint (Cohere-shaped request
// and response: query + documents in, ranked indices + relevance scores
// out). Any non-2xx or network failure is classified into an ErrKind so
// HybridReranker (or the caller) can decide whether a fallback or a
// plain pass-through is appropriate.
type ExternalReranker struct {
	client *http.Client
	cfg    ExternalConfig

	mu     sync.RWMutex
	closed bool
}

var _ search.Reranker = (*ExternalReranker)(nil)

// NewExternalReranker creates an external rerank API client.
func NewExternalReranker(cfg ExternalConfig) *ExternalReranker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultExternalConfig().Timeout
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultExternalConfig().BatchSize
	}
	return &ExternalReranker{
		cfg: cfg,
		client: &http.Client{
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

type externalRerankRequest struct {
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	Model     string   `json:"model,omitempty"`
	TopK      int      `json:"top_k,omitempty"`
}

type externalRerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Rerank sends candidates' snippets to the configured endpoint and
// returns at most topK of them reordered by the remote relevance score.
func (r *ExternalReranker) Rerank(ctx context.Context, query string, candidates []*search.SearchResult, topK int) ([]*search.SearchResult, error) {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return nil, newError(ErrKindUnknown, "external.Rerank", errReRankerClosed)
	}
	if len(candidates) == 0 {
		return candidates, nil
	}

	batch := candidates
	if len(batch) > r.cfg.BatchSize {
		batch = batch[:r.cfg.BatchSize]
	}
	docs := make([]string, len(batch))
	for i, c := range batch {
		docs[i] = c.Snippet
	}

	reqBody := externalRerankRequest{Query: query, Documents: docs, Model: r.cfg.Model, TopK: topK}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return nil, newError(ErrKindUnknown, "external.Rerank", fmt.Errorf("marshal request: %w", err))
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, r.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(timeoutCtx, http.MethodPost, r.cfg.Endpoint+"/v1/rerank", bytes.NewReader(payload))
	if err != nil {
		return nil, newError(ErrKindUnknown, "external.Rerank", fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if r.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.cfg.APIKey)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, newError(ErrKindNetwork, "external.Rerank", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		// fall through to decode below
	case http.StatusUnauthorized, http.StatusForbidden:
		body, _ := io.ReadAll(resp.Body)
		return nil, newError(ErrKindAuthFailed, "external.Rerank", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	case http.StatusTooManyRequests:
		body, _ := io.ReadAll(resp.Body)
		return nil, newError(ErrKindRateLimited, "external.Rerank", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	default:
		body, _ := io.ReadAll(resp.Body)
		return nil, newError(ErrKindNetwork, "external.Rerank", fmt.Errorf("status %d: %s", resp.StatusCode, body))
	}

	var result externalRerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, newError(ErrKindNetwork, "external.Rerank", fmt.Errorf("decode response: %w", err))
	}

	out := make([]*search.SearchResult, 0, len(result.Results))
	for _, hit := range result.Results {
		if hit.Index < 0 || hit.Index >= len(batch) {
			continue
		}
		res := cloneResult(batch[hit.Index])
		res.Metadata["rerank_score"] = hit.RelevanceScore
		res.Metadata["original_rank"] = hit.Index
		out = append(out, res)
	}

	slog.Debug("external_rerank_completed",
		slog.Int("candidates", len(batch)),
		slog.Int("results", len(out)))

	if topK > 0 && topK < len(out) {
		out = out[:topK]
	}
	return out, nil
}

// Available pings the configured endpoint's /health path with a short
// timeout.
func (r *ExternalReranker) Available(ctx context.Context) bool {
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return false
	}

	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(checkCtx, http.MethodGet, r.cfg.Endpoint+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Close releases idle HTTP connections.
func (r *ExternalReranker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true
	if transport, ok := r.client.Transport.(*http.Transport); ok {
		transport.CloseIdleConnections()
	}
	return nil
}
