package search

import (
	"context"
	"crypto/md5"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/errgroup"

	"github.com/coreindex/coreindex/internal/embed"
	"github.com/coreindex/coreindex/internal/store"
)

// HybridEngine fans out a query to the BM25, fuzzy and (optional)
// semantic sources concurrently, fuses their rankings with RRF, and
// optionally reranks the top results. It is the implementation behind
// spec section 4.G.
type HybridEngine struct {
	cfg     Config
	storage store.Storage
	content store.BM25Index
	fuzzy   store.FuzzyIndex

	vectors  store.VectorStore // nil disables the semantic source
	embedder embed.Embedder    // nil disables the semantic source

	fusion     *RRFFusion
	classifier Classifier
	expander   *QueryExpander
	reranker   Reranker

	mu             sync.RWMutex
	defaultWeights Weights
	cache          *lru.Cache[string, []*SearchResult]

	statsMu sync.Mutex
	stats   EngineStats
}

// NewHybridEngine builds a HybridEngine. vectors and embedder may both
// be nil to disable the semantic source entirely (bm25+fuzzy only).
// reranker may be nil, in which case the rerank hook is a no-op.
func NewHybridEngine(cfg Config, storage store.Storage, content store.BM25Index, fuzzy store.FuzzyIndex, vectors store.VectorStore, embedder embed.Embedder, reranker Reranker) (*HybridEngine, error) {
	if cfg.RRFConstant <= 0 {
		cfg.RRFConstant = DefaultRRFConstant
	}
	if cfg.IndividualLimitMultiplier <= 0 {
		cfg.IndividualLimitMultiplier = 2.5
	}
	if cfg.IndividualLimitFloor <= 0 {
		cfg.IndividualLimitFloor = 50
	}
	if cfg.DefaultRerankK <= 0 {
		cfg.DefaultRerankK = 20
	}
	if reranker == nil {
		reranker = NoOpReranker{}
	}

	var cache *lru.Cache[string, []*SearchResult]
	if cfg.CacheSize > 0 {
		c, err := lru.New[string, []*SearchResult](cfg.CacheSize)
		if err != nil {
			return nil, fmt.Errorf("create search cache: %w", err)
		}
		cache = c
	}

	return &HybridEngine{
		cfg:            cfg,
		storage:        storage,
		content:        content,
		fuzzy:          fuzzy,
		vectors:        vectors,
		embedder:       embedder,
		fusion:         NewRRFFusionWithK(cfg.RRFConstant),
		classifier:     NewPatternClassifier(),
		expander:       NewQueryExpander(),
		reranker:       reranker,
		defaultWeights: DefaultWeights(),
		cache:          cache,
	}, nil
}

// SetClassifier overrides the query classifier used to auto-select
// weights when SearchOptions.Weights is nil. Passing nil restores the
// pattern-based default.
func (h *HybridEngine) SetClassifier(c Classifier) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c == nil {
		c = NewPatternClassifier()
	}
	h.classifier = c
}

// SetDefaultWeights changes the weights used when neither
// SearchOptions.Weights nor the classifier apply, and invalidates the
// result cache (spec: "set_weights ... clears the cache").
func (h *HybridEngine) SetDefaultWeights(w Weights) {
	h.mu.Lock()
	h.defaultWeights = w
	h.mu.Unlock()
	h.purgeCache()
}

// EnableMethods is a config-mutation hook mirroring the spec's
// `enable_methods`; the only effect visible to callers today is cache
// invalidation, since per-query enablement is controlled by
// SearchOptions.DisableBM25/Semantic/Fuzzy.
func (h *HybridEngine) EnableMethods() {
	h.purgeCache()
}

func (h *HybridEngine) purgeCache() {
	if h.cache != nil {
		h.cache.Purge()
	}
}

// Stats returns cache hit/miss counters.
func (h *HybridEngine) Stats() EngineStats {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	return h.stats
}

// Search executes a hybrid search query.
func (h *HybridEngine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 10
	}

	weights, err := h.resolveWeights(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if opts.DisableBM25 {
		weights.BM25 = 0
	}
	if opts.DisableSemantic {
		weights.Semantic = 0
	}
	if opts.DisableFuzzy {
		weights.Fuzzy = 0
	}
	weights = weights.Normalized()

	// Open Question decision: all sources disabled/zero-weight returns
	// an empty, non-nil result set rather than an error.
	if weights.Sum() == 0 {
		return []*SearchResult{}, nil
	}

	normalizedQuery := strings.ToLower(strings.TrimSpace(query))
	cacheKey := h.cacheKey(normalizedQuery, limit, weights)

	if h.cache != nil {
		if cached, ok := h.cache.Get(cacheKey); ok {
			h.recordCache(true)
			return cloneResults(cached), nil
		}
	}
	h.recordCache(false)

	individualLimit := int(float64(limit) * h.cfg.IndividualLimitMultiplier)
	if individualLimit < h.cfg.IndividualLimitFloor {
		individualLimit = h.cfg.IndividualLimitFloor
	}

	// Expand only the text fed to BM25: the expander adds code-convention
	// synonyms and casing variants that widen keyword recall, but would
	// just dilute a semantic embedding or break fuzzy's literal substring
	// matching.
	bm25Query := normalizedQuery
	if weights.BM25 > 0 {
		bm25Query = strings.ToLower(h.expander.Expand(normalizedQuery))
	}

	bm25Items, semanticItems, fuzzyItems, err := h.retrieveAll(ctx, normalizedQuery, bm25Query, individualLimit, weights)
	if err != nil {
		return nil, err
	}

	fused := h.fusion.Fuse(bm25Items, semanticItems, fuzzyItems, weights)

	results := make([]*SearchResult, 0, len(fused))
	for _, f := range fused {
		results = append(results, h.toSearchResult(f))
	}

	results = h.hydrateFiles(ctx, results)
	results = ApplyFilters(results, opts)

	if opts.Rerank {
		results = h.rerank(ctx, query, opts, results)
	}

	if len(results) > limit {
		results = results[:limit]
	}

	if h.cache != nil {
		h.cache.Add(cacheKey, cloneResults(results))
	}

	return results, nil
}

// resolveWeights picks the weights for a query: explicit override,
// else the configured classifier's suggestion, else the engine's
// default weights.
func (h *HybridEngine) resolveWeights(ctx context.Context, query string, opts SearchOptions) (Weights, error) {
	if opts.Weights != nil {
		return *opts.Weights, nil
	}

	h.mu.RLock()
	classifier := h.classifier
	def := h.defaultWeights
	h.mu.RUnlock()

	if classifier != nil {
		_, w, err := classifier.Classify(ctx, query)
		if err == nil {
			return w, nil
		}
	}
	return def, nil
}

// retrieveAll fans out to every enabled source. bm25Query carries the
// expander-widened text used only for the BM25 source; semantic and fuzzy
// always search on the original query. When cfg.ParallelExecution is false,
// sources run sequentially in the same order instead.
func (h *HybridEngine) retrieveAll(ctx context.Context, query, bm25Query string, limit int, weights Weights) (bm25, semantic, fuzzy []RankedItem, err error) {
	fetchBM25 := func(c context.Context) error {
		if weights.BM25 <= 0 {
			return nil
		}
		items, ferr := h.searchBM25(c, bm25Query, limit)
		if ferr != nil {
			return fmt.Errorf("bm25 search: %w", ferr)
		}
		bm25 = items
		return nil
	}
	fetchSemantic := func(c context.Context) error {
		if weights.Semantic <= 0 || h.vectors == nil || h.embedder == nil {
			return nil
		}
		items, ferr := h.searchSemantic(c, query, limit)
		if ferr != nil {
			return fmt.Errorf("semantic search: %w", ferr)
		}
		semantic = items
		return nil
	}
	fetchFuzzy := func(c context.Context) error {
		if weights.Fuzzy <= 0 {
			return nil
		}
		items, ferr := h.searchFuzzy(c, query, limit)
		if ferr != nil {
			return fmt.Errorf("fuzzy search: %w", ferr)
		}
		fuzzy = items
		return nil
	}

	if !h.cfg.ParallelExecution {
		if err = fetchBM25(ctx); err != nil {
			return
		}
		if err = fetchSemantic(ctx); err != nil {
			return
		}
		err = fetchFuzzy(ctx)
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return fetchBM25(gctx) })
	g.Go(func() error { return fetchSemantic(gctx) })
	g.Go(func() error { return fetchFuzzy(gctx) })
	err = g.Wait()
	return
}

func (h *HybridEngine) searchBM25(ctx context.Context, query string, limit int) ([]RankedItem, error) {
	results, err := h.content.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]RankedItem, 0, len(results))
	for _, r := range results {
		snippet := ""
		if len(r.MatchedTerms) > 0 {
			snippet = strings.Join(r.MatchedTerms, ", ")
		}
		items = append(items, RankedItem{Key: r.DocID, FilePath: r.DocID, Score: r.Score, Snippet: snippet})
	}
	return items, nil
}

func (h *HybridEngine) searchFuzzy(ctx context.Context, query string, limit int) ([]RankedItem, error) {
	matches, err := h.fuzzy.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	items := make([]RankedItem, 0, len(matches))
	for _, m := range matches {
		key := fmt.Sprintf("%s:%d", m.FileID, m.Line)
		items = append(items, RankedItem{Key: key, FilePath: m.FileID, Line: m.Line, Score: 1, Snippet: m.Snippet})
	}
	return items, nil
}

func (h *HybridEngine) searchSemantic(ctx context.Context, query string, limit int) ([]RankedItem, error) {
	vec, err := h.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := h.vectors.Search(ctx, vec, limit)
	if err != nil {
		return nil, err
	}
	items := make([]RankedItem, 0, len(results))
	for _, r := range results {
		items = append(items, RankedItem{Key: r.ID, FilePath: r.ID, Score: float64(r.Score)})
	}
	return items, nil
}

// toSearchResult converts a fused candidate into the public result
// shape, stashing each source's contribution in Metadata.
func (h *HybridEngine) toSearchResult(f *FusedResult) *SearchResult {
	meta := make(map[string]any, len(f.Contributions))
	for _, c := range f.Contributions {
		meta[string(c.Source)+"_rank"] = c.Rank
		meta[string(c.Source)+"_score"] = c.Score
	}
	return &SearchResult{
		FilePath: f.FilePath,
		Line:     f.Line,
		Score:    f.RRFScore,
		Snippet:  f.Snippet,
		Source:   f.Source,
		Metadata: meta,
	}
}

// hydrateFiles resolves each result's backing file-ID (carried in
// FilePath until this point) into its repository-relative path and
// language/content-type metadata, dropping results whose file has
// since been deleted from Storage (Open Question decision 2).
func (h *HybridEngine) hydrateFiles(ctx context.Context, results []*SearchResult) []*SearchResult {
	kept := make([]*SearchResult, 0, len(results))
	for _, r := range results {
		f, err := h.storage.GetFile(ctx, r.FilePath)
		if err != nil {
			continue // no longer exists, or never resolvable; drop silently
		}
		r.FilePath = f.Path
		if r.Metadata == nil {
			r.Metadata = make(map[string]any)
		}
		r.Metadata["language"] = f.Language
		r.Metadata["content_type"] = string(f.ContentType)
		kept = append(kept, r)
	}
	return kept
}

// rerank replaces the top RerankK results with the configured
// reranker's ordering, preserving the tail untouched. Any reranker
// error degrades gracefully to the original fused order.
func (h *HybridEngine) rerank(ctx context.Context, query string, opts SearchOptions, results []*SearchResult) []*SearchResult {
	k := opts.RerankK
	if k <= 0 {
		k = h.cfg.DefaultRerankK
	}
	if k > len(results) {
		k = len(results)
	}
	if k == 0 || !h.reranker.Available(ctx) {
		return results
	}

	head, tail := results[:k], results[k:]
	reranked, err := h.reranker.Rerank(ctx, query, head, k)
	if err != nil {
		return results
	}

	out := make([]*SearchResult, 0, len(reranked)+len(tail))
	out = append(out, reranked...)
	out = append(out, tail...)
	return out
}

func (h *HybridEngine) recordCache(hit bool) {
	h.statsMu.Lock()
	defer h.statsMu.Unlock()
	if hit {
		h.stats.CacheHits++
	} else {
		h.stats.CacheMisses++
	}
}

// cacheKey hashes (normalized_query, limit, enabled_sources, weights)
// into a single lookup key.
func (h *HybridEngine) cacheKey(normalizedQuery string, limit int, weights Weights) string {
	sum := md5.Sum([]byte(fmt.Sprintf("%s|%d|%.4f|%.4f|%.4f", normalizedQuery, limit, weights.BM25, weights.Semantic, weights.Fuzzy)))
	return fmt.Sprintf("%x", sum)
}

func cloneResults(results []*SearchResult) []*SearchResult {
	out := make([]*SearchResult, len(results))
	for i, r := range results {
		cp := *r
		out[i] = &cp
	}
	return out
}
