package optimizer

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
)

type indexStat struct {
	indexType   IndexType
	cardinality int
	selectivity float64
	scanCost    float64
}

// Executor runs the index-scan step of a SearchPlan against the actual
// search backends (BM25, fuzzy, vector). The Query Optimizer only
// decides what to run; Hybrid Search supplies how to run it.
type Executor func(ctx context.Context, plan *SearchPlan) (*PlanResult, error)

// PlanResult is what ExecutePlan returns: the hit IDs, their total
// count, and whether they were served from the plan-result cache.
type PlanResult struct {
	ResultIDs    []string
	TotalCount   int
	FromCache    bool
}

// Optimizer implements cost-based index selection and search-plan
// generation and execution. A single Optimizer is shared across all
// queries issued against one repository.
type Optimizer struct {
	mu         sync.Mutex
	costModel  CostModel
	indexStats map[string]indexStat
	planCache  *lru.Cache[string, *PlanResult]
	stats      SearchStatistics
	executor   Executor
}

// New creates an Optimizer with the default index statistics and a
// plan-result cache holding up to cacheSize entries. executor may be
// nil; ExecutePlan then returns an error until SetExecutor is called.
func New(cacheSize int, executor Executor) (*Optimizer, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	cache, err := lru.New[string, *PlanResult](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("create plan cache: %w", err)
	}

	return &Optimizer{
		costModel: DefaultCostModel(),
		indexStats: map[string]indexStat{
			"symbols_name":   {indexType: IndexTypeBTree, cardinality: 10000, selectivity: 0.01, scanCost: 1.0},
			"symbols_kind":   {indexType: IndexTypeBTree, cardinality: 10, selectivity: 0.1, scanCost: 0.5},
			"fts_symbols":    {indexType: IndexTypeFTS, cardinality: 10000, selectivity: 0.05, scanCost: 2.0},
			"symbol_trigrams": {indexType: IndexTypeTrigram, cardinality: 50000, selectivity: 0.02, scanCost: 1.5},
		},
		planCache: cache,
		stats: SearchStatistics{
			IndexUsage:    make(map[string]int),
			QueryPatterns: make(map[string]int),
		},
		executor: executor,
	}, nil
}

// SetExecutor installs (or replaces) the plan executor.
func (o *Optimizer) SetExecutor(e Executor) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executor = e
}

// OptimizeQuery rewrites query text, picks an index, reorders filters
// and decides on cache eligibility.
func (o *Optimizer) OptimizeQuery(q Query) OptimizedQuery {
	rewritten := o.rewriteQueryText(q)
	indexChoice := o.chooseIndex(q)
	filtersOrder := o.optimizeFilterOrder(q)
	useCache := o.shouldUseCache(q)
	cost := o.EstimateCost(q)
	notes := o.generateOptimizationNotes(q, indexChoice)

	return OptimizedQuery{
		Original:          q,
		RewrittenText:     rewritten,
		IndexChoice:       indexChoice,
		FiltersOrder:      filtersOrder,
		UseCache:          useCache,
		EstimatedCost:     cost,
		OptimizationNotes: notes,
	}
}

// EstimateCost predicts the resource cost of executing q.
func (o *Optimizer) EstimateCost(q Query) QueryCost {
	baseRows := o.estimateBaseRows(q)
	selectivity := o.calculateSelectivity(q)
	estimatedRows := int(float64(baseRows) * selectivity)

	cpuCost := o.costModel.CalculateCPUCost(q, estimatedRows)
	ioCost := o.costModel.CalculateIOCost(q, estimatedRows)
	memCost := o.costModel.CalculateMemoryCost(q, estimatedRows)
	total := cpuCost + ioCost + memCost

	return QueryCost{
		EstimatedRows:   estimatedRows,
		EstimatedTimeMs: total * 10,
		CPUCost:         cpuCost,
		IOCost:          ioCost,
		MemoryCost:      memCost,
		TotalCost:       total,
		Confidence:      o.calculateConfidence(q),
	}
}

// SuggestIndexes analyzes a batch of representative queries and
// recommends new indexes, ranked by benefit-to-cost ratio, top 5.
func (o *Optimizer) SuggestIndexes(patterns []Query) []IndexSuggestion {
	columnUsage := make(map[string]int)
	filterCombos := make(map[string]int)
	comboColumns := make(map[string][]string)

	for _, q := range patterns {
		names := make([]string, 0, len(q.Filters))
		for name := range q.Filters {
			columnUsage[name]++
			names = append(names, name)
		}
		sort.Strings(names)
		key := strings.Join(names, ",")
		filterCombos[key]++
		comboColumns[key] = names
	}

	var suggestions []IndexSuggestion
	threshold := float64(len(patterns)) * 0.3

	for column, count := range columnUsage {
		if float64(count) >= threshold {
			suggestions = append(suggestions, IndexSuggestion{
				IndexType:        IndexTypeBTree,
				Columns:          []string{column},
				EstimatedBenefit: float64(count) * 5.0,
				CreationCost:     10.0,
				MaintenanceCost:  1.0,
				Reason:           fmt.Sprintf("column %q used in %d queries", column, count),
			})
		}
	}

	for combo, count := range filterCombos {
		cols := comboColumns[combo]
		if len(cols) > 1 && count >= 2 {
			suggestions = append(suggestions, IndexSuggestion{
				IndexType:        IndexTypeBTree,
				Columns:          cols,
				EstimatedBenefit: float64(count) * 8.0,
				CreationCost:     15.0 * float64(len(cols)),
				MaintenanceCost:  2.0 * float64(len(cols)),
				Reason:           fmt.Sprintf("filter combination %v used %d times", cols, count),
			})
		}
	}

	sort.Slice(suggestions, func(i, j int) bool {
		ri := suggestions[i].EstimatedBenefit / (suggestions[i].CreationCost + suggestions[i].MaintenanceCost)
		rj := suggestions[j].EstimatedBenefit / (suggestions[j].CreationCost + suggestions[j].MaintenanceCost)
		return ri > rj
	})

	if len(suggestions) > 5 {
		suggestions = suggestions[:5]
	}
	return suggestions
}

// AnalyzePerformance compares a query's actual execution against its
// cost estimate and records the observation in running statistics.
func (o *Optimizer) AnalyzePerformance(q Query, actualTimeMs float64, actualRows int) PerformanceReport {
	estimated := o.EstimateCost(q)

	var bottlenecks, suggestions []string

	timeRatio := actualTimeMs / maxFloat(estimated.EstimatedTimeMs, 1.0)
	if timeRatio > 2.0 {
		bottlenecks = append(bottlenecks, "query took much longer than estimated")
		suggestions = append(suggestions, "consider adding an index or rewriting the query")
	}

	rowRatio := float64(actualRows) / maxFloat(float64(estimated.EstimatedRows), 1.0)
	if rowRatio > 2.0 {
		bottlenecks = append(bottlenecks, "returned more rows than estimated")
		suggestions = append(suggestions, "consider more selective filters")
	}

	o.mu.Lock()
	o.stats.TotalQueries++
	total := o.stats.TotalQueries
	if total == 1 {
		o.stats.AvgResponseTimeMs = actualTimeMs
	} else {
		o.stats.AvgResponseTimeMs = o.stats.AvgResponseTimeMs*0.9 + actualTimeMs*0.1
	}
	o.mu.Unlock()

	return PerformanceReport{
		Query:           q,
		ActualTimeMs:    actualTimeMs,
		EstimatedTimeMs: estimated.EstimatedTimeMs,
		ActualRows:      actualRows,
		EstimatedRows:   estimated.EstimatedRows,
		IndexUsed:       "unknown",
		Bottlenecks:     bottlenecks,
		Suggestions:     suggestions,
	}
}

// PlanSearch builds a concrete SearchPlan from an optimized query.
func (o *Optimizer) PlanSearch(q Query) SearchPlan {
	optimized := o.OptimizeQuery(q)

	var steps []PlanStep
	steps = append(steps, PlanStep{
		Type:          "index_scan",
		Index:         optimized.IndexChoice.IndexName,
		IndexType:     string(optimized.IndexChoice.IndexType),
		EstimatedRows: optimized.EstimatedCost.EstimatedRows,
	})

	if len(q.Filters) > 0 {
		steps = append(steps, PlanStep{
			Type:                 "filter",
			Filters:              optimized.FiltersOrder,
			EstimatedSelectivity: o.calculateSelectivity(q),
		})
	}

	if q.Limit > 0 {
		steps = append(steps, PlanStep{Type: "limit", Limit: q.Limit, Offset: q.Offset})
	}

	var cacheKey string
	if optimized.UseCache {
		cacheKey = o.generateCacheKey(q)
	}

	return SearchPlan{
		Query:         q,
		Steps:         steps,
		IndexChoice:   optimized.IndexChoice,
		EstimatedCost: optimized.EstimatedCost,
		CacheKey:      cacheKey,
	}
}

// ExecutePlan runs plan via the configured Executor, serving from the
// plan-result cache when the plan carries a cache key. Cache-hit rate
// is tracked with an exponential moving average (decay 0.9), as is the
// average response time recorded by AnalyzePerformance.
func (o *Optimizer) ExecutePlan(ctx context.Context, plan *SearchPlan) (*PlanResult, error) {
	if plan.CacheKey != "" {
		if cached, ok := o.planCache.Get(plan.CacheKey); ok {
			o.mu.Lock()
			o.stats.CacheHitRate = o.stats.CacheHitRate*0.9 + 0.1
			o.mu.Unlock()
			hit := *cached
			hit.FromCache = true
			return &hit, nil
		}
	}

	o.mu.Lock()
	executor := o.executor
	o.mu.Unlock()
	if executor == nil {
		return nil, fmt.Errorf("optimizer: no executor configured")
	}

	result, err := executor(ctx, plan)
	if err != nil {
		return nil, fmt.Errorf("execute plan: %w", err)
	}

	if plan.CacheKey != "" {
		o.planCache.Add(plan.CacheKey, result)
		o.mu.Lock()
		o.stats.CacheHitRate = o.stats.CacheHitRate * 0.9
		o.mu.Unlock()
	}

	o.updateExecutionStats(plan)
	return result, nil
}

// OptimizePlan re-optimizes an existing plan's query, producing a fresh
// plan (index choice and cost estimate may change as statistics evolve).
func (o *Optimizer) OptimizePlan(plan SearchPlan) SearchPlan {
	return o.PlanSearch(plan.Query)
}

// GetSearchStatistics returns a snapshot of the optimizer's running
// statistics.
func (o *Optimizer) GetSearchStatistics() SearchStatistics {
	o.mu.Lock()
	defer o.mu.Unlock()

	indexUsage := make(map[string]int, len(o.stats.IndexUsage))
	for k, v := range o.stats.IndexUsage {
		indexUsage[k] = v
	}
	patterns := make(map[string]int, len(o.stats.QueryPatterns))
	for k, v := range o.stats.QueryPatterns {
		patterns[k] = v
	}
	trends := make([]float64, len(o.stats.PerformanceTrends))
	copy(trends, o.stats.PerformanceTrends)

	stats := o.stats
	stats.IndexUsage = indexUsage
	stats.QueryPatterns = patterns
	stats.PerformanceTrends = trends
	return stats
}

func (o *Optimizer) updateExecutionStats(plan *SearchPlan) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if plan.IndexChoice.IndexName != "" {
		o.stats.IndexUsage[plan.IndexChoice.IndexName]++
	}
	o.stats.QueryPatterns[string(plan.Query.Type)]++

	o.stats.PerformanceTrends = append(o.stats.PerformanceTrends, plan.EstimatedCost.EstimatedTimeMs)
	if len(o.stats.PerformanceTrends) > 100 {
		o.stats.PerformanceTrends = o.stats.PerformanceTrends[len(o.stats.PerformanceTrends)-100:]
	}
}

func (o *Optimizer) rewriteQueryText(q Query) string {
	text := strings.TrimSpace(q.Text)

	switch q.Type {
	case QueryTypeFuzzySearch:
		if len(text) < 3 {
			return text
		}
		return strings.ToLower(text)

	case QueryTypeTextSearch:
		if strings.Contains(text, " ") &&
			!strings.Contains(text, "AND") && !strings.Contains(text, "OR") && !strings.Contains(text, "NOT") {
			words := strings.Fields(text)
			quoted := make([]string, len(words))
			for i, w := range words {
				quoted[i] = fmt.Sprintf("%q", w)
			}
			return strings.Join(quoted, " AND ")
		}
	}

	return text
}

func (o *Optimizer) chooseIndex(q Query) IndexChoice {
	var best *IndexChoice
	bestCost := maxCost

	for name, stat := range o.indexStats {
		cost := o.estimateIndexCost(q, name, stat)
		if cost < bestCost {
			bestCost = cost
			best = &IndexChoice{
				IndexType:   stat.indexType,
				IndexName:   name,
				Selectivity: stat.selectivity,
				Cost:        cost,
				Reason:      fmt.Sprintf("lowest estimated cost: %.2f", cost),
			}
		}
	}

	if best == nil {
		return IndexChoice{
			IndexType:   IndexTypeBTree,
			IndexName:   "table_scan",
			Selectivity: 1.0,
			Cost:        1000.0,
			Reason:      "no suitable index found, using table scan",
		}
	}
	return *best
}

const maxCost = 1 << 30

func (o *Optimizer) estimateIndexCost(q Query, indexName string, stat indexStat) float64 {
	baseCost := stat.scanCost

	switch q.Type {
	case QueryTypeFuzzySearch:
		if stat.indexType == IndexTypeTrigram {
			return baseCost * 0.5
		}
		return baseCost * 2.0
	case QueryTypeTextSearch:
		if stat.indexType == IndexTypeFTS {
			return baseCost * 0.3
		}
		return baseCost * 3.0
	case QueryTypeSymbolSearch:
		if strings.Contains(indexName, "name") {
			return baseCost * 0.8
		}
		return baseCost * 1.5
	}
	return baseCost
}

func (o *Optimizer) optimizeFilterOrder(q Query) []string {
	if len(q.Filters) == 0 {
		return nil
	}

	type named struct {
		name        string
		selectivity float64
	}
	filters := make([]named, 0, len(q.Filters))
	for name, value := range q.Filters {
		filters = append(filters, named{name: name, selectivity: o.estimateFilterSelectivity(name, value)})
	}
	sort.Slice(filters, func(i, j int) bool { return filters[i].selectivity < filters[j].selectivity })

	ordered := make([]string, len(filters))
	for i, f := range filters {
		ordered[i] = f.name
	}
	return ordered
}

func (o *Optimizer) estimateFilterSelectivity(name string, _ any) float64 {
	switch name {
	case "kind":
		return 0.1
	case "language":
		return 0.2
	case "file_path":
		return 0.01
	default:
		return 0.5
	}
}

func (o *Optimizer) shouldUseCache(q Query) bool {
	if q.Type == QueryTypeSemanticSearch || q.Type == QueryTypeTextSearch {
		return true
	}
	return len(q.Filters) == 0
}

func (o *Optimizer) estimateBaseRows(q Query) int {
	switch q.Type {
	case QueryTypeSymbolSearch:
		return 10000
	case QueryTypeTextSearch:
		return 5000
	case QueryTypeFuzzySearch:
		return 1000
	case QueryTypeSemanticSearch:
		return 100
	default:
		return 1000
	}
}

func (o *Optimizer) calculateSelectivity(q Query) float64 {
	if len(q.Filters) == 0 {
		return 1.0
	}
	total := 1.0
	for name, value := range q.Filters {
		total *= o.estimateFilterSelectivity(name, value)
	}
	return total
}

func (o *Optimizer) calculateConfidence(q Query) float64 {
	confidence := 0.8
	if len(q.Filters) > 3 {
		confidence *= 0.8
	}
	if q.Type == QueryTypeSemanticSearch {
		confidence *= 0.6
	}
	if confidence < 0.1 {
		confidence = 0.1
	}
	return confidence
}

func (o *Optimizer) generateOptimizationNotes(q Query, choice IndexChoice) []string {
	notes := []string{
		fmt.Sprintf("selected %s index: %s", choice.IndexType, choice.IndexName),
		fmt.Sprintf("estimated selectivity: %.3f", choice.Selectivity),
	}
	if len(q.Filters) > 0 {
		notes = append(notes, fmt.Sprintf("applied %d filters", len(q.Filters)))
	}
	if q.Limit > 0 && q.Limit < 100 {
		notes = append(notes, "small result set limit, good for performance")
	}
	return notes
}

func (o *Optimizer) generateCacheKey(q Query) string {
	names := make([]string, 0, len(q.Filters))
	for name := range q.Filters {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := []string{
		string(q.Type),
		q.Text,
		strings.Join(names, ","),
		fmt.Sprintf("%d", q.Limit),
		fmt.Sprintf("%d", q.Offset),
	}
	sum := md5.Sum([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
