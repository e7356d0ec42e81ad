package optimizer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOptimizer(t *testing.T) *Optimizer {
	t.Helper()
	o, err := New(64, nil)
	require.NoError(t, err)
	return o
}

func TestOptimizeQuery_FuzzyRewriteLowercases(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.OptimizeQuery(Query{Type: QueryTypeFuzzySearch, Text: "GetUserByID"})
	assert.Equal(t, "getuserbyid", result.RewrittenText)
}

func TestOptimizeQuery_FuzzyRewriteSkipsShortText(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.OptimizeQuery(Query{Type: QueryTypeFuzzySearch, Text: "Ab"})
	assert.Equal(t, "Ab", result.RewrittenText)
}

func TestOptimizeQuery_TextSearchQuotesMultiWord(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.OptimizeQuery(Query{Type: QueryTypeTextSearch, Text: "open connection"})
	assert.Equal(t, `"open" AND "connection"`, result.RewrittenText)
}

func TestOptimizeQuery_IndexChoiceForFuzzyPrefersTrigram(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.OptimizeQuery(Query{Type: QueryTypeFuzzySearch, Text: "handler"})
	assert.Equal(t, IndexTypeTrigram, result.IndexChoice.IndexType)
}

func TestOptimizeQuery_IndexChoiceForTextSearchPrefersFTS(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.OptimizeQuery(Query{Type: QueryTypeTextSearch, Text: "connection pool"})
	assert.Equal(t, IndexTypeFTS, result.IndexChoice.IndexType)
}

func TestOptimizeQuery_FilterOrderBySelectivity(t *testing.T) {
	o := newTestOptimizer(t)
	result := o.OptimizeQuery(Query{
		Type: QueryTypeSymbolSearch,
		Filters: map[string]any{
			"language":  "go",
			"file_path": "internal/store",
			"kind":      "function",
		},
	})
	require.Len(t, result.FiltersOrder, 3)
	assert.Equal(t, "file_path", result.FiltersOrder[0])
	assert.Equal(t, "kind", result.FiltersOrder[1])
	assert.Equal(t, "language", result.FiltersOrder[2])
}

func TestOptimizeQuery_CacheEligibility(t *testing.T) {
	o := newTestOptimizer(t)

	textResult := o.OptimizeQuery(Query{Type: QueryTypeTextSearch, Text: "foo"})
	assert.True(t, textResult.UseCache)

	filtered := o.OptimizeQuery(Query{Type: QueryTypeSymbolSearch, Filters: map[string]any{"kind": "function"}})
	assert.False(t, filtered.UseCache)

	unfiltered := o.OptimizeQuery(Query{Type: QueryTypeSymbolSearch})
	assert.True(t, unfiltered.UseCache)
}

func TestEstimateCost_SemanticSearchLowerConfidence(t *testing.T) {
	o := newTestOptimizer(t)
	semantic := o.EstimateCost(Query{Type: QueryTypeSemanticSearch, Text: "error handling"})
	symbol := o.EstimateCost(Query{Type: QueryTypeSymbolSearch, Text: "Foo"})
	assert.Less(t, semantic.Confidence, symbol.Confidence)
}

func TestEstimateCost_ManyFiltersLowerConfidence(t *testing.T) {
	o := newTestOptimizer(t)
	q := Query{
		Type: QueryTypeSymbolSearch,
		Filters: map[string]any{
			"kind": "function", "language": "go", "file_path": "a", "scope": "b",
		},
	}
	cost := o.EstimateCost(q)
	base := o.EstimateCost(Query{Type: QueryTypeSymbolSearch})
	assert.Less(t, cost.Confidence, base.Confidence)
}

func TestEstimateCost_FuzzyHasHigherPerRowCPUCostThanSymbol(t *testing.T) {
	o := newTestOptimizer(t)
	fuzzy := o.EstimateCost(Query{Type: QueryTypeFuzzySearch, Text: "foo"})
	symbol := o.EstimateCost(Query{Type: QueryTypeSymbolSearch, Text: "foo"})
	assert.Greater(t, fuzzy.CPUCost/float64(fuzzy.EstimatedRows), symbol.CPUCost/float64(symbol.EstimatedRows))
}

func TestSuggestIndexes_RecommendsFrequentColumn(t *testing.T) {
	o := newTestOptimizer(t)
	patterns := []Query{
		{Type: QueryTypeSymbolSearch, Filters: map[string]any{"kind": "function"}},
		{Type: QueryTypeSymbolSearch, Filters: map[string]any{"kind": "function"}},
		{Type: QueryTypeSymbolSearch, Filters: map[string]any{"kind": "function"}},
		{Type: QueryTypeSymbolSearch, Filters: map[string]any{"language": "go"}},
	}
	suggestions := o.SuggestIndexes(patterns)
	require.NotEmpty(t, suggestions)

	found := false
	for _, s := range suggestions {
		if len(s.Columns) == 1 && s.Columns[0] == "kind" {
			found = true
		}
	}
	assert.True(t, found, "expected a suggestion for the frequently-filtered 'kind' column")
}

func TestSuggestIndexes_CapsAtFive(t *testing.T) {
	o := newTestOptimizer(t)
	var patterns []Query
	for i := 0; i < 20; i++ {
		patterns = append(patterns, Query{
			Type: QueryTypeSymbolSearch,
			Filters: map[string]any{
				"c1": 1, "c2": 2, "c3": 3, "c4": 4, "c5": 5, "c6": 6, "c7": 7,
			},
		})
	}
	suggestions := o.SuggestIndexes(patterns)
	assert.LessOrEqual(t, len(suggestions), 5)
}

func TestAnalyzePerformance_FlagsSlowQuery(t *testing.T) {
	o := newTestOptimizer(t)
	q := Query{Type: QueryTypeSymbolSearch, Text: "foo"}
	estimated := o.EstimateCost(q)

	report := o.AnalyzePerformance(q, estimated.EstimatedTimeMs*10, estimated.EstimatedRows)
	assert.NotEmpty(t, report.Bottlenecks)
	assert.NotEmpty(t, report.Suggestions)
}

func TestAnalyzePerformance_NoBottlenecksWhenOnEstimate(t *testing.T) {
	o := newTestOptimizer(t)
	q := Query{Type: QueryTypeSymbolSearch, Text: "foo"}
	estimated := o.EstimateCost(q)

	report := o.AnalyzePerformance(q, estimated.EstimatedTimeMs, estimated.EstimatedRows)
	assert.Empty(t, report.Bottlenecks)
}

func TestPlanSearch_IncludesFilterAndLimitSteps(t *testing.T) {
	o := newTestOptimizer(t)
	plan := o.PlanSearch(Query{
		Type:    QueryTypeSymbolSearch,
		Text:    "Foo",
		Filters: map[string]any{"kind": "function"},
		Limit:   20,
	})

	var types []string
	for _, step := range plan.Steps {
		types = append(types, step.Type)
	}
	assert.Contains(t, types, "index_scan")
	assert.Contains(t, types, "filter")
	assert.Contains(t, types, "limit")
}

func TestPlanSearch_CacheKeyStableForIdenticalQuery(t *testing.T) {
	o := newTestOptimizer(t)
	q := Query{Type: QueryTypeTextSearch, Text: "connection pool", Limit: 10}

	p1 := o.PlanSearch(q)
	p2 := o.PlanSearch(q)
	require.NotEmpty(t, p1.CacheKey)
	assert.Equal(t, p1.CacheKey, p2.CacheKey)
}

func TestExecutePlan_CachesResultsAndTracksHitRate(t *testing.T) {
	calls := 0
	executor := func(ctx context.Context, plan *SearchPlan) (*PlanResult, error) {
		calls++
		return &PlanResult{ResultIDs: []string{"a", "b"}, TotalCount: 2}, nil
	}
	o, err := New(64, executor)
	require.NoError(t, err)

	plan := o.PlanSearch(Query{Type: QueryTypeTextSearch, Text: "connection pool"})
	require.NotEmpty(t, plan.CacheKey)

	ctx := t.Context()
	first, err := o.ExecutePlan(ctx, &plan)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := o.ExecutePlan(ctx, &plan)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, calls, "executor should only run once; second call should be served from cache")
}

func TestExecutePlan_NoExecutorConfiguredReturnsError(t *testing.T) {
	o := newTestOptimizer(t)
	plan := o.PlanSearch(Query{Type: QueryTypeSymbolSearch, Filters: map[string]any{"kind": "function"}})

	_, err := o.ExecutePlan(t.Context(), &plan)
	assert.Error(t, err)
}

func TestGetSearchStatistics_TracksIndexUsageAndPatterns(t *testing.T) {
	executor := func(ctx context.Context, plan *SearchPlan) (*PlanResult, error) {
		return &PlanResult{ResultIDs: []string{"a"}, TotalCount: 1}, nil
	}
	o, err := New(64, executor)
	require.NoError(t, err)

	plan := o.PlanSearch(Query{Type: QueryTypeSymbolSearch, Filters: map[string]any{"kind": "function"}})
	_, err = o.ExecutePlan(t.Context(), &plan)
	require.NoError(t, err)

	stats := o.GetSearchStatistics()
	assert.Equal(t, 1, stats.QueryPatterns[string(QueryTypeSymbolSearch)])
	assert.Len(t, stats.PerformanceTrends, 1)
}

func TestOptimizePlan_ReturnsFreshPlanForSameQuery(t *testing.T) {
	o := newTestOptimizer(t)
	plan := o.PlanSearch(Query{Type: QueryTypeTextSearch, Text: "connection pool"})
	replanned := o.OptimizePlan(plan)
	assert.Equal(t, plan.Query, replanned.Query)
	assert.Equal(t, plan.CacheKey, replanned.CacheKey)
}
