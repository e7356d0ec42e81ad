// Package optimizer implements the Query Optimizer: cost-based index
// selection, filter reordering, search-plan generation and execution
// statistics for the search subsystem.
package optimizer

// QueryType identifies the kind of search a Query represents, which
// drives both cost estimation and index selection.
type QueryType string

const (
	QueryTypeSymbolSearch     QueryType = "symbol_search"
	QueryTypeTextSearch       QueryType = "text_search"
	QueryTypeFuzzySearch      QueryType = "fuzzy_search"
	QueryTypeSemanticSearch   QueryType = "semantic_search"
	QueryTypeReferenceSearch  QueryType = "reference_search"
	QueryTypeDefinitionSearch QueryType = "definition_search"
)

// IndexType names a class of index the optimizer can choose between.
type IndexType string

const (
	IndexTypeBTree    IndexType = "btree"
	IndexTypeFTS      IndexType = "fts"
	IndexTypeTrigram  IndexType = "trigram"
	IndexTypeSemantic IndexType = "semantic"
	IndexTypeHash     IndexType = "hash"
)

// Query represents a single search request submitted to the optimizer.
type Query struct {
	Type     QueryType
	Text     string
	Filters  map[string]any
	Limit    int
	Offset   int
	Metadata map[string]any
}

// QueryCost is the optimizer's cost estimate for executing a Query.
type QueryCost struct {
	EstimatedRows   int
	EstimatedTimeMs float64
	CPUCost         float64
	IOCost          float64
	MemoryCost      float64
	TotalCost       float64
	Confidence      float64 // 0.0 to 1.0
}

// IndexChoice records which index the optimizer picked for a query and
// why.
type IndexChoice struct {
	IndexType   IndexType
	IndexName   string
	Selectivity float64
	Cost        float64
	Reason      string
}

// OptimizedQuery is a Query after rewrite, index selection and filter
// reordering have been applied.
type OptimizedQuery struct {
	Original          Query
	RewrittenText     string
	IndexChoice       IndexChoice
	FiltersOrder      []string
	UseCache          bool
	EstimatedCost     QueryCost
	OptimizationNotes []string
}

// PlanStep is one stage of a SearchPlan's execution (index_scan,
// filter, or limit).
type PlanStep struct {
	Type               string
	Index              string
	IndexType          string
	EstimatedRows      int
	Filters            []string
	EstimatedSelectivity float64
	Limit              int
	Offset             int
}

// SearchPlan is the concrete execution plan the optimizer produces for
// a Query, ready to hand to the Hybrid Search executor.
type SearchPlan struct {
	Query         Query
	Steps         []PlanStep
	IndexChoice   IndexChoice
	EstimatedCost QueryCost
	CacheKey      string // empty if the plan is not cacheable
}

// IndexSuggestion is a recommendation to create a new index, derived
// from observed query patterns.
type IndexSuggestion struct {
	IndexType        IndexType
	Columns          []string
	EstimatedBenefit float64
	CreationCost     float64
	MaintenanceCost  float64
	Reason           string
}

// PerformanceReport compares a query's estimated cost against its
// actual measured execution.
type PerformanceReport struct {
	Query           Query
	ActualTimeMs    float64
	EstimatedTimeMs float64
	ActualRows      int
	EstimatedRows   int
	IndexUsed       string
	Bottlenecks     []string
	Suggestions     []string
}

// SearchStatistics is a running summary of optimizer activity, returned
// by Optimizer.GetSearchStatistics.
type SearchStatistics struct {
	TotalQueries        int
	AvgResponseTimeMs   float64
	CacheHitRate        float64
	IndexUsage          map[string]int
	QueryPatterns       map[string]int
	PerformanceTrends   []float64 // bounded to the most recent 100 samples
}
