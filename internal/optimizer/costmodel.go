package optimizer

// CostModel estimates the CPU, I/O and memory cost of executing a
// query against an estimated row count. The constants below are the
// optimizer's baseline calibration and are not meant to be tuned at
// runtime.
type CostModel struct {
	CPUCostPerRow    float64
	IOCostPerPage    float64
	MemoryCostPerMB  float64
	RowsPerPage      int
}

// DefaultCostModel returns the optimizer's baseline cost model.
func DefaultCostModel() CostModel {
	return CostModel{
		CPUCostPerRow:   0.01,
		IOCostPerPage:   1.0,
		MemoryCostPerMB: 0.1,
		RowsPerPage:     100,
	}
}

// CalculateCPUCost estimates CPU cost, scaled up for query types known
// to be CPU-intensive (fuzzy, semantic) and for the number of filters
// applied.
func (m CostModel) CalculateCPUCost(q Query, estimatedRows int) float64 {
	baseCost := float64(estimatedRows) * m.CPUCostPerRow

	switch q.Type {
	case QueryTypeFuzzySearch:
		baseCost *= 3.0
	case QueryTypeSemanticSearch:
		baseCost *= 5.0
	}

	filterCost := float64(len(q.Filters)) * float64(estimatedRows) * 0.001
	return baseCost + filterCost
}

// CalculateIOCost estimates page-read cost for the estimated row count.
func (m CostModel) CalculateIOCost(q Query, estimatedRows int) float64 {
	pagesNeeded := estimatedRows / m.RowsPerPage
	if pagesNeeded < 1 {
		pagesNeeded = 1
	}
	return float64(pagesNeeded) * m.IOCostPerPage
}

// CalculateMemoryCost estimates result-set memory cost, assuming
// roughly 1KB per row.
func (m CostModel) CalculateMemoryCost(q Query, estimatedRows int) float64 {
	mbNeeded := float64(estimatedRows) * 0.001
	if mbNeeded < 1 {
		mbNeeded = 1
	}
	return mbNeeded * m.MemoryCostPerMB
}
