package domain

// Selectivity is a coarse hint about how useful a B-tree index on a column
// would be for equality filters.
type Selectivity string

const (
	// SelectivityHigh: (near-)unique values; an index narrows lookups to a few rows.
	SelectivityHigh Selectivity = "high"
	// SelectivityMedium: many distinct values but with repeats.
	SelectivityMedium Selectivity = "medium"
	// SelectivityLow: few distinct values; a plain index rarely beats a seq
	// scan unless it is partial or composite.
	SelectivityLow Selectivity = "low"
)

const (
	nearUniqueRatio   = 0.9
	lowDistinctValues = 20
)

// ClassifySelectivity derives a selectivity hint from absolute distinct and
// total row counts. It returns "" when there is nothing to judge.
func ClassifySelectivity(distinct, rows int64) Selectivity {
	if rows <= 0 || distinct <= 0 {
		return ""
	}
	if float64(distinct)/float64(rows) >= nearUniqueRatio {
		return SelectivityHigh
	}
	if distinct <= lowDistinctValues {
		return SelectivityLow
	}
	return SelectivityMedium
}

// DistinctToAbsolute converts pg_stats.n_distinct into an absolute count.
// Negative values are a fraction of the row count; -1 means all unique.
func DistinctToAbsolute(nDistinct float64, rows int64) int64 {
	if nDistinct < 0 {
		return int64(-nDistinct*float64(rows) + 0.5)
	}
	return int64(nDistinct + 0.5)
}
