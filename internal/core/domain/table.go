package domain

// ColumnInfo describes one column of a table, with planner statistics when
// the table has been analyzed.
type ColumnInfo struct {
	Name          string      `json:"name"`
	DataType      string      `json:"type"`
	Nullable      bool        `json:"nullable"`
	Comment       string      `json:"comment,omitempty"`
	NullFraction  *float64    `json:"null_fraction,omitempty"`
	DistinctCount *int64      `json:"distinct_count,omitempty"`
	Selectivity   Selectivity `json:"selectivity,omitempty"`
}

// IndexInfo is an existing index on a table.
type IndexInfo struct {
	Name       string `json:"name"`
	Definition string `json:"definition"`
}

// TableInfo is advisory metadata about a table embedded in AI prompts.
// RowCount is the catalog estimate (pg_class.reltuples), not a live count.
type TableInfo struct {
	Schema   string       `json:"schema"`
	Name     string       `json:"name"`
	Comment  string       `json:"comment,omitempty"`
	Columns  []ColumnInfo `json:"columns"`
	Indexes  []IndexInfo  `json:"indexes"`
	RowCount int64        `json:"row_count"`
}

// QualifiedName returns schema.name.
func (t TableInfo) QualifiedName() string {
	return t.Schema + "." + t.Name
}
