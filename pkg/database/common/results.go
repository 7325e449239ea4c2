package common

import "time"

// TableInfo describes one table, collection, or measurement in a storage
// snapshot.
type TableInfo struct {
	Name      string  `json:"name"`
	Size      int64   `json:"size"`
	RowCount  int64   `json:"rowCount"`
	IndexSize int64   `json:"indexSize"`
	Bloat     float64 `json:"bloat"`
}

// IndexInfo describes one index in a storage snapshot.
type IndexInfo struct {
	Name      string  `json:"name"`
	TableName string  `json:"tableName"`
	Size      int64   `json:"size"`
	Bloat     float64 `json:"bloat"`
}

// StorageAnalysis is a point-in-time storage snapshot. It is a value: once
// returned it is never mutated. TotalSize may exceed the sum of table sizes
// because engines report overhead (WAL, system areas) that belongs to no
// single table. Table ordering is size-descending where the engine reports
// sizes cheaply; otherwise catalog order (documented per adapter).
type StorageAnalysis struct {
	TotalSize    int64       `json:"totalSize"`
	TableCount   int         `json:"tableCount"`
	IndexCount   int         `json:"indexCount"`
	LargestTable TableInfo   `json:"largestTable"`
	Tables       []TableInfo `json:"tables"`
	Indexes      []IndexInfo `json:"indexes"`
	LastAnalyzed time.Time   `json:"lastAnalyzed"`
}

// QueryResult is the outcome of one ExecuteQuery call.
type QueryResult struct {
	Columns       []string         `json:"columns"`
	Rows          []map[string]any `json:"rows"`
	RowCount      int              `json:"rowCount"`
	ExecutionTime time.Duration    `json:"executionTime"`

	// ExplainPlan is attached best-effort for read statements on engines
	// that support it; empty when unavailable.
	ExplainPlan string `json:"explainPlan,omitempty"`
}

// ColumnInfo describes one column or field of a schema object.
type ColumnInfo struct {
	Name     string `json:"name"`
	DataType string `json:"dataType"`
	Nullable bool   `json:"nullable"`
}

// SchemaTable describes one table/collection/measurement in a schema.
type SchemaTable struct {
	Name    string       `json:"name"`
	Columns []ColumnInfo `json:"columns,omitempty"`
	Indexes []string     `json:"indexes,omitempty"`
}

// SchemaInfo enumerates the schema objects of one database.
type SchemaInfo struct {
	Name   string        `json:"name"`
	Tables []SchemaTable `json:"tables"`
}
