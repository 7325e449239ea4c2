package common

import (
	"fmt"
	"os"
	"sort"
	"time"
)

// StorageAnalysisBuilder accumulates table and index rows for one snapshot.
type StorageAnalysisBuilder struct {
	// TotalSize may be driven directly by adapters whose engine reports a
	// database-level figure larger than the table sum.
	TotalSize int64

	tables  []TableInfo
	indexes []IndexInfo
}

// NewStorageAnalysis returns an empty snapshot builder.
func NewStorageAnalysis() *StorageAnalysisBuilder {
	return &StorageAnalysisBuilder{}
}

// AddTable appends one table row.
func (b *StorageAnalysisBuilder) AddTable(t TableInfo) {
	b.tables = append(b.tables, t)
}

// AddIndex appends one index row.
func (b *StorageAnalysisBuilder) AddIndex(i IndexInfo) {
	b.indexes = append(b.indexes, i)
}

// SortTablesBySize orders tables size-descending. Adapters whose catalog
// query already orders rows skip this.
func (b *StorageAnalysisBuilder) SortTablesBySize() {
	sort.SliceStable(b.tables, func(i, j int) bool {
		return b.tables[i].Size > b.tables[j].Size
	})
}

// Finish seals the snapshot: counts, the largest table, and the analysis
// timestamp. When TotalSize was never driven it becomes the sum of table
// and index sizes.
func (b *StorageAnalysisBuilder) Finish() *StorageAnalysis {
	a := &StorageAnalysis{
		TotalSize:    b.TotalSize,
		TableCount:   len(b.tables),
		IndexCount:   len(b.indexes),
		Tables:       b.tables,
		Indexes:      b.indexes,
		LastAnalyzed: time.Now(),
	}
	if a.Tables == nil {
		a.Tables = []TableInfo{}
	}
	if a.Indexes == nil {
		a.Indexes = []IndexInfo{}
	}

	if a.TotalSize == 0 {
		for _, t := range b.tables {
			a.TotalSize += t.Size + t.IndexSize
		}
	}
	if len(b.tables) > 0 {
		largest := b.tables[0]
		for _, t := range b.tables[1:] {
			if t.Size > largest.Size {
				largest = t
			}
		}
		a.LargestTable = largest
	}
	return a
}

// SchemaBuilder accumulates schema objects, preserving first-seen order.
type SchemaBuilder struct {
	name   string
	order  []string
	tables map[string]*SchemaTable
}

// NewSchemaBuilder starts a schema for the named database.
func NewSchemaBuilder(name string) *SchemaBuilder {
	return &SchemaBuilder{name: name, tables: make(map[string]*SchemaTable)}
}

// AddTable registers a table without columns.
func (b *SchemaBuilder) AddTable(table string) *SchemaTable {
	if t, ok := b.tables[table]; ok {
		return t
	}
	t := &SchemaTable{Name: table}
	b.tables[table] = t
	b.order = append(b.order, table)
	return t
}

// AddColumn appends a column to the table, registering it on first sight.
func (b *SchemaBuilder) AddColumn(table string, col ColumnInfo) {
	t := b.AddTable(table)
	t.Columns = append(t.Columns, col)
}

// AddIndex appends an index name to the table.
func (b *SchemaBuilder) AddIndex(table, index string) {
	t := b.AddTable(table)
	t.Indexes = append(t.Indexes, index)
}

// Schema seals the accumulated objects.
func (b *SchemaBuilder) Schema() *SchemaInfo {
	info := &SchemaInfo{Name: b.name, Tables: make([]SchemaTable, 0, len(b.order))}
	for _, name := range b.order {
		info.Tables = append(info.Tables, *b.tables[name])
	}
	return info
}

// ArtifactSize stats a freshly produced dump artifact. A missing or
// zero-byte artifact is an error: an empty dump is never success.
func ArtifactSize(path string) (int64, error) {
	fi, err := os.Stat(path)
	if err != nil {
		return 0, fmt.Errorf("backup artifact missing: %w", err)
	}
	if fi.Size() == 0 {
		return 0, fmt.Errorf("backup artifact %s is empty", path)
	}
	return fi.Size(), nil
}
