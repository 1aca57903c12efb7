package schema

import "time"

// SchemaVersion tags the row format produced by the current builder. Rows
// written by older schema versions are recognized by their __version value.
const SchemaVersion = 1

// DeletedSchemaVersion is the __version recorded on soft-deleted rows.
const DeletedSchemaVersion = -1

// SchemaDefinition is the complete typed description of the generated
// relational schema. It is pure data: the DDL generator renders it and the
// SQL builders consume it, but nothing in here touches a database.
type SchemaDefinition struct {
	Version            int
	GeneratedAt        time.Time
	TableSets          []ResourceTableSet
	GlobalLookupTables []TableDefinition
}

// ResourceTableSet is the three per-resource-type relations.
type ResourceTableSet struct {
	ResourceType string
	Main         TableDefinition
	History      TableDefinition
	References   TableDefinition
}

// TableDefinition describes one table with its columns, constraints and
// indexes.
type TableDefinition struct {
	Name        string
	Columns     []ColumnDefinition
	PrimaryKey  []string
	Checks      []CheckConstraint
	Indexes     []IndexDefinition
}

// ColumnDefinition describes one column. Documentation carries the FHIRPath
// expression the column's values are extracted with, when any.
type ColumnDefinition struct {
	Name          string
	Type          string
	NotNull       bool
	Default       string
	Documentation string
}

// IndexType selects the PostgreSQL index access method.
type IndexType string

const (
	IndexBTree IndexType = "btree"
	IndexGIN   IndexType = "gin"
	IndexGiST  IndexType = "gist"
)

// IndexDefinition describes one index.
type IndexDefinition struct {
	Name       string
	Columns    []string
	Type       IndexType
	Unique     bool
	Where      string // partial index predicate, without WHERE
	Include    []string
	OpClass    string // per-column operator class, e.g. gin_trgm_ops
	Expression string // functional index expression; overrides Columns
}

// CheckConstraint is a named CHECK.
type CheckConstraint struct {
	Name       string
	Expression string
}
