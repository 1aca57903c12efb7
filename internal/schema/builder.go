package schema

import (
	"time"

	"github.com/fhirworks/fhirstore/internal/registry"
)

// Build derives the full schema from a frozen registry: one table set per
// concrete resource type plus the four global lookup tables. Identical
// registries yield identical output (resource types are sorted, column
// order is fixed-columns-then-impls-in-code-order).
func Build(reg *registry.Registry) *SchemaDefinition {
	def := &SchemaDefinition{
		Version:     SchemaVersion,
		GeneratedAt: time.Now().UTC(),
	}
	for _, resourceType := range reg.TableResourceTypes() {
		def.TableSets = append(def.TableSets, buildTableSet(resourceType, reg.Impls(resourceType)))
	}
	def.GlobalLookupTables = buildLookupTables()
	return def
}

// fixedMainColumns are the columns every main table starts with.
func fixedMainColumns(resourceType string) []ColumnDefinition {
	cols := []ColumnDefinition{
		{Name: "id", Type: "UUID", NotNull: true},
		{Name: "content", Type: "TEXT", NotNull: true},
		{Name: "lastUpdated", Type: "TIMESTAMPTZ", NotNull: true},
		{Name: "deleted", Type: "BOOLEAN", NotNull: true, Default: "false"},
		{Name: "projectId", Type: "UUID"},
		{Name: "__version", Type: "INTEGER", NotNull: true},
		{Name: "_source", Type: "TEXT"},
		{Name: "_profile", Type: "TEXT[]"},
	}
	// Binary resources never carry compartment membership.
	if resourceType != "Binary" {
		cols = append(cols, ColumnDefinition{Name: "compartments", Type: "UUID[]"})
	}
	return cols
}

func buildTableSet(resourceType string, impls []*registry.Impl) ResourceTableSet {
	main := TableDefinition{
		Name:       resourceType,
		Columns:    fixedMainColumns(resourceType),
		PrimaryKey: []string{"id"},
	}

	var searchCols []ColumnDefinition
	for _, impl := range impls {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		colType := impl.ColumnType
		if impl.Array {
			colType += "[]"
		}
		searchCols = append(searchCols, ColumnDefinition{
			Name:          impl.ColumnName,
			Type:          colType,
			Documentation: impl.Expression,
		})
	}
	main.Columns = append(main.Columns, searchCols...)

	main.Indexes = append(main.Indexes,
		IndexDefinition{
			Name:    resourceType + "_lastUpdated_idx",
			Columns: []string{"lastUpdated"},
			Type:    IndexBTree,
		},
		IndexDefinition{
			Name:    resourceType + "_id_live_idx",
			Columns: []string{"id"},
			Type:    IndexBTree,
			Where:   `"deleted" = false`,
		},
	)
	if resourceType != "Binary" {
		main.Indexes = append(main.Indexes, IndexDefinition{
			Name:    resourceType + "_compartments_idx",
			Columns: []string{"compartments"},
			Type:    IndexGIN,
		})
	}

	for _, impl := range impls {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		idxType := IndexBTree
		if impl.Array {
			idxType = IndexGIN
		}
		main.Indexes = append(main.Indexes, IndexDefinition{
			Name:    resourceType + "_" + impl.ColumnName + "_idx",
			Columns: []string{impl.ColumnName},
			Type:    idxType,
		})
		// String search supports :contains, backed by a trigram index.
		if impl.Type == "string" && !impl.Array {
			main.Indexes = append(main.Indexes, IndexDefinition{
				Name:    resourceType + "_" + impl.ColumnName + "_trgm_idx",
				Columns: []string{impl.ColumnName},
				Type:    IndexGIN,
				OpClass: "gin_trgm_ops",
			})
		}
	}

	history := TableDefinition{
		Name: resourceType + "_History",
		Columns: []ColumnDefinition{
			{Name: "id", Type: "UUID", NotNull: true},
			{Name: "versionId", Type: "UUID", NotNull: true},
			{Name: "lastUpdated", Type: "TIMESTAMPTZ", NotNull: true},
			{Name: "content", Type: "TEXT", NotNull: true},
		},
		PrimaryKey: []string{"id", "versionId"},
		Indexes: []IndexDefinition{
			{
				Name:    resourceType + "_History_lastUpdated_idx",
				Columns: []string{"lastUpdated"},
				Type:    IndexBTree,
			},
		},
	}

	references := TableDefinition{
		Name: resourceType + "_References",
		Columns: []ColumnDefinition{
			{Name: "resourceId", Type: "UUID", NotNull: true},
			{Name: "targetId", Type: "TEXT", NotNull: true},
			{Name: "code", Type: "TEXT", NotNull: true},
		},
		PrimaryKey: []string{"resourceId", "targetId", "code"},
		Indexes: []IndexDefinition{
			{
				Name:    resourceType + "_References_targetId_idx",
				Columns: []string{"targetId"},
				Type:    IndexBTree,
			},
			{
				Name:    resourceType + "_References_code_idx",
				Columns: []string{"code"},
				Type:    IndexBTree,
			},
		},
	}

	return ResourceTableSet{
		ResourceType: resourceType,
		Main:         main,
		History:      history,
		References:   references,
	}
}

// buildLookupTables emits the four shared tables decomposing complex types
// across all resource types.
func buildLookupTables() []TableDefinition {
	shared := []ColumnDefinition{
		{Name: "resourceId", Type: "UUID", NotNull: true},
		{Name: "resourceType", Type: "TEXT", NotNull: true},
	}

	humanName := TableDefinition{
		Name: "HumanName",
		Columns: append(append([]ColumnDefinition{}, shared...),
			ColumnDefinition{Name: "name", Type: "TEXT"},
			ColumnDefinition{Name: "family", Type: "TEXT"},
			ColumnDefinition{Name: "given", Type: "TEXT"},
		),
		Indexes: []IndexDefinition{
			{Name: "HumanName_resourceId_idx", Columns: []string{"resourceId"}, Type: IndexBTree},
			{Name: "HumanName_name_trgm_idx", Columns: []string{"name"}, Type: IndexGIN, OpClass: "gin_trgm_ops"},
			{Name: "HumanName_family_idx", Columns: []string{"family"}, Type: IndexBTree},
			{Name: "HumanName_given_idx", Columns: []string{"given"}, Type: IndexBTree},
		},
	}

	address := TableDefinition{
		Name: "Address",
		Columns: append(append([]ColumnDefinition{}, shared...),
			ColumnDefinition{Name: "address", Type: "TEXT"},
			ColumnDefinition{Name: "city", Type: "TEXT"},
			ColumnDefinition{Name: "state", Type: "TEXT"},
			ColumnDefinition{Name: "postalCode", Type: "TEXT"},
			ColumnDefinition{Name: "country", Type: "TEXT"},
			ColumnDefinition{Name: "use", Type: "TEXT"},
		),
		Indexes: []IndexDefinition{
			{Name: "Address_resourceId_idx", Columns: []string{"resourceId"}, Type: IndexBTree},
			{Name: "Address_address_trgm_idx", Columns: []string{"address"}, Type: IndexGIN, OpClass: "gin_trgm_ops"},
			{Name: "Address_city_idx", Columns: []string{"city"}, Type: IndexBTree},
			{Name: "Address_postalCode_idx", Columns: []string{"postalCode"}, Type: IndexBTree},
		},
	}

	contactPoint := TableDefinition{
		Name: "ContactPoint",
		Columns: append(append([]ColumnDefinition{}, shared...),
			ColumnDefinition{Name: "system", Type: "TEXT"},
			ColumnDefinition{Name: "value", Type: "TEXT"},
		),
		Indexes: []IndexDefinition{
			{Name: "ContactPoint_resourceId_idx", Columns: []string{"resourceId"}, Type: IndexBTree},
			{Name: "ContactPoint_value_idx", Columns: []string{"value"}, Type: IndexBTree},
		},
	}

	identifier := TableDefinition{
		Name: "Identifier",
		Columns: append(append([]ColumnDefinition{}, shared...),
			ColumnDefinition{Name: "system", Type: "TEXT"},
			ColumnDefinition{Name: "value", Type: "TEXT"},
		),
		Indexes: []IndexDefinition{
			{Name: "Identifier_resourceId_idx", Columns: []string{"resourceId"}, Type: IndexBTree},
			{Name: "Identifier_system_value_idx", Columns: []string{"system", "value"}, Type: IndexBTree},
		},
	}

	return []TableDefinition{humanName, address, contactPoint, identifier}
}
