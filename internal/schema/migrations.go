package schema

import (
	"github.com/fhirworks/fhirstore/internal/platform/db"
	"github.com/fhirworks/fhirstore/internal/registry"
)

// Migrations returns the registered migration set for a registry. The
// generated DDL is deterministic, so re-running against the same registry
// plans the same statements.
func Migrations(reg *registry.Registry) []db.Migration {
	def := Build(reg)
	return []db.Migration{
		{
			Version:     1,
			Description: "trigram extension for string search",
			Up:          []string{`CREATE EXTENSION IF NOT EXISTS pg_trgm`},
			Down:        []string{`DROP EXTENSION IF EXISTS pg_trgm`},
		},
		{
			Version:     2,
			Description: "resource tables, history, references and lookup tables",
			Up:          GenerateDDL(def),
			Down:        GenerateDropDDL(def),
		},
	}
}
