package schema

import (
	"fmt"
	"strings"
)

// GenerateDDL renders a schema definition as CREATE statements, one per
// element, in deterministic order. Identifiers are always double-quoted;
// no user data ever flows into DDL.
func GenerateDDL(def *SchemaDefinition) []string {
	var stmts []string
	for _, set := range def.TableSets {
		stmts = append(stmts, tableDDL(&set.Main))
		stmts = append(stmts, indexDDL(&set.Main)...)
		stmts = append(stmts, tableDDL(&set.History))
		stmts = append(stmts, indexDDL(&set.History)...)
		stmts = append(stmts, tableDDL(&set.References))
		stmts = append(stmts, indexDDL(&set.References)...)
	}
	for i := range def.GlobalLookupTables {
		table := &def.GlobalLookupTables[i]
		stmts = append(stmts, tableDDL(table))
		stmts = append(stmts, indexDDL(table)...)
	}
	return stmts
}

// GenerateDropDDL renders DROP statements in reverse creation order.
func GenerateDropDDL(def *SchemaDefinition) []string {
	var stmts []string
	for i := len(def.GlobalLookupTables) - 1; i >= 0; i-- {
		stmts = append(stmts, fmt.Sprintf("DROP TABLE IF EXISTS %s", Quote(def.GlobalLookupTables[i].Name)))
	}
	for i := len(def.TableSets) - 1; i >= 0; i-- {
		set := def.TableSets[i]
		stmts = append(stmts,
			fmt.Sprintf("DROP TABLE IF EXISTS %s", Quote(set.References.Name)),
			fmt.Sprintf("DROP TABLE IF EXISTS %s", Quote(set.History.Name)),
			fmt.Sprintf("DROP TABLE IF EXISTS %s", Quote(set.Main.Name)),
		)
	}
	return stmts
}

func tableDDL(table *TableDefinition) string {
	var sb strings.Builder
	sb.WriteString("CREATE TABLE IF NOT EXISTS ")
	sb.WriteString(Quote(table.Name))
	sb.WriteString(" (\n")

	var lines []string
	for _, col := range table.Columns {
		line := "  " + Quote(col.Name) + " " + col.Type
		if col.NotNull {
			line += " NOT NULL"
		}
		if col.Default != "" {
			line += " DEFAULT " + col.Default
		}
		lines = append(lines, line)
	}
	if len(table.PrimaryKey) > 0 {
		lines = append(lines, "  PRIMARY KEY ("+quoteList(table.PrimaryKey)+")")
	}
	for _, check := range table.Checks {
		lines = append(lines, "  CONSTRAINT "+Quote(check.Name)+" CHECK ("+check.Expression+")")
	}
	sb.WriteString(strings.Join(lines, ",\n"))
	sb.WriteString("\n)")
	return sb.String()
}

func indexDDL(table *TableDefinition) []string {
	var stmts []string
	for _, idx := range table.Indexes {
		var sb strings.Builder
		sb.WriteString("CREATE ")
		if idx.Unique {
			sb.WriteString("UNIQUE ")
		}
		sb.WriteString("INDEX IF NOT EXISTS ")
		sb.WriteString(Quote(idx.Name))
		sb.WriteString(" ON ")
		sb.WriteString(Quote(table.Name))
		if idx.Type != "" && idx.Type != IndexBTree {
			sb.WriteString(" USING ")
			sb.WriteString(string(idx.Type))
		}
		sb.WriteString(" (")
		if idx.Expression != "" {
			sb.WriteString(idx.Expression)
		} else {
			cols := make([]string, len(idx.Columns))
			for i, c := range idx.Columns {
				cols[i] = Quote(c)
				if idx.OpClass != "" {
					cols[i] += " " + idx.OpClass
				}
			}
			sb.WriteString(strings.Join(cols, ", "))
		}
		sb.WriteString(")")
		if len(idx.Include) > 0 {
			sb.WriteString(" INCLUDE (")
			sb.WriteString(quoteList(idx.Include))
			sb.WriteString(")")
		}
		if idx.Where != "" {
			sb.WriteString(" WHERE ")
			sb.WriteString(idx.Where)
		}
		stmts = append(stmts, sb.String())
	}
	return stmts
}

// Quote double-quotes a SQL identifier.
func Quote(identifier string) string {
	return `"` + identifier + `"`
}

func quoteList(identifiers []string) string {
	quoted := make([]string, len(identifiers))
	for i, id := range identifiers {
		quoted[i] = Quote(id)
	}
	return strings.Join(quoted, ", ")
}
