package search

import (
	"fmt"
	"strings"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/registry"
	"github.com/fhirworks/fhirstore/internal/schema"
)

// buildWhere compiles the shared WHERE clause of the primary and count
// queries: live rows, optional project scope, optional compartment, then
// the per-parameter conditions. Returns the clause (without WHERE), its
// args, and the next parameter index.
func buildWhere(reg *registry.Registry, req *SearchRequest, project string, idx int) (string, []interface{}, int, error) {
	clauses := []string{`"deleted" = false`}
	var args []interface{}

	if project != "" {
		clauses = append(clauses, fmt.Sprintf(`"projectId" = $%d`, idx))
		args = append(args, project)
		idx++
	}
	if req.Compartment != "" {
		clauses = append(clauses, fmt.Sprintf(`"compartments" @> ARRAY[$%d]::uuid[]`, idx))
		args = append(args, req.Compartment)
		idx++
	}

	for _, param := range req.Params {
		if param.Code == "_id" {
			clause, pArgs, next := compileIDParam(param, idx)
			clauses = append(clauses, clause)
			args = append(args, pArgs...)
			idx = next
			continue
		}
		impl, err := resolveParam(reg, req.ResourceType, param)
		if err != nil {
			return "", nil, idx, err
		}
		clause, pArgs, next, err := CompileParam(impl, param, idx)
		if err != nil {
			return "", nil, idx, err
		}
		clauses = append(clauses, clause)
		args = append(args, pArgs...)
		idx = next
	}

	return strings.Join(clauses, " AND "), args, idx, nil
}

// compileIDParam compares the UUID primary key textually so arbitrary
// client values cannot trip the uuid parser.
func compileIDParam(param ParsedParam, idx int) (string, []interface{}, int) {
	var ors []string
	var args []interface{}
	for _, v := range param.Values {
		ors = append(ors, fmt.Sprintf(`"id"::text = $%d`, idx))
		args = append(args, v.Value)
		idx++
	}
	clause := strings.Join(ors, " OR ")
	if len(ors) > 1 {
		clause = "(" + clause + ")"
	}
	return clause, args, idx
}

// resolveParam finds the impl for a parameter code; the reserved
// _lastUpdated parameter resolves to a synthetic impl over the fixed
// column.
func resolveParam(reg *registry.Registry, resourceType string, param ParsedParam) (*registry.Impl, error) {
	switch param.Code {
	case "_lastUpdated":
		return &registry.Impl{
			ResourceType: resourceType, Code: "_lastUpdated", Type: "date",
			Strategy: registry.StrategyColumn, ColumnName: "lastUpdated", ColumnType: "TIMESTAMPTZ",
		}, nil
	}
	impl, ok := reg.Impl(resourceType, param.Code)
	if !ok {
		return nil, fhir.InvalidError("unknown search parameter %q on %s", param.Code, resourceType)
	}
	return impl, nil
}

// BuildQuery renders the primary search query.
func BuildQuery(reg *registry.Registry, req *SearchRequest, project string) (string, []interface{}, error) {
	where, args, idx, err := buildWhere(reg, req, project, 1)
	if err != nil {
		return "", nil, err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT "id", "content", "lastUpdated", "deleted" FROM %s WHERE %s`,
		schema.Quote(req.ResourceType), where)

	sb.WriteString(" ORDER BY ")
	sb.WriteString(orderBy(reg, req))

	fmt.Fprintf(&sb, " LIMIT $%d", idx)
	args = append(args, req.Count)
	idx++
	if req.Offset > 0 {
		fmt.Fprintf(&sb, " OFFSET $%d", idx)
		args = append(args, req.Offset)
	}
	return sb.String(), args, nil
}

// BuildCountQuery renders the accurate-total companion query.
func BuildCountQuery(reg *registry.Registry, req *SearchRequest, project string) (string, []interface{}, error) {
	where, args, _, err := buildWhere(reg, req, project, 1)
	if err != nil {
		return "", nil, err
	}
	sql := fmt.Sprintf(`SELECT COUNT(*) FROM %s WHERE %s`, schema.Quote(req.ResourceType), where)
	return sql, args, nil
}

// EstimateSQL reads the planner's row estimate for a whole table. Only
// usable when the search carries no narrowing conditions; callers fall
// back to the accurate count otherwise.
const EstimateSQL = `SELECT GREATEST(reltuples::bigint, 0) FROM pg_class WHERE relname = $1`

// Estimable reports whether the planner estimate answers this request.
func Estimable(req *SearchRequest, project string) bool {
	return len(req.Params) == 0 && req.Compartment == "" && project == ""
}

// orderBy resolves _sort codes onto columns. Unknown codes and lookup
// params are dropped; the default and final tiebreaker is lastUpdated
// descending.
func orderBy(reg *registry.Registry, req *SearchRequest) string {
	var fields []string
	for _, sf := range req.Sort {
		col := sortColumn(reg, req.ResourceType, sf.Code)
		if col == "" {
			continue
		}
		dir := "ASC"
		if sf.Descending {
			dir = "DESC"
		}
		fields = append(fields, schema.Quote(col)+" "+dir)
	}
	fields = append(fields, `"lastUpdated" DESC`)
	return strings.Join(fields, ", ")
}

func sortColumn(reg *registry.Registry, resourceType, code string) string {
	switch code {
	case "_id":
		return "id"
	case "_lastUpdated":
		return "lastUpdated"
	}
	impl, ok := reg.Impl(resourceType, code)
	if !ok {
		return ""
	}
	switch impl.Strategy {
	case registry.StrategyColumn, registry.StrategyTokenColumn:
		if impl.Array {
			return ""
		}
		return impl.ColumnName
	}
	return ""
}
