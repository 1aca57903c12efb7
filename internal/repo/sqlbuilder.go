package repo

import (
	"fmt"
	"strings"
	"time"

	"github.com/fhirworks/fhirstore/internal/schema"
)

// ============================================================================
// SQL generation
//
// Every function here returns (sql, args) with positional $n parameters.
// Identifiers are quoted via schema.Quote; no user data is ever spliced
// into SQL text.
// ============================================================================

// UpsertMainRowSQL writes or replaces the live row for a resource.
// ON CONFLICT replaces every column, so an update and a create are the
// same statement.
func UpsertMainRowSQL(resourceType string, row *MainRow) (string, []interface{}) {
	names, values := row.Columns()

	quoted := make([]string, len(names))
	placeholders := make([]string, len(names))
	updates := make([]string, 0, len(names)-1)
	for i, name := range names {
		quoted[i] = schema.Quote(name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		if name != "id" {
			updates = append(updates, schema.Quote(name)+" = EXCLUDED."+schema.Quote(name))
		}
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s) ON CONFLICT ("id") DO UPDATE SET %s`,
		schema.Quote(resourceType),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(updates, ", "),
	)
	return sql, values
}

// InsertHistoryRowSQL appends one version record. The (id, versionId)
// primary key makes replays idempotent via DO NOTHING.
func InsertHistoryRowSQL(resourceType string, row *HistoryRow) (string, []interface{}) {
	sql := fmt.Sprintf(
		`INSERT INTO %s ("id", "versionId", "lastUpdated", "content") VALUES ($1, $2, $3, $4) ON CONFLICT DO NOTHING`,
		schema.Quote(resourceType+"_History"),
	)
	return sql, []interface{}{row.ID, row.VersionID, row.LastUpdated, row.Content}
}

// SelectRowSQL fetches the live row for a read. projectID narrows the
// lookup when the caller is project-scoped.
func SelectRowSQL(resourceType, id string, projectID string) (string, []interface{}) {
	sql := fmt.Sprintf(
		`SELECT "content", "deleted", "lastUpdated" FROM %s WHERE "id" = $1`,
		schema.Quote(resourceType),
	)
	args := []interface{}{id}
	if projectID != "" {
		sql += ` AND "projectId" = $2`
		args = append(args, projectID)
	}
	return sql, args
}

// SelectVersionSQL fetches one specific version from history.
func SelectVersionSQL(resourceType, id, versionID string) (string, []interface{}) {
	sql := fmt.Sprintf(
		`SELECT "content" FROM %s WHERE "id" = $1 AND "versionId" = $2`,
		schema.Quote(resourceType+"_History"),
	)
	return sql, []interface{}{id, versionID}
}

// InstanceHistorySQL lists the versions of one resource, newest first.
// since is an optional inclusive lower bound on lastUpdated; before is
// an exclusive upper bound used for pagination.
func InstanceHistorySQL(resourceType, id string, since, before *time.Time, count int) (string, []interface{}) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT "id", "content", "lastUpdated" FROM %s WHERE "id" = $1`, schema.Quote(resourceType+"_History"))
	args := []interface{}{id}
	idx := 2
	if since != nil {
		fmt.Fprintf(&sb, ` AND "lastUpdated" >= $%d`, idx)
		args = append(args, *since)
		idx++
	}
	if before != nil {
		fmt.Fprintf(&sb, ` AND "lastUpdated" < $%d`, idx)
		args = append(args, *before)
		idx++
	}
	fmt.Fprintf(&sb, ` ORDER BY "lastUpdated" DESC LIMIT $%d`, idx)
	args = append(args, count)
	return sb.String(), args
}

// TypeHistorySQL lists versions across all resources of a type, newest
// first.
func TypeHistorySQL(resourceType string, since, before *time.Time, count int) (string, []interface{}) {
	var sb strings.Builder
	fmt.Fprintf(&sb, `SELECT "id", "content", "lastUpdated" FROM %s WHERE 1 = 1`, schema.Quote(resourceType+"_History"))
	var args []interface{}
	idx := 1
	if since != nil {
		fmt.Fprintf(&sb, ` AND "lastUpdated" >= $%d`, idx)
		args = append(args, *since)
		idx++
	}
	if before != nil {
		fmt.Fprintf(&sb, ` AND "lastUpdated" < $%d`, idx)
		args = append(args, *before)
		idx++
	}
	fmt.Fprintf(&sb, ` ORDER BY "lastUpdated" DESC LIMIT $%d`, idx)
	args = append(args, count)
	return sb.String(), args
}

// DeleteReferencesSQL clears the outgoing edges of a resource before a
// rewrite or delete.
func DeleteReferencesSQL(resourceType, resourceID string) (string, []interface{}) {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE "resourceId" = $1`, schema.Quote(resourceType+"_References"))
	return sql, []interface{}{resourceID}
}

// InsertReferencesSQL writes the reference edges of a resource in one
// statement. Returns empty SQL when there is nothing to insert.
func InsertReferencesSQL(resourceType string, rows []ReferenceRow) (string, []interface{}) {
	if len(rows) == 0 {
		return "", nil
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, `INSERT INTO %s ("resourceId", "targetId", "code") VALUES `, schema.Quote(resourceType+"_References"))
	args := make([]interface{}, 0, len(rows)*3)
	for i, row := range rows {
		if i > 0 {
			sb.WriteString(", ")
		}
		fmt.Fprintf(&sb, "($%d, $%d, $%d)", i*3+1, i*3+2, i*3+3)
		args = append(args, row.ResourceID, row.TargetID, row.Code)
	}
	sb.WriteString(" ON CONFLICT DO NOTHING")
	return sb.String(), args
}

// DeleteLookupRowsSQL clears a resource's rows from one lookup table.
func DeleteLookupRowsSQL(table, resourceID string) (string, []interface{}) {
	sql := fmt.Sprintf(`DELETE FROM %s WHERE "resourceId" = $1`, schema.Quote(table))
	return sql, []interface{}{resourceID}
}

// InsertLookupRowSQL writes one decomposed complex value.
func InsertLookupRowSQL(row *LookupRow) (string, []interface{}) {
	names := make([]string, len(row.Columns))
	placeholders := make([]string, len(row.Columns))
	args := make([]interface{}, len(row.Columns))
	for i, cv := range row.Columns {
		names[i] = schema.Quote(cv.Name)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = cv.Value
	}
	sql := fmt.Sprintf(
		`INSERT INTO %s (%s) VALUES (%s)`,
		schema.Quote(row.Table),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)
	return sql, args
}
