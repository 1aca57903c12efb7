package repo

import (
	"strings"
	"testing"
	"time"
)

func TestUpsertMainRowSQL(t *testing.T) {
	row, err := BuildMainRow(stampedPatient(), testImpls(t, "Patient"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	sql, args := UpsertMainRowSQL("Patient", row)

	if !strings.HasPrefix(sql, `INSERT INTO "Patient" ("id", "content", "lastUpdated", "deleted", "projectId", "__version", "_source", "_profile", "compartments"`) {
		t.Errorf("unexpected column order:\n%s", sql)
	}
	if !strings.Contains(sql, `ON CONFLICT ("id") DO UPDATE SET`) {
		t.Errorf("expected upsert clause:\n%s", sql)
	}
	if strings.Contains(sql, `"id" = EXCLUDED."id"`) {
		t.Error("id must not be rewritten on conflict")
	}
	if !strings.Contains(sql, `"content" = EXCLUDED."content"`) {
		t.Errorf("expected content rewrite:\n%s", sql)
	}

	names, _ := row.Columns()
	if len(args) != len(names) {
		t.Errorf("expected %d args, got %d", len(names), len(args))
	}
	if args[0] != patientID {
		t.Errorf("expected first arg id, got %v", args[0])
	}
}

func TestInsertHistoryRowSQL(t *testing.T) {
	now := time.Now().UTC()
	hr := &HistoryRow{ID: patientID, VersionID: "v2", LastUpdated: now, Content: "{}"}
	sql, args := InsertHistoryRowSQL("Patient", hr)

	if !strings.HasPrefix(sql, `INSERT INTO "Patient_History"`) {
		t.Errorf("unexpected table:\n%s", sql)
	}
	if !strings.Contains(sql, "ON CONFLICT DO NOTHING") {
		t.Error("history insert must be idempotent")
	}
	if len(args) != 4 || args[0] != patientID || args[1] != "v2" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestSelectRowSQL_ProjectScoping(t *testing.T) {
	sql, args := SelectRowSQL("Patient", patientID, "")
	if strings.Contains(sql, "projectId") {
		t.Errorf("unscoped read must not filter on project:\n%s", sql)
	}
	if len(args) != 1 {
		t.Errorf("expected 1 arg, got %v", args)
	}

	sql, args = SelectRowSQL("Patient", patientID, "proj-1")
	if !strings.Contains(sql, `AND "projectId" = $2`) {
		t.Errorf("scoped read must filter on project:\n%s", sql)
	}
	if len(args) != 2 || args[1] != "proj-1" {
		t.Errorf("unexpected args %v", args)
	}
}

func TestInstanceHistorySQL(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	sql, args := InstanceHistorySQL("Patient", patientID, &since, nil, 50)

	if !strings.Contains(sql, `FROM "Patient_History" WHERE "id" = $1 AND "lastUpdated" >= $2 ORDER BY "lastUpdated" DESC LIMIT $3`) {
		t.Errorf("unexpected sql:\n%s", sql)
	}
	if len(args) != 3 || args[2] != 50 {
		t.Errorf("unexpected args %v", args)
	}
}

func TestTypeHistorySQL_CursorBounds(t *testing.T) {
	since := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	before := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	sql, args := TypeHistorySQL("Patient", &since, &before, 10)

	if !strings.Contains(sql, `"lastUpdated" >= $1`) || !strings.Contains(sql, `"lastUpdated" < $2`) {
		t.Errorf("expected inclusive since and exclusive before bounds:\n%s", sql)
	}
	if len(args) != 3 {
		t.Errorf("expected 3 args, got %v", args)
	}
}

func TestInsertReferencesSQL(t *testing.T) {
	rows := []ReferenceRow{
		{ResourceID: observerID, TargetID: patientID, Code: "subject"},
		{ResourceID: observerID, TargetID: patientID, Code: "patient"},
	}
	sql, args := InsertReferencesSQL("Observation", rows)

	if !strings.Contains(sql, "($1, $2, $3), ($4, $5, $6)") {
		t.Errorf("expected two placeholder tuples:\n%s", sql)
	}
	if len(args) != 6 || args[5] != "patient" {
		t.Errorf("unexpected args %v", args)
	}

	sql, args = InsertReferencesSQL("Observation", nil)
	if sql != "" || args != nil {
		t.Error("empty row set must yield no statement")
	}
}

func TestInsertLookupRowSQL(t *testing.T) {
	row := &LookupRow{
		Table: "Identifier",
		Columns: []ColumnValue{
			{Name: "resourceId", Value: patientID},
			{Name: "resourceType", Value: "Patient"},
			{Name: "system", Value: "sys"},
			{Name: "value", Value: "123"},
		},
	}
	sql, args := InsertLookupRowSQL(row)
	if sql != `INSERT INTO "Identifier" ("resourceId", "resourceType", "system", "value") VALUES ($1, $2, $3, $4)` {
		t.Errorf("unexpected sql:\n%s", sql)
	}
	if len(args) != 4 || args[3] != "123" {
		t.Errorf("unexpected args %v", args)
	}
}
