package repo

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/registry"
)

// fakeTx records executed statements and serves a single canned row, enough
// to drive the row-level write paths without a database.
type fakeTx struct {
	row   fakeRow
	execs []string
}

type fakeRow struct {
	exists  bool
	content string
	deleted bool
}

func (r *fakeRow) Scan(dest ...any) error {
	if !r.exists {
		return pgx.ErrNoRows
	}
	*(dest[0].(*string)) = r.content
	*(dest[1].(*bool)) = r.deleted
	return nil
}

func (t *fakeTx) Exec(_ context.Context, sql string, _ ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, sql)
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row { return &t.row }

func (t *fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("fakeTx: Query not supported")
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return t, nil }
func (t *fakeTx) Commit(_ context.Context) error          { return nil }
func (t *fakeTx) Rollback(_ context.Context) error        { return nil }
func (t *fakeTx) Conn() *pgx.Conn                         { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects          { return pgx.LargeObjects{} }

func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("fakeTx: CopyFrom not supported")
}

func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }

func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("fakeTx: Prepare not supported")
}

func (t *fakeTx) historyInserts(resourceType string) int {
	n := 0
	for _, sql := range t.execs {
		if strings.HasPrefix(sql, `INSERT INTO "`+resourceType+`_History"`) {
			n++
		}
	}
	return n
}

func testRepository(t *testing.T) *Repository {
	t.Helper()
	r := registry.New()
	r.RegisterProfile(&registry.CanonicalProfile{Type: "Patient", Kind: "resource"})
	r.RegisterSearchParameter(&registry.SearchParameter{
		Code: "gender", Type: "token", Expression: "Patient.gender", Base: []string{"Patient"},
	})
	r.Freeze()
	return NewRepository(nil, r, nil)
}

func TestDeleteInTx_RepeatedDeleteRecordsEachTombstone(t *testing.T) {
	repo := testRepository(t)
	ctx := context.Background()

	tx := &fakeTx{row: fakeRow{
		exists:  true,
		content: `{"resourceType":"Patient","id":"` + patientID + `"}`,
	}}

	if err := repo.deleteInTx(ctx, tx, "Patient", patientID); err != nil {
		t.Fatalf("first delete: %v", err)
	}
	if got := tx.historyInserts("Patient"); got != 1 {
		t.Fatalf("expected 1 history insert after first delete, got %d", got)
	}

	// The row is now a tombstone; a second delete changes nothing on the
	// main row but must still record a new version.
	tx.row.deleted = true
	mainWrites := len(tx.execs)

	if err := repo.deleteInTx(ctx, tx, "Patient", patientID); err != nil {
		t.Fatalf("second delete: %v", err)
	}
	if got := tx.historyInserts("Patient"); got != 2 {
		t.Errorf("expected 2 history inserts after double delete, got %d", got)
	}
	if got := len(tx.execs) - mainWrites; got != 1 {
		t.Errorf("second delete must only write history, got %d statements", got)
	}
}

func TestDeleteInTx_MissingRow(t *testing.T) {
	repo := testRepository(t)
	tx := &fakeTx{}

	err := repo.deleteInTx(context.Background(), tx, "Patient", patientID)
	if !errors.Is(err, fhir.ErrNotFound) {
		t.Fatalf("expected not-found error, got %v", err)
	}
	if len(tx.execs) != 0 {
		t.Errorf("missing row must not write, got %v", tx.execs)
	}
}
