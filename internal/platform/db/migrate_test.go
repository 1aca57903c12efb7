package db

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestNewMigrator_SortsByVersion(t *testing.T) {
	m, err := NewMigrator(nil, []Migration{
		{Version: 3, Description: "third"},
		{Version: 1, Description: "first"},
		{Version: 2, Description: "second"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, want := range []int{1, 2, 3} {
		if m.migrations[i].Version != want {
			t.Errorf("migration %d: expected version %d, got %d", i, want, m.migrations[i].Version)
		}
	}
}

func TestNewMigrator_RejectsDuplicates(t *testing.T) {
	_, err := NewMigrator(nil, []Migration{
		{Version: 1, Description: "a"},
		{Version: 1, Description: "b"},
	})
	if err == nil || !strings.Contains(err.Error(), "duplicate") {
		t.Fatalf("expected duplicate version error, got %v", err)
	}
}

func TestNewMigrator_RejectsNonPositiveVersions(t *testing.T) {
	for _, v := range []int{0, -1} {
		if _, err := NewMigrator(nil, []Migration{{Version: v}}); err == nil {
			t.Errorf("expected error for version %d", v)
		}
	}
}

func TestRetryableTxError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"serialization failure", &pgconn.PgError{Code: "40001"}, true},
		{"deadlock", &pgconn.PgError{Code: "40P01"}, true},
		{"unique violation", &pgconn.PgError{Code: "23505"}, false},
		{"plain error", errors.New("boom"), false},
		{"wrapped serialization failure", fmt.Errorf("tx: %w", &pgconn.PgError{Code: "40001"}), true},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := retryableTxError(tt.err); got != tt.want {
				t.Errorf("retryableTxError: expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("CREATE TABLE x (\n  id UUID\n)"); got != "CREATE TABLE x (" {
		t.Errorf("expected first line, got %q", got)
	}
	long := strings.Repeat("a", 120)
	if got := firstLine(long); len(got) != 80 {
		t.Errorf("expected 80-char truncation, got %d chars", len(got))
	}
}
