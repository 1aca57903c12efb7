package fhir

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorIs(t *testing.T) {
	err := NotFoundError("Patient", "123")
	if !errors.Is(err, ErrNotFound) {
		t.Error("NotFoundError does not match ErrNotFound")
	}
	if errors.Is(err, ErrGone) {
		t.Error("NotFoundError matches ErrGone")
	}

	wrapped := fmt.Errorf("read patient: %w", GoneError("Patient", "123"))
	if !errors.Is(wrapped, ErrGone) {
		t.Error("wrapped GoneError does not match ErrGone")
	}
}

func TestOutcomeForError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		code   string
		status int
	}{
		{"not found", NotFoundError("Patient", "x"), "not-found", http.StatusNotFound},
		{"gone", GoneError("Patient", "x"), "deleted", http.StatusGone},
		{"conflict", VersionConflictError("Patient", "x", "v9"), "conflict", http.StatusConflict},
		{"invalid", InvalidError("bad %s", "input"), "invalid", http.StatusBadRequest},
		{"internal", InternalError(errors.New("boom")), "exception", http.StatusInternalServerError},
		{"plain error", errors.New("boom"), "exception", http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			oo, status := OutcomeForError(tt.err)
			if status != tt.status {
				t.Errorf("status = %d, want %d", status, tt.status)
			}
			if len(oo.Issue) != 1 || oo.Issue[0].Code != tt.code {
				t.Errorf("issue code = %q, want %q", oo.Issue[0].Code, tt.code)
			}
			if oo.Issue[0].Severity != "error" {
				t.Errorf("severity = %q, want error", oo.Issue[0].Severity)
			}
		})
	}
}

func TestBasicValidator(t *testing.T) {
	v := BasicValidator{}

	tests := []struct {
		name  string
		res   Resource
		valid bool
	}{
		{"ok", Resource{"resourceType": "Patient"}, true},
		{"ok with id", Resource{"resourceType": "Patient", "id": "abc"}, true},
		{"nil", nil, false},
		{"missing type", Resource{"id": "abc"}, false},
		{"lowercase type", Resource{"resourceType": "patient"}, false},
		{"type with slash", Resource{"resourceType": "Pat/ient"}, false},
		{"empty id", Resource{"resourceType": "Patient", "id": ""}, false},
		{"numeric id", Resource{"resourceType": "Patient", "id": 7.0}, false},
		{"meta not object", Resource{"resourceType": "Patient", "meta": "x"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.Validate(tt.res)
			if result.Valid != tt.valid {
				t.Errorf("Valid = %v, want %v (issues: %v)", result.Valid, tt.valid, result.Issues)
			}
		})
	}
}
