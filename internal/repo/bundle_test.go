package repo

import (
	"errors"
	"testing"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
)

func TestParseRequestURL(t *testing.T) {
	tests := []struct {
		url       string
		wantType  string
		wantID    string
		wantVID   string
		wantError bool
	}{
		{"Patient", "Patient", "", "", false},
		{"/Patient", "Patient", "", "", false},
		{"Patient/123", "Patient", "123", "", false},
		{"Patient/123/_history/v2", "Patient", "123", "v2", false},
		{"Patient/123/history/v2", "", "", "", true},
		{"Patient?name=smith", "", "", "", true},
		{"", "", "", "", true},
		{"a/b/c", "", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			rt, id, vid, err := parseRequestURL(tt.url)
			if tt.wantError {
				if err == nil {
					t.Fatal("expected error")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if rt != tt.wantType || id != tt.wantID || vid != tt.wantVID {
				t.Errorf("got (%q, %q, %q)", rt, id, vid)
			}
		})
	}
}

func TestParseBundleOp_Validation(t *testing.T) {
	patient := fhir.Resource{"resourceType": "Patient"}

	tests := []struct {
		name  string
		entry fhir.BundleEntry
	}{
		{"missing request", fhir.BundleEntry{Resource: patient}},
		{"bad method", fhir.BundleEntry{Request: &fhir.BundleRequest{Method: "PATCH", URL: "Patient/1"}}},
		{"post without resource", fhir.BundleEntry{Request: &fhir.BundleRequest{Method: "POST", URL: "Patient"}}},
		{"post with id in url", fhir.BundleEntry{Resource: patient, Request: &fhir.BundleRequest{Method: "POST", URL: "Patient/1"}}},
		{"put without id", fhir.BundleEntry{Resource: patient, Request: &fhir.BundleRequest{Method: "PUT", URL: "Patient"}}},
		{"delete without id", fhir.BundleEntry{Request: &fhir.BundleRequest{Method: "DELETE", URL: "Patient"}}},
		{"type mismatch", fhir.BundleEntry{
			Resource: fhir.Resource{"resourceType": "Observation"},
			Request:  &fhir.BundleRequest{Method: "POST", URL: "Patient"},
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseBundleOp(0, tt.entry)
			if !errors.Is(err, fhir.ErrInvalid) {
				t.Errorf("expected invalid error, got %v", err)
			}
		})
	}
}

func TestParseBundleOp_Valid(t *testing.T) {
	op, err := parseBundleOp(2, fhir.BundleEntry{
		Resource: fhir.Resource{"resourceType": "Patient", "id": "p1"},
		Request:  &fhir.BundleRequest{Method: "put", URL: "Patient/p1", IfMatch: `W/"v3"`},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.method != "PUT" || op.urlType != "Patient" || op.urlID != "p1" || op.index != 2 {
		t.Errorf("unexpected op %+v", op)
	}
	if op.ifMatch != `W/"v3"` {
		t.Errorf("expected If-Match carried through, got %q", op.ifMatch)
	}
}

func TestRewriteReferences(t *testing.T) {
	urn := "urn:uuid:61ebe359-bfdc-4613-8bf2-c5e300945f0a"
	resource := fhir.Resource{
		"resourceType": "Observation",
		"subject":      map[string]interface{}{"reference": urn},
		"performer": []interface{}{
			map[string]interface{}{"reference": "Practitioner/existing"},
			map[string]interface{}{"reference": urn},
		},
		// A string that happens to match but is not a reference property.
		"note": []interface{}{
			map[string]interface{}{"text": urn},
		},
	}
	rewriteReferences(resource, map[string]string{urn: "Patient/new-id"})

	subject := resource["subject"].(map[string]interface{})
	if subject["reference"] != "Patient/new-id" {
		t.Errorf("expected subject rewritten, got %v", subject["reference"])
	}
	performers := resource["performer"].([]interface{})
	if performers[0].(map[string]interface{})["reference"] != "Practitioner/existing" {
		t.Error("unrelated reference must not change")
	}
	if performers[1].(map[string]interface{})["reference"] != "Patient/new-id" {
		t.Error("expected placeholder in array rewritten")
	}
	note := resource["note"].([]interface{})[0].(map[string]interface{})
	if note["text"] != urn {
		t.Error("non-reference properties must not be rewritten")
	}
}

func TestParseETag(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`W/"abc"`, "abc"},
		{`"abc"`, "abc"},
		{"abc", "abc"},
		{` W/"abc" `, "abc"},
	}
	for _, tt := range tests {
		if got := parseETag(tt.in); got != tt.want {
			t.Errorf("parseETag(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestStatusLine(t *testing.T) {
	if got := statusLine(201); got != "201 Created" {
		t.Errorf("expected '201 Created', got %q", got)
	}
	if got := statusLine(410); got != "410 Gone" {
		t.Errorf("expected '410 Gone', got %q", got)
	}
}

func TestParseBundleOps_PreservesEntryOrder(t *testing.T) {
	bundle := &fhir.Bundle{
		ResourceType: "Bundle",
		Type:         "transaction",
		Entry: []fhir.BundleEntry{
			{Request: &fhir.BundleRequest{Method: "GET", URL: "Patient/p1"}},
			{
				Resource: fhir.Resource{"resourceType": "Patient", "id": "p1"},
				Request:  &fhir.BundleRequest{Method: "PUT", URL: "Patient/p1"},
			},
			{Request: &fhir.BundleRequest{Method: "DELETE", URL: "Patient/p2"}},
			{
				Resource: fhir.Resource{"resourceType": "Patient"},
				Request:  &fhir.BundleRequest{Method: "POST", URL: "Patient"},
			},
		},
	}
	ops, err := parseBundleOps(bundle)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"GET", "PUT", "DELETE", "POST"}
	if len(ops) != len(want) {
		t.Fatalf("expected %d ops, got %d", len(want), len(ops))
	}
	for i, op := range ops {
		if op.method != want[i] {
			t.Errorf("op %d: expected method %s, got %s", i, want[i], op.method)
		}
		if op.index != i {
			t.Errorf("op %d: expected index %d, got %d", i, i, op.index)
		}
	}
}
