package fhir

import (
	"testing"
	"time"
)

func TestParseResource(t *testing.T) {
	res, err := ParseResource([]byte(`{"resourceType":"Patient","id":"abc"}`))
	if err != nil {
		t.Fatalf("ParseResource: %v", err)
	}
	if res.Type() != "Patient" {
		t.Errorf("Type() = %q, want Patient", res.Type())
	}
	if res.ID() != "abc" {
		t.Errorf("ID() = %q, want abc", res.ID())
	}
}

func TestParseResourceErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `{`},
		{"missing resourceType", `{"id":"x"}`},
		{"non-string resourceType", `{"resourceType":42}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseResource([]byte(tt.body)); err == nil {
				t.Errorf("ParseResource(%q) succeeded, want error", tt.body)
			}
		})
	}
}

func TestStamp(t *testing.T) {
	res := Resource{"resourceType": "Patient"}
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	res.Stamp("v1", ts)

	if res.VersionID() != "v1" {
		t.Errorf("VersionID() = %q, want v1", res.VersionID())
	}
	if !res.LastUpdated().Equal(ts) {
		t.Errorf("LastUpdated() = %v, want %v", res.LastUpdated(), ts)
	}

	// Stamping again replaces both fields.
	ts2 := ts.Add(time.Hour)
	res.Stamp("v2", ts2)
	if res.VersionID() != "v2" || !res.LastUpdated().Equal(ts2) {
		t.Errorf("second Stamp not applied: %v %v", res.VersionID(), res.LastUpdated())
	}
}

func TestClone(t *testing.T) {
	res := Resource{
		"resourceType": "Patient",
		"name":         []interface{}{map[string]interface{}{"family": "Smith"}},
	}
	dup := res.Clone()
	dup["name"].([]interface{})[0].(map[string]interface{})["family"] = "Doe"
	if res["name"].([]interface{})[0].(map[string]interface{})["family"] != "Smith" {
		t.Error("Clone shares nested state with the original")
	}
}

func TestParseReference(t *testing.T) {
	tests := []struct {
		ref    string
		rtype  string
		id     string
		ok     bool
	}{
		{"Patient/123", "Patient", "123", true},
		{"http://example.org/fhir/Patient/123", "Patient", "123", true},
		{"123", "", "123", true},
		{"#contained", "", "", false},
		{"urn:uuid:5c99e2a1-0f1b-4e63-9be5-43b9e8f71d58", "", "", false},
		{"urn:oid:1.2.3", "", "", false},
		{"", "", "", false},
		{"Patient/", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			rtype, id, ok := ParseReference(tt.ref)
			if rtype != tt.rtype || id != tt.id || ok != tt.ok {
				t.Errorf("ParseReference(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.ref, rtype, id, ok, tt.rtype, tt.id, tt.ok)
			}
		})
	}
}
