package search

import (
	"errors"
	"net/url"
	"testing"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
)

func parse(t *testing.T, rawQuery string) *SearchRequest {
	t.Helper()
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		t.Fatalf("bad query %q: %v", rawQuery, err)
	}
	req, err := ParseRequest("Patient", values, Limits{})
	if err != nil {
		t.Fatalf("ParseRequest(%q): %v", rawQuery, err)
	}
	return req
}

func TestParseRequest_Defaults(t *testing.T) {
	req := parse(t, "")
	if req.Count != DefaultCount {
		t.Errorf("expected default count %d, got %d", DefaultCount, req.Count)
	}
	if req.Offset != 0 || req.Total != "none" {
		t.Errorf("unexpected defaults: offset=%d total=%s", req.Offset, req.Total)
	}
}

func TestParseRequest_CountClamping(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"_count=50", 50},
		{"_count=0", 1},
		{"_count=5000", MaxCount},
	}
	for _, tt := range tests {
		req := parse(t, tt.in)
		if req.Count != tt.want {
			t.Errorf("%s: expected count %d, got %d", tt.in, tt.want, req.Count)
		}
	}

	values, _ := url.ParseQuery("_count=abc")
	if _, err := ParseRequest("Patient", values, Limits{}); !errors.Is(err, fhir.ErrInvalid) {
		t.Error("expected invalid error for non-numeric _count")
	}
}

func TestParseRequest_OrAndConjunctions(t *testing.T) {
	req := parse(t, "gender=male,female&birthdate=ge1980-01-01&birthdate=le1990-01-01")

	var gender, birthdates []ParsedParam
	for _, p := range req.Params {
		switch p.Code {
		case "gender":
			gender = append(gender, p)
		case "birthdate":
			birthdates = append(birthdates, p)
		}
	}
	if len(gender) != 1 || len(gender[0].Values) != 2 {
		t.Fatalf("expected one gender param with 2 OR values, got %+v", gender)
	}
	if gender[0].Values[1].Value != "female" {
		t.Errorf("unexpected OR value %+v", gender[0].Values[1])
	}
	// Repeated keys are AND conjunctions: two separate params.
	if len(birthdates) != 2 {
		t.Fatalf("expected two birthdate params, got %d", len(birthdates))
	}
	if birthdates[0].Values[0].Prefix != "ge" || birthdates[0].Values[0].Value != "1980-01-01" {
		t.Errorf("unexpected prefix split %+v", birthdates[0].Values[0])
	}
}

func TestParseRequest_PrefixOnlyForNumericShapes(t *testing.T) {
	req := parse(t, "name=lens")
	if req.Params[0].Values[0].Prefix != "" || req.Params[0].Values[0].Value != "lens" {
		t.Errorf("token value must not lose its leading letters: %+v", req.Params[0].Values[0])
	}
}

func TestParseRequest_Modifiers(t *testing.T) {
	req := parse(t, "name:exact=Smith&subject:Patient=123")
	byCode := map[string]ParsedParam{}
	for _, p := range req.Params {
		byCode[p.Code] = p
	}
	if byCode["name"].Modifier != "exact" {
		t.Errorf("expected exact modifier, got %q", byCode["name"].Modifier)
	}
	if byCode["subject"].Modifier != "Patient" {
		t.Errorf("expected chained-type modifier, got %q", byCode["subject"].Modifier)
	}

	values, _ := url.ParseQuery("name:bogus=x")
	if _, err := ParseRequest("Patient", values, Limits{}); !errors.Is(err, fhir.ErrInvalid) {
		t.Error("expected invalid error for unknown modifier")
	}
}

func TestParseRequest_Sort(t *testing.T) {
	req := parse(t, "_sort=-_lastUpdated,name")
	if len(req.Sort) != 2 {
		t.Fatalf("expected 2 sort fields, got %d", len(req.Sort))
	}
	if !req.Sort[0].Descending || req.Sort[0].Code != "_lastUpdated" {
		t.Errorf("unexpected first sort %+v", req.Sort[0])
	}
	if req.Sort[1].Descending || req.Sort[1].Code != "name" {
		t.Errorf("unexpected second sort %+v", req.Sort[1])
	}
}

func TestParseRequest_Includes(t *testing.T) {
	req := parse(t, "_include=Observation:subject&_revinclude:iterate=Observation:patient:Patient&_include=*")

	if len(req.Includes) != 2 {
		t.Fatalf("expected 2 includes, got %+v", req.Includes)
	}
	first := req.Includes[0]
	if first.Source != "Observation" || first.Param != "subject" || first.Iterate {
		t.Errorf("unexpected include %+v", first)
	}
	if !req.Includes[1].Wildcard {
		t.Errorf("expected wildcard include, got %+v", req.Includes[1])
	}

	if len(req.RevIncludes) != 1 {
		t.Fatalf("expected 1 revinclude, got %+v", req.RevIncludes)
	}
	rev := req.RevIncludes[0]
	if !rev.Iterate || rev.Target != "Patient" || rev.Param != "patient" {
		t.Errorf("unexpected revinclude %+v", rev)
	}
}

func TestParseRequest_Total(t *testing.T) {
	if parse(t, "_total=accurate").Total != "accurate" {
		t.Error("expected accurate total mode")
	}
	values, _ := url.ParseQuery("_total=sometimes")
	if _, err := ParseRequest("Patient", values, Limits{}); !errors.Is(err, fhir.ErrInvalid) {
		t.Error("expected invalid error for unknown total mode")
	}
}

func TestSplitPrefix(t *testing.T) {
	tests := []struct {
		in     string
		prefix string
		value  string
	}{
		{"ge1980-01-01", "ge", "1980-01-01"},
		{"ne42", "ne", "42"},
		{"ap-3.5", "ap", "-3.5"},
		{"lens", "", "lens"},
		{"male", "", "male"},
		{"eq", "", "eq"},
	}
	for _, tt := range tests {
		got := splitPrefix(tt.in)
		if got.Prefix != tt.prefix || got.Value != tt.value {
			t.Errorf("splitPrefix(%q): expected (%q, %q), got (%q, %q)",
				tt.in, tt.prefix, tt.value, got.Prefix, got.Value)
		}
	}
}
