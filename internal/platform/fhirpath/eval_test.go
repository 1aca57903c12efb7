package fhirpath

import "testing"

func testPatient() map[string]interface{} {
	return map[string]interface{}{
		"resourceType": "Patient",
		"id":           "p1",
		"active":       true,
		"gender":       "male",
		"birthDate":    "1980-04-01",
		"name": []interface{}{
			map[string]interface{}{
				"use":    "official",
				"family": "Smith",
				"given":  []interface{}{"John", "Q"},
			},
			map[string]interface{}{
				"use":    "nickname",
				"family": "Smithy",
			},
		},
		"deceasedBoolean": false,
	}
}

func evalStrings(t *testing.T, resource map[string]interface{}, expr string) []string {
	t.Helper()
	out, err := EvaluateStrings(resource, expr)
	if err != nil {
		t.Fatalf("EvaluateStrings(%q): %v", expr, err)
	}
	return out
}

func TestEvaluate_SimplePath(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.gender")
	if len(got) != 1 || got[0] != "male" {
		t.Errorf("expected [male], got %v", got)
	}
}

func TestEvaluate_ResourceTypeMismatchIsEmpty(t *testing.T) {
	out, err := Evaluate(testPatient(), "Observation.status")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty collection, got %v", out)
	}
}

func TestEvaluate_ArrayFlattening(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.name.given")
	if len(got) != 2 || got[0] != "John" || got[1] != "Q" {
		t.Errorf("expected [John Q], got %v", got)
	}
}

func TestEvaluate_Where(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.name.where(use = 'official').family")
	if len(got) != 1 || got[0] != "Smith" {
		t.Errorf("expected [Smith], got %v", got)
	}
}

func TestEvaluate_Select(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.name.select(family)")
	if len(got) != 2 || got[0] != "Smith" || got[1] != "Smithy" {
		t.Errorf("expected [Smith Smithy], got %v", got)
	}
}

func TestEvaluate_ExistsAndCount(t *testing.T) {
	b, err := EvaluateBool(testPatient(), "Patient.name.exists()")
	if err != nil || !b {
		t.Errorf("expected name.exists() true, got %v err=%v", b, err)
	}
	b, err = EvaluateBool(testPatient(), "Patient.photo.exists()")
	if err != nil || b {
		t.Errorf("expected photo.exists() false, got %v err=%v", b, err)
	}
	out, err := Evaluate(testPatient(), "Patient.name.count()")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 1 || out[0].Value != int64(2) {
		t.Errorf("expected count 2, got %v", out)
	}
}

func TestEvaluate_ExistsWithCriteria(t *testing.T) {
	b, err := EvaluateBool(testPatient(), "Patient.name.exists(use = 'nickname')")
	if err != nil || !b {
		t.Errorf("expected true, got %v err=%v", b, err)
	}
	b, err = EvaluateBool(testPatient(), "Patient.name.exists(use = 'maiden')")
	if err != nil || b {
		t.Errorf("expected false, got %v err=%v", b, err)
	}
}

func TestEvaluate_Indexer(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.name[1].family")
	if len(got) != 1 || got[0] != "Smithy" {
		t.Errorf("expected [Smithy], got %v", got)
	}
	out, _ := Evaluate(testPatient(), "Patient.name[5]")
	if len(out) != 0 {
		t.Errorf("out-of-range indexer: expected empty, got %v", out)
	}
}

func TestEvaluate_BooleanLogic(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{"Patient.active and Patient.gender = 'male'", true},
		{"Patient.active and Patient.gender = 'female'", false},
		{"Patient.gender = 'female' or Patient.active", true},
		{"Patient.gender = 'female' implies Patient.active", true},
		{"Patient.active xor Patient.gender = 'male'", false},
		{"Patient.photo.exists().not()", true},
	}
	for _, tc := range tests {
		got, err := EvaluateBool(testPatient(), tc.expr)
		if err != nil {
			t.Errorf("EvaluateBool(%q): %v", tc.expr, err)
			continue
		}
		if got != tc.want {
			t.Errorf("EvaluateBool(%q): expected %v, got %v", tc.expr, tc.want, got)
		}
	}
}

func TestEvaluate_Comparisons(t *testing.T) {
	obs := map[string]interface{}{
		"resourceType": "Observation",
		"valueQuantity": map[string]interface{}{
			"value": 7.2,
			"unit":  "mmol/L",
		},
	}
	b, err := EvaluateBool(obs, "Observation.valueQuantity.value > 5")
	if err != nil || !b {
		t.Errorf("expected value > 5 true, got %v err=%v", b, err)
	}
	b, err = EvaluateBool(obs, "Observation.valueQuantity.value <= 7")
	if err != nil || b {
		t.Errorf("expected value <= 7 false, got %v err=%v", b, err)
	}
}

func TestEvaluate_ChoiceTypeProbing(t *testing.T) {
	// "deceased" must find "deceasedBoolean" by type-suffix probing.
	out, err := Evaluate(testPatient(), "Patient.deceased")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 1 || out[0].Value != false {
		t.Errorf("expected [false], got %v", out)
	}
	if out[0].Type != "Boolean" {
		t.Errorf("expected type tag Boolean from suffix, got %q", out[0].Type)
	}
}

func TestEvaluate_Union(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.gender | Patient.birthDate")
	if len(got) != 2 {
		t.Errorf("expected 2 values, got %v", got)
	}
}

func TestEvaluate_FirstLastDistinct(t *testing.T) {
	got := evalStrings(t, testPatient(), "Patient.name.given.first()")
	if len(got) != 1 || got[0] != "John" {
		t.Errorf("first: expected [John], got %v", got)
	}
	got = evalStrings(t, testPatient(), "Patient.name.family.last()")
	if len(got) != 1 || got[0] != "Smithy" {
		t.Errorf("last: expected [Smithy], got %v", got)
	}
}

func TestEvaluate_StringFunctions(t *testing.T) {
	b, err := EvaluateBool(testPatient(), "Patient.name.family.first().startsWith('Smi')")
	if err != nil || !b {
		t.Errorf("startsWith: expected true, got %v err=%v", b, err)
	}
	got := evalStrings(t, testPatient(), "Patient.gender.upper()")
	if len(got) != 1 || got[0] != "MALE" {
		t.Errorf("upper: expected [MALE], got %v", got)
	}
}

func TestEvaluate_EmptyPropagation(t *testing.T) {
	out, err := Evaluate(testPatient(), "Patient.photo.title = 'x'")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty result for comparison against empty, got %v", out)
	}
}

func TestEvaluate_TypedValueTags(t *testing.T) {
	out, err := Evaluate(testPatient(), "Patient.active")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 1 || out[0].Type != "boolean" || out[0].Value != true {
		t.Errorf("expected boolean true, got %+v", out)
	}
}

func TestEvaluate_NilResource(t *testing.T) {
	out, err := Evaluate(nil, "Patient.id")
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if len(out) != 0 {
		t.Errorf("expected empty for nil resource, got %v", out)
	}
}
