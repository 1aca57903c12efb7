package fhirpath

import "testing"

func TestParse_DotChain(t *testing.T) {
	node, err := parse("Patient.name.family")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	// ((Patient.name).family)
	if node.Kind != NodeDot || node.Right.Name != "family" {
		t.Fatalf("expected outer dot ending in family, got %+v", node)
	}
	inner := node.Left
	if inner.Kind != NodeDot || inner.Left.Name != "Patient" || inner.Right.Name != "name" {
		t.Errorf("expected inner Patient.name, got %+v", inner)
	}
}

func TestParse_Precedence(t *testing.T) {
	// a = b and c = d must parse as (a = b) and (c = d)
	node, err := parse("a = b and c = d")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Kind != NodeBinary || node.Operator != "and" {
		t.Fatalf("expected top-level and, got %+v", node)
	}
	if node.Left.Operator != "=" || node.Right.Operator != "=" {
		t.Errorf("expected = on both sides of and, got %q and %q", node.Left.Operator, node.Right.Operator)
	}
}

func TestParse_LeftAssociative(t *testing.T) {
	// a - b - c must parse as (a - b) - c
	node, err := parse("1 - 2 - 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Operator != "-" || node.Left.Operator != "-" {
		t.Errorf("expected left-associative subtraction, got %+v", node)
	}
}

func TestParse_FunctionWithCriteria(t *testing.T) {
	node, err := parse("Patient.name.where(use = 'official')")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Kind != NodeFunction || node.Name != "where" {
		t.Fatalf("expected where function, got %+v", node)
	}
	if len(node.Args) != 1 || node.Args[0].Operator != "=" {
		t.Errorf("expected one equality argument, got %+v", node.Args)
	}
	if node.Left == nil {
		t.Error("expected where to have a receiver")
	}
}

func TestParse_Indexer(t *testing.T) {
	node, err := parse("name[0]")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Kind != NodeIndexer {
		t.Fatalf("expected indexer, got %+v", node)
	}
	if node.Right.Literal == nil || node.Right.Literal.Value != int64(0) {
		t.Errorf("expected literal index 0, got %+v", node.Right)
	}
}

func TestParse_Union(t *testing.T) {
	node, err := parse("Patient.name | Patient.contact.name")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Kind != NodeBinary || node.Operator != "|" {
		t.Errorf("expected union, got %+v", node)
	}
}

func TestParse_Literals(t *testing.T) {
	tests := []struct {
		expr     string
		wantType string
	}{
		{"true", "boolean"},
		{"false", "boolean"},
		{"42", "integer"},
		{"3.14", "decimal"},
		{"'hello'", "string"},
		{"@2024-01-15", "dateTime"},
	}
	for _, tc := range tests {
		node, err := parse(tc.expr)
		if err != nil {
			t.Errorf("parse(%q): %v", tc.expr, err)
			continue
		}
		if node.Kind != NodeLiteral || node.Literal == nil || node.Literal.Type != tc.wantType {
			t.Errorf("parse(%q): expected %s literal, got %+v", tc.expr, tc.wantType, node)
		}
	}
}

func TestParse_Grouping(t *testing.T) {
	node, err := parse("(1 + 2) * 3")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Operator != "*" || node.Left.Operator != "+" {
		t.Errorf("expected grouping to override precedence, got %+v", node)
	}
}

func TestParse_CommentsFiltered(t *testing.T) {
	node, err := parse("Patient.id /* the logical id */")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if node.Kind != NodeDot {
		t.Errorf("expected dot expression, got %+v", node)
	}
}

func TestParse_Errors(t *testing.T) {
	for _, expr := range []string{"", "a.", "where(", "a ++", "1 2", "(a"} {
		if _, err := parse(expr); err == nil {
			t.Errorf("parse(%q): expected error", expr)
		}
	}
}
