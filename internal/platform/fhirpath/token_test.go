package fhirpath

import "testing"

func TestTokenize_Classes(t *testing.T) {
	tokens, err := Tokenize("Patient.name[0] = 'Smith' // trailing")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}

	want := []struct {
		id    TokenID
		value string
	}{
		{TokenIdentifier, "Patient"},
		{TokenSymbol, "."},
		{TokenIdentifier, "name"},
		{TokenSymbol, "["},
		{TokenNumber, "0"},
		{TokenSymbol, "]"},
		{TokenSymbol, "="},
		{TokenString, "Smith"},
		{TokenComment, "// trailing"},
	}
	if len(tokens) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %v", len(want), len(tokens), tokens)
	}
	for i, w := range want {
		if tokens[i].ID != w.id || tokens[i].Value != w.value {
			t.Errorf("token %d: expected (%v, %q), got (%v, %q)",
				i, w.id, w.value, tokens[i].ID, tokens[i].Value)
		}
	}
}

func TestTokenize_Positions(t *testing.T) {
	tokens, err := Tokenize("a\n  b")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[0].Line != 1 || tokens[0].Column != 1 {
		t.Errorf("token a: expected 1:1, got %d:%d", tokens[0].Line, tokens[0].Column)
	}
	if tokens[1].Line != 2 || tokens[1].Column != 3 {
		t.Errorf("token b: expected 2:3, got %d:%d", tokens[1].Line, tokens[1].Column)
	}
}

func TestTokenize_TwoCharSymbols(t *testing.T) {
	tokens, err := Tokenize("a >= 1 and b != 2")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	var symbols []string
	for _, tok := range tokens {
		if tok.ID == TokenSymbol {
			symbols = append(symbols, tok.Value)
		}
	}
	if len(symbols) != 2 || symbols[0] != ">=" || symbols[1] != "!=" {
		t.Errorf("expected [>= !=], got %v", symbols)
	}
}

func TestTokenize_StringEscapes(t *testing.T) {
	tokens, err := Tokenize(`'a\'b\nc'`)
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[0].Value != "a'b\nc" {
		t.Errorf("expected escaped string, got %q", tokens[0].Value)
	}
}

func TestTokenize_Errors(t *testing.T) {
	for _, expr := range []string{"'unterminated", "/* open", "a @#"} {
		if _, err := Tokenize(expr); err == nil {
			t.Errorf("Tokenize(%q): expected error", expr)
		}
	}
}

func TestNormalizeDateTime(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"T12", "T12:00:00"},
		{"T12:30", "T12:30:00"},
		{"T12:30:45", "T12:30:45"},
		{"2024-01-15", "2024-01-15"},
		{"2024-01", "2024-01"},
		{"2024-01-15T10:30:00Z", "2024-01-15T10:30:00.000Z"},
		{"2024-01-15T10:30:00+02:00", "2024-01-15T08:30:00.000Z"},
		{"not-a-date-but-long", "not-a-date-but-long"},
	}
	for _, tc := range tests {
		if got := normalizeDateTime(tc.in); got != tc.want {
			t.Errorf("normalizeDateTime(%q): expected %q, got %q", tc.in, tc.want, got)
		}
	}
}

func TestTokenize_DateTimeLiteral(t *testing.T) {
	tokens, err := Tokenize("@2024-01-15")
	if err != nil {
		t.Fatalf("Tokenize: %v", err)
	}
	if tokens[0].ID != TokenDateTime || tokens[0].Value != "2024-01-15" {
		t.Errorf("expected DateTime 2024-01-15, got (%v, %q)", tokens[0].ID, tokens[0].Value)
	}
}
