package fhirpath

import (
	"fmt"
	"strings"
	"time"
	"unicode"
)

// TokenID classifies a lexed token.
type TokenID int

const (
	TokenNumber TokenID = iota
	TokenString
	TokenDateTime
	TokenIdentifier
	TokenSymbol
	TokenComment
	TokenEOF
)

func (id TokenID) String() string {
	switch id {
	case TokenNumber:
		return "Number"
	case TokenString:
		return "String"
	case TokenDateTime:
		return "DateTime"
	case TokenIdentifier:
		return "Identifier"
	case TokenSymbol:
		return "Symbol"
	case TokenComment:
		return "Comment"
	case TokenEOF:
		return "EOF"
	}
	return "Unknown"
}

// Token is a single lexed token with its source position.
type Token struct {
	ID     TokenID
	Value  string
	Line   int
	Column int
}

// symbols that can form two-character operators; longest match wins.
var twoCharSymbols = map[string]bool{
	"!=": true, "!~": true, "<=": true, ">=": true,
}

// Tokenize lexes a FHIRPath expression into a token stream. Comment tokens
// are included; the parser filters them.
func Tokenize(input string) ([]Token, error) {
	var tokens []Token
	line, col := 1, 1
	i := 0
	n := len(input)

	emit := func(id TokenID, value string, startLine, startCol int) {
		tokens = append(tokens, Token{ID: id, Value: value, Line: startLine, Column: startCol})
	}

	advance := func(k int) {
		for j := 0; j < k && i < n; j++ {
			if input[i] == '\n' {
				line++
				col = 1
			} else {
				col++
			}
			i++
		}
	}

	for i < n {
		ch := input[i]
		startLine, startCol := line, col

		switch {
		case ch == ' ' || ch == '\t' || ch == '\n' || ch == '\r':
			advance(1)

		case ch == '/' && i+1 < n && input[i+1] == '/':
			j := i
			for j < n && input[j] != '\n' {
				j++
			}
			emit(TokenComment, input[i:j], startLine, startCol)
			advance(j - i)

		case ch == '/' && i+1 < n && input[i+1] == '*':
			j := strings.Index(input[i+2:], "*/")
			if j < 0 {
				return nil, fmt.Errorf("unterminated comment at line %d, column %d", startLine, startCol)
			}
			end := i + 2 + j + 2
			emit(TokenComment, input[i:end], startLine, startCol)
			advance(end - i)

		case ch == '\'':
			value, consumed, err := lexString(input[i:])
			if err != nil {
				return nil, fmt.Errorf("%s at line %d, column %d", err, startLine, startCol)
			}
			emit(TokenString, value, startLine, startCol)
			advance(consumed)

		case ch == '`':
			// back-quoted identifier
			j := strings.IndexByte(input[i+1:], '`')
			if j < 0 {
				return nil, fmt.Errorf("unterminated identifier at line %d, column %d", startLine, startCol)
			}
			emit(TokenIdentifier, input[i+1:i+1+j], startLine, startCol)
			advance(j + 2)

		case ch == '@':
			j := i + 1
			for j < n && isDateTimeChar(input[j]) {
				j++
			}
			emit(TokenDateTime, normalizeDateTime(input[i+1:j]), startLine, startCol)
			advance(j - i)

		case ch >= '0' && ch <= '9':
			j := i
			for j < n && input[j] >= '0' && input[j] <= '9' {
				j++
			}
			if j < n && input[j] == '.' && j+1 < n && input[j+1] >= '0' && input[j+1] <= '9' {
				j++
				for j < n && input[j] >= '0' && input[j] <= '9' {
					j++
				}
			}
			emit(TokenNumber, input[i:j], startLine, startCol)
			advance(j - i)

		case ch == '_' || ch == '$' || unicode.IsLetter(rune(ch)):
			j := i
			if ch == '$' {
				j++
			}
			for j < n && (input[j] == '_' || unicode.IsLetter(rune(input[j])) || unicode.IsDigit(rune(input[j]))) {
				j++
			}
			emit(TokenIdentifier, input[i:j], startLine, startCol)
			advance(j - i)

		case strings.ContainsRune("()[]{}.,=!<>|&+-*/~%", rune(ch)):
			if i+1 < n && twoCharSymbols[input[i:i+2]] {
				emit(TokenSymbol, input[i:i+2], startLine, startCol)
				advance(2)
			} else {
				emit(TokenSymbol, string(ch), startLine, startCol)
				advance(1)
			}

		default:
			return nil, fmt.Errorf("unexpected character %q at line %d, column %d", string(ch), startLine, startCol)
		}
	}

	return tokens, nil
}

func lexString(s string) (value string, consumed int, err error) {
	var sb strings.Builder
	i := 1 // skip opening quote
	for i < len(s) {
		switch s[i] {
		case '\'':
			return sb.String(), i + 1, nil
		case '\\':
			if i+1 >= len(s) {
				return "", 0, fmt.Errorf("unterminated string")
			}
			i++
			switch s[i] {
			case 'n':
				sb.WriteByte('\n')
			case 't':
				sb.WriteByte('\t')
			case 'r':
				sb.WriteByte('\r')
			default:
				sb.WriteByte(s[i])
			}
			i++
		default:
			sb.WriteByte(s[i])
			i++
		}
	}
	return "", 0, fmt.Errorf("unterminated string")
}

func isDateTimeChar(ch byte) bool {
	return (ch >= '0' && ch <= '9') || ch == '-' || ch == ':' || ch == 'T' ||
		ch == 'Z' || ch == '+' || ch == '.'
}

// normalizeDateTime canonicalizes a date/time literal:
//   - a bare time (Txx:yy:zz) is padded to full length
//   - a length-10 date passes through unchanged
//   - longer forms are coerced to UTC ISO-8601 when parseable, otherwise
//     returned verbatim
func normalizeDateTime(value string) string {
	if strings.HasPrefix(value, "T") {
		return padTime(value)
	}
	if len(value) <= 10 {
		return value
	}
	formats := []string{
		"2006-01-02T15:04:05.999999999Z07:00",
		"2006-01-02T15:04:05Z07:00",
		"2006-01-02T15:04:05",
		"2006-01-02T15:04",
		"2006-01-02T15",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, value); err == nil {
			return t.UTC().Format("2006-01-02T15:04:05.000Z")
		}
	}
	return value
}

func padTime(value string) string {
	// T12 -> T12:00:00, T12:30 -> T12:30:00
	parts := strings.Count(value, ":")
	for parts < 2 {
		value += ":00"
		parts++
	}
	return value
}
