package search

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/registry"
	"github.com/fhirworks/fhirstore/internal/schema"
)

// ============================================================================
// WHERE compilation
//
// Each compiler returns (clause, args, nextIdx). Literal values only ever
// travel as $n parameters; identifiers come from the registry and are
// double-quoted.
// ============================================================================

// prefixOps maps value prefixes onto SQL comparison operators. sa and eb
// (starts-after, ends-before) collapse onto strict comparisons for point
// values; ap approximates to equality.
var prefixOps = map[string]string{
	"":   "=",
	"eq": "=",
	"ne": "<>",
	"gt": ">",
	"lt": "<",
	"ge": ">=",
	"le": "<=",
	"sa": ">",
	"eb": "<",
	"ap": "=",
}

// CompileParam turns one parsed parameter into a WHERE clause against the
// main table alias. idx is the next positional parameter number.
func CompileParam(impl *registry.Impl, param ParsedParam, idx int) (string, []interface{}, int, error) {
	if param.Modifier == "missing" {
		return compileMissing(impl, param, idx)
	}

	var compile func(*registry.Impl, ParsedParam, ParamValue, int) (string, []interface{}, int, error)
	switch impl.Strategy {
	case registry.StrategyLookupTable:
		compile = compileLookupValue
	case registry.StrategyTokenColumn:
		compile = compileTokenValue
	default:
		switch impl.Type {
		case "reference":
			compile = compileReferenceValue
		case "date":
			compile = compileDateValue
		case "number", "quantity":
			compile = compileNumberValue
		default:
			compile = compileStringValue
		}
	}

	var clauses []string
	var args []interface{}
	for _, value := range param.Values {
		clause, vArgs, next, err := compile(impl, param, value, idx)
		if err != nil {
			return "", nil, idx, err
		}
		clauses = append(clauses, clause)
		args = append(args, vArgs...)
		idx = next
	}

	combined := strings.Join(clauses, " OR ")
	if len(clauses) > 1 {
		combined = "(" + combined + ")"
	}
	if param.Modifier == "not" {
		combined = "NOT (" + combined + ")"
	}
	return combined, args, idx, nil
}

func compileMissing(impl *registry.Impl, param ParsedParam, idx int) (string, []interface{}, int, error) {
	missing := len(param.Values) > 0 && param.Values[0].Value == "true"

	if impl.Strategy == registry.StrategyLookupTable {
		sub := fmt.Sprintf(
			`EXISTS (SELECT 1 FROM %s l WHERE l."resourceId" = %s."id" AND l."resourceType" = '%s')`,
			schema.Quote(impl.LookupTable), schema.Quote(impl.ResourceType), impl.ResourceType,
		)
		if missing {
			return "NOT " + sub, nil, idx, nil
		}
		return sub, nil, idx, nil
	}

	col := schema.Quote(impl.ColumnName)
	if missing {
		return col + " IS NULL", nil, idx, nil
	}
	return col + " IS NOT NULL", nil, idx, nil
}

// compileStringValue: default match is case-insensitive starts-with,
// :exact is equality, :contains a trigram-backed substring.
func compileStringValue(impl *registry.Impl, param ParsedParam, value ParamValue, idx int) (string, []interface{}, int, error) {
	col := schema.Quote(impl.ColumnName)
	if impl.Array {
		switch param.Modifier {
		case "exact", "":
			return fmt.Sprintf("$%d = ANY(%s)", idx, col), []interface{}{value.Value}, idx + 1, nil
		default:
			return "", nil, idx, fhir.InvalidError("modifier :%s is not supported on %s", param.Modifier, param.Code)
		}
	}
	switch param.Modifier {
	case "exact":
		return fmt.Sprintf("%s = $%d", col, idx), []interface{}{value.Value}, idx + 1, nil
	case "contains":
		return fmt.Sprintf("%s ILIKE $%d", col, idx), []interface{}{"%" + likeEscape(value.Value) + "%"}, idx + 1, nil
	case "", "text":
		return fmt.Sprintf("%s ILIKE $%d", col, idx), []interface{}{likeEscape(value.Value) + "%"}, idx + 1, nil
	default:
		return "", nil, idx, fhir.InvalidError("modifier :%s is not supported on %s", param.Modifier, param.Code)
	}
}

// compileTokenValue handles the system|code forms against token columns.
// Scalar columns store the qualified form when the source value carried a
// system; arrays store both the bare and qualified forms.
func compileTokenValue(impl *registry.Impl, param ParsedParam, value ParamValue, idx int) (string, []interface{}, int, error) {
	if param.Modifier != "" && param.Modifier != "not" && param.Modifier != "text" {
		return "", nil, idx, fhir.InvalidError("modifier :%s is not supported on %s", param.Modifier, param.Code)
	}
	col := schema.Quote(impl.ColumnName)
	system, code, qualified := splitToken(value.Value)

	if impl.Array {
		switch {
		case qualified && system != "" && code != "":
			return fmt.Sprintf("$%d = ANY(%s)", idx, col), []interface{}{system + "|" + code}, idx + 1, nil
		case qualified && system != "":
			// system| : any code in the system.
			return fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(%s) AS t(v) WHERE t.v LIKE $%d)", col, idx),
				[]interface{}{likeEscape(system) + "|%"}, idx + 1, nil
		default:
			return fmt.Sprintf("$%d = ANY(%s)", idx, col), []interface{}{code}, idx + 1, nil
		}
	}

	switch {
	case qualified && system != "" && code != "":
		return fmt.Sprintf("%s = $%d", col, idx), []interface{}{system + "|" + code}, idx + 1, nil
	case qualified && system != "":
		return fmt.Sprintf("%s LIKE $%d", col, idx), []interface{}{likeEscape(system) + "|%"}, idx + 1, nil
	case qualified:
		// |code : explicitly no system, stored bare.
		return fmt.Sprintf("%s = $%d", col, idx), []interface{}{code}, idx + 1, nil
	default:
		// Bare code matches both the bare and any system-qualified form.
		clause := fmt.Sprintf("(%s = $%d OR %s LIKE $%d)", col, idx, col, idx+1)
		return clause, []interface{}{code, "%|" + likeEscape(code)}, idx + 2, nil
	}
}

func compileReferenceValue(impl *registry.Impl, param ParsedParam, value ParamValue, idx int) (string, []interface{}, int, error) {
	target := ""
	if param.Modifier != "" {
		if !isTypeName(param.Modifier) {
			return "", nil, idx, fhir.InvalidError("modifier :%s is not supported on %s", param.Modifier, param.Code)
		}
		target = param.Modifier
	}

	raw := value.Value
	if refType, id, ok := fhir.ParseReference(raw); ok && refType != "" {
		if target != "" && refType != target {
			// Type/id value contradicting the :Type modifier matches nothing.
			return "FALSE", nil, idx, nil
		}
		target = refType
		raw = id
	}
	if target != "" && len(impl.TargetTypes) > 0 && !contains(impl.TargetTypes, target) {
		return "FALSE", nil, idx, nil
	}

	col := schema.Quote(impl.ColumnName)
	if impl.Array {
		return fmt.Sprintf("$%d = ANY(%s)", idx, col), []interface{}{raw}, idx + 1, nil
	}
	return fmt.Sprintf("%s = $%d", col, idx), []interface{}{raw}, idx + 1, nil
}

func compileDateValue(impl *registry.Impl, param ParsedParam, value ParamValue, idx int) (string, []interface{}, int, error) {
	op, ok := prefixOps[value.Prefix]
	if !ok {
		return "", nil, idx, fhir.InvalidError("invalid prefix %q on %s", value.Prefix, param.Code)
	}
	t, err := parseFlexDate(value.Value)
	if err != nil {
		return "", nil, idx, fhir.InvalidError("invalid date %q on %s", value.Value, param.Code)
	}
	col := schema.Quote(impl.ColumnName)
	return fmt.Sprintf("%s %s $%d", col, op, idx), []interface{}{t}, idx + 1, nil
}

func compileNumberValue(impl *registry.Impl, param ParsedParam, value ParamValue, idx int) (string, []interface{}, int, error) {
	op, ok := prefixOps[value.Prefix]
	if !ok {
		return "", nil, idx, fhir.InvalidError("invalid prefix %q on %s", value.Prefix, param.Code)
	}
	// Quantity values may carry |system|unit; only the number is indexed.
	numPart := value.Value
	if i := strings.IndexByte(numPart, '|'); i >= 0 {
		numPart = numPart[:i]
	}
	n, err := strconv.ParseFloat(numPart, 64)
	if err != nil {
		return "", nil, idx, fhir.InvalidError("invalid number %q on %s", value.Value, param.Code)
	}
	col := schema.Quote(impl.ColumnName)
	return fmt.Sprintf("%s %s $%d", col, op, idx), []interface{}{n}, idx + 1, nil
}

// lookupColumns maps a parameter code to the lookup-table columns its
// values are matched against.
var lookupColumns = map[string][]string{
	"name":               {"name", "family", "given"},
	"family":             {"family"},
	"given":              {"given"},
	"address":            {"address"},
	"address-city":       {"city"},
	"address-state":      {"state"},
	"address-postalcode": {"postalCode"},
	"address-country":    {"country"},
	"address-use":        {"use"},
	"telecom":            {"value"},
	"phone":              {"value"},
	"email":              {"value"},
	"phonetic":           {"name"},
}

func compileLookupValue(impl *registry.Impl, param ParsedParam, value ParamValue, idx int) (string, []interface{}, int, error) {
	var inner string
	var args []interface{}

	if impl.LookupTable == "Identifier" {
		system, code, qualified := splitToken(value.Value)
		switch {
		case qualified && system != "" && code != "":
			inner = fmt.Sprintf(`l."system" = $%d AND l."value" = $%d`, idx, idx+1)
			args = []interface{}{system, code}
			idx += 2
		case qualified && system != "":
			inner = fmt.Sprintf(`l."system" = $%d`, idx)
			args = []interface{}{system}
			idx++
		case qualified:
			inner = fmt.Sprintf(`l."system" IS NULL AND l."value" = $%d`, idx)
			args = []interface{}{code}
			idx++
		default:
			inner = fmt.Sprintf(`l."value" = $%d`, idx)
			args = []interface{}{code}
			idx++
		}
	} else {
		cols, ok := lookupColumns[param.Code]
		if !ok {
			cols = []string{"value"}
		}
		var ors []string
		for _, c := range cols {
			switch param.Modifier {
			case "exact":
				ors = append(ors, fmt.Sprintf(`l.%s = $%d`, schema.Quote(c), idx))
				args = append(args, value.Value)
			case "contains":
				ors = append(ors, fmt.Sprintf(`l.%s ILIKE $%d`, schema.Quote(c), idx))
				args = append(args, "%"+likeEscape(value.Value)+"%")
			case "", "text":
				ors = append(ors, fmt.Sprintf(`l.%s ILIKE $%d`, schema.Quote(c), idx))
				args = append(args, likeEscape(value.Value)+"%")
			default:
				return "", nil, idx, fhir.InvalidError("modifier :%s is not supported on %s", param.Modifier, param.Code)
			}
			idx++
		}
		inner = strings.Join(ors, " OR ")
		if len(ors) > 1 {
			inner = "(" + inner + ")"
		}
	}

	clause := fmt.Sprintf(
		`EXISTS (SELECT 1 FROM %s l WHERE l."resourceId" = %s."id" AND l."resourceType" = '%s' AND %s)`,
		schema.Quote(impl.LookupTable), schema.Quote(impl.ResourceType), impl.ResourceType, inner,
	)
	return clause, args, idx, nil
}

// ============================================================================
// Helpers
// ============================================================================

// splitToken splits "system|code". qualified reports whether a pipe was
// present at all, distinguishing "code" from "|code".
func splitToken(v string) (system, code string, qualified bool) {
	i := strings.IndexByte(v, '|')
	if i < 0 {
		return "", v, false
	}
	return v[:i], v[i+1:], true
}

// likeEscape escapes LIKE metacharacters in user input.
func likeEscape(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "%", `\%`)
	s = strings.ReplaceAll(s, "_", `\_`)
	return s
}

// parseFlexDate accepts the date precisions search values arrive in.
func parseFlexDate(s string) (time.Time, error) {
	for _, f := range []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
		"2006",
	} {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
