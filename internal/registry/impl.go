package registry

import "strings"

// Strategy selects how a search parameter is materialized in the schema.
type Strategy int

const (
	// StrategyColumn stores extracted values in a dedicated column on the
	// resource's main table.
	StrategyColumn Strategy = iota
	// StrategyTokenColumn stores token values (optionally system|code pairs)
	// in a text column on the main table.
	StrategyTokenColumn
	// StrategyLookupTable decomposes a complex type into one of the four
	// global lookup tables and searches via an EXISTS join.
	StrategyLookupTable
	// StrategyJoinReference resolves through the per-type references table.
	StrategyJoinReference
)

func (s Strategy) String() string {
	switch s {
	case StrategyColumn:
		return "column"
	case StrategyTokenColumn:
		return "token-column"
	case StrategyLookupTable:
		return "lookup-table"
	case StrategyJoinReference:
		return "join-reference"
	}
	return "unknown"
}

// Impl is the resolved materialization of one SearchParameter for one
// resource type.
type Impl struct {
	ResourceType string
	Code         string
	Type         string
	Strategy     Strategy
	ColumnName   string
	ColumnType   string
	Array        bool
	Expression   string
	LookupTable  string // set for StrategyLookupTable
	TargetTypes  []string
}

// elementTypes maps "ResourceType.element" paths to the complex FHIR type
// the element carries, for the elements that decompose into lookup tables.
// Element paths not listed here resolve as plain columns (Organization.name
// is a plain string, unlike Patient.name).
var elementTypes = map[string]string{
	"Patient.name":           "HumanName",
	"Patient.address":        "Address",
	"Patient.telecom":        "ContactPoint",
	"Practitioner.name":      "HumanName",
	"Practitioner.address":   "Address",
	"Practitioner.telecom":   "ContactPoint",
	"RelatedPerson.name":     "HumanName",
	"RelatedPerson.address":  "Address",
	"RelatedPerson.telecom":  "ContactPoint",
	"Person.name":            "HumanName",
	"Person.address":         "Address",
	"Person.telecom":         "ContactPoint",
	"Organization.address":   "Address",
	"Organization.telecom":   "ContactPoint",
	"Location.address":       "Address",
	"Location.telecom":       "ContactPoint",
}

// repeatingElements lists element names whose cardinality is 0..* across
// the base resource types; extraction over them yields array columns.
var repeatingElements = map[string]bool{
	"name":       true,
	"given":      true,
	"address":    true,
	"telecom":    true,
	"identifier": true,
	"category":   true,
	"coding":     true,
	"performer":  true,
	"result":     true,
	"profile":    true,
	"link":       true,
	"participant": true,
	"generalPractitioner": true,
}

// resolveImpl applies the resolution rules for one (resourceType, code):
//  1. token over an Identifier element decomposes into the Identifier
//     lookup table,
//  2. string over a HumanName / Address / ContactPoint element decomposes
//     into the corresponding lookup table,
//  3. everything else becomes a column typed from the search type.
func resolveImpl(resourceType string, sp *SearchParameter) *Impl {
	expression := expressionFor(resourceType, sp.Expression)
	impl := &Impl{
		ResourceType: resourceType,
		Code:         sp.Code,
		Type:         sp.Type,
		Expression:   expression,
		TargetTypes:  sp.Target,
	}

	element := elementTypeOf(resourceType, expression)

	if sp.Type == "token" && element == "Identifier" {
		impl.Strategy = StrategyLookupTable
		impl.LookupTable = "Identifier"
		return impl
	}
	if sp.Type == "string" || sp.Type == "token" {
		switch element {
		case "HumanName", "Address", "ContactPoint":
			impl.Strategy = StrategyLookupTable
			impl.LookupTable = element
			return impl
		}
	}

	impl.Strategy = StrategyColumn
	if sp.Type == "token" {
		impl.Strategy = StrategyTokenColumn
	}
	impl.ColumnName = ColumnName(sp.Code)
	impl.ColumnType = columnTypeFor(sp.Type)
	impl.Array = isRepeatingExpression(expression)
	return impl
}

// expressionFor picks the union alternative that applies to a resource type.
// Shared parameters are defined once with a representative path; when no
// alternative starts with the resource type, the representative path is
// re-rooted onto it (the element shape is the same across the base types).
func expressionFor(resourceType, expression string) string {
	alternatives := strings.Split(expression, "|")
	for _, alt := range alternatives {
		alt = strings.TrimSpace(alt)
		if strings.HasPrefix(alt, resourceType+".") || alt == resourceType {
			return alt
		}
	}
	first := strings.TrimSpace(alternatives[0])
	if i := strings.IndexByte(first, '.'); i >= 0 && isTypeSegment(first[:i]) {
		return resourceType + first[i:]
	}
	return first
}

func isTypeSegment(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}

// elementTypeOf resolves the complex type of the element a simple expression
// reads, or "". Identifier elements are recognized by path tail regardless
// of resource type.
func elementTypeOf(resourceType, expression string) string {
	expr := primaryPath(expression)
	if strings.HasSuffix(expr, ".identifier") || expr == "identifier" {
		return "Identifier"
	}
	segments := strings.SplitN(strings.TrimPrefix(expr, resourceType+"."), ".", 2)
	if len(segments) == 0 || segments[0] == "" {
		return ""
	}
	return elementTypes[resourceType+"."+segments[0]]
}

// primaryPath strips union alternatives and function calls, keeping the
// first plain navigation path of the expression.
func primaryPath(expression string) string {
	expr := expression
	if i := strings.Index(expr, "|"); i >= 0 {
		expr = expr[:i]
	}
	if i := strings.Index(expr, ".where("); i >= 0 {
		expr = expr[:i]
	}
	if i := strings.Index(expr, ".as("); i >= 0 {
		expr = expr[:i]
	}
	return strings.TrimSpace(expr)
}

func isRepeatingExpression(expression string) bool {
	for _, seg := range strings.Split(primaryPath(expression), ".") {
		seg = strings.TrimSpace(seg)
		if i := strings.IndexByte(seg, '('); i >= 0 {
			seg = seg[:i]
		}
		if repeatingElements[seg] {
			return true
		}
	}
	return false
}

// ColumnName derives the search column name from a parameter code:
// hyphenated codes turn into lowerCamelCase ("address-city" -> addressCity).
func ColumnName(code string) string {
	parts := strings.Split(code, "-")
	var sb strings.Builder
	for i, p := range parts {
		if p == "" {
			continue
		}
		if i == 0 {
			sb.WriteString(p)
			continue
		}
		sb.WriteString(strings.ToUpper(p[:1]))
		sb.WriteString(p[1:])
	}
	return sb.String()
}

// columnTypeFor maps a FHIR search type to the SQL column type.
func columnTypeFor(searchType string) string {
	switch searchType {
	case "date":
		return "TIMESTAMPTZ"
	case "number":
		return "NUMERIC"
	case "quantity":
		return "DOUBLE PRECISION"
	default: // string, token, reference, uri, special, composite
		return "TEXT"
	}
}
