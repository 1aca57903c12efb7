package search

import (
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
)

// SearchRequest is the parsed form of a search invocation.
type SearchRequest struct {
	ResourceType string
	Params       []ParsedParam
	Sort         []SortField
	Count        int
	Offset       int
	Total        string // none, estimate, accurate
	Includes     []IncludeDirective
	RevIncludes  []IncludeDirective
	Compartment  string // patient compartment id
	Elements     []string
	Summary      string
	RawQuery     string // original query string, for self/next links
}

// ParsedParam is one search parameter with its OR alternatives. Repeated
// parameter keys in the query form AND conjunctions and parse to separate
// ParsedParams.
type ParsedParam struct {
	Code     string
	Modifier string
	Values   []ParamValue
}

// ParamValue is one atomic value with its optional comparison prefix.
type ParamValue struct {
	Prefix string
	Value  string
}

type SortField struct {
	Code       string
	Descending bool
}

// IncludeDirective is one _include or _revinclude instruction.
type IncludeDirective struct {
	Source   string
	Param    string
	Target   string // optional target-type constraint
	Iterate  bool
	Wildcard bool
}

// Limits bound page sizes.
type Limits struct {
	DefaultCount int
	MaxCount     int
}

const (
	DefaultCount = 20
	MaxCount     = 1000
)

func (l Limits) normalized() Limits {
	if l.DefaultCount <= 0 {
		l.DefaultCount = DefaultCount
	}
	if l.MaxCount <= 0 {
		l.MaxCount = MaxCount
	}
	return l
}

var knownModifiers = map[string]bool{
	"exact": true, "contains": true, "missing": true, "not": true,
	"in": true, "below": true, "above": true, "identifier": true,
	"text": true, "of-type": true, "iterate": true,
}

var valuePrefixes = map[string]bool{
	"eq": true, "ne": true, "gt": true, "lt": true,
	"ge": true, "le": true, "sa": true, "eb": true, "ap": true,
}

var totalModes = map[string]bool{"none": true, "estimate": true, "accurate": true}

// ParseRequest parses the query string of a type-level search. Parameter
// keys are processed in sorted order so identical queries parse to
// identical requests.
func ParseRequest(resourceType string, query url.Values, limits Limits) (*SearchRequest, error) {
	limits = limits.normalized()
	req := &SearchRequest{
		ResourceType: resourceType,
		Count:        limits.DefaultCount,
		Total:        "none",
		RawQuery:     query.Encode(),
	}

	keys := make([]string, 0, len(query))
	for k := range query {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		values := query[key]
		switch key {
		case "_count":
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return nil, fhir.InvalidError("invalid _count %q", values[0])
			}
			if n < 1 {
				n = 1
			}
			if n > limits.MaxCount {
				n = limits.MaxCount
			}
			req.Count = n
		case "_offset":
			n, err := strconv.Atoi(values[0])
			if err != nil || n < 0 {
				return nil, fhir.InvalidError("invalid _offset %q", values[0])
			}
			req.Offset = n
		case "_sort":
			for _, v := range values {
				for _, code := range strings.Split(v, ",") {
					code = strings.TrimSpace(code)
					if code == "" {
						continue
					}
					field := SortField{Code: code}
					if strings.HasPrefix(code, "-") {
						field.Code = code[1:]
						field.Descending = true
					}
					req.Sort = append(req.Sort, field)
				}
			}
		case "_total":
			if !totalModes[values[0]] {
				return nil, fhir.InvalidError("invalid _total %q", values[0])
			}
			req.Total = values[0]
		case "_include", "_include:iterate", "_revinclude", "_revinclude:iterate":
			iterate := strings.HasSuffix(key, ":iterate")
			rev := strings.HasPrefix(key, "_revinclude")
			for _, v := range values {
				directive, err := parseInclude(v, iterate)
				if err != nil {
					return nil, err
				}
				if rev {
					req.RevIncludes = append(req.RevIncludes, directive)
				} else {
					req.Includes = append(req.Includes, directive)
				}
			}
		case "_elements":
			for _, v := range values {
				for _, e := range strings.Split(v, ",") {
					if e = strings.TrimSpace(e); e != "" {
						req.Elements = append(req.Elements, e)
					}
				}
			}
		case "_summary":
			req.Summary = values[0]
		default:
			for _, v := range values {
				param, err := parseParam(key, v)
				if err != nil {
					return nil, err
				}
				req.Params = append(req.Params, param)
			}
		}
	}
	return req, nil
}

// parseParam splits "code[:modifier]" and the comma-separated OR values.
func parseParam(key, raw string) (ParsedParam, error) {
	param := ParsedParam{Code: key}
	if i := strings.IndexByte(key, ':'); i >= 0 {
		param.Code = key[:i]
		param.Modifier = key[i+1:]
		// Chained-target typing: subject:Patient constrains the referenced
		// type rather than naming a behavior modifier.
		if !knownModifiers[param.Modifier] && !isTypeName(param.Modifier) {
			return ParsedParam{}, fhir.InvalidError("unknown search modifier %q", param.Modifier)
		}
	}
	if param.Code == "" {
		return ParsedParam{}, fhir.InvalidError("empty search parameter name")
	}
	for _, v := range strings.Split(raw, ",") {
		param.Values = append(param.Values, splitPrefix(v))
	}
	return param, nil
}

// splitPrefix peels a two-letter comparison prefix off numeric and date
// values. Prefixes only apply when the remainder looks like a number or
// date, so token values such as "lens" parse whole.
func splitPrefix(v string) ParamValue {
	if len(v) > 2 && valuePrefixes[v[:2]] {
		rest := v[2:]
		if rest[0] >= '0' && rest[0] <= '9' || rest[0] == '-' || rest[0] == '.' {
			return ParamValue{Prefix: v[:2], Value: rest}
		}
	}
	return ParamValue{Value: v}
}

// parseInclude parses "Source:param[:TargetType]" or the wildcard "*".
func parseInclude(raw string, iterate bool) (IncludeDirective, error) {
	if raw == "*" {
		return IncludeDirective{Wildcard: true, Iterate: iterate}, nil
	}
	parts := strings.Split(raw, ":")
	switch len(parts) {
	case 2:
		return IncludeDirective{Source: parts[0], Param: parts[1], Iterate: iterate}, nil
	case 3:
		if parts[2] == "iterate" {
			return IncludeDirective{Source: parts[0], Param: parts[1], Iterate: true}, nil
		}
		return IncludeDirective{Source: parts[0], Param: parts[1], Target: parts[2], Iterate: iterate}, nil
	case 4:
		if parts[3] != "iterate" {
			return IncludeDirective{}, fhir.InvalidError("invalid include %q", raw)
		}
		return IncludeDirective{Source: parts[0], Param: parts[1], Target: parts[2], Iterate: true}, nil
	default:
		return IncludeDirective{}, fhir.InvalidError("invalid include %q", raw)
	}
}

func isTypeName(s string) bool {
	return s != "" && s[0] >= 'A' && s[0] <= 'Z'
}
