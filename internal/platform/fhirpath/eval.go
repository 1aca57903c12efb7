package fhirpath

import (
	"fmt"
	"regexp"
	"strings"
)

// ============================================================================
// Evaluator
// ============================================================================

// evalContext carries the root resource through evaluation so that an
// expression can restart from the resource type name (e.g. "Patient.name").
type evalContext struct {
	resource map[string]interface{}
}

// EvalNode evaluates a parsed AST against a resource and returns the result
// collection. The evaluator is pure: it never mutates its input.
func EvalNode(node *Node, resource map[string]interface{}) ([]TypedValue, error) {
	if resource == nil {
		return nil, nil
	}
	ctx := &evalContext{resource: resource}
	input := []TypedValue{typed(resource)}
	return ctx.eval(node, input)
}

func (ctx *evalContext) eval(node *Node, input []TypedValue) ([]TypedValue, error) {
	if node == nil {
		return input, nil
	}
	switch node.Kind {
	case NodeLiteral:
		if node.Literal == nil {
			return nil, nil // empty set literal {}
		}
		return []TypedValue{*node.Literal}, nil

	case NodePath:
		return ctx.evalPath(node.Name, input), nil

	case NodeDot:
		left, err := ctx.eval(node.Left, input)
		if err != nil {
			return nil, err
		}
		return ctx.eval(node.Right, left)

	case NodeIndexer:
		return ctx.evalIndexer(node, input)

	case NodeFunction:
		return ctx.evalFunction(node, input)

	case NodeUnary:
		return ctx.evalUnary(node, input)

	case NodeBinary:
		return ctx.evalBinary(node, input)
	}
	return nil, fmt.Errorf("unknown node kind %d", node.Kind)
}

// evalPath resolves a bare identifier. A leading resource type name matches
// the root resource (or yields empty on mismatch); anything else navigates
// into each item of the input collection, flattening arrays.
func (ctx *evalContext) evalPath(name string, input []TypedValue) []TypedValue {
	if isTypeName(name) {
		rt, _ := ctx.resource["resourceType"].(string)
		if rt == name {
			return []TypedValue{typed(ctx.resource)}
		}
		return nil
	}

	var out []TypedValue
	for _, item := range input {
		out = append(out, navigate(item.Value, name)...)
	}
	return out
}

// navigate extracts a named field, expanding arrays into the collection.
// Choice-type elements are probed by type suffix (value -> valueQuantity,
// valueString, ...).
func navigate(item interface{}, field string) []TypedValue {
	m, ok := item.(map[string]interface{})
	if !ok {
		return nil
	}
	val, ok := m[field]
	if !ok {
		for key, v := range m {
			if strings.HasPrefix(key, field) && len(key) > len(field) &&
				key[len(field)] >= 'A' && key[len(field)] <= 'Z' {
				return wrap(v, key[len(field):])
			}
		}
		return nil
	}
	return wrap(val, "")
}

func wrap(val interface{}, typeHint string) []TypedValue {
	if arr, ok := val.([]interface{}); ok {
		out := make([]TypedValue, 0, len(arr))
		for _, item := range arr {
			out = append(out, typedAs(item, typeHint))
		}
		return out
	}
	return []TypedValue{typedAs(val, typeHint)}
}

func (ctx *evalContext) evalIndexer(node *Node, input []TypedValue) ([]TypedValue, error) {
	coll, err := ctx.eval(node.Left, input)
	if err != nil {
		return nil, err
	}
	idxColl, err := ctx.eval(node.Right, input)
	if err != nil {
		return nil, err
	}
	if len(idxColl) != 1 {
		return nil, nil
	}
	idx, ok := toInt(idxColl[0].Value)
	if !ok {
		return nil, fmt.Errorf("indexer requires an integer, got %T", idxColl[0].Value)
	}
	if idx < 0 || int(idx) >= len(coll) {
		return nil, nil
	}
	return coll[idx : idx+1], nil
}

func (ctx *evalContext) evalUnary(node *Node, input []TypedValue) ([]TypedValue, error) {
	coll, err := ctx.eval(node.Right, input)
	if err != nil {
		return nil, err
	}
	if len(coll) == 0 {
		return nil, nil
	}
	n, ok := toFloat(coll[0].Value)
	if !ok {
		return nil, fmt.Errorf("unary %q requires a number", node.Operator)
	}
	if node.Operator == "-" {
		n = -n
	}
	return []TypedValue{{Type: coll[0].Type, Value: n}}, nil
}

// ============================================================================
// Binary operators
// ============================================================================

func (ctx *evalContext) evalBinary(node *Node, input []TypedValue) ([]TypedValue, error) {
	switch node.Operator {
	case "and", "or", "xor", "implies":
		return ctx.evalLogic(node, input)
	case "is", "as":
		return ctx.evalTypeOp(node, input)
	}

	left, err := ctx.eval(node.Left, input)
	if err != nil {
		return nil, err
	}
	right, err := ctx.eval(node.Right, input)
	if err != nil {
		return nil, err
	}

	switch node.Operator {
	case "|":
		return union(left, right), nil
	case "in":
		return boolResult(contains(right, left)), nil
	case "contains":
		return boolResult(contains(left, right)), nil
	}

	// Remaining operators follow the FHIRPath singleton rules: empty
	// operand propagates empty.
	if len(left) == 0 || len(right) == 0 {
		return nil, nil
	}
	lv, rv := left[0].Value, right[0].Value

	switch node.Operator {
	case "=", "~":
		return boolResult(valuesEqual(lv, rv)), nil
	case "!=", "!~":
		return boolResult(!valuesEqual(lv, rv)), nil
	case "<", ">", "<=", ">=":
		res, err := compareOrdered(lv, rv, node.Operator)
		if err != nil {
			return nil, err
		}
		return boolResult(res), nil
	case "&":
		return []TypedValue{{Type: "string", Value: stringOf(lv) + stringOf(rv)}}, nil
	case "+", "-", "*", "/", "div", "mod":
		return arith(lv, rv, node.Operator)
	}
	return nil, fmt.Errorf("unknown operator %q", node.Operator)
}

func (ctx *evalContext) evalLogic(node *Node, input []TypedValue) ([]TypedValue, error) {
	left, err := ctx.eval(node.Left, input)
	if err != nil {
		return nil, err
	}
	lb := collectionToBool(left)

	switch node.Operator {
	case "and":
		if !lb {
			return boolResult(false), nil
		}
	case "or":
		if lb {
			return boolResult(true), nil
		}
	case "implies":
		if !lb {
			return boolResult(true), nil
		}
	}

	right, err := ctx.eval(node.Right, input)
	if err != nil {
		return nil, err
	}
	rb := collectionToBool(right)
	if node.Operator == "xor" {
		return boolResult(lb != rb), nil
	}
	return boolResult(rb), nil
}

func (ctx *evalContext) evalTypeOp(node *Node, input []TypedValue) ([]TypedValue, error) {
	coll, err := ctx.eval(node.Left, input)
	if err != nil {
		return nil, err
	}
	typeName := typeNameOf(node.Right)
	if typeName == "" {
		return nil, fmt.Errorf("%q requires a type name", node.Operator)
	}
	if node.Operator == "is" {
		return boolResult(len(coll) == 1 && matchesType(coll[0], typeName)), nil
	}
	// as: filter to matching items
	var out []TypedValue
	for _, item := range coll {
		if matchesType(item, typeName) {
			out = append(out, item)
		}
	}
	return out, nil
}

func typeNameOf(node *Node) string {
	if node == nil {
		return ""
	}
	if node.Kind == NodePath {
		return node.Name
	}
	if node.Kind == NodeLiteral && node.Literal != nil {
		return stringOf(node.Literal.Value)
	}
	return ""
}

// ============================================================================
// Functions
// ============================================================================

func (ctx *evalContext) evalFunction(node *Node, input []TypedValue) ([]TypedValue, error) {
	coll := input
	if node.Left != nil {
		var err error
		coll, err = ctx.eval(node.Left, input)
		if err != nil {
			return nil, err
		}
	}
	args := node.Args

	switch node.Name {
	case "exists":
		if len(args) == 0 {
			return boolResult(len(coll) > 0), nil
		}
		filtered, err := ctx.filter(coll, args[0])
		if err != nil {
			return nil, err
		}
		return boolResult(len(filtered) > 0), nil

	case "empty":
		return boolResult(len(coll) == 0), nil

	case "count":
		return []TypedValue{{Type: "integer", Value: int64(len(coll))}}, nil

	case "not":
		return boolResult(!collectionToBool(coll)), nil

	case "where":
		if len(args) == 0 {
			return coll, nil
		}
		return ctx.filter(coll, args[0])

	case "select":
		if len(args) == 0 {
			return coll, nil
		}
		var out []TypedValue
		for _, item := range coll {
			vals, err := ctx.eval(args[0], []TypedValue{item})
			if err != nil {
				return nil, err
			}
			out = append(out, vals...)
		}
		return out, nil

	case "all":
		if len(args) == 0 {
			return boolResult(true), nil
		}
		for _, item := range coll {
			vals, err := ctx.eval(args[0], []TypedValue{item})
			if err != nil {
				return nil, err
			}
			if !collectionToBool(vals) {
				return boolResult(false), nil
			}
		}
		return boolResult(true), nil

	case "first":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[:1], nil

	case "last":
		if len(coll) == 0 {
			return nil, nil
		}
		return coll[len(coll)-1:], nil

	case "tail":
		if len(coll) <= 1 {
			return nil, nil
		}
		return coll[1:], nil

	case "distinct":
		return distinct(coll), nil

	case "hasValue":
		return boolResult(len(coll) == 1 && coll[0].Value != nil), nil

	case "ofType":
		if len(args) == 0 {
			return coll, nil
		}
		typeName := typeNameOf(args[0])
		var out []TypedValue
		for _, item := range coll {
			if matchesType(item, typeName) {
				out = append(out, item)
			}
		}
		return out, nil

	case "startsWith":
		return ctx.stringPredicate(coll, args, strings.HasPrefix)
	case "endsWith":
		return ctx.stringPredicate(coll, args, strings.HasSuffix)
	case "contains":
		return ctx.stringPredicate(coll, args, strings.Contains)

	case "matches":
		return ctx.fnMatches(coll, args)

	case "length":
		if len(coll) == 0 {
			return nil, nil
		}
		return []TypedValue{{Type: "integer", Value: int64(len(stringOf(coll[0].Value)))}}, nil

	case "upper":
		return stringTransform(coll, strings.ToUpper), nil
	case "lower":
		return stringTransform(coll, strings.ToLower), nil

	case "toString":
		if len(coll) == 0 {
			return nil, nil
		}
		return []TypedValue{{Type: "string", Value: stringOf(coll[0].Value)}}, nil

	case "iif":
		return ctx.fnIif(args, input)
	}
	return nil, fmt.Errorf("unknown function %q", node.Name)
}

func (ctx *evalContext) filter(coll []TypedValue, criteria *Node) ([]TypedValue, error) {
	var out []TypedValue
	for _, item := range coll {
		vals, err := ctx.eval(criteria, []TypedValue{item})
		if err != nil {
			return nil, err
		}
		if collectionToBool(vals) {
			out = append(out, item)
		}
	}
	return out, nil
}

func (ctx *evalContext) stringPredicate(coll []TypedValue, args []*Node, fn func(string, string) bool) ([]TypedValue, error) {
	if len(coll) == 0 || len(args) == 0 {
		return nil, nil
	}
	argColl, err := ctx.eval(args[0], coll)
	if err != nil {
		return nil, err
	}
	if len(argColl) == 0 {
		return nil, nil
	}
	return boolResult(fn(stringOf(coll[0].Value), stringOf(argColl[0].Value))), nil
}

func (ctx *evalContext) fnMatches(coll []TypedValue, args []*Node) ([]TypedValue, error) {
	if len(coll) == 0 || len(args) == 0 {
		return nil, nil
	}
	argColl, err := ctx.eval(args[0], coll)
	if err != nil {
		return nil, err
	}
	if len(argColl) == 0 {
		return nil, nil
	}
	pattern := stringOf(argColl[0].Value)
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid regex %q: %w", pattern, err)
	}
	return boolResult(re.MatchString(stringOf(coll[0].Value))), nil
}

func (ctx *evalContext) fnIif(args []*Node, input []TypedValue) ([]TypedValue, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("iif requires a condition and a then-branch")
	}
	cond, err := ctx.eval(args[0], input)
	if err != nil {
		return nil, err
	}
	if collectionToBool(cond) {
		return ctx.eval(args[1], input)
	}
	if len(args) >= 3 {
		return ctx.eval(args[2], input)
	}
	return nil, nil
}

func stringTransform(coll []TypedValue, fn func(string) string) []TypedValue {
	if len(coll) == 0 {
		return nil
	}
	return []TypedValue{{Type: "string", Value: fn(stringOf(coll[0].Value))}}
}

// ============================================================================
// Value helpers
// ============================================================================

// typed wraps a raw JSON value in a TypedValue with an inferred type tag.
func typed(v interface{}) TypedValue {
	return typedAs(v, "")
}

func typedAs(v interface{}, hint string) TypedValue {
	if hint != "" {
		return TypedValue{Type: hint, Value: v}
	}
	switch val := v.(type) {
	case nil:
		return TypedValue{Type: "null"}
	case bool:
		return TypedValue{Type: "boolean", Value: val}
	case string:
		return TypedValue{Type: "string", Value: val}
	case float64:
		if val == float64(int64(val)) {
			return TypedValue{Type: "integer", Value: val}
		}
		return TypedValue{Type: "decimal", Value: val}
	case int64:
		return TypedValue{Type: "integer", Value: val}
	case map[string]interface{}:
		if rt, ok := val["resourceType"].(string); ok {
			return TypedValue{Type: rt, Value: val}
		}
		return TypedValue{Type: "object", Value: val}
	case []interface{}:
		return TypedValue{Type: "array", Value: val}
	}
	return TypedValue{Type: "object", Value: v}
}

func matchesType(tv TypedValue, typeName string) bool {
	if tv.Type == typeName {
		return true
	}
	switch typeName {
	case "string", "uri", "code", "id":
		_, ok := tv.Value.(string)
		return ok
	case "boolean":
		_, ok := tv.Value.(bool)
		return ok
	case "integer", "decimal":
		_, ok := toFloat(tv.Value)
		return ok
	}
	if m, ok := tv.Value.(map[string]interface{}); ok {
		rt, _ := m["resourceType"].(string)
		return rt == typeName
	}
	return false
}

// isTypeName reports whether an identifier names a FHIR type: by convention
// resource and complex type names start with an upper-case letter.
func isTypeName(name string) bool {
	return name != "" && name[0] >= 'A' && name[0] <= 'Z'
}

// collectionToBool applies the FHIRPath singleton-evaluation rules: empty is
// false, a single boolean is itself, anything else non-empty is true.
func collectionToBool(coll []TypedValue) bool {
	if len(coll) == 0 {
		return false
	}
	if len(coll) == 1 {
		if b, ok := coll[0].Value.(bool); ok {
			return b
		}
		return coll[0].Value != nil
	}
	return true
}

func boolResult(b bool) []TypedValue {
	return []TypedValue{{Type: "boolean", Value: b}}
}

func valuesEqual(l, r interface{}) bool {
	ln, lok := toFloat(l)
	rn, rok := toFloat(r)
	if lok && rok {
		return ln == rn
	}
	lb, lbok := l.(bool)
	rb, rbok := r.(bool)
	if lbok && rbok {
		return lb == rb
	}
	return stringOf(l) == stringOf(r)
}

func compareOrdered(l, r interface{}, op string) (bool, error) {
	ln, lok := toFloat(l)
	rn, rok := toFloat(r)
	if lok && rok {
		switch op {
		case "<":
			return ln < rn, nil
		case ">":
			return ln > rn, nil
		case "<=":
			return ln <= rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}
	ls, rs := stringOf(l), stringOf(r)
	switch op {
	case "<":
		return ls < rs, nil
	case ">":
		return ls > rs, nil
	case "<=":
		return ls <= rs, nil
	case ">=":
		return ls >= rs, nil
	}
	return false, fmt.Errorf("unknown comparison operator %q", op)
}

func arith(l, r interface{}, op string) ([]TypedValue, error) {
	ln, lok := toFloat(l)
	rn, rok := toFloat(r)
	if !lok || !rok {
		if op == "+" {
			return []TypedValue{{Type: "string", Value: stringOf(l) + stringOf(r)}}, nil
		}
		return nil, fmt.Errorf("operator %q requires numbers", op)
	}
	var res float64
	switch op {
	case "+":
		res = ln + rn
	case "-":
		res = ln - rn
	case "*":
		res = ln * rn
	case "/":
		if rn == 0 {
			return nil, nil
		}
		res = ln / rn
	case "div":
		if rn == 0 {
			return nil, nil
		}
		return []TypedValue{{Type: "integer", Value: int64(ln) / int64(rn)}}, nil
	case "mod":
		if rn == 0 {
			return nil, nil
		}
		return []TypedValue{{Type: "integer", Value: int64(ln) % int64(rn)}}, nil
	}
	if res == float64(int64(res)) {
		return []TypedValue{{Type: "integer", Value: res}}, nil
	}
	return []TypedValue{{Type: "decimal", Value: res}}, nil
}

func union(left, right []TypedValue) []TypedValue {
	seen := make(map[string]bool)
	var out []TypedValue
	for _, tv := range append(append([]TypedValue{}, left...), right...) {
		key := stringOf(tv.Value)
		if !seen[key] {
			seen[key] = true
			out = append(out, tv)
		}
	}
	return out
}

func distinct(coll []TypedValue) []TypedValue {
	seen := make(map[string]bool)
	var out []TypedValue
	for _, tv := range coll {
		key := stringOf(tv.Value)
		if !seen[key] {
			seen[key] = true
			out = append(out, tv)
		}
	}
	return out
}

func contains(haystack, needles []TypedValue) bool {
	for _, n := range needles {
		found := false
		for _, h := range haystack {
			if valuesEqual(h.Value, n.Value) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return len(needles) > 0
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int64:
		return float64(n), true
	case int:
		return float64(n), true
	}
	return 0, false
}

func toInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		if n == float64(int64(n)) {
			return int64(n), true
		}
	}
	return 0, false
}

func stringOf(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}
