package fhirpath

import (
	"fmt"
	"strings"
	"sync"
)

// DefaultCacheSize is the capacity of the process-wide expression cache.
const DefaultCacheSize = 1000

var (
	cacheMu         sync.RWMutex
	expressionCache *LRUCache
)

func init() {
	expressionCache, _ = NewLRUCache(DefaultCacheSize)
}

// SetExpressionCache swaps the process-wide parse cache. Intended for boot
// (sizing from config) and for test isolation.
func SetExpressionCache(c *LRUCache) {
	cacheMu.Lock()
	defer cacheMu.Unlock()
	expressionCache = c
}

// ExpressionCache returns the process-wide parse cache.
func ExpressionCache() *LRUCache {
	cacheMu.RLock()
	defer cacheMu.RUnlock()
	return expressionCache
}

// Parse tokenizes and parses an expression, serving repeated expressions
// from the process-wide LRU cache.
func Parse(expression string) (*Node, error) {
	expression = strings.TrimSpace(expression)
	if expression == "" {
		return nil, fmt.Errorf("fhirpath: empty expression")
	}

	cache := ExpressionCache()
	if cached, ok := cache.Get(expression); ok {
		return cached.(*Node), nil
	}

	node, err := parse(expression)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: parse %q: %w", expression, err)
	}
	cache.Set(expression, node)
	return node, nil
}

// Evaluate parses an expression (through the cache) and evaluates it against
// a resource, returning the result collection.
func Evaluate(resource map[string]interface{}, expression string) ([]TypedValue, error) {
	node, err := Parse(expression)
	if err != nil {
		return nil, err
	}
	result, err := EvalNode(node, resource)
	if err != nil {
		return nil, fmt.Errorf("fhirpath: eval %q: %w", expression, err)
	}
	return result, nil
}

// EvaluateBool evaluates an expression and reduces the result with the
// singleton-evaluation rules: empty is false, a single boolean is itself,
// any other non-empty collection is true.
func EvaluateBool(resource map[string]interface{}, expression string) (bool, error) {
	result, err := Evaluate(resource, expression)
	if err != nil {
		return false, err
	}
	return collectionToBool(result), nil
}

// EvaluateStrings evaluates an expression and returns the results rendered
// as strings, skipping complex values.
func EvaluateStrings(resource map[string]interface{}, expression string) ([]string, error) {
	result, err := Evaluate(resource, expression)
	if err != nil {
		return nil, err
	}
	var out []string
	for _, tv := range result {
		switch tv.Value.(type) {
		case map[string]interface{}, []interface{}, nil:
			continue
		default:
			out = append(out, stringOf(tv.Value))
		}
	}
	return out, nil
}
