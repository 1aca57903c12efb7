package search

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/registry"
)

// Engine executes parsed search requests against the generated schema and
// shapes searchset bundles.
type Engine struct {
	pool     *pgxpool.Pool
	registry *registry.Registry
	limits   Limits
	baseURL  string
}

func NewEngine(pool *pgxpool.Pool, reg *registry.Registry, limits Limits, baseURL string) *Engine {
	return &Engine{
		pool:     pool,
		registry: reg,
		limits:   limits.normalized(),
		baseURL:  strings.TrimSuffix(baseURL, "/"),
	}
}

// Limits exposes the page-size bounds for request parsing.
func (e *Engine) Limits() Limits { return e.limits }

// Execute runs a search and assembles the searchset bundle: primary
// matches, includes, total and paging links.
func (e *Engine) Execute(ctx context.Context, req *SearchRequest) (*fhir.Bundle, error) {
	if _, ok := e.registry.Profile(req.ResourceType); !ok {
		return nil, fhir.InvalidError("unknown resource type %q", req.ResourceType)
	}
	project := e.readProject(ctx)

	sql, args, err := BuildQuery(e.registry, req, project)
	if err != nil {
		return nil, err
	}
	matches, err := e.queryResources(ctx, sql, args)
	if err != nil {
		return nil, err
	}
	log.Ctx(ctx).Debug().
		Str("resourceType", req.ResourceType).
		Int("matches", len(matches)).
		Msg("search executed")

	included, err := e.resolveIncludes(ctx, req, matches, project)
	if err != nil {
		return nil, err
	}

	bundle := fhir.NewBundle("searchset")
	for _, res := range matches {
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullURL:  e.fullURL(res),
			Resource: res,
			Search:   &fhir.BundleSearch{Mode: "match"},
		})
	}
	for _, res := range included {
		bundle.Entry = append(bundle.Entry, fhir.BundleEntry{
			FullURL:  e.fullURL(res),
			Resource: res,
			Search:   &fhir.BundleSearch{Mode: "include"},
		})
	}

	if req.Total != "none" {
		total, err := e.countTotal(ctx, req, project)
		if err != nil {
			return nil, err
		}
		bundle.Total = &total
	}

	bundle.Link = e.links(req, len(matches))
	return bundle, nil
}

// countTotal answers _total. Accurate always recounts; estimate uses the
// planner statistics when the query has no narrowing conditions and falls
// back to an accurate count otherwise.
func (e *Engine) countTotal(ctx context.Context, req *SearchRequest, project string) (int, error) {
	if req.Total == "estimate" && Estimable(req, project) {
		var estimate int64
		err := e.pool.QueryRow(ctx, EstimateSQL, req.ResourceType).Scan(&estimate)
		if err == nil && estimate >= 0 {
			return int(estimate), nil
		}
		// Fresh tables have no statistics yet; recount.
	}
	sql, args, err := BuildCountQuery(e.registry, req, project)
	if err != nil {
		return 0, err
	}
	var total int
	if err := e.pool.QueryRow(ctx, sql, args...).Scan(&total); err != nil {
		return 0, fhir.InternalError(err)
	}
	return total, nil
}

// links derives self and next from the original query string. next exists
// iff the page is full.
func (e *Engine) links(req *SearchRequest, matched int) []fhir.BundleLink {
	base := e.baseURL + "/" + req.ResourceType
	self := base
	if req.RawQuery != "" {
		self += "?" + req.RawQuery
	}
	links := []fhir.BundleLink{{Relation: "self", URL: self}}

	if matched == req.Count {
		values, err := url.ParseQuery(req.RawQuery)
		if err != nil {
			values = url.Values{}
		}
		values.Set("_offset", strconv.Itoa(req.Offset+req.Count))
		values.Set("_count", strconv.Itoa(req.Count))
		links = append(links, fhir.BundleLink{Relation: "next", URL: base + "?" + values.Encode()})
	}
	return links
}

func (e *Engine) fullURL(res fhir.Resource) string {
	if e.baseURL == "" {
		return ""
	}
	return e.baseURL + "/" + res.Type() + "/" + res.ID()
}

func (e *Engine) readProject(ctx context.Context) string {
	oc := fhir.OperationContextFrom(ctx)
	if oc == nil || oc.SuperAdmin {
		return ""
	}
	return oc.Project
}

// queryResources runs a query whose first column is resource content and
// parses each row.
func (e *Engine) queryResources(ctx context.Context, sql string, args []interface{}) ([]fhir.Resource, error) {
	rows, err := e.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fhir.InternalError(err)
	}
	defer rows.Close()

	var out []fhir.Resource
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fhir.InternalError(err)
		}
		var content string
		for _, v := range values {
			if s, ok := v.(string); ok {
				content = s
				break
			}
		}
		if content == "" {
			continue
		}
		res, err := fhir.ParseResource([]byte(content))
		if err != nil {
			return nil, fhir.InternalError(err)
		}
		out = append(out, res)
	}
	if err := rows.Err(); err != nil {
		return nil, fhir.InternalError(err)
	}
	return out, nil
}

// referenceStrings pulls the raw reference strings an expression points
// at: a plain dotted walk with array fan-out, accepting Reference objects
// and bare strings.
func referenceStrings(res fhir.Resource, expression string) []string {
	path := strings.TrimPrefix(expression, res.Type()+".")
	var out []string
	var walk func(node interface{}, segments []string)
	walk = func(node interface{}, segments []string) {
		if len(segments) == 0 {
			switch v := node.(type) {
			case string:
				out = append(out, v)
			case map[string]interface{}:
				if ref, ok := v["reference"].(string); ok {
					out = append(out, ref)
				}
			case []interface{}:
				for _, item := range v {
					walk(item, segments)
				}
			}
			return
		}
		switch v := node.(type) {
		case map[string]interface{}:
			if child, ok := v[segments[0]]; ok {
				walk(child, segments[1:])
			}
		case []interface{}:
			for _, item := range v {
				walk(item, segments)
			}
		}
	}
	walk(map[string]interface{}(res), strings.Split(path, "."))
	return out
}
