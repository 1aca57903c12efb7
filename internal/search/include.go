package search

import (
	"context"
	"fmt"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/schema"
)

// maxIncludePasses bounds :iterate expansion independently of the
// seen-set, so a pathological graph cannot stall a request.
const maxIncludePasses = 10

type resourceKey struct {
	resourceType string
	id           string
}

// refTarget is one typed reference extracted from a resource.
type refTarget struct {
	resourceType string
	id           string
}

// resolveIncludes runs the _include / _revinclude passes over the matched
// resources and returns the included set in load order, deduplicated
// against the primaries and each other.
func (e *Engine) resolveIncludes(ctx context.Context, req *SearchRequest, matches []fhir.Resource, project string) ([]fhir.Resource, error) {
	if len(req.Includes) == 0 && len(req.RevIncludes) == 0 {
		return nil, nil
	}

	seen := make(map[resourceKey]bool)
	for _, res := range matches {
		seen[resourceKey{res.Type(), res.ID()}] = true
	}

	var included []fhir.Resource
	frontier := matches

	for pass := 0; pass < maxIncludePasses && len(frontier) > 0; pass++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var loaded []fhir.Resource

		for _, directive := range req.Includes {
			if pass > 0 && !directive.Iterate {
				continue
			}
			batch, err := e.loadIncludeTargets(ctx, directive, frontier, seen, project)
			if err != nil {
				return nil, err
			}
			loaded = append(loaded, batch...)
		}
		for _, directive := range req.RevIncludes {
			if pass > 0 && !directive.Iterate {
				continue
			}
			batch, err := e.loadRevIncludeSources(ctx, directive, frontier, seen, project)
			if err != nil {
				return nil, err
			}
			loaded = append(loaded, batch...)
		}

		included = append(included, loaded...)
		frontier = loaded
	}
	return included, nil
}

// loadIncludeTargets collects the reference targets named by one
// directive from the frontier resources and loads them grouped by type.
func (e *Engine) loadIncludeTargets(ctx context.Context, directive IncludeDirective, frontier []fhir.Resource, seen map[resourceKey]bool, project string) ([]fhir.Resource, error) {
	byType := make(map[string][]string)
	for _, res := range frontier {
		for _, target := range e.referenceTargets(res, directive) {
			if directive.Target != "" && target.resourceType != directive.Target {
				continue
			}
			key := resourceKey{target.resourceType, target.id}
			if seen[key] {
				continue
			}
			seen[key] = true
			byType[target.resourceType] = append(byType[target.resourceType], target.id)
		}
	}

	var out []fhir.Resource
	for resourceType, ids := range byType {
		if _, ok := e.registry.Profile(resourceType); !ok {
			continue
		}
		batch, err := e.loadByIDs(ctx, resourceType, ids, project)
		if err != nil {
			return nil, err
		}
		out = append(out, batch...)
	}
	return out, nil
}

// referenceTargets extracts the typed references a directive points at.
// Wildcard directives walk every reference property of the resource.
func (e *Engine) referenceTargets(res fhir.Resource, directive IncludeDirective) []refTarget {
	if directive.Wildcard {
		var out []refTarget
		collectReferences(map[string]interface{}(res), &out)
		return out
	}
	if res.Type() != directive.Source {
		return nil
	}
	impl, ok := e.registry.Impl(directive.Source, directive.Param)
	if !ok || impl.Type != "reference" {
		return nil
	}

	var out []refTarget
	for _, raw := range referenceStrings(res, impl.Expression) {
		if refType, id, ok := fhir.ParseReference(raw); ok && refType != "" {
			out = append(out, refTarget{refType, id})
		}
	}
	return out
}

// collectReferences walks a JSON tree gathering every "reference" value.
func collectReferences(node interface{}, out *[]refTarget) {
	switch v := node.(type) {
	case map[string]interface{}:
		for key, child := range v {
			if key == "reference" {
				if raw, ok := child.(string); ok {
					if refType, id, valid := fhir.ParseReference(raw); valid && refType != "" {
						*out = append(*out, refTarget{refType, id})
					}
				}
				continue
			}
			collectReferences(child, out)
		}
	case []interface{}:
		for _, item := range v {
			collectReferences(item, out)
		}
	}
}

// loadByIDs fetches live resources of one type by id.
func (e *Engine) loadByIDs(ctx context.Context, resourceType string, ids []string, project string) ([]fhir.Resource, error) {
	sql := fmt.Sprintf(
		`SELECT "content" FROM %s WHERE "id" = ANY($1) AND "deleted" = false`,
		schema.Quote(resourceType),
	)
	args := []interface{}{ids}
	if project != "" {
		sql += ` AND "projectId" = $2`
		args = append(args, project)
	}
	return e.queryResources(ctx, sql, args)
}

// loadRevIncludeSources loads resources of the directive's source type
// whose reference edges point at any frontier resource.
func (e *Engine) loadRevIncludeSources(ctx context.Context, directive IncludeDirective, frontier []fhir.Resource, seen map[resourceKey]bool, project string) ([]fhir.Resource, error) {
	if directive.Wildcard || directive.Source == "" {
		return nil, fhir.InvalidError("_revinclude requires Source:param form")
	}
	if _, ok := e.registry.Profile(directive.Source); !ok {
		return nil, fhir.InvalidError("unknown _revinclude source type %q", directive.Source)
	}

	var targetIDs []string
	for _, res := range frontier {
		if directive.Target != "" && res.Type() != directive.Target {
			continue
		}
		targetIDs = append(targetIDs, res.ID())
	}
	if len(targetIDs) == 0 {
		return nil, nil
	}

	sql := fmt.Sprintf(
		`SELECT s."content" FROM %s s JOIN %s r ON r."resourceId" = s."id" WHERE r."code" = $1 AND r."targetId" = ANY($2) AND s."deleted" = false`,
		schema.Quote(directive.Source), schema.Quote(directive.Source+"_References"),
	)
	args := []interface{}{directive.Param, targetIDs}
	if project != "" {
		sql += ` AND s."projectId" = $3`
		args = append(args, project)
	}

	loaded, err := e.queryResources(ctx, sql, args)
	if err != nil {
		return nil, err
	}

	var out []fhir.Resource
	for _, res := range loaded {
		key := resourceKey{res.Type(), res.ID()}
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, res)
	}
	return out, nil
}
