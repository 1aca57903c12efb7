package server

import (
	"time"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
)

var resourceInteractions = []string{
	"read", "vread", "update", "delete", "create",
	"search-type", "history-instance", "history-type",
}

// capability renders the CapabilityStatement from the frozen registry, so
// /metadata reflects exactly the types and parameters the schema carries.
func (s *Server) capability() fhir.Resource {
	reg := s.repo.Registry()

	var resources []interface{}
	for _, resourceType := range reg.TableResourceTypes() {
		var searchParams []interface{}
		for _, impl := range reg.Impls(resourceType) {
			searchParams = append(searchParams, map[string]interface{}{
				"name": impl.Code,
				"type": impl.Type,
			})
		}

		var interactions []interface{}
		for _, code := range resourceInteractions {
			interactions = append(interactions, map[string]interface{}{"code": code})
		}

		entry := map[string]interface{}{
			"type":        resourceType,
			"versioning":  "versioned",
			"readHistory": true,
			"interaction": interactions,
		}
		if searchParams != nil {
			entry["searchParam"] = searchParams
		}
		resources = append(resources, entry)
	}

	return fhir.Resource{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format(time.RFC3339),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []interface{}{"application/fhir+json"},
		"software": map[string]interface{}{
			"name":    "fhirstore",
			"version": s.version,
		},
		"implementation": map[string]interface{}{
			"description": "FHIR R4 persistence and query engine",
			"url":         s.baseURL,
		},
		"rest": []interface{}{
			map[string]interface{}{
				"mode":     "server",
				"resource": resources,
				"interaction": []interface{}{
					map[string]interface{}{"code": "transaction"},
					map[string]interface{}{"code": "batch"},
				},
			},
		},
	}
}
