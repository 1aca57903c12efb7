package fhir

import (
	"encoding/json"
	"fmt"
	"time"
)

// Resource is the generic representation of a FHIR resource: an opaque JSON
// document constrained by external StructureDefinitions. The persistence
// layer never maps resources onto static structs.
type Resource map[string]interface{}

// ParseResource decodes raw JSON into a Resource and checks that a
// resourceType is present.
func ParseResource(body []byte) (Resource, error) {
	var res Resource
	if err := json.Unmarshal(body, &res); err != nil {
		return nil, fmt.Errorf("invalid JSON: %w", err)
	}
	if res.Type() == "" {
		return nil, fmt.Errorf("resource is missing resourceType")
	}
	return res, nil
}

// Type returns the resourceType field, or "" when absent.
func (r Resource) Type() string {
	t, _ := r["resourceType"].(string)
	return t
}

// ID returns the logical id, or "" when absent.
func (r Resource) ID() string {
	id, _ := r["id"].(string)
	return id
}

// SetID sets the logical id.
func (r Resource) SetID(id string) { r["id"] = id }

// Meta returns the meta block, creating it when absent.
func (r Resource) Meta() map[string]interface{} {
	if m, ok := r["meta"].(map[string]interface{}); ok {
		return m
	}
	m := map[string]interface{}{}
	r["meta"] = m
	return m
}

// VersionID returns meta.versionId, or "" when absent.
func (r Resource) VersionID() string {
	m, ok := r["meta"].(map[string]interface{})
	if !ok {
		return ""
	}
	v, _ := m["versionId"].(string)
	return v
}

// LastUpdated returns meta.lastUpdated parsed as RFC3339, or the zero time.
func (r Resource) LastUpdated() time.Time {
	m, ok := r["meta"].(map[string]interface{})
	if !ok {
		return time.Time{}
	}
	s, _ := m["lastUpdated"].(string)
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Stamp replaces meta.versionId and meta.lastUpdated. The server always owns
// both fields; client-supplied values are discarded.
func (r Resource) Stamp(versionID string, lastUpdated time.Time) {
	m := r.Meta()
	m["versionId"] = versionID
	m["lastUpdated"] = lastUpdated.UTC().Format(time.RFC3339Nano)
}

// Source returns meta.source, or "" when absent.
func (r Resource) Source() string {
	m, ok := r["meta"].(map[string]interface{})
	if !ok {
		return ""
	}
	s, _ := m["source"].(string)
	return s
}

// Profiles returns meta.profile as a string slice.
func (r Resource) Profiles() []string {
	m, ok := r["meta"].(map[string]interface{})
	if !ok {
		return nil
	}
	arr, ok := m["profile"].([]interface{})
	if !ok {
		return nil
	}
	var out []string
	for _, p := range arr {
		if s, ok := p.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a deep copy of the resource.
func (r Resource) Clone() Resource {
	return Resource(deepCopyMap(r))
}

func deepCopyMap(m map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = deepCopyValue(v)
	}
	return out
}

func deepCopyValue(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		return deepCopyMap(val)
	case []interface{}:
		arr := make([]interface{}, len(val))
		for i, item := range val {
			arr[i] = deepCopyValue(item)
		}
		return arr
	default:
		return val
	}
}

// ParseReference splits a reference string such as "Patient/123" into its
// resource type and id. Fragment ("#...") and urn: references yield ok=false:
// they never resolve to a stored row.
func ParseReference(ref string) (resourceType, id string, ok bool) {
	if ref == "" || ref[0] == '#' {
		return "", "", false
	}
	if len(ref) >= 4 && ref[:4] == "urn:" {
		return "", "", false
	}
	last := -1
	prev := -1
	for i := 0; i < len(ref); i++ {
		if ref[i] == '/' {
			prev = last
			last = i
		}
	}
	if last < 0 {
		return "", ref, true
	}
	id = ref[last+1:]
	start := 0
	if prev >= 0 {
		start = prev + 1
	}
	resourceType = ref[start:last]
	if id == "" {
		return "", "", false
	}
	return resourceType, id, true
}
