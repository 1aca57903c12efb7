package repo

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fhirworks/fhirstore/internal/platform/fhir"
	"github.com/fhirworks/fhirstore/internal/platform/fhirpath"
	"github.com/fhirworks/fhirstore/internal/registry"
	"github.com/fhirworks/fhirstore/internal/schema"
)

// ColumnValue pairs a column name with its value; slices preserve the
// column order all the way into the generated SQL.
type ColumnValue struct {
	Name  string
	Value interface{}
}

// MainRow is the flattened form of a resource ready for the main table.
type MainRow struct {
	ID              string
	Content         string
	LastUpdated     time.Time
	Deleted         bool
	ProjectID       interface{} // uuid string or nil
	Version         int
	Source          interface{}
	Profiles        []string
	Compartments    []string
	SearchColumns   []ColumnValue
	HasCompartments bool // false for Binary
}

// Columns returns the full ordered column list for an upsert.
func (r *MainRow) Columns() ([]string, []interface{}) {
	names := []string{"id", "content", "lastUpdated", "deleted", "projectId", "__version", "_source", "_profile"}
	values := []interface{}{r.ID, r.Content, r.LastUpdated, r.Deleted, r.ProjectID, r.Version, r.Source, r.Profiles}
	if r.HasCompartments {
		names = append(names, "compartments")
		values = append(values, r.Compartments)
	}
	for _, cv := range r.SearchColumns {
		names = append(names, cv.Name)
		values = append(values, cv.Value)
	}
	return names, values
}

// HistoryRow is one append-only version record.
type HistoryRow struct {
	ID          string
	VersionID   string
	LastUpdated time.Time
	Content     string
}

// ReferenceRow is one outgoing-reference edge.
type ReferenceRow struct {
	ResourceID string
	TargetID   string
	Code       string
}

// LookupRow is one decomposed complex value destined for a global lookup
// table.
type LookupRow struct {
	Table   string
	Columns []ColumnValue
}

// BuildMainRow flattens a stamped resource into its main-table row: fixed
// columns, search columns per impl, and compartment membership.
func BuildMainRow(resource fhir.Resource, impls []*registry.Impl) (*MainRow, error) {
	if resource.ID() == "" {
		return nil, fmt.Errorf("resource has no id")
	}
	if resource.VersionID() == "" {
		return nil, fmt.Errorf("resource has not been stamped with a versionId")
	}
	content, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("serialize resource: %w", err)
	}

	row := &MainRow{
		ID:              resource.ID(),
		Content:         string(content),
		LastUpdated:     resource.LastUpdated(),
		Version:         schema.SchemaVersion,
		HasCompartments: resource.Type() != "Binary",
	}
	if s := resource.Source(); s != "" {
		row.Source = s
	}
	row.Profiles = resource.Profiles()
	if row.HasCompartments {
		row.Compartments = BuildCompartments(resource, impls)
	}

	for _, impl := range impls {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		value, err := columnValue(resource, impl)
		if err != nil {
			return nil, err
		}
		row.SearchColumns = append(row.SearchColumns, ColumnValue{Name: impl.ColumnName, Value: value})
	}
	return row, nil
}

// BuildDeletedRow is the main-table row for a soft delete: content cleared,
// no search values, the deleted schema version tag.
func BuildDeletedRow(resourceType, id string, lastUpdated time.Time, projectID interface{}, impls []*registry.Impl) *MainRow {
	row := &MainRow{
		ID:              id,
		Content:         "",
		LastUpdated:     lastUpdated,
		Deleted:         true,
		ProjectID:       projectID,
		Version:         schema.DeletedSchemaVersion,
		HasCompartments: resourceType != "Binary",
	}
	for _, impl := range impls {
		if impl.Strategy != registry.StrategyColumn && impl.Strategy != registry.StrategyTokenColumn {
			continue
		}
		row.SearchColumns = append(row.SearchColumns, ColumnValue{Name: impl.ColumnName, Value: nil})
	}
	return row
}

// BuildHistoryRow captures the current version of a resource for the
// append-only history table.
func BuildHistoryRow(resource fhir.Resource) (*HistoryRow, error) {
	if resource.ID() == "" || resource.VersionID() == "" {
		return nil, fmt.Errorf("resource must carry id and versionId")
	}
	content, err := json.Marshal(resource)
	if err != nil {
		return nil, fmt.Errorf("serialize resource: %w", err)
	}
	return &HistoryRow{
		ID:          resource.ID(),
		VersionID:   resource.VersionID(),
		LastUpdated: resource.LastUpdated(),
		Content:     string(content),
	}, nil
}

// BuildReferences extracts the outgoing-reference edges of a resource from
// its reference-type impls. Fragment and urn: references are skipped; rows
// are deduplicated.
func BuildReferences(resource fhir.Resource, impls []*registry.Impl) []ReferenceRow {
	seen := make(map[ReferenceRow]bool)
	var rows []ReferenceRow
	for _, impl := range impls {
		if impl.Type != "reference" {
			continue
		}
		for _, ref := range referenceStrings(resource, impl) {
			_, targetID, ok := fhir.ParseReference(ref)
			if !ok {
				continue
			}
			row := ReferenceRow{ResourceID: resource.ID(), TargetID: targetID, Code: impl.Code}
			if !seen[row] {
				seen[row] = true
				rows = append(rows, row)
			}
		}
	}
	return rows
}

// BuildCompartments computes Patient-compartment membership. A Patient is
// in its own compartment; other resources join the compartment of every
// syntactically valid Patient reference they carry. Binary resources have
// no compartment column at all.
func BuildCompartments(resource fhir.Resource, impls []*registry.Impl) []string {
	if resource.Type() == "Binary" {
		return nil
	}
	if resource.Type() == "Patient" {
		if _, err := uuid.Parse(resource.ID()); err != nil {
			return nil
		}
		return []string{resource.ID()}
	}

	seen := make(map[string]bool)
	var members []string
	for _, impl := range impls {
		if impl.Type != "reference" {
			continue
		}
		for _, ref := range referenceStrings(resource, impl) {
			refType, id, ok := fhir.ParseReference(ref)
			if !ok || refType != "Patient" {
				continue
			}
			if _, err := uuid.Parse(id); err != nil {
				continue
			}
			if !seen[id] {
				seen[id] = true
				members = append(members, id)
			}
		}
	}
	sort.Strings(members)
	return members
}

// BuildLookupRows decomposes a resource's complex values into the global
// lookup tables named by its lookup-strategy impls.
func BuildLookupRows(resource fhir.Resource, impls []*registry.Impl) []LookupRow {
	tables := make(map[string]bool)
	for _, impl := range impls {
		if impl.Strategy == registry.StrategyLookupTable {
			tables[impl.LookupTable] = true
		}
	}

	var rows []LookupRow
	shared := []ColumnValue{
		{Name: "resourceId", Value: resource.ID()},
		{Name: "resourceType", Value: resource.Type()},
	}

	if tables["HumanName"] {
		for _, v := range elementMaps(resource, "name") {
			rows = append(rows, LookupRow{Table: "HumanName", Columns: append(append([]ColumnValue{}, shared...),
				ColumnValue{Name: "name", Value: formatHumanName(v)},
				ColumnValue{Name: "family", Value: stringField(v, "family")},
				ColumnValue{Name: "given", Value: joinStrings(v["given"])},
			)})
		}
	}
	if tables["Address"] {
		for _, v := range elementMaps(resource, "address") {
			rows = append(rows, LookupRow{Table: "Address", Columns: append(append([]ColumnValue{}, shared...),
				ColumnValue{Name: "address", Value: formatAddress(v)},
				ColumnValue{Name: "city", Value: stringField(v, "city")},
				ColumnValue{Name: "state", Value: stringField(v, "state")},
				ColumnValue{Name: "postalCode", Value: stringField(v, "postalCode")},
				ColumnValue{Name: "country", Value: stringField(v, "country")},
				ColumnValue{Name: "use", Value: stringField(v, "use")},
			)})
		}
	}
	if tables["ContactPoint"] {
		for _, v := range elementMaps(resource, "telecom") {
			rows = append(rows, LookupRow{Table: "ContactPoint", Columns: append(append([]ColumnValue{}, shared...),
				ColumnValue{Name: "system", Value: stringField(v, "system")},
				ColumnValue{Name: "value", Value: stringField(v, "value")},
			)})
		}
	}
	if tables["Identifier"] {
		for _, v := range elementMaps(resource, "identifier") {
			rows = append(rows, LookupRow{Table: "Identifier", Columns: append(append([]ColumnValue{}, shared...),
				ColumnValue{Name: "system", Value: stringField(v, "system")},
				ColumnValue{Name: "value", Value: stringField(v, "value")},
			)})
		}
	}
	return rows
}

// ============================================================================
// Value extraction
// ============================================================================

// columnValue extracts and coerces the value(s) for one column impl.
// Scalar columns take the first extracted value; array columns take all.
func columnValue(resource fhir.Resource, impl *registry.Impl) (interface{}, error) {
	raw := extractValues(resource, impl.Expression)

	if impl.Array {
		var out []string
		for _, v := range raw {
			out = append(out, tokenForms(v, impl.Type)...)
		}
		if out == nil {
			return nil, nil
		}
		return out, nil
	}

	if len(raw) == 0 {
		return nil, nil
	}
	return coerce(raw[0], impl)
}

// extractValues walks a resource along a FHIRPath expression. Plain
// dotted paths are walked directly (with array fan-out and choice-type
// probing); anything richer goes through the FHIRPath engine.
func extractValues(resource fhir.Resource, expression string) []interface{} {
	path := strings.TrimPrefix(expression, resource.Type()+".")
	if isSimplePath(path) {
		return walkPath(map[string]interface{}(resource), strings.Split(path, "."))
	}
	result, err := fhirpath.Evaluate(resource, expression)
	if err != nil {
		return nil
	}
	var out []interface{}
	for _, tv := range result {
		out = append(out, tv.Value)
	}
	return out
}

func isSimplePath(path string) bool {
	return path != "" && !strings.ContainsAny(path, "(|[ ")
}

// choiceSuffixes is the probe order for value[x] elements.
var choiceSuffixes = []string{
	"Quantity", "CodeableConcept", "String", "Boolean", "Integer", "Decimal",
	"DateTime", "Date", "Period", "Range", "Ratio", "Reference", "Time",
}

// walkPath descends segment by segment, expanding across arrays whenever
// segments remain, and probing value[x] choice suffixes on a miss.
func walkPath(node interface{}, segments []string) []interface{} {
	if len(segments) == 0 {
		if arr, ok := node.([]interface{}); ok {
			return arr
		}
		return []interface{}{node}
	}

	switch v := node.(type) {
	case []interface{}:
		var out []interface{}
		for _, item := range v {
			out = append(out, walkPath(item, segments)...)
		}
		return out
	case map[string]interface{}:
		field := segments[0]
		child, ok := v[field]
		if !ok {
			for _, suffix := range choiceSuffixes {
				if c, found := v[field+suffix]; found {
					child = c
					ok = true
					break
				}
			}
		}
		if !ok {
			return nil
		}
		return walkPath(child, segments[1:])
	}
	return nil
}

// coerce converts an extracted value to the column's SQL type.
func coerce(v interface{}, impl *registry.Impl) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	switch impl.ColumnType {
	case "TIMESTAMPTZ":
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("column %s: expected date string, got %T", impl.ColumnName, v)
		}
		t, err := ParseFlexTime(s)
		if err != nil {
			return nil, nil // unindexable partial value, not an error
		}
		return t, nil
	case "NUMERIC", "DOUBLE PRECISION":
		switch n := v.(type) {
		case float64:
			return n, nil
		case int64:
			return float64(n), nil
		case string:
			return nil, nil
		}
		return nil, nil
	default:
		forms := tokenForms(v, impl.Type)
		if len(forms) == 0 {
			return nil, nil
		}
		// Scalar token columns keep the system-qualified form when one
		// exists so system|code searches stay answerable.
		return forms[len(forms)-1], nil
	}
}

// tokenForms renders a value as its searchable string form(s). Codeable
// concepts contribute both the bare code and the system-qualified form;
// references contribute the tail id.
func tokenForms(v interface{}, searchType string) []string {
	switch val := v.(type) {
	case string:
		return []string{val}
	case bool:
		return []string{fmt.Sprintf("%t", val)}
	case float64:
		return []string{trimFloat(val)}
	case map[string]interface{}:
		if searchType == "reference" {
			if ref, ok := val["reference"].(string); ok {
				if _, id, ok := fhir.ParseReference(ref); ok {
					return []string{id}
				}
			}
			return nil
		}
		// CodeableConcept: each coding yields code and system|code.
		if codings, ok := val["coding"].([]interface{}); ok {
			var out []string
			for _, c := range codings {
				coding, ok := c.(map[string]interface{})
				if !ok {
					continue
				}
				code, _ := coding["code"].(string)
				system, _ := coding["system"].(string)
				if code == "" {
					continue
				}
				out = append(out, code)
				if system != "" {
					out = append(out, system+"|"+code)
				}
			}
			return out
		}
		// Coding without a wrapping concept.
		if code, ok := val["code"].(string); ok {
			system, _ := val["system"].(string)
			if system != "" {
				return []string{code, system + "|" + code}
			}
			return []string{code}
		}
		if value, ok := val["value"].(string); ok {
			return []string{value}
		}
	}
	return nil
}

func trimFloat(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}

// ParseFlexTime parses the date precisions FHIR allows.
func ParseFlexTime(s string) (time.Time, error) {
	formats := []string{
		time.RFC3339Nano,
		time.RFC3339,
		"2006-01-02T15:04:05",
		"2006-01-02",
		"2006-01",
		"2006",
	}
	for _, f := range formats {
		if t, err := time.Parse(f, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}

// ============================================================================
// Lookup decomposition helpers
// ============================================================================

func elementMaps(resource fhir.Resource, field string) []map[string]interface{} {
	arr, ok := resource[field].([]interface{})
	if !ok {
		if m, isMap := resource[field].(map[string]interface{}); isMap {
			return []map[string]interface{}{m}
		}
		return nil
	}
	var out []map[string]interface{}
	for _, item := range arr {
		if m, isMap := item.(map[string]interface{}); isMap {
			out = append(out, m)
		}
	}
	return out
}

func stringField(m map[string]interface{}, field string) interface{} {
	if s, ok := m[field].(string); ok && s != "" {
		return s
	}
	return nil
}

func joinStrings(v interface{}) interface{} {
	arr, ok := v.([]interface{})
	if !ok {
		return nil
	}
	var parts []string
	for _, item := range arr {
		if s, isStr := item.(string); isStr {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return nil
	}
	return strings.Join(parts, " ")
}

func formatHumanName(name map[string]interface{}) interface{} {
	var parts []string
	if given := joinStrings(name["given"]); given != nil {
		parts = append(parts, given.(string))
	}
	if family, ok := name["family"].(string); ok && family != "" {
		parts = append(parts, family)
	}
	if len(parts) == 0 {
		if text, ok := name["text"].(string); ok && text != "" {
			return text
		}
		return nil
	}
	return strings.Join(parts, " ")
}

func formatAddress(addr map[string]interface{}) interface{} {
	var parts []string
	if lines, ok := addr["line"].([]interface{}); ok {
		for _, l := range lines {
			if s, isStr := l.(string); isStr {
				parts = append(parts, s)
			}
		}
	}
	for _, f := range []string{"city", "state", "postalCode", "country"} {
		if s, ok := addr[f].(string); ok && s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		if text, ok := addr["text"].(string); ok && text != "" {
			return text
		}
		return nil
	}
	return strings.Join(parts, ", ")
}

// referenceStrings pulls the raw reference strings an impl's expression
// points at, accepting both Reference objects and bare strings.
func referenceStrings(resource fhir.Resource, impl *registry.Impl) []string {
	var out []string
	for _, v := range extractValues(resource, impl.Expression) {
		switch val := v.(type) {
		case string:
			out = append(out, val)
		case map[string]interface{}:
			if ref, ok := val["reference"].(string); ok {
				out = append(out, ref)
			}
		}
	}
	return out
}
