package fhir

import (
	"fmt"
	"strings"
)

// ValidationIssue is a single finding from resource validation.
type ValidationIssue struct {
	Severity    string `json:"severity"`
	Code        string `json:"code"`
	Diagnostics string `json:"diagnostics,omitempty"`
	Location    string `json:"location,omitempty"`
}

// ValidationResult is the outcome of validating one resource.
type ValidationResult struct {
	Valid  bool
	Issues []ValidationIssue
}

// Validator is the contract the repository accepts for pre-write validation.
// Any issue with severity "error" or "fatal" aborts the write. Full profile
// validation is an external collaborator; implementations plugged in here
// may be as strict or lax as the deployment requires.
type Validator interface {
	Validate(resource Resource) ValidationResult
}

// BasicValidator checks structural preconditions the repository itself
// depends on: a resourceType, a plausible id, and no client-supplied fields
// of the wrong JSON shape in meta.
type BasicValidator struct{}

func (BasicValidator) Validate(resource Resource) ValidationResult {
	var issues []ValidationIssue

	if resource == nil {
		return ValidationResult{Issues: []ValidationIssue{{
			Severity: "error", Code: "structure", Diagnostics: "resource is empty",
		}}}
	}
	if resource.Type() == "" {
		issues = append(issues, ValidationIssue{
			Severity: "error", Code: "required",
			Diagnostics: "resourceType is required", Location: "resourceType",
		})
	} else if !validResourceTypeName(resource.Type()) {
		issues = append(issues, ValidationIssue{
			Severity: "error", Code: "value",
			Diagnostics: fmt.Sprintf("invalid resourceType %q", resource.Type()), Location: "resourceType",
		})
	}
	if id, ok := resource["id"]; ok {
		if s, isStr := id.(string); !isStr || s == "" {
			issues = append(issues, ValidationIssue{
				Severity: "error", Code: "value",
				Diagnostics: "id must be a non-empty string", Location: "id",
			})
		}
	}
	if meta, ok := resource["meta"]; ok {
		if _, isMap := meta.(map[string]interface{}); !isMap {
			issues = append(issues, ValidationIssue{
				Severity: "error", Code: "structure",
				Diagnostics: "meta must be an object", Location: "meta",
			})
		}
	}

	return ValidationResult{Valid: !hasErrorIssue(issues), Issues: issues}
}

func hasErrorIssue(issues []ValidationIssue) bool {
	for _, i := range issues {
		if i.Severity == "error" || i.Severity == "fatal" {
			return true
		}
	}
	return false
}

func validResourceTypeName(name string) bool {
	if name == "" || name[0] < 'A' || name[0] > 'Z' {
		return false
	}
	return !strings.ContainsAny(name, " /\\.?#")
}
