package registry

import (
	"fmt"
	"sort"
	"sync"
)

// CanonicalProfile is the slice of a StructureDefinition that schema
// generation depends on: the type name, its kind, and whether it is
// abstract. Tables are generated only for concrete resource profiles.
type CanonicalProfile struct {
	URL         string
	Type        string
	Kind        string // resource, complex-type, primitive-type, logical
	Abstract    bool
	Description string
}

// SearchParameter carries the FHIR-spec fields of a SearchParameter
// definition before resolution into per-resource-type impls.
type SearchParameter struct {
	Code       string
	Type       string // number, date, string, token, reference, composite, quantity, uri, special
	Expression string
	Base       []string
	Target     []string
}

type implKey struct {
	resourceType string
	code         string
}

// Registry is the in-memory index of profiles (by type) and resolved
// search parameter impls (by resourceType and code). It is mutable during
// boot and immutable after Freeze.
type Registry struct {
	mu       sync.RWMutex
	frozen   bool
	profiles map[string]*CanonicalProfile
	impls    map[implKey]*Impl
	byType   map[string][]*Impl
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		profiles: make(map[string]*CanonicalProfile),
		impls:    make(map[implKey]*Impl),
		byType:   make(map[string][]*Impl),
	}
}

// NewWithBase creates a Registry pre-loaded with the built-in base R4
// profiles and search parameters.
func NewWithBase() *Registry {
	r := New()
	seedBase(r)
	return r
}

// RegisterProfile indexes a profile by its type. Registering the same type
// twice replaces the earlier entry: latest indexing wins.
func (r *Registry) RegisterProfile(p *CanonicalProfile) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	if p.Type == "" {
		return fmt.Errorf("profile has no type")
	}
	cp := *p
	r.profiles[p.Type] = &cp
	return nil
}

// RegisterSearchParameter resolves a SearchParameter into one Impl per base
// resource type and indexes each by (resourceType, code).
func (r *Registry) RegisterSearchParameter(sp *SearchParameter) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("registry is frozen")
	}
	if sp.Code == "" {
		return fmt.Errorf("search parameter has no code")
	}
	if !validSearchParamTypes[sp.Type] {
		return fmt.Errorf("search parameter %q has invalid type %q", sp.Code, sp.Type)
	}
	for _, base := range sp.Base {
		impl := resolveImpl(base, sp)
		key := implKey{resourceType: base, code: sp.Code}
		if prev, ok := r.impls[key]; ok {
			// Replace in the per-type slice as well.
			for i, existing := range r.byType[base] {
				if existing == prev {
					r.byType[base][i] = impl
					break
				}
			}
			r.impls[key] = impl
			continue
		}
		r.impls[key] = impl
		r.byType[base] = append(r.byType[base], impl)
	}
	return nil
}

// Freeze marks the registry immutable. Further registrations fail.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, impls := range r.byType {
		sort.Slice(impls, func(i, j int) bool { return impls[i].Code < impls[j].Code })
	}
	r.frozen = true
}

// Frozen reports whether the registry has been frozen.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Profile returns the profile registered for a type.
func (r *Registry) Profile(resourceType string) (*CanonicalProfile, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.profiles[resourceType]
	return p, ok
}

// Impl returns the resolved impl for (resourceType, code).
func (r *Registry) Impl(resourceType, code string) (*Impl, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	impl, ok := r.impls[implKey{resourceType: resourceType, code: code}]
	return impl, ok
}

// Impls returns all impls for a resource type, sorted by code once frozen.
func (r *Registry) Impls(resourceType string) []*Impl {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.byType[resourceType]
}

// TableResourceTypes returns the sorted resource types that get their own
// table set: concrete (non-abstract) profiles of kind "resource".
func (r *Registry) TableResourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var types []string
	for _, p := range r.profiles {
		if p.Kind == "resource" && !p.Abstract {
			types = append(types, p.Type)
		}
	}
	sort.Strings(types)
	return types
}

var validSearchParamTypes = map[string]bool{
	"number":    true,
	"date":      true,
	"string":    true,
	"token":     true,
	"reference": true,
	"composite": true,
	"quantity":  true,
	"uri":       true,
	"special":   true,
}
