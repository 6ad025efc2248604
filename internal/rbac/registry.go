package rbac

import (
	"slices"
	"strings"
	"sync"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Registry is the catalog of governed resource types. It is built once at startup,
// sealed, and passed by reference to the service.
type Registry struct {
	mu     sync.RWMutex
	types  map[string]ResourceType
	order  []string
	owners map[string]string
	sealed bool
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		types:  make(map[string]ResourceType),
		owners: make(map[string]string),
	}
}

// Register adds a resource type. Registering an identical definition twice is a no-op.
func (r *Registry) Register(rt ResourceType) error {
	rt.Name = strings.ToLower(strings.TrimSpace(rt.Name))
	if rt.Name == "" {
		return validationError("resource type name required")
	}
	perms, invalid := normalizeCodes(rt.Permissions)
	if len(invalid) > 0 || len(perms) == 0 {
		return validationError("resource type %s requires permission codes", rt.Name)
	}
	rt.Permissions = orderedUnique(rt.Permissions)

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sealed {
		return ErrRegistrySealed
	}
	if existing, ok := r.types[rt.Name]; ok {
		if sameRegistration(existing, rt) {
			return nil
		}
		return &DuplicateRegistrationError{Type: rt.Name}
	}
	if rt.Parent != nil {
		if rt.Parent.Type == rt.Name {
			return ErrHierarchyCycle
		}
		if _, ok := r.types[rt.Parent.Type]; !ok {
			return &UnregisteredTypeError{Type: rt.Parent.Type}
		}
		if err := r.checkAcyclic(rt.Name, rt.Parent.Type); err != nil {
			return err
		}
	}
	for _, rel := range rt.Related {
		if _, ok := r.types[rel.Type]; !ok && rel.Type != rt.Name {
			return &UnregisteredTypeError{Type: rel.Type}
		}
	}
	for _, code := range rt.Permissions {
		if owner, ok := r.owners[code]; ok && owner != rt.Name {
			return &DuplicateRegistrationError{Type: rt.Name}
		}
	}
	for _, code := range rt.Permissions {
		r.owners[code] = rt.Name
	}
	r.types[rt.Name] = rt
	r.order = append(r.order, rt.Name)
	return nil
}

// checkAcyclic walks the parent chain from parent and fails when it reaches name.
func (r *Registry) checkAcyclic(name, parent string) error {
	seen := map[string]struct{}{}
	for cur := parent; cur != ""; {
		if cur == name {
			return ErrHierarchyCycle
		}
		if _, ok := seen[cur]; ok {
			return ErrHierarchyCycle
		}
		seen[cur] = struct{}{}
		next, ok := r.types[cur]
		if !ok || next.Parent == nil {
			return nil
		}
		cur = next.Parent.Type
	}
	return nil
}

// Seal forbids further registrations.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Type returns the registered resource type.
func (r *Registry) Type(name string) (ResourceType, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rt, ok := r.types[name]
	if !ok {
		return ResourceType{}, &UnregisteredTypeError{Type: name}
	}
	return rt, nil
}

// ResolveType maps a governed object to its resource type.
func (r *Registry) ResolveType(obj Object) (ResourceType, error) {
	if obj == nil {
		return ResourceType{}, &UnregisteredTypeError{}
	}
	return r.Type(obj.Ref().Type)
}

// PermissionsFor returns the ordered permission codes of a type.
func (r *Registry) PermissionsFor(name string) ([]string, error) {
	rt, err := r.Type(name)
	if err != nil {
		return nil, err
	}
	return slices.Clone(rt.Permissions), nil
}

// Types returns the registered type names in registration order.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clone(r.order)
}

// OwnerOf returns the type that registered code.
func (r *Registry) OwnerOf(code string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.owners[code]
	return owner, ok
}

// Code builds the <action>_<type> permission code and reports whether it is registered.
func (r *Registry) Code(typ, action string) (string, bool) {
	code := strings.ToLower(strings.TrimSpace(action)) + "_" + typ
	owner, ok := r.OwnerOf(code)
	return code, ok && owner == typ
}

// Ancestry returns the type chain from name up to its root, name first.
func (r *Registry) Ancestry(name string) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var chain []string
	for cur := name; cur != ""; {
		rt, ok := r.types[cur]
		if !ok {
			return nil, &UnregisteredTypeError{Type: cur}
		}
		chain = append(chain, cur)
		if rt.Parent == nil {
			break
		}
		cur = rt.Parent.Type
	}
	return chain, nil
}

// Depth is the longest ancestry among registered types. It bounds object walks.
func (r *Registry) Depth() int {
	depth := 0
	for _, name := range r.Types() {
		chain, err := r.Ancestry(name)
		if err == nil && len(chain) > depth {
			depth = len(chain)
		}
	}
	return depth
}

// ValidCodes returns the codes a definition scoped to contentType may carry.
// Global scope accepts every registered code.
func (r *Registry) ValidCodes(contentType string) (map[string]struct{}, error) {
	valid := make(map[string]struct{})
	if contentType == "" {
		r.mu.RLock()
		for code := range r.owners {
			valid[code] = struct{}{}
		}
		r.mu.RUnlock()
		return valid, nil
	}
	if _, err := r.Type(contentType); err != nil {
		return nil, err
	}
	for _, name := range r.Types() {
		chain, err := r.Ancestry(name)
		if err != nil {
			return nil, err
		}
		if !slices.Contains(chain, contentType) {
			continue
		}
		rt, _ := r.Type(name)
		for _, code := range rt.Permissions {
			valid[code] = struct{}{}
		}
	}
	return valid, nil
}

// DisplayName renders a type tag for humans, e.g. "inventory" -> "Inventory".
func DisplayName(typ string) string {
	return cases.Title(language.English).String(strings.ReplaceAll(typ, "_", " "))
}

func sameRegistration(a, b ResourceType) bool {
	if !slices.Equal(a.Permissions, b.Permissions) {
		return false
	}
	if (a.Parent == nil) != (b.Parent == nil) {
		return false
	}
	if a.Parent != nil && *a.Parent != *b.Parent {
		return false
	}
	return slices.Equal(a.Related, b.Related)
}

func orderedUnique(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := make([]string, 0, len(in))
	for _, raw := range in {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// normalizeCodes trims, lowercases, deduplicates and sorts codes. Codes containing
// whitespace are returned as invalid.
func normalizeCodes(in []string) ([]string, []string) {
	validSet := map[string]struct{}{}
	invalidSet := map[string]struct{}{}
	for _, raw := range in {
		p := strings.ToLower(strings.TrimSpace(raw))
		if p == "" {
			continue
		}
		if strings.ContainsAny(p, " \t\n") {
			invalidSet[p] = struct{}{}
			continue
		}
		validSet[p] = struct{}{}
	}
	valid := make([]string, 0, len(validSet))
	for p := range validSet {
		valid = append(valid, p)
	}
	slices.Sort(valid)
	invalid := make([]string, 0, len(invalidSet))
	for p := range invalidSet {
		invalid = append(invalid, p)
	}
	slices.Sort(invalid)
	return valid, invalid
}
