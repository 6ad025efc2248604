package rbac

import (
	"strings"
	"time"
)

// ObjectRef identifies a governed object by its registered type tag and ID.
type ObjectRef struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String renders the reference as type:id.
func (o ObjectRef) String() string {
	return o.Type + ":" + o.ID
}

// Ref lets a bare reference stand in for the object it names.
func (o ObjectRef) Ref() ObjectRef {
	return o
}

// IsZero reports whether the reference is empty.
func (o ObjectRef) IsZero() bool {
	return o.Type == "" && o.ID == ""
}

// Ref is a convenience constructor for ObjectRef pointers.
func Ref(typ, id string) *ObjectRef {
	return &ObjectRef{Type: typ, ID: id}
}

// Object is implemented by models governed by the registry.
type Object interface {
	Ref() ObjectRef
}

// ParentRelation declares the field linking a resource to its parent resource.
type ParentRelation struct {
	Field string
	Type  string
}

// RelatedField declares a non-parent reference to another governed resource.
type RelatedField struct {
	Field string
	Type  string
}

// ResourceType describes a registered model kind.
type ResourceType struct {
	Name        string
	Permissions []string
	Parent      *ParentRelation
	Related     []RelatedField
}

// RelatedType returns the type referenced by field, or false when the field is not governed.
func (rt ResourceType) RelatedType(field string) (string, bool) {
	if rt.Parent != nil && rt.Parent.Field == field {
		return rt.Parent.Type, true
	}
	for _, rel := range rt.Related {
		if rel.Field == field {
			return rel.Type, true
		}
	}
	return "", false
}

// IsParentField reports whether field is the parent relation.
func (rt ResourceType) IsParentField(field string) bool {
	return rt.Parent != nil && rt.Parent.Field == field
}

// RoleDefinition is a named bundle of permission codes scoped to a resource type.
// An empty ContentType means global scope.
type RoleDefinition struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type,omitempty"`
	Permissions []string  `json:"permissions"`
	CreatedAt   time.Time `json:"created"`
}

// IsGlobal reports whether the definition is not bound to a resource type.
func (d RoleDefinition) IsGlobal() bool {
	return d.ContentType == ""
}

// Includes reports whether the definition grants code.
func (d RoleDefinition) Includes(code string) bool {
	for _, p := range d.Permissions {
		if p == code {
			return true
		}
	}
	return false
}

// Assignment binds a role definition to a subject, on an object or globally.
type Assignment struct {
	ID           int64      `json:"id"`
	DefinitionID int64      `json:"role_definition"`
	Subject      string     `json:"user"`
	Object       *ObjectRef `json:"object,omitempty"`
	CreatedAt    time.Time  `json:"created"`
}

// IsGlobal reports whether the assignment has no target object.
func (a Assignment) IsGlobal() bool {
	return a.Object == nil
}

// AssignmentFilter narrows assignment listings. Zero values match everything.
type AssignmentFilter struct {
	DefinitionID int64
	Subject      string
	Object       *ObjectRef
}

// Subject is the actor of a permission query.
type Subject struct {
	ID        string
	Superuser bool
}

// Anonymous is the unauthenticated subject. It never holds any permission.
var Anonymous = Subject{}

// IsAnonymous reports whether the subject is unauthenticated.
func (s Subject) IsAnonymous() bool {
	return strings.TrimSpace(s.ID) == ""
}

// Grant is a single evaluation fact: a subject holds a code on an object, or globally when
// Object is nil.
type Grant struct {
	Object *ObjectRef
}
