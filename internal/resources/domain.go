package resources

import (
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// Governed type tags.
const (
	TypeOrganization = "organization"
	TypeCredential   = "credential"
	TypeInventory    = "inventory"
	TypeCow          = "cow"
)

var (
	// ErrNotFound is returned for missing objects and for objects the caller may not view.
	ErrNotFound = fmt.Errorf("resources: %w", httpx.ErrNotFound)
)

// Resource is a governed object. Relations holds the IDs referenced by parent and
// related fields; a nil value means the field is null.
type Resource struct {
	ID        string
	Type      string
	Name      string
	Relations map[string]*string
	CreatedBy string
	CreatedAt time.Time
}

// Ref returns the object reference used by the permission evaluator.
func (r Resource) Ref() rbac.ObjectRef {
	return rbac.ObjectRef{Type: r.Type, ID: r.ID}
}

// Related returns the value of a relation field.
func (r Resource) Related(field string) *string {
	return r.Relations[field]
}

// MarshalJSON flattens relation fields next to the scalar attributes.
func (r Resource) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Relations)+4)
	for field, id := range r.Relations {
		out[field] = id
	}
	out["id"] = r.ID
	out["name"] = r.Name
	out["created_by"] = r.CreatedBy
	out["created"] = r.CreatedAt
	return json.Marshal(out)
}

func (r Resource) clone() Resource {
	r.Relations = maps.Clone(r.Relations)
	return r
}

// Input carries the writable attributes of a create or update. Absent relation fields
// are left unchanged; present ones with a nil ID are cleared.
type Input struct {
	Name      *string
	Relations map[string]*string
}

// FieldError reports a problem with one request field.
type FieldError struct {
	Field   string
	Message string
	Err     error
}

func (e *FieldError) Error() string {
	return e.Message
}

// FieldName returns the offending request field.
func (e *FieldError) FieldName() string {
	return e.Field
}

func (e *FieldError) Unwrap() error {
	return e.Err
}

func invalidField(field, message string) error {
	return &FieldError{Field: field, Message: message, Err: httpx.ErrValidation}
}

// IsNotFound reports whether err means the object is missing or hidden.
func IsNotFound(err error) bool {
	return errors.Is(err, httpx.ErrNotFound)
}
