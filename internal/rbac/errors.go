package rbac

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record does not exist.
	ErrNotFound = errors.New("rbac: not found")
	// ErrValidation indicates malformed input to a management operation.
	ErrValidation = errors.New("rbac: validation failed")
	// ErrHierarchyCycle indicates a parent relation that would loop.
	ErrHierarchyCycle = errors.New("rbac: parent relations must form a DAG")
	// ErrRegistrySealed indicates a registration after startup completed.
	ErrRegistrySealed = errors.New("rbac: registry sealed")
)

// UnregisteredTypeError reports a resource type that was never registered.
type UnregisteredTypeError struct {
	Type string
}

func (e *UnregisteredTypeError) Error() string {
	return fmt.Sprintf("rbac: resource type %q is not registered", e.Type)
}

// DuplicateRegistrationError reports a conflicting second registration of a type.
type DuplicateRegistrationError struct {
	Type string
}

func (e *DuplicateRegistrationError) Error() string {
	return fmt.Sprintf("rbac: resource type %q already registered with a different definition", e.Type)
}

// InvalidPermissionError lists permission codes that are not valid for the requested scope.
type InvalidPermissionError struct {
	Codes       []string
	ContentType string
}

func (e *InvalidPermissionError) Error() string {
	scope := "global scope"
	if e.ContentType != "" {
		scope = "type " + e.ContentType
	}
	return fmt.Sprintf("rbac: permissions not valid for %s: %s", scope, strings.Join(e.Codes, ", "))
}

// ScopeMismatchError reports an assignment whose target does not match the definition scope.
type ScopeMismatchError struct {
	DefinitionType string
	TargetType     string
}

func (e *ScopeMismatchError) Error() string {
	def := e.DefinitionType
	if def == "" {
		def = "global"
	}
	target := e.TargetType
	if target == "" {
		target = "global"
	}
	return fmt.Sprintf("rbac: role definition for %s can not be assigned to %s", def, target)
}

// NotGlobalDefinitionError reports a global grant of a type-scoped definition.
type NotGlobalDefinitionError struct {
	Definition  string
	ContentType string
}

func (e *NotGlobalDefinitionError) Error() string {
	return fmt.Sprintf("rbac: role definition %q is scoped to %s and can not be given globally", e.Definition, e.ContentType)
}

// DuplicateNameError reports a role definition name that already exists.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("rbac: role definition %q already exists", e.Name)
}

// RelatedPermissionDeniedError identifies the field whose referenced object the subject may not use.
type RelatedPermissionDeniedError struct {
	Field      string
	Permission string
}

func (e *RelatedPermissionDeniedError) Error() string {
	return fmt.Sprintf("rbac: %s permission required on related %s", e.Permission, e.Field)
}

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// FieldName returns the request field that triggered the denial.
func (e *RelatedPermissionDeniedError) FieldName() string {
	return e.Field
}
