package rbac

import "context"

// Store persists role definitions, assignments and the object parent index.
// Implementations must be safe for concurrent use and must make UpsertAssignment
// converge to a single row for identical (definition, subject, object) triples.
type Store interface {
	CreateDefinition(ctx context.Context, def RoleDefinition) (RoleDefinition, error)
	GetDefinition(ctx context.Context, id int64) (RoleDefinition, error)
	GetDefinitionByName(ctx context.Context, name string) (RoleDefinition, error)
	ListDefinitions(ctx context.Context) ([]RoleDefinition, error)
	// DeleteDefinition removes the definition and every assignment referencing it.
	DeleteDefinition(ctx context.Context, id int64) (affectedSubjects []string, err error)

	// UpsertAssignment inserts the assignment or returns the existing one.
	UpsertAssignment(ctx context.Context, a Assignment) (Assignment, bool, error)
	GetAssignment(ctx context.Context, id int64) (Assignment, error)
	// DeleteAssignment reports whether a row was removed.
	DeleteAssignment(ctx context.Context, id int64) (Assignment, bool, error)
	ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error)
	// Grants lists where subject holds code: one Grant per assignment, nil Object for global.
	Grants(ctx context.Context, subject, code string) ([]Grant, error)

	PutObject(ctx context.Context, ref ObjectRef, parent *ObjectRef) error
	// DeleteObject removes the object and assignments targeting it.
	DeleteObject(ctx context.Context, ref ObjectRef) (affectedSubjects []string, err error)
	// Parent returns the parent of ref, nil for roots. ErrNotFound when ref is unknown.
	Parent(ctx context.Context, ref ObjectRef) (*ObjectRef, error)
	Children(ctx context.Context, parentType string, parentIDs []string, childType string) ([]string, error)
	ObjectIDs(ctx context.Context, typ string) ([]string, error)
	// SweepDanglingAssignments deletes assignments whose target object is not indexed.
	SweepDanglingAssignments(ctx context.Context) (affectedSubjects []string, err error)
}
