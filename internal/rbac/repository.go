package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	platformdb "github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
)

const uniqueViolation = "23505"

// Repository is the PostgreSQL-backed Store. Global assignments are stored with empty
// object columns so the unique index covers them.
type Repository struct {
	pool *pgxpool.Pool
}

var _ Store = (*Repository)(nil)

// NewRepository constructs a Repository backed by the provided pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) CreateDefinition(ctx context.Context, def RoleDefinition) (RoleDefinition, error) {
	row := r.pool.QueryRow(ctx, `INSERT INTO rbac_role_definitions (name, content_type, permissions)
VALUES ($1, $2, $3)
RETURNING id, name, content_type, permissions, created_at`, def.Name, def.ContentType, def.Permissions)
	out, err := scanDefinition(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return RoleDefinition{}, &DuplicateNameError{Name: def.Name}
		}
		return RoleDefinition{}, fmt.Errorf("rbac: create definition: %w", err)
	}
	return out, nil
}

func (r *Repository) GetDefinition(ctx context.Context, id int64) (RoleDefinition, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, content_type, permissions, created_at FROM rbac_role_definitions WHERE id = $1`, id)
	return notFound(scanDefinition(row))
}

func (r *Repository) GetDefinitionByName(ctx context.Context, name string) (RoleDefinition, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, name, content_type, permissions, created_at FROM rbac_role_definitions WHERE name = $1`, name)
	return notFound(scanDefinition(row))
}

func (r *Repository) ListDefinitions(ctx context.Context) ([]RoleDefinition, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, content_type, permissions, created_at FROM rbac_role_definitions ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var defs []RoleDefinition
	for rows.Next() {
		def, err := scanDefinition(rows)
		if err != nil {
			return nil, err
		}
		defs = append(defs, def)
	}
	return defs, rows.Err()
}

func (r *Repository) DeleteDefinition(ctx context.Context, id int64) ([]string, error) {
	var subjects []string
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		subjects, err = collectSubjects(ctx, tx, `DELETE FROM rbac_role_assignments WHERE definition_id = $1 RETURNING subject`, id)
		if err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `DELETE FROM rbac_role_definitions WHERE id = $1`, id)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return uniqueSorted(subjects), nil
}

func (r *Repository) UpsertAssignment(ctx context.Context, a Assignment) (Assignment, bool, error) {
	objType, objID := objectColumns(a.Object)
	row := r.pool.QueryRow(ctx, `INSERT INTO rbac_role_assignments (definition_id, subject, object_type, object_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (definition_id, subject, object_type, object_id) DO NOTHING
RETURNING id, definition_id, subject, object_type, object_id, created_at`, a.DefinitionID, a.Subject, objType, objID)
	created, err := scanAssignment(row)
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23503" {
			return Assignment{}, false, ErrNotFound
		}
		return Assignment{}, false, fmt.Errorf("rbac: insert assignment: %w", err)
	}
	row = r.pool.QueryRow(ctx, `SELECT id, definition_id, subject, object_type, object_id, created_at
FROM rbac_role_assignments
WHERE definition_id = $1 AND subject = $2 AND object_type = $3 AND object_id = $4`, a.DefinitionID, a.Subject, objType, objID)
	existing, err := scanAssignment(row)
	if err != nil {
		return Assignment{}, false, fmt.Errorf("rbac: load existing assignment: %w", err)
	}
	return existing, false, nil
}

func (r *Repository) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	row := r.pool.QueryRow(ctx, `SELECT id, definition_id, subject, object_type, object_id, created_at FROM rbac_role_assignments WHERE id = $1`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, ErrNotFound
	}
	return a, err
}

func (r *Repository) DeleteAssignment(ctx context.Context, id int64) (Assignment, bool, error) {
	row := r.pool.QueryRow(ctx, `DELETE FROM rbac_role_assignments WHERE id = $1
RETURNING id, definition_id, subject, object_type, object_id, created_at`, id)
	a, err := scanAssignment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, false, nil
	}
	if err != nil {
		return Assignment{}, false, err
	}
	return a, true, nil
}

func (r *Repository) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	objType, objID := objectColumns(filter.Object)
	rows, err := r.pool.Query(ctx, `SELECT id, definition_id, subject, object_type, object_id, created_at
FROM rbac_role_assignments
WHERE ($1::bigint = 0 OR definition_id = $1::bigint)
  AND ($2::text = '' OR subject = $2::text)
  AND ($3::text = '' OR (object_type = $3::text AND object_id = $4::text))
ORDER BY id`, filter.DefinitionID, filter.Subject, objType, objID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *Repository) Grants(ctx context.Context, subject, code string) ([]Grant, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.object_type, a.object_id
FROM rbac_role_assignments a
JOIN rbac_role_definitions d ON d.id = a.definition_id
WHERE a.subject = $1 AND $2 = ANY(d.permissions)`, subject, code)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var grants []Grant
	for rows.Next() {
		var objType, objID string
		if err := rows.Scan(&objType, &objID); err != nil {
			return nil, err
		}
		grants = append(grants, Grant{Object: objectFromColumns(objType, objID)})
	}
	return grants, rows.Err()
}

func (r *Repository) PutObject(ctx context.Context, ref ObjectRef, parent *ObjectRef) error {
	parentType, parentID := objectColumns(parent)
	_, err := r.pool.Exec(ctx, `INSERT INTO rbac_objects (object_type, object_id, parent_type, parent_id)
VALUES ($1, $2, $3, $4)
ON CONFLICT (object_type, object_id) DO UPDATE SET parent_type = EXCLUDED.parent_type, parent_id = EXCLUDED.parent_id`,
		ref.Type, ref.ID, parentType, parentID)
	return err
}

func (r *Repository) DeleteObject(ctx context.Context, ref ObjectRef) ([]string, error) {
	var subjects []string
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		subjects, err = collectSubjects(ctx, tx, `DELETE FROM rbac_role_assignments WHERE object_type = $1 AND object_id = $2 RETURNING subject`, ref.Type, ref.ID)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `DELETE FROM rbac_objects WHERE object_type = $1 AND object_id = $2`, ref.Type, ref.ID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return uniqueSorted(subjects), nil
}

func (r *Repository) Parent(ctx context.Context, ref ObjectRef) (*ObjectRef, error) {
	var parentType, parentID string
	err := r.pool.QueryRow(ctx, `SELECT parent_type, parent_id FROM rbac_objects WHERE object_type = $1 AND object_id = $2`, ref.Type, ref.ID).Scan(&parentType, &parentID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return objectFromColumns(parentType, parentID), nil
}

func (r *Repository) Children(ctx context.Context, parentType string, parentIDs []string, childType string) ([]string, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT object_id FROM rbac_objects
WHERE object_type = $1 AND parent_type = $2 AND parent_id = ANY($3)
ORDER BY object_id`, childType, parentType, parentIDs)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) ObjectIDs(ctx context.Context, typ string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT object_id FROM rbac_objects WHERE object_type = $1 ORDER BY object_id`, typ)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func (r *Repository) SweepDanglingAssignments(ctx context.Context) ([]string, error) {
	var subjects []string
	err := platformdb.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var err error
		subjects, err = collectSubjects(ctx, tx, `DELETE FROM rbac_role_assignments a
WHERE a.object_type <> ''
  AND NOT EXISTS (
    SELECT 1 FROM rbac_objects o WHERE o.object_type = a.object_type AND o.object_id = a.object_id
  )
RETURNING a.subject`)
		return err
	})
	if err != nil {
		return nil, err
	}
	return uniqueSorted(subjects), nil
}

func collectSubjects(ctx context.Context, tx pgx.Tx, query string, args ...any) ([]string, error) {
	rows, err := tx.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[string])
}

func scanDefinition(row pgx.Row) (RoleDefinition, error) {
	var def RoleDefinition
	if err := row.Scan(&def.ID, &def.Name, &def.ContentType, &def.Permissions, &def.CreatedAt); err != nil {
		return RoleDefinition{}, err
	}
	return def, nil
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a       Assignment
		objType string
		objID   string
	)
	if err := row.Scan(&a.ID, &a.DefinitionID, &a.Subject, &objType, &objID, &a.CreatedAt); err != nil {
		return Assignment{}, err
	}
	a.Object = objectFromColumns(objType, objID)
	return a, nil
}

func notFound(def RoleDefinition, err error) (RoleDefinition, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return RoleDefinition{}, ErrNotFound
	}
	return def, err
}

func objectColumns(ref *ObjectRef) (string, string) {
	if ref == nil {
		return "", ""
	}
	return ref.Type, ref.ID
}

func objectFromColumns(typ, id string) *ObjectRef {
	if typ == "" {
		return nil
	}
	return &ObjectRef{Type: typ, ID: id}
}
