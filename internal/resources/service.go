package resources

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// Authorizer is the permission surface the resource service relies on.
type Authorizer interface {
	HasPermission(ctx context.Context, subject rbac.Subject, code string, obj rbac.ObjectRef) (bool, error)
	HasGlobalPermission(ctx context.Context, subject rbac.Subject, code string) (bool, error)
	VisibleIDs(ctx context.Context, subject rbac.Subject, code, typ string) ([]string, error)
	TrackObject(ctx context.Context, obj rbac.ObjectRef, parent *rbac.ObjectRef) error
	ForgetObject(ctx context.Context, obj rbac.ObjectRef) error
	GiveCreatorPermissions(ctx context.Context, subject string, ref rbac.ObjectRef) (rbac.Assignment, error)
}

// RelatedChecker gates writes to relation fields.
type RelatedChecker interface {
	CheckRelated(ctx context.Context, subject rbac.Subject, objectType string, changes ...rbac.FieldChange) error
}

// Service applies permission checks around governed object CRUD.
type Service struct {
	repo     RepositoryPort
	registry *rbac.Registry
	authz    Authorizer
	related  RelatedChecker
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service instance. A nil related checker still gates parent moves
// but skips checks on other related fields.
func NewService(repo RepositoryPort, registry *rbac.Registry, authz Authorizer, related RelatedChecker, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if related == nil {
		related = rbac.NewRelatedPolicy(registry, authz, []string{})
	}
	return &Service{repo: repo, registry: registry, authz: authz, related: related, logger: logger, now: time.Now}
}

// HasGlobalPermission reports whether subject holds code through a global assignment.
func (s *Service) HasGlobalPermission(ctx context.Context, subject rbac.Subject, code string) (bool, error) {
	return s.authz.HasGlobalPermission(ctx, subject, code)
}

// List returns the objects of typ the subject may view.
func (s *Service) List(ctx context.Context, subject rbac.Subject, typ string) ([]Resource, error) {
	if _, err := s.registry.Type(typ); err != nil {
		return nil, err
	}
	ids, err := s.authz.VisibleIDs(ctx, subject, "view_"+typ, typ)
	if err != nil {
		return nil, err
	}
	return s.repo.ListByIDs(ctx, typ, ids)
}

// Get returns one object. Objects the subject may not view are reported as missing.
func (s *Service) Get(ctx context.Context, subject rbac.Subject, typ, id string) (Resource, error) {
	res, err := s.repo.Get(ctx, typ, id)
	if err != nil {
		return Resource{}, err
	}
	_, allowed, err := s.can(ctx, subject, res, "view")
	if err != nil {
		return Resource{}, err
	}
	if !allowed {
		return Resource{}, ErrNotFound
	}
	return res, nil
}

// Create stores a new object. With a parent the subject needs add_<type> on it,
// otherwise globally. The creator receives the type's creator role on the new object.
func (s *Service) Create(ctx context.Context, subject rbac.Subject, typ string, in Input) (Resource, error) {
	rt, err := s.registry.Type(typ)
	if err != nil {
		return Resource{}, err
	}
	name, err := requiredName(in.Name)
	if err != nil {
		return Resource{}, err
	}
	res := Resource{
		ID:        uuid.NewString(),
		Type:      typ,
		Name:      name,
		Relations: make(map[string]*string),
		CreatedBy: subject.ID,
		CreatedAt: s.now().UTC(),
	}
	if rt.Parent != nil {
		res.Relations[rt.Parent.Field] = nil
	}
	for _, rel := range rt.Related {
		res.Relations[rel.Field] = nil
	}
	changes, err := s.diff(ctx, rt, res, in.Relations)
	if err != nil {
		return Resource{}, err
	}
	if rt.Parent == nil || in.Relations[rt.Parent.Field] == nil {
		code, _ := s.registry.Code(typ, "add")
		allowed, err := s.authz.HasGlobalPermission(ctx, subject, code)
		if err != nil {
			return Resource{}, err
		}
		if !allowed {
			return Resource{}, rbac.Forbidden(code)
		}
	}
	if err := s.checkRelated(ctx, subject, typ, changes); err != nil {
		return Resource{}, err
	}
	apply(&res, in.Relations)

	if err := s.repo.Create(ctx, res); err != nil {
		return Resource{}, err
	}
	if err := s.authz.TrackObject(ctx, res.Ref(), parentRef(rt, res)); err != nil {
		_ = s.repo.Delete(ctx, typ, res.ID)
		return Resource{}, fmt.Errorf("resources: track %s: %w", res.Ref(), err)
	}
	if !subject.IsAnonymous() {
		if _, err := s.authz.GiveCreatorPermissions(ctx, subject.ID, res.Ref()); err != nil {
			if forgetErr := s.authz.ForgetObject(ctx, res.Ref()); forgetErr != nil {
				s.logger.Error("forget resource after failed create", slog.String("object", res.Ref().String()), slog.Any("error", forgetErr))
			}
			_ = s.repo.Delete(ctx, typ, res.ID)
			return Resource{}, fmt.Errorf("resources: creator permissions %s: %w", res.Ref(), err)
		}
	}
	s.logger.Info("resource created", slog.String("type", typ), slog.String("id", res.ID), slog.String("subject", subject.ID))
	return res, nil
}

// Update changes an object. replace requires every writable scalar field.
func (s *Service) Update(ctx context.Context, subject rbac.Subject, typ, id string, in Input, replace bool) (Resource, error) {
	rt, err := s.registry.Type(typ)
	if err != nil {
		return Resource{}, err
	}
	res, err := s.Get(ctx, subject, typ, id)
	if err != nil {
		return Resource{}, err
	}
	if err := s.require(ctx, subject, res, "change"); err != nil {
		return Resource{}, err
	}
	if in.Name != nil || replace {
		name, err := requiredName(in.Name)
		if err != nil {
			return Resource{}, err
		}
		res.Name = name
	}
	changes, err := s.diff(ctx, rt, res, in.Relations)
	if err != nil {
		return Resource{}, err
	}
	if err := s.checkRelated(ctx, subject, typ, changes); err != nil {
		return Resource{}, err
	}
	previousParent := parentRef(rt, res)
	apply(&res, in.Relations)
	if err := s.repo.Update(ctx, res); err != nil {
		return Resource{}, err
	}
	if next := parentRef(rt, res); !sameParent(previousParent, next) {
		if err := s.authz.TrackObject(ctx, res.Ref(), next); err != nil {
			return Resource{}, fmt.Errorf("resources: move %s: %w", res.Ref(), err)
		}
	}
	return res, nil
}

// Delete removes an object and the assignments targeting it.
func (s *Service) Delete(ctx context.Context, subject rbac.Subject, typ, id string) error {
	res, err := s.Get(ctx, subject, typ, id)
	if err != nil {
		return err
	}
	if err := s.require(ctx, subject, res, "delete"); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, typ, id); err != nil {
		return err
	}
	return s.authz.ForgetObject(ctx, res.Ref())
}

// Act runs a custom action that requires <action>_<type> on the object.
func (s *Service) Act(ctx context.Context, subject rbac.Subject, typ, id, action string) (Resource, error) {
	res, err := s.Get(ctx, subject, typ, id)
	if err != nil {
		return Resource{}, err
	}
	if err := s.require(ctx, subject, res, action); err != nil {
		return Resource{}, err
	}
	return res, nil
}

func (s *Service) require(ctx context.Context, subject rbac.Subject, res Resource, action string) error {
	code, allowed, err := s.can(ctx, subject, res, action)
	if err != nil {
		return err
	}
	if !allowed {
		return rbac.Forbidden(code)
	}
	return nil
}

func (s *Service) can(ctx context.Context, subject rbac.Subject, res Resource, action string) (string, bool, error) {
	code, ok := s.registry.Code(res.Type, action)
	if !ok {
		return "", false, fmt.Errorf("resources: %s has no %s permission: %w", res.Type, action, ErrNotFound)
	}
	allowed, err := s.authz.HasPermission(ctx, subject, code, res.Ref())
	return code, allowed, err
}

// diff validates the requested relation values and describes them as field changes.
func (s *Service) diff(ctx context.Context, rt rbac.ResourceType, res Resource, relations map[string]*string) ([]rbac.FieldChange, error) {
	fields := slices.Sorted(maps.Keys(relations))
	changes := make([]rbac.FieldChange, 0, len(fields))
	for _, field := range fields {
		next := relations[field]
		relType, ok := rt.RelatedType(field)
		if !ok {
			return nil, invalidField(field, "Unknown field.")
		}
		if next != nil {
			if _, err := s.repo.Get(ctx, relType, *next); err != nil {
				if IsNotFound(err) {
					return nil, invalidField(field, fmt.Sprintf("Invalid pk %q - object does not exist.", *next))
				}
				return nil, err
			}
		}
		change := rbac.FieldChange{Field: field, Cleared: next == nil}
		if prev := res.Relations[field]; prev != nil {
			change.Previous = rbac.Ref(relType, *prev)
		}
		if next != nil {
			change.Next = rbac.Ref(relType, *next)
		}
		changes = append(changes, change)
	}
	return changes, nil
}

func (s *Service) checkRelated(ctx context.Context, subject rbac.Subject, typ string, changes []rbac.FieldChange) error {
	if len(changes) == 0 {
		return nil
	}
	return s.related.CheckRelated(ctx, subject, typ, changes...)
}

func apply(res *Resource, relations map[string]*string) {
	for field, id := range relations {
		if id == nil {
			res.Relations[field] = nil
			continue
		}
		v := *id
		res.Relations[field] = &v
	}
}

func parentRef(rt rbac.ResourceType, res Resource) *rbac.ObjectRef {
	if rt.Parent == nil {
		return nil
	}
	id := res.Relations[rt.Parent.Field]
	if id == nil {
		return nil
	}
	return rbac.Ref(rt.Parent.Type, *id)
}

func sameParent(a, b *rbac.ObjectRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

var nameRules = validator.New()

func requiredName(name *string) (string, error) {
	if name == nil {
		return "", invalidField("name", "This field is required.")
	}
	trimmed := strings.TrimSpace(*name)
	if err := nameRules.Var(trimmed, "required,max=512"); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			return "", invalidField("name", "Ensure this field has no more than 512 characters.")
		}
		return "", invalidField("name", "This field is required.")
	}
	return trimmed, nil
}
