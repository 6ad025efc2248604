package rbac

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// GivePermission assigns def to subject on target. A nil target gives the definition
// globally. Repeating an existing assignment returns it unchanged.
func (s *Service) GivePermission(ctx context.Context, def RoleDefinition, subject string, target *ObjectRef) (Assignment, error) {
	if target == nil {
		return s.GiveGlobalPermission(ctx, def, subject)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.giveLocked(ctx, def.ID, subject, target)
}

// GiveGlobalPermission assigns a global definition to subject.
func (s *Service) GiveGlobalPermission(ctx context.Context, def RoleDefinition, subject string) (Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.giveLocked(ctx, def.ID, subject, nil)
}

func (s *Service) giveLocked(ctx context.Context, definitionID int64, subject string, target *ObjectRef) (Assignment, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return Assignment{}, validationError("assignment subject required")
	}
	def, err := s.store.GetDefinition(ctx, definitionID)
	if err != nil {
		return Assignment{}, err
	}
	if target == nil {
		if !def.IsGlobal() {
			return Assignment{}, &NotGlobalDefinitionError{Definition: def.Name, ContentType: def.ContentType}
		}
	} else {
		if def.ContentType != target.Type {
			return Assignment{}, &ScopeMismatchError{DefinitionType: def.ContentType, TargetType: target.Type}
		}
		if _, err := s.store.Parent(ctx, *target); err != nil {
			return Assignment{}, fmt.Errorf("rbac: assignment target %s: %w", target, err)
		}
	}
	a, created, err := s.store.UpsertAssignment(ctx, Assignment{DefinitionID: def.ID, Subject: subject, Object: target})
	if err != nil {
		return Assignment{}, err
	}
	if created {
		s.invalidateSubjects(ctx, subject)
		s.metrics.mutation("grant")
		s.logger.Info("rbac permission given",
			slog.Int64("assignment", a.ID),
			slog.String("definition", def.Name),
			slog.String("subject", subject),
			slog.String("object", objectLabel(target)))
	}
	return a, nil
}

// Revoke deletes an assignment. Revoking a missing assignment is a no-op.
func (s *Service) Revoke(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, removed, err := s.store.DeleteAssignment(ctx, id)
	if err != nil {
		return err
	}
	if !removed {
		return nil
	}
	s.invalidateSubjects(ctx, a.Subject)
	s.metrics.mutation("revoke")
	s.logger.Info("rbac permission revoked", slog.Int64("assignment", id), slog.String("subject", a.Subject))
	return nil
}

// Assignment returns the assignment with the given ID.
func (s *Service) Assignment(ctx context.Context, id int64) (Assignment, error) {
	return s.store.GetAssignment(ctx, id)
}

// Assignments lists assignments matching filter.
func (s *Service) Assignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	return s.store.ListAssignments(ctx, filter)
}

// CreatorDefinitionName is the name of the managed definition given to object creators.
func CreatorDefinitionName(typ string) string {
	return typ + "-creator"
}

// GiveCreatorPermissions gives subject every permission of the object's type on the new
// object, except the right to add further objects of that type.
func (s *Service) GiveCreatorPermissions(ctx context.Context, subject string, ref ObjectRef) (Assignment, error) {
	perms, err := s.registry.PermissionsFor(ref.Type)
	if err != nil {
		return Assignment{}, err
	}
	addCode, _ := s.registry.Code(ref.Type, "add")
	codes := make([]string, 0, len(perms))
	for _, code := range perms {
		if code != addCode {
			codes = append(codes, code)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	def, _, err := s.getOrCreateLocked(ctx, CreatorDefinitionName(ref.Type), codes, ref.Type)
	if err != nil {
		return Assignment{}, err
	}
	return s.giveLocked(ctx, def.ID, subject, &ref)
}

// TrackObject records obj and its parent in the object index. Adding an object or
// changing the parent of a tracked one invalidates every cached decision.
func (s *Service) TrackObject(ctx context.Context, obj ObjectRef, parent *ObjectRef) error {
	rt, err := s.registry.Type(obj.Type)
	if err != nil {
		return err
	}
	if strings.TrimSpace(obj.ID) == "" {
		return validationError("object id required")
	}
	if parent != nil {
		if rt.Parent == nil || rt.Parent.Type != parent.Type {
			return validationError("%s can not be parented by %s", obj.Type, parent.Type)
		}
		if *parent == obj {
			return ErrHierarchyCycle
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if parent != nil {
		if _, err := s.store.Parent(ctx, *parent); err != nil {
			return fmt.Errorf("rbac: parent %s: %w", parent, err)
		}
	}
	previous, err := s.store.Parent(ctx, obj)
	known := err == nil
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := s.store.PutObject(ctx, obj, parent); err != nil {
		return err
	}
	if known && !sameRef(previous, parent) {
		s.invalidateAll(ctx)
		s.logger.Info("rbac object moved", slog.String("object", obj.String()), slog.String("parent", objectLabel(parent)))
	} else if !known {
		// New objects change visible sets derived from global and parent grants.
		s.invalidateAll(ctx)
	}
	return nil
}

// ForgetObject removes obj from the object index along with assignments targeting it.
func (s *Service) ForgetObject(ctx context.Context, obj ObjectRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjects, err := s.store.DeleteObject(ctx, obj)
	if err != nil {
		return err
	}
	s.invalidateSubjects(ctx, subjects...)
	s.invalidateAll(ctx)
	return nil
}

// SweepDanglingAssignments removes assignments whose target is no longer tracked and
// returns the number of subjects affected.
func (s *Service) SweepDanglingAssignments(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjects, err := s.store.SweepDanglingAssignments(ctx)
	if err != nil {
		return 0, err
	}
	if len(subjects) > 0 {
		s.invalidateSubjects(ctx, subjects...)
		s.metrics.mutation("sweep")
	}
	return len(subjects), nil
}

func sameRef(a, b *ObjectRef) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

func objectLabel(ref *ObjectRef) string {
	if ref == nil {
		return "global"
	}
	return ref.String()
}
