package rbac

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// CreateFromPermissions creates a role definition holding the given codes. An empty
// contentType creates a global definition.
func (s *Service) CreateFromPermissions(ctx context.Context, name string, permissions []string, contentType string) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createDefinitionLocked(ctx, name, permissions, contentType)
}

// GetOrCreate returns the definition named name, creating it when missing. An existing
// definition is returned untouched even when its permissions differ.
func (s *Service) GetOrCreate(ctx context.Context, name string, permissions []string, contentType string) (RoleDefinition, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getOrCreateLocked(ctx, name, permissions, contentType)
}

func (s *Service) getOrCreateLocked(ctx context.Context, name string, permissions []string, contentType string) (RoleDefinition, bool, error) {
	existing, err := s.store.GetDefinitionByName(ctx, strings.TrimSpace(name))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return RoleDefinition{}, false, err
	}
	def, err := s.createDefinitionLocked(ctx, name, permissions, contentType)
	if err != nil {
		var dup *DuplicateNameError
		if errors.As(err, &dup) {
			existing, getErr := s.store.GetDefinitionByName(ctx, dup.Name)
			if getErr != nil {
				return RoleDefinition{}, false, getErr
			}
			return existing, false, nil
		}
		return RoleDefinition{}, false, err
	}
	return def, true, nil
}

func (s *Service) createDefinitionLocked(ctx context.Context, name string, permissions []string, contentType string) (RoleDefinition, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return RoleDefinition{}, validationError("role definition name required")
	}
	contentType = strings.ToLower(strings.TrimSpace(contentType))
	codes, malformed := normalizeCodes(permissions)
	if len(malformed) > 0 {
		return RoleDefinition{}, &InvalidPermissionError{Codes: malformed, ContentType: contentType}
	}
	if len(codes) == 0 {
		return RoleDefinition{}, validationError("role definition %s requires at least one permission", name)
	}
	valid, err := s.registry.ValidCodes(contentType)
	if err != nil {
		return RoleDefinition{}, err
	}
	var invalid []string
	for _, code := range codes {
		if _, ok := valid[code]; !ok {
			invalid = append(invalid, code)
		}
	}
	if len(invalid) > 0 {
		return RoleDefinition{}, &InvalidPermissionError{Codes: invalid, ContentType: contentType}
	}
	def, err := s.store.CreateDefinition(ctx, RoleDefinition{Name: name, ContentType: contentType, Permissions: codes})
	if err != nil {
		return RoleDefinition{}, err
	}
	s.metrics.mutation("create_definition")
	s.logger.Info("rbac definition created", slog.Int64("id", def.ID), slog.String("name", def.Name), slog.String("content_type", def.ContentType))
	return def, nil
}

// DeleteDefinition removes a definition together with its assignments.
func (s *Service) DeleteDefinition(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	subjects, err := s.store.DeleteDefinition(ctx, id)
	if err != nil {
		return err
	}
	s.invalidateSubjects(ctx, subjects...)
	s.invalidateAll(ctx)
	s.metrics.mutation("delete_definition")
	s.logger.Info("rbac definition deleted", slog.Int64("id", id), slog.Int("assignments_subjects", len(subjects)))
	return nil
}

// Definition returns the definition with the given ID.
func (s *Service) Definition(ctx context.Context, id int64) (RoleDefinition, error) {
	return s.store.GetDefinition(ctx, id)
}

// DefinitionByName returns the definition with the given name.
func (s *Service) DefinitionByName(ctx context.Context, name string) (RoleDefinition, error) {
	return s.store.GetDefinitionByName(ctx, strings.TrimSpace(name))
}

// Definitions lists every definition ordered by ID.
func (s *Service) Definitions(ctx context.Context) ([]RoleDefinition, error) {
	return s.store.ListDefinitions(ctx)
}
