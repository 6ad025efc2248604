package rbac

import (
	"context"
	"errors"
	"slices"
)

// HasPermission reports whether subject holds code on obj, either globally, directly on
// obj, or on any ancestor of obj in the object index.
func (s *Service) HasPermission(ctx context.Context, subject Subject, code string, obj ObjectRef) (bool, error) {
	if subject.IsAnonymous() {
		s.metrics.decision(false)
		return false, nil
	}
	if subject.Superuser {
		s.metrics.decision(true)
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed, hit, err := cached(ctx, s.cache, subject.ID, []string{"has", code, obj.String()}, func(ctx context.Context) (bool, error) {
		return s.evaluate(ctx, subject.ID, code, obj)
	})
	if err != nil {
		return false, err
	}
	if s.cache.Enabled() {
		s.metrics.lookup(hit)
	}
	s.metrics.decision(allowed)
	return allowed, nil
}

// HasObjPerm checks the <action>_<type> permission on obj.
func (s *Service) HasObjPerm(ctx context.Context, subject Subject, obj ObjectRef, action string) (bool, error) {
	code, ok := s.registry.Code(obj.Type, action)
	if !ok {
		return false, validationError("%s has no %s permission", DisplayName(obj.Type), action)
	}
	return s.HasPermission(ctx, subject, code, obj)
}

// HasGlobalPermission reports whether subject holds code through a global assignment.
func (s *Service) HasGlobalPermission(ctx context.Context, subject Subject, code string) (bool, error) {
	if subject.IsAnonymous() {
		return false, nil
	}
	if subject.Superuser {
		return true, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	allowed, _, err := cached(ctx, s.cache, subject.ID, []string{"global", code}, func(ctx context.Context) (bool, error) {
		grants, err := s.store.Grants(ctx, subject.ID, code)
		if err != nil {
			return false, err
		}
		return hasGlobalGrant(grants), nil
	})
	return allowed, err
}

func (s *Service) evaluate(ctx context.Context, subject, code string, obj ObjectRef) (bool, error) {
	if !s.appliesTo(code, obj.Type) {
		return false, nil
	}
	grants, err := s.store.Grants(ctx, subject, code)
	if err != nil {
		return false, err
	}
	if len(grants) == 0 {
		return false, nil
	}
	granted := make(map[ObjectRef]struct{}, len(grants))
	for _, g := range grants {
		if g.Object == nil {
			return true, nil
		}
		granted[*g.Object] = struct{}{}
	}
	visited := make(map[ObjectRef]struct{})
	limit := s.registry.Depth()
	cur := obj
	for step := 0; step <= limit; step++ {
		if _, ok := granted[cur]; ok {
			return true, nil
		}
		visited[cur] = struct{}{}
		parent, err := s.store.Parent(ctx, cur)
		if errors.Is(err, ErrNotFound) || (err == nil && parent == nil) {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		if _, seen := visited[*parent]; seen {
			return false, ErrHierarchyCycle
		}
		cur = *parent
	}
	return false, nil
}

// appliesTo reports whether code can be held on objects of typ: its owning type is typ
// or has typ among its ancestors.
func (s *Service) appliesTo(code, typ string) bool {
	owner, ok := s.registry.OwnerOf(code)
	if !ok {
		return false
	}
	chain, err := s.registry.Ancestry(owner)
	if err != nil {
		return false
	}
	return slices.Contains(chain, typ)
}

// VisibleIDs returns the sorted IDs of objects of typ on which subject holds code. The
// set is built by expanding granted objects down the type chain.
func (s *Service) VisibleIDs(ctx context.Context, subject Subject, code, typ string) ([]string, error) {
	if subject.IsAnonymous() {
		return []string{}, nil
	}
	chain, err := s.registry.Ancestry(typ)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if subject.Superuser {
		return s.allIDs(ctx, typ)
	}
	ids, _, err := cached(ctx, s.cache, subject.ID, []string{"visible", code, typ}, func(ctx context.Context) ([]string, error) {
		return s.expand(ctx, subject.ID, code, chain)
	})
	return ids, err
}

func (s *Service) expand(ctx context.Context, subject, code string, chain []string) ([]string, error) {
	if !s.appliesTo(code, chain[0]) {
		return []string{}, nil
	}
	grants, err := s.store.Grants(ctx, subject, code)
	if err != nil {
		return nil, err
	}
	if hasGlobalGrant(grants) {
		return s.allIDs(ctx, chain[0])
	}
	byType := make(map[string][]string)
	for _, g := range grants {
		byType[g.Object.Type] = append(byType[g.Object.Type], g.Object.ID)
	}
	var carried []string
	for i := len(chain) - 1; i >= 0; i-- {
		level := slices.Clone(byType[chain[i]])
		if i < len(chain)-1 && len(carried) > 0 {
			children, err := s.store.Children(ctx, chain[i+1], carried, chain[i])
			if err != nil {
				return nil, err
			}
			level = append(level, children...)
		}
		carried = uniqueSorted(level)
	}
	if carried == nil {
		carried = []string{}
	}
	return carried, nil
}

func (s *Service) allIDs(ctx context.Context, typ string) ([]string, error) {
	ids, err := s.store.ObjectIDs(ctx, typ)
	if err != nil {
		return nil, err
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

func hasGlobalGrant(grants []Grant) bool {
	for _, g := range grants {
		if g.Object == nil {
			return true
		}
	}
	return false
}
