package rbac

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"
)

type assignmentKey struct {
	definitionID int64
	subject      string
	object       ObjectRef
}

// MemoryStore is an in-process Store used by tests and single-node deployments.
type MemoryStore struct {
	mu          sync.RWMutex
	definitions map[int64]RoleDefinition
	byName      map[string]int64
	assignments map[int64]Assignment
	unique      map[assignmentKey]int64
	parents     map[ObjectRef]*ObjectRef
	nextDefID   int64
	nextAsgID   int64
	now         func() time.Time
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore constructs an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		definitions: make(map[int64]RoleDefinition),
		byName:      make(map[string]int64),
		assignments: make(map[int64]Assignment),
		unique:      make(map[assignmentKey]int64),
		parents:     make(map[ObjectRef]*ObjectRef),
		now:         time.Now,
	}
}

func (s *MemoryStore) CreateDefinition(ctx context.Context, def RoleDefinition) (RoleDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byName[def.Name]; ok {
		return RoleDefinition{}, &DuplicateNameError{Name: def.Name}
	}
	s.nextDefID++
	def.ID = s.nextDefID
	def.Permissions = slices.Clone(def.Permissions)
	if def.CreatedAt.IsZero() {
		def.CreatedAt = s.now().UTC()
	}
	s.definitions[def.ID] = def
	s.byName[def.Name] = def.ID
	return def, nil
}

func (s *MemoryStore) GetDefinition(ctx context.Context, id int64) (RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.definitions[id]
	if !ok {
		return RoleDefinition{}, ErrNotFound
	}
	return def, nil
}

func (s *MemoryStore) GetDefinitionByName(ctx context.Context, name string) (RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.byName[name]
	if !ok {
		return RoleDefinition{}, ErrNotFound
	}
	return s.definitions[id], nil
}

func (s *MemoryStore) ListDefinitions(ctx context.Context) ([]RoleDefinition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]RoleDefinition, 0, len(s.definitions))
	for _, def := range s.definitions {
		out = append(out, def)
	}
	slices.SortFunc(out, func(a, b RoleDefinition) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) DeleteDefinition(ctx context.Context, id int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	def, ok := s.definitions[id]
	if !ok {
		return nil, ErrNotFound
	}
	var subjects []string
	for aid, a := range s.assignments {
		if a.DefinitionID != id {
			continue
		}
		subjects = append(subjects, a.Subject)
		s.removeAssignmentLocked(aid)
	}
	delete(s.definitions, id)
	delete(s.byName, def.Name)
	return uniqueSorted(subjects), nil
}

func (s *MemoryStore) UpsertAssignment(ctx context.Context, a Assignment) (Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.definitions[a.DefinitionID]; !ok {
		return Assignment{}, false, ErrNotFound
	}
	key := keyOf(a)
	if id, ok := s.unique[key]; ok {
		return s.assignments[id], false, nil
	}
	s.nextAsgID++
	a.ID = s.nextAsgID
	if a.CreatedAt.IsZero() {
		a.CreatedAt = s.now().UTC()
	}
	if a.Object != nil {
		obj := *a.Object
		a.Object = &obj
	}
	s.assignments[a.ID] = a
	s.unique[key] = a.ID
	return a, true, nil
}

func (s *MemoryStore) GetAssignment(ctx context.Context, id int64) (Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.assignments[id]
	if !ok {
		return Assignment{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) DeleteAssignment(ctx context.Context, id int64) (Assignment, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.assignments[id]
	if !ok {
		return Assignment{}, false, nil
	}
	s.removeAssignmentLocked(id)
	return a, true, nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]Assignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Assignment, 0)
	for _, a := range s.assignments {
		if filter.DefinitionID != 0 && a.DefinitionID != filter.DefinitionID {
			continue
		}
		if filter.Subject != "" && a.Subject != filter.Subject {
			continue
		}
		if filter.Object != nil && (a.Object == nil || *a.Object != *filter.Object) {
			continue
		}
		out = append(out, a)
	}
	slices.SortFunc(out, func(a, b Assignment) int { return cmp.Compare(a.ID, b.ID) })
	return out, nil
}

func (s *MemoryStore) Grants(ctx context.Context, subject, code string) ([]Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var grants []Grant
	for _, a := range s.assignments {
		if a.Subject != subject {
			continue
		}
		def, ok := s.definitions[a.DefinitionID]
		if !ok || !def.Includes(code) {
			continue
		}
		grants = append(grants, Grant{Object: a.Object})
	}
	return grants, nil
}

func (s *MemoryStore) PutObject(ctx context.Context, ref ObjectRef, parent *ObjectRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if parent != nil {
		p := *parent
		parent = &p
	}
	s.parents[ref] = parent
	return nil
}

func (s *MemoryStore) DeleteObject(ctx context.Context, ref ObjectRef) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.parents, ref)
	var subjects []string
	for id, a := range s.assignments {
		if a.Object != nil && *a.Object == ref {
			subjects = append(subjects, a.Subject)
			s.removeAssignmentLocked(id)
		}
	}
	return uniqueSorted(subjects), nil
}

func (s *MemoryStore) Parent(ctx context.Context, ref ObjectRef) (*ObjectRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	parent, ok := s.parents[ref]
	if !ok {
		return nil, ErrNotFound
	}
	if parent == nil {
		return nil, nil
	}
	p := *parent
	return &p, nil
}

func (s *MemoryStore) Children(ctx context.Context, parentType string, parentIDs []string, childType string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	wanted := make(map[string]struct{}, len(parentIDs))
	for _, id := range parentIDs {
		wanted[id] = struct{}{}
	}
	var out []string
	for ref, parent := range s.parents {
		if ref.Type != childType || parent == nil || parent.Type != parentType {
			continue
		}
		if _, ok := wanted[parent.ID]; ok {
			out = append(out, ref.ID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) ObjectIDs(ctx context.Context, typ string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []string
	for ref := range s.parents {
		if ref.Type == typ {
			out = append(out, ref.ID)
		}
	}
	slices.Sort(out)
	return out, nil
}

func (s *MemoryStore) SweepDanglingAssignments(ctx context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var subjects []string
	for id, a := range s.assignments {
		if a.Object == nil {
			continue
		}
		if _, ok := s.parents[*a.Object]; ok {
			continue
		}
		subjects = append(subjects, a.Subject)
		s.removeAssignmentLocked(id)
	}
	return uniqueSorted(subjects), nil
}

func (s *MemoryStore) removeAssignmentLocked(id int64) {
	a, ok := s.assignments[id]
	if !ok {
		return
	}
	delete(s.unique, keyOf(a))
	delete(s.assignments, id)
}

func keyOf(a Assignment) assignmentKey {
	key := assignmentKey{definitionID: a.DefinitionID, subject: a.Subject}
	if a.Object != nil {
		key.object = *a.Object
	}
	return key
}

func uniqueSorted(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := slices.Clone(in)
	slices.Sort(out)
	return slices.Compact(out)
}
