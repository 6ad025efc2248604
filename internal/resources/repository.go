package resources

import (
	"cmp"
	"context"
	"slices"
	"sync"
)

// RepositoryPort defines data access methods for governed objects.
type RepositoryPort interface {
	Create(ctx context.Context, res Resource) error
	Get(ctx context.Context, typ, id string) (Resource, error)
	Update(ctx context.Context, res Resource) error
	Delete(ctx context.Context, typ, id string) error
	ListByIDs(ctx context.Context, typ string, ids []string) ([]Resource, error)
}

type objectKey struct {
	typ string
	id  string
}

// MemoryRepository keeps governed objects in process memory.
type MemoryRepository struct {
	mu      sync.RWMutex
	objects map[objectKey]Resource
}

// NewMemoryRepository constructs an empty repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{objects: make(map[objectKey]Resource)}
}

func (m *MemoryRepository) Create(ctx context.Context, res Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[objectKey{res.Type, res.ID}] = res.clone()
	return nil
}

func (m *MemoryRepository) Get(ctx context.Context, typ, id string) (Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res, ok := m.objects[objectKey{typ, id}]
	if !ok {
		return Resource{}, ErrNotFound
	}
	return res.clone(), nil
}

func (m *MemoryRepository) Update(ctx context.Context, res Resource) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := objectKey{res.Type, res.ID}
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	m.objects[key] = res.clone()
	return nil
}

func (m *MemoryRepository) Delete(ctx context.Context, typ, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := objectKey{typ, id}
	if _, ok := m.objects[key]; !ok {
		return ErrNotFound
	}
	delete(m.objects, key)
	return nil
}

func (m *MemoryRepository) ListByIDs(ctx context.Context, typ string, ids []string) ([]Resource, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Resource, 0, len(ids))
	for _, id := range ids {
		if res, ok := m.objects[objectKey{typ, id}]; ok {
			out = append(out, res.clone())
		}
	}
	slices.SortFunc(out, func(a, b Resource) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}
