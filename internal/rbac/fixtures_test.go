package rbac

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	reg := NewRegistry()
	require.NoError(t, reg.Register(ResourceType{
		Name:        "organization",
		Permissions: []string{"add_organization", "view_organization", "change_organization", "delete_organization"},
	}))
	require.NoError(t, reg.Register(ResourceType{
		Name:        "credential",
		Permissions: []string{"add_credential", "view_credential", "change_credential", "delete_credential", "use_credential"},
		Parent:      &ParentRelation{Field: "organization", Type: "organization"},
	}))
	require.NoError(t, reg.Register(ResourceType{
		Name:        "inventory",
		Permissions: []string{"add_inventory", "view_inventory", "change_inventory", "delete_inventory"},
		Parent:      &ParentRelation{Field: "organization", Type: "organization"},
		Related:     []RelatedField{{Field: "credential", Type: "credential"}},
	}))
	require.NoError(t, reg.Register(ResourceType{
		Name:        "cow",
		Permissions: []string{"add_cow", "view_cow", "change_cow", "delete_cow", "say_cow"},
		Parent:      &ParentRelation{Field: "organization", Type: "organization"},
	}))
	reg.Seal()
	return reg
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T) (*Service, *MemoryStore) {
	t.Helper()
	store := NewMemoryStore()
	return NewService(newTestRegistry(t), store, ServiceConfig{Logger: discardLogger()}), store
}

func newCachedTestService(t *testing.T, store Store) (*Service, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := NewCache(client, time.Minute, discardLogger())
	return NewService(newTestRegistry(t), store, ServiceConfig{Logger: discardLogger(), Cache: cache}), mr
}

// seedTree tracks org1{inv1, cred1, cow1} and org2{inv2}.
func seedTree(t *testing.T, svc *Service) {
	t.Helper()
	ctx := context.Background()
	org1 := ObjectRef{Type: "organization", ID: "org1"}
	org2 := ObjectRef{Type: "organization", ID: "org2"}
	require.NoError(t, svc.TrackObject(ctx, org1, nil))
	require.NoError(t, svc.TrackObject(ctx, org2, nil))
	require.NoError(t, svc.TrackObject(ctx, ObjectRef{Type: "inventory", ID: "inv1"}, &org1))
	require.NoError(t, svc.TrackObject(ctx, ObjectRef{Type: "inventory", ID: "inv2"}, &org2))
	require.NoError(t, svc.TrackObject(ctx, ObjectRef{Type: "credential", ID: "cred1"}, &org1))
	require.NoError(t, svc.TrackObject(ctx, ObjectRef{Type: "cow", ID: "cow1"}, &org1))
}

func user(id string) Subject {
	return Subject{ID: id}
}
