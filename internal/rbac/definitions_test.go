package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateFromPermissionsNormalizes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	def, err := svc.CreateFromPermissions(ctx, "org-inv", []string{" View_Inventory", "view_organization", "view_inventory"}, "organization")
	require.NoError(t, err)
	assert.Equal(t, []string{"view_inventory", "view_organization"}, def.Permissions)
	assert.Equal(t, "organization", def.ContentType)
	assert.False(t, def.IsGlobal())
	assert.NotZero(t, def.ID)

	loaded, err := svc.DefinitionByName(ctx, "org-inv")
	require.NoError(t, err)
	assert.Equal(t, def.ID, loaded.ID)
}

func TestCreateFromPermissionsRejectsInvalidCodes(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFromPermissions(ctx, "bad", []string{"view_inventory", "view_organization", "fly_cow"}, "inventory")
	var invalid *InvalidPermissionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, []string{"fly_cow", "view_organization"}, invalid.Codes)

	_, err = svc.CreateFromPermissions(ctx, "", []string{"view_inventory"}, "inventory")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateFromPermissions(ctx, "empty", nil, "inventory")
	require.ErrorIs(t, err, ErrValidation)

	_, err = svc.CreateFromPermissions(ctx, "unknown", []string{"view_team"}, "team")
	var unregistered *UnregisteredTypeError
	require.ErrorAs(t, err, &unregistered)
}

func TestCreateFromPermissionsDuplicateName(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFromPermissions(ctx, "inv-admin", []string{"change_inventory"}, "inventory")
	require.NoError(t, err)
	_, err = svc.CreateFromPermissions(ctx, "inv-admin", []string{"view_inventory"}, "inventory")
	var dup *DuplicateNameError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "inv-admin", dup.Name)
}

func TestGlobalDefinitionAcceptsAnyRegisteredCode(t *testing.T) {
	svc, _ := newTestService(t)

	def, err := svc.CreateFromPermissions(context.Background(), "system-auditor", []string{"view_inventory", "view_organization", "view_cow"}, "")
	require.NoError(t, err)
	assert.True(t, def.IsGlobal())
}

func TestGetOrCreateReturnsExistingUntouched(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, created, err := svc.GetOrCreate(ctx, "view-inv", []string{"view_inventory", "view_organization"}, "organization")
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := svc.GetOrCreate(ctx, "view-inv", []string{"change_inventory"}, "organization")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, []string{"view_inventory", "view_organization"}, second.Permissions)
}

func TestDeleteDefinitionCascadesAssignments(t *testing.T) {
	svc, _ := newTestService(t)
	seedTree(t, svc)
	ctx := context.Background()

	def, err := svc.CreateFromPermissions(ctx, "inv-view", []string{"view_inventory"}, "inventory")
	require.NoError(t, err)
	a, err := svc.GivePermission(ctx, def, "alice", Ref("inventory", "inv1"))
	require.NoError(t, err)

	require.NoError(t, svc.DeleteDefinition(ctx, def.ID))

	_, err = svc.Assignment(ctx, a.ID)
	require.ErrorIs(t, err, ErrNotFound)
	_, err = svc.Definition(ctx, def.ID)
	require.ErrorIs(t, err, ErrNotFound)
	ok, err := svc.HasPermission(ctx, user("alice"), "view_inventory", ObjectRef{Type: "inventory", ID: "inv1"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.ErrorIs(t, svc.DeleteDefinition(ctx, def.ID), ErrNotFound)
}

func TestDefinitionsListedInCreationOrder(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.CreateFromPermissions(ctx, "b", []string{"view_cow"}, "cow")
	require.NoError(t, err)
	_, err = svc.CreateFromPermissions(ctx, "a", []string{"view_cow"}, "cow")
	require.NoError(t, err)

	defs, err := svc.Definitions(ctx)
	require.NoError(t, err)
	require.Len(t, defs, 2)
	assert.Equal(t, "b", defs[0].Name)
	assert.Equal(t, "a", defs[1].Name)
}
