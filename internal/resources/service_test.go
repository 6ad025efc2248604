package resources

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
	_ "github.com/odyssey-erp/odyssey-rbac/testing"
)

var admin = rbac.Subject{ID: "admin", Superuser: true}

type env struct {
	reg   *rbac.Registry
	authz *rbac.Service
	svc   *Service
	repo  *MemoryRepository
}

func newEnv(t *testing.T, levels []string) env {
	t.Helper()
	reg := rbac.NewRegistry()
	require.NoError(t, Register(reg))
	reg.Seal()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	authz := rbac.NewService(reg, rbac.NewMemoryStore(), rbac.ServiceConfig{Logger: logger})
	repo := NewMemoryRepository()
	policy := rbac.NewRelatedPolicy(reg, authz, levels)
	return env{reg: reg, authz: authz, svc: NewService(repo, reg, authz, policy, logger), repo: repo}
}

func strPtr(s string) *string { return &s }

func (e env) create(t *testing.T, typ, name string, relations map[string]*string) Resource {
	t.Helper()
	res, err := e.svc.Create(context.Background(), admin, typ, Input{Name: strPtr(name), Relations: relations})
	require.NoError(t, err)
	return res
}

func (e env) grant(t *testing.T, subject, name, contentType string, target *rbac.ObjectRef, perms ...string) {
	t.Helper()
	ctx := context.Background()
	def, _, err := e.authz.GetOrCreate(ctx, name, perms, contentType)
	require.NoError(t, err)
	_, err = e.authz.GivePermission(ctx, def, subject, target)
	require.NoError(t, err)
}

func TestServiceListFiltersByInheritedRole(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org1 := e.create(t, TypeOrganization, "org1", nil)
	org2 := e.create(t, TypeOrganization, "org2", nil)
	inv1 := e.create(t, TypeInventory, "inv1", map[string]*string{"organization": &org1.ID})
	e.create(t, TypeInventory, "inv2", map[string]*string{"organization": &org2.ID})

	bob := rbac.Subject{ID: "bob"}
	items, err := e.svc.List(ctx, bob, TypeInventory)
	require.NoError(t, err)
	assert.Empty(t, items)

	e.grant(t, "bob", "org-inventory-viewer", TypeOrganization, rbac.Ref(TypeOrganization, org1.ID), "view_inventory")
	items, err = e.svc.List(ctx, bob, TypeInventory)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, inv1.ID, items[0].ID)

	all, err := e.svc.List(ctx, admin, TypeInventory)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestServiceGetHidesUnviewable(t *testing.T) {
	e := newEnv(t, nil)
	org := e.create(t, TypeOrganization, "org1", nil)

	_, err := e.svc.Get(context.Background(), rbac.Subject{ID: "bob"}, TypeOrganization, org.ID)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	_, err = e.svc.Get(context.Background(), admin, TypeOrganization, "missing")
	require.True(t, IsNotFound(err))
}

func TestServiceCreateWithoutParentNeedsGlobalAdd(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	bob := rbac.Subject{ID: "bob"}

	_, err := e.svc.Create(ctx, bob, TypeOrganization, Input{Name: strPtr("acme")})
	require.ErrorIs(t, err, httpx.ErrForbidden)

	e.grant(t, "bob", "org-adder", "", nil, "add_organization")
	res, err := e.svc.Create(ctx, bob, TypeOrganization, Input{Name: strPtr("acme")})
	require.NoError(t, err)
	assert.Equal(t, "bob", res.CreatedBy)

	ok, err := e.authz.HasPermission(ctx, bob, "change_organization", res.Ref())
	require.NoError(t, err)
	assert.True(t, ok, "creator receives the creator role")
	ok, err = e.authz.HasPermission(ctx, bob, "add_organization", res.Ref())
	require.NoError(t, err)
	assert.True(t, ok, "global add still applies")
}

func TestServiceCreateUnderParentNeedsAddOnParent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org := e.create(t, TypeOrganization, "org1", nil)
	bob := rbac.Subject{ID: "bob"}
	in := Input{Name: strPtr("inv"), Relations: map[string]*string{"organization": &org.ID}}

	_, err := e.svc.Create(ctx, bob, TypeInventory, in)
	var denied *rbac.RelatedPermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "organization", denied.FieldName())

	e.grant(t, "bob", "org-inventory-adder", TypeOrganization, rbac.Ref(TypeOrganization, org.ID), "add_inventory")
	inv, err := e.svc.Create(ctx, bob, TypeInventory, in)
	require.NoError(t, err)

	ok, err := e.authz.HasPermission(ctx, bob, "change_inventory", inv.Ref())
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestServiceCreateValidation(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()

	_, err := e.svc.Create(ctx, admin, TypeOrganization, Input{})
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "name", fe.Field)

	_, err = e.svc.Create(ctx, admin, TypeInventory, Input{Name: strPtr("inv"), Relations: map[string]*string{"organization": strPtr("nope")}})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "organization", fe.Field)

	_, err = e.svc.Create(ctx, admin, TypeOrganization, Input{Name: strPtr("x"), Relations: map[string]*string{"color": nil}})
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "color", fe.Field)
	assert.ErrorIs(t, err, httpx.ErrValidation)
}

func TestServiceUpdateRequiresChange(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org := e.create(t, TypeOrganization, "org1", nil)
	bob := rbac.Subject{ID: "bob"}
	ref := rbac.Ref(TypeOrganization, org.ID)

	_, err := e.svc.Update(ctx, bob, TypeOrganization, org.ID, Input{}, false)
	require.ErrorIs(t, err, httpx.ErrNotFound)

	e.grant(t, "bob", "org-viewer", TypeOrganization, ref, "view_organization")
	_, err = e.svc.Update(ctx, bob, TypeOrganization, org.ID, Input{}, false)
	require.ErrorIs(t, err, httpx.ErrForbidden)

	e.grant(t, "bob", "org-editor", TypeOrganization, ref, "change_organization")
	res, err := e.svc.Update(ctx, bob, TypeOrganization, org.ID, Input{Name: strPtr("renamed")}, false)
	require.NoError(t, err)
	assert.Equal(t, "renamed", res.Name)

	_, err = e.svc.Update(ctx, bob, TypeOrganization, org.ID, Input{}, true)
	var fe *FieldError
	require.ErrorAs(t, err, &fe)
	assert.Equal(t, "name", fe.Field)
}

func TestServiceMoveNeedsAddOnNewParent(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org1 := e.create(t, TypeOrganization, "org1", nil)
	org2 := e.create(t, TypeOrganization, "org2", nil)
	inv := e.create(t, TypeInventory, "inv", map[string]*string{"organization": &org1.ID})
	bob := rbac.Subject{ID: "bob"}
	e.grant(t, "bob", "inventory-editor", TypeInventory, rbac.Ref(TypeInventory, inv.ID), "view_inventory", "change_inventory")

	move := Input{Relations: map[string]*string{"organization": &org2.ID}}
	_, err := e.svc.Update(ctx, bob, TypeInventory, inv.ID, move, false)
	var denied *rbac.RelatedPermissionDeniedError
	require.ErrorAs(t, err, &denied)

	e.grant(t, "bob", "org-inventory-adder", TypeOrganization, rbac.Ref(TypeOrganization, org2.ID), "add_inventory")
	moved, err := e.svc.Update(ctx, bob, TypeInventory, inv.ID, move, false)
	require.NoError(t, err)
	assert.Equal(t, org2.ID, *moved.Related("organization"))

	carol := rbac.Subject{ID: "carol"}
	e.grant(t, "carol", "org-inventory-viewer", TypeOrganization, rbac.Ref(TypeOrganization, org2.ID), "view_inventory")
	ok, err := e.authz.HasPermission(ctx, carol, "view_inventory", inv.Ref())
	require.NoError(t, err)
	assert.True(t, ok, "inherited grants follow the move")
}

func TestServiceClearingParentNeedsGlobalAdd(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org := e.create(t, TypeOrganization, "org1", nil)
	inv := e.create(t, TypeInventory, "inv", map[string]*string{"organization": &org.ID})
	bob := rbac.Subject{ID: "bob"}
	e.grant(t, "bob", "inventory-editor", TypeInventory, rbac.Ref(TypeInventory, inv.ID), "view_inventory", "change_inventory")

	detach := Input{Relations: map[string]*string{"organization": nil}}
	_, err := e.svc.Update(ctx, bob, TypeInventory, inv.ID, detach, false)
	var denied *rbac.RelatedPermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "add_inventory", denied.Permission)
	require.ErrorIs(t, rbac.HTTPError(err), httpx.ErrForbidden)

	e.grant(t, "bob", "global-inventory-adder", "", nil, "add_inventory")
	res, err := e.svc.Update(ctx, bob, TypeInventory, inv.ID, detach, false)
	require.NoError(t, err)
	assert.Nil(t, res.Related("organization"))
}

func TestServiceRelatedLevels(t *testing.T) {
	cases := []struct {
		name    string
		levels  []string
		perms   []string
		allowed bool
	}{
		{name: "default needs use", perms: []string{"view_credential"}, allowed: false},
		{name: "default with use", perms: []string{"use_credential"}, allowed: true},
		{name: "view level", levels: []string{"view"}, perms: []string{"view_credential"}, allowed: true},
		{name: "disabled", levels: []string{}, allowed: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			e := newEnv(t, tc.levels)
			ctx := context.Background()
			org := e.create(t, TypeOrganization, "org1", nil)
			cred := e.create(t, TypeCredential, "cred", map[string]*string{"organization": &org.ID})
			inv := e.create(t, TypeInventory, "inv", map[string]*string{"organization": &org.ID})
			e.grant(t, "bob", "inventory-editor", TypeInventory, rbac.Ref(TypeInventory, inv.ID), "view_inventory", "change_inventory")
			if len(tc.perms) > 0 {
				e.grant(t, "bob", "credential-"+tc.name, TypeCredential, rbac.Ref(TypeCredential, cred.ID), tc.perms...)
			}

			_, err := e.svc.Update(ctx, rbac.Subject{ID: "bob"}, TypeInventory, inv.ID,
				Input{Relations: map[string]*string{"credential": &cred.ID}}, false)
			if tc.allowed {
				require.NoError(t, err)
				return
			}
			var denied *rbac.RelatedPermissionDeniedError
			require.ErrorAs(t, err, &denied)
			assert.Equal(t, "credential", denied.Field)
		})
	}
}

func TestServiceDeleteForgetsAssignments(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org := e.create(t, TypeOrganization, "org1", nil)
	bob := rbac.Subject{ID: "bob"}
	e.grant(t, "bob", "org-viewer", TypeOrganization, rbac.Ref(TypeOrganization, org.ID), "view_organization")

	require.ErrorIs(t, e.svc.Delete(ctx, bob, TypeOrganization, org.ID), httpx.ErrForbidden)
	require.NoError(t, e.svc.Delete(ctx, admin, TypeOrganization, org.ID))

	_, err := e.repo.Get(ctx, TypeOrganization, org.ID)
	require.True(t, IsNotFound(err))
	assignments, err := e.authz.Assignments(ctx, rbac.AssignmentFilter{Subject: "bob"})
	require.NoError(t, err)
	assert.Empty(t, assignments)
}

func TestServiceActRequiresCustomPermission(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	org := e.create(t, TypeOrganization, "org1", nil)
	cow := e.create(t, TypeCow, "bessie", map[string]*string{"organization": &org.ID})
	bob := rbac.Subject{ID: "bob"}
	e.grant(t, "bob", "cow-viewer", TypeCow, rbac.Ref(TypeCow, cow.ID), "view_cow")

	_, err := e.svc.Act(ctx, bob, TypeCow, cow.ID, "say")
	require.ErrorIs(t, err, httpx.ErrForbidden)

	e.grant(t, "bob", "cow-talker", TypeCow, rbac.Ref(TypeCow, cow.ID), "say_cow")
	_, err = e.svc.Act(ctx, bob, TypeCow, cow.ID, "say")
	require.NoError(t, err)

	_, err = e.svc.Act(ctx, bob, TypeCow, cow.ID, "dance")
	require.True(t, errors.Is(err, httpx.ErrNotFound))
}

type failingCreatorGrants struct {
	*rbac.Service
}

func (failingCreatorGrants) GiveCreatorPermissions(context.Context, string, rbac.ObjectRef) (rbac.Assignment, error) {
	return rbac.Assignment{}, errors.New("store offline")
}

func TestServiceCreateRollsBackWhenCreatorGrantFails(t *testing.T) {
	e := newEnv(t, nil)
	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	svc := NewService(e.repo, e.reg, failingCreatorGrants{e.authz}, nil, logger)
	e.grant(t, "bob", "global-org-adder", "", nil, "add_organization", "view_organization")

	_, err := svc.Create(ctx, rbac.Subject{ID: "bob"}, TypeOrganization, Input{Name: strPtr("org1")})
	require.Error(t, err)

	all, err := e.svc.List(ctx, admin, TypeOrganization)
	require.NoError(t, err)
	assert.Empty(t, all)
	ids, err := e.authz.VisibleIDs(ctx, rbac.Subject{ID: "bob"}, "view_organization", TypeOrganization)
	require.NoError(t, err)
	assert.Empty(t, ids, "object index no longer tracks the rolled back object")
}
