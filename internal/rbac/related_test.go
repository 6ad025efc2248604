package rbac

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relatedFixture struct {
	svc  *Service
	inv  ObjectRef
	cred ObjectRef
	org1 ObjectRef
	org2 ObjectRef
}

func newRelatedFixture(t *testing.T) relatedFixture {
	t.Helper()
	svc, _ := newTestService(t)
	seedTree(t, svc)
	ctx := context.Background()
	f := relatedFixture{
		svc:  svc,
		inv:  ObjectRef{Type: "inventory", ID: "inv1"},
		cred: ObjectRef{Type: "credential", ID: "cred1"},
		org1: ObjectRef{Type: "organization", ID: "org1"},
		org2: ObjectRef{Type: "organization", ID: "org2"},
	}
	invAdmin, err := svc.CreateFromPermissions(ctx, "inv-admin", []string{"view_inventory", "change_inventory"}, "inventory")
	require.NoError(t, err)
	_, err = svc.GivePermission(ctx, invAdmin, "alice", &f.inv)
	require.NoError(t, err)
	return f
}

func (f relatedFixture) give(t *testing.T, name string, perms []string, target *ObjectRef) {
	t.Helper()
	ctx := context.Background()
	contentType := ""
	if target != nil {
		contentType = target.Type
	}
	def, _, err := f.svc.GetOrCreate(ctx, name, perms, contentType)
	require.NoError(t, err)
	_, err = f.svc.GivePermission(ctx, def, "alice", target)
	require.NoError(t, err)
}

func TestRelatedDefaultLevelsRequireUse(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, nil)
	ctx := context.Background()
	change := FieldChange{Field: "credential", Next: &f.cred}

	f.give(t, "cred-view", []string{"view_credential"}, &f.cred)
	err := policy.CheckRelated(ctx, user("alice"), "inventory", change)
	var denied *RelatedPermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "credential", denied.FieldName())
	assert.Equal(t, "use_credential", denied.Permission)

	f.give(t, "cred-use", []string{"use_credential", "view_credential"}, &f.cred)
	require.NoError(t, policy.CheckRelated(ctx, user("alice"), "inventory", change))
}

func TestRelatedViewLevelRelaxesCheck(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, []string{"view"})
	change := FieldChange{Field: "credential", Next: &f.cred}

	err := policy.CheckRelated(context.Background(), user("alice"), "inventory", change)
	require.Error(t, err)

	f.give(t, "cred-view", []string{"view_credential"}, &f.cred)
	require.NoError(t, policy.CheckRelated(context.Background(), user("alice"), "inventory", change))
}

func TestRelatedChecksDisabled(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, []string{})
	assert.Empty(t, policy.Levels())

	err := policy.CheckRelated(context.Background(), user("alice"), "inventory", FieldChange{Field: "credential", Next: &f.cred})
	require.NoError(t, err)
}

func TestRelatedParentMoveRequiresAddOnNewParent(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, nil)
	ctx := context.Background()

	unchanged := FieldChange{Field: "organization", Previous: &f.org1, Next: &f.org1}
	require.NoError(t, policy.CheckRelated(ctx, user("alice"), "inventory", unchanged))

	move := FieldChange{Field: "organization", Previous: &f.org1, Next: &f.org2}
	err := policy.CheckRelated(ctx, user("alice"), "inventory", move)
	var denied *RelatedPermissionDeniedError
	require.ErrorAs(t, err, &denied)
	assert.Equal(t, "organization", denied.Field)
	assert.Equal(t, "add_inventory", denied.Permission)

	f.give(t, "org-inv-add", []string{"view_organization", "add_inventory"}, &f.org2)
	require.NoError(t, policy.CheckRelated(ctx, user("alice"), "inventory", move))
}

func TestRelatedClearingParentRequiresGlobalAdd(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, nil)
	ctx := context.Background()
	nullOut := FieldChange{Field: "organization", Previous: &f.org1, Cleared: true}

	f.give(t, "org-inv-add", []string{"add_inventory"}, &f.org1)
	err := policy.CheckRelated(ctx, user("alice"), "inventory", nullOut)
	var denied *RelatedPermissionDeniedError
	require.ErrorAs(t, err, &denied)

	f.give(t, "system-inventory-add", []string{"add_inventory"}, nil)
	require.NoError(t, policy.CheckRelated(ctx, user("alice"), "inventory", nullOut))
}

func TestRelatedClearingOtherFieldIsAllowed(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, nil)

	err := policy.CheckRelated(context.Background(), user("alice"), "inventory", FieldChange{Field: "credential", Previous: &f.cred, Cleared: true})
	require.NoError(t, err)
}

func TestRelatedRejectsUngovernedField(t *testing.T) {
	f := newRelatedFixture(t)
	policy := NewRelatedPolicy(f.svc.Registry(), f.svc, nil)

	err := policy.CheckRelated(context.Background(), user("alice"), "inventory", FieldChange{Field: "owner", Next: &f.cred})
	require.ErrorIs(t, err, ErrValidation)
}
