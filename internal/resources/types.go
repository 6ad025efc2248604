package resources

import (
	"github.com/odyssey-erp/odyssey-rbac/internal/rbac"
)

// Action is a custom object endpoint guarded by its own <action>_<type> permission.
type Action struct {
	Permission string
	Detail     string
}

// Kind binds a governed type to its URL collection and custom actions.
type Kind struct {
	Type    string
	Path    string
	Actions map[string]Action
}

// Kinds lists the governed models in registration order.
var Kinds = []Kind{
	{Type: TypeOrganization, Path: "organizations"},
	{Type: TypeCredential, Path: "credentials"},
	{Type: TypeInventory, Path: "inventories"},
	{Type: TypeCow, Path: "cows", Actions: map[string]Action{"cowsay": {Permission: "say", Detail: "moooooo"}}},
}

func crud(typ string, extra ...string) []string {
	perms := []string{"add_" + typ, "view_" + typ, "change_" + typ, "delete_" + typ}
	return append(perms, extra...)
}

// Register declares the governed models on reg.
func Register(reg *rbac.Registry) error {
	orgParent := &rbac.ParentRelation{Field: "organization", Type: TypeOrganization}
	types := []rbac.ResourceType{
		{Name: TypeOrganization, Permissions: crud(TypeOrganization)},
		{Name: TypeCredential, Permissions: crud(TypeCredential, "use_credential"), Parent: orgParent},
		{
			Name:        TypeInventory,
			Permissions: crud(TypeInventory),
			Parent:      orgParent,
			Related:     []rbac.RelatedField{{Field: "credential", Type: TypeCredential}},
		},
		{Name: TypeCow, Permissions: crud(TypeCow, "say_cow"), Parent: orgParent},
	}
	for _, rt := range types {
		if err := reg.Register(rt); err != nil {
			return err
		}
	}
	return nil
}
