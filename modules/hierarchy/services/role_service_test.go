package services

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

func allow(resource, action string, priority int) PermissionInput {
	return PermissionInput{ResourceType: resource, Action: action, Effect: access.EffectAllow, Priority: priority}
}

func deny(resource, action string, priority int) PermissionInput {
	return PermissionInput{ResourceType: resource, Action: action, Effect: access.EffectDeny, Priority: priority}
}

func TestCreateRole_StartsInactiveWithPermissions(t *testing.T) {
	f := newFixture(t)
	r := f.role(CreateRoleInput{
		Name:        "  Editor ",
		Permissions: []PermissionInput{allow("document", "read", 1), deny("document", "delete", 5)},
	})
	require.Equal(t, "Editor", r.Name)
	require.False(t, r.IsActive)
	require.Equal(t, access.ScopeOrganization, r.Scope)
	require.Equal(t, access.KindStatic, r.Config.Kind())
	require.Equal(t, f.tenantID, r.OrganizationID)

	perms, err := f.store.ListPermissions(f.ctx, f.tenantID, r.ID, true)
	require.NoError(t, err)
	require.Len(t, perms, 2)
}

func TestCreateRole_ConfigErrors(t *testing.T) {
	f := newFixture(t)

	cases := []struct {
		name     string
		config   string
		sentinel *ServiceError
	}{
		{"hierarchical without rules", `{"type":"hierarchical"}`, ErrMissingInheritanceRules},
		{"conditional without conditions", `{"type":"conditional","conditions":[]}`, ErrMissingConditions},
		{"unknown type", `{"type":"seasonal"}`, ErrInvalidConfig},
		{"bad operator", `{"type":"conditional","conditions":[{"attribute":"dept","operator":"like","value":"x"}]}`, ErrInvalidConfig},
		{"malformed", `{"type":`, ErrInvalidConfig},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.roles.CreateRole(f.ctx, f.tenantID, CreateRoleInput{Name: tc.name, Config: json.RawMessage(tc.config)})
			requireCode(t, err, tc.sentinel)
		})
	}

	r := f.role(CreateRoleInput{
		Name:   "Inherited",
		Config: json.RawMessage(`{"type":"hierarchical","inheritance_rules":[{"direction":"down","max_levels":2}]}`),
	})
	require.Equal(t, access.KindHierarchical, r.Config.Kind())

	_, err := f.roles.CreateRole(f.ctx, f.tenantID, CreateRoleInput{Name: "Scoped", Scope: access.ScopeNode})
	requireCode(t, err, ErrInvalidBody)

	_, err = f.roles.CreateRole(f.ctx, f.tenantID, CreateRoleInput{Name: "Bad perm", Permissions: []PermissionInput{{ResourceType: "doc", Action: "read", Effect: "maybe"}}})
	requireCode(t, err, ErrInvalidBody)
}

func TestActivateRole_DuplicateActiveName(t *testing.T) {
	f := newFixture(t)
	f.activeRole("Manager")

	dup := f.role(CreateRoleInput{Name: "Manager"})
	_, err := f.roles.ActivateRole(f.ctx, f.tenantID, dup.ID)
	requireCode(t, err, ErrDuplicateRoleName)

	stored, err := f.roles.GetRole(f.ctx, f.tenantID, dup.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	other := newFixture(t)
	other.activeRole("Manager")
}

func TestActivateRole_ValidatesBinding(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	other := f.hierarchy(5)
	n := f.node(h, "A", tree.NodeDepartment, nil)

	missing := uuid.New()
	r := f.role(CreateRoleInput{Name: "Ghost", Scope: access.ScopeNode, NodeID: &missing})
	_, err := f.roles.ActivateRole(f.ctx, f.tenantID, r.ID)
	requireCode(t, err, ErrInvalidEndpoint)

	r = f.role(CreateRoleInput{Name: "Mismatch", Scope: access.ScopeNode, HierarchyID: &other.ID, NodeID: &n.ID})
	_, err = f.roles.ActivateRole(f.ctx, f.tenantID, r.ID)
	requireCode(t, err, ErrHierarchyMismatch)

	r = f.role(CreateRoleInput{Name: "Bound", Scope: access.ScopeNode, HierarchyID: &h.ID, NodeID: &n.ID})
	r, err = f.roles.ActivateRole(f.ctx, f.tenantID, r.ID)
	require.NoError(t, err)
	require.True(t, r.IsActive)

	again, err := f.roles.ActivateRole(f.ctx, f.tenantID, r.ID)
	require.NoError(t, err)
	require.Equal(t, r, again)

	_, err = f.roles.ActivateRole(f.ctx, f.tenantID, uuid.New())
	requireCode(t, err, ErrNotFound)
}

func TestBulkActivateRoles_AllOrNothing(t *testing.T) {
	f := newFixture(t)
	f.activeRole("Taken")
	a := f.role(CreateRoleInput{Name: "A"})
	b := f.role(CreateRoleInput{Name: "Taken"})

	_, err := f.roles.BulkActivateRoles(f.ctx, f.tenantID, []uuid.UUID{a.ID, b.ID})
	requireCode(t, err, ErrDuplicateRoleName)
	var itemErr *BulkItemError
	require.True(t, errors.As(err, &itemErr))
	require.Equal(t, 1, itemErr.Index)

	stored, err := f.roles.GetRole(f.ctx, f.tenantID, a.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	c := f.role(CreateRoleInput{Name: "C"})
	out, err := f.roles.BulkActivateRoles(f.ctx, f.tenantID, []uuid.UUID{a.ID, c.ID})
	require.NoError(t, err)
	require.Len(t, out, 2)
	for _, r := range out {
		require.True(t, r.IsActive)
	}
}

func TestDeactivateRole_CascadesToPermissions(t *testing.T) {
	f := newFixture(t)
	r := f.activeRole("Auditor", allow("ledger", "read", 1), allow("ledger", "export", 1))

	gone, err := f.roles.DeactivateRole(f.ctx, f.tenantID, r.ID)
	require.NoError(t, err)
	require.False(t, gone.IsActive)
	require.NotNil(t, gone.EffectiveTo)

	active, err := f.store.ListPermissions(f.ctx, f.tenantID, r.ID, true)
	require.NoError(t, err)
	require.Empty(t, active)

	all, err := f.store.ListPermissions(f.ctx, f.tenantID, r.ID, false)
	require.NoError(t, err)
	require.Len(t, all, 2)

	// The name is free again once the holder is inactive.
	f.activeRole("Auditor")
}

func TestSystemRoles_AreImmutable(t *testing.T) {
	f := newFixture(t)
	r := f.role(CreateRoleInput{Name: "Root", IsSystem: true, Permissions: []PermissionInput{allow("*", "*", 1000)}})
	r, err := f.roles.ActivateRole(f.ctx, f.tenantID, r.ID)
	require.NoError(t, err)

	name := "Renamed"
	_, err = f.roles.UpdateRole(f.ctx, f.tenantID, r.ID, UpdateRoleInput{Name: &name})
	requireCode(t, err, ErrSystemRoleImmutable)

	_, err = f.roles.DeactivateRole(f.ctx, f.tenantID, r.ID)
	requireCode(t, err, ErrSystemRoleImmutable)

	_, err = f.roles.GrantPermission(f.ctx, f.tenantID, r.ID, allow("doc", "read", 1))
	requireCode(t, err, ErrSystemRoleImmutable)

	perms, err := f.store.ListPermissions(f.ctx, f.tenantID, r.ID, true)
	require.NoError(t, err)
	_, err = f.roles.RevokePermission(f.ctx, f.tenantID, perms[0].ID)
	requireCode(t, err, ErrSystemRoleImmutable)

	stored, err := f.roles.GetRole(f.ctx, f.tenantID, r.ID)
	require.NoError(t, err)
	require.True(t, stored.IsActive)
	require.Equal(t, "Root", stored.Name)
}

func TestUpdateRole(t *testing.T) {
	f := newFixture(t)
	f.activeRole("Viewer")
	r := f.activeRole("Editor")

	taken := "Viewer"
	_, err := f.roles.UpdateRole(f.ctx, f.tenantID, r.ID, UpdateRoleInput{Name: &taken})
	requireCode(t, err, ErrDuplicateRoleName)

	name, priority := "Senior editor", 40
	updated, err := f.roles.UpdateRole(f.ctx, f.tenantID, r.ID, UpdateRoleInput{
		Name:     &name,
		Priority: &priority,
		Config:   json.RawMessage(`{"type":"contextual","context_keys":["region"]}`),
	})
	require.NoError(t, err)
	require.Equal(t, name, updated.Name)
	require.Equal(t, 40, updated.Priority)
	require.Equal(t, access.KindContextual, updated.Config.Kind())

	_, err = f.roles.UpdateRole(f.ctx, f.tenantID, r.ID, UpdateRoleInput{Config: json.RawMessage(`{"type":"temporal"}`)})
	requireCode(t, err, ErrInvalidConfig)
}

func TestCloneRole_CopiesActivePermissions(t *testing.T) {
	f := newFixture(t)
	src := f.activeRole("Source", allow("doc", "read", 3))
	revoked, err := f.roles.GrantPermission(f.ctx, f.tenantID, src.ID, allow("doc", "write", 2))
	require.NoError(t, err)
	_, err = f.roles.RevokePermission(f.ctx, f.tenantID, revoked.ID)
	require.NoError(t, err)

	clone, err := f.roles.CloneRole(f.ctx, f.tenantID, src.ID, "Copy")
	require.NoError(t, err)
	require.NotEqual(t, src.ID, clone.ID)
	require.Equal(t, "Copy", clone.Name)
	require.False(t, clone.IsActive)
	require.False(t, clone.IsSystem)

	srcPerms, err := f.store.ListPermissions(f.ctx, f.tenantID, src.ID, true)
	require.NoError(t, err)
	copied, err := f.store.ListPermissions(f.ctx, f.tenantID, clone.ID, true)
	require.NoError(t, err)
	require.Len(t, copied, 1)
	require.NotEqual(t, srcPerms[0].ID, copied[0].ID)
	require.Equal(t, clone.ID, copied[0].RoleID)
	require.Equal(t, "read", copied[0].Action)
	require.Equal(t, srcPerms[0].CreatedAt, copied[0].CreatedAt)

	_, err = f.roles.CloneRole(f.ctx, f.tenantID, src.ID, " ")
	requireCode(t, err, ErrInvalidBody)
}

func TestGrantAndRevokePermission(t *testing.T) {
	f := newFixture(t)
	r := f.activeRole("Writer")

	p, err := f.roles.GrantPermission(f.ctx, f.tenantID, r.ID, allow(" doc ", " write ", 10))
	require.NoError(t, err)
	require.Equal(t, "doc", p.ResourceType)
	require.Equal(t, "write", p.Action)
	require.True(t, p.IsActive)

	_, err = f.roles.GrantPermission(f.ctx, f.tenantID, r.ID, PermissionInput{ResourceType: "doc", Action: "write", Effect: access.EffectAllow, Priority: 5000})
	requireCode(t, err, ErrInvalidBody)

	_, err = f.roles.GrantPermission(f.ctx, f.tenantID, uuid.New(), allow("doc", "write", 1))
	requireCode(t, err, ErrNotFound)

	revoked, err := f.roles.RevokePermission(f.ctx, f.tenantID, p.ID)
	require.NoError(t, err)
	require.False(t, revoked.IsActive)

	again, err := f.roles.RevokePermission(f.ctx, f.tenantID, p.ID)
	require.NoError(t, err)
	require.False(t, again.IsActive)

	_, err = f.roles.RevokePermission(f.ctx, f.tenantID, uuid.New())
	requireCode(t, err, ErrNotFound)
}

func TestListRoles_ScopedToTenant(t *testing.T) {
	f := newFixture(t)
	f.role(CreateRoleInput{Name: "One"})
	f.role(CreateRoleInput{Name: "Two"})

	roles, err := f.roles.ListRoles(f.ctx, f.tenantID)
	require.NoError(t, err)
	require.Len(t, roles, 2)

	roles, err = f.roles.ListRoles(f.ctx, uuid.New())
	require.NoError(t, err)
	require.Empty(t, roles)
}
