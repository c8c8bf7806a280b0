package persistence_test

import (
	"context"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/infrastructure/persistence"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
	"github.com/iota-uz/iota-hierarchy/pkg/configuration"
)

func canDialPostgres(tb testing.TB) bool {
	tb.Helper()

	cfg := configuration.Use()
	host := strings.TrimSpace(cfg.Database.Host)
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(cfg.Database.Port)
	if port == "" {
		port = "5432"
	}
	addr := net.JoinHostPort(host, port)

	dialer := &net.Dialer{Timeout: 250 * time.Millisecond}
	ctx, cancel := context.WithTimeout(context.Background(), 250*time.Millisecond)
	defer cancel()

	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}

func setupPool(t *testing.T) context.Context {
	t.Helper()
	if !canDialPostgres(t) {
		t.Skip("postgres is not reachable")
	}
	conf := configuration.Use()
	ctx := context.Background()

	log := logrus.New()
	log.SetLevel(logrus.WarnLevel)
	require.NoError(t, persistence.Migrate(ctx, conf.Database.Opts, persistence.MigrateUp, log))

	pool, err := pgxpool.New(ctx, conf.Database.Opts)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return composables.WithPool(ctx, pool)
}

func TestPgRepositories_TreeAndRelationships(t *testing.T) {
	ctx := setupPool(t)
	tenantID := uuid.New()

	repo := persistence.NewHierarchyRepository()
	tx := services.NewPgTransactor()
	treeSvc := services.NewTreeService(repo, tx)
	relSvc := services.NewRelationshipService(repo, tx)

	h, err := treeSvc.CreateHierarchy(ctx, tenantID, services.CreateHierarchyInput{Name: "Reporting", Type: tree.HierarchyReporting, MaxDepth: 2})
	require.NoError(t, err)

	a, err := treeSvc.CreateNode(ctx, tenantID, services.CreateNodeInput{HierarchyID: h.ID, Name: "A", Type: tree.NodeDepartment, Metadata: map[string]any{"cost_center": "100"}})
	require.NoError(t, err)
	b, err := treeSvc.CreateNode(ctx, tenantID, services.CreateNodeInput{HierarchyID: h.ID, Name: "B", Type: tree.NodeTeam})
	require.NoError(t, err)
	c, err := treeSvc.CreateNode(ctx, tenantID, services.CreateNodeInput{HierarchyID: h.ID, Name: "C", Type: tree.NodeTeam})
	require.NoError(t, err)
	d, err := treeSvc.CreateNode(ctx, tenantID, services.CreateNodeInput{HierarchyID: h.ID, Name: "D", Type: tree.NodeTeam})
	require.NoError(t, err)

	link := func(parent, child tree.Node) error {
		_, err := relSvc.CreateRelationship(ctx, tenantID, services.CreateRelationshipInput{
			HierarchyID: h.ID, ParentNodeID: parent.ID, ChildNodeID: child.ID, Type: tree.RelationshipHierarchical,
		})
		return err
	}
	require.NoError(t, link(a, b))
	require.NoError(t, link(b, c))
	require.ErrorIs(t, link(c, d), services.ErrDepthExceeded)
	require.ErrorIs(t, link(a, c), services.ErrDuplicateHierarchicalParent)
	require.ErrorIs(t, link(c, a), services.ErrCircularReference)

	stored, err := treeSvc.GetNode(ctx, tenantID, c.ID)
	require.NoError(t, err)
	require.Equal(t, 2, stored.Level)
	require.Equal(t, strings.Join([]string{a.ID.String(), b.ID.String(), c.ID.String()}, "/"), stored.MaterializedPath)

	root, err := treeSvc.GetNode(ctx, tenantID, a.ID)
	require.NoError(t, err)
	require.Equal(t, "100", root.Metadata["cost_center"])

	e, err := treeSvc.CreateNode(ctx, tenantID, services.CreateNodeInput{HierarchyID: h.ID, ParentID: &a.ID, Name: "E", Type: tree.NodeTeam})
	require.NoError(t, err)
	require.ErrorIs(t, link(b, e), services.ErrDuplicateHierarchicalParent)
	_, err = treeSvc.Reparent(ctx, tenantID, e.ID, services.ReparentInput{NewParentID: &b.ID})
	require.NoError(t, err)
	require.ErrorIs(t, link(a, e), services.ErrDuplicateHierarchicalParent)

	findings, err := relSvc.ValidateHierarchyIntegrity(ctx, tenantID, h.ID)
	require.NoError(t, err)
	require.Empty(t, findings)

	_, err = treeSvc.GetNode(ctx, uuid.New(), c.ID)
	require.ErrorIs(t, err, services.ErrNotFound)
}

func TestPgRepositories_RolesAndPermissions(t *testing.T) {
	ctx := setupPool(t)
	tenantID := uuid.New()

	accessRepo := persistence.NewAccessRepository()
	nodeRepo := persistence.NewHierarchyRepository()
	tx := services.NewPgTransactor()
	roles := services.NewRoleService(accessRepo, nodeRepo, tx)
	resolver := services.NewPermissionResolver(accessRepo, tx)

	r, err := roles.CreateRole(ctx, tenantID, services.CreateRoleInput{
		Name:   "Approver",
		Config: []byte(`{"type":"conditional","conditions":[{"attribute":"amount","operator":"lt","value":1000}]}`),
		Permissions: []services.PermissionInput{
			{ResourceType: "invoice", Action: "approve", Effect: access.EffectAllow, Priority: 10},
			{ResourceType: "invoice", Action: "approve", Effect: access.EffectDeny, Priority: 1},
		},
	})
	require.NoError(t, err)
	require.Equal(t, access.KindConditional, r.Config.Kind())

	_, err = roles.ActivateRole(ctx, tenantID, r.ID)
	require.NoError(t, err)

	dup, err := roles.CreateRole(ctx, tenantID, services.CreateRoleInput{Name: "approver"})
	require.NoError(t, err)
	_, err = roles.ActivateRole(ctx, tenantID, dup.ID)
	require.ErrorIs(t, err, services.ErrDuplicateRoleName)

	ok, err := resolver.HasPermission(ctx, tenantID, r.ID, "approve", "invoice", access.Filter{})
	require.NoError(t, err)
	require.False(t, ok)

	eff, err := resolver.GetEffectivePermissions(ctx, tenantID, r.ID, access.Filter{})
	require.NoError(t, err)
	require.Equal(t, access.EffectAllow, eff["invoice:approve"].Effect)

	_, err = roles.DeactivateRole(ctx, tenantID, r.ID)
	require.NoError(t, err)
	perms, err := resolver.GetPermissions(ctx, tenantID, r.ID, access.Filter{})
	require.NoError(t, err)
	require.Empty(t, perms)
}
