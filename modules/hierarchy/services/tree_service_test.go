package services

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

func TestCreateHierarchy_DefaultsMaxDepth(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(0)
	require.Equal(t, defaultMaxDepth, h.MaxDepth)
	require.True(t, h.IsActive)
	require.Equal(t, f.tenantID, h.OrganizationID)

	_, err := f.tree.CreateHierarchy(f.ctx, f.tenantID, CreateHierarchyInput{Name: "x", Type: "pyramid"})
	requireCode(t, err, ErrInvalidBody)

	got, err := f.tree.GetHierarchy(f.ctx, f.tenantID, h.ID)
	require.NoError(t, err)
	require.Equal(t, h, got)

	_, err = f.tree.GetHierarchy(f.ctx, f.tenantID, uuid.New())
	requireCode(t, err, ErrNotFound)
}

func TestCreateNode_DerivesLevelAndPath(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)

	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)
	c := f.node(h, "C", tree.NodePosition, &b)

	require.True(t, a.IsRoot())
	require.Equal(t, 0, a.Level)
	require.Equal(t, a.ID.String(), a.MaterializedPath)
	require.Equal(t, 1, b.Level)
	require.Equal(t, path(a.ID, b.ID), b.MaterializedPath)
	require.Equal(t, 2, c.Level)
	require.Equal(t, path(a.ID, b.ID, c.ID), c.MaterializedPath)
	f.requireDerived(a.ID, b.ID, c.ID)
}

func TestCreateNode_InvalidParent(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	other := f.hierarchy(5)
	foreign := f.node(other, "Foreign", tree.NodeDepartment, nil)

	missing := uuid.New()
	_, err := f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, ParentID: &missing, Name: "x", Type: tree.NodeTeam})
	requireCode(t, err, ErrInvalidParent)

	_, err = f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, ParentID: &foreign.ID, Name: "x", Type: tree.NodeTeam})
	requireCode(t, err, ErrInvalidParent)

	gone := f.node(h, "Gone", tree.NodeDepartment, nil)
	_, err = f.tree.DeactivateNode(f.ctx, f.tenantID, gone.ID)
	require.NoError(t, err)
	_, err = f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, ParentID: &gone.ID, Name: "x", Type: tree.NodeTeam})
	requireCode(t, err, ErrInvalidParent)

	_, err = f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: uuid.New(), Name: "x", Type: tree.NodeTeam})
	requireCode(t, err, ErrInvalidEndpoint)

	_, err = f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, Name: "  ", Type: tree.NodeTeam})
	requireCode(t, err, ErrInvalidBody)
}

func TestCreateNode_DepthExceeded(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(1)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)

	_, err := f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, ParentID: &b.ID, Name: "C", Type: tree.NodePosition})
	requireCode(t, err, ErrDepthExceeded)
}

func TestGetChildren_OrderAndActiveFilter(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	root := f.node(h, "Root", tree.NodeDepartment, nil)

	mk := func(name string, order int) tree.Node {
		n, err := f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, ParentID: &root.ID, Name: name, Type: tree.NodeTeam, Order: order})
		require.NoError(t, err)
		return n
	}
	second := mk("second", 2)
	firstA := mk("first-a", 1)
	firstB := mk("first-b", 1)

	_, err := f.tree.DeactivateNode(f.ctx, f.tenantID, firstB.ID)
	require.NoError(t, err)

	active, err := f.tree.GetChildren(f.ctx, f.tenantID, root.ID, true)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{firstA.ID, second.ID}, ids(active))

	all, err := f.tree.GetChildren(f.ctx, f.tenantID, root.ID, false)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{firstA.ID, firstB.ID, second.ID}, ids(all))

	_, err = f.tree.GetChildren(f.ctx, f.tenantID, uuid.New(), true)
	requireCode(t, err, ErrNotFound)
}

func TestGetAncestors_WalksParentPointersNotPath(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)
	c := f.node(h, "C", tree.NodePosition, &b)

	stale := f.reload(c.ID)
	stale.MaterializedPath = "garbage"
	f.store.corrupt(stale)

	ancestors, err := f.tree.GetAncestors(f.ctx, f.tenantID, c.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{b.ID, a.ID}, ids(ancestors))

	p, err := f.tree.GetPath(f.ctx, f.tenantID, c.ID)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{a.ID, b.ID, c.ID}, ids(p))
}

func TestGetAncestors_CycleIsInternalConsistency(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)

	looped := f.reload(a.ID)
	looped.ParentID = &b.ID
	f.store.corrupt(looped)

	_, err := f.tree.GetAncestors(f.ctx, f.tenantID, b.ID)
	requireCode(t, err, ErrInternalConsistency)
}

func TestGetAncestors_OverrunIsInternalConsistency(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(1)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)
	c := f.node(h, "C", tree.NodeTeam, nil)
	d := f.node(h, "D", tree.NodeTeam, nil)

	// Chain d -> c -> b -> a is three steps, beyond the cap of max depth + 1.
	for _, pair := range [][2]tree.Node{{c, b}, {d, c}} {
		n := f.reload(pair[0].ID)
		parentID := pair[1].ID
		n.ParentID = &parentID
		f.store.corrupt(n)
	}

	_, err := f.tree.GetAncestors(f.ctx, f.tenantID, d.ID)
	requireCode(t, err, ErrInternalConsistency)
}

func TestGetDescendants_BreadthFirstWithDepthCap(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b1 := f.node(h, "B1", tree.NodeTeam, &a)
	b2 := f.node(h, "B2", tree.NodeTeam, &a)
	c1 := f.node(h, "C1", tree.NodePosition, &b1)
	c2 := f.node(h, "C2", tree.NodePosition, &b2)

	all, err := f.tree.GetDescendants(f.ctx, f.tenantID, a.ID, 0)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{b1.ID, b2.ID, c1.ID, c2.ID}, ids(all))

	shallow, err := f.tree.GetDescendants(f.ctx, f.tenantID, a.ID, 1)
	require.NoError(t, err)
	require.Equal(t, []uuid.UUID{b1.ID, b2.ID}, ids(shallow))

	_, err = f.tree.GetDescendants(f.ctx, f.tenantID, a.ID, -1)
	requireCode(t, err, ErrInvalidBody)
}

func TestReparent_RecomputesWholeSubtree(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	x := f.node(h, "X", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)
	c := f.node(h, "C", tree.NodePosition, &b)
	d := f.node(h, "D", tree.NodePosition, &c)

	order := 7
	moved, err := f.tree.Reparent(f.ctx, f.tenantID, b.ID, ReparentInput{NewParentID: &x.ID, NewOrder: &order})
	require.NoError(t, err)
	require.Equal(t, x.ID, *moved.ParentID)
	require.Equal(t, 7, moved.Order)
	require.Equal(t, path(x.ID, b.ID), moved.MaterializedPath)
	require.Equal(t, path(x.ID, b.ID, c.ID, d.ID), f.reload(d.ID).MaterializedPath)
	f.requireDerived(a.ID, x.ID, b.ID, c.ID, d.ID)

	root, err := f.tree.Reparent(f.ctx, f.tenantID, b.ID, ReparentInput{})
	require.NoError(t, err)
	require.True(t, root.IsRoot())
	require.Equal(t, 0, root.Level)
	require.Equal(t, path(b.ID, c.ID), f.reload(c.ID).MaterializedPath)
	f.requireDerived(b.ID, c.ID, d.ID)
}

func TestReparent_RejectsCyclesWithoutChanges(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)
	c := f.node(h, "C", tree.NodePosition, &b)

	before := f.store.state.clone()

	_, err := f.tree.Reparent(f.ctx, f.tenantID, a.ID, ReparentInput{NewParentID: &a.ID})
	requireCode(t, err, ErrCircularReference)

	_, err = f.tree.Reparent(f.ctx, f.tenantID, a.ID, ReparentInput{NewParentID: &c.ID})
	requireCode(t, err, ErrCircularReference)

	require.Equal(t, before.nodes, f.store.state.nodes)
	require.NotEmpty(t, f.events.rejections)
	require.Equal(t, CodeCircularReference, f.events.rejections[len(f.events.rejections)-1].Code)
}

func TestReparent_DepthExceededCountsSubtree(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(2)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)
	x := f.node(h, "X", tree.NodeTeam, nil)
	f.node(h, "Y", tree.NodePosition, &x)

	_, err := f.tree.Reparent(f.ctx, f.tenantID, x.ID, ReparentInput{NewParentID: &b.ID})
	requireCode(t, err, ErrDepthExceeded)

	_, err = f.tree.Reparent(f.ctx, f.tenantID, x.ID, ReparentInput{NewParentID: &a.ID})
	require.NoError(t, err)
}

func TestReparent_RetiresStaleHierarchicalEdge(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	x := f.node(h, "X", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, nil)

	edge, err := f.link(h, a, b, tree.RelationshipHierarchical)
	require.NoError(t, err)

	_, err = f.tree.Reparent(f.ctx, f.tenantID, b.ID, ReparentInput{NewParentID: &x.ID})
	require.NoError(t, err)

	stored, err := f.store.GetRelationship(f.ctx, f.tenantID, edge.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)
	require.NotNil(t, stored.EffectiveTo)

	current, ok, err := f.store.FindActiveHierarchicalEdge(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, x.ID, current.ParentNodeID)
	require.Equal(t, h.ID, current.HierarchyID)

	_, err = f.tree.Reparent(f.ctx, f.tenantID, b.ID, ReparentInput{NewParentID: &x.ID})
	require.NoError(t, err)
	same, ok, err := f.store.FindActiveHierarchicalEdge(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, current.ID, same.ID, "moving under the same parent keeps the edge")

	_, err = f.tree.Reparent(f.ctx, f.tenantID, b.ID, ReparentInput{})
	require.NoError(t, err)
	_, ok, err = f.store.FindActiveHierarchicalEdge(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestReparent_RejectsIncompatibleParent(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	dept := f.node(h, "Sales", tree.NodeDepartment, nil)
	loc := f.node(h, "Riga", tree.NodeLocation, nil)

	before := f.store.state.clone()
	_, err := f.tree.Reparent(f.ctx, f.tenantID, loc.ID, ReparentInput{NewParentID: &dept.ID})
	requireCode(t, err, ErrInvalidRelationshipType)
	require.Equal(t, before.nodes, f.store.state.nodes)
	require.Equal(t, before.rels, f.store.state.rels)
}

func TestReparent_RejectsInactiveNode(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, nil)

	_, err := f.tree.DeactivateNode(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)

	_, err = f.tree.Reparent(f.ctx, f.tenantID, b.ID, ReparentInput{NewParentID: &a.ID})
	requireCode(t, err, ErrInvalidEndpoint)
	gone := f.reload(b.ID)
	require.True(t, gone.IsRoot())
	require.False(t, gone.IsActive)
	_, ok, err := f.store.FindActiveHierarchicalEdge(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCreateNode_RecordsHierarchicalEdge(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)

	edge, ok, err := f.store.FindActiveHierarchicalEdge(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, a.ID, edge.ParentNodeID)
	require.Equal(t, h.ID, edge.HierarchyID)
	require.Equal(t, 1.0, edge.Strength)

	_, ok, err = f.store.FindActiveHierarchicalEdge(f.ctx, f.tenantID, a.ID)
	require.NoError(t, err)
	require.False(t, ok, "roots have no incoming edge")

	last := f.events.changes[len(f.events.changes)-1]
	require.Equal(t, "relationship.created", last.ChangeType)
	require.Equal(t, edge.ID, last.EntityID)

	before := f.store.state.clone()
	_, err = f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, ParentID: &a.ID, Name: "Riga", Type: tree.NodeLocation})
	requireCode(t, err, ErrInvalidRelationshipType)
	require.Equal(t, before.nodes, f.store.state.nodes)
	require.Equal(t, before.rels, f.store.state.rels)
}

func TestTreeWrites_TakeHierarchyLock(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)

	requireLocked := func(op string, run func() error) {
		t.Helper()
		f.store.locks = nil
		require.NoError(t, run(), op)
		require.NotEmpty(t, f.store.locks, op)
		for _, id := range f.store.locks {
			require.Equal(t, h.ID, id, op)
		}
	}

	var a, b, c tree.Node
	requireLocked("create node", func() (err error) {
		a, err = f.tree.CreateNode(f.ctx, f.tenantID, CreateNodeInput{HierarchyID: h.ID, Name: "A", Type: tree.NodeDepartment})
		return err
	})
	b = f.node(h, "B", tree.NodeTeam, nil)
	c = f.node(h, "C", tree.NodeTeam, nil)

	var edge tree.Relationship
	requireLocked("create relationship", func() (err error) {
		edge, err = f.link(h, a, b, tree.RelationshipHierarchical)
		return err
	})
	requireLocked("bulk create relationships", func() error {
		_, err := f.rels.BulkCreateRelationships(f.ctx, f.tenantID, []CreateRelationshipInput{
			{HierarchyID: h.ID, ParentNodeID: b.ID, ChildNodeID: c.ID, Type: tree.RelationshipHierarchical},
		})
		return err
	})
	requireLocked("reparent", func() error {
		_, err := f.tree.Reparent(f.ctx, f.tenantID, c.ID, ReparentInput{NewParentID: &a.ID})
		return err
	})
	requireLocked("remove relationship", func() error {
		_, err := f.rels.RemoveRelationship(f.ctx, f.tenantID, edge.ID)
		return err
	})
	requireLocked("deactivate node", func() error {
		_, err := f.tree.DeactivateNode(f.ctx, f.tenantID, b.ID)
		return err
	})

	f.store.locks = nil
	_, err := f.tree.GetDescendants(f.ctx, f.tenantID, a.ID, 0)
	require.NoError(t, err)
	require.Empty(t, f.store.locks, "reads take no lock")
}

func TestValidatePosition_ReportsDriftWithoutFixing(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)

	findings, err := f.tree.ValidatePosition(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.Empty(t, findings)

	drifted := f.reload(b.ID)
	drifted.Level = 4
	drifted.MaterializedPath = b.ID.String()
	f.store.corrupt(drifted)

	findings, err = f.tree.ValidatePosition(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.Len(t, findings, 2)
	require.Equal(t, CodeLevelInconsistency, findings[0].Code)
	require.Equal(t, "1", findings[0].Expected)
	require.Equal(t, "4", findings[0].Actual)
	require.Equal(t, CodePathInconsistency, findings[1].Code)
	require.Equal(t, path(a.ID, b.ID), findings[1].Expected)

	require.Equal(t, drifted, f.reload(b.ID))
	require.NotEmpty(t, f.events.reports)
	require.Equal(t, 2, f.events.reports[len(f.events.reports)-1].Count)
}

func TestValidatePosition_CycleIsAFinding(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, &a)

	looped := f.reload(a.ID)
	looped.ParentID = &b.ID
	f.store.corrupt(looped)

	findings, err := f.tree.ValidatePosition(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.Len(t, findings, 1)
	require.Equal(t, CodeCircularReference, findings[0].Code)
}

func TestDeactivateNode(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	a := f.node(h, "A", tree.NodeDepartment, nil)
	b := f.node(h, "B", tree.NodeTeam, nil)
	edge, err := f.link(h, a, b, tree.RelationshipHierarchical)
	require.NoError(t, err)

	_, err = f.tree.DeactivateNode(f.ctx, f.tenantID, a.ID)
	requireCode(t, err, ErrNodeHasActiveChildren)
	require.True(t, f.reload(a.ID).IsActive)

	gone, err := f.tree.DeactivateNode(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.False(t, gone.IsActive)
	require.NotNil(t, gone.EffectiveTo)

	stored, err := f.store.GetRelationship(f.ctx, f.tenantID, edge.ID)
	require.NoError(t, err)
	require.False(t, stored.IsActive)

	again, err := f.tree.DeactivateNode(f.ctx, f.tenantID, b.ID)
	require.NoError(t, err)
	require.Equal(t, gone, again)

	_, err = f.tree.DeactivateNode(f.ctx, f.tenantID, a.ID)
	require.NoError(t, err)
}

func TestClaimAndReleaseNode(t *testing.T) {
	f := newFixture(t)
	h := f.hierarchy(5)
	n := f.node(h, "Seat", tree.NodePosition, nil)
	alice, bob := uuid.New(), uuid.New()

	claimed, err := f.tree.ClaimNode(f.ctx, f.tenantID, n.ID, alice)
	require.NoError(t, err)
	require.Equal(t, alice, *claimed.UserID)

	_, err = f.tree.ClaimNode(f.ctx, f.tenantID, n.ID, alice)
	require.NoError(t, err)

	_, err = f.tree.ClaimNode(f.ctx, f.tenantID, n.ID, bob)
	requireCode(t, err, ErrNodeAlreadyClaimed)

	_, err = f.tree.ReleaseNode(f.ctx, f.tenantID, n.ID, bob)
	requireCode(t, err, ErrNodeAlreadyClaimed)

	released, err := f.tree.ReleaseNode(f.ctx, f.tenantID, n.ID, alice)
	require.NoError(t, err)
	require.Nil(t, released.UserID)

	_, err = f.tree.ClaimNode(f.ctx, f.tenantID, n.ID, bob)
	require.NoError(t, err)

	_, err = f.tree.ClaimNode(f.ctx, f.tenantID, uuid.New(), bob)
	requireCode(t, err, ErrNotFound)
}

func ids(nodes []tree.Node) []uuid.UUID {
	out := make([]uuid.UUID, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.ID)
	}
	return out
}
