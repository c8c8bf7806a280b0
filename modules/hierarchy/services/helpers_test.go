package services

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/events"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
	"github.com/iota-uz/iota-hierarchy/pkg/eventbus"
)

func tickingClock() Clock {
	base := time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	n := 0
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		n++
		return base.Add(time.Duration(n) * time.Second)
	}
}

type recordedEvents struct {
	mu         sync.Mutex
	changes    []*events.ChangeEventV1
	rejections []*events.RejectionEventV1
	reports    []*events.IntegrityReportV1
}

type fixture struct {
	t        *testing.T
	ctx      context.Context
	tenantID uuid.UUID
	store    *memStore
	tx       *snapshotTx
	cache    PermissionCache
	events   *recordedEvents

	tree     *TreeService
	rels     *RelationshipService
	roles    *RoleService
	resolver *PermissionResolver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := newMemStore()
	tx := &snapshotTx{store: store}
	cache := NewMemoryPermissionCache(time.Minute)

	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	bus := eventbus.NewEventPublisher(log)
	rec := &recordedEvents{}
	bus.Subscribe(func(e *events.ChangeEventV1) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.changes = append(rec.changes, e)
	})
	bus.Subscribe(func(e *events.RejectionEventV1) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.rejections = append(rec.rejections, e)
	})
	bus.Subscribe(func(e *events.IntegrityReportV1) {
		rec.mu.Lock()
		defer rec.mu.Unlock()
		rec.reports = append(rec.reports, e)
	})

	opts := []Option{
		WithClock(tickingClock()),
		WithAuditor(NewAuditor(bus)),
		WithPermissionCache(cache),
		WithLogger(logrus.NewEntry(log)),
	}
	return &fixture{
		t:        t,
		ctx:      context.Background(),
		tenantID: uuid.New(),
		store:    store,
		tx:       tx,
		cache:    cache,
		events:   rec,
		tree:     NewTreeService(store, tx, opts...),
		rels:     NewRelationshipService(store, tx, opts...),
		roles:    NewRoleService(store, store, tx, opts...),
		resolver: NewPermissionResolver(store, tx, opts...),
	}
}

func (f *fixture) hierarchy(maxDepth int) tree.Hierarchy {
	f.t.Helper()
	h, err := f.tree.CreateHierarchy(f.ctx, f.tenantID, CreateHierarchyInput{
		Name:     "Org chart",
		Type:     tree.HierarchyReporting,
		MaxDepth: maxDepth,
	})
	require.NoError(f.t, err)
	return h
}

func (f *fixture) node(h tree.Hierarchy, name string, typ tree.NodeType, parent *tree.Node) tree.Node {
	f.t.Helper()
	in := CreateNodeInput{HierarchyID: h.ID, Name: name, Type: typ}
	if parent != nil {
		id := parent.ID
		in.ParentID = &id
	}
	n, err := f.tree.CreateNode(f.ctx, f.tenantID, in)
	require.NoError(f.t, err)
	return n
}

func (f *fixture) link(h tree.Hierarchy, parent, child tree.Node, typ tree.RelationshipType) (tree.Relationship, error) {
	return f.rels.CreateRelationship(f.ctx, f.tenantID, CreateRelationshipInput{
		HierarchyID:  h.ID,
		ParentNodeID: parent.ID,
		ChildNodeID:  child.ID,
		Type:         typ,
	})
}

func (f *fixture) reload(id uuid.UUID) tree.Node {
	f.t.Helper()
	n, err := f.store.GetNode(f.ctx, f.tenantID, id)
	require.NoError(f.t, err)
	return n
}

// requireDerived checks level and path of every node against its live ancestors.
func (f *fixture) requireDerived(ids ...uuid.UUID) {
	f.t.Helper()
	for _, id := range ids {
		n := f.reload(id)
		ancestors, err := f.tree.GetAncestors(f.ctx, f.tenantID, id)
		require.NoError(f.t, err)
		require.Equal(f.t, len(ancestors), n.Level, "level of %s", n.Name)
		parts := make([]string, 0, len(ancestors)+1)
		for i := len(ancestors) - 1; i >= 0; i-- {
			parts = append(parts, ancestors[i].ID.String())
		}
		parts = append(parts, id.String())
		require.Equal(f.t, strings.Join(parts, "/"), n.MaterializedPath, "path of %s", n.Name)
	}
}

func (f *fixture) role(in CreateRoleInput) access.Role {
	f.t.Helper()
	r, err := f.roles.CreateRole(f.ctx, f.tenantID, in)
	require.NoError(f.t, err)
	return r
}

func (f *fixture) activeRole(name string, perms ...PermissionInput) access.Role {
	f.t.Helper()
	r := f.role(CreateRoleInput{Name: name, Permissions: perms})
	r, err := f.roles.ActivateRole(f.ctx, f.tenantID, r.ID)
	require.NoError(f.t, err)
	return r
}

func requireCode(t *testing.T, err error, sentinel *ServiceError) {
	t.Helper()
	require.Error(t, err)
	require.ErrorIs(t, err, sentinel, "got %v", err)
}

func path(ids ...uuid.UUID) string {
	parts := make([]string, 0, len(ids))
	for _, id := range ids {
		parts = append(parts, id.String())
	}
	return strings.Join(parts, "/")
}
