package services

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

// memStore is an in-memory HierarchyRepository and AccessRepository.
type memStore struct {
	state memState
	// updates counts UpdateNode calls, for asserting that failed writes never started.
	updates int
	// locks records LockHierarchy calls in order.
	locks []uuid.UUID
}

type memState struct {
	tenants     map[uuid.UUID]uuid.UUID
	seq         map[uuid.UUID]int
	next        int
	hierarchies map[uuid.UUID]tree.Hierarchy
	nodes       map[uuid.UUID]tree.Node
	rels        map[uuid.UUID]tree.Relationship
	roles       map[uuid.UUID]access.Role
	perms       map[uuid.UUID]access.Permission
}

func newMemStore() *memStore {
	return &memStore{state: memState{
		tenants:     map[uuid.UUID]uuid.UUID{},
		seq:         map[uuid.UUID]int{},
		hierarchies: map[uuid.UUID]tree.Hierarchy{},
		nodes:       map[uuid.UUID]tree.Node{},
		rels:        map[uuid.UUID]tree.Relationship{},
		roles:       map[uuid.UUID]access.Role{},
		perms:       map[uuid.UUID]access.Permission{},
	}}
}

func (s memState) clone() memState {
	out := memState{
		tenants:     make(map[uuid.UUID]uuid.UUID, len(s.tenants)),
		seq:         make(map[uuid.UUID]int, len(s.seq)),
		next:        s.next,
		hierarchies: make(map[uuid.UUID]tree.Hierarchy, len(s.hierarchies)),
		nodes:       make(map[uuid.UUID]tree.Node, len(s.nodes)),
		rels:        make(map[uuid.UUID]tree.Relationship, len(s.rels)),
		roles:       make(map[uuid.UUID]access.Role, len(s.roles)),
		perms:       make(map[uuid.UUID]access.Permission, len(s.perms)),
	}
	for k, v := range s.tenants {
		out.tenants[k] = v
	}
	for k, v := range s.seq {
		out.seq[k] = v
	}
	for k, v := range s.hierarchies {
		out.hierarchies[k] = v
	}
	for k, v := range s.nodes {
		out.nodes[k] = v
	}
	for k, v := range s.rels {
		out.rels[k] = v
	}
	for k, v := range s.roles {
		out.roles[k] = v
	}
	for k, v := range s.perms {
		out.perms[k] = v
	}
	return out
}

// snapshotTx restores the store when fn fails, giving rollback semantics.
type snapshotTx struct {
	store *memStore
	calls int
}

func (t *snapshotTx) InTx(ctx context.Context, tenantID uuid.UUID, fn func(txCtx context.Context) error) error {
	t.calls++
	before := t.store.state.clone()
	if err := fn(ctx); err != nil {
		t.store.state = before
		return err
	}
	return nil
}

func (m *memStore) own(tenantID, id uuid.UUID) bool {
	return m.state.tenants[id] == tenantID
}

func (m *memStore) track(tenantID, id uuid.UUID) {
	m.state.tenants[id] = tenantID
	m.state.next++
	m.state.seq[id] = m.state.next
}

func (m *memStore) InsertHierarchy(_ context.Context, tenantID uuid.UUID, h tree.Hierarchy) error {
	m.track(tenantID, h.ID)
	m.state.hierarchies[h.ID] = h
	return nil
}

func (m *memStore) GetHierarchy(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Hierarchy, error) {
	h, ok := m.state.hierarchies[id]
	if !ok || !m.own(tenantID, id) {
		return tree.Hierarchy{}, pgx.ErrNoRows
	}
	return h, nil
}

func (m *memStore) ListHierarchies(_ context.Context, tenantID uuid.UUID) ([]tree.Hierarchy, error) {
	var out []tree.Hierarchy
	for id, h := range m.state.hierarchies {
		if m.own(tenantID, id) {
			out = append(out, h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.state.seq[out[i].ID] < m.state.seq[out[j].ID] })
	return out, nil
}

func (m *memStore) LockHierarchy(_ context.Context, _ uuid.UUID, hierarchyID uuid.UUID) error {
	m.locks = append(m.locks, hierarchyID)
	return nil
}

func (m *memStore) InsertNode(_ context.Context, tenantID uuid.UUID, n tree.Node) error {
	m.track(tenantID, n.ID)
	m.state.nodes[n.ID] = n
	return nil
}

func (m *memStore) GetNode(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	n, ok := m.state.nodes[id]
	if !ok || !m.own(tenantID, id) {
		return tree.Node{}, pgx.ErrNoRows
	}
	return n, nil
}

func (m *memStore) LockNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	return m.GetNode(ctx, tenantID, id)
}

func (m *memStore) ListChildren(_ context.Context, tenantID uuid.UUID, parentID uuid.UUID, activeOnly bool) ([]tree.Node, error) {
	var out []tree.Node
	for id, n := range m.state.nodes {
		if !m.own(tenantID, id) || n.ParentID == nil || *n.ParentID != parentID {
			continue
		}
		if activeOnly && !n.IsActive {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return m.state.seq[out[i].ID] < m.state.seq[out[j].ID]
	})
	return out, nil
}

func (m *memStore) ListNodes(_ context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Node, error) {
	var out []tree.Node
	for id, n := range m.state.nodes {
		if m.own(tenantID, id) && n.HierarchyID == hierarchyID {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.state.seq[out[i].ID] < m.state.seq[out[j].ID] })
	return out, nil
}

func (m *memStore) UpdateNode(_ context.Context, tenantID uuid.UUID, n tree.Node) error {
	if _, ok := m.state.nodes[n.ID]; !ok || !m.own(tenantID, n.ID) {
		return pgx.ErrNoRows
	}
	m.updates++
	m.state.nodes[n.ID] = n
	return nil
}

func (m *memStore) InsertRelationship(_ context.Context, tenantID uuid.UUID, r tree.Relationship) error {
	m.track(tenantID, r.ID)
	m.state.rels[r.ID] = r
	return nil
}

func (m *memStore) GetRelationship(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error) {
	r, ok := m.state.rels[id]
	if !ok || !m.own(tenantID, id) {
		return tree.Relationship{}, pgx.ErrNoRows
	}
	return r, nil
}

func (m *memStore) FindActiveHierarchicalEdge(_ context.Context, tenantID uuid.UUID, childID uuid.UUID) (tree.Relationship, bool, error) {
	for id, r := range m.state.rels {
		if m.own(tenantID, id) && r.IsActive && r.IsHierarchical() && r.ChildNodeID == childID {
			return r, true, nil
		}
	}
	return tree.Relationship{}, false, nil
}

func (m *memStore) ListActiveRelationships(_ context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Relationship, error) {
	var out []tree.Relationship
	for id, r := range m.state.rels {
		if m.own(tenantID, id) && r.IsActive && r.HierarchyID == hierarchyID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.state.seq[out[i].ID] < m.state.seq[out[j].ID] })
	return out, nil
}

func (m *memStore) DeactivateRelationship(_ context.Context, tenantID uuid.UUID, id uuid.UUID, at time.Time) error {
	r, ok := m.state.rels[id]
	if !ok || !m.own(tenantID, id) {
		return pgx.ErrNoRows
	}
	r.IsActive = false
	r.EffectiveTo = &at
	m.state.rels[id] = r
	return nil
}

func (m *memStore) InsertRole(_ context.Context, tenantID uuid.UUID, r access.Role) error {
	m.track(tenantID, r.ID)
	m.state.roles[r.ID] = r
	return nil
}

func (m *memStore) GetRole(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error) {
	r, ok := m.state.roles[id]
	if !ok || !m.own(tenantID, id) {
		return access.Role{}, pgx.ErrNoRows
	}
	return r, nil
}

func (m *memStore) LockRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error) {
	return m.GetRole(ctx, tenantID, id)
}

func (m *memStore) UpdateRole(_ context.Context, tenantID uuid.UUID, r access.Role) error {
	if _, ok := m.state.roles[r.ID]; !ok || !m.own(tenantID, r.ID) {
		return pgx.ErrNoRows
	}
	m.state.roles[r.ID] = r
	return nil
}

func (m *memStore) ListRoles(_ context.Context, tenantID uuid.UUID, organizationID uuid.UUID) ([]access.Role, error) {
	var out []access.Role
	for id, r := range m.state.roles {
		if m.own(tenantID, id) && r.OrganizationID == organizationID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return m.state.seq[out[i].ID] < m.state.seq[out[j].ID] })
	return out, nil
}

func (m *memStore) ActiveRoleNameTaken(_ context.Context, tenantID uuid.UUID, organizationID uuid.UUID, name string, exceptID uuid.UUID) (bool, error) {
	for id, r := range m.state.roles {
		if m.own(tenantID, id) && id != exceptID && r.IsActive && r.OrganizationID == organizationID && strings.EqualFold(r.Name, name) {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) InsertPermission(_ context.Context, tenantID uuid.UUID, p access.Permission) error {
	m.track(tenantID, p.ID)
	m.state.perms[p.ID] = p
	return nil
}

func (m *memStore) GetPermission(_ context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Permission, error) {
	p, ok := m.state.perms[id]
	if !ok || !m.own(tenantID, id) {
		return access.Permission{}, pgx.ErrNoRows
	}
	return p, nil
}

func (m *memStore) ListPermissions(_ context.Context, tenantID uuid.UUID, roleID uuid.UUID, activeOnly bool) ([]access.Permission, error) {
	var out []access.Permission
	for id, p := range m.state.perms {
		if !m.own(tenantID, id) || p.RoleID != roleID || (activeOnly && !p.IsActive) {
			continue
		}
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return m.state.seq[out[i].ID] < m.state.seq[out[j].ID] })
	return out, nil
}

func (m *memStore) DeactivatePermission(_ context.Context, tenantID uuid.UUID, id uuid.UUID) error {
	p, ok := m.state.perms[id]
	if !ok || !m.own(tenantID, id) {
		return pgx.ErrNoRows
	}
	p.IsActive = false
	m.state.perms[id] = p
	return nil
}

func (m *memStore) DeactivateRolePermissions(_ context.Context, tenantID uuid.UUID, roleID uuid.UUID) (int, error) {
	n := 0
	for id, p := range m.state.perms {
		if m.own(tenantID, id) && p.RoleID == roleID && p.IsActive {
			p.IsActive = false
			m.state.perms[id] = p
			n++
		}
	}
	return n, nil
}

// corrupt writes a node directly, bypassing every service check.
func (m *memStore) corrupt(n tree.Node) {
	m.state.nodes[n.ID] = n
}
