package services

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

// HierarchyRepository persists hierarchies, nodes and relationships. Missing
// rows are reported as pgx.ErrNoRows.
type HierarchyRepository interface {
	InsertHierarchy(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy) error
	GetHierarchy(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Hierarchy, error)
	ListHierarchies(ctx context.Context, tenantID uuid.UUID) ([]tree.Hierarchy, error)
	// LockHierarchy serializes tree writes in one hierarchy until the transaction ends.
	LockHierarchy(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) error

	InsertNode(ctx context.Context, tenantID uuid.UUID, n tree.Node) error
	GetNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error)
	// LockNode reads the node with a row lock held until the transaction ends.
	LockNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error)
	// ListChildren returns direct children ordered by sort order, then creation time.
	ListChildren(ctx context.Context, tenantID uuid.UUID, parentID uuid.UUID, activeOnly bool) ([]tree.Node, error)
	ListNodes(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Node, error)
	UpdateNode(ctx context.Context, tenantID uuid.UUID, n tree.Node) error

	InsertRelationship(ctx context.Context, tenantID uuid.UUID, r tree.Relationship) error
	GetRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error)
	FindActiveHierarchicalEdge(ctx context.Context, tenantID uuid.UUID, childID uuid.UUID) (tree.Relationship, bool, error)
	ListActiveRelationships(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Relationship, error)
	DeactivateRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, at time.Time) error
}

// AccessRepository persists roles and their permissions.
type AccessRepository interface {
	InsertRole(ctx context.Context, tenantID uuid.UUID, r access.Role) error
	GetRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error)
	LockRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error)
	UpdateRole(ctx context.Context, tenantID uuid.UUID, r access.Role) error
	ListRoles(ctx context.Context, tenantID uuid.UUID, organizationID uuid.UUID) ([]access.Role, error)
	// ActiveRoleNameTaken reports whether another active role of the organization uses name.
	ActiveRoleNameTaken(ctx context.Context, tenantID uuid.UUID, organizationID uuid.UUID, name string, exceptID uuid.UUID) (bool, error)

	InsertPermission(ctx context.Context, tenantID uuid.UUID, p access.Permission) error
	GetPermission(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Permission, error)
	// ListPermissions returns permissions in insertion order.
	ListPermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, activeOnly bool) ([]access.Permission, error)
	DeactivatePermission(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) error
	DeactivateRolePermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID) (int, error)
}

func isNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// Clock is swapped in tests to pin timestamps.
type Clock func() time.Time

func defaultClock() time.Time {
	return time.Now().UTC()
}
