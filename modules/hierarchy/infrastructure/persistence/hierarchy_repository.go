package persistence

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
)

// HierarchyRepository stores hierarchies, nodes and relationships. Every
// query runs on the transaction bound to the context and filters by tenant.
type HierarchyRepository struct{}

func NewHierarchyRepository() *HierarchyRepository {
	return &HierarchyRepository{}
}

var _ services.HierarchyRepository = (*HierarchyRepository)(nil)

const hierarchyColumns = `id, organization_id, name, type, max_depth, is_active, created_at, updated_at`

func scanHierarchy(row rowScanner) (tree.Hierarchy, error) {
	var h tree.Hierarchy
	var typ string
	if err := row.Scan(&h.ID, &h.OrganizationID, &h.Name, &typ, &h.MaxDepth, &h.IsActive, &h.CreatedAt, &h.UpdatedAt); err != nil {
		return tree.Hierarchy{}, err
	}
	h.Type = tree.HierarchyType(typ)
	return h, nil
}

func (r *HierarchyRepository) InsertHierarchy(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchies (id, tenant_id, organization_id, name, type, max_depth, is_active, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
`, pgUUID(h.ID), pgUUID(tenantID), pgUUID(h.OrganizationID), h.Name, string(h.Type), h.MaxDepth, h.IsActive, h.CreatedAt, h.UpdatedAt); err != nil {
		return errors.Wrap(err, "insert hierarchy")
	}
	return nil
}

func (r *HierarchyRepository) GetHierarchy(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Hierarchy, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return tree.Hierarchy{}, err
	}
	h, err := scanHierarchy(tx.QueryRow(ctx, `SELECT `+hierarchyColumns+` FROM hierarchies WHERE tenant_id=$1 AND id=$2`, pgUUID(tenantID), pgUUID(id)))
	if err != nil {
		return tree.Hierarchy{}, errors.Wrap(err, "get hierarchy")
	}
	return h, nil
}

func (r *HierarchyRepository) ListHierarchies(ctx context.Context, tenantID uuid.UUID) ([]tree.Hierarchy, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `SELECT `+hierarchyColumns+` FROM hierarchies WHERE tenant_id=$1 ORDER BY created_at, id`, pgUUID(tenantID))
	if err != nil {
		return nil, errors.Wrap(err, "list hierarchies")
	}
	defer rows.Close()

	var out []tree.Hierarchy
	for rows.Next() {
		h, err := scanHierarchy(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan hierarchy")
		}
		out = append(out, h)
	}
	return out, rows.Err()
}

const nodeColumns = `id, hierarchy_id, parent_id, name, display_name, type, level, sort_order, materialized_path,
	metadata, user_id, organization_id, is_active, effective_from, effective_to, created_at, updated_at`

func scanNode(row rowScanner) (tree.Node, error) {
	var (
		n        tree.Node
		parentID pgtype.UUID
		userID   pgtype.UUID
		typ      string
		metadata []byte
	)
	if err := row.Scan(
		&n.ID,
		&n.HierarchyID,
		&parentID,
		&n.Name,
		&n.DisplayName,
		&typ,
		&n.Level,
		&n.Order,
		&n.MaterializedPath,
		&metadata,
		&userID,
		&n.OrganizationID,
		&n.IsActive,
		&n.EffectiveFrom,
		&n.EffectiveTo,
		&n.CreatedAt,
		&n.UpdatedAt,
	); err != nil {
		return tree.Node{}, err
	}
	n.ParentID = uuidPtr(parentID)
	n.UserID = uuidPtr(userID)
	n.Type = tree.NodeType(typ)
	md, err := unmarshalJSONB(metadata)
	if err != nil {
		return tree.Node{}, err
	}
	n.Metadata = md
	return n, nil
}

func (r *HierarchyRepository) InsertNode(ctx context.Context, tenantID uuid.UUID, n tree.Node) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(n.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_nodes (
	id,
	tenant_id,
	hierarchy_id,
	parent_id,
	name,
	display_name,
	type,
	level,
	sort_order,
	materialized_path,
	metadata,
	user_id,
	organization_id,
	is_active,
	effective_from,
	effective_to,
	created_at,
	updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11::jsonb,$12,$13,$14,$15,$16,$17,$18)
`,
		pgUUID(n.ID),
		pgUUID(tenantID),
		pgUUID(n.HierarchyID),
		pgNullableUUID(n.ParentID),
		n.Name,
		n.DisplayName,
		string(n.Type),
		n.Level,
		n.Order,
		n.MaterializedPath,
		metadata,
		pgNullableUUID(n.UserID),
		pgUUID(n.OrganizationID),
		n.IsActive,
		n.EffectiveFrom,
		n.EffectiveTo,
		n.CreatedAt,
		n.UpdatedAt,
	); err != nil {
		return errors.Wrap(err, "insert node")
	}
	return nil
}

// LockHierarchy takes a transaction-scoped advisory lock serializing tree
// writes within one hierarchy of a tenant.
func (r *HierarchyRepository) LockHierarchy(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	key := fmt.Sprintf("hierarchy_nodes:%s:%s", tenantID, hierarchyID)
	if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", key); err != nil {
		return errors.Wrap(err, "lock hierarchy")
	}
	return nil
}

func (r *HierarchyRepository) GetNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	return r.getNode(ctx, tenantID, id, "")
}

// LockNode reads a node with a row lock held until the transaction ends.
func (r *HierarchyRepository) LockNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	return r.getNode(ctx, tenantID, id, " FOR UPDATE")
}

func (r *HierarchyRepository) getNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, suffix string) (tree.Node, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return tree.Node{}, err
	}
	n, err := scanNode(tx.QueryRow(ctx, `SELECT `+nodeColumns+` FROM hierarchy_nodes WHERE tenant_id=$1 AND id=$2`+suffix, pgUUID(tenantID), pgUUID(id)))
	if err != nil {
		return tree.Node{}, errors.Wrap(err, "get node")
	}
	return n, nil
}

func (r *HierarchyRepository) ListChildren(ctx context.Context, tenantID uuid.UUID, parentID uuid.UUID, activeOnly bool) ([]tree.Node, error) {
	return r.queryNodes(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id=$1 AND parent_id=$2 AND (NOT $3 OR is_active)
ORDER BY sort_order, created_at, id
`, pgUUID(tenantID), pgUUID(parentID), activeOnly)
}

func (r *HierarchyRepository) ListNodes(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Node, error) {
	return r.queryNodes(ctx, `
SELECT `+nodeColumns+`
FROM hierarchy_nodes
WHERE tenant_id=$1 AND hierarchy_id=$2
ORDER BY level, sort_order, created_at, id
`, pgUUID(tenantID), pgUUID(hierarchyID))
}

func (r *HierarchyRepository) queryNodes(ctx context.Context, sql string, args ...any) ([]tree.Node, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query nodes")
	}
	defer rows.Close()

	var out []tree.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan node")
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func (r *HierarchyRepository) UpdateNode(ctx context.Context, tenantID uuid.UUID, n tree.Node) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(n.Metadata)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE hierarchy_nodes SET
	parent_id=$3,
	name=$4,
	display_name=$5,
	level=$6,
	sort_order=$7,
	materialized_path=$8,
	metadata=$9::jsonb,
	user_id=$10,
	is_active=$11,
	effective_to=$12,
	updated_at=$13
WHERE tenant_id=$1 AND id=$2
`,
		pgUUID(tenantID),
		pgUUID(n.ID),
		pgNullableUUID(n.ParentID),
		n.Name,
		n.DisplayName,
		n.Level,
		n.Order,
		n.MaterializedPath,
		metadata,
		pgNullableUUID(n.UserID),
		n.IsActive,
		n.EffectiveTo,
		n.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update node")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(pgx.ErrNoRows, "update node")
	}
	return nil
}

const relationshipColumns = `id, hierarchy_id, parent_node_id, child_node_id, type, strength, weight, metadata,
	is_active, effective_from, effective_to, created_at`

func scanRelationship(row rowScanner) (tree.Relationship, error) {
	var (
		rel      tree.Relationship
		typ      string
		metadata []byte
	)
	if err := row.Scan(
		&rel.ID,
		&rel.HierarchyID,
		&rel.ParentNodeID,
		&rel.ChildNodeID,
		&typ,
		&rel.Strength,
		&rel.Weight,
		&metadata,
		&rel.IsActive,
		&rel.EffectiveFrom,
		&rel.EffectiveTo,
		&rel.CreatedAt,
	); err != nil {
		return tree.Relationship{}, err
	}
	rel.Type = tree.RelationshipType(typ)
	md, err := unmarshalJSONB(metadata)
	if err != nil {
		return tree.Relationship{}, err
	}
	rel.Metadata = md
	return rel, nil
}

func (r *HierarchyRepository) InsertRelationship(ctx context.Context, tenantID uuid.UUID, rel tree.Relationship) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	metadata, err := marshalJSONB(rel.Metadata)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_relationships (
	id, tenant_id, hierarchy_id, parent_node_id, child_node_id, type, strength, weight, metadata,
	is_active, effective_from, effective_to, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10,$11,$12,$13)
`,
		pgUUID(rel.ID),
		pgUUID(tenantID),
		pgUUID(rel.HierarchyID),
		pgUUID(rel.ParentNodeID),
		pgUUID(rel.ChildNodeID),
		string(rel.Type),
		rel.Strength,
		rel.Weight,
		metadata,
		rel.IsActive,
		rel.EffectiveFrom,
		rel.EffectiveTo,
		rel.CreatedAt,
	); err != nil {
		return errors.Wrap(err, "insert relationship")
	}
	return nil
}

func (r *HierarchyRepository) GetRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return tree.Relationship{}, err
	}
	rel, err := scanRelationship(tx.QueryRow(ctx, `SELECT `+relationshipColumns+` FROM hierarchy_relationships WHERE tenant_id=$1 AND id=$2`, pgUUID(tenantID), pgUUID(id)))
	if err != nil {
		return tree.Relationship{}, errors.Wrap(err, "get relationship")
	}
	return rel, nil
}

func (r *HierarchyRepository) FindActiveHierarchicalEdge(ctx context.Context, tenantID uuid.UUID, childID uuid.UUID) (tree.Relationship, bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return tree.Relationship{}, false, err
	}
	rel, err := scanRelationship(tx.QueryRow(ctx, `
SELECT `+relationshipColumns+`
FROM hierarchy_relationships
WHERE tenant_id=$1 AND child_node_id=$2 AND type=$3 AND is_active
ORDER BY created_at, id
LIMIT 1
`, pgUUID(tenantID), pgUUID(childID), string(tree.RelationshipHierarchical)))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return tree.Relationship{}, false, nil
		}
		return tree.Relationship{}, false, errors.Wrap(err, "find hierarchical edge")
	}
	return rel, true, nil
}

func (r *HierarchyRepository) ListActiveRelationships(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Relationship, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+relationshipColumns+`
FROM hierarchy_relationships
WHERE tenant_id=$1 AND hierarchy_id=$2 AND is_active
ORDER BY created_at, id
`, pgUUID(tenantID), pgUUID(hierarchyID))
	if err != nil {
		return nil, errors.Wrap(err, "list relationships")
	}
	defer rows.Close()

	var out []tree.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan relationship")
		}
		out = append(out, rel)
	}
	return out, rows.Err()
}

func (r *HierarchyRepository) DeactivateRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, at time.Time) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `
UPDATE hierarchy_relationships SET is_active=false, effective_to=$3
WHERE tenant_id=$1 AND id=$2
`, pgUUID(tenantID), pgUUID(id), at)
	if err != nil {
		return errors.Wrap(err, "deactivate relationship")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(pgx.ErrNoRows, "deactivate relationship")
	}
	return nil
}
