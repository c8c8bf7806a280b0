package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

// treeOps holds the tree maintenance steps shared by node and relationship writes.
type treeOps struct {
	repo HierarchyRepository
}

func (t treeOps) lookup(tenantID uuid.UUID) nodeLookup {
	return func(ctx context.Context, id uuid.UUID) (tree.Node, error) {
		return t.repo.GetNode(ctx, tenantID, id)
	}
}

func (t treeOps) children(tenantID uuid.UUID, activeOnly bool) childLister {
	return func(ctx context.Context, parentID uuid.UUID) ([]tree.Node, error) {
		return t.repo.ListChildren(ctx, tenantID, parentID, activeOnly)
	}
}

// requireHierarchical rejects parent pointers the compatibility table does not
// allow as a hierarchical edge.
func requireHierarchical(parent tree.Node, childType tree.NodeType) error {
	if tree.IsRelationshipAllowed(parent.Type, childType, tree.RelationshipHierarchical) {
		return nil
	}
	return withMessage(ErrInvalidRelationshipType, "hierarchical edge not allowed from %s to %s (allowed: %v)",
		parent.Type, childType, tree.AllowedRelationshipTypes(parent.Type, childType))
}

// linkParent inserts the active hierarchical edge backing a parent pointer.
func (t treeOps) linkParent(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, parentID, childID uuid.UUID, effectiveFrom, now time.Time) (tree.Relationship, error) {
	r := tree.Relationship{
		ID:            uuid.New(),
		HierarchyID:   h.ID,
		ParentNodeID:  parentID,
		ChildNodeID:   childID,
		Type:          tree.RelationshipHierarchical,
		Strength:      1.0,
		Weight:        1.0,
		IsActive:      true,
		EffectiveFrom: effectiveFrom,
		CreatedAt:     now,
	}
	if err := t.repo.InsertRelationship(ctx, tenantID, r); err != nil {
		return tree.Relationship{}, err
	}
	return r, nil
}

// activeHierarchy loads a hierarchy that is about to receive writes.
func (t treeOps) activeHierarchy(ctx context.Context, tenantID, id uuid.UUID) (tree.Hierarchy, error) {
	h, err := t.repo.GetHierarchy(ctx, tenantID, id)
	if err != nil {
		if isNotFound(err) {
			return tree.Hierarchy{}, withMessage(ErrInvalidEndpoint, "hierarchy %s not found", id)
		}
		return tree.Hierarchy{}, err
	}
	if !h.IsActive {
		return tree.Hierarchy{}, withMessage(ErrInvalidEndpoint, "hierarchy %s is inactive", id)
	}
	return h, nil
}

// hierarchyOf loads the hierarchy an existing node belongs to.
func (t treeOps) hierarchyOf(ctx context.Context, tenantID uuid.UUID, n tree.Node) (tree.Hierarchy, error) {
	h, err := t.repo.GetHierarchy(ctx, tenantID, n.HierarchyID)
	if err != nil {
		if isNotFound(err) {
			return tree.Hierarchy{}, withMessage(ErrInternalConsistency, "node %s belongs to missing hierarchy %s", n.ID, n.HierarchyID)
		}
		return tree.Hierarchy{}, err
	}
	return h, nil
}

// resolveParent loads a prospective parent that must be active and inside h.
func (t treeOps) resolveParent(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, parentID uuid.UUID) (tree.Node, error) {
	parent, err := t.repo.GetNode(ctx, tenantID, parentID)
	if err != nil {
		if isNotFound(err) {
			return tree.Node{}, withMessage(ErrInvalidParent, "parent %s not found", parentID)
		}
		return tree.Node{}, err
	}
	if !parent.IsActive {
		return tree.Node{}, withMessage(ErrInvalidParent, "parent %s is inactive", parentID)
	}
	if parent.HierarchyID != h.ID {
		return tree.Node{}, withMessage(ErrInvalidParent, "parent %s belongs to another hierarchy", parentID)
	}
	return parent, nil
}

// ancestors walks the live parent chain of n, immediate parent first.
func (t treeOps) ancestors(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, n tree.Node) ([]tree.Node, error) {
	return ancestorChain(ctx, t.lookup(tenantID), n, h.TraversalCap())
}

// placementUnder derives level and path for childID placed directly below
// parent, using the live ancestor chain of parent rather than its stored path.
func (t treeOps) placementUnder(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, parent tree.Node, childID uuid.UUID) (tree.Placement, error) {
	chain, err := t.ancestors(ctx, tenantID, h, parent)
	if err != nil {
		return tree.Placement{}, err
	}
	return placementFromChain(chain, parent, childID), nil
}

// subtree returns every descendant of n, active or not, breadth-first.
func (t treeOps) subtree(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, n tree.Node) ([]subtreeEntry, error) {
	return descendantsBFS(ctx, t.children(tenantID, false), n, 0, h.TraversalCap())
}

// move points n at parentID with the given placement and rewrites the derived
// fields of every node in its subtree.
func (t treeOps) move(ctx context.Context, tenantID uuid.UUID, n tree.Node, parentID *uuid.UUID, placement tree.Placement, subtree []subtreeEntry, now time.Time) (tree.Node, error) {
	n.ParentID = parentID
	n.Level = placement.Level
	n.MaterializedPath = placement.Path
	n.UpdatedAt = now
	if err := t.repo.UpdateNode(ctx, tenantID, n); err != nil {
		return tree.Node{}, err
	}

	placements := map[uuid.UUID]tree.Placement{n.ID: placement}
	for _, entry := range subtree {
		d := entry.Node
		if d.ParentID == nil {
			return tree.Node{}, withMessage(ErrInternalConsistency, "descendant %s has no parent", d.ID)
		}
		parentPlacement, ok := placements[*d.ParentID]
		if !ok {
			return tree.Node{}, withMessage(ErrInternalConsistency, "descendant %s visited before its parent", d.ID)
		}
		p := tree.ChildPlacement(parentPlacement, d.ID)
		placements[d.ID] = p
		if d.Level == p.Level && d.MaterializedPath == p.Path {
			continue
		}
		d.Level = p.Level
		d.MaterializedPath = p.Path
		d.UpdatedAt = now
		if err := t.repo.UpdateNode(ctx, tenantID, d); err != nil {
			return tree.Node{}, err
		}
	}
	return n, nil
}

// placementFromChain derives the placement of childID below parent whose
// ancestors are chain (immediate parent first).
func placementFromChain(chain []tree.Node, parent tree.Node, childID uuid.UUID) tree.Placement {
	ids := make([]uuid.UUID, 0, len(chain)+1)
	for i := len(chain) - 1; i >= 0; i-- {
		ids = append(ids, chain[i].ID)
	}
	ids = append(ids, parent.ID)
	return tree.Placement{Level: len(ids), Path: tree.BuildPath(ids, childID)}
}

// expectedPlacement derives the placement of n itself from its ancestor chain.
func expectedPlacement(chain []tree.Node, n tree.Node) tree.Placement {
	if len(chain) == 0 {
		return tree.RootPlacement(n.ID)
	}
	return placementFromChain(chain[1:], chain[0], n.ID)
}
