package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/events"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

// TreeService maintains the node forest of each hierarchy and keeps level
// and materialized path consistent with the parent pointers.
type TreeService struct {
	repo HierarchyRepository
	tx   Transactor
	ops  treeOps
	opts options
}

func NewTreeService(repo HierarchyRepository, tx Transactor, opts ...Option) *TreeService {
	return &TreeService{
		repo: repo,
		tx:   tx,
		ops:  treeOps{repo: repo},
		opts: buildOptions(opts),
	}
}

type CreateHierarchyInput struct {
	Name     string             `json:"name" validate:"required,max=255"`
	Type     tree.HierarchyType `json:"type" validate:"required,oneof=reporting matrix functional geographic"`
	MaxDepth int                `json:"max_depth" validate:"gte=0,lte=64"`
}

func (s *TreeService) CreateHierarchy(ctx context.Context, tenantID uuid.UUID, in CreateHierarchyInput) (h tree.Hierarchy, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "create_hierarchy")
	defer end(&err)

	if tenantID == uuid.Nil {
		return tree.Hierarchy{}, invalidBody("tenant_id is required")
	}
	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return tree.Hierarchy{}, err
	}
	maxDepth := in.MaxDepth
	if maxDepth == 0 {
		maxDepth = s.opts.defaultMaxDepth
	}

	now := s.opts.now()
	h = tree.Hierarchy{
		ID:             uuid.New(),
		OrganizationID: tenantID,
		Name:           in.Name,
		Type:           in.Type,
		MaxDepth:       maxDepth,
		IsActive:       true,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := inTxDo(ctx, s.tx, tenantID, func(txCtx context.Context) error {
		return s.repo.InsertHierarchy(txCtx, tenantID, h)
	}); err != nil {
		return tree.Hierarchy{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "hierarchy.created", events.EntityHierarchy, h.ID, h)
	return h, nil
}

func (s *TreeService) GetHierarchy(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Hierarchy, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Hierarchy, error) {
		h, err := s.repo.GetHierarchy(txCtx, tenantID, id)
		if err != nil {
			if isNotFound(err) {
				return tree.Hierarchy{}, withMessage(ErrNotFound, "hierarchy %s not found", id)
			}
			return tree.Hierarchy{}, err
		}
		return h, nil
	})
}

func (s *TreeService) ListHierarchies(ctx context.Context, tenantID uuid.UUID) ([]tree.Hierarchy, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Hierarchy, error) {
		return s.repo.ListHierarchies(txCtx, tenantID)
	})
}

type CreateNodeInput struct {
	HierarchyID   uuid.UUID      `json:"hierarchy_id" validate:"required"`
	ParentID      *uuid.UUID     `json:"parent_id,omitempty"`
	Name          string         `json:"name" validate:"required,max=255"`
	DisplayName   string         `json:"display_name,omitempty" validate:"max=255"`
	Type          tree.NodeType  `json:"type" validate:"required,oneof=department team position role location custom"`
	Order         int            `json:"order" validate:"gte=0"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	UserID        *uuid.UUID     `json:"user_id,omitempty"`
	EffectiveFrom time.Time      `json:"effective_from"`
}

// CreateNode inserts an active node. Without a parent it becomes a root;
// with one, level and path are derived from the parent's live ancestor chain
// and a hierarchical edge from the parent is recorded alongside.
func (s *TreeService) CreateNode(ctx context.Context, tenantID uuid.UUID, in CreateNodeInput) (n tree.Node, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "create_node")
	defer end(&err)

	in.Name = strings.TrimSpace(in.Name)
	in.DisplayName = strings.TrimSpace(in.DisplayName)
	if err := validateInput(in); err != nil {
		return tree.Node{}, err
	}

	now := s.opts.now()
	effectiveFrom := in.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = now
	}
	n = tree.Node{
		ID:             uuid.New(),
		HierarchyID:    in.HierarchyID,
		ParentID:       in.ParentID,
		Name:           in.Name,
		DisplayName:    in.DisplayName,
		Type:           in.Type,
		Order:          in.Order,
		Metadata:       in.Metadata,
		UserID:         in.UserID,
		OrganizationID: tenantID,
		IsActive:       true,
		EffectiveFrom:  effectiveFrom,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	var edge *tree.Relationship
	n, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Node, error) {
		if err := s.repo.LockHierarchy(txCtx, tenantID, in.HierarchyID); err != nil {
			return tree.Node{}, err
		}
		h, err := s.ops.activeHierarchy(txCtx, tenantID, in.HierarchyID)
		if err != nil {
			return tree.Node{}, err
		}
		placement := tree.RootPlacement(n.ID)
		if in.ParentID != nil {
			parent, err := s.ops.resolveParent(txCtx, tenantID, h, *in.ParentID)
			if err != nil {
				return tree.Node{}, err
			}
			if err := requireHierarchical(parent, n.Type); err != nil {
				return tree.Node{}, err
			}
			placement, err = s.ops.placementUnder(txCtx, tenantID, h, parent, n.ID)
			if err != nil {
				return tree.Node{}, err
			}
		}
		if placement.Level > h.MaxDepth {
			return tree.Node{}, withMessage(ErrDepthExceeded, "level %d exceeds max depth %d of hierarchy %s", placement.Level, h.MaxDepth, h.ID)
		}
		n.Level = placement.Level
		n.MaterializedPath = placement.Path
		if err := s.repo.InsertNode(txCtx, tenantID, n); err != nil {
			return tree.Node{}, err
		}
		if in.ParentID != nil {
			r, err := s.ops.linkParent(txCtx, tenantID, h, *in.ParentID, n.ID, effectiveFrom, now)
			if err != nil {
				return tree.Node{}, err
			}
			edge = &r
		}
		return n, nil
	})
	if err != nil {
		return tree.Node{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "node.created", events.EntityNode, n.ID, n)
	if edge != nil {
		s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "relationship.created", events.EntityRelationship, edge.ID, *edge)
	}
	return n, nil
}

func (s *TreeService) GetNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Node, error) {
		return s.getNode(txCtx, tenantID, id)
	})
}

func (s *TreeService) getNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	n, err := s.repo.GetNode(ctx, tenantID, id)
	if err != nil {
		if isNotFound(err) {
			return tree.Node{}, withMessage(ErrNotFound, "node %s not found", id)
		}
		return tree.Node{}, err
	}
	return n, nil
}

func (s *TreeService) ListNodes(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Node, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Node, error) {
		return s.repo.ListNodes(txCtx, tenantID, hierarchyID)
	})
}

// GetChildren returns direct children ordered by sort order, then creation time.
func (s *TreeService) GetChildren(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID, activeOnly bool) ([]tree.Node, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Node, error) {
		if _, err := s.getNode(txCtx, tenantID, nodeID); err != nil {
			return nil, err
		}
		return s.repo.ListChildren(txCtx, tenantID, nodeID, activeOnly)
	})
}

// GetAncestors walks parent pointers from the immediate parent up to the root.
// The stored materialized path is never consulted.
func (s *TreeService) GetAncestors(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) ([]tree.Node, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Node, error) {
		n, err := s.getNode(txCtx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		h, err := s.ops.hierarchyOf(txCtx, tenantID, n)
		if err != nil {
			return nil, err
		}
		return s.ops.ancestors(txCtx, tenantID, h, n)
	})
}

// GetDescendants lists active nodes below nodeID breadth-first. maxDepth > 0
// limits the walk to that many levels below the node.
func (s *TreeService) GetDescendants(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID, maxDepth int) ([]tree.Node, error) {
	if maxDepth < 0 {
		return nil, invalidBody("max_depth must be >= 0")
	}
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Node, error) {
		n, err := s.getNode(txCtx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		h, err := s.ops.hierarchyOf(txCtx, tenantID, n)
		if err != nil {
			return nil, err
		}
		entries, err := descendantsBFS(txCtx, s.ops.children(tenantID, true), n, maxDepth, h.TraversalCap())
		if err != nil {
			return nil, err
		}
		out := make([]tree.Node, 0, len(entries))
		for _, e := range entries {
			out = append(out, e.Node)
		}
		return out, nil
	})
}

// GetPath returns the ancestors root first, followed by the node itself.
func (s *TreeService) GetPath(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) ([]tree.Node, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Node, error) {
		n, err := s.getNode(txCtx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		h, err := s.ops.hierarchyOf(txCtx, tenantID, n)
		if err != nil {
			return nil, err
		}
		chain, err := s.ops.ancestors(txCtx, tenantID, h, n)
		if err != nil {
			return nil, err
		}
		out := make([]tree.Node, 0, len(chain)+1)
		for i := len(chain) - 1; i >= 0; i-- {
			out = append(out, chain[i])
		}
		return append(out, n), nil
	})
}

type ReparentInput struct {
	NewParentID *uuid.UUID `json:"new_parent_id"`
	NewOrder    *int       `json:"new_order,omitempty" validate:"omitempty,gte=0"`
}

// Reparent moves a node (and its subtree) below a new parent, or to the root
// when NewParentID is nil. The hierarchical edge into the node follows the
// parent pointer: a stale one is deactivated and a new one recorded.
func (s *TreeService) Reparent(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID, in ReparentInput) (n tree.Node, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "reparent")
	defer end(&err)

	if err := validateInput(in); err != nil {
		return tree.Node{}, err
	}
	if in.NewParentID != nil && *in.NewParentID == nodeID {
		return tree.Node{}, withMessage(ErrCircularReference, "node %s cannot be its own parent", nodeID)
	}

	now := s.opts.now()
	var edge *tree.Relationship
	n, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Node, error) {
		node, err := s.lockTreeNode(txCtx, tenantID, nodeID)
		if err != nil {
			return tree.Node{}, err
		}
		if !node.IsActive {
			return tree.Node{}, withMessage(ErrInvalidEndpoint, "node %s is inactive", node.ID)
		}
		h, err := s.ops.hierarchyOf(txCtx, tenantID, node)
		if err != nil {
			return tree.Node{}, err
		}
		subtree, err := s.ops.subtree(txCtx, tenantID, h, node)
		if err != nil {
			return tree.Node{}, err
		}

		placement := tree.RootPlacement(node.ID)
		if in.NewParentID != nil {
			parent, err := s.ops.resolveParent(txCtx, tenantID, h, *in.NewParentID)
			if err != nil {
				return tree.Node{}, err
			}
			if containsNode(subtree, parent.ID) {
				return tree.Node{}, withMessage(ErrCircularReference, "node %s is a descendant of %s", parent.ID, node.ID)
			}
			if err := requireHierarchical(parent, node.Type); err != nil {
				return tree.Node{}, err
			}
			placement, err = s.ops.placementUnder(txCtx, tenantID, h, parent, node.ID)
			if err != nil {
				return tree.Node{}, err
			}
		}
		if deepest := placement.Level + subtreeHeight(subtree); deepest > h.MaxDepth {
			return tree.Node{}, withMessage(ErrDepthExceeded, "move would place nodes at level %d, max depth is %d", deepest, h.MaxDepth)
		}

		kept, err := s.retireStaleEdge(txCtx, tenantID, node.ID, in.NewParentID, now)
		if err != nil {
			return tree.Node{}, err
		}
		if in.NewParentID != nil && !kept {
			r, err := s.ops.linkParent(txCtx, tenantID, h, *in.NewParentID, node.ID, now, now)
			if err != nil {
				return tree.Node{}, err
			}
			edge = &r
		}
		if in.NewOrder != nil {
			node.Order = *in.NewOrder
		}
		return s.ops.move(txCtx, tenantID, node, in.NewParentID, placement, subtree, now)
	})
	if err != nil {
		return tree.Node{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "node.reparented", events.EntityNode, n.ID, n)
	if edge != nil {
		s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "relationship.created", events.EntityRelationship, edge.ID, *edge)
	}
	return n, nil
}

// retireStaleEdge deactivates the hierarchical edge into childID unless it
// already comes from newParentID, in which case kept is true.
func (s *TreeService) retireStaleEdge(ctx context.Context, tenantID uuid.UUID, childID uuid.UUID, newParentID *uuid.UUID, now time.Time) (kept bool, err error) {
	edge, ok, err := s.repo.FindActiveHierarchicalEdge(ctx, tenantID, childID)
	if err != nil || !ok {
		return false, err
	}
	if newParentID != nil && edge.ParentNodeID == *newParentID {
		return true, nil
	}
	return false, s.repo.DeactivateRelationship(ctx, tenantID, edge.ID, now)
}

// ValidatePosition compares the stored level and path of a node with the
// values derived from its live parent chain. Drift is reported, never fixed.
func (s *TreeService) ValidatePosition(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) ([]Finding, error) {
	var hierarchyID uuid.UUID
	findings, err := inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]Finding, error) {
		n, err := s.getNode(txCtx, tenantID, nodeID)
		if err != nil {
			return nil, err
		}
		hierarchyID = n.HierarchyID
		h, err := s.ops.hierarchyOf(txCtx, tenantID, n)
		if err != nil {
			return nil, err
		}
		chain, err := s.ops.ancestors(txCtx, tenantID, h, n)
		if err != nil {
			if f, ok := chainFinding(n.ID, err); ok {
				return []Finding{f}, nil
			}
			return nil, err
		}
		return positionFindings(n, expectedPlacement(chain, n)), nil
	})
	if err != nil {
		return nil, err
	}
	recordFindings(findings)
	id := nodeID
	s.opts.audit.Integrity(ctx, tenantID, hierarchyID, &id, findings)
	return findings, nil
}

// chainFinding turns a failed ancestor walk into a finding.
func chainFinding(nodeID uuid.UUID, err error) (Finding, bool) {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) || svcErr.Code != CodeInternalConsistency {
		return Finding{}, false
	}
	code := CodeInternalConsistency
	if errors.Is(err, errAncestorCycle) {
		code = CodeCircularReference
	}
	return nodeFinding(code, nodeID, svcErr.Message), true
}

func positionFindings(n tree.Node, expected tree.Placement) []Finding {
	var out []Finding
	if n.Level != expected.Level {
		f := nodeFinding(CodeLevelInconsistency, n.ID, "stored level differs from parent chain")
		f.Expected = fmt.Sprint(expected.Level)
		f.Actual = fmt.Sprint(n.Level)
		out = append(out, f)
	}
	if n.MaterializedPath != expected.Path {
		f := nodeFinding(CodePathInconsistency, n.ID, "stored path differs from parent chain")
		f.Expected = expected.Path
		f.Actual = n.MaterializedPath
		out = append(out, f)
	}
	return out
}

// DeactivateNode soft-deletes a leaf (or a node whose children are all
// inactive) and retires every active relationship touching it.
func (s *TreeService) DeactivateNode(ctx context.Context, tenantID uuid.UUID, nodeID uuid.UUID) (n tree.Node, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "deactivate_node")
	defer end(&err)

	now := s.opts.now()
	n, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Node, error) {
		node, err := s.lockTreeNode(txCtx, tenantID, nodeID)
		if err != nil {
			return tree.Node{}, err
		}
		if !node.IsActive {
			return node, nil
		}
		children, err := s.repo.ListChildren(txCtx, tenantID, node.ID, true)
		if err != nil {
			return tree.Node{}, err
		}
		if len(children) > 0 {
			return tree.Node{}, withMessage(ErrNodeHasActiveChildren, "node %s has %d active children", node.ID, len(children))
		}
		edges, err := s.repo.ListActiveRelationships(txCtx, tenantID, node.HierarchyID)
		if err != nil {
			return tree.Node{}, err
		}
		for _, e := range edges {
			if e.ParentNodeID != node.ID && e.ChildNodeID != node.ID {
				continue
			}
			if err := s.repo.DeactivateRelationship(txCtx, tenantID, e.ID, now); err != nil {
				return tree.Node{}, err
			}
		}
		node.IsActive = false
		node.EffectiveTo = &now
		node.UpdatedAt = now
		if err := s.repo.UpdateNode(txCtx, tenantID, node); err != nil {
			return tree.Node{}, err
		}
		return node, nil
	})
	if err != nil {
		return tree.Node{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "node.deactivated", events.EntityNode, n.ID, n)
	return n, nil
}

// ClaimNode links userID to the node. Claiming a node held by another user fails.
func (s *TreeService) ClaimNode(ctx context.Context, tenantID uuid.UUID, nodeID, userID uuid.UUID) (n tree.Node, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "claim_node")
	defer end(&err)

	if userID == uuid.Nil {
		return tree.Node{}, invalidBody("user_id is required")
	}
	now := s.opts.now()
	n, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Node, error) {
		node, err := s.lockNode(txCtx, tenantID, nodeID)
		if err != nil {
			return tree.Node{}, err
		}
		if !node.IsActive {
			return tree.Node{}, withMessage(ErrInvalidEndpoint, "node %s is inactive", node.ID)
		}
		if node.UserID != nil {
			if *node.UserID == userID {
				return node, nil
			}
			return tree.Node{}, withMessage(ErrNodeAlreadyClaimed, "node %s is claimed by another user", node.ID)
		}
		uid := userID
		node.UserID = &uid
		node.UpdatedAt = now
		if err := s.repo.UpdateNode(txCtx, tenantID, node); err != nil {
			return tree.Node{}, err
		}
		return node, nil
	})
	if err != nil {
		return tree.Node{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "node.claimed", events.EntityNode, n.ID, n)
	return n, nil
}

// ReleaseNode unlinks userID from the node. Only the claiming user may release it.
func (s *TreeService) ReleaseNode(ctx context.Context, tenantID uuid.UUID, nodeID, userID uuid.UUID) (n tree.Node, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "release_node")
	defer end(&err)

	now := s.opts.now()
	n, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Node, error) {
		node, err := s.lockNode(txCtx, tenantID, nodeID)
		if err != nil {
			return tree.Node{}, err
		}
		if node.UserID == nil {
			return node, nil
		}
		if *node.UserID != userID {
			return tree.Node{}, withMessage(ErrNodeAlreadyClaimed, "node %s is claimed by another user", node.ID)
		}
		node.UserID = nil
		node.UpdatedAt = now
		if err := s.repo.UpdateNode(txCtx, tenantID, node); err != nil {
			return tree.Node{}, err
		}
		return node, nil
	})
	if err != nil {
		return tree.Node{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "node.released", events.EntityNode, n.ID, n)
	return n, nil
}

// lockTreeNode takes the hierarchy write lock of the node before its row lock,
// so tree writes in one hierarchy run one at a time.
func (s *TreeService) lockTreeNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	n, err := s.getNode(ctx, tenantID, id)
	if err != nil {
		return tree.Node{}, err
	}
	if err := s.repo.LockHierarchy(ctx, tenantID, n.HierarchyID); err != nil {
		return tree.Node{}, err
	}
	return s.lockNode(ctx, tenantID, id)
}

func (s *TreeService) lockNode(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Node, error) {
	n, err := s.repo.LockNode(ctx, tenantID, id)
	if err != nil {
		if isNotFound(err) {
			return tree.Node{}, withMessage(ErrNotFound, "node %s not found", id)
		}
		return tree.Node{}, err
	}
	return n, nil
}
