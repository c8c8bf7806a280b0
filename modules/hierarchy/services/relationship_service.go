package services

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/events"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

// RelationshipService gatekeeps edges between nodes. Hierarchical edges also
// drive the child's parent pointer and derived fields.
type RelationshipService struct {
	repo HierarchyRepository
	tx   Transactor
	ops  treeOps
	opts options
}

func NewRelationshipService(repo HierarchyRepository, tx Transactor, opts ...Option) *RelationshipService {
	return &RelationshipService{
		repo: repo,
		tx:   tx,
		ops:  treeOps{repo: repo},
		opts: buildOptions(opts),
	}
}

type CreateRelationshipInput struct {
	HierarchyID   uuid.UUID             `json:"hierarchy_id" validate:"required"`
	ParentNodeID  uuid.UUID             `json:"parent_node_id" validate:"required"`
	ChildNodeID   uuid.UUID             `json:"child_node_id" validate:"required"`
	Type          tree.RelationshipType `json:"type" validate:"required,oneof=hierarchical matrix functional geographical custom"`
	Strength      *float64              `json:"strength,omitempty" validate:"omitempty,gte=0,lte=1"`
	Weight        *float64              `json:"weight,omitempty" validate:"omitempty,gte=0"`
	Metadata      map[string]any        `json:"metadata,omitempty"`
	EffectiveFrom time.Time             `json:"effective_from"`
}

// BulkItemError reports which entry of a bulk request failed.
type BulkItemError struct {
	Index int
	Err   error
}

func (e *BulkItemError) Error() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

func (e *BulkItemError) Unwrap() error { return e.Err }

func (s *RelationshipService) CreateRelationship(ctx context.Context, tenantID uuid.UUID, in CreateRelationshipInput) (r tree.Relationship, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "create_relationship")
	defer end(&err)

	if err := validateInput(in); err != nil {
		return tree.Relationship{}, err
	}
	now := s.opts.now()
	r, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Relationship, error) {
		return s.create(txCtx, tenantID, in, now)
	})
	if err != nil {
		return tree.Relationship{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "relationship.created", events.EntityRelationship, r.ID, r)
	return r, nil
}

// BulkCreateRelationships creates every edge in one transaction. The first
// failure rolls back the whole batch and is returned as a *BulkItemError.
func (s *RelationshipService) BulkCreateRelationships(ctx context.Context, tenantID uuid.UUID, in []CreateRelationshipInput) (out []tree.Relationship, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "bulk_create_relationships")
	defer end(&err)

	if len(in) == 0 {
		return nil, invalidBody("relationships must not be empty")
	}
	for i, item := range in {
		if err := validateInput(item); err != nil {
			return nil, &BulkItemError{Index: i, Err: err}
		}
	}
	now := s.opts.now()
	out, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Relationship, error) {
		for _, id := range batchHierarchies(in) {
			if err := s.repo.LockHierarchy(txCtx, tenantID, id); err != nil {
				return nil, err
			}
		}
		created := make([]tree.Relationship, 0, len(in))
		for i, item := range in {
			r, err := s.create(txCtx, tenantID, item, now)
			if err != nil {
				return nil, &BulkItemError{Index: i, Err: mapPgErrorToServiceError(err)}
			}
			created = append(created, r)
		}
		return created, nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "relationship.created", events.EntityRelationship, r.ID, r)
	}
	return out, nil
}

// batchHierarchies lists the hierarchies of a batch in a fixed order, so
// concurrent batches acquire their locks in the same sequence.
func batchHierarchies(in []CreateRelationshipInput) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(in))
	out := make([]uuid.UUID, 0, len(in))
	for _, item := range in {
		if _, ok := seen[item.HierarchyID]; ok {
			continue
		}
		seen[item.HierarchyID] = struct{}{}
		out = append(out, item.HierarchyID)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (s *RelationshipService) create(ctx context.Context, tenantID uuid.UUID, in CreateRelationshipInput, now time.Time) (tree.Relationship, error) {
	if err := s.repo.LockHierarchy(ctx, tenantID, in.HierarchyID); err != nil {
		return tree.Relationship{}, err
	}
	parent, err := s.endpoint(ctx, tenantID, in.ParentNodeID, false)
	if err != nil {
		return tree.Relationship{}, err
	}
	child, err := s.endpoint(ctx, tenantID, in.ChildNodeID, true)
	if err != nil {
		return tree.Relationship{}, err
	}
	if parent.HierarchyID != in.HierarchyID || child.HierarchyID != in.HierarchyID {
		return tree.Relationship{}, withMessage(ErrHierarchyMismatch, "nodes %s and %s must both belong to hierarchy %s", parent.ID, child.ID, in.HierarchyID)
	}
	h, err := s.ops.activeHierarchy(ctx, tenantID, in.HierarchyID)
	if err != nil {
		return tree.Relationship{}, err
	}

	if parent.ID == child.ID {
		return tree.Relationship{}, withMessage(ErrCircularReference, "node %s cannot be related to itself", parent.ID)
	}
	subtree, err := s.ops.subtree(ctx, tenantID, h, child)
	if err != nil {
		return tree.Relationship{}, err
	}
	if containsNode(subtree, parent.ID) {
		return tree.Relationship{}, withMessage(ErrCircularReference, "node %s is a descendant of %s", parent.ID, child.ID)
	}

	if !tree.IsRelationshipAllowed(parent.Type, child.Type, in.Type) {
		return tree.Relationship{}, withMessage(ErrInvalidRelationshipType, "%s edge not allowed from %s to %s (allowed: %v)",
			in.Type, parent.Type, child.Type, tree.AllowedRelationshipTypes(parent.Type, child.Type))
	}

	var placement tree.Placement
	if in.Type == tree.RelationshipHierarchical {
		placement, err = s.ops.placementUnder(ctx, tenantID, h, parent, child.ID)
		if err != nil {
			return tree.Relationship{}, err
		}
		if placement.Level > h.MaxDepth {
			return tree.Relationship{}, withMessage(ErrDepthExceeded, "level %d exceeds max depth %d of hierarchy %s", placement.Level, h.MaxDepth, h.ID)
		}
		if deepest := placement.Level + subtreeHeight(subtree); deepest > h.MaxDepth {
			return tree.Relationship{}, withMessage(ErrDepthExceeded, "subtree of %s would reach level %d, max depth is %d", child.ID, deepest, h.MaxDepth)
		}
		if existing, ok, err := s.repo.FindActiveHierarchicalEdge(ctx, tenantID, child.ID); err != nil {
			return tree.Relationship{}, err
		} else if ok {
			return tree.Relationship{}, withMessage(ErrDuplicateHierarchicalParent, "node %s already has hierarchical parent %s", child.ID, existing.ParentNodeID)
		}
		if child.ParentID != nil {
			return tree.Relationship{}, withMessage(ErrDuplicateHierarchicalParent, "node %s already has parent %s", child.ID, *child.ParentID)
		}
	}

	effectiveFrom := in.EffectiveFrom
	if effectiveFrom.IsZero() {
		effectiveFrom = now
	}
	r := tree.Relationship{
		ID:            uuid.New(),
		HierarchyID:   h.ID,
		ParentNodeID:  parent.ID,
		ChildNodeID:   child.ID,
		Type:          in.Type,
		Strength:      valueOr(in.Strength, 1.0),
		Weight:        valueOr(in.Weight, 1.0),
		Metadata:      in.Metadata,
		IsActive:      true,
		EffectiveFrom: effectiveFrom,
		CreatedAt:     now,
	}
	if err := s.repo.InsertRelationship(ctx, tenantID, r); err != nil {
		return tree.Relationship{}, err
	}
	if r.IsHierarchical() {
		parentID := parent.ID
		if _, err := s.ops.move(ctx, tenantID, child, &parentID, placement, subtree, now); err != nil {
			return tree.Relationship{}, err
		}
	}
	return r, nil
}

// endpoint resolves an edge endpoint; lock takes the row lock used for the child.
func (s *RelationshipService) endpoint(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, lock bool) (tree.Node, error) {
	var (
		n   tree.Node
		err error
	)
	if lock {
		n, err = s.repo.LockNode(ctx, tenantID, id)
	} else {
		n, err = s.repo.GetNode(ctx, tenantID, id)
	}
	if err != nil {
		if isNotFound(err) {
			return tree.Node{}, withMessage(ErrInvalidEndpoint, "node %s not found", id)
		}
		return tree.Node{}, err
	}
	if !n.IsActive {
		return tree.Node{}, withMessage(ErrInvalidEndpoint, "node %s is inactive", id)
	}
	return n, nil
}

// RemoveRelationship deactivates an edge. Removing a hierarchical edge turns
// the child into a root and rewrites the derived fields of its subtree.
func (s *RelationshipService) RemoveRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (r tree.Relationship, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "remove_relationship")
	defer end(&err)

	now := s.opts.now()
	r, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Relationship, error) {
		rel, err := s.getRelationship(txCtx, tenantID, id)
		if err != nil {
			return tree.Relationship{}, err
		}
		if err := s.repo.LockHierarchy(txCtx, tenantID, rel.HierarchyID); err != nil {
			return tree.Relationship{}, err
		}
		// Re-read under the lock; a concurrent removal may have won.
		if rel, err = s.getRelationship(txCtx, tenantID, id); err != nil {
			return tree.Relationship{}, err
		}
		if !rel.IsActive {
			return rel, nil
		}
		if err := s.repo.DeactivateRelationship(txCtx, tenantID, rel.ID, now); err != nil {
			return tree.Relationship{}, err
		}
		rel.IsActive = false
		rel.EffectiveTo = &now
		if !rel.IsHierarchical() {
			return rel, nil
		}

		child, err := s.repo.LockNode(txCtx, tenantID, rel.ChildNodeID)
		if err != nil {
			if isNotFound(err) {
				return tree.Relationship{}, withMessage(ErrInternalConsistency, "relationship %s points at missing child %s", rel.ID, rel.ChildNodeID)
			}
			return tree.Relationship{}, err
		}
		if child.ParentID == nil || *child.ParentID != rel.ParentNodeID {
			return rel, nil
		}
		h, err := s.ops.hierarchyOf(txCtx, tenantID, child)
		if err != nil {
			return tree.Relationship{}, err
		}
		subtree, err := s.ops.subtree(txCtx, tenantID, h, child)
		if err != nil {
			return tree.Relationship{}, err
		}
		if _, err := s.ops.move(txCtx, tenantID, child, nil, tree.RootPlacement(child.ID), subtree, now); err != nil {
			return tree.Relationship{}, err
		}
		return rel, nil
	})
	if err != nil {
		return tree.Relationship{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicHierarchyChangedV1, "relationship.removed", events.EntityRelationship, r.ID, r)
	return r, nil
}

func (s *RelationshipService) GetRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (tree.Relationship, error) {
		return s.getRelationship(txCtx, tenantID, id)
	})
}

func (s *RelationshipService) getRelationship(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (tree.Relationship, error) {
	rel, err := s.repo.GetRelationship(ctx, tenantID, id)
	if err != nil {
		if isNotFound(err) {
			return tree.Relationship{}, withMessage(ErrNotFound, "relationship %s not found", id)
		}
		return tree.Relationship{}, err
	}
	return rel, nil
}

func (s *RelationshipService) ListRelationships(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]tree.Relationship, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]tree.Relationship, error) {
		return s.repo.ListActiveRelationships(txCtx, tenantID, hierarchyID)
	})
}

// ValidateHierarchyIntegrity re-checks every active edge of a hierarchy and
// scans the parent-pointer graph for cycles and drifted derived fields. It
// reads a snapshot and never writes.
func (s *RelationshipService) ValidateHierarchyIntegrity(ctx context.Context, tenantID uuid.UUID, hierarchyID uuid.UUID) ([]Finding, error) {
	findings, err := inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]Finding, error) {
		h, err := s.repo.GetHierarchy(txCtx, tenantID, hierarchyID)
		if err != nil {
			if isNotFound(err) {
				return nil, withMessage(ErrNotFound, "hierarchy %s not found", hierarchyID)
			}
			return nil, err
		}
		nodes, err := s.repo.ListNodes(txCtx, tenantID, h.ID)
		if err != nil {
			return nil, err
		}
		edges, err := s.repo.ListActiveRelationships(txCtx, tenantID, h.ID)
		if err != nil {
			return nil, err
		}
		a := newArena(nodes)

		var out []Finding
		edgeOut, err := s.edgeFindings(txCtx, tenantID, h, a, edges)
		if err != nil {
			return nil, err
		}
		out = append(out, edgeOut...)
		out = append(out, parentEdgeFindings(a, nodes, edges)...)
		out = append(out, nodeFindings(txCtx, h, a, nodes)...)
		return out, nil
	})
	if err != nil {
		return nil, err
	}
	recordFindings(findings)
	s.opts.audit.Integrity(ctx, tenantID, hierarchyID, nil, findings)
	return findings, nil
}

func (s *RelationshipService) edgeFindings(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, a *arena, edges []tree.Relationship) ([]Finding, error) {
	sorted := append([]tree.Relationship(nil), edges...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})

	var out []Finding
	seenHierarchicalChild := map[uuid.UUID]uuid.UUID{}
	for _, e := range sorted {
		parent, pFinding, err := s.auditEndpoint(ctx, tenantID, h, a, e, e.ParentNodeID)
		if err != nil {
			return nil, err
		}
		child, cFinding, err := s.auditEndpoint(ctx, tenantID, h, a, e, e.ChildNodeID)
		if err != nil {
			return nil, err
		}
		if pFinding != nil || cFinding != nil {
			for _, f := range []*Finding{pFinding, cFinding} {
				if f != nil {
					out = append(out, *f)
				}
			}
			continue
		}

		if parent.ID == child.ID {
			out = append(out, edgeFinding(CodeCircularReference, e.ID, "edge relates a node to itself"))
			continue
		}
		if below, err := descendantsBFS(ctx, a.listChildren, child, 0, h.TraversalCap()); err == nil && containsNode(below, parent.ID) {
			out = append(out, edgeFinding(CodeCircularReference, e.ID, fmt.Sprintf("parent %s is a descendant of child %s", parent.ID, child.ID)))
		}
		if !tree.IsRelationshipAllowed(parent.Type, child.Type, e.Type) {
			out = append(out, edgeFinding(CodeInvalidRelationshipType, e.ID, fmt.Sprintf("%s edge not allowed from %s to %s", e.Type, parent.Type, child.Type)))
		}
		if e.Type != tree.RelationshipHierarchical {
			continue
		}
		if chain, err := ancestorChain(ctx, a.lookup, parent, h.TraversalCap()); err == nil {
			if level := len(chain) + 1; level > h.MaxDepth {
				out = append(out, edgeFinding(CodeDepthExceeded, e.ID, fmt.Sprintf("child level %d exceeds max depth %d", level, h.MaxDepth)))
			}
		}
		if first, dup := seenHierarchicalChild[child.ID]; dup {
			out = append(out, edgeFinding(CodeDuplicateHierarchicalParent, e.ID, fmt.Sprintf("child %s already has hierarchical edge %s", child.ID, first)))
			continue
		}
		seenHierarchicalChild[child.ID] = e.ID
	}
	return out, nil
}

// auditEndpoint resolves an edge endpoint from the snapshot, falling back to
// the store for nodes outside the hierarchy.
func (s *RelationshipService) auditEndpoint(ctx context.Context, tenantID uuid.UUID, h tree.Hierarchy, a *arena, e tree.Relationship, id uuid.UUID) (tree.Node, *Finding, error) {
	if n, ok := a.nodes[id]; ok {
		if !n.IsActive {
			f := edgeFinding(CodeInvalidEndpoint, e.ID, fmt.Sprintf("node %s is inactive", id))
			return tree.Node{}, &f, nil
		}
		return n, nil, nil
	}
	n, err := s.repo.GetNode(ctx, tenantID, id)
	if err != nil {
		if isNotFound(err) {
			f := edgeFinding(CodeInvalidEndpoint, e.ID, fmt.Sprintf("node %s not found", id))
			return tree.Node{}, &f, nil
		}
		return tree.Node{}, nil, err
	}
	f := edgeFinding(CodeHierarchyMismatch, e.ID, fmt.Sprintf("node %s belongs to hierarchy %s, not %s", id, n.HierarchyID, h.ID))
	return tree.Node{}, &f, nil
}

// parentEdgeFindings reports parent pointers and active hierarchical edges
// that disagree with each other.
func parentEdgeFindings(a *arena, nodes []tree.Node, edges []tree.Relationship) []Finding {
	edgeParent := map[uuid.UUID]uuid.UUID{}
	var out []Finding
	for _, e := range edges {
		if !e.IsHierarchical() {
			continue
		}
		if _, dup := edgeParent[e.ChildNodeID]; !dup {
			edgeParent[e.ChildNodeID] = e.ParentNodeID
		}
		child, ok := a.nodes[e.ChildNodeID]
		if !ok || !child.IsActive {
			continue
		}
		if child.ParentID == nil || *child.ParentID != e.ParentNodeID {
			f := edgeFinding(CodeParentEdgeMismatch, e.ID, fmt.Sprintf("child %s does not point at edge parent %s", child.ID, e.ParentNodeID))
			f.Expected = e.ParentNodeID.String()
			f.Actual = parentString(child.ParentID)
			out = append(out, f)
		}
	}

	for _, n := range sortedByCreation(nodes) {
		if !n.IsActive || n.ParentID == nil {
			continue
		}
		if p, ok := edgeParent[n.ID]; ok && p == *n.ParentID {
			continue
		}
		f := nodeFinding(CodeParentEdgeMismatch, n.ID, fmt.Sprintf("no active hierarchical edge from parent %s", *n.ParentID))
		f.Expected = n.ParentID.String()
		f.Actual = parentString(edgeParentPtr(edgeParent, n.ID))
		out = append(out, f)
	}
	return out
}

func edgeParentPtr(m map[uuid.UUID]uuid.UUID, child uuid.UUID) *uuid.UUID {
	if p, ok := m[child]; ok {
		return &p
	}
	return nil
}

func parentString(id *uuid.UUID) string {
	if id == nil {
		return "root"
	}
	return id.String()
}

func sortedByCreation(nodes []tree.Node) []tree.Node {
	sorted := append([]tree.Node(nil), nodes...)
	sort.SliceStable(sorted, func(i, j int) bool {
		if !sorted[i].CreatedAt.Equal(sorted[j].CreatedAt) {
			return sorted[i].CreatedAt.Before(sorted[j].CreatedAt)
		}
		return bytes.Compare(sorted[i].ID[:], sorted[j].ID[:]) < 0
	})
	return sorted
}

// nodeFindings walks every node's parent chain in the snapshot.
func nodeFindings(ctx context.Context, h tree.Hierarchy, a *arena, nodes []tree.Node) []Finding {
	var out []Finding
	for _, n := range sortedByCreation(nodes) {
		chain, err := ancestorChain(ctx, a.lookup, n, h.TraversalCap())
		if err != nil {
			if f, ok := chainFinding(n.ID, err); ok {
				out = append(out, f)
			}
			continue
		}
		out = append(out, positionFindings(n, expectedPlacement(chain, n))...)
	}
	return out
}

func valueOr(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}
