package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/tree"
)

var (
	errNodeMissing   = fmt.Errorf("node not in snapshot: %w", pgx.ErrNoRows)
	errAncestorCycle = errors.New("ancestor cycle")
)

type nodeLookup func(ctx context.Context, id uuid.UUID) (tree.Node, error)

type childLister func(ctx context.Context, parentID uuid.UUID) ([]tree.Node, error)

// subtreeEntry is a descendant together with its depth relative to the traversal root.
type subtreeEntry struct {
	Node  tree.Node
	Depth int
}

// ancestorChain walks parent pointers from n, immediate parent first. The
// walk takes at most maxSteps steps and never revisits a node; either
// condition means the stored tree is corrupt.
func ancestorChain(ctx context.Context, lookup nodeLookup, n tree.Node, maxSteps int) ([]tree.Node, error) {
	visited := map[uuid.UUID]struct{}{n.ID: {}}
	var out []tree.Node
	cur := n
	for cur.ParentID != nil {
		if len(out) >= maxSteps {
			return nil, withMessage(ErrInternalConsistency, "ancestor walk from node %s exceeded %d steps", n.ID, maxSteps)
		}
		parentID := *cur.ParentID
		if _, seen := visited[parentID]; seen {
			cycle := withMessage(ErrInternalConsistency, "node %s is its own ancestor", parentID)
			cycle.Cause = errAncestorCycle
			return nil, cycle
		}
		parent, err := lookup(ctx, parentID)
		if err != nil {
			if isNotFound(err) {
				return nil, withMessage(ErrInternalConsistency, "node %s points at missing parent %s", cur.ID, parentID)
			}
			return nil, err
		}
		if parent.HierarchyID != n.HierarchyID {
			return nil, withMessage(ErrInternalConsistency, "node %s has a parent in another hierarchy", cur.ID)
		}
		visited[parentID] = struct{}{}
		out = append(out, parent)
		cur = parent
	}
	return out, nil
}

// descendantsBFS collects every node below root breadth-first. maxDepth > 0
// stops the walk at that relative depth. Nodes deeper than hardCap, or
// reached twice, make the walk fail.
func descendantsBFS(ctx context.Context, list childLister, root tree.Node, maxDepth, hardCap int) ([]subtreeEntry, error) {
	visited := map[uuid.UUID]struct{}{root.ID: {}}
	var out []subtreeEntry
	frontier := []tree.Node{root}
	for depth := 1; len(frontier) > 0; depth++ {
		if maxDepth > 0 && depth > maxDepth {
			break
		}
		var next []tree.Node
		for _, parent := range frontier {
			children, err := list(ctx, parent.ID)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if depth > hardCap {
					return nil, withMessage(ErrInternalConsistency, "subtree of node %s is deeper than %d", root.ID, hardCap)
				}
				if _, seen := visited[child.ID]; seen {
					return nil, withMessage(ErrInternalConsistency, "node %s reached twice below %s", child.ID, root.ID)
				}
				visited[child.ID] = struct{}{}
				out = append(out, subtreeEntry{Node: child, Depth: depth})
				next = append(next, child)
			}
		}
		frontier = next
	}
	return out, nil
}

// subtreeHeight is the deepest relative depth among entries, zero for a leaf.
func subtreeHeight(entries []subtreeEntry) int {
	height := 0
	for _, e := range entries {
		if e.Depth > height {
			height = e.Depth
		}
	}
	return height
}

func containsNode(entries []subtreeEntry, id uuid.UUID) bool {
	for _, e := range entries {
		if e.Node.ID == id {
			return true
		}
	}
	return false
}

// arena is an in-memory snapshot of a hierarchy used by audits.
type arena struct {
	nodes    map[uuid.UUID]tree.Node
	children map[uuid.UUID][]tree.Node
}

func newArena(nodes []tree.Node) *arena {
	a := &arena{
		nodes:    make(map[uuid.UUID]tree.Node, len(nodes)),
		children: make(map[uuid.UUID][]tree.Node),
	}
	for _, n := range nodes {
		a.nodes[n.ID] = n
		if n.ParentID != nil {
			a.children[*n.ParentID] = append(a.children[*n.ParentID], n)
		}
	}
	return a
}

func (a *arena) lookup(_ context.Context, id uuid.UUID) (tree.Node, error) {
	n, ok := a.nodes[id]
	if !ok {
		return tree.Node{}, errNodeMissing
	}
	return n, nil
}

func (a *arena) listChildren(_ context.Context, parentID uuid.UUID) ([]tree.Node, error) {
	return a.children[parentID], nil
}
