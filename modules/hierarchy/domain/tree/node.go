package tree

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type NodeType string

const (
	NodeDepartment NodeType = "department"
	NodeTeam       NodeType = "team"
	NodePosition   NodeType = "position"
	NodeRole       NodeType = "role"
	NodeLocation   NodeType = "location"
	NodeCustom     NodeType = "custom"
)

func (t NodeType) Valid() bool {
	switch t {
	case NodeDepartment, NodeTeam, NodePosition, NodeRole, NodeLocation, NodeCustom:
		return true
	}
	return false
}

const PathSeparator = "/"

// Node is one organizational unit. Level and MaterializedPath are derived
// from the parent chain and rewritten whenever the node or an ancestor moves.
type Node struct {
	ID               uuid.UUID      `json:"id"`
	HierarchyID      uuid.UUID      `json:"hierarchy_id"`
	ParentID         *uuid.UUID     `json:"parent_id,omitempty"`
	Name             string         `json:"name"`
	DisplayName      string         `json:"display_name,omitempty"`
	Type             NodeType       `json:"type"`
	Level            int            `json:"level"`
	Order            int            `json:"order"`
	MaterializedPath string         `json:"materialized_path"`
	Metadata         map[string]any `json:"metadata,omitempty"`
	UserID           *uuid.UUID     `json:"user_id,omitempty"`
	OrganizationID   uuid.UUID      `json:"organization_id"`
	IsActive         bool           `json:"is_active"`
	EffectiveFrom    time.Time      `json:"effective_from"`
	EffectiveTo      *time.Time     `json:"effective_to,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

func (n Node) IsRoot() bool {
	return n.ParentID == nil
}

// Placement is the pair of derived fields for a node at a given position.
type Placement struct {
	Level int
	Path  string
}

// RootPlacement is the placement of a node without a parent.
func RootPlacement(id uuid.UUID) Placement {
	return Placement{Level: 0, Path: id.String()}
}

// ChildPlacement is the placement of id directly below parent.
func ChildPlacement(parent Placement, id uuid.UUID) Placement {
	return Placement{Level: parent.Level + 1, Path: parent.Path + PathSeparator + id.String()}
}

func (n Node) Placement() Placement {
	return Placement{Level: n.Level, Path: n.MaterializedPath}
}

// BuildPath joins ancestor ids (root first) and the node id.
func BuildPath(ancestorIDs []uuid.UUID, self uuid.UUID) string {
	parts := make([]string, 0, len(ancestorIDs)+1)
	for _, id := range ancestorIDs {
		parts = append(parts, id.String())
	}
	parts = append(parts, self.String())
	return strings.Join(parts, PathSeparator)
}

// ParsePath splits a materialized path back into ids, root first.
func ParsePath(path string) ([]uuid.UUID, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("materialized path is empty")
	}
	raw := strings.Split(path, PathSeparator)
	out := make([]uuid.UUID, 0, len(raw))
	for _, part := range raw {
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, fmt.Errorf("materialized path segment %q: %w", part, err)
		}
		out = append(out, id)
	}
	return out, nil
}

// SubtreePrefix is the LIKE prefix matching every strict descendant of a node at path.
func SubtreePrefix(path string) string {
	return path + PathSeparator
}
