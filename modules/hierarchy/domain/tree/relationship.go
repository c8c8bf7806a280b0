package tree

import (
	"time"

	"github.com/google/uuid"
)

type RelationshipType string

const (
	RelationshipHierarchical RelationshipType = "hierarchical"
	RelationshipMatrix       RelationshipType = "matrix"
	RelationshipFunctional   RelationshipType = "functional"
	RelationshipGeographical RelationshipType = "geographical"
	RelationshipCustom       RelationshipType = "custom"
)

func (t RelationshipType) Valid() bool {
	switch t {
	case RelationshipHierarchical, RelationshipMatrix, RelationshipFunctional, RelationshipGeographical, RelationshipCustom:
		return true
	}
	return false
}

// Relationship is a typed, weighted edge between two nodes of one hierarchy.
// Only hierarchical edges drive the parent pointer of the child node.
type Relationship struct {
	ID            uuid.UUID        `json:"id"`
	HierarchyID   uuid.UUID        `json:"hierarchy_id"`
	ParentNodeID  uuid.UUID        `json:"parent_node_id"`
	ChildNodeID   uuid.UUID        `json:"child_node_id"`
	Type          RelationshipType `json:"type"`
	Strength      float64          `json:"strength"`
	Weight        float64          `json:"weight"`
	Metadata      map[string]any   `json:"metadata,omitempty"`
	IsActive      bool             `json:"is_active"`
	EffectiveFrom time.Time        `json:"effective_from"`
	EffectiveTo   *time.Time       `json:"effective_to,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

func (r Relationship) IsHierarchical() bool {
	return r.Type == RelationshipHierarchical
}
