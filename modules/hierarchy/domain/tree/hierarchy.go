package tree

import (
	"time"

	"github.com/google/uuid"
)

// HierarchyType is the kind of organizational structure a hierarchy models.
type HierarchyType string

const (
	HierarchyReporting  HierarchyType = "reporting"
	HierarchyMatrix     HierarchyType = "matrix"
	HierarchyFunctional HierarchyType = "functional"
	HierarchyGeographic HierarchyType = "geographic"
)

func (t HierarchyType) Valid() bool {
	switch t {
	case HierarchyReporting, HierarchyMatrix, HierarchyFunctional, HierarchyGeographic:
		return true
	}
	return false
}

// Hierarchy owns a forest of nodes and bounds its depth.
type Hierarchy struct {
	ID             uuid.UUID     `json:"id"`
	OrganizationID uuid.UUID     `json:"organization_id"`
	Name           string        `json:"name"`
	Type           HierarchyType `json:"type"`
	MaxDepth       int           `json:"max_depth"`
	IsActive       bool          `json:"is_active"`
	CreatedAt      time.Time     `json:"created_at"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// TraversalCap is the number of parent-pointer steps a walk may take before
// the tree is considered corrupt.
func (h Hierarchy) TraversalCap() int {
	return h.MaxDepth + 1
}
