package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	TopicHierarchyChangedV1 = "hierarchy.changed.v1"
	TopicAccessChangedV1    = "hierarchy.access.changed.v1"
	TopicIntegrityReportV1  = "hierarchy.integrity.v1"
	EventVersionV1          = 1
)

const (
	EntityHierarchy    = "hierarchy"
	EntityNode         = "hierarchy_node"
	EntityRelationship = "hierarchy_relationship"
	EntityRole         = "hierarchy_role"
	EntityPermission   = "hierarchy_permission"
)

// ChangeEventV1 describes one committed mutation.
type ChangeEventV1 struct {
	EventID         uuid.UUID       `json:"event_id"`
	EventVersion    int             `json:"event_version"`
	Topic           string          `json:"topic"`
	RequestID       string          `json:"request_id"`
	TenantID        uuid.UUID       `json:"tenant_id"`
	TransactionTime time.Time       `json:"transaction_time"`
	ChangeType      string          `json:"change_type"`
	EntityType      string          `json:"entity_type"`
	EntityID        uuid.UUID       `json:"entity_id"`
	NewValues       json.RawMessage `json:"new_values"`
}

// RejectionEventV1 describes a validation failure that rolled a transaction back.
type RejectionEventV1 struct {
	EventID         uuid.UUID `json:"event_id"`
	RequestID       string    `json:"request_id"`
	TenantID        uuid.UUID `json:"tenant_id"`
	TransactionTime time.Time `json:"transaction_time"`
	Operation       string    `json:"operation"`
	Code            string    `json:"code"`
	Message         string    `json:"message"`
}

// IntegrityReportV1 carries the findings of an audit pass.
type IntegrityReportV1 struct {
	EventID     uuid.UUID       `json:"event_id"`
	RequestID   string          `json:"request_id"`
	TenantID    uuid.UUID       `json:"tenant_id"`
	HierarchyID uuid.UUID       `json:"hierarchy_id"`
	NodeID      *uuid.UUID      `json:"node_id,omitempty"`
	CheckedAt   time.Time       `json:"checked_at"`
	Findings    json.RawMessage `json:"findings"`
	Count       int             `json:"count"`
}
