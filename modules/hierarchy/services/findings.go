package services

import (
	"github.com/google/uuid"
)

// Finding is one audit observation. Audits return findings instead of failing.
type Finding struct {
	Code           string     `json:"code" yaml:"code"`
	NodeID         *uuid.UUID `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	RelationshipID *uuid.UUID `json:"relationship_id,omitempty" yaml:"relationship_id,omitempty"`
	Message        string     `json:"message" yaml:"message"`
	Expected       string     `json:"expected,omitempty" yaml:"expected,omitempty"`
	Actual         string     `json:"actual,omitempty" yaml:"actual,omitempty"`
}

func nodeFinding(code string, nodeID uuid.UUID, message string) Finding {
	id := nodeID
	return Finding{Code: code, NodeID: &id, Message: message}
}

func edgeFinding(code string, relationshipID uuid.UUID, message string) Finding {
	id := relationshipID
	return Finding{Code: code, RelationshipID: &id, Message: message}
}
