package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/events"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
	"github.com/iota-uz/iota-hierarchy/pkg/eventbus"
)

// Auditor publishes hierarchy events on the in-process bus. A nil Auditor drops everything.
type Auditor struct {
	bus eventbus.EventBus
	now Clock
}

func NewAuditor(bus eventbus.EventBus) *Auditor {
	return &Auditor{bus: bus, now: defaultClock}
}

func (a *Auditor) Changed(ctx context.Context, tenantID uuid.UUID, topic, changeType, entityType string, entityID uuid.UUID, values any) {
	if a == nil || a.bus == nil {
		return
	}
	raw, err := json.Marshal(values)
	if err != nil {
		raw = json.RawMessage("{}")
	}
	a.bus.Publish(&events.ChangeEventV1{
		EventID:         uuid.New(),
		EventVersion:    events.EventVersionV1,
		Topic:           topic,
		RequestID:       composables.UseRequestID(ctx),
		TenantID:        tenantID,
		TransactionTime: a.now(),
		ChangeType:      changeType,
		EntityType:      entityType,
		EntityID:        entityID,
		NewValues:       raw,
	})
}

func (a *Auditor) Rejected(ctx context.Context, tenantID uuid.UUID, operation string, err *ServiceError) {
	if a == nil || a.bus == nil || err == nil {
		return
	}
	a.bus.Publish(&events.RejectionEventV1{
		EventID:         uuid.New(),
		RequestID:       composables.UseRequestID(ctx),
		TenantID:        tenantID,
		TransactionTime: a.now(),
		Operation:       operation,
		Code:            err.Code,
		Message:         err.Message,
	})
}

func (a *Auditor) Integrity(ctx context.Context, tenantID, hierarchyID uuid.UUID, nodeID *uuid.UUID, findings []Finding) {
	if a == nil || a.bus == nil {
		return
	}
	raw, err := json.Marshal(findings)
	if err != nil {
		raw = json.RawMessage("[]")
	}
	a.bus.Publish(&events.IntegrityReportV1{
		EventID:     uuid.New(),
		RequestID:   composables.UseRequestID(ctx),
		TenantID:    tenantID,
		HierarchyID: hierarchyID,
		NodeID:      nodeID,
		CheckedAt:   a.now(),
		Findings:    raw,
		Count:       len(findings),
	})
}

// SubscribeAuditLog writes every hierarchy event to log as a structured entry.
func SubscribeAuditLog(bus eventbus.EventBus, log *logrus.Logger) {
	bus.Subscribe(func(e *events.ChangeEventV1) {
		log.WithFields(logrus.Fields{
			"topic":       e.Topic,
			"request_id":  e.RequestID,
			"tenant_id":   e.TenantID.String(),
			"change_type": e.ChangeType,
			"entity_type": e.EntityType,
			"entity_id":   e.EntityID.String(),
		}).Info("hierarchy.audit.changed")
	})
	bus.Subscribe(func(e *events.RejectionEventV1) {
		log.WithFields(logrus.Fields{
			"request_id": e.RequestID,
			"tenant_id":  e.TenantID.String(),
			"operation":  e.Operation,
			"error_code": e.Code,
			"message":    e.Message,
		}).Warn("hierarchy.audit.rejected")
	})
	bus.Subscribe(func(e *events.IntegrityReportV1) {
		fields := logrus.Fields{
			"request_id":   e.RequestID,
			"tenant_id":    e.TenantID.String(),
			"hierarchy_id": e.HierarchyID.String(),
			"count":        e.Count,
		}
		if e.NodeID != nil {
			fields["node_id"] = e.NodeID.String()
		}
		entry := log.WithFields(fields)
		if e.Count > 0 {
			entry.WithField("findings", string(e.Findings)).Warn("hierarchy.audit.integrity")
			return
		}
		entry.Info("hierarchy.audit.integrity")
	})
}
