package access

import (
	"bytes"
	"sort"
	"time"

	"github.com/google/uuid"
)

type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

func (e Effect) Valid() bool {
	return e == EffectAllow || e == EffectDeny
}

// Permission is an allow/deny rule for a (resource type, action) pair.
// A nil NodeID applies the rule in every node context.
type Permission struct {
	ID           uuid.UUID      `json:"id"`
	RoleID       uuid.UUID      `json:"role_id"`
	NodeID       *uuid.UUID     `json:"node_id,omitempty"`
	ResourceType string         `json:"resource_type"`
	Action       string         `json:"action"`
	Effect       Effect         `json:"effect"`
	Priority     int            `json:"priority"`
	Conditions   map[string]any `json:"conditions,omitempty"`
	IsActive     bool           `json:"is_active"`
	CreatedAt    time.Time      `json:"created_at"`
}

// Key is the "{resourceType}:{action}" map key used by effective permission sets.
func (p Permission) Key() string {
	return PermissionKey(p.ResourceType, p.Action)
}

func PermissionKey(resourceType, action string) string {
	return resourceType + ":" + action
}

// Filter narrows the permissions considered for a query. Zero fields match everything.
type Filter struct {
	NodeID       *uuid.UUID
	ResourceType string
	Action       string
}

// Matches reports whether p applies under f. Node-bound permissions only
// match their own node; unbound permissions match any node.
func (f Filter) Matches(p Permission) bool {
	if f.ResourceType != "" && p.ResourceType != f.ResourceType {
		return false
	}
	if f.Action != "" && p.Action != f.Action {
		return false
	}
	if f.NodeID != nil && p.NodeID != nil && *p.NodeID != *f.NodeID {
		return false
	}
	return true
}

// SortByPriority orders permissions by priority desc, then creation asc, then id.
func SortByPriority(perms []Permission) {
	sort.SliceStable(perms, func(i, j int) bool {
		a, b := perms[i], perms[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.ID[:], b.ID[:]) < 0
	})
}
