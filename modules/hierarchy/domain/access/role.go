package access

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidRole = errors.New("invalid role")

type Scope string

const (
	ScopeGlobal       Scope = "global"
	ScopeOrganization Scope = "organization"
	ScopeHierarchy    Scope = "hierarchy"
	ScopeNode         Scope = "node"
	ScopeCustom       Scope = "custom"
)

func (s Scope) Valid() bool {
	switch s {
	case ScopeGlobal, ScopeOrganization, ScopeHierarchy, ScopeNode, ScopeCustom:
		return true
	}
	return false
}

const (
	MinPriority = 0
	MaxPriority = 1000
)

// Role is a named, prioritized bundle of permissions. System roles are immutable.
type Role struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Description    string
	Scope          Scope
	Priority       int
	Config         Config
	HierarchyID    *uuid.UUID
	NodeID         *uuid.UUID
	IsActive       bool
	IsSystem       bool
	EffectiveFrom  time.Time
	EffectiveTo    *time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

type NewRoleParams struct {
	ID             uuid.UUID
	OrganizationID uuid.UUID
	Name           string
	Description    string
	Scope          Scope
	Priority       int
	Config         Config
	HierarchyID    *uuid.UUID
	NodeID         *uuid.UUID
	IsSystem       bool
	Now            time.Time
}

// NewRole validates p and returns an inactive role.
func NewRole(p NewRoleParams) (Role, error) {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return Role{}, fmt.Errorf("%w: name is required", ErrInvalidRole)
	}
	if p.OrganizationID == uuid.Nil {
		return Role{}, fmt.Errorf("%w: organization_id is required", ErrInvalidRole)
	}
	scope := p.Scope
	if scope == "" {
		scope = ScopeOrganization
	}
	if !scope.Valid() {
		return Role{}, fmt.Errorf("%w: unknown scope %q", ErrInvalidRole, p.Scope)
	}
	if p.Priority < MinPriority || p.Priority > MaxPriority {
		return Role{}, fmt.Errorf("%w: priority must be within [%d, %d]", ErrInvalidRole, MinPriority, MaxPriority)
	}
	if scope == ScopeHierarchy && p.HierarchyID == nil {
		return Role{}, fmt.Errorf("%w: hierarchy scope requires hierarchy_id", ErrInvalidRole)
	}
	if scope == ScopeNode && p.NodeID == nil {
		return Role{}, fmt.Errorf("%w: node scope requires node_id", ErrInvalidRole)
	}
	cfg := p.Config
	if cfg == nil {
		cfg = StaticConfig{}
	}
	if err := cfg.Validate(); err != nil {
		return Role{}, err
	}

	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	now := p.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Role{
		ID:             id,
		OrganizationID: p.OrganizationID,
		Name:           name,
		Description:    strings.TrimSpace(p.Description),
		Scope:          scope,
		Priority:       p.Priority,
		Config:         cfg,
		HierarchyID:    p.HierarchyID,
		NodeID:         p.NodeID,
		IsSystem:       p.IsSystem,
		EffectiveFrom:  now,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}

// ConfigKind returns the tag of the role config, treating a nil config as static.
func (r Role) ConfigKind() Kind {
	if r.Config == nil {
		return KindStatic
	}
	return r.Config.Kind()
}

// Clone copies r under a new identity. The copy is inactive and never a system role.
func (r Role) Clone(id uuid.UUID, name string, now time.Time) Role {
	out := r
	out.ID = id
	out.Name = strings.TrimSpace(name)
	out.IsActive = false
	out.IsSystem = false
	out.EffectiveFrom = now
	out.EffectiveTo = nil
	out.CreatedAt = now
	out.UpdatedAt = now
	return out
}

type roleJSON struct {
	ID             uuid.UUID       `json:"id"`
	OrganizationID uuid.UUID       `json:"organization_id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Scope          Scope           `json:"scope"`
	Priority       int             `json:"priority"`
	Config         json.RawMessage `json:"config"`
	HierarchyID    *uuid.UUID      `json:"hierarchy_id,omitempty"`
	NodeID         *uuid.UUID      `json:"node_id,omitempty"`
	IsActive       bool            `json:"is_active"`
	IsSystem       bool            `json:"is_system"`
	EffectiveFrom  time.Time       `json:"effective_from"`
	EffectiveTo    *time.Time      `json:"effective_to,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

func (r Role) MarshalJSON() ([]byte, error) {
	cfg, err := MarshalConfig(r.Config)
	if err != nil {
		return nil, err
	}
	return json.Marshal(roleJSON{
		ID:             r.ID,
		OrganizationID: r.OrganizationID,
		Name:           r.Name,
		Description:    r.Description,
		Scope:          r.Scope,
		Priority:       r.Priority,
		Config:         cfg,
		HierarchyID:    r.HierarchyID,
		NodeID:         r.NodeID,
		IsActive:       r.IsActive,
		IsSystem:       r.IsSystem,
		EffectiveFrom:  r.EffectiveFrom,
		EffectiveTo:    r.EffectiveTo,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	})
}

func (r *Role) UnmarshalJSON(data []byte) error {
	var raw roleJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	cfg, err := DecodeConfig(raw.Config)
	if err != nil {
		return err
	}
	*r = Role{
		ID:             raw.ID,
		OrganizationID: raw.OrganizationID,
		Name:           raw.Name,
		Description:    raw.Description,
		Scope:          raw.Scope,
		Priority:       raw.Priority,
		Config:         cfg,
		HierarchyID:    raw.HierarchyID,
		NodeID:         raw.NodeID,
		IsActive:       raw.IsActive,
		IsSystem:       raw.IsSystem,
		EffectiveFrom:  raw.EffectiveFrom,
		EffectiveTo:    raw.EffectiveTo,
		CreatedAt:      raw.CreatedAt,
		UpdatedAt:      raw.UpdatedAt,
	}
	return nil
}
