package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/events"
)

// RoleService manages the role lifecycle and the permissions attached to roles.
type RoleService struct {
	repo  AccessRepository
	nodes HierarchyRepository
	tx    Transactor
	opts  options
}

func NewRoleService(repo AccessRepository, nodes HierarchyRepository, tx Transactor, opts ...Option) *RoleService {
	return &RoleService{
		repo:  repo,
		nodes: nodes,
		tx:    tx,
		opts:  buildOptions(opts),
	}
}

type PermissionInput struct {
	NodeID       *uuid.UUID     `json:"node_id,omitempty"`
	ResourceType string         `json:"resource_type" validate:"required,max=100"`
	Action       string         `json:"action" validate:"required,max=100"`
	Effect       access.Effect  `json:"effect" validate:"required,oneof=allow deny"`
	Priority     int            `json:"priority" validate:"gte=0,lte=1000"`
	Conditions   map[string]any `json:"conditions,omitempty"`
}

type CreateRoleInput struct {
	Name        string            `json:"name" validate:"required,max=255"`
	Description string            `json:"description,omitempty" validate:"max=1000"`
	Scope       access.Scope      `json:"scope,omitempty" validate:"omitempty,oneof=global organization hierarchy node custom"`
	Priority    int               `json:"priority" validate:"gte=0,lte=1000"`
	Config      json.RawMessage   `json:"config,omitempty"`
	HierarchyID *uuid.UUID        `json:"hierarchy_id,omitempty"`
	NodeID      *uuid.UUID        `json:"node_id,omitempty"`
	IsSystem    bool              `json:"is_system"`
	Permissions []PermissionInput `json:"permissions,omitempty" validate:"dive"`
}

type UpdateRoleInput struct {
	Name        *string         `json:"name,omitempty" validate:"omitempty,min=1,max=255"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=1000"`
	Priority    *int            `json:"priority,omitempty" validate:"omitempty,gte=0,lte=1000"`
	Config      json.RawMessage `json:"config,omitempty"`
}

// CreateRole inserts an inactive role together with its initial permissions.
func (s *RoleService) CreateRole(ctx context.Context, tenantID uuid.UUID, in CreateRoleInput) (r access.Role, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "create_role")
	defer end(&err)

	in.Name = strings.TrimSpace(in.Name)
	if err := validateInput(in); err != nil {
		return access.Role{}, err
	}
	cfg, err := access.DecodeConfig(in.Config)
	if err != nil {
		return access.Role{}, mapConfigError(err)
	}
	now := s.opts.now()
	r, err = access.NewRole(access.NewRoleParams{
		OrganizationID: tenantID,
		Name:           in.Name,
		Description:    in.Description,
		Scope:          in.Scope,
		Priority:       in.Priority,
		Config:         cfg,
		HierarchyID:    in.HierarchyID,
		NodeID:         in.NodeID,
		IsSystem:       in.IsSystem,
		Now:            now,
	})
	if err != nil {
		return access.Role{}, mapConfigError(err)
	}

	if err := inTxDo(ctx, s.tx, tenantID, func(txCtx context.Context) error {
		if err := s.repo.InsertRole(txCtx, tenantID, r); err != nil {
			return err
		}
		for _, p := range in.Permissions {
			if err := s.repo.InsertPermission(txCtx, tenantID, newPermission(r.ID, p, now)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return access.Role{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "role.created", events.EntityRole, r.ID, r)
	return r, nil
}

func (s *RoleService) GetRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Role, error) {
		return s.getRole(txCtx, tenantID, id, false)
	})
}

func (s *RoleService) ListRoles(ctx context.Context, tenantID uuid.UUID) ([]access.Role, error) {
	return inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]access.Role, error) {
		return s.repo.ListRoles(txCtx, tenantID, tenantID)
	})
}

// UpdateRole applies a partial update. System roles cannot be changed.
func (s *RoleService) UpdateRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, in UpdateRoleInput) (r access.Role, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "update_role")
	defer end(&err)

	if err := validateInput(in); err != nil {
		return access.Role{}, err
	}
	var cfg access.Config
	if len(in.Config) > 0 {
		if cfg, err = access.UnmarshalConfig(in.Config); err != nil {
			return access.Role{}, mapConfigError(err)
		}
	}
	now := s.opts.now()
	r, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Role, error) {
		role, err := s.getRole(txCtx, tenantID, id, true)
		if err != nil {
			return access.Role{}, err
		}
		if role.IsSystem {
			return access.Role{}, withMessage(ErrSystemRoleImmutable, "role %s is a system role", role.ID)
		}
		if in.Name != nil {
			name := strings.TrimSpace(*in.Name)
			if name == "" {
				return access.Role{}, invalidBody("name must not be blank")
			}
			if role.IsActive && name != role.Name {
				if err := s.ensureNameFree(txCtx, tenantID, role.OrganizationID, name, role.ID); err != nil {
					return access.Role{}, err
				}
			}
			role.Name = name
		}
		if in.Description != nil {
			role.Description = strings.TrimSpace(*in.Description)
		}
		if in.Priority != nil {
			role.Priority = *in.Priority
		}
		if cfg != nil {
			role.Config = cfg
		}
		role.UpdatedAt = now
		if err := s.repo.UpdateRole(txCtx, tenantID, role); err != nil {
			return access.Role{}, err
		}
		return role, nil
	})
	if err != nil {
		return access.Role{}, err
	}
	s.invalidate(ctx, tenantID, "role_updated", r.ID)
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "role.updated", events.EntityRole, r.ID, r)
	return r, nil
}

// ActivateRole validates a role and marks it active. Any failed check leaves
// the role inactive.
func (s *RoleService) ActivateRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (r access.Role, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "activate_role")
	defer end(&err)

	now := s.opts.now()
	r, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Role, error) {
		return s.activate(txCtx, tenantID, id, now)
	})
	if err != nil {
		return access.Role{}, err
	}
	s.invalidate(ctx, tenantID, "role_activated", r.ID)
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "role.activated", events.EntityRole, r.ID, r)
	return r, nil
}

// BulkActivateRoles activates every role in one transaction or none of them.
func (s *RoleService) BulkActivateRoles(ctx context.Context, tenantID uuid.UUID, ids []uuid.UUID) (out []access.Role, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "bulk_activate_roles")
	defer end(&err)

	if len(ids) == 0 {
		return nil, invalidBody("role ids must not be empty")
	}
	now := s.opts.now()
	out, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) ([]access.Role, error) {
		roles := make([]access.Role, 0, len(ids))
		for i, id := range ids {
			r, err := s.activate(txCtx, tenantID, id, now)
			if err != nil {
				return nil, &BulkItemError{Index: i, Err: mapPgErrorToServiceError(err)}
			}
			roles = append(roles, r)
		}
		return roles, nil
	})
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		s.invalidate(ctx, tenantID, "role_activated", r.ID)
		s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "role.activated", events.EntityRole, r.ID, r)
	}
	return out, nil
}

func (s *RoleService) activate(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, now time.Time) (access.Role, error) {
	role, err := s.getRole(ctx, tenantID, id, true)
	if err != nil {
		return access.Role{}, err
	}
	if role.IsActive {
		return role, nil
	}
	if err := s.ensureNameFree(ctx, tenantID, role.OrganizationID, role.Name, role.ID); err != nil {
		return access.Role{}, err
	}
	if err := s.validateBinding(ctx, tenantID, role); err != nil {
		return access.Role{}, err
	}
	if role.Config != nil {
		if err := role.Config.Validate(); err != nil {
			return access.Role{}, mapConfigError(err)
		}
	}
	role.IsActive = true
	role.EffectiveTo = nil
	role.UpdatedAt = now
	if err := s.repo.UpdateRole(ctx, tenantID, role); err != nil {
		return access.Role{}, err
	}
	return role, nil
}

func (s *RoleService) ensureNameFree(ctx context.Context, tenantID, organizationID uuid.UUID, name string, exceptID uuid.UUID) error {
	taken, err := s.repo.ActiveRoleNameTaken(ctx, tenantID, organizationID, name, exceptID)
	if err != nil {
		return err
	}
	if taken {
		return withMessage(ErrDuplicateRoleName, "an active role named %q already exists", name)
	}
	return nil
}

// validateBinding checks that the hierarchy and node a role is bound to exist,
// are active and agree with each other.
func (s *RoleService) validateBinding(ctx context.Context, tenantID uuid.UUID, role access.Role) error {
	if role.HierarchyID != nil {
		h, err := s.nodes.GetHierarchy(ctx, tenantID, *role.HierarchyID)
		if err != nil {
			if isNotFound(err) {
				return withMessage(ErrInvalidEndpoint, "hierarchy %s not found", *role.HierarchyID)
			}
			return err
		}
		if !h.IsActive {
			return withMessage(ErrInvalidEndpoint, "hierarchy %s is inactive", h.ID)
		}
	}
	if role.NodeID != nil {
		n, err := s.nodes.GetNode(ctx, tenantID, *role.NodeID)
		if err != nil {
			if isNotFound(err) {
				return withMessage(ErrInvalidEndpoint, "node %s not found", *role.NodeID)
			}
			return err
		}
		if !n.IsActive {
			return withMessage(ErrInvalidEndpoint, "node %s is inactive", n.ID)
		}
		if role.HierarchyID != nil && n.HierarchyID != *role.HierarchyID {
			return withMessage(ErrHierarchyMismatch, "node %s does not belong to hierarchy %s", n.ID, *role.HierarchyID)
		}
	}
	return nil
}

// DeactivateRole deactivates a role and every permission attached to it.
func (s *RoleService) DeactivateRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (r access.Role, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "deactivate_role")
	defer end(&err)

	now := s.opts.now()
	r, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Role, error) {
		role, err := s.getRole(txCtx, tenantID, id, true)
		if err != nil {
			return access.Role{}, err
		}
		if role.IsSystem {
			return access.Role{}, withMessage(ErrSystemRoleImmutable, "role %s is a system role", role.ID)
		}
		if _, err := s.repo.DeactivateRolePermissions(txCtx, tenantID, role.ID); err != nil {
			return access.Role{}, err
		}
		if !role.IsActive {
			return role, nil
		}
		role.IsActive = false
		role.EffectiveTo = &now
		role.UpdatedAt = now
		if err := s.repo.UpdateRole(txCtx, tenantID, role); err != nil {
			return access.Role{}, err
		}
		return role, nil
	})
	if err != nil {
		return access.Role{}, err
	}
	s.invalidate(ctx, tenantID, "role_deactivated", r.ID)
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "role.deactivated", events.EntityRole, r.ID, r)
	return r, nil
}

// CloneRole copies a role and its active permissions under a new identity.
// The clone is inactive and never a system role. Copied permissions keep
// their creation time so they resolve in the same order as the source.
func (s *RoleService) CloneRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, newName string) (r access.Role, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "clone_role")
	defer end(&err)

	newName = strings.TrimSpace(newName)
	if newName == "" {
		return access.Role{}, invalidBody("new name is required")
	}
	now := s.opts.now()
	r, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Role, error) {
		src, err := s.getRole(txCtx, tenantID, id, false)
		if err != nil {
			return access.Role{}, err
		}
		clone := src.Clone(uuid.New(), newName, now)
		if err := s.repo.InsertRole(txCtx, tenantID, clone); err != nil {
			return access.Role{}, err
		}
		perms, err := s.repo.ListPermissions(txCtx, tenantID, src.ID, true)
		if err != nil {
			return access.Role{}, err
		}
		for _, p := range perms {
			p.ID = uuid.New()
			p.RoleID = clone.ID
			p.Conditions = copyMap(p.Conditions)
			if err := s.repo.InsertPermission(txCtx, tenantID, p); err != nil {
				return access.Role{}, err
			}
		}
		return clone, nil
	})
	if err != nil {
		return access.Role{}, err
	}
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "role.cloned", events.EntityRole, r.ID, r)
	return r, nil
}

func (s *RoleService) GrantPermission(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, in PermissionInput) (p access.Permission, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "grant_permission")
	defer end(&err)

	in.ResourceType = strings.TrimSpace(in.ResourceType)
	in.Action = strings.TrimSpace(in.Action)
	if err := validateInput(in); err != nil {
		return access.Permission{}, err
	}
	now := s.opts.now()
	p, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Permission, error) {
		role, err := s.getRole(txCtx, tenantID, roleID, true)
		if err != nil {
			return access.Permission{}, err
		}
		if role.IsSystem {
			return access.Permission{}, withMessage(ErrSystemRoleImmutable, "role %s is a system role", role.ID)
		}
		perm := newPermission(role.ID, in, now)
		if err := s.repo.InsertPermission(txCtx, tenantID, perm); err != nil {
			return access.Permission{}, err
		}
		return perm, nil
	})
	if err != nil {
		return access.Permission{}, err
	}
	s.invalidate(ctx, tenantID, "permission_granted", roleID)
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "permission.granted", events.EntityPermission, p.ID, p)
	return p, nil
}

func (s *RoleService) RevokePermission(ctx context.Context, tenantID uuid.UUID, permissionID uuid.UUID) (p access.Permission, err error) {
	ctx, end := s.opts.begin(ctx, tenantID, "revoke_permission")
	defer end(&err)

	p, err = inTx(ctx, s.tx, tenantID, func(txCtx context.Context) (access.Permission, error) {
		perm, err := s.repo.GetPermission(txCtx, tenantID, permissionID)
		if err != nil {
			if isNotFound(err) {
				return access.Permission{}, withMessage(ErrNotFound, "permission %s not found", permissionID)
			}
			return access.Permission{}, err
		}
		role, err := s.getRole(txCtx, tenantID, perm.RoleID, true)
		if err != nil {
			return access.Permission{}, err
		}
		if role.IsSystem {
			return access.Permission{}, withMessage(ErrSystemRoleImmutable, "role %s is a system role", role.ID)
		}
		if !perm.IsActive {
			return perm, nil
		}
		if err := s.repo.DeactivatePermission(txCtx, tenantID, perm.ID); err != nil {
			return access.Permission{}, err
		}
		perm.IsActive = false
		return perm, nil
	})
	if err != nil {
		return access.Permission{}, err
	}
	s.invalidate(ctx, tenantID, "permission_revoked", p.RoleID)
	s.opts.audit.Changed(ctx, tenantID, events.TopicAccessChangedV1, "permission.revoked", events.EntityPermission, p.ID, p)
	return p, nil
}

func (s *RoleService) getRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, lock bool) (access.Role, error) {
	var (
		r   access.Role
		err error
	)
	if lock {
		r, err = s.repo.LockRole(ctx, tenantID, id)
	} else {
		r, err = s.repo.GetRole(ctx, tenantID, id)
	}
	if err != nil {
		if isNotFound(err) {
			return access.Role{}, withMessage(ErrNotFound, "role %s not found", id)
		}
		return access.Role{}, err
	}
	return r, nil
}

func (s *RoleService) invalidate(ctx context.Context, tenantID uuid.UUID, reason string, roleID uuid.UUID) {
	s.opts.cache.InvalidateRole(ctx, tenantID, roleID)
	recordCacheInvalidate(reason)
}

func newPermission(roleID uuid.UUID, in PermissionInput, now time.Time) access.Permission {
	return access.Permission{
		ID:           uuid.New(),
		RoleID:       roleID,
		NodeID:       in.NodeID,
		ResourceType: strings.TrimSpace(in.ResourceType),
		Action:       strings.TrimSpace(in.Action),
		Effect:       in.Effect,
		Priority:     in.Priority,
		Conditions:   in.Conditions,
		IsActive:     true,
		CreatedAt:    now,
	}
}

func copyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
