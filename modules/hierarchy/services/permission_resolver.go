package services

import (
	"context"
	"strings"

	"github.com/google/uuid"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/pkg/authz"
)

// PermissionResolver answers authorization queries for a role.
//
// HasPermission applies deny-override: any matching deny wins. The effective
// permission map instead keeps the single highest-priority permission per
// key regardless of effect. Callers rely on the two disagreeing.
type PermissionResolver struct {
	repo AccessRepository
	tx   Transactor
	opts options
}

func NewPermissionResolver(repo AccessRepository, tx Transactor, opts ...Option) *PermissionResolver {
	return &PermissionResolver{
		repo: repo,
		tx:   tx,
		opts: buildOptions(opts),
	}
}

// GetPermissions returns the active permissions of an active role matching f,
// ordered by priority desc, creation asc, id asc. Inactive roles grant nothing.
func (r *PermissionResolver) GetPermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, f access.Filter) ([]access.Permission, error) {
	return inTx(ctx, r.tx, tenantID, func(txCtx context.Context) ([]access.Permission, error) {
		return r.permissions(txCtx, tenantID, roleID, f)
	})
}

func (r *PermissionResolver) permissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, f access.Filter) ([]access.Permission, error) {
	role, err := r.repo.GetRole(ctx, tenantID, roleID)
	if err != nil {
		if isNotFound(err) {
			return nil, withMessage(ErrNotFound, "role %s not found", roleID)
		}
		return nil, err
	}
	if !role.IsActive {
		return []access.Permission{}, nil
	}
	all, err := r.repo.ListPermissions(ctx, tenantID, roleID, true)
	if err != nil {
		return nil, err
	}
	out := make([]access.Permission, 0, len(all))
	for _, p := range all {
		if p.IsActive && f.Matches(p) {
			out = append(out, p)
		}
	}
	access.SortByPriority(out)
	return out, nil
}

// HasPermission reports whether the role may perform action on resourceType.
// Any matching deny defeats every allow; no match denies.
func (r *PermissionResolver) HasPermission(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, action, resourceType string, f access.Filter) (allowed bool, err error) {
	ctx, end := r.opts.begin(ctx, tenantID, "has_permission")
	defer end(&err)

	action = strings.TrimSpace(action)
	resourceType = strings.TrimSpace(resourceType)
	if action == "" || resourceType == "" {
		return false, invalidBody("action and resource_type are required")
	}
	f.Action = action
	f.ResourceType = resourceType

	perms, err := r.GetPermissions(ctx, tenantID, roleID, f)
	if err != nil {
		return false, err
	}
	subject := roleID.String()
	rules := make([]authz.Rule, 0, len(perms))
	for _, p := range perms {
		rules = append(rules, authz.Rule{Subject: subject, Object: p.ResourceType, Action: p.Action, Effect: string(p.Effect)})
	}
	allowed, err = authz.Decide(ctx, rules, authz.Request{Subject: subject, Object: resourceType, Action: action})
	if err != nil {
		return false, wrapCause(ErrInternal, err)
	}
	return allowed, nil
}

// GetEffectivePermissions maps "{resourceType}:{action}" to the first
// permission in priority order. Results are cached until the role changes.
func (r *PermissionResolver) GetEffectivePermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, f access.Filter) (map[string]access.Permission, error) {
	key := filterCacheKey(f)
	if cached, ok := r.opts.cache.Get(ctx, tenantID, roleID, key); ok {
		recordCacheRequest(true)
		return cached, nil
	}
	recordCacheRequest(false)

	perms, err := r.GetPermissions(ctx, tenantID, roleID, f)
	if err != nil {
		return nil, err
	}
	out := EffectivePermissions(perms)
	r.opts.cache.Set(ctx, tenantID, roleID, key, out)
	return out, nil
}

// EffectivePermissions keeps, per key, the first permission of perms, which
// must already be in priority order.
func EffectivePermissions(perms []access.Permission) map[string]access.Permission {
	out := make(map[string]access.Permission, len(perms))
	for _, p := range perms {
		if _, seen := out[p.Key()]; seen {
			continue
		}
		out[p.Key()] = p
	}
	return out
}
