package persistence

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/domain/access"
	"github.com/iota-uz/iota-hierarchy/modules/hierarchy/services"
	"github.com/iota-uz/iota-hierarchy/pkg/composables"
)

// AccessRepository stores roles and their permissions.
type AccessRepository struct{}

func NewAccessRepository() *AccessRepository {
	return &AccessRepository{}
}

var _ services.AccessRepository = (*AccessRepository)(nil)

const roleColumns = `id, organization_id, name, description, scope, priority, config, hierarchy_id, node_id,
	is_active, is_system, effective_from, effective_to, created_at, updated_at`

func scanRole(row rowScanner) (access.Role, error) {
	var (
		r           access.Role
		scope       string
		config      []byte
		hierarchyID pgtype.UUID
		nodeID      pgtype.UUID
	)
	if err := row.Scan(
		&r.ID,
		&r.OrganizationID,
		&r.Name,
		&r.Description,
		&scope,
		&r.Priority,
		&config,
		&hierarchyID,
		&nodeID,
		&r.IsActive,
		&r.IsSystem,
		&r.EffectiveFrom,
		&r.EffectiveTo,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return access.Role{}, err
	}
	cfg, err := access.DecodeConfig(config)
	if err != nil {
		return access.Role{}, errors.Wrapf(err, "decode config of role %s", r.ID)
	}
	r.Config = cfg
	r.Scope = access.Scope(scope)
	r.HierarchyID = uuidPtr(hierarchyID)
	r.NodeID = uuidPtr(nodeID)
	return r, nil
}

func (a *AccessRepository) InsertRole(ctx context.Context, tenantID uuid.UUID, r access.Role) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	config, err := access.MarshalConfig(r.Config)
	if err != nil {
		return errors.Wrap(err, "marshal role config")
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_roles (
	id, tenant_id, organization_id, name, description, scope, priority, config, hierarchy_id, node_id,
	is_active, is_system, effective_from, effective_to, created_at, updated_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12,$13,$14,$15,$16)
`,
		pgUUID(r.ID),
		pgUUID(tenantID),
		pgUUID(r.OrganizationID),
		r.Name,
		r.Description,
		string(r.Scope),
		r.Priority,
		string(config),
		pgNullableUUID(r.HierarchyID),
		pgNullableUUID(r.NodeID),
		r.IsActive,
		r.IsSystem,
		r.EffectiveFrom,
		r.EffectiveTo,
		r.CreatedAt,
		r.UpdatedAt,
	); err != nil {
		return errors.Wrap(err, "insert role")
	}
	return nil
}

func (a *AccessRepository) GetRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error) {
	return a.getRole(ctx, tenantID, id, "")
}

func (a *AccessRepository) LockRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Role, error) {
	return a.getRole(ctx, tenantID, id, " FOR UPDATE")
}

func (a *AccessRepository) getRole(ctx context.Context, tenantID uuid.UUID, id uuid.UUID, suffix string) (access.Role, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return access.Role{}, err
	}
	r, err := scanRole(tx.QueryRow(ctx, `SELECT `+roleColumns+` FROM hierarchy_roles WHERE tenant_id=$1 AND id=$2`+suffix, pgUUID(tenantID), pgUUID(id)))
	if err != nil {
		return access.Role{}, errors.Wrap(err, "get role")
	}
	return r, nil
}

func (a *AccessRepository) UpdateRole(ctx context.Context, tenantID uuid.UUID, r access.Role) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	config, err := access.MarshalConfig(r.Config)
	if err != nil {
		return errors.Wrap(err, "marshal role config")
	}
	tag, err := tx.Exec(ctx, `
UPDATE hierarchy_roles SET
	name=$3,
	description=$4,
	priority=$5,
	config=$6::jsonb,
	is_active=$7,
	effective_to=$8,
	updated_at=$9
WHERE tenant_id=$1 AND id=$2
`,
		pgUUID(tenantID),
		pgUUID(r.ID),
		r.Name,
		r.Description,
		r.Priority,
		string(config),
		r.IsActive,
		r.EffectiveTo,
		r.UpdatedAt,
	)
	if err != nil {
		return errors.Wrap(err, "update role")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(pgx.ErrNoRows, "update role")
	}
	return nil
}

func (a *AccessRepository) ListRoles(ctx context.Context, tenantID uuid.UUID, organizationID uuid.UUID) ([]access.Role, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+roleColumns+`
FROM hierarchy_roles
WHERE tenant_id=$1 AND organization_id=$2
ORDER BY created_at, id
`, pgUUID(tenantID), pgUUID(organizationID))
	if err != nil {
		return nil, errors.Wrap(err, "list roles")
	}
	defer rows.Close()

	var out []access.Role
	for rows.Next() {
		r, err := scanRole(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan role")
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (a *AccessRepository) ActiveRoleNameTaken(ctx context.Context, tenantID uuid.UUID, organizationID uuid.UUID, name string, exceptID uuid.UUID) (bool, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return false, err
	}
	var taken bool
	if err := tx.QueryRow(ctx, `
SELECT EXISTS(
	SELECT 1 FROM hierarchy_roles
	WHERE tenant_id=$1 AND organization_id=$2 AND lower(name)=lower($3) AND is_active AND id <> $4
)`, pgUUID(tenantID), pgUUID(organizationID), name, pgUUID(exceptID)).Scan(&taken); err != nil {
		return false, errors.Wrap(err, "check role name")
	}
	return taken, nil
}

const permissionColumns = `id, role_id, node_id, resource_type, action, effect, priority, conditions, is_active, created_at`

func scanPermission(row rowScanner) (access.Permission, error) {
	var (
		p          access.Permission
		nodeID     pgtype.UUID
		effect     string
		conditions []byte
	)
	if err := row.Scan(&p.ID, &p.RoleID, &nodeID, &p.ResourceType, &p.Action, &effect, &p.Priority, &conditions, &p.IsActive, &p.CreatedAt); err != nil {
		return access.Permission{}, err
	}
	p.NodeID = uuidPtr(nodeID)
	p.Effect = access.Effect(effect)
	c, err := unmarshalJSONB(conditions)
	if err != nil {
		return access.Permission{}, err
	}
	p.Conditions = c
	return p, nil
}

func (a *AccessRepository) InsertPermission(ctx context.Context, tenantID uuid.UUID, p access.Permission) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	conditions, err := marshalJSONB(p.Conditions)
	if err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `
INSERT INTO hierarchy_permissions (
	id, tenant_id, role_id, node_id, resource_type, action, effect, priority, conditions, is_active, created_at
)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9::jsonb,$10,$11)
`,
		pgUUID(p.ID),
		pgUUID(tenantID),
		pgUUID(p.RoleID),
		pgNullableUUID(p.NodeID),
		p.ResourceType,
		p.Action,
		string(p.Effect),
		p.Priority,
		conditions,
		p.IsActive,
		p.CreatedAt,
	); err != nil {
		return errors.Wrap(err, "insert permission")
	}
	return nil
}

func (a *AccessRepository) GetPermission(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) (access.Permission, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return access.Permission{}, err
	}
	p, err := scanPermission(tx.QueryRow(ctx, `SELECT `+permissionColumns+` FROM hierarchy_permissions WHERE tenant_id=$1 AND id=$2`, pgUUID(tenantID), pgUUID(id)))
	if err != nil {
		return access.Permission{}, errors.Wrap(err, "get permission")
	}
	return p, nil
}

// ListPermissions returns a role's permissions in insertion order.
func (a *AccessRepository) ListPermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID, activeOnly bool) ([]access.Permission, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.Query(ctx, `
SELECT `+permissionColumns+`
FROM hierarchy_permissions
WHERE tenant_id=$1 AND role_id=$2 AND (NOT $3 OR is_active)
ORDER BY seq
`, pgUUID(tenantID), pgUUID(roleID), activeOnly)
	if err != nil {
		return nil, errors.Wrap(err, "list permissions")
	}
	defer rows.Close()

	var out []access.Permission
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, errors.Wrap(err, "scan permission")
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (a *AccessRepository) DeactivatePermission(ctx context.Context, tenantID uuid.UUID, id uuid.UUID) error {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return err
	}
	tag, err := tx.Exec(ctx, `UPDATE hierarchy_permissions SET is_active=false WHERE tenant_id=$1 AND id=$2`, pgUUID(tenantID), pgUUID(id))
	if err != nil {
		return errors.Wrap(err, "deactivate permission")
	}
	if tag.RowsAffected() == 0 {
		return errors.Wrap(pgx.ErrNoRows, "deactivate permission")
	}
	return nil
}

func (a *AccessRepository) DeactivateRolePermissions(ctx context.Context, tenantID uuid.UUID, roleID uuid.UUID) (int, error) {
	tx, err := composables.UseTx(ctx)
	if err != nil {
		return 0, err
	}
	tag, err := tx.Exec(ctx, `UPDATE hierarchy_permissions SET is_active=false WHERE tenant_id=$1 AND role_id=$2 AND is_active`, pgUUID(tenantID), pgUUID(roleID))
	if err != nil {
		return 0, errors.Wrap(err, "deactivate role permissions")
	}
	return int(tag.RowsAffected()), nil
}
