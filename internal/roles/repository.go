package roles

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

const roleColumns = `id, name, type, organization_id, parent_role_id, template_id, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Type, &role.OrganizationID,
		&role.ParentRoleID, &role.TemplateID, &role.Description,
		&role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO roles (id, name, type, organization_id, parent_role_id, template_id, description)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Type, role.OrganizationID, role.ParentRoleID, role.TemplateID, role.Description)
	created, err := scanRole(row)
	if err != nil {
		return Role{}, mapPgError(err)
	}
	return created, nil
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id string) (Role, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id)
	role, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, err
	}
	return role, nil
}

// ListRoles returns roles, optionally filtered by organization.
func (r *Repository) ListRoles(ctx context.Context, organizationID string) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles ORDER BY name`
	args := []any{}
	if organizationID != "" {
		query = `SELECT ` + roleColumns + ` FROM roles WHERE organization_id = $1 OR type = 'SYSTEM' ORDER BY name`
		args = append(args, organizationID)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

// UpdateRole updates name, description, and parent of an existing role.
func (r *Repository) UpdateRole(ctx context.Context, role Role) (Role, error) {
	row := r.pool.QueryRow(ctx,
		`UPDATE roles SET name = $2, description = $3, parent_role_id = $4, updated_at = now()
		 WHERE id = $1
		 RETURNING `+roleColumns,
		role.ID, role.Name, role.Description, role.ParentRoleID)
	updated, err := scanRole(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrNotFound
	}
	if err != nil {
		return Role{}, mapPgError(err)
	}
	return updated, nil
}

// DeleteRole removes a role. Returns ErrNotFound when nothing was deleted.
func (r *Repository) DeleteRole(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, p Permission) (Permission, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO permissions (id, name, resource_type, action, scope, description)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, name, resource_type, action, scope, description, created_at`,
		p.ID, p.Name, p.ResourceType, p.Action, p.Scope, p.Description)
	var created Permission
	if err := row.Scan(&created.ID, &created.Name, &created.ResourceType, &created.Action,
		&created.Scope, &created.Description, &created.CreatedAt); err != nil {
		return Permission{}, mapPgError(err)
	}
	return created, nil
}

// GetPermission fetches a permission by id.
func (r *Repository) GetPermission(ctx context.Context, id string) (Permission, error) {
	return r.scanPermission(r.pool.QueryRow(ctx,
		`SELECT id, name, resource_type, action, scope, description, created_at
		 FROM permissions WHERE id = $1`, id))
}

// FindPermission fetches a permission by its (resourceType, action) identity.
func (r *Repository) FindPermission(ctx context.Context, resourceType, action string) (Permission, error) {
	return r.scanPermission(r.pool.QueryRow(ctx,
		`SELECT id, name, resource_type, action, scope, description, created_at
		 FROM permissions WHERE resource_type = $1 AND action = $2`, resourceType, action))
}

func (r *Repository) scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.ResourceType, &p.Action, &p.Scope, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrNotFound
	}
	if err != nil {
		return Permission{}, err
	}
	return p, nil
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, name, resource_type, action, scope, description, created_at
		 FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.ResourceType, &p.Action, &p.Scope, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// CountPermissionReferences counts grants of any kind that reference the
// permission. Used to block deletion of in-use permissions.
func (r *Repository) CountPermissionReferences(ctx context.Context, permissionID string) (int64, error) {
	var total int64
	err := r.pool.QueryRow(ctx,
		`SELECT
		   (SELECT count(*) FROM role_permissions WHERE permission_id = $1) +
		   (SELECT count(*) FROM conditional_permissions WHERE permission_id = $1) +
		   (SELECT count(*) FROM time_based_permissions WHERE permission_id = $1)`,
		permissionID).Scan(&total)
	return total, err
}

// DeletePermission removes a permission.
func (r *Repository) DeletePermission(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachPermission grants a permission to a role.
func (r *Repository) AttachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2)
		 ON CONFLICT (role_id, permission_id) DO NOTHING`,
		roleID, permissionID)
	return err
}

// DetachPermission revokes a permission from a role.
func (r *Repository) DetachPermission(ctx context.Context, roleID, permissionID string) error {
	_, err := r.pool.Exec(ctx,
		`DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`,
		roleID, permissionID)
	return err
}

// ListRolePermissions returns the permissions directly granted to one role.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID string) ([]Permission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT p.id, p.name, p.resource_type, p.action, p.scope, p.description, p.created_at
		 FROM role_permissions rp
		 JOIN permissions p ON p.id = rp.permission_id
		 WHERE rp.role_id = $1
		 ORDER BY p.name`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		var p Permission
		if err := rows.Scan(&p.ID, &p.Name, &p.ResourceType, &p.Action, &p.Scope, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	return perms, rows.Err()
}

// AssignUserRole links a user to a role, optionally scoped to a workspace.
func (r *Repository) AssignUserRole(ctx context.Context, userID, roleID string, workspaceID *string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_roles (user_id, role_id, workspace_id) VALUES ($1, $2, $3)
		 ON CONFLICT DO NOTHING`,
		userID, roleID, workspaceID)
	return err
}

// RemoveUserRole unlinks a user from a role in the given workspace scope.
func (r *Repository) RemoveUserRole(ctx context.Context, userID, roleID string, workspaceID *string) error {
	var err error
	if workspaceID == nil {
		_, err = r.pool.Exec(ctx,
			`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND workspace_id IS NULL`,
			userID, roleID)
	} else {
		_, err = r.pool.Exec(ctx,
			`DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2 AND workspace_id = $3`,
			userID, roleID, *workspaceID)
	}
	return err
}

// ListUserRoles returns the distinct roles a user holds across workspaces.
func (r *Repository) ListUserRoles(ctx context.Context, userID string) ([]Role, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT r.id, r.name, r.type, r.organization_id, r.parent_role_id,
		        r.template_id, r.description, r.created_at, r.updated_at
		 FROM user_roles ur
		 JOIN roles r ON r.id = ur.role_id
		 WHERE ur.user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var result []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, role)
	}
	return result, rows.Err()
}

// ListRoleUserIDs returns every user holding the role, for cache invalidation
// after role-permission changes.
func (r *Repository) ListRoleUserIDs(ctx context.Context, roleID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT user_id FROM user_roles WHERE role_id = $1`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// mapPgError converts unique violations into ErrDuplicate.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrDuplicate
	}
	return err
}
