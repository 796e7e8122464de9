package rbac

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rbac/internal/users"
)

// Constraint names declared in platform/db/schema.sql.
const (
	constraintRoleName           = "roles_name_key"
	constraintPermissionName     = "permissions_name_key"
	constraintRolePermissionPair = "role_permissions_pkey"
	constraintRolePermissionRole = "role_permissions_role_id_fkey"
	constraintRolePermissionPerm = "role_permissions_permission_id_fkey"
	constraintUserRolePair       = "user_roles_pkey"
	constraintUserRoleUser       = "user_roles_user_id_fkey"
	constraintUserRoleRole       = "user_roles_role_id_fkey"
)

type dbtx interface {
	Exec(context.Context, string, ...interface{}) (pgconn.CommandTag, error)
	Query(context.Context, string, ...interface{}) (pgx.Rows, error)
	QueryRow(context.Context, string, ...interface{}) pgx.Row
}

// Repository provides PostgreSQL backed persistence for roles, permissions and their bindings.
type Repository struct {
	db   dbtx
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{db: pool, pool: pool}
}

var _ RepositoryPort = (*Repository)(nil)

// WithTx runs fn against a repository bound to a ReadCommitted transaction, so every
// statement observes rows committed before it started.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error {
	if _, inTx := r.db.(pgx.Tx); inTx {
		return fn(ctx, r)
	}
	return db.WithTxOptions(ctx, r.pool, pgx.TxOptions{IsoLevel: pgx.ReadCommitted}, func(tx pgx.Tx) error {
		return fn(ctx, &Repository{db: tx, pool: r.pool})
	})
}

const roleColumns = `id, name, description, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Role{}, ErrRecordNotFound
	}
	return role, err
}

func collectRoles(rows pgx.Rows) ([]Role, error) {
	defer rows.Close()
	roles := []Role{}
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return roles, nil
}

// CreateRole inserts a new role with a generated id.
func (r *Repository) CreateRole(ctx context.Context, name string, description *string) (Role, error) {
	return scanRole(r.db.QueryRow(ctx, `
		INSERT INTO roles (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+roleColumns, uuid.New(), name, description))
}

// GetRole fetches a role by id.
func (r *Repository) GetRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return scanRole(r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
}

// LockRole fetches a role and locks its row until the surrounding transaction ends.
func (r *Repository) LockRole(ctx context.Context, id uuid.UUID) (Role, error) {
	return scanRole(r.db.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1 FOR UPDATE`, id))
}

// ListRoles returns all roles ordered by name.
func (r *Repository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.db.Query(ctx, `SELECT `+roleColumns+` FROM roles ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

// UpdateRole writes the fields set in patch and returns the stored row.
func (r *Repository) UpdateRole(ctx context.Context, id uuid.UUID, patch RolePatch) (Role, error) {
	return scanRole(r.db.QueryRow(ctx, `
		UPDATE roles
		SET name        = CASE WHEN $2 THEN $3 ELSE name END,
		    description = CASE WHEN $4 THEN $5 ELSE description END,
		    updated_at  = NOW()
		WHERE id = $1
		RETURNING `+roleColumns,
		id, patch.Name.Set, patch.Name.Value, patch.Description.Set, patch.Description.Value))
}

// DeleteRole removes a role and reports the number of deleted rows.
func (r *Repository) DeleteRole(ctx context.Context, id uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// RoleHasUsers reports whether any user_roles row references the role.
func (r *Repository) RoleHasUsers(ctx context.Context, roleID uuid.UUID) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM user_roles WHERE role_id = $1)`, roleID).Scan(&exists)
	return exists, err
}

// ListRoleUsers returns the users holding a role.
func (r *Repository) ListRoleUsers(ctx context.Context, roleID uuid.UUID) ([]users.User, error) {
	rows, err := r.db.Query(ctx, `
		SELECT u.id, u.email, u.name, u.is_active, u.created_at, u.updated_at
		FROM user_roles ur
		JOIN users u ON u.id = ur.user_id
		WHERE ur.role_id = $1
		ORDER BY u.name, u.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []users.User{}
	for rows.Next() {
		var u users.User
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.IsActive, &u.CreatedAt, &u.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// ListPermissionsByRoles returns the permissions granted to each of the given roles,
// ordered by permission name.
func (r *Repository) ListPermissionsByRoles(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID][]Permission, error) {
	out := make(map[uuid.UUID][]Permission, len(roleIDs))
	if len(roleIDs) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, p.id, p.name, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = ANY($1)
		ORDER BY p.name, p.id`, roleIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var roleID uuid.UUID
		var p Permission
		if err := rows.Scan(&roleID, &p.ID, &p.Name, &p.Description, &p.CreatedAt); err != nil {
			return nil, err
		}
		out[roleID] = append(out[roleID], p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertRolePermission grants a permission to a role.
func (r *Repository) InsertRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) (RolePermission, error) {
	var rp RolePermission
	err := r.db.QueryRow(ctx, `
		INSERT INTO role_permissions (role_id, permission_id)
		VALUES ($1, $2)
		RETURNING role_id, permission_id, created_at`, roleID, permissionID).
		Scan(&rp.RoleID, &rp.PermissionID, &rp.CreatedAt)
	return rp, err
}

// DeleteRolePermission revokes a permission from a role and returns the removed row.
func (r *Repository) DeleteRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) (RolePermission, error) {
	var rp RolePermission
	err := r.db.QueryRow(ctx, `
		DELETE FROM role_permissions
		WHERE role_id = $1 AND permission_id = $2
		RETURNING role_id, permission_id, created_at`, roleID, permissionID).
		Scan(&rp.RoleID, &rp.PermissionID, &rp.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return RolePermission{}, ErrRecordNotFound
	}
	return rp, err
}

// DeleteRolePermissionsByRole revokes every permission of a role.
func (r *Repository) DeleteRolePermissionsByRole(ctx context.Context, roleID uuid.UUID) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ListRolePermissions returns the role's grants resolved to permissions.
func (r *Repository) ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermissionDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT rp.role_id, rp.permission_id, rp.created_at,
		       p.id, p.name, p.description, p.created_at
		FROM role_permissions rp
		JOIN permissions p ON p.id = rp.permission_id
		WHERE rp.role_id = $1
		ORDER BY p.name, p.id`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []RolePermissionDetail{}
	for rows.Next() {
		var d RolePermissionDetail
		if err := rows.Scan(&d.RoleID, &d.PermissionID, &d.CreatedAt,
			&d.Permission.ID, &d.Permission.Name, &d.Permission.Description, &d.Permission.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

// InsertUserRole grants a role to a user.
func (r *Repository) InsertUserRole(ctx context.Context, userID, roleID uuid.UUID) (UserRole, error) {
	var ur UserRole
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_roles (user_id, role_id)
		VALUES ($1, $2)
		RETURNING user_id, role_id, created_at`, userID, roleID).
		Scan(&ur.UserID, &ur.RoleID, &ur.CreatedAt)
	return ur, err
}

// DeleteUserRole revokes a role from a user and returns the removed row.
func (r *Repository) DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID) (UserRole, error) {
	var ur UserRole
	err := r.db.QueryRow(ctx, `
		DELETE FROM user_roles
		WHERE user_id = $1 AND role_id = $2
		RETURNING user_id, role_id, created_at`, userID, roleID).
		Scan(&ur.UserID, &ur.RoleID, &ur.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return UserRole{}, ErrRecordNotFound
	}
	return ur, err
}

// ListUserRoles returns the roles granted to a user ordered by name.
func (r *Repository) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	rows, err := r.db.Query(ctx, `
		SELECT r.id, r.name, r.description, r.created_at, r.updated_at
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id
		WHERE ur.user_id = $1
		ORDER BY r.name, r.id`, userID)
	if err != nil {
		return nil, err
	}
	return collectRoles(rows)
}

const permissionColumns = `id, name, description, created_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var p Permission
	err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Permission{}, ErrRecordNotFound
	}
	return p, err
}

// ListPermissions returns all permissions ordered by name.
func (r *Repository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.db.Query(ctx, `SELECT `+permissionColumns+` FROM permissions ORDER BY name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	perms := []Permission{}
	for rows.Next() {
		p, err := scanPermission(rows)
		if err != nil {
			return nil, err
		}
		perms = append(perms, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return perms, nil
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	return scanPermission(r.db.QueryRow(ctx, `
		INSERT INTO permissions (id, name, description)
		VALUES ($1, $2, $3)
		RETURNING `+permissionColumns, uuid.New(), name, description))
}

// UpsertPermission inserts a permission or refreshes the description of an existing one.
func (r *Repository) UpsertPermission(ctx context.Context, name, description string) (Permission, error) {
	return scanPermission(r.db.QueryRow(ctx, `
		INSERT INTO permissions (id, name, description)
		VALUES ($1, $2, $3)
		ON CONFLICT (name) DO UPDATE SET description = EXCLUDED.description
		RETURNING `+permissionColumns, uuid.New(), name, description))
}
