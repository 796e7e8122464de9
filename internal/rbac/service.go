package rbac

import (
	"context"
	"errors"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rbac/internal/users"
)

// RepositoryPort defines data access methods for roles, permissions and their bindings.
// Lookups and keyed deletes that match nothing return ErrRecordNotFound; constraint
// violations are returned as the store reports them.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error

	CreateRole(ctx context.Context, name string, description *string) (Role, error)
	GetRole(ctx context.Context, id uuid.UUID) (Role, error)
	LockRole(ctx context.Context, id uuid.UUID) (Role, error)
	ListRoles(ctx context.Context) ([]Role, error)
	UpdateRole(ctx context.Context, id uuid.UUID, patch RolePatch) (Role, error)
	DeleteRole(ctx context.Context, id uuid.UUID) (int64, error)
	RoleHasUsers(ctx context.Context, roleID uuid.UUID) (bool, error)
	ListRoleUsers(ctx context.Context, roleID uuid.UUID) ([]users.User, error)

	ListPermissionsByRoles(ctx context.Context, roleIDs []uuid.UUID) (map[uuid.UUID][]Permission, error)
	InsertRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) (RolePermission, error)
	DeleteRolePermission(ctx context.Context, roleID, permissionID uuid.UUID) (RolePermission, error)
	DeleteRolePermissionsByRole(ctx context.Context, roleID uuid.UUID) (int64, error)
	ListRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermissionDetail, error)

	InsertUserRole(ctx context.Context, userID, roleID uuid.UUID) (UserRole, error)
	DeleteUserRole(ctx context.Context, userID, roleID uuid.UUID) (UserRole, error)
	ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error)

	ListPermissions(ctx context.Context) ([]Permission, error)
	CreatePermission(ctx context.Context, name, description string) (Permission, error)
	UpsertPermission(ctx context.Context, name, description string) (Permission, error)
}

// MutationRecorder observes the outcome of every mutating operation.
type MutationRecorder interface {
	ObserveMutation(operation, outcome string)
}

type noopRecorder struct{}

func (noopRecorder) ObserveMutation(string, string) {}

// Option configures a Service.
type Option func(*Service)

// WithRecorder installs a MutationRecorder.
func WithRecorder(rec MutationRecorder) Option {
	return func(s *Service) {
		if rec != nil {
			s.recorder = rec
		}
	}
}

// Service orchestrates RBAC operations and enforces the invariants of the role graph.
type Service struct {
	repo     RepositoryPort
	recorder MutationRecorder
}

// NewService builds a Service over repo.
func NewService(repo RepositoryPort, opts ...Option) *Service {
	s := &Service{repo: repo, recorder: noopRecorder{}}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Service) observe(operation string, err error) {
	outcome := Kind(err)
	if outcome == "" {
		outcome = "ok"
	}
	s.recorder.ObserveMutation(operation, outcome)
}

// CreateRole inserts a new role.
func (s *Service) CreateRole(ctx context.Context, in CreateRoleInput) (role Role, err error) {
	defer func() { s.observe("create_role", err) }()

	name := strings.TrimSpace(in.Name)
	if name == "" {
		return Role{}, &ValidationError{Entity: "role", Field: "name", Reason: "is required"}
	}
	role, err = s.repo.CreateRole(ctx, name, trimPtr(in.Description))
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok && constraint == constraintRoleName {
			return Role{}, &ValidationError{Entity: "role", Field: "name", Value: name, Reason: "is already taken"}
		}
		return Role{}, storeError("create role", err)
	}
	return role, nil
}

// GetRole fetches a role with its permissions and users. found is false when no role has
// the given id.
func (s *Service) GetRole(ctx context.Context, id uuid.UUID) (detail RoleDetail, found bool, err error) {
	role, err := s.repo.GetRole(ctx, id)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return RoleDetail{}, false, nil
		}
		return RoleDetail{}, false, storeError("get role", err)
	}

	var (
		perms   map[uuid.UUID][]Permission
		members []users.User
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		perms, err = s.repo.ListPermissionsByRoles(gctx, []uuid.UUID{id})
		return err
	})
	g.Go(func() error {
		var err error
		members, err = s.repo.ListRoleUsers(gctx, id)
		return err
	})
	if err := g.Wait(); err != nil {
		return RoleDetail{}, false, storeError("get role", err)
	}

	detail = RoleDetail{Role: role, Permissions: perms[id], Users: members}
	if detail.Permissions == nil {
		detail.Permissions = []Permission{}
	}
	if detail.Users == nil {
		detail.Users = []users.User{}
	}
	return detail, true, nil
}

// ListRoles returns all roles ordered by name, each with its permissions.
func (s *Service) ListRoles(ctx context.Context) ([]RoleWithPermissions, error) {
	roles, err := s.repo.ListRoles(ctx)
	if err != nil {
		return nil, storeError("list roles", err)
	}
	ids := make([]uuid.UUID, len(roles))
	for i, role := range roles {
		ids[i] = role.ID
	}
	perms, err := s.repo.ListPermissionsByRoles(ctx, ids)
	if err != nil {
		return nil, storeError("list roles", err)
	}
	out := make([]RoleWithPermissions, len(roles))
	for i, role := range roles {
		granted := perms[role.ID]
		if granted == nil {
			granted = []Permission{}
		}
		out[i] = RoleWithPermissions{Role: role, Permissions: granted}
	}
	return out, nil
}

// UpdateRole applies the set fields of patch to an existing role.
func (s *Service) UpdateRole(ctx context.Context, id uuid.UUID, patch RolePatch) (role Role, err error) {
	defer func() { s.observe("update_role", err) }()

	if patch.Name.Set {
		patch.Name.Value = strings.TrimSpace(patch.Name.Value)
		if patch.Name.Value == "" {
			return Role{}, &ValidationError{Entity: "role", Field: "name", Reason: "must not be empty"}
		}
	}
	if patch.Description.Set {
		patch.Description.Value = trimPtr(patch.Description.Value)
	}

	if patch.Empty() {
		role, err = s.repo.GetRole(ctx, id)
	} else {
		role, err = s.repo.UpdateRole(ctx, id, patch)
	}
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return Role{}, &NotFoundError{Entity: "role", ID: id.String()}
		}
		if constraint, ok := db.UniqueViolation(err); ok && constraint == constraintRoleName {
			return Role{}, &ValidationError{Entity: "role", Field: "name", Value: patch.Name.Value, Reason: "is already taken"}
		}
		return Role{}, storeError("update role", err)
	}
	return role, nil
}

// DeleteRole removes a role that no user holds. Its permission grants are removed in the
// same transaction.
func (s *Service) DeleteRole(ctx context.Context, id uuid.UUID) (err error) {
	defer func() { s.observe("delete_role", err) }()

	assigned := &ConflictError{Entity: "role", ID: id.String(), Reason: "role is assigned to users; unassign before deleting"}
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx RepositoryPort) error {
		if _, err := tx.LockRole(ctx, id); err != nil {
			if errors.Is(err, ErrRecordNotFound) {
				return &NotFoundError{Entity: "role", ID: id.String()}
			}
			return storeError("delete role", err)
		}
		hasUsers, err := tx.RoleHasUsers(ctx, id)
		if err != nil {
			return storeError("delete role", err)
		}
		if hasUsers {
			return assigned
		}
		if _, err := tx.DeleteRolePermissionsByRole(ctx, id); err != nil {
			return storeError("delete role", err)
		}
		deleted, err := tx.DeleteRole(ctx, id)
		if err != nil {
			if constraint, ok := db.ForeignKeyViolation(err); ok && constraint == constraintUserRoleRole {
				return assigned
			}
			return storeError("delete role", err)
		}
		if deleted == 0 {
			return &NotFoundError{Entity: "role", ID: id.String()}
		}
		return nil
	})
	if err != nil && !classified(err) {
		return storeError("delete role", err)
	}
	return err
}

// AssignPermission grants a permission to a role.
func (s *Service) AssignPermission(ctx context.Context, roleID, permissionID uuid.UUID) (rp RolePermission, err error) {
	defer func() { s.observe("assign_permission", err) }()

	rp, err = s.repo.InsertRolePermission(ctx, roleID, permissionID)
	if err == nil {
		return rp, nil
	}
	if constraint, ok := db.UniqueViolation(err); ok && constraint == constraintRolePermissionPair {
		return RolePermission{}, &ConflictError{Entity: "role_permission", ID: pairID(roleID, permissionID), Reason: "permission is already assigned to role"}
	}
	if constraint, ok := db.ForeignKeyViolation(err); ok {
		switch constraint {
		case constraintRolePermissionRole:
			return RolePermission{}, &NotFoundError{Entity: "role", ID: roleID.String()}
		case constraintRolePermissionPerm:
			return RolePermission{}, &NotFoundError{Entity: "permission", ID: permissionID.String()}
		}
	}
	return RolePermission{}, storeError("assign permission", err)
}

// RemovePermission revokes a permission from a role and returns the removed grant.
func (s *Service) RemovePermission(ctx context.Context, roleID, permissionID uuid.UUID) (rp RolePermission, err error) {
	defer func() { s.observe("remove_permission", err) }()

	rp, err = s.repo.DeleteRolePermission(ctx, roleID, permissionID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return RolePermission{}, &NotFoundError{Entity: "role_permission", ID: pairID(roleID, permissionID)}
		}
		return RolePermission{}, storeError("remove permission", err)
	}
	return rp, nil
}

// GetRolePermissions returns the role's grants resolved to permissions.
func (s *Service) GetRolePermissions(ctx context.Context, roleID uuid.UUID) ([]RolePermissionDetail, error) {
	grants, err := s.repo.ListRolePermissions(ctx, roleID)
	if err != nil {
		return nil, storeError("get role permissions", err)
	}
	if grants == nil {
		grants = []RolePermissionDetail{}
	}
	return grants, nil
}

// AssignRoleToUser grants a role to a user.
func (s *Service) AssignRoleToUser(ctx context.Context, userID, roleID uuid.UUID) (ur UserRole, err error) {
	defer func() { s.observe("assign_role", err) }()

	ur, err = s.repo.InsertUserRole(ctx, userID, roleID)
	if err == nil {
		return ur, nil
	}
	if constraint, ok := db.UniqueViolation(err); ok && constraint == constraintUserRolePair {
		return UserRole{}, &ConflictError{Entity: "user_role", ID: pairID(userID, roleID), Reason: "role is already assigned to user"}
	}
	if constraint, ok := db.ForeignKeyViolation(err); ok {
		switch constraint {
		case constraintUserRoleUser:
			return UserRole{}, &NotFoundError{Entity: "user", ID: userID.String()}
		case constraintUserRoleRole:
			return UserRole{}, &NotFoundError{Entity: "role", ID: roleID.String()}
		}
	}
	return UserRole{}, storeError("assign role", err)
}

// RemoveRoleFromUser revokes a role from a user and returns the removed assignment.
func (s *Service) RemoveRoleFromUser(ctx context.Context, userID, roleID uuid.UUID) (ur UserRole, err error) {
	defer func() { s.observe("remove_role", err) }()

	ur, err = s.repo.DeleteUserRole(ctx, userID, roleID)
	if err != nil {
		if errors.Is(err, ErrRecordNotFound) {
			return UserRole{}, &NotFoundError{Entity: "user_role", ID: pairID(userID, roleID)}
		}
		return UserRole{}, storeError("remove role", err)
	}
	return ur, nil
}

// ListUserRoles returns the roles granted to a user ordered by name.
func (s *Service) ListUserRoles(ctx context.Context, userID uuid.UUID) ([]Role, error) {
	roles, err := s.repo.ListUserRoles(ctx, userID)
	if err != nil {
		return nil, storeError("list user roles", err)
	}
	if roles == nil {
		roles = []Role{}
	}
	return roles, nil
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	perms, err := s.repo.ListPermissions(ctx)
	if err != nil {
		return nil, storeError("list permissions", err)
	}
	if perms == nil {
		perms = []Permission{}
	}
	return perms, nil
}

// CreatePermission inserts a new permission. Names are stored lower-cased.
func (s *Service) CreatePermission(ctx context.Context, name, description string) (p Permission, err error) {
	defer func() { s.observe("create_permission", err) }()

	name = normalizePermissionName(name)
	if name == "" {
		return Permission{}, &ValidationError{Entity: "permission", Field: "name", Reason: "is required"}
	}
	p, err = s.repo.CreatePermission(ctx, name, strings.TrimSpace(description))
	if err != nil {
		if constraint, ok := db.UniqueViolation(err); ok && constraint == constraintPermissionName {
			return Permission{}, &ValidationError{Entity: "permission", Field: "name", Value: name, Reason: "is already taken"}
		}
		return Permission{}, storeError("create permission", err)
	}
	return p, nil
}

// EnsurePermission upserts a permission ensuring description is stored.
func (s *Service) EnsurePermission(ctx context.Context, name, description string) (p Permission, err error) {
	defer func() { s.observe("ensure_permission", err) }()

	name = normalizePermissionName(name)
	if name == "" {
		return Permission{}, &ValidationError{Entity: "permission", Field: "name", Reason: "is required"}
	}
	p, err = s.repo.UpsertPermission(ctx, name, strings.TrimSpace(description))
	if err != nil {
		return Permission{}, storeError("ensure permission", err)
	}
	return p, nil
}

func normalizePermissionName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func trimPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
