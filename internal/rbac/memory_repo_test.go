package rbac

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/odyssey-erp/odyssey-rbac/internal/platform/db"
	"github.com/odyssey-erp/odyssey-rbac/internal/users"
)

type pairKey struct {
	left, right uuid.UUID
}

type memoryState struct {
	txMu sync.RWMutex
	mu   sync.Mutex

	roles           map[uuid.UUID]Role
	permissions     map[uuid.UUID]Permission
	users           map[uuid.UUID]users.User
	rolePermissions map[pairKey]RolePermission
	userRoles       map[pairKey]UserRole

	// failures maps a method name to the error it returns.
	failures map[string]error
}

// memoryRepo is an in-memory RepositoryPort that enforces the same constraints as
// platform/db/schema.sql and reports violations as *pgconn.PgError.
type memoryRepo struct {
	state *memoryState
	inTx  bool
}

var _ RepositoryPort = (*memoryRepo)(nil)

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{state: &memoryState{
		roles:           map[uuid.UUID]Role{},
		permissions:     map[uuid.UUID]Permission{},
		users:           map[uuid.UUID]users.User{},
		rolePermissions: map[pairKey]RolePermission{},
		userRoles:       map[pairKey]UserRole{},
		failures:        map[string]error{},
	}}
}

func pgError(code, constraint string) error {
	return &pgconn.PgError{Code: code, ConstraintName: constraint}
}

// lock acquires the state for a single statement.
func (r *memoryRepo) lock(method string) (func(), error) {
	if !r.inTx {
		r.state.txMu.RLock()
	}
	r.state.mu.Lock()
	unlock := func() {
		r.state.mu.Unlock()
		if !r.inTx {
			r.state.txMu.RUnlock()
		}
	}
	if err := r.state.failures[method]; err != nil {
		unlock()
		return nil, err
	}
	return unlock, nil
}

func (r *memoryRepo) failOn(method string, err error) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	r.state.failures[method] = err
}

func (r *memoryRepo) addUser(name string) users.User {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	now := time.Now().UTC()
	user := users.User{
		ID:        uuid.New(),
		Email:     strings.ToLower(name) + "@example.com",
		Name:      name,
		IsActive:  true,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.state.users[user.ID] = user
	return user
}

func (r *memoryRepo) counts() (roles, rolePermissions, userRoles int) {
	r.state.mu.Lock()
	defer r.state.mu.Unlock()
	return len(r.state.roles), len(r.state.rolePermissions), len(r.state.userRoles)
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, RepositoryPort) error) error {
	if r.inTx {
		return fn(ctx, r)
	}
	r.state.txMu.Lock()
	defer r.state.txMu.Unlock()

	r.state.mu.Lock()
	snapshot := r.state.snapshot()
	r.state.mu.Unlock()

	if err := fn(ctx, &memoryRepo{state: r.state, inTx: true}); err != nil {
		r.state.mu.Lock()
		r.state.restore(snapshot)
		r.state.mu.Unlock()
		return err
	}
	return nil
}

type memorySnapshot struct {
	roles           map[uuid.UUID]Role
	permissions     map[uuid.UUID]Permission
	rolePermissions map[pairKey]RolePermission
	userRoles       map[pairKey]UserRole
}

func (s *memoryState) snapshot() memorySnapshot {
	return memorySnapshot{
		roles:           cloneMap(s.roles),
		permissions:     cloneMap(s.permissions),
		rolePermissions: cloneMap(s.rolePermissions),
		userRoles:       cloneMap(s.userRoles),
	}
}

func (s *memoryState) restore(snap memorySnapshot) {
	s.roles = snap.roles
	s.permissions = snap.permissions
	s.rolePermissions = snap.rolePermissions
	s.userRoles = snap.userRoles
}

func cloneMap[K comparable, V any](in map[K]V) map[K]V {
	out := make(map[K]V, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func (r *memoryRepo) CreateRole(_ context.Context, name string, description *string) (Role, error) {
	unlock, err := r.lock("CreateRole")
	if err != nil {
		return Role{}, err
	}
	defer unlock()
	for _, role := range r.state.roles {
		if role.Name == name {
			return Role{}, pgError(db.CodeUniqueViolation, constraintRoleName)
		}
	}
	now := time.Now().UTC()
	role := Role{ID: uuid.New(), Name: name, Description: copyPtr(description), CreatedAt: now, UpdatedAt: now}
	r.state.roles[role.ID] = role
	return role, nil
}

func (r *memoryRepo) GetRole(_ context.Context, id uuid.UUID) (Role, error) {
	unlock, err := r.lock("GetRole")
	if err != nil {
		return Role{}, err
	}
	defer unlock()
	role, ok := r.state.roles[id]
	if !ok {
		return Role{}, ErrRecordNotFound
	}
	return role, nil
}

func (r *memoryRepo) LockRole(ctx context.Context, id uuid.UUID) (Role, error) {
	unlock, err := r.lock("LockRole")
	if err != nil {
		return Role{}, err
	}
	role, ok := r.state.roles[id]
	unlock()
	if !ok {
		return Role{}, ErrRecordNotFound
	}
	return role, nil
}

func (r *memoryRepo) ListRoles(context.Context) ([]Role, error) {
	unlock, err := r.lock("ListRoles")
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]Role, 0, len(r.state.roles))
	for _, role := range r.state.roles {
		out = append(out, role)
	}
	sortRoles(out)
	return out, nil
}

func (r *memoryRepo) UpdateRole(_ context.Context, id uuid.UUID, patch RolePatch) (Role, error) {
	unlock, err := r.lock("UpdateRole")
	if err != nil {
		return Role{}, err
	}
	defer unlock()
	role, ok := r.state.roles[id]
	if !ok {
		return Role{}, ErrRecordNotFound
	}
	if name, set := patch.Name.Get(); set {
		for otherID, other := range r.state.roles {
			if otherID != id && other.Name == name {
				return Role{}, pgError(db.CodeUniqueViolation, constraintRoleName)
			}
		}
		role.Name = name
	}
	if description, set := patch.Description.Get(); set {
		role.Description = copyPtr(description)
	}
	role.UpdatedAt = time.Now().UTC()
	r.state.roles[id] = role
	return role, nil
}

func (r *memoryRepo) DeleteRole(_ context.Context, id uuid.UUID) (int64, error) {
	unlock, err := r.lock("DeleteRole")
	if err != nil {
		return 0, err
	}
	defer unlock()
	if _, ok := r.state.roles[id]; !ok {
		return 0, nil
	}
	for key := range r.state.userRoles {
		if key.right == id {
			return 0, pgError(db.CodeForeignKeyViolation, constraintUserRoleRole)
		}
	}
	for key := range r.state.rolePermissions {
		if key.left == id {
			delete(r.state.rolePermissions, key)
		}
	}
	delete(r.state.roles, id)
	return 1, nil
}

func (r *memoryRepo) RoleHasUsers(_ context.Context, roleID uuid.UUID) (bool, error) {
	unlock, err := r.lock("RoleHasUsers")
	if err != nil {
		return false, err
	}
	defer unlock()
	for key := range r.state.userRoles {
		if key.right == roleID {
			return true, nil
		}
	}
	return false, nil
}

func (r *memoryRepo) ListRoleUsers(_ context.Context, roleID uuid.UUID) ([]users.User, error) {
	unlock, err := r.lock("ListRoleUsers")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []users.User
	for key := range r.state.userRoles {
		if key.right == roleID {
			out = append(out, r.state.users[key.left])
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (r *memoryRepo) ListPermissionsByRoles(_ context.Context, roleIDs []uuid.UUID) (map[uuid.UUID][]Permission, error) {
	unlock, err := r.lock("ListPermissionsByRoles")
	if err != nil {
		return nil, err
	}
	defer unlock()
	wanted := make(map[uuid.UUID]bool, len(roleIDs))
	for _, id := range roleIDs {
		wanted[id] = true
	}
	out := map[uuid.UUID][]Permission{}
	for key := range r.state.rolePermissions {
		if wanted[key.left] {
			out[key.left] = append(out[key.left], r.state.permissions[key.right])
		}
	}
	for _, perms := range out {
		sortPermissions(perms)
	}
	return out, nil
}

func (r *memoryRepo) InsertRolePermission(_ context.Context, roleID, permissionID uuid.UUID) (RolePermission, error) {
	unlock, err := r.lock("InsertRolePermission")
	if err != nil {
		return RolePermission{}, err
	}
	defer unlock()
	key := pairKey{roleID, permissionID}
	if _, exists := r.state.rolePermissions[key]; exists {
		return RolePermission{}, pgError(db.CodeUniqueViolation, constraintRolePermissionPair)
	}
	if _, ok := r.state.roles[roleID]; !ok {
		return RolePermission{}, pgError(db.CodeForeignKeyViolation, constraintRolePermissionRole)
	}
	if _, ok := r.state.permissions[permissionID]; !ok {
		return RolePermission{}, pgError(db.CodeForeignKeyViolation, constraintRolePermissionPerm)
	}
	rp := RolePermission{RoleID: roleID, PermissionID: permissionID, CreatedAt: time.Now().UTC()}
	r.state.rolePermissions[key] = rp
	return rp, nil
}

func (r *memoryRepo) DeleteRolePermission(_ context.Context, roleID, permissionID uuid.UUID) (RolePermission, error) {
	unlock, err := r.lock("DeleteRolePermission")
	if err != nil {
		return RolePermission{}, err
	}
	defer unlock()
	key := pairKey{roleID, permissionID}
	rp, ok := r.state.rolePermissions[key]
	if !ok {
		return RolePermission{}, ErrRecordNotFound
	}
	delete(r.state.rolePermissions, key)
	return rp, nil
}

func (r *memoryRepo) DeleteRolePermissionsByRole(_ context.Context, roleID uuid.UUID) (int64, error) {
	unlock, err := r.lock("DeleteRolePermissionsByRole")
	if err != nil {
		return 0, err
	}
	defer unlock()
	var n int64
	for key := range r.state.rolePermissions {
		if key.left == roleID {
			delete(r.state.rolePermissions, key)
			n++
		}
	}
	return n, nil
}

func (r *memoryRepo) ListRolePermissions(_ context.Context, roleID uuid.UUID) ([]RolePermissionDetail, error) {
	unlock, err := r.lock("ListRolePermissions")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []RolePermissionDetail
	for key, rp := range r.state.rolePermissions {
		if key.left == roleID {
			out = append(out, RolePermissionDetail{RolePermission: rp, Permission: r.state.permissions[key.right]})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Permission.Name < out[j].Permission.Name
	})
	return out, nil
}

func (r *memoryRepo) InsertUserRole(_ context.Context, userID, roleID uuid.UUID) (UserRole, error) {
	unlock, err := r.lock("InsertUserRole")
	if err != nil {
		return UserRole{}, err
	}
	defer unlock()
	key := pairKey{userID, roleID}
	if _, exists := r.state.userRoles[key]; exists {
		return UserRole{}, pgError(db.CodeUniqueViolation, constraintUserRolePair)
	}
	if _, ok := r.state.users[userID]; !ok {
		return UserRole{}, pgError(db.CodeForeignKeyViolation, constraintUserRoleUser)
	}
	if _, ok := r.state.roles[roleID]; !ok {
		return UserRole{}, pgError(db.CodeForeignKeyViolation, constraintUserRoleRole)
	}
	ur := UserRole{UserID: userID, RoleID: roleID, CreatedAt: time.Now().UTC()}
	r.state.userRoles[key] = ur
	return ur, nil
}

func (r *memoryRepo) DeleteUserRole(_ context.Context, userID, roleID uuid.UUID) (UserRole, error) {
	unlock, err := r.lock("DeleteUserRole")
	if err != nil {
		return UserRole{}, err
	}
	defer unlock()
	key := pairKey{userID, roleID}
	ur, ok := r.state.userRoles[key]
	if !ok {
		return UserRole{}, ErrRecordNotFound
	}
	delete(r.state.userRoles, key)
	return ur, nil
}

func (r *memoryRepo) ListUserRoles(_ context.Context, userID uuid.UUID) ([]Role, error) {
	unlock, err := r.lock("ListUserRoles")
	if err != nil {
		return nil, err
	}
	defer unlock()
	var out []Role
	for key := range r.state.userRoles {
		if key.left == userID {
			out = append(out, r.state.roles[key.right])
		}
	}
	sortRoles(out)
	return out, nil
}

func (r *memoryRepo) ListPermissions(context.Context) ([]Permission, error) {
	unlock, err := r.lock("ListPermissions")
	if err != nil {
		return nil, err
	}
	defer unlock()
	out := make([]Permission, 0, len(r.state.permissions))
	for _, perm := range r.state.permissions {
		out = append(out, perm)
	}
	sortPermissions(out)
	return out, nil
}

func (r *memoryRepo) CreatePermission(_ context.Context, name, description string) (Permission, error) {
	unlock, err := r.lock("CreatePermission")
	if err != nil {
		return Permission{}, err
	}
	defer unlock()
	for _, perm := range r.state.permissions {
		if perm.Name == name {
			return Permission{}, pgError(db.CodeUniqueViolation, constraintPermissionName)
		}
	}
	perm := Permission{ID: uuid.New(), Name: name, Description: description, CreatedAt: time.Now().UTC()}
	r.state.permissions[perm.ID] = perm
	return perm, nil
}

func (r *memoryRepo) UpsertPermission(_ context.Context, name, description string) (Permission, error) {
	unlock, err := r.lock("UpsertPermission")
	if err != nil {
		return Permission{}, err
	}
	defer unlock()
	for id, perm := range r.state.permissions {
		if perm.Name == name {
			perm.Description = description
			r.state.permissions[id] = perm
			return perm, nil
		}
	}
	perm := Permission{ID: uuid.New(), Name: name, Description: description, CreatedAt: time.Now().UTC()}
	r.state.permissions[perm.ID] = perm
	return perm, nil
}

func sortRoles(roles []Role) {
	sort.Slice(roles, func(i, j int) bool {
		if roles[i].Name != roles[j].Name {
			return roles[i].Name < roles[j].Name
		}
		return roles[i].ID.String() < roles[j].ID.String()
	})
}

func sortPermissions(perms []Permission) {
	sort.Slice(perms, func(i, j int) bool {
		if perms[i].Name != perms[j].Name {
			return perms[i].Name < perms[j].Name
		}
		return perms[i].ID.String() < perms[j].ID.String()
	})
}

func copyPtr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
