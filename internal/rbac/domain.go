package rbac

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/odyssey-erp/odyssey-rbac/internal/users"
)

// Role represents a high-level permission grouping.
type Role struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description *string   `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
	UpdatedAt   time.Time `json:"updatedAt"`
}

// Permission represents an atomic capability.
type Permission struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RolePermission ties a permission to a role.
type RolePermission struct {
	RoleID       uuid.UUID `json:"roleId"`
	PermissionID uuid.UUID `json:"permissionId"`
	CreatedAt    time.Time `json:"createdAt"`
}

// RolePermissionDetail is a RolePermission resolved to its Permission.
type RolePermissionDetail struct {
	RolePermission
	Permission Permission `json:"permission"`
}

// UserRole links a user to a role.
type UserRole struct {
	UserID    uuid.UUID `json:"userId"`
	RoleID    uuid.UUID `json:"roleId"`
	CreatedAt time.Time `json:"createdAt"`
}

// RoleWithPermissions is a role with its granted permissions, as returned by ListRoles.
type RoleWithPermissions struct {
	Role
	Permissions []Permission `json:"permissions"`
}

// RoleDetail is a role with both sides of its bindings resolved.
type RoleDetail struct {
	Role
	Permissions []Permission `json:"permissions"`
	Users       []users.User `json:"users"`
}

// CreateRoleInput carries the fields accepted when creating a role.
type CreateRoleInput struct {
	Name        string
	Description *string
}

// RolePatch describes a partial role update. Fields left unset are not written.
type RolePatch struct {
	Name        Optional[string]  `json:"name"`
	Description Optional[*string] `json:"description"`
}

// Empty reports whether the patch writes nothing.
func (p RolePatch) Empty() bool {
	return !p.Name.Set && !p.Description.Set
}

// Optional is a value that is either absent or explicitly set. A set pointer may be nil,
// which is how an explicit null is carried.
type Optional[T any] struct {
	Value T
	Set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{Value: v, Set: true}
}

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.Value, o.Set
}

// UnmarshalJSON marks the field as set. It is only invoked when the key is present, so an
// omitted key stays unset while `null` yields a set zero value.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	o.Value = v
	o.Set = true
	return nil
}

// MarshalJSON encodes the held value, or null when unset.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.Set {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}
