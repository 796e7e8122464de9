package db

import (
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUniqueViolation(t *testing.T) {
	err := fmt.Errorf("insert role: %w", &pgconn.PgError{Code: CodeUniqueViolation, ConstraintName: "roles_name_key"})

	constraint, ok := UniqueViolation(err)
	require.True(t, ok)
	assert.Equal(t, "roles_name_key", constraint)

	_, ok = ForeignKeyViolation(err)
	assert.False(t, ok)
}

func TestForeignKeyViolation(t *testing.T) {
	err := &pgconn.PgError{Code: CodeForeignKeyViolation, ConstraintName: "user_roles_role_id_fkey"}

	constraint, ok := ForeignKeyViolation(err)
	require.True(t, ok)
	assert.Equal(t, "user_roles_role_id_fkey", constraint)
}

func TestViolationIgnoresOtherErrors(t *testing.T) {
	_, ok := UniqueViolation(errors.New("connection reset"))
	assert.False(t, ok)

	_, ok = UniqueViolation(&pgconn.PgError{Code: "40001"})
	assert.False(t, ok)

	_, ok = UniqueViolation(nil)
	assert.False(t, ok)
}

func TestSchemaDeclaresGuardConstraints(t *testing.T) {
	for _, fragment := range []string{
		"CONSTRAINT roles_name_key UNIQUE (name)",
		"CONSTRAINT role_permissions_pkey PRIMARY KEY (role_id, permission_id)",
		"CONSTRAINT user_roles_pkey PRIMARY KEY (user_id, role_id)",
		"REFERENCES roles (id) ON DELETE RESTRICT",
	} {
		assert.Contains(t, Schema, fragment)
	}
}
