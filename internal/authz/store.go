// Package authz resolves, caches and enforces permissions for admin principals.
//
// The engine tolerates several permission storage conventions at once: direct
// user-permission rows (normalized or inline), role membership joins and the
// legacy users.role_id pointer. Which of them is present is discovered at
// runtime through the Store's introspection methods.
package authz

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/spf13/cast"
)

var (
	// ErrSchemaAbsent signals that a strategy's tables or columns are missing.
	ErrSchemaAbsent = errors.New("authz: schema absent")
	// ErrStoreFailure wraps errors raised by the relational store.
	ErrStoreFailure = errors.New("authz: store failure")
	// ErrUnauthenticated is returned by resolvers for anonymous requests.
	ErrUnauthenticated = errors.New("authz: unauthenticated")
)

// Row is a single result row holding driver-native values.
type Row []any

// Store is the relational store adapter consumed by the engine.
// Queries use $n placeholders; adapters rebind them when their driver needs to.
type Store interface {
	Query(ctx context.Context, query string, args ...any) ([]Row, error)
	TableExists(ctx context.Context, table string) (bool, error)
	ColumnExists(ctx context.Context, table, column string) (bool, error)
}

// Schema names the tables each discovery strategy reads.
type Schema struct {
	Users           string
	Roles           string
	Permissions     string
	UserPermissions string
	UserRoles       string
	RolePermissions string
}

// DefaultSchema returns the conventional table names.
func DefaultSchema() Schema {
	return Schema{
		Users:           "users",
		Roles:           "roles",
		Permissions:     "permissions",
		UserPermissions: "user_permissions",
		UserRoles:       "user_roles",
		RolePermissions: "role_permissions",
	}
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate ensures every table name is a plain SQL identifier, since names are
// interpolated into queries.
func (s Schema) Validate() error {
	for _, name := range []string{s.Users, s.Roles, s.Permissions, s.UserPermissions, s.UserRoles, s.RolePermissions} {
		if !identifierPattern.MatchString(name) {
			return fmt.Errorf("authz: invalid table name %q", name)
		}
	}
	return nil
}

func (s Schema) withDefaults() Schema {
	def := DefaultSchema()
	if s.Users == "" {
		s.Users = def.Users
	}
	if s.Roles == "" {
		s.Roles = def.Roles
	}
	if s.Permissions == "" {
		s.Permissions = def.Permissions
	}
	if s.UserPermissions == "" {
		s.UserPermissions = def.UserPermissions
	}
	if s.UserRoles == "" {
		s.UserRoles = def.UserRoles
	}
	if s.RolePermissions == "" {
		s.RolePermissions = def.RolePermissions
	}
	return s
}

// ColumnString converts the i-th value of row to a string.
func ColumnString(row Row, i int) (string, error) {
	if i >= len(row) {
		return "", fmt.Errorf("authz: column %d out of range", i)
	}
	if b, ok := row[i].([]byte); ok {
		return string(b), nil
	}
	return cast.ToStringE(row[i])
}

// ColumnInt64 converts the i-th value of row to an int64. A NULL yields ok=false.
func ColumnInt64(row Row, i int) (int64, bool, error) {
	if i >= len(row) {
		return 0, false, fmt.Errorf("authz: column %d out of range", i)
	}
	v := row[i]
	if v == nil {
		return 0, false, nil
	}
	if b, ok := v.([]byte); ok {
		v = string(b)
	}
	n, err := cast.ToInt64E(v)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// stringColumn collects the first column of rows, skipping blanks.
func stringColumn(rows []Row) ([]string, error) {
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		s, err := ColumnString(row, 0)
		if err != nil {
			return nil, err
		}
		if s == "" {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}
