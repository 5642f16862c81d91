package authz

import (
	"context"
	"fmt"
)

// Strategy names, in discovery priority order.
const (
	StrategyDirectNormalized = "direct_normalized"
	StrategyDirectInline     = "direct_inline"
	StrategyRoleJoin         = "role_join"
	StrategyLegacyRole       = "legacy_role"
)

// Env is what a strategy sees during one discovery run.
type Env struct {
	Store  Store
	Schema Schema
	probes *probeMemo
}

// HasColumns reports whether table exists and carries every column.
func (e *Env) HasColumns(ctx context.Context, table string, columns ...string) bool {
	return e.probes.hasColumns(ctx, table, columns...)
}

func (e *Env) query(ctx context.Context, query string, args ...any) ([]Row, error) {
	rows, err := e.Store.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreFailure, err)
	}
	return rows, nil
}

// Strategy resolves permission keys for a principal under one storage convention.
// Implementations return ErrSchemaAbsent when their tables are missing.
type Strategy interface {
	Name() string
	Permissions(ctx context.Context, env *Env, principalID int64) ([]string, error)
}

// RoleGrant is the role information a RoleSource found.
type RoleGrant struct {
	Names  []string
	RoleID *int64
}

// RoleSource is implemented by strategies that can also name roles.
type RoleSource interface {
	Roles(ctx context.Context, env *Env, principalID int64) (RoleGrant, error)
}

// DefaultStrategies returns the built-in strategies in priority order.
func DefaultStrategies() []Strategy {
	return []Strategy{
		DirectNormalized{},
		DirectInline{},
		RoleJoin{},
		LegacyRole{},
	}
}

// DirectNormalized reads user_permissions rows joined to permissions by id.
type DirectNormalized struct{}

func (DirectNormalized) Name() string { return StrategyDirectNormalized }

func (DirectNormalized) Permissions(ctx context.Context, env *Env, principalID int64) ([]string, error) {
	s := env.Schema
	if !env.HasColumns(ctx, s.UserPermissions, "user_id", "permission_id") || !env.HasColumns(ctx, s.Permissions, "id", "name") {
		return nil, ErrSchemaAbsent
	}
	query := fmt.Sprintf(
		"SELECT p.name FROM %s p JOIN %s up ON up.permission_id = p.id WHERE up.user_id = $1",
		s.Permissions, s.UserPermissions,
	)
	rows, err := env.query(ctx, query, principalID)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows)
}

// DirectInline reads permission strings stored inline on user_permissions.
type DirectInline struct{}

func (DirectInline) Name() string { return StrategyDirectInline }

func (DirectInline) Permissions(ctx context.Context, env *Env, principalID int64) ([]string, error) {
	s := env.Schema
	if !env.HasColumns(ctx, s.UserPermissions, "user_id", "permission") {
		return nil, ErrSchemaAbsent
	}
	query := fmt.Sprintf("SELECT up.permission FROM %s up WHERE up.user_id = $1", s.UserPermissions)
	rows, err := env.query(ctx, query, principalID)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows)
}

// RoleJoin expands role membership through role_permissions.
type RoleJoin struct{}

func (RoleJoin) Name() string { return StrategyRoleJoin }

func (RoleJoin) Permissions(ctx context.Context, env *Env, principalID int64) ([]string, error) {
	s := env.Schema
	if !env.HasColumns(ctx, s.UserRoles, "user_id", "role_id") ||
		!env.HasColumns(ctx, s.RolePermissions, "role_id", "permission_id") ||
		!env.HasColumns(ctx, s.Permissions, "id", "name") {
		return nil, ErrSchemaAbsent
	}
	query := fmt.Sprintf(
		"SELECT DISTINCT p.name FROM %s ur JOIN %s rp ON rp.role_id = ur.role_id JOIN %s p ON p.id = rp.permission_id WHERE ur.user_id = $1",
		s.UserRoles, s.RolePermissions, s.Permissions,
	)
	rows, err := env.query(ctx, query, principalID)
	if err != nil {
		return nil, err
	}
	return stringColumn(rows)
}

func (RoleJoin) Roles(ctx context.Context, env *Env, principalID int64) (RoleGrant, error) {
	s := env.Schema
	if !env.HasColumns(ctx, s.UserRoles, "user_id", "role_id") || !env.HasColumns(ctx, s.Roles, "id", "name") {
		return RoleGrant{}, ErrSchemaAbsent
	}
	query := fmt.Sprintf(
		"SELECT r.name FROM %s r JOIN %s ur ON ur.role_id = r.id WHERE ur.user_id = $1",
		s.Roles, s.UserRoles,
	)
	rows, err := env.query(ctx, query, principalID)
	if err != nil {
		return RoleGrant{}, err
	}
	names, err := stringColumn(rows)
	if err != nil {
		return RoleGrant{}, err
	}
	return RoleGrant{Names: names}, nil
}

// LegacyRole follows the users.role_id pointer. It never yields permissions.
type LegacyRole struct{}

func (LegacyRole) Name() string { return StrategyLegacyRole }

func (LegacyRole) Permissions(context.Context, *Env, int64) ([]string, error) {
	return nil, nil
}

func (LegacyRole) Roles(ctx context.Context, env *Env, principalID int64) (RoleGrant, error) {
	s := env.Schema
	if !env.HasColumns(ctx, s.Users, "id", "role_id") {
		return RoleGrant{}, ErrSchemaAbsent
	}
	rows, err := env.query(ctx, fmt.Sprintf("SELECT role_id FROM %s WHERE id = $1", s.Users), principalID)
	if err != nil {
		return RoleGrant{}, err
	}
	if len(rows) == 0 {
		return RoleGrant{}, nil
	}
	roleID, ok, err := ColumnInt64(rows[0], 0)
	if err != nil {
		return RoleGrant{}, fmt.Errorf("authz: legacy role id: %w", err)
	}
	if !ok {
		return RoleGrant{}, nil
	}
	grant := RoleGrant{RoleID: &roleID}
	// The pointer alone is enough for the superadmin rule; a roles table is optional.
	if !env.HasColumns(ctx, s.Roles, "id", "name") {
		return grant, nil
	}
	rows, err = env.query(ctx, fmt.Sprintf("SELECT name FROM %s WHERE id = $1", s.Roles), roleID)
	if err != nil {
		return grant, err
	}
	names, err := stringColumn(rows)
	if err != nil {
		return grant, err
	}
	grant.Names = names
	return grant, nil
}
