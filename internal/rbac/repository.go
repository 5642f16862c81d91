package rbac

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bazaar-market/bazaar-admin/internal/platform/db"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
)

// Repository defines persistence for role administration.
type Repository interface {
	ListRoles(ctx context.Context) ([]Role, error)
	ListPermissions(ctx context.Context) ([]Permission, error)
	RoleMembers(ctx context.Context, roleID int64) ([]int64, error)
	AssignRole(ctx context.Context, userID, roleID int64) error
	RemoveRole(ctx context.Context, userID, roleID int64) error
	SetRolePermissions(ctx context.Context, roleID int64, names []string) error
	SetLegacyRole(ctx context.Context, userID int64, roleID *int64) error
	EnsurePermissions(ctx context.Context, scopes []shared.CatalogScope) (int, error)
}

// PGRepository implements Repository on the conventional role tables.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a PostgreSQL repository.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

// ListRoles returns all roles ordered by name.
func (r *PGRepository) ListRoles(ctx context.Context) ([]Role, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(description, '') FROM roles ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Role, error) {
		var role Role
		err := row.Scan(&role.ID, &role.Name, &role.Description)
		return role, err
	})
}

// ListPermissions returns all permissions ordered by name.
func (r *PGRepository) ListPermissions(ctx context.Context) ([]Permission, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, COALESCE(description, '') FROM permissions ORDER BY name`)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
		var p Permission
		err := row.Scan(&p.ID, &p.Name, &p.Description)
		return p, err
	})
}

// RoleMembers returns the users holding roleID through user_roles.
func (r *PGRepository) RoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_roles WHERE role_id = $1 ORDER BY user_id`, roleID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowTo[int64])
}

// AssignRole assigns a role to the given user.
func (r *PGRepository) AssignRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `INSERT INTO user_roles (user_id, role_id)
SELECT $1, id FROM roles WHERE id = $2
ON CONFLICT DO NOTHING`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}
	}
	return nil
}

// RemoveRole removes a role from a user.
func (r *PGRepository) RemoveRole(ctx context.Context, userID, roleID int64) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetRolePermissions replaces the permissions of a role in one transaction.
func (r *PGRepository) SetRolePermissions(ctx context.Context, roleID int64, names []string) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM roles WHERE id = $1)`, roleID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ErrNotFound
		}

		rows, err := tx.Query(ctx, `SELECT id, name FROM permissions WHERE name = ANY($1)`, names)
		if err != nil {
			return err
		}
		found, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Permission, error) {
			var p Permission
			err := row.Scan(&p.ID, &p.Name)
			return p, err
		})
		if err != nil {
			return err
		}
		ids := make(map[string]int64, len(found))
		for _, p := range found {
			ids[p.Name] = p.ID
		}
		if missing := missingNames(names, ids); len(missing) > 0 {
			return fmt.Errorf("%w: %s", ErrUnknownPermission, strings.Join(missing, ", "))
		}

		if _, err := tx.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1`, roleID); err != nil {
			return err
		}
		for _, name := range names {
			if _, err := tx.Exec(ctx, `INSERT INTO role_permissions (role_id, permission_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`, roleID, ids[name]); err != nil {
				return err
			}
		}
		return nil
	})
}

// SetLegacyRole updates the users.role_id pointer.
func (r *PGRepository) SetLegacyRole(ctx context.Context, userID int64, roleID *int64) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET role_id = $2 WHERE id = $1`, userID, roleID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsurePermissions inserts catalog entries missing from permissions and reports how many were added.
func (r *PGRepository) EnsurePermissions(ctx context.Context, scopes []shared.CatalogScope) (int, error) {
	inserted := 0
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		for _, scope := range scopes {
			tag, err := tx.Exec(ctx, `INSERT INTO permissions (name, description) VALUES ($1, $2) ON CONFLICT (name) DO NOTHING`, scope.Name, scope.Description)
			if err != nil {
				return fmt.Errorf("rbac: ensure permission %s: %w", scope.Name, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

func missingNames(names []string, found map[string]int64) []string {
	var missing []string
	for _, name := range names {
		if _, ok := found[name]; !ok {
			missing = append(missing, name)
		}
	}
	sort.Strings(missing)
	return missing
}

var _ Repository = (*PGRepository)(nil)
