package auth

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
)

// Repository defines persistence operations for the auth module.
type Repository interface {
	FindByEmail(ctx context.Context, email string) (*User, error)
	FindByID(ctx context.Context, id int64) (*User, error)
}

var optionalUserColumns = []string{"name", "role_id", "preferred_language", "is_active"}

// StoreRepository reads users through the same store adapter the authz engine uses.
// Columns beyond id, email and password_hash are probed once and read only when present.
type StoreRepository struct {
	store  authz.Store
	prober *authz.Prober
	table  string

	once    sync.Once
	columns []string
}

// NewStoreRepository constructs a StoreRepository over table (default "users").
func NewStoreRepository(store authz.Store, prober *authz.Prober, table string) *StoreRepository {
	if table == "" {
		table = "users"
	}
	return &StoreRepository{store: store, prober: prober, table: table}
}

// FindByEmail fetches a user by email.
func (r *StoreRepository) FindByEmail(ctx context.Context, email string) (*User, error) {
	return r.findOne(ctx, "email", strings.TrimSpace(email))
}

// FindByID fetches a user by id.
func (r *StoreRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	return r.findOne(ctx, "id", id)
}

func (r *StoreRepository) findOne(ctx context.Context, column string, value any) (*User, error) {
	cols := r.selectColumns(ctx)
	query := fmt.Sprintf("SELECT %s FROM %s WHERE %s = $1 LIMIT 1", strings.Join(cols, ", "), r.table, column)
	rows, err := r.store.Query(ctx, query, value)
	if err != nil {
		return nil, fmt.Errorf("auth: find user: %w", err)
	}
	if len(rows) == 0 {
		return nil, shared.ErrNotFound
	}
	return scanUser(cols, rows[0])
}

func (r *StoreRepository) selectColumns(ctx context.Context) []string {
	r.once.Do(func() {
		cols := []string{"id", "email", "password_hash"}
		for _, col := range optionalUserColumns {
			if r.prober.ColumnExists(ctx, r.table, col) {
				cols = append(cols, col)
			}
		}
		r.columns = cols
	})
	return r.columns
}

func scanUser(cols []string, row authz.Row) (*User, error) {
	user := &User{IsActive: true}
	for i, col := range cols {
		switch col {
		case "id":
			id, _, err := authz.ColumnInt64(row, i)
			if err != nil {
				return nil, fmt.Errorf("auth: user id: %w", err)
			}
			user.ID = id
		case "role_id":
			id, ok, err := authz.ColumnInt64(row, i)
			if err != nil {
				return nil, fmt.Errorf("auth: user role_id: %w", err)
			}
			if ok {
				user.RoleID = &id
			}
		case "is_active":
			if i < len(row) && row[i] != nil {
				active, ok := row[i].(bool)
				user.IsActive = !ok || active
			}
		default:
			v, err := authz.ColumnString(row, i)
			if err != nil {
				return nil, fmt.Errorf("auth: user %s: %w", col, err)
			}
			switch col {
			case "email":
				user.Email = v
			case "password_hash":
				user.PasswordHash = v
			case "name":
				user.Name = v
			case "preferred_language":
				user.Locale = v
			}
		}
	}
	return user, nil
}

var _ Repository = (*StoreRepository)(nil)
