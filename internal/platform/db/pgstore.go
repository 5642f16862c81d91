package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
)

const (
	pgUndefinedTable  = "42P01"
	pgUndefinedColumn = "42703"
)

// Querier is the subset of pgxpool.Pool and pgx.Tx used by PGStore.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ Querier = (*pgxpool.Pool)(nil)

// PGStore exposes a pgx pool as an authz.Store.
type PGStore struct {
	q Querier
}

// NewPGStore wraps q.
func NewPGStore(q Querier) *PGStore {
	return &PGStore{q: q}
}

// Query runs a read-only statement and returns raw column values.
func (s *PGStore) Query(ctx context.Context, query string, args ...any) ([]authz.Row, error) {
	rows, err := s.q.Query(ctx, query, args...)
	if err != nil {
		return nil, classifyPG(err)
	}
	defer rows.Close()

	var out []authz.Row
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("platform/db: scan row: %w", err)
		}
		out = append(out, authz.Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPG(err)
	}
	return out, nil
}

// TableExists reports whether table is visible in the current schema.
func (s *PGStore) TableExists(ctx context.Context, table string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	)`
	var exists bool
	if err := s.q.QueryRow(ctx, q, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("platform/db: probe table %s: %w", table, err)
	}
	return exists, nil
}

// ColumnExists reports whether table has column in the current schema.
func (s *PGStore) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	const q = `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	)`
	var exists bool
	if err := s.q.QueryRow(ctx, q, table, column).Scan(&exists); err != nil {
		return false, fmt.Errorf("platform/db: probe column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

// classifyPG maps schema drift between probe and query to authz.ErrSchemaAbsent.
func classifyPG(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUndefinedTable, pgUndefinedColumn:
			return fmt.Errorf("%w: %s", authz.ErrSchemaAbsent, pgErr.Message)
		}
	}
	return err
}
