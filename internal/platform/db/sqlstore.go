package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
)

// Dialect names a database/sql driver and the introspection it needs.
type Dialect string

const (
	DialectPostgres Dialect = "postgres"
	DialectSQLite   Dialect = "sqlite3"
)

// Open opens a database/sql handle for dialect. The dialect doubles as the
// registered driver name.
func Open(ctx context.Context, dialect Dialect, dsn string) (*sql.DB, error) {
	switch dialect {
	case DialectPostgres, DialectSQLite:
	default:
		return nil, fmt.Errorf("platform/db: unsupported dialect %q", dialect)
	}
	handle, err := sql.Open(string(dialect), dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: open: %w", err)
	}
	if err := handle.PingContext(ctx); err != nil {
		_ = handle.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}
	return handle, nil
}

// SQLStore exposes a database/sql handle as an authz.Store.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
}

// NewSQLStore wraps handle. An empty dialect means postgres.
func NewSQLStore(handle *sql.DB, dialect Dialect) *SQLStore {
	if dialect == "" {
		dialect = DialectPostgres
	}
	return &SQLStore{db: handle, dialect: dialect}
}

var dollarParam = regexp.MustCompile(`\$(\d+)`)

// Rebind rewrites $n placeholders into the dialect's form.
func (s *SQLStore) Rebind(query string) string {
	if s.dialect == DialectSQLite {
		return dollarParam.ReplaceAllString(query, "?$1")
	}
	return query
}

// Query runs a read-only statement and returns raw column values.
func (s *SQLStore) Query(ctx context.Context, query string, args ...any) ([]authz.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.Rebind(query), args...)
	if err != nil {
		return nil, s.classify(err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("platform/db: columns: %w", err)
	}

	var out []authz.Row
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("platform/db: scan row: %w", err)
		}
		out = append(out, authz.Row(values))
	}
	if err := rows.Err(); err != nil {
		return nil, s.classify(err)
	}
	return out, nil
}

// TableExists reports whether table is visible to the connection.
func (s *SQLStore) TableExists(ctx context.Context, table string) (bool, error) {
	q := `SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = current_schema() AND table_name = $1
	)`
	if s.dialect == DialectSQLite {
		q = `SELECT EXISTS (SELECT 1 FROM sqlite_master WHERE type = 'table' AND name = ?1)`
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, table).Scan(&exists); err != nil {
		return false, fmt.Errorf("platform/db: probe table %s: %w", table, err)
	}
	return exists, nil
}

// ColumnExists reports whether table has column.
func (s *SQLStore) ColumnExists(ctx context.Context, table, column string) (bool, error) {
	q := `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = current_schema() AND table_name = $1 AND column_name = $2
	)`
	if s.dialect == DialectSQLite {
		q = `SELECT EXISTS (SELECT 1 FROM pragma_table_info(?1) WHERE name = ?2)`
	}
	var exists bool
	if err := s.db.QueryRowContext(ctx, q, table, column).Scan(&exists); err != nil {
		return false, fmt.Errorf("platform/db: probe column %s.%s: %w", table, column, err)
	}
	return exists, nil
}

func (s *SQLStore) classify(err error) error {
	if s.dialect == DialectSQLite {
		return classifySQLite(err)
	}
	return classifyPQ(err)
}

// classifySQLite matches on the message: sqlite reports both cases as a generic SQLITE_ERROR.
func classifySQLite(err error) error {
	msg := err.Error()
	if strings.Contains(msg, "no such table") || strings.Contains(msg, "no such column") {
		return fmt.Errorf("%w: %s", authz.ErrSchemaAbsent, msg)
	}
	return err
}

func classifyPQ(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch string(pqErr.Code) {
		case pgUndefinedTable, pgUndefinedColumn:
			return fmt.Errorf("%w: %s", authz.ErrSchemaAbsent, pqErr.Message)
		}
	}
	return err
}
