package db

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
)

func TestSQLStoreQueryReturnsRawValues(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	rows := sqlmock.NewRows([]string{"name"}).AddRow("products:view").AddRow("vendors:edit")
	mock.ExpectQuery("SELECT up.permission FROM user_permissions").WithArgs(int64(7)).WillReturnRows(rows)

	store := NewSQLStore(handle, DialectPostgres)
	got, err := store.Query(context.Background(), "SELECT up.permission FROM user_permissions up WHERE up.user_id = $1", int64(7))
	require.NoError(t, err)
	require.Len(t, got, 2)
	name, err := authz.ColumnString(got[0], 0)
	require.NoError(t, err)
	assert.Equal(t, "products:view", name)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreQueryKeepsNulls(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	mock.ExpectQuery("SELECT role_id FROM users").WillReturnRows(sqlmock.NewRows([]string{"role_id"}).AddRow(nil))

	got, err := NewSQLStore(handle, DialectPostgres).Query(context.Background(), "SELECT role_id FROM users WHERE id = $1", int64(4))
	require.NoError(t, err)
	require.Len(t, got, 1)
	_, ok, err := authz.ColumnInt64(got[0], 0)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestSQLStoreUndefinedTableIsSchemaAbsent(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	mock.ExpectQuery("SELECT").WillReturnError(&pq.Error{Code: "42P01", Message: `relation "user_roles" does not exist`})

	_, err = NewSQLStore(handle, DialectPostgres).Query(context.Background(), "SELECT r.name FROM roles r", int64(1))
	assert.ErrorIs(t, err, authz.ErrSchemaAbsent)
}

func TestSQLStoreOtherErrorsPassThrough(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	boom := errors.New("connection reset")
	mock.ExpectQuery("SELECT").WillReturnError(boom)

	_, err = NewSQLStore(handle, DialectPostgres).Query(context.Background(), "SELECT 1")
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, authz.ErrSchemaAbsent)
}

func TestSQLStoreProbes(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	mock.ExpectQuery("information_schema.tables").WithArgs("user_roles").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("information_schema.columns").WithArgs("users", "role_id").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))
	mock.ExpectQuery("information_schema.tables").WithArgs("roles").
		WillReturnError(errors.New("permission denied"))

	store := NewSQLStore(handle, DialectPostgres)
	ok, err := store.TableExists(context.Background(), "user_roles")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ColumnExists(context.Background(), "users", "role_id")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.TableExists(context.Background(), "roles")
	assert.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreDrivesDiscovery(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	// Probe answers are memoized per run, so every table and column is asked once.
	exists := func(v bool) *sqlmock.Rows { return sqlmock.NewRows([]string{"exists"}).AddRow(v) }
	table := func(name string, v bool) {
		mock.ExpectQuery("information_schema.tables").WithArgs(name).WillReturnRows(exists(v))
	}
	column := func(tbl, col string) {
		mock.ExpectQuery("information_schema.columns").WithArgs(tbl, col).WillReturnRows(exists(true))
	}

	table("user_permissions", false)
	table("user_roles", true)
	column("user_roles", "user_id")
	column("user_roles", "role_id")
	table("role_permissions", true)
	column("role_permissions", "role_id")
	column("role_permissions", "permission_id")
	table("permissions", true)
	column("permissions", "id")
	column("permissions", "name")
	mock.ExpectQuery("SELECT DISTINCT p.name FROM user_roles").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("products:edit"))
	table("roles", true)
	column("roles", "id")
	column("roles", "name")
	mock.ExpectQuery("SELECT r.name FROM roles").WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"name"}).AddRow("catalog-editor"))
	table("users", false)

	d, err := authz.NewDiscoverer(NewSQLStore(handle, DialectPostgres), authz.DiscoveryConfig{})
	require.NoError(t, err)
	snap := d.Discover(context.Background(), 7)

	assert.Equal(t, []string{"products:edit"}, snap.Permissions())
	assert.Equal(t, []string{"catalog-editor"}, snap.Roles())
	assert.Equal(t, authz.StrategyRoleJoin, snap.Strategy())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLStoreRebind(t *testing.T) {
	pg := NewSQLStore(nil, "")
	assert.Equal(t, "SELECT 1 WHERE a = $1 AND b = $12", pg.Rebind("SELECT 1 WHERE a = $1 AND b = $12"))

	lite := NewSQLStore(nil, DialectSQLite)
	assert.Equal(t, "SELECT 1 WHERE a = ?1 AND b = ?12 OR c = ?1", lite.Rebind("SELECT 1 WHERE a = $1 AND b = $12 OR c = $1"))
}

func TestSQLiteStoreQueryRebindsPlaceholders(t *testing.T) {
	handle, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer handle.Close()

	mock.ExpectQuery("SELECT up.permission FROM user_permissions up WHERE up.user_id = ?1").
		WithArgs(int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"permission"}).AddRow("carts:view"))

	got, err := NewSQLStore(handle, DialectSQLite).Query(context.Background(), "SELECT up.permission FROM user_permissions up WHERE up.user_id = $1", int64(7))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreProbes(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	mock.ExpectQuery("FROM sqlite_master WHERE type = 'table' AND name = \\?1").WithArgs("user_roles").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("FROM pragma_table_info\\(\\?1\\) WHERE name = \\?2").WithArgs("users", "role_id").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	store := NewSQLStore(handle, DialectSQLite)
	ok, err := store.TableExists(context.Background(), "user_roles")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.ColumnExists(context.Background(), "users", "role_id")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLiteStoreMissingTableIsSchemaAbsent(t *testing.T) {
	handle, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer handle.Close()

	mock.ExpectQuery("SELECT").WillReturnError(errors.New("no such table: user_roles"))
	mock.ExpectQuery("SELECT").WillReturnError(errors.New("database is locked"))

	store := NewSQLStore(handle, DialectSQLite)
	_, err = store.Query(context.Background(), "SELECT r.name FROM roles r WHERE r.id = $1", int64(1))
	assert.ErrorIs(t, err, authz.ErrSchemaAbsent)

	_, err = store.Query(context.Background(), "SELECT r.name FROM roles r WHERE r.id = $1", int64(1))
	assert.NotErrorIs(t, err, authz.ErrSchemaAbsent)
}

func TestOpenRejectsUnknownDialect(t *testing.T) {
	_, err := Open(context.Background(), Dialect("mysql"), "root@/bazaar")
	assert.ErrorContains(t, err, "unsupported dialect")
}
