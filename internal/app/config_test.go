package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPGX, cfg.DBDriver)
	assert.Equal(t, 3*time.Second, cfg.AuthzDiscoveryTimeout)
	assert.Equal(t, int64(1), cfg.AuthzSuperadminRoleID)
	assert.Equal(t, "superadmin", cfg.AuthzSuperadminRoleName)
	assert.Equal(t, "/auth/login", cfg.AuthzLoginPath)
	assert.Equal(t, "/api/", cfg.AuthzAPIPrefix)
	assert.True(t, cfg.AuthzRefreshEmpty)
	assert.False(t, cfg.IsProduction())
}

func TestLoadConfigOverrides(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("DB_DRIVER", "postgres")
	t.Setenv("AUTHZ_DISCOVERY_TIMEOUT", "750ms")
	t.Setenv("AUTHZ_SUPERADMIN_ROLE_NAME", "owner")
	t.Setenv("APP_ENV", "production")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverPostgres, cfg.DBDriver)
	assert.Equal(t, 750*time.Millisecond, cfg.AuthzDiscoveryTimeout)
	assert.Equal(t, "owner", cfg.AuthzSuperadminRoleName)
	assert.True(t, cfg.IsProduction())
}

func TestLoadConfigRejectsUnknownDriver(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("DB_DRIVER", "mysql")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "DB_DRIVER")
}

func TestLoadConfigRequiresSecrets(t *testing.T) {
	t.Setenv("SESSION_SECRET", "")
	t.Setenv("CSRF_SECRET", "csrf")

	_, err := LoadConfig()
	assert.Error(t, err)
}

func TestLoadConfigSQLiteNeedsAuthzDSN(t *testing.T) {
	t.Setenv("SESSION_SECRET", "session")
	t.Setenv("CSRF_SECRET", "csrf")
	t.Setenv("DB_DRIVER", "sqlite3")

	_, err := LoadConfig()
	assert.ErrorContains(t, err, "AUTHZ_DSN")

	t.Setenv("AUTHZ_DSN", "file:bazaar.db?mode=ro")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, DriverSQLite, cfg.DBDriver)
	assert.Equal(t, "file:bazaar.db?mode=ro", cfg.authzDSN())
}
