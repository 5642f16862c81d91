package app

import (
	"context"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
	"github.com/bazaar-market/bazaar-admin/internal/platform/db"
)

// OpenAuthzStore returns the Store discovery reads through. DB_DRIVER=postgres
// and sqlite3 open a database/sql handle on AuthzDSN (or PG_DSN); pgx uses
// pool directly. The returned close func is never nil.
func OpenAuthzStore(ctx context.Context, cfg *Config, pool *pgxpool.Pool) (authz.Store, func(), error) {
	switch cfg.DBDriver {
	case DriverPostgres, DriverSQLite:
		dialect := db.Dialect(cfg.DBDriver)
		handle, err := db.Open(ctx, dialect, cfg.authzDSN())
		if err != nil {
			return nil, func() {}, err
		}
		return db.NewSQLStore(handle, dialect), func() { _ = handle.Close() }, nil
	}
	if cfg.AuthzDSN != "" && cfg.AuthzDSN != cfg.PGDSN {
		authzPool, err := db.New(ctx, cfg.AuthzDSN)
		if err != nil {
			return nil, func() {}, err
		}
		return db.NewPGStore(authzPool), authzPool.Close, nil
	}
	return db.NewPGStore(pool), func() {}, nil
}

func (c *Config) authzDSN() string {
	if c.AuthzDSN != "" {
		return c.AuthzDSN
	}
	return c.PGDSN
}

// AuthzPolicy builds the superadmin policy from configuration.
func AuthzPolicy(cfg *Config) authz.Policy {
	return authz.Policy{
		SuperadminRoleID:   cfg.AuthzSuperadminRoleID,
		SuperadminRoleName: cfg.AuthzSuperadminRoleName,
	}
}

// NewDiscoverer builds the permission discoverer from configuration.
func NewDiscoverer(cfg *Config, store authz.Store, logger *slog.Logger, metrics authz.Recorder) (*authz.Discoverer, error) {
	policy := AuthzPolicy(cfg)
	return authz.NewDiscoverer(store, authz.DiscoveryConfig{
		Policy:  &policy,
		Timeout: cfg.AuthzDiscoveryTimeout,
		Logger:  logger,
		Metrics: metrics,
	})
}

// NewAuthzCache builds the session-scoped snapshot cache from configuration.
func NewAuthzCache(cfg *Config) *authz.Cache {
	return authz.NewCache(authz.CacheConfig{
		MaxSessions:  cfg.AuthzCacheSessions,
		SessionTTL:   cfg.SessionTTL,
		RefreshEmpty: cfg.AuthzRefreshEmpty,
	})
}
