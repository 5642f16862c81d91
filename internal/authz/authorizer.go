package authz

import (
	"context"
	"errors"
	"log/slog"
	"strconv"

	"golang.org/x/sync/singleflight"
)

// Session is the per-request session context the engine reads and writes.
type Session interface {
	ID() string
	User() string
	Get(key string) string
	Set(key, value string)
	Delete(key string)
}

// Principal is the acting user, as provided by the authentication layer.
type Principal struct {
	ID     int64  `json:"id"`
	Name   string `json:"name"`
	RoleID *int64 `json:"role_id,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// PrincipalResolver yields the principal bound to a session, or ErrUnauthenticated.
type PrincipalResolver interface {
	ResolvePrincipal(ctx context.Context, sess Session) (*Principal, error)
}

// Publisher propagates invalidations to other processes.
type Publisher interface {
	Publish(ctx context.Context, principalID int64) error
}

// Config wires an Authorizer.
type Config struct {
	Resolver  PrincipalResolver
	Discovery *Discoverer
	Cache     *Cache
	Publisher Publisher
	Logger    *slog.Logger
	Metrics   Recorder
}

// Authorizer is the entry point request handlers use.
type Authorizer struct {
	resolver  PrincipalResolver
	discovery *Discoverer
	cache     *Cache
	publisher Publisher
	logger    *slog.Logger
	metrics   Recorder
	group     singleflight.Group
}

// NewAuthorizer constructs an Authorizer.
func NewAuthorizer(cfg Config) *Authorizer {
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	cache := cfg.Cache
	if cache == nil {
		cache = NewCache(CacheConfig{RefreshEmpty: true})
	}
	return &Authorizer{
		resolver:  cfg.Resolver,
		discovery: cfg.Discovery,
		cache:     cache,
		publisher: cfg.Publisher,
		logger:    cfg.Logger,
		metrics:   metrics,
	}
}

// CurrentPrincipal resolves the session's principal without touching permissions.
func (a *Authorizer) CurrentPrincipal(ctx context.Context, sess Session) (*Principal, bool) {
	if sess == nil || a.resolver == nil {
		return nil, false
	}
	principal, err := a.resolver.ResolvePrincipal(ctx, sess)
	if err != nil {
		if !errors.Is(err, ErrUnauthenticated) && a.logger != nil {
			a.logger.Warn("authz resolve principal", slog.Any("error", err))
		}
		return nil, false
	}
	if principal == nil {
		return nil, false
	}
	return principal, true
}

// CurrentPrincipalWithPermissions resolves the principal and its snapshot,
// running discovery only when the session has no cached snapshot.
func (a *Authorizer) CurrentPrincipalWithPermissions(ctx context.Context, sess Session) (*Principal, *Snapshot, bool) {
	principal, ok := a.CurrentPrincipal(ctx, sess)
	if !ok {
		return nil, nil, false
	}
	return principal, a.snapshot(ctx, sess.ID(), principal.ID), true
}

// HasPermission evaluates expr for the current principal. Anonymous sessions hold nothing.
func (a *Authorizer) HasPermission(ctx context.Context, sess Session, expr Expression) bool {
	if expr.IsEmpty() {
		return true
	}
	_, snap, ok := a.CurrentPrincipalWithPermissions(ctx, sess)
	if !ok {
		return false
	}
	return Evaluate(snap, expr)
}

// ReloadPermissions forces discovery for principalID and caches the result in sess.
func (a *Authorizer) ReloadPermissions(ctx context.Context, sess Session, principalID int64) *Snapshot {
	gen := a.cache.Generation(principalID)
	snap := a.discover(ctx, principalID)
	if sess != nil && !snap.Degraded() {
		a.cache.PutIfCurrent(sess.ID(), principalID, snap, gen)
	}
	return snap
}

// InvalidateCache clears principalID everywhere, or every snapshot of sess when principalID is nil.
func (a *Authorizer) InvalidateCache(ctx context.Context, sess Session, principalID *int64) {
	if principalID != nil {
		a.InvalidatePrincipal(ctx, *principalID)
		return
	}
	if sess != nil {
		a.cache.InvalidateAll(sess.ID())
	}
}

// InvalidatePrincipal drops principalID's snapshots in every session and tells other processes.
func (a *Authorizer) InvalidatePrincipal(ctx context.Context, principalID int64) {
	a.cache.InvalidatePrincipal(principalID)
	a.publish(ctx, principalID)
}

// InvalidateEveryone drops every cached snapshot, locally and remotely.
func (a *Authorizer) InvalidateEveryone(ctx context.Context) {
	a.cache.Purge()
	a.publish(ctx, 0)
}

func (a *Authorizer) publish(ctx context.Context, principalID int64) {
	if a.publisher == nil {
		return
	}
	if err := a.publisher.Publish(ctx, principalID); err != nil && a.logger != nil {
		a.logger.Warn("authz publish invalidation", slog.Int64("principal_id", principalID), slog.Any("error", err))
	}
}

func (a *Authorizer) snapshot(ctx context.Context, sessionID string, principalID int64) *Snapshot {
	if snap, ok := a.cache.Get(sessionID, principalID); ok {
		a.metrics.CacheLookup(true)
		return snap
	}
	a.metrics.CacheLookup(false)

	key := sessionID + ":" + strconv.FormatInt(principalID, 10)
	// Waiters share one discovery, so it must not die with the first caller's request.
	detached := context.WithoutCancel(ctx)
	ch := a.group.DoChan(key, func() (any, error) {
		if snap, ok := a.cache.Get(sessionID, principalID); ok {
			return snap, nil
		}
		gen := a.cache.Generation(principalID)
		snap := a.discover(detached, principalID)
		if !snap.Degraded() {
			a.cache.PutIfCurrent(sessionID, principalID, snap, gen)
		}
		return snap, nil
	})
	select {
	case <-ctx.Done():
		return emptySnapshot().markDegraded()
	case res := <-ch:
		snap, _ := res.Val.(*Snapshot)
		if snap == nil {
			return emptySnapshot()
		}
		return snap
	}
}

func (a *Authorizer) discover(ctx context.Context, principalID int64) *Snapshot {
	if a.discovery == nil {
		return emptySnapshot()
	}
	return a.discovery.Discover(ctx, principalID)
}
