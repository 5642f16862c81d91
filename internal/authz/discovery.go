package authz

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// DefaultDiscoveryTimeout bounds one discovery run when none is configured.
const DefaultDiscoveryTimeout = 3 * time.Second

// Discovery outcomes reported to the Recorder.
const (
	OutcomeHit    = "hit"
	OutcomeEmpty  = "empty"
	OutcomeAbsent = "absent"
	OutcomeError  = "error"
)

// DiscoveryConfig tunes a Discoverer. Zero values select defaults.
type DiscoveryConfig struct {
	Schema     Schema
	Policy     *Policy
	Strategies []Strategy
	Timeout    time.Duration
	Logger     *slog.Logger
	Metrics    Recorder
}

// Discoverer resolves a principal id into a Snapshot. It never fails:
// store errors degrade single strategies, timeouts degrade to an empty snapshot.
type Discoverer struct {
	store      Store
	prober     *Prober
	schema     Schema
	policy     Policy
	strategies []Strategy
	timeout    time.Duration
	logger     *slog.Logger
	metrics    Recorder
}

// NewDiscoverer builds a Discoverer over store.
func NewDiscoverer(store Store, cfg DiscoveryConfig) (*Discoverer, error) {
	schema := cfg.Schema.withDefaults()
	if err := schema.Validate(); err != nil {
		return nil, err
	}
	policy := DefaultPolicy()
	if cfg.Policy != nil {
		policy = *cfg.Policy
	}
	strategies := cfg.Strategies
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultDiscoveryTimeout
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Discoverer{
		store:      store,
		prober:     NewProber(store, cfg.Logger),
		schema:     schema,
		policy:     policy,
		strategies: strategies,
		timeout:    timeout,
		logger:     cfg.Logger,
		metrics:    metrics,
	}, nil
}

// Discover runs the strategies in priority order and resolves roles.
func (d *Discoverer) Discover(ctx context.Context, principalID int64) *Snapshot {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	env := &Env{Store: d.store, Schema: d.schema, probes: newProbeMemo(d.prober)}

	var (
		permissions []string
		source      string
	)
	for _, strategy := range d.strategies {
		if ctx.Err() != nil {
			break
		}
		perms, err := strategy.Permissions(ctx, env, principalID)
		if !d.record(strategy.Name(), principalID, "permissions", err, len(perms)) {
			continue
		}
		if len(perms) > 0 {
			permissions = perms
			source = strategy.Name()
			break
		}
	}

	var (
		roles  []string
		roleID *int64
	)
	for _, strategy := range d.strategies {
		if ctx.Err() != nil {
			break
		}
		rs, ok := strategy.(RoleSource)
		if !ok {
			continue
		}
		grant, err := rs.Roles(ctx, env, principalID)
		// A resolved pointer is kept even when the role name lookup failed.
		if grant.RoleID != nil && roleID == nil {
			roleID = grant.RoleID
		}
		if !d.record(strategy.Name(), principalID, "roles", err, len(grant.Names)) {
			continue
		}
		roles = append(roles, grant.Names...)
	}

	if err := ctx.Err(); err != nil {
		if d.logger != nil {
			d.logger.Warn("authz discovery aborted", slog.Int64("principal_id", principalID), slog.Any("error", err))
		}
		d.metrics.DiscoveryOutcome("all", OutcomeError)
		return emptySnapshot().markDegraded()
	}

	superadmin := d.policy.IsSuperadmin(roleID, roles)
	if superadmin && len(permissions) == 0 && d.logger != nil {
		d.logger.Debug("authz superadmin sentinel", slog.Int64("principal_id", principalID))
	}
	return NewSnapshot(permissions, roles, superadmin).withStrategy(source)
}

// record logs and counts a strategy result, reporting whether it is usable.
func (d *Discoverer) record(strategy string, principalID int64, phase string, err error, n int) bool {
	switch {
	case err == nil && n > 0:
		d.metrics.DiscoveryOutcome(strategy, OutcomeHit)
		return true
	case err == nil:
		d.metrics.DiscoveryOutcome(strategy, OutcomeEmpty)
		return true
	case errors.Is(err, ErrSchemaAbsent):
		d.metrics.DiscoveryOutcome(strategy, OutcomeAbsent)
		return false
	default:
		d.metrics.DiscoveryOutcome(strategy, OutcomeError)
		if d.logger != nil {
			d.logger.Warn("authz strategy failed",
				slog.String("strategy", strategy),
				slog.String("phase", phase),
				slog.Int64("principal_id", principalID),
				slog.Any("error", err),
			)
		}
		return false
	}
}
