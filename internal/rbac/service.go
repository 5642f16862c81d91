package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
)

// Invalidator drops cached permission snapshots after grants change.
type Invalidator interface {
	InvalidatePrincipal(ctx context.Context, principalID int64)
	InvalidateEveryone(ctx context.Context)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service orchestrates RBAC operations.
type Service struct {
	repo        Repository
	invalidator Invalidator
	audit       AuditRecorder
	logger      *slog.Logger
}

// NewService constructs a Service. audit may be nil.
func NewService(repo Repository, invalidator Invalidator, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, invalidator: invalidator, audit: audit, logger: logger}
}

// ListRoles returns all roles ordered by name.
func (s *Service) ListRoles(ctx context.Context) ([]Role, error) {
	return s.repo.ListRoles(ctx)
}

// ListPermissions returns all permissions ordered by name.
func (s *Service) ListPermissions(ctx context.Context) ([]Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// RoleMembers lists users holding roleID through user_roles.
func (s *Service) RoleMembers(ctx context.Context, roleID int64) ([]int64, error) {
	return s.repo.RoleMembers(ctx, roleID)
}

// AssignRole grants roleID to userID.
func (s *Service) AssignRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.repo.AssignRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actorID, "rbac.role_assigned", "user", userID, map[string]any{"role_id": roleID})
	return nil
}

// RemoveRole revokes roleID from userID.
func (s *Service) RemoveRole(ctx context.Context, actorID, userID, roleID int64) error {
	if err := s.repo.RemoveRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	s.record(ctx, actorID, "rbac.role_removed", "user", userID, map[string]any{"role_id": roleID})
	return nil
}

// SetLegacyRole points users.role_id at roleID, or clears it when nil.
func (s *Service) SetLegacyRole(ctx context.Context, actorID, userID int64, roleID *int64) error {
	if err := s.repo.SetLegacyRole(ctx, userID, roleID); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	meta := map[string]any{"role_id": nil}
	if roleID != nil {
		meta["role_id"] = *roleID
	}
	s.record(ctx, actorID, "rbac.legacy_role_set", "user", userID, meta)
	return nil
}

// SetRolePermissions replaces the permission set of a role and invalidates its members.
func (s *Service) SetRolePermissions(ctx context.Context, actorID, roleID int64, names []string) error {
	cleaned := normalizeNames(names)
	for _, name := range cleaned {
		if !strings.Contains(name, ":") {
			return fmt.Errorf("%w: %q is not resource:action", httpx.ErrValidation, name)
		}
	}
	if err := s.repo.SetRolePermissions(ctx, roleID, cleaned); err != nil {
		return err
	}

	// Holders through users.role_id are not enumerable from user_roles.
	s.invalidateEveryone(ctx)
	s.record(ctx, actorID, "rbac.role_permissions_set", "role", roleID, map[string]any{"permissions": cleaned})
	return nil
}

// SeedCatalog inserts missing catalog permissions and invalidates every cached snapshot.
func (s *Service) SeedCatalog(ctx context.Context) (int, error) {
	inserted, err := s.repo.EnsurePermissions(ctx, shared.CatalogScopes())
	if err != nil {
		return 0, err
	}
	if inserted > 0 {
		s.invalidateEveryone(ctx)
	}
	return inserted, nil
}

func (s *Service) invalidate(ctx context.Context, userID int64) {
	if s.invalidator != nil {
		s.invalidator.InvalidatePrincipal(ctx, userID)
	}
}

func (s *Service) invalidateEveryone(ctx context.Context) {
	if s.invalidator != nil {
		s.invalidator.InvalidateEveryone(ctx)
	}
}

func (s *Service) record(ctx context.Context, actorID int64, action, entity string, entityID int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	entry := shared.AuditLog{
		ActorID:  actorID,
		Action:   action,
		Entity:   entity,
		EntityID: strconv.FormatInt(entityID, 10),
		Meta:     meta,
	}
	if err := s.audit.Record(ctx, entry); err != nil {
		s.logger.Warn("rbac: audit", slog.String("action", action), slog.Any("error", err))
	}
}

func normalizeNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
