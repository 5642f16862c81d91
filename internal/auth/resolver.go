package auth

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"strings"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
)

// Session keys holding the principal profile captured at login.
const (
	SessionKeyName   = "auth.name"
	SessionKeyRoleID = "auth.role_id"
	SessionKeyLocale = "auth.locale"
	SessionKeyLoaded = "auth.profile"
)

// SessionResolver turns a session into an authz.Principal.
// The profile is read from the session; the users table is consulted only when
// the session carries none.
type SessionResolver struct {
	service *Service
	logger  *slog.Logger
}

// NewSessionResolver constructs a SessionResolver.
func NewSessionResolver(service *Service, logger *slog.Logger) *SessionResolver {
	return &SessionResolver{service: service, logger: logger}
}

// ResolvePrincipal implements authz.PrincipalResolver.
func (r *SessionResolver) ResolvePrincipal(ctx context.Context, sess authz.Session) (*authz.Principal, error) {
	if sess == nil {
		return nil, authz.ErrUnauthenticated
	}
	raw := strings.TrimSpace(sess.User())
	if raw == "" {
		return nil, authz.ErrUnauthenticated
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return nil, authz.ErrUnauthenticated
	}
	if sess.Get(SessionKeyLoaded) == "" {
		if err := r.RefreshProfile(ctx, sess, id); err != nil {
			return nil, err
		}
	}
	return principalFromSession(id, sess), nil
}

// RefreshProfile reloads the profile of id into sess. Permission snapshots are untouched.
func (r *SessionResolver) RefreshProfile(ctx context.Context, sess authz.Session, id int64) error {
	user, err := r.service.Profile(ctx, id)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return authz.ErrUnauthenticated
		}
		if r.logger != nil {
			r.logger.Warn("auth load profile", slog.Int64("user_id", id), slog.Any("error", err))
		}
		return err
	}
	StoreProfile(sess, user)
	return nil
}

// StoreProfile writes the profile fields of user into sess.
func StoreProfile(sess authz.Session, user *User) {
	sess.Set(SessionKeyName, user.DisplayName())
	sess.Set(SessionKeyLocale, user.Locale)
	if user.RoleID != nil {
		sess.Set(SessionKeyRoleID, strconv.FormatInt(*user.RoleID, 10))
	} else {
		sess.Delete(SessionKeyRoleID)
	}
	sess.Set(SessionKeyLoaded, "1")
}

// ClearProfile removes every profile key from sess.
func ClearProfile(sess authz.Session) {
	for _, key := range []string{SessionKeyName, SessionKeyRoleID, SessionKeyLocale, SessionKeyLoaded} {
		sess.Delete(key)
	}
}

func principalFromSession(id int64, sess authz.Session) *authz.Principal {
	p := &authz.Principal{
		ID:     id,
		Name:   sess.Get(SessionKeyName),
		Locale: sess.Get(SessionKeyLocale),
	}
	if raw := sess.Get(SessionKeyRoleID); raw != "" {
		if roleID, err := strconv.ParseInt(raw, 10, 64); err == nil {
			p.RoleID = &roleID
		}
	}
	return p
}

var _ authz.PrincipalResolver = (*SessionResolver)(nil)
