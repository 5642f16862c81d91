package authz

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
)

// Handler exposes the current principal's permissions as JSON.
type Handler struct {
	authz    *Authorizer
	sessions SessionFunc
	logger   *slog.Logger
}

// NewHandler constructs a Handler.
func NewHandler(a *Authorizer, sessions SessionFunc, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{authz: a, sessions: sessions, logger: logger}
}

// MountRoutes registers the permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Get("/", h.show)
	r.Post("/reload", h.reload)
	r.Get("/check", h.check)
}

type permissionsResponse struct {
	Principal   *Principal `json:"principal"`
	Permissions *Snapshot  `json:"permissions"`
	Degraded    bool       `json:"degraded,omitempty"`
}

func (h *Handler) show(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	principal, snap, ok := h.authz.CurrentPrincipalWithPermissions(r.Context(), sess)
	if !ok {
		httpx.Failure(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Principal: principal, Permissions: snap, Degraded: snap.Degraded()})
}

func (h *Handler) reload(w http.ResponseWriter, r *http.Request) {
	sess := h.session(r)
	principal, ok := h.authz.CurrentPrincipal(r.Context(), sess)
	if !ok {
		httpx.Failure(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	snap := h.authz.ReloadPermissions(r.Context(), sess, principal.ID)
	if snap.Degraded() {
		h.logger.Warn("authz reload degraded", slog.Int64("principal_id", principal.ID))
	}
	httpx.JSON(w, http.StatusOK, permissionsResponse{Principal: principal, Permissions: snap, Degraded: snap.Degraded()})
}

// check answers ?permission=a&permission=b with mode=any (default) or mode=all.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	keys := r.URL.Query()["permission"]
	if len(keys) == 0 {
		httpx.Failure(w, http.StatusBadRequest, "permission is required", httpx.CodeValidation)
		return
	}
	expr := Any(keys...)
	switch r.URL.Query().Get("mode") {
	case "", "any":
	case "all":
		expr = All(keys...)
	default:
		httpx.Failure(w, http.StatusBadRequest, "mode must be any or all", httpx.CodeValidation)
		return
	}
	sess := h.session(r)
	if _, ok := h.authz.CurrentPrincipal(r.Context(), sess); !ok {
		httpx.Failure(w, http.StatusUnauthorized, "authentication required", httpx.CodeUnauthenticated)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"expression": expr.String(),
		"allowed":    h.authz.HasPermission(r.Context(), sess, expr),
	})
}

func (h *Handler) session(r *http.Request) Session {
	if h.sessions == nil {
		return nil
	}
	return h.sessions(r)
}
