package rbac

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/spf13/cast"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
)

// Guard is the permission middleware factory used by the routes.
type Guard interface {
	RequireAny(perms ...string) func(http.Handler) http.Handler
}

// Enqueuer schedules a catalog reseed in the background.
type Enqueuer interface {
	EnqueuePermissionsReseed(ctx context.Context) (string, error)
}

// Handler serves the role administration API.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	guard     Guard
	enqueuer  Enqueuer
	validator *validator.Validate
}

// NewHandler builds a Handler. enqueuer may be nil, in which case reseeds run inline.
func NewHandler(logger *slog.Logger, service *Service, guard Guard, enqueuer Enqueuer) *Handler {
	return &Handler{logger: logger, service: service, guard: guard, enqueuer: enqueuer, validator: validator.New()}
}

// MountRoutes registers RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesView))
		r.Get("/roles", h.listRoles)
		r.Get("/roles/{roleID}/members", h.listMembers)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermRolesEdit))
		r.Put("/roles/{roleID}/permissions", h.setRolePermissions)
		r.Post("/users/{userID}/roles", h.assignRole)
		r.Delete("/users/{userID}/roles/{roleID}", h.removeRole)
		r.Put("/users/{userID}/legacy-role", h.setLegacyRole)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermPermissionsView))
		r.Get("/permissions", h.listPermissions)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.guard.RequireAny(shared.PermPermissionsReseed))
		r.Post("/permissions/reseed", h.reseed)
	})
}

type rolePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"dive,required,max=128"`
}

type assignRoleRequest struct {
	RoleID int64 `json:"role_id" validate:"required,gt=0"`
}

type legacyRoleRequest struct {
	RoleID *int64 `json:"role_id" validate:"omitempty,gt=0"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.ListRoles(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

func (h *Handler) listMembers(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	members, err := h.service.RoleMembers(r.Context(), roleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if members == nil {
		members = []int64{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": roleID, "user_ids": members})
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := h.service.ListPermissions(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

func (h *Handler) setRolePermissions(w http.ResponseWriter, r *http.Request) {
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	var req rolePermissionsRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetRolePermissions(r.Context(), actorID(r), roleID, req.Permissions); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req assignRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.AssignRole(r.Context(), actorID(r), userID, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	roleID, ok := pathID(w, r, "roleID")
	if !ok {
		return
	}
	if err := h.service.RemoveRole(r.Context(), actorID(r), userID, roleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setLegacyRole(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathID(w, r, "userID")
	if !ok {
		return
	}
	var req legacyRoleRequest
	if !h.decode(w, r, &req) {
		return
	}
	if err := h.service.SetLegacyRole(r.Context(), actorID(r), userID, req.RoleID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) reseed(w http.ResponseWriter, r *http.Request) {
	if h.enqueuer != nil {
		taskID, err := h.enqueuer.EnqueuePermissionsReseed(r.Context())
		if err != nil {
			h.fail(w, r, err)
			return
		}
		httpx.JSON(w, http.StatusAccepted, map[string]any{"task_id": taskID})
		return
	}
	inserted, err := h.service.SeedCatalog(r.Context())
	if err != nil {
		h.fail(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"inserted": inserted})
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, target any) bool {
	if err := httpx.DecodeJSON(r, target); err != nil {
		httpx.Failure(w, http.StatusBadRequest, "malformed request body", httpx.CodeValidation)
		return false
	}
	if err := h.validator.Struct(target); err != nil {
		httpx.Failure(w, http.StatusBadRequest, err.Error(), httpx.CodeValidation)
		return false
	}
	return true
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("rbac request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	httpx.RespondError(w, err)
}

func pathID(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httpx.Failure(w, http.StatusBadRequest, fmt.Sprintf("invalid %s", name), httpx.CodeValidation)
		return 0, false
	}
	return id, true
}

func actorID(r *http.Request) int64 {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return 0
	}
	return cast.ToInt64(sess.User())
}
