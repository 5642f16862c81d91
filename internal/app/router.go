package app

import (
	"io/fs"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/bazaar-market/bazaar-admin/internal/auth"
	"github.com/bazaar-market/bazaar-admin/internal/authz"
	"github.com/bazaar-market/bazaar-admin/internal/observability"
	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
	"github.com/bazaar-market/bazaar-admin/internal/rbac"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
	"github.com/bazaar-market/bazaar-admin/internal/view"
	"github.com/bazaar-market/bazaar-admin/jobs"
	"github.com/bazaar-market/bazaar-admin/web"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	Templates      *view.Engine
	SessionManager *shared.SessionManager
	CSRFManager    *shared.CSRFManager
	Authorizer     *authz.Authorizer
	Guard          *authz.Guard
	AuthHandler    *auth.Handler
	AuthzHandler   *authz.Handler
	RBACHandler    *rbac.Handler
	JobHandler     *jobs.Handler
	Metrics        *observability.Metrics
}

// Section is a dashboard entry shown when the principal can access its resource.
type Section struct {
	Resource string
	Label    string
	Path     string
}

// DashboardSections lists the admin areas in display order.
func DashboardSections() []Section {
	return []Section{
		{Resource: "products", Label: "Products"},
		{Resource: "vendors", Label: "Vendors"},
		{Resource: "carts", Label: "Carts"},
		{Resource: "delivery_companies", Label: "Delivery companies"},
		{Resource: "payments", Label: "Payments"},
		{Resource: "roles", Label: "Roles", Path: "/api/admin/rbac/roles"},
		{Resource: "permissions", Label: "Permission catalog", Path: "/api/admin/rbac/permissions"},
	}
}

// VisibleSections filters sections down to the resources snap grants.
func VisibleSections(snap *authz.Snapshot) []Section {
	var out []Section
	for _, s := range DashboardSections() {
		if snap.CanAccessResource(s.Resource) {
			out = append(out, s)
		}
	}
	return out
}

// SessionFunc adapts the request-scoped shared.Session to authz.Session.
func SessionFunc(r *http.Request) authz.Session {
	sess := shared.SessionFromContext(r.Context())
	if sess == nil {
		return nil
	}
	return sess
}

// NewRouter constructs the chi.Router with admin defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	for _, mw := range MiddlewareStack(MiddlewareConfig{
		Logger:         params.Logger,
		Config:         params.Config,
		SessionManager: params.SessionManager,
		CSRFManager:    params.CSRFManager,
		Metrics:        params.Metrics,
	}) {
		r.Use(mw)
	}

	r.Use(chimw.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.With(params.Guard.RequireSignedIn()).Get("/", homeHandler(params))

	r.Route("/auth", params.AuthHandler.MountRoutes)
	if params.AuthzHandler != nil {
		r.Route("/api/me/permissions", params.AuthzHandler.MountRoutes)
	}
	if params.RBACHandler != nil {
		r.Route("/api/admin/rbac", params.RBACHandler.MountRoutes)
	}
	if params.JobHandler != nil {
		r.Route("/jobs", params.JobHandler.MountRoutes)
	}
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	staticFS, err := fs.Sub(web.Static, "static")
	if err != nil {
		params.Logger.Error("create static sub filesystem", slog.Any("error", err))
	} else {
		fileServer := http.StripPrefix("/static/", http.FileServer(http.FS(staticFS)))
		r.Handle("/static/*", staticCacheHandler(fileServer))
	}

	return r
}

// homeHandler renders the dashboard for a signed-in principal.
func homeHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := shared.SessionFromContext(r.Context())
		principal, snap, ok := params.Authorizer.CurrentPrincipalWithPermissions(r.Context(), SessionFunc(r))
		if !ok {
			// The principal vanished between the guard and here.
			http.Redirect(w, r, params.Config.AuthzLoginPath, http.StatusSeeOther)
			return
		}

		var (
			csrfToken string
			flash     *shared.FlashMessage
		)
		if sess != nil {
			csrfToken, _ = params.CSRFManager.EnsureToken(r.Context(), sess)
			flash = sess.PopFlash()
		}
		data := view.TemplateData{
			Title:       "Bazaar Admin",
			CSRFToken:   csrfToken,
			Flash:       flash,
			CurrentPath: r.URL.Path,
			Principal:   principal,
			Data: map[string]any{
				"AppEnv":   params.Config.AppEnv,
				"Snapshot": snap,
				"Sections": VisibleSections(snap),
			},
		}
		if err := params.Templates.Render(w, "pages/home.html", data); err != nil {
			params.Logger.Error("render home", slog.Any("error", err))
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		}
	}
}

// staticCacheHandler caches static assets in the browser for an hour.
func staticCacheHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "public, max-age=3600")
		next.ServeHTTP(w, r)
	})
}
