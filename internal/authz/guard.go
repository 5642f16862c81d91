package authz

import (
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"strings"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
)

// Decision is the terminal state of a guard check.
type Decision string

const (
	DecisionPass            Decision = "pass"
	DecisionUnauthenticated Decision = "unauthenticated"
	DecisionForbidden       Decision = "forbidden"
)

// ResponseMode selects the failure response shape.
type ResponseMode int

const (
	// ResponseAuto inspects the request to pick API or browser responses.
	ResponseAuto ResponseMode = iota
	ResponseJSON
	ResponseHTML
)

// ReturnToSessionKey stores the location to resume after login.
const ReturnToSessionKey = "auth.return_to"

// SessionFunc extracts the session bound to a request, or nil.
type SessionFunc func(r *http.Request) Session

// ForbiddenRenderer writes the browser-facing forbidden notice with a 403 status.
type ForbiddenRenderer interface {
	RenderForbidden(w http.ResponseWriter, r *http.Request, expr Expression) error
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	LoginPath string
	APIPrefix string
	Renderer  ForbiddenRenderer
	Logger    *slog.Logger
	Metrics   Recorder
}

// Guard enforces permission expressions at the request boundary.
type Guard struct {
	authz    *Authorizer
	sessions SessionFunc
	cfg      GuardConfig
	metrics  Recorder
}

// NewGuard constructs a Guard.
func NewGuard(a *Authorizer, sessions SessionFunc, cfg GuardConfig) *Guard {
	if cfg.LoginPath == "" {
		cfg.LoginPath = "/auth/login"
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/"
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = nopRecorder{}
	}
	return &Guard{authz: a, sessions: sessions, cfg: cfg, metrics: metrics}
}

type requireOptions struct {
	mode    ResponseMode
	message string
}

// RequireOption adjusts a single Require call.
type RequireOption func(*requireOptions)

// WithResponse forces the failure response shape.
func WithResponse(mode ResponseMode) RequireOption {
	return func(o *requireOptions) { o.mode = mode }
}

// WithMessage overrides the failure message.
func WithMessage(msg string) RequireOption {
	return func(o *requireOptions) { o.message = msg }
}

// Require returns middleware that halts the request unless expr holds.
func (g *Guard) Require(expr Expression, opts ...RequireOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if g.Check(w, r, expr, opts...) {
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireAny ensures the current user has at least one of perms.
func (g *Guard) RequireAny(perms ...string) func(http.Handler) http.Handler {
	return g.Require(Any(perms...))
}

// RequireAll ensures the current user has every one of perms.
func (g *Guard) RequireAll(perms ...string) func(http.Handler) http.Handler {
	return g.Require(All(perms...))
}

// RequireSignedIn halts anonymous requests the way a failed Require does, without
// evaluating any permission.
func (g *Guard) RequireSignedIn(opts ...RequireOption) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := g.authz.CurrentPrincipal(r.Context(), g.session(r)); !ok {
				g.metrics.GuardDecision(string(DecisionUnauthenticated))
				g.unauthenticated(w, r, newRequireOptions(opts))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func newRequireOptions(opts []RequireOption) requireOptions {
	o := requireOptions{mode: ResponseAuto}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Decide runs the guard state machine without writing a response.
func (g *Guard) Decide(r *http.Request, expr Expression) (Decision, *Principal) {
	sess := g.session(r)
	principal, snap, ok := g.authz.CurrentPrincipalWithPermissions(r.Context(), sess)
	if !ok {
		if expr.IsEmpty() {
			return DecisionPass, nil
		}
		return DecisionUnauthenticated, nil
	}
	if Evaluate(snap, expr) {
		return DecisionPass, principal
	}
	return DecisionForbidden, principal
}

// Check writes the failure response and returns false when expr does not hold.
func (g *Guard) Check(w http.ResponseWriter, r *http.Request, expr Expression, opts ...RequireOption) bool {
	o := newRequireOptions(opts)
	decision, principal := g.Decide(r, expr)
	g.metrics.GuardDecision(string(decision))
	switch decision {
	case DecisionPass:
		return true
	case DecisionUnauthenticated:
		g.unauthenticated(w, r, o)
	default:
		if g.cfg.Logger != nil {
			g.cfg.Logger.Info("authz forbidden",
				slog.Int64("principal_id", principal.ID),
				slog.String("requires", expr.String()),
				slog.String("path", r.URL.Path),
			)
		}
		g.forbidden(w, r, expr, o)
	}
	return false
}

func (g *Guard) unauthenticated(w http.ResponseWriter, r *http.Request, o requireOptions) {
	if g.wantsJSON(r, o.mode) {
		httpx.Failure(w, http.StatusUnauthorized, messageOr(o.message, "authentication required"), httpx.CodeUnauthenticated)
		return
	}
	target := r.URL.RequestURI()
	if sess := g.session(r); sess != nil {
		sess.Set(ReturnToSessionKey, target)
	}
	http.Redirect(w, r, g.cfg.LoginPath+"?next="+url.QueryEscape(target), http.StatusSeeOther)
}

func (g *Guard) forbidden(w http.ResponseWriter, r *http.Request, expr Expression, o requireOptions) {
	if g.wantsJSON(r, o.mode) {
		httpx.Failure(w, http.StatusForbidden, messageOr(o.message, "insufficient permissions"), httpx.CodeForbidden)
		return
	}
	if g.cfg.Renderer != nil {
		err := g.cfg.Renderer.RenderForbidden(w, r, expr)
		if err == nil {
			return
		}
		if g.cfg.Logger != nil {
			g.cfg.Logger.Error("render forbidden", slog.Any("error", err))
		}
	}
	http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
}

func (g *Guard) session(r *http.Request) Session {
	if g.sessions == nil {
		return nil
	}
	return g.sessions(r)
}

// wantsJSON reports whether the request is API-style rather than a browser navigation.
func (g *Guard) wantsJSON(r *http.Request, mode ResponseMode) bool {
	switch mode {
	case ResponseJSON:
		return true
	case ResponseHTML:
		return false
	}
	if strings.HasPrefix(r.URL.Path, g.cfg.APIPrefix) {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Requested-With"), "XMLHttpRequest") {
		return true
	}
	if isJSONMediaType(r.Header.Get("Content-Type")) {
		return true
	}
	accept := r.Header.Get("Accept")
	return strings.Contains(accept, "application/json") && !strings.Contains(accept, "text/html")
}

func isJSONMediaType(value string) bool {
	if value == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(value)
	if err != nil {
		return false
	}
	return mediaType == "application/json" || strings.HasSuffix(mediaType, "+json")
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
