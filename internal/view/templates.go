package view

import (
	"bytes"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/bazaar-market/bazaar-admin/internal/authz"
	"github.com/bazaar-market/bazaar-admin/internal/shared"
	"github.com/bazaar-market/bazaar-admin/web"
)

// Engine renders HTML templates.
type Engine struct {
	templates *template.Template
}

// TemplateData contains values shared across templates.
type TemplateData struct {
	Title       string
	CSRFToken   string
	Flash       *shared.FlashMessage
	CurrentPath string
	Principal   *authz.Principal
	Data        any
}

// NewEngine parses templates at build-time.
func NewEngine() (*Engine, error) {
	funcMap := template.FuncMap{
		"formatDate": func(t time.Time) string {
			if t.IsZero() {
				return ""
			}
			return t.Format("02 Jan 2006 15:04")
		},
	}
	tpl, err := template.New("root").Funcs(funcMap).ParseFS(web.Templates, "templates/layouts/*.html", "templates/partials/*.html", "templates/pages/*.html")
	if err != nil {
		return nil, err
	}
	return &Engine{templates: tpl}, nil
}

// Render executes a named template with TemplateData.
func (e *Engine) Render(w http.ResponseWriter, name string, data TemplateData) error {
	return e.RenderStatus(w, http.StatusOK, name, data)
}

// RenderStatus executes a named template and writes it with status.
// The template is buffered so a failed execution never leaves a partial page.
func (e *Engine) RenderStatus(w http.ResponseWriter, status int, name string, data TemplateData) error {
	if e == nil {
		return fmt.Errorf("template engine not initialised")
	}
	var buf bytes.Buffer
	if err := e.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}

// ForbiddenPage renders pages/forbidden.html for the authz guard.
type ForbiddenPage struct {
	Engine    *Engine
	CSRF      *shared.CSRFManager
	Principal func(r *http.Request) *authz.Principal
	Logger    *slog.Logger
}

// RenderForbidden implements authz.ForbiddenRenderer.
func (p ForbiddenPage) RenderForbidden(w http.ResponseWriter, r *http.Request, expr authz.Expression) error {
	sess := shared.SessionFromContext(r.Context())
	data := TemplateData{
		Title:       "Access denied",
		CurrentPath: r.URL.Path,
		Data:        map[string]any{"Requires": expr.String()},
	}
	if sess != nil && p.CSRF != nil {
		data.CSRFToken, _ = p.CSRF.EnsureToken(r.Context(), sess)
	}
	if p.Principal != nil {
		data.Principal = p.Principal(r)
	}
	return p.Engine.RenderStatus(w, http.StatusForbidden, "pages/forbidden.html", data)
}

var _ authz.ForbiddenRenderer = ForbiddenPage{}
