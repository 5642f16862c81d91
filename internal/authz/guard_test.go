package authz

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
)

type sessionKey struct{}

func withSession(r *http.Request, sess Session) *http.Request {
	return r.WithContext(context.WithValue(r.Context(), sessionKey{}, sess))
}

func sessionFromRequest(r *http.Request) Session {
	sess, _ := r.Context().Value(sessionKey{}).(Session)
	return sess
}

type stubRenderer struct {
	calls int
}

func (s *stubRenderer) RenderForbidden(w http.ResponseWriter, _ *http.Request, expr Expression) error {
	s.calls++
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusForbidden)
	_, err := w.Write([]byte("<p>forbidden: " + expr.String() + "</p>"))
	return err
}

func newTestGuard(t *testing.T, store *fixtureStore) (*Guard, *stubRenderer) {
	t.Helper()
	renderer := &stubRenderer{}
	a := newTestAuthorizer(t, store, nil)
	return NewGuard(a, sessionFromRequest, GuardConfig{LoginPath: "/auth/login", Renderer: renderer}), renderer
}

func okHandler(called *bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*called = true
		w.WriteHeader(http.StatusOK)
	})
}

func decodeFailure(t *testing.T, rr *httptest.ResponseRecorder) httpx.FailureBody {
	t.Helper()
	var body httpx.FailureBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestGuardPass(t *testing.T) {
	guard, _ := newTestGuard(t, editorStore())
	var called bool
	h := guard.RequireAny("products:edit")(okHandler(&called))

	req := withSession(httptest.NewRequest(http.MethodGet, "/admin/products", nil), newFixtureSession("s", "7"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestGuardUnauthenticatedAPI(t *testing.T) {
	guard, _ := newTestGuard(t, editorStore())
	var called bool
	h := guard.Require(Key("products:view"))(okHandler(&called))

	req := withSession(httptest.NewRequest(http.MethodGet, "/api/products", nil), newFixtureSession("s", ""))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
	body := decodeFailure(t, rr)
	assert.False(t, body.Success)
	assert.Equal(t, httpx.CodeUnauthenticated, body.Code)
	assert.NotEmpty(t, body.Message)
}

func TestGuardUnauthenticatedBrowserRedirects(t *testing.T) {
	guard, _ := newTestGuard(t, editorStore())
	var called bool
	h := guard.Require(Key("products:view"))(okHandler(&called))

	sess := newFixtureSession("s", "")
	req := withSession(httptest.NewRequest(http.MethodGet, "/admin/products?page=2", nil), sess)
	req.Header.Set("Accept", "text/html,application/xhtml+xml")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/auth/login?next=%2Fadmin%2Fproducts%3Fpage%3D2", rr.Header().Get("Location"))
	assert.Equal(t, "/admin/products?page=2", sess.Get(ReturnToSessionKey))
}

func TestGuardWithoutSessionIsUnauthenticated(t *testing.T) {
	guard, _ := newTestGuard(t, editorStore())
	var called bool
	h := guard.Require(Key("products:view"))(okHandler(&called))

	req := httptest.NewRequest(http.MethodGet, "/admin/products", nil)
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestGuardRequireSignedIn(t *testing.T) {
	store := editorStore()
	guard, _ := newTestGuard(t, store)
	var called bool
	h := guard.RequireSignedIn()(okHandler(&called))

	anon := newFixtureSession("s", "")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, withSession(httptest.NewRequest(http.MethodGet, "/", nil), anon))
	assert.False(t, called)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/auth/login?next=%2F", rr.Header().Get("Location"))
	assert.Equal(t, "/", anon.Get(ReturnToSessionKey))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, withSession(httptest.NewRequest(http.MethodGet, "/", nil), newFixtureSession("s2", "7")))
	assert.True(t, called)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Zero(t, store.queryCount(), "signing in alone never runs discovery")
}

func TestGuardForbiddenAPI(t *testing.T) {
	guard, renderer := newTestGuard(t, editorStore())
	var called bool
	h := guard.Require(Key("payments:refund"))(okHandler(&called))

	req := withSession(httptest.NewRequest(http.MethodPost, "/admin/payments/9/refund", nil), newFixtureSession("s", "7"))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, httpx.CodeForbidden, decodeFailure(t, rr).Code)
	assert.Zero(t, renderer.calls)
}

func TestGuardForbiddenBrowserRendersNotice(t *testing.T) {
	guard, renderer := newTestGuard(t, editorStore())
	var called bool
	h := guard.Require(Key("payments:refund"))(okHandler(&called))

	req := withSession(httptest.NewRequest(http.MethodGet, "/admin/payments", nil), newFixtureSession("s", "7"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.False(t, called)
	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Empty(t, rr.Header().Get("Location"), "forbidden never redirects")
	assert.Equal(t, 1, renderer.calls)
	assert.Contains(t, rr.Body.String(), "payments:refund")
}

func TestGuardResponseModeOverride(t *testing.T) {
	guard, renderer := newTestGuard(t, editorStore())
	var called bool
	h := guard.Require(Key("payments:refund"), WithResponse(ResponseJSON), WithMessage("refunds are restricted"))(okHandler(&called))

	req := withSession(httptest.NewRequest(http.MethodGet, "/admin/payments", nil), newFixtureSession("s", "7"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "refunds are restricted", decodeFailure(t, rr).Message)
	assert.Zero(t, renderer.calls)

	h = guard.Require(Key("products:view"), WithResponse(ResponseHTML))(okHandler(&called))
	req = withSession(httptest.NewRequest(http.MethodGet, "/api/products", nil), newFixtureSession("s2", ""))
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusSeeOther, rr.Code)
}

func TestGuardIsIdempotentWithinRequest(t *testing.T) {
	store := editorStore()
	guard, _ := newTestGuard(t, store)
	var called bool
	h := guard.RequireAny("products:view")(guard.RequireAll("products:view", "products:edit")(okHandler(&called)))

	req := withSession(httptest.NewRequest(http.MethodGet, "/admin/products", nil), newFixtureSession("s", "7"))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	afterFirst := store.queryCount()

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	assert.True(t, called)
	assert.Equal(t, afterFirst, store.queryCount())
}

func TestGuardDecide(t *testing.T) {
	guard, _ := newTestGuard(t, editorStore())

	req := withSession(httptest.NewRequest(http.MethodGet, "/", nil), newFixtureSession("s", "1"))
	decision, principal := guard.Decide(req, Key("vendors:delete"))
	assert.Equal(t, DecisionPass, decision)
	require.NotNil(t, principal)
	assert.Equal(t, int64(1), principal.ID)

	req = withSession(httptest.NewRequest(http.MethodGet, "/", nil), newFixtureSession("s2", ""))
	decision, _ = guard.Decide(req, Expression{})
	assert.Equal(t, DecisionPass, decision)
}
