package rbac

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bazaar-market/bazaar-admin/internal/platform/httpx"
)

// allowGuard records the permissions each route group asks for and lets every request through.
type allowGuard struct {
	required []string
}

func (g *allowGuard) RequireAny(perms ...string) func(http.Handler) http.Handler {
	g.required = append(g.required, perms...)
	return func(next http.Handler) http.Handler { return next }
}

type stubEnqueuer struct {
	calls int
	err   error
}

func (e *stubEnqueuer) EnqueuePermissionsReseed(context.Context) (string, error) {
	e.calls++
	return "task-1", e.err
}

func newTestRouter(t *testing.T, enq Enqueuer) (http.Handler, *stubRepo, *recordingInvalidator, *allowGuard) {
	t.Helper()
	svc, repo, inv, _ := newTestService()
	guard := &allowGuard{}
	h := NewHandler(slog.New(slog.NewTextHandler(io.Discard, nil)), svc, guard, enq)
	r := chi.NewRouter()
	h.MountRoutes(r)
	return r, repo, inv, guard
}

func do(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestRoutesRequireCatalogPermissions(t *testing.T) {
	_, _, _, guard := newTestRouter(t, nil)
	assert.ElementsMatch(t, []string{"roles:view", "roles:edit", "permissions:view", "permissions:reseed"}, guard.required)
}

func TestListRolesJSON(t *testing.T) {
	h, _, _, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodGet, "/roles", "")
	require.Equal(t, http.StatusOK, rr.Code)

	var body struct {
		Roles []Role `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.Len(t, body.Roles, 2)
	assert.Equal(t, "superadmin", body.Roles[0].Name)
}

func TestListMembersEmptyArray(t *testing.T) {
	h, _, _, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodGet, "/roles/1/members", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"role_id":1,"user_ids":[]}`, rr.Body.String())
}

func TestAssignRoleEndpoint(t *testing.T) {
	h, repo, inv, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPost, "/users/42/roles", `{"role_id":2}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.True(t, repo.assigned[[2]int64{42, 2}])
	assert.Equal(t, []int64{42}, inv.principals)
}

func TestAssignRoleValidation(t *testing.T) {
	h, _, _, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPost, "/users/42/roles", `{"role_id":0}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, http.MethodPost, "/users/42/roles", `{`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	rr = do(h, http.MethodPost, "/users/abc/roles", `{"role_id":2}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestAssignUnknownRoleReturns404(t *testing.T) {
	h, _, _, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPost, "/users/42/roles", `{"role_id":99}`)
	require.Equal(t, http.StatusNotFound, rr.Code)

	var body httpx.FailureBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	assert.False(t, body.Success)
	assert.Equal(t, httpx.CodeNotFound, body.Code)
}

func TestSetRolePermissionsEndpoint(t *testing.T) {
	h, repo, inv, _ := newTestRouter(t, nil)

	rr := do(h, http.MethodPut, "/roles/2/permissions", `{"permissions":["products:view","products:edit"]}`)
	require.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, []string{"products:edit", "products:view"}, repo.rolePerms[2])
	assert.Equal(t, 1, inv.everyone)
}

func TestRepositoryFailureIs500(t *testing.T) {
	h, repo, _, _ := newTestRouter(t, nil)
	repo.err = errors.New("connection refused")

	rr := do(h, http.MethodGet, "/permissions", "")
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.NotContains(t, rr.Body.String(), "connection refused")
}

func TestReseedEnqueues(t *testing.T) {
	enq := &stubEnqueuer{}
	h, repo, _, _ := newTestRouter(t, enq)

	rr := do(h, http.MethodPost, "/permissions/reseed", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.JSONEq(t, `{"task_id":"task-1"}`, rr.Body.String())
	assert.Equal(t, 1, enq.calls)
	assert.Nil(t, repo.seeded)
}

func TestReseedInlineWithoutQueue(t *testing.T) {
	h, repo, _, _ := newTestRouter(t, nil)
	repo.seedResult = 16

	rr := do(h, http.MethodPost, "/permissions/reseed", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"inserted":16}`, rr.Body.String())
}
