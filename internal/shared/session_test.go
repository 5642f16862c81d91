package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSessionManager(t *testing.T) (*SessionManager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewSessionManager(client, "bazaar_session", "secret", time.Hour, false), mr
}

func TestSessionRoundTrip(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NotEmpty(t, sess.ID())
	sess.SetUser("7")
	sess.Set("auth.return_to", "/admin/products")

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	assert.True(t, mr.Exists("session:"+sess.ID()))

	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(cookies[0])

	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, sess.ID(), loaded.ID())
	assert.Equal(t, "7", loaded.User())
	assert.Equal(t, "/admin/products", loaded.Get("auth.return_to"))
}

func TestSessionDestroyDeletesKey(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil), sess))
	require.True(t, mr.Exists("session:"+sess.ID()))

	sm.Destroy(sess)
	rr := httptest.NewRecorder()
	require.NoError(t, sm.Commit(ctx, rr, httptest.NewRequest(http.MethodGet, "/", nil), sess))
	assert.False(t, mr.Exists("session:"+sess.ID()))
	require.Len(t, rr.Result().Cookies(), 1)
	assert.Equal(t, -1, rr.Result().Cookies()[0].MaxAge)
}

func TestSessionFlashConsumedOnce(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	sess, err := sm.Load(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)

	sess.AddFlash(FlashMessage{Kind: "success", Message: "Signed in"})
	msg := sess.PopFlash()
	require.NotNil(t, msg)
	assert.Equal(t, "Signed in", msg.Message)
	assert.Nil(t, sess.PopFlash())
}

func TestCSRFTokenBoundToSession(t *testing.T) {
	sm, _ := newTestSessionManager(t)
	csrf := NewCSRFManager("csrf-secret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)

	again, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.Equal(t, token, again)

	assert.NoError(t, csrf.VerifyToken(ctx, sess, token))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, "forged"), ErrCSRFTokenMismatch)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, nil, token), ErrCSRFTokenMissing)
}

func TestSessionRenewMovesRecord(t *testing.T) {
	sm, mr := newTestSessionManager(t)
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	sess.Set("csrf_token", "abc")
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))
	oldID := sess.ID()

	sm.Renew(sess)
	sess.SetUser("7")
	require.NotEqual(t, oldID, sess.ID())
	require.NoError(t, sm.Commit(ctx, httptest.NewRecorder(), nil, sess))

	assert.False(t, mr.Exists("session:"+oldID))
	assert.True(t, mr.Exists("session:"+sess.ID()))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: sess.ID()})
	loaded, err := sm.Load(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "7", loaded.User())
	assert.Equal(t, "abc", loaded.Get("csrf_token"))
}

func TestSessionUnknownCookieGetsFreshID(t *testing.T) {
	sm, _ := newTestSessionManager(t)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: sm.CookieName(), Value: "chosen-by-client"})
	sess, err := sm.Load(context.Background(), req)
	require.NoError(t, err)
	assert.NotEqual(t, "chosen-by-client", sess.ID())
	assert.NotEmpty(t, sess.ID())
}
