package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/dkeye/circles/internal/adapters/auth"
	"github.com/dkeye/circles/internal/app"
	"github.com/dkeye/circles/internal/app/membership"
	"github.com/dkeye/circles/internal/app/notify"
	"github.com/dkeye/circles/internal/app/orch"
	"github.com/dkeye/circles/internal/config"
	"github.com/dkeye/circles/internal/domain"
	"github.com/dkeye/circles/internal/observability"
	"github.com/dkeye/circles/internal/storage/bolt"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testAPI struct {
	t        *testing.T
	engine   *gin.Engine
	resolver *auth.JWTResolver
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store, err := bolt.NewStorage(filepath.Join(t.TempDir(), "api.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	promReg := prometheus.NewRegistry()
	metrics := observability.NewMetrics(promReg)
	reg := app.NewRegistry()
	router := app.NewRouter(reg, nil, metrics)
	o := &orch.Orchestrator{Registry: reg, Router: router, Members: store, Ledger: store, Metrics: metrics}
	bridge := notify.NewBridge(ctx, store, store, router, metrics, time.Minute)
	resolver := auth.NewJWTResolver("test-secret", "circles", time.Hour)

	cfg := &config.Config{
		Server: config.ServerConfig{Mode: "test"},
		Auth:   config.AuthConfig{Secret: "test-secret", TokenExpiry: time.Hour},
		Chat:   config.ChatConfig{HistoryLimit: 50},
	}
	engine := SetupRouter(ctx, cfg, Deps{
		Orch:          o,
		Membership:    membership.NewService(store, bridge, o),
		Circles:       store,
		Ledger:        store,
		Notifications: store,
		Auth:          resolver,
		Metrics:       metrics,
		Gatherer:      promReg,
	})
	return &testAPI{t: t, engine: engine, resolver: resolver}
}

func (a *testAPI) do(method, path string, uid domain.UserID, body any) *httptest.ResponseRecorder {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(a.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if uid != "" {
		tok, err := a.resolver.Issue(domain.User{ID: uid, Username: string(uid)})
		require.NoError(a.t, err)
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	a.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v))
	return v
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodGet, "/healthz", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestAPIRequiresAuth(t *testing.T) {
	a := newTestAPI(t)
	for _, path := range []string{"/api/circles/c1", "/api/notifications", "/api/rooms"} {
		w := a.do(http.MethodGet, path, "", nil)
		assert.Equal(t, http.StatusUnauthorized, w.Code, path)
	}
}

func TestCircleLifecycle(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/circles", "alice", map[string]any{"name": "", "is_public": true})
	require.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodPost, "/api/circles", "alice", map[string]any{"name": "Gophers", "is_public": true})
	require.Equal(t, http.StatusCreated, w.Code)
	circle := decode[domain.Circle](t, w)
	assert.Equal(t, "Gophers", circle.Name)
	assert.Equal(t, domain.UserID("alice"), circle.FounderID)
	base := "/api/circles/" + string(circle.ID)

	w = a.do(http.MethodGet, base, "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)

	w = a.do(http.MethodGet, "/api/circles/missing", "bob", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = a.do(http.MethodGet, base+"/messages", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodPost, base+"/members", "bob", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(http.MethodPost, base+"/members", "bob", nil)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = a.do(http.MethodGet, base+"/messages?limit=10", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]domain.ChatMessage](t, w))

	w = a.do(http.MethodGet, base+"/messages?before=yesterday", "bob", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = a.do(http.MethodGet, base+"/online", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))

	w = a.do(http.MethodDelete, base+"/members/alice", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodDelete, base+"/members/bob", "bob", nil)
	require.Equal(t, http.StatusNoContent, w.Code)
	w = a.do(http.MethodDelete, base+"/members/bob", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = a.do(http.MethodGet, "/api/notifications", "bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	feed := decode[[]domain.Notification](t, w)
	require.Len(t, feed, 2)
	assert.Equal(t, "You left Gophers", feed[0].Message)
	assert.Equal(t, "You joined Gophers", feed[1].Message)

	w = a.do(http.MethodGet, "/api/notifications", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	feed = decode[[]domain.Notification](t, w)
	require.Len(t, feed, 1)
	assert.Equal(t, "You founded Gophers", feed[0].Message)
}

func TestPrivateCircleJoinForbidden(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodPost, "/api/circles", "alice", map[string]any{"name": "Inner", "is_public": false})
	require.Equal(t, http.StatusCreated, w.Code)
	circle := decode[domain.Circle](t, w)

	w = a.do(http.MethodPost, "/api/circles/"+string(circle.ID)+"/members", "bob", nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRooms(t *testing.T) {
	a := newTestAPI(t)
	w := a.do(http.MethodGet, "/api/rooms", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, decode[[]map[string]any](t, w))
}

func TestSessionCookie(t *testing.T) {
	a := newTestAPI(t)

	w := a.do(http.MethodPost, "/api/session", "", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)

	w = a.do(http.MethodPost, "/api/session", "alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, domain.UserID("alice"), decode[domain.User](t, w).ID)
	cookies := w.Result().Cookies()
	require.NotEmpty(t, cookies)
	for _, c := range cookies {
		assert.Equal(t, http.SameSiteStrictMode, c.SameSite)
		assert.True(t, c.HttpOnly)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/notifications", nil)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestStatusFor(t *testing.T) {
	cases := map[error]int{
		domain.ErrCircleNotFound:  http.StatusNotFound,
		domain.ErrNotMember:       http.StatusForbidden,
		domain.ErrForbidden:       http.StatusForbidden,
		domain.ErrAlreadyMember:   http.StatusConflict,
		domain.ErrCircleNameEmpty: http.StatusBadRequest,
		context.Canceled:          http.StatusInternalServerError,
	}
	for err, want := range cases {
		assert.Equal(t, want, statusFor(err), err.Error())
	}
}
