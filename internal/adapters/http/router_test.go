package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dkeye/chatrelay/internal/adapters/store"
	"github.com/dkeye/chatrelay/internal/app"
	"github.com/dkeye/chatrelay/internal/app/orch"
	"github.com/dkeye/chatrelay/internal/config"
	"github.com/dkeye/chatrelay/internal/core/coretest"
	"github.com/dkeye/chatrelay/internal/domain"
	"github.com/dkeye/chatrelay/internal/metrics"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type harness struct {
	router *gin.Engine
	orch   *orch.Orchestrator
	calls  *store.Memory
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	gin.SetMode(gin.TestMode)
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<html>relay</html>"), 0o600))

	cfg := &config.Config{
		Mode:         "test",
		Secret:       "test-secret",
		StaticPath:   static,
		HistoryLimit: 50,
		ICEServers:   []config.ICEServer{{URLs: []string{"stun:stun.example.org:3478"}}},
	}
	m := metrics.New()
	o := orch.New(orch.Options{Policy: app.LenientPolicy{}, Metrics: m})
	t.Cleanup(o.Shutdown)
	mem := store.NewMemory()
	r := SetupRouter(context.Background(), cfg, o, Deps{Calls: mem, Metrics: m})
	return &harness{router: r, orch: o, calls: mem}
}

func (h *harness) do(method, path, body string, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	h.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &m))
	return m
}

func TestHealthAndIndex(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/healthz", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = h.do(http.MethodGet, "/", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "relay")
}

func TestOnlineSnapshot(t *testing.T) {
	h := newHarness(t)
	h.orch.Connect("c1", coretest.NewConn(), "bob", "")
	h.orch.Connect("c2", coretest.NewConn(), "alice", "")

	rec := h.do(http.MethodGet, "/api/online", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"users":["alice","bob"]}`, rec.Body.String())
}

func TestICEServers(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodGet, "/api/ice-servers", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "stun:stun.example.org:3478")
}

func TestCallHistory(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, id := range []string{"old", "mid", "new"} {
		require.NoError(t, h.calls.Save(ctx, domain.Call{
			ID: domain.CallID(id), Caller: "alice", Recipients: []domain.UserID{"bob"},
			Kind: domain.CallVideo, Status: domain.StatusEnded, StartedAt: base.Add(time.Duration(i) * time.Minute),
		}))
	}

	rec := h.do(http.MethodGet, "/api/calls", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodGet, "/api/calls?user=bob&limit=2", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Calls []domain.Call `json:"calls"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Calls, 2)
	assert.Equal(t, domain.CallID("new"), body.Calls[0].ID)
	assert.Equal(t, domain.CallID("mid"), body.Calls[1].ID)

	rec = h.do(http.MethodGet, "/api/calls?user=bob&limit=-1", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSettleCall(t *testing.T) {
	h := newHarness(t)
	alice, bob := coretest.NewConn(), coretest.NewConn()
	h.orch.Connect("c1", alice, "alice", "")
	h.orch.Connect("c2", bob, "bob", "")
	require.True(t, h.orch.Initiate("c1", app.InitiateRequest{Target: "bob"}))
	live := h.orch.LiveCalls()
	require.Len(t, live, 1)
	id := string(live[0].ID)

	rec := h.do(http.MethodGet, "/api/calls/live", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), id)

	rec = h.do(http.MethodPatch, "/api/calls/"+id, `{"status":"accepted"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPatch, "/api/calls/"+id, `{"status":"missed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, h.orch.LiveCalls())

	require.NoError(t, h.calls.Save(context.Background(), domain.Call{
		ID: domain.CallID(id), Caller: "alice", Recipients: []domain.UserID{"bob"}, Status: domain.StatusMissed,
	}))
	rec = h.do(http.MethodPatch, "/api/calls/"+id, `{"status":"ended"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPatch, "/api/calls/unknown", `{"status":"ended"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestSettleAcceptedCallAsMissedConflicts(t *testing.T) {
	h := newHarness(t)
	h.orch.Connect("c1", coretest.NewConn(), "alice", "")
	h.orch.Connect("c2", coretest.NewConn(), "bob", "")
	require.True(t, h.orch.Initiate("c1", app.InitiateRequest{Target: "bob"}))
	require.True(t, h.orch.Accept("c2", "alice", domain.DialectLegacy, nil))
	id := string(h.orch.LiveCalls()[0].ID)

	rec := h.do(http.MethodPatch, "/api/calls/"+id, `{"status":"missed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = h.do(http.MethodPatch, "/api/calls/"+id, `{"status":"ended"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSessionRoundTrip(t *testing.T) {
	h := newHarness(t)
	rec := h.do(http.MethodPost, "/api/session", `{"userId":"undefined"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = h.do(http.MethodPost, "/api/session", `{"userId":"alice","username":"Alice"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)

	rec = h.do(http.MethodGet, "/api/session", "", cookies...)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "alice", body["userId"])
	assert.Equal(t, "Alice", body["username"])
	assert.NotEmpty(t, body["clientToken"])
}

func TestMetricsEndpoint(t *testing.T) {
	h := newHarness(t)
	h.orch.Connect("c1", coretest.NewConn(), "alice", "")
	rec := h.do(http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "chatrelay_online_users 1")
}
