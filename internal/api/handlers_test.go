// SPDX-License-Identifier: MIT

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/callscribe/callscribe/internal/health"
	"github.com/callscribe/callscribe/internal/journal"
	"github.com/callscribe/callscribe/internal/session"
)

type apiFixture struct {
	server   *Server
	registry *session.Registry
	store    *journal.MemoryStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	registry := session.NewRegistry(5 * time.Minute)
	store := journal.NewMemoryStore()
	mgr := health.NewManager("test")
	srv := NewServer(Config{ListenAddr: ":0", RateLimitRPM: 0, MetricsEnabled: false}, registry, store, nil, mgr)
	return &apiFixture{server: srv, registry: registry, store: store}
}

func (f *apiFixture) get(t *testing.T, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	f.server.Router().ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestHandleSessionsEmpty(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	body := decodeBody(t, rec)
	require.Equal(t, float64(0), body["count"])
}

func TestHandleSessionsListsLiveSessions(t *testing.T) {
	f := newAPIFixture(t)
	now := time.Now()
	f.registry.Upsert("call-1", session.RoleInbound, 0, "/spool/call-1-in.wav", now, 100)
	f.registry.Upsert("call-2", session.RoleOutbound, 0, "/spool/call-2-out.wav", now, 200)

	rec := f.get(t, "/api/sessions")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, float64(2), body["count"])
	sessions := body["sessions"].([]any)
	require.Len(t, sessions, 2)
}

func TestHandleSessionLive(t *testing.T) {
	f := newAPIFixture(t)
	f.registry.Upsert("call-1", session.RoleInbound, 0, "/spool/call-1-in.wav", time.Now(), 100)

	rec := f.get(t, "/api/sessions/call-1")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, string(session.StateOpen), body["state"])
}

func TestHandleSessionFromJournal(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.PutFinalized(context.Background(), session.FinalizedSession{
		Key:           "call-done",
		CorrelationID: "corr-1",
		Complete:      true,
		FinalizedAt:   time.Now(),
	}))

	rec := f.get(t, "/api/sessions/call-done")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, string(session.StateClosed), body["state"])
	sess := body["session"].(map[string]any)
	require.Equal(t, "corr-1", sess["correlationId"])
}

func TestHandleSessionNotFound(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/sessions/no-such-key")
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "session not found", body["error"])
}

func TestHandleArchiveDisabled(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/archive")
	require.Equal(t, http.StatusNotFound, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, "archiving disabled", body["error"])
}

func TestHandleArchiveLimitValidation(t *testing.T) {
	f := newAPIFixture(t)

	for _, limit := range []string{"0", "-1", "1001", "abc"} {
		rec := f.get(t, "/api/archive?limit="+limit)
		require.Equal(t, http.StatusBadRequest, rec.Code, "limit=%s", limit)
	}
}

func TestHandleFailures(t *testing.T) {
	f := newAPIFixture(t)
	require.NoError(t, f.store.PutFailure(context.Background(), journal.FailureMarker{
		Session:  session.FinalizedSession{Key: "call-broken"},
		Error:    "collaborator down",
		Attempts: 6,
		MarkedAt: time.Now(),
	}))

	rec := f.get(t, "/api/failures")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	require.Equal(t, float64(1), body["count"])
	failures := body["failures"].([]any)
	marker := failures[0].(map[string]any)
	require.Equal(t, "collaborator down", marker["error"])
	require.Equal(t, float64(6), marker["attempts"])
}

func TestHealthAndReadyEndpoints(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	require.Equal(t, "healthy", body["status"])

	rec = f.get(t, "/readyz")
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRequestIDHeaderIsSet(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.get(t, "/api/sessions")
	require.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestRateLimitExceeded(t *testing.T) {
	registry := session.NewRegistry(5 * time.Minute)
	store := journal.NewMemoryStore()
	mgr := health.NewManager("test")
	srv := NewServer(Config{ListenAddr: ":0", RateLimitRPM: 2, MetricsEnabled: false}, registry, store, nil, mgr)
	router := srv.Router()

	var last *httptest.ResponseRecorder
	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodGet, "/api/sessions", nil)
		req.RemoteAddr = "203.0.113.10:1234"
		last = httptest.NewRecorder()
		router.ServeHTTP(last, req)
	}
	require.Equal(t, http.StatusTooManyRequests, last.Code)
	require.NotEmpty(t, last.Header().Get("Retry-After"))
}

func TestRunShutsDownOnContextCancel(t *testing.T) {
	f := newAPIFixture(t)
	f.server.cfg.ListenAddr = "127.0.0.1:0"

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- f.server.Run(ctx) }()

	time.Sleep(100 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not shut down")
	}
}
