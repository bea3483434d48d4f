package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/morezero/desktop-bridge/internal/config"
	"github.com/morezero/desktop-bridge/pkg/db"
	"github.com/morezero/desktop-bridge/pkg/host"
	"github.com/morezero/desktop-bridge/pkg/transport"
	"github.com/morezero/desktop-bridge/pkg/window"
)

const serverTestPrefix = "server:server_test"

// mockHost implements statusSource for handler tests.
type mockHost struct {
	health *host.HealthOutput
}

func (m *mockHost) Health(context.Context) *host.HealthOutput {
	if m.health != nil {
		return m.health
	}
	return &host.HealthOutput{Status: "unhealthy", Timestamp: time.Now().UTC().Format(time.RFC3339)}
}

// mockJournal implements journalReader and records the last query.
type mockJournal struct {
	rows      []db.Invocation
	summary   []db.CommandSummary
	err       error
	lastQuery db.ListInvocationsParams
	lastSince time.Time
}

func (m *mockJournal) ListRecentInvocations(_ context.Context, p db.ListInvocationsParams) ([]db.Invocation, error) {
	m.lastQuery = p
	return m.rows, m.err
}

func (m *mockJournal) Summarize(_ context.Context, since time.Time) ([]db.CommandSummary, error) {
	m.lastSince = since
	return m.summary, m.err
}

// testServer returns a Server with mocks and test config for HTTP handler tests.
func testServer(t *testing.T, h statusSource, j journalReader) *Server {
	t.Helper()
	s := &Server{
		cfg: &config.Config{
			COMMSURL:           "nats://127.0.0.1:4222",
			SubjectPrefix:      "bridge",
			HealthCheckTimeout: 5 * time.Second,
		},
		host: h,
	}
	if j != nil {
		s.journal = j
	}
	return s
}

func healthy() *mockHost {
	return &mockHost{health: &host.HealthOutput{
		Status:    "healthy",
		App:       "notes",
		Version:   "1.2.3",
		Windows:   []string{"main", "settings"},
		Attached:  []string{"main"},
		Listeners: 3,
		Modules:   []string{"App", "Event", "Window"},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}}
}

func serve(s *Server, method, target string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	s.routes().ServeHTTP(rec, httptest.NewRequest(method, target, nil))
	return rec
}

func TestHealthHandler(t *testing.T) {
	ok := true
	failed := false
	tests := []struct {
		name     string
		health   *host.HealthOutput
		wantCode int
	}{
		{"healthy", healthy().health, http.StatusOK},
		{"healthy with journal", &host.HealthOutput{Status: "healthy", Checks: host.HealthChecks{Journal: &ok}}, http.StatusOK},
		{"journal down", &host.HealthOutput{Status: "unhealthy", Checks: host.HealthChecks{Journal: &failed}}, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := serve(testServer(t, &mockHost{health: tt.health}, nil), http.MethodGet, "/health")
			if rec.Code != tt.wantCode {
				t.Errorf("%s - /health got status %d, want %d", serverTestPrefix, rec.Code, tt.wantCode)
			}
			var out host.HealthOutput
			if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
				t.Fatalf("%s - decode health: %v", serverTestPrefix, err)
			}
			if out.Status != tt.health.Status {
				t.Errorf("%s - Status = %q, want %q", serverTestPrefix, out.Status, tt.health.Status)
			}
		})
	}
}

func TestReadyHandler(t *testing.T) {
	rec := serve(testServer(t, healthy(), nil), http.MethodGet, "/ready")
	if rec.Code != http.StatusOK {
		t.Errorf("%s - ready got status %d, want 200", serverTestPrefix, rec.Code)
	}
	var out map[string]string
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode ready: %v", serverTestPrefix, err)
	}
	if out["status"] != "ready" {
		t.Errorf("%s - status = %q, want ready", serverTestPrefix, out["status"])
	}
}

func TestConnectionHandler(t *testing.T) {
	s := testServer(t, healthy(), nil)

	rec := serve(s, http.MethodGet, "/connection")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /connection got status %d", serverTestPrefix, rec.Code)
	}
	var out connectionInfo
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if out.NatsURL != "nats://127.0.0.1:4222" || out.InvokeSubject != "bridge.{label}.invoke" {
		t.Errorf("%s - connection = %+v", serverTestPrefix, out)
	}
	if out.WebSocket {
		t.Errorf("%s - webSocket should be false without a handler", serverTestPrefix)
	}
	if out.SessionHeader != transport.SessionHeader {
		t.Errorf("%s - sessionHeader = %q", serverTestPrefix, out.SessionHeader)
	}
	if len(out.WindowCommands) != len(window.ManageTypes()) || !containsString(out.WindowCommands, "setTitle") {
		t.Errorf("%s - windowCommands = %v", serverTestPrefix, out.WindowCommands)
	}

	rec = serve(s, http.MethodPost, "/connection")
	if rec.Code != http.StatusMethodNotAllowed || rec.Header().Get("Allow") != "GET" {
		t.Errorf("%s - POST /connection got %d", serverTestPrefix, rec.Code)
	}
}

func TestParseInvocationParams(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name    string
		query   string
		want    db.ListInvocationsParams
		wantErr bool
	}{
		{"empty", "", db.ListInvocationsParams{}, false},
		{"filters", "label=main&module=Window&failed=true&limit=10",
			db.ListInvocationsParams{Label: "main", Module: "Window", FailedOnly: true, Limit: 10}, false},
		{"since duration", "since=90m", db.ListInvocationsParams{Since: now.Add(-90 * time.Minute)}, false},
		{"since rfc3339", "since=2026-04-30T00:00:00Z", db.ListInvocationsParams{Since: time.Date(2026, 4, 30, 0, 0, 0, 0, time.UTC)}, false},
		{"bad failed", "failed=maybe", db.ListInvocationsParams{}, true},
		{"negative limit", "limit=-1", db.ListInvocationsParams{}, true},
		{"negative since", "since=-5m", db.ListInvocationsParams{}, true},
		{"bad since", "since=yesterday", db.ListInvocationsParams{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, _ := url.ParseQuery(tt.query)
			got, err := parseInvocationParams(q, now)
			if (err != nil) != tt.wantErr {
				t.Fatalf("%s - err = %v, wantErr %v", serverTestPrefix, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got.Label != tt.want.Label || got.Module != tt.want.Module || got.FailedOnly != tt.want.FailedOnly ||
				got.Limit != tt.want.Limit || !got.Since.Equal(tt.want.Since) {
				t.Errorf("%s - got %+v, want %+v", serverTestPrefix, got, tt.want)
			}
		})
	}
}

func TestInvocationsHandler(t *testing.T) {
	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	j := &mockJournal{rows: []db.Invocation{{Label: "main", Module: "App", Command: "getAppVersion", Ok: true, InvokedAt: at}}}
	s := testServer(t, healthy(), j)

	rec := serve(s, http.MethodGet, "/invocations?label=main&limit=5")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - /invocations got status %d: %s", serverTestPrefix, rec.Code, rec.Body.String())
	}
	var rows []db.Invocation
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil {
		t.Fatalf("%s - decode: %v", serverTestPrefix, err)
	}
	if len(rows) != 1 || rows[0].Command != "getAppVersion" {
		t.Errorf("%s - rows = %+v", serverTestPrefix, rows)
	}
	if j.lastQuery.Label != "main" || j.lastQuery.Limit != 5 {
		t.Errorf("%s - query = %+v", serverTestPrefix, j.lastQuery)
	}

	if rec := serve(s, http.MethodGet, "/invocations?limit=x"); rec.Code != http.StatusBadRequest {
		t.Errorf("%s - bad limit got %d, want 400", serverTestPrefix, rec.Code)
	}

	j.err = errors.New("connection refused")
	if rec := serve(s, http.MethodGet, "/invocations"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("%s - journal error got %d, want 503", serverTestPrefix, rec.Code)
	}
}

func TestInvocationsHandler_EmptyIsArray(t *testing.T) {
	rec := serve(testServer(t, healthy(), &mockJournal{}), http.MethodGet, "/invocations")
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Errorf("%s - body = %q, want []", serverTestPrefix, rec.Body.String())
	}
}

func TestJournalDisabled(t *testing.T) {
	s := testServer(t, healthy(), nil)
	for _, path := range []string{"/invocations", "/invocations/summary"} {
		if rec := serve(s, http.MethodGet, path); rec.Code != http.StatusNotFound {
			t.Errorf("%s - %s got %d, want 404", serverTestPrefix, path, rec.Code)
		}
	}
}

func TestSummaryHandler(t *testing.T) {
	j := &mockJournal{summary: []db.CommandSummary{{Module: "Window", Command: "createWebview", Calls: 4, Failures: 1}}}
	s := testServer(t, healthy(), j)

	before := time.Now()
	rec := serve(s, http.MethodGet, "/invocations/summary")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - summary got status %d", serverTestPrefix, rec.Code)
	}
	if d := before.Sub(j.lastSince); d < defaultSummaryWindow-time.Minute || d > defaultSummaryWindow+time.Minute {
		t.Errorf("%s - default since %v ago, want ~%v", serverTestPrefix, d, defaultSummaryWindow)
	}
	var rows []db.CommandSummary
	if err := json.NewDecoder(rec.Body).Decode(&rows); err != nil || len(rows) != 1 || rows[0].Calls != 4 {
		t.Errorf("%s - rows = %+v (%v)", serverTestPrefix, rows, err)
	}

	if rec := serve(s, http.MethodGet, "/invocations/summary?since=soon"); rec.Code != http.StatusBadRequest {
		t.Errorf("%s - bad since got %d, want 400", serverTestPrefix, rec.Code)
	}
}

func TestHandleHome(t *testing.T) {
	j := &mockJournal{rows: []db.Invocation{
		{Label: "settings", Module: "Fs", Command: "readTextFile", Ok: false, ErrorCode: "NOT_ALLOWLISTED", InvokedAt: time.Now()},
	}}
	rec := serve(testServer(t, healthy(), j), http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Fatalf("%s - home got status %d", serverTestPrefix, rec.Code)
	}
	if rec.Header().Get("Content-Type") != "text/html; charset=utf-8" {
		t.Errorf("%s - Content-Type = %q", serverTestPrefix, rec.Header().Get("Content-Type"))
	}
	body := rec.Body.String()
	for _, want := range []string{"notes 1.2.3", "healthy", "settings", "NOT_ALLOWLISTED", "readTextFile"} {
		if !strings.Contains(body, want) {
			t.Errorf("%s - home body missing %q", serverTestPrefix, want)
		}
	}
	if j.lastQuery.Limit != homeInvocations {
		t.Errorf("%s - home queried limit %d", serverTestPrefix, j.lastQuery.Limit)
	}
}

func TestHandleHome_JournalError(t *testing.T) {
	j := &mockJournal{err: context.DeadlineExceeded}
	rec := serve(testServer(t, healthy(), j), http.MethodGet, "/")
	if rec.Code != http.StatusOK {
		t.Errorf("%s - home (journal error) got status %d, want 200", serverTestPrefix, rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "context deadline exceeded") {
		t.Errorf("%s - body should show the journal error", serverTestPrefix)
	}
}

func TestHandleHome_OnlyRoot(t *testing.T) {
	rec := serve(testServer(t, healthy(), nil), http.MethodGet, "/other")
	if rec.Code != http.StatusNotFound {
		t.Errorf("%s - /other got status %d, want 404", serverTestPrefix, rec.Code)
	}
}

func TestWebSocketRoute(t *testing.T) {
	s := testServer(t, healthy(), nil)
	if rec := serve(s, http.MethodGet, "/ws"); rec.Code != http.StatusNotFound {
		t.Errorf("%s - /ws without handler got %d, want 404", serverTestPrefix, rec.Code)
	}

	called := false
	s.ws = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { called = true })
	serve(s, http.MethodGet, "/ws")
	if !called {
		t.Errorf("%s - /ws should reach the WebSocket handler", serverTestPrefix)
	}
}

func containsString(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
