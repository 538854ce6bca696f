package observability

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/extbridge/internal/auth"
	"github.com/danmuck/extbridge/internal/testutil/testlog"
)

func TestRegisterMetricsAndRecordersAreSafe(t *testing.T) {
	testlog.Start(t)
	RegisterMetrics()
	RegisterMetrics()

	RecordHTTPRequest("host", "GET", "/health", 200, 12*time.Millisecond)
	RecordFrameReceived("host", "ping")
	RecordFrameSent("host", "ping")
	RecordParseError("host")
	RecordOrphanedReply("host")
	RecordHandlerError("runner", "getAccounts")
	AddPendingRequests("host", 1)
	AddPendingRequests("host", -1)
	AddActiveSessions("runner", 1)
	AddActiveSessions("runner", -1)
	RecordRequest("host", "ping", "ok", 3*time.Millisecond)
}

func TestAdminServerRoutes(t *testing.T) {
	testlog.Start(t)
	srv := NewAdminServer("host.test", []string{" http://localhost:3000 ", ""}, func() []SessionStatus {
		return []SessionStatus{{ID: "s-1", Remote: "pipe", Pending: 2}}
	})
	RecordFrameReceived("host", "admin-test")

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status got=%d want=%d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), `"node":"host.test"`) {
		t.Fatalf("health body got=%s", rec.Body.String())
	}
	if rec.Header().Get(RequestIDHeader) == "" {
		t.Fatalf("request id header not set")
	}

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "trace-1")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if got := rec.Header().Get(RequestIDHeader); got != "trace-1" {
		t.Fatalf("request id got=%q want=trace-1", got)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions status got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body struct {
		Sessions []SessionStatus `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if len(body.Sessions) != 1 || body.Sessions[0].ID != "s-1" || body.Sessions[0].Pending != 2 {
		t.Fatalf("sessions got=%+v", body.Sessions)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics status got=%d want=%d", rec.Code, http.StatusOK)
	}
	if !strings.Contains(rec.Body.String(), "extbridge_transport_frames_received_total") {
		t.Fatalf("metrics output missing frames counter")
	}
}

func TestAdminServerSessionsRequireToken(t *testing.T) {
	testlog.Start(t)
	srv := NewAdminServer("host.test", nil, nil).RequireToken(auth.StaticToken{Token: "s3cret"})

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("no token status got=%d want=%d", rec.Code, http.StatusUnauthorized)
	}

	req := httptest.NewRequest(http.MethodGet, "/sessions", nil)
	req.Header.Set("Authorization", "Bearer s3cret")
	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("token status got=%d want=%d", rec.Code, http.StatusOK)
	}
	var body struct {
		Node     string          `json:"node"`
		Sessions []SessionStatus `json:"sessions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode sessions: %v", err)
	}
	if body.Node != "host.test" || body.Sessions == nil || len(body.Sessions) != 0 {
		t.Fatalf("sessions body got=%s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("health status got=%d want=%d", rec.Code, http.StatusOK)
	}
}
