package health

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"schedbot/internal/eventbus"
	"schedbot/internal/monitor"
	logx "schedbot/pkg/logx"
)

type fixedStatus monitor.Status

func (f fixedStatus) Status() monitor.Status { return monitor.Status(f) }

func get(t *testing.T, s *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestAlive(t *testing.T) {
	t.Parallel()
	s := New(":0", nil, logx.Nop())
	rec := get(t, s, "/")
	if rec.Code != http.StatusOK || rec.Body.String() != "I am alive!" {
		t.Fatalf("GET / = %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(t, s, "/healthz"); rec.Code != http.StatusOK {
		t.Fatalf("healthz without monitor = %d", rec.Code)
	}
}

func TestHealthzReportsMonitor(t *testing.T) {
	t.Parallel()
	poll := time.Date(2025, 11, 17, 9, 0, 0, 0, time.UTC)
	s := New(":0", fixedStatus{Running: true, Warm: true, Groups: 42, LastPoll: poll, LastOutcome: "changed", LastChanged: 2}, logx.Nop())
	s.Record(eventbus.Event{Type: eventbus.TypeScheduleChanged, Time: poll})

	rec := get(t, s, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body struct {
		Status  string         `json:"status"`
		Monitor monitor.Status `json:"monitor"`
		Last    struct {
			Type string `json:"type"`
		} `json:"last_event"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Status != "ok" || body.Monitor.Groups != 42 || !body.Monitor.Warm || body.Monitor.LastChanged != 2 {
		t.Fatalf("body = %+v", body)
	}
	if !body.Monitor.LastPoll.Equal(poll) {
		t.Fatalf("last_poll = %v, want %v", body.Monitor.LastPoll, poll)
	}
	if body.Last.Type != eventbus.TypeScheduleChanged {
		t.Fatalf("last_event = %q", body.Last.Type)
	}
}

func TestHealthzMonitorStopped(t *testing.T) {
	t.Parallel()
	s := New(":0", fixedStatus{}, logx.Nop())
	if rec := get(t, s, "/healthz"); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestPprofOnlyWhenEnabled(t *testing.T) {
	t.Parallel()
	if rec := get(t, New(":0", nil, logx.Nop()), "/debug/pprof/"); rec.Code != http.StatusNotFound {
		t.Fatalf("pprof without option = %d, want 404", rec.Code)
	}
	s := New(":0", nil, logx.Nop(), WithPprof(true))
	if rec := get(t, s, "/debug/pprof/"); rec.Code != http.StatusOK {
		t.Fatalf("pprof index = %d", rec.Code)
	}
	if rec := get(t, s, "/debug/pprof/cmdline"); rec.Code != http.StatusOK {
		t.Fatalf("pprof cmdline = %d", rec.Code)
	}
}
