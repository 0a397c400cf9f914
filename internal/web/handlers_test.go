package web

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/earti/camlift/internal/gateway"
	"github.com/earti/camlift/internal/supervisor"
)

type fakeStatus struct{ snap supervisor.Snapshot }

func (f fakeStatus) Snapshot() supervisor.Snapshot { return f.snap }

type fakeSessions []gateway.SessionInfo

func (f fakeSessions) Sessions() []gateway.SessionInfo { return f }

func newTestServer(h *Handlers) *httptest.Server {
	ws := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	return httptest.NewServer(NewServer(":0", h, ws).Mux())
}

// ---------- GET /status ----------

func TestHandleStatus(t *testing.T) {
	h := NewHandlers(NewStatusBroadcaster(), fakeStatus{supervisor.Snapshot{
		Sessions:      2,
		ServoPosition: 1515,
		TotalSteps:    2200,
		State:         "idle",
	}}, nil, nil)
	srv := newTestServer(h)
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/status")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q", ct)
	}
	var got map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got["total_steps"] != float64(2200) {
		t.Errorf("total_steps = %v, want 2200", got["total_steps"])
	}
	if got["servo_position"] != float64(1515) {
		t.Errorf("servo_position = %v, want 1515", got["servo_position"])
	}
	if got["sessions"] != float64(2) {
		t.Errorf("sessions = %v, want 2", got["sessions"])
	}
}

func TestHandleStatus_NotConfigured(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandlers(NewStatusBroadcaster(), nil, nil, nil).HandleStatus(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestStatus_PostNotAllowed(t *testing.T) {
	srv := newTestServer(NewHandlers(NewStatusBroadcaster(), fakeStatus{}, nil, nil))
	defer srv.Close()

	resp, err := http.Post(srv.URL+"/status", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

// ---------- GET /sessions ----------

func TestHandleSessions(t *testing.T) {
	sessions := fakeSessions{{ID: "01J0000000000000000000000A", Remote: "10.0.0.2:5000", Zone: "zoneA"}}
	srv := newTestServer(NewHandlers(NewStatusBroadcaster(), nil, sessions, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/sessions")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var got []gateway.SessionInfo
	if err := json.NewDecoder(resp.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(got) != 1 || got[0].Zone != "zoneA" {
		t.Errorf("sessions = %+v", got)
	}
}

func TestHandleSessions_EmptyIsArray(t *testing.T) {
	rec := httptest.NewRecorder()
	NewHandlers(NewStatusBroadcaster(), nil, nil, nil).HandleSessions(rec, httptest.NewRequest(http.MethodGet, "/sessions", nil))
	if body := strings.TrimSpace(rec.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

// ---------- GET /healthz ----------

func TestHandleHealthz(t *testing.T) {
	cases := []struct {
		name    string
		healthy func() error
		code    int
		body    string
	}{
		{"no_check", nil, http.StatusOK, "ok"},
		{"healthy", func() error { return nil }, http.StatusOK, "ok"},
		{"stopped", func() error { return errors.New("dispatcher stopped") }, http.StatusServiceUnavailable, "dispatcher stopped"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			h := NewHandlers(NewStatusBroadcaster(), nil, nil, tc.healthy)
			h.HandleHealthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
			if rec.Code != tc.code {
				t.Errorf("status = %d, want %d", rec.Code, tc.code)
			}
			if rec.Body.String() != tc.body {
				t.Errorf("body = %q, want %q", rec.Body.String(), tc.body)
			}
		})
	}
}

// ---------- /ws ----------

func TestMux_RoutesWebSocketPath(t *testing.T) {
	srv := newTestServer(NewHandlers(NewStatusBroadcaster(), nil, nil, nil))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/ws")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusTeapot {
		t.Errorf("status = %d, want the ws handler's 418", resp.StatusCode)
	}
}

// ---------- GET /status/stream ----------

func TestStatusStream_ReceivesPublishedSnapshot(t *testing.T) {
	b := NewStatusBroadcaster()
	srv := newTestServer(NewHandlers(b, nil, nil, nil))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/status/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("Content-Type = %q", ct)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || !strings.HasPrefix(line, ": connected") {
		t.Fatalf("first line = %q, err = %v", line, err)
	}

	deadline := time.Now().Add(time.Second)
	for b.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Publish(supervisor.EventHealth, supervisor.Snapshot{TotalSteps: 440, State: "idle"})

	for {
		line, err = r.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	var evt StatusEvent
	if err := json.Unmarshal([]byte(strings.TrimPrefix(strings.TrimSpace(line), "data: ")), &evt); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if evt.Level != supervisor.EventHealth {
		t.Errorf("level = %q", evt.Level)
	}
	var snap supervisor.Snapshot
	if err := json.Unmarshal(evt.Data, &snap); err != nil {
		t.Fatalf("data: %v", err)
	}
	if snap.TotalSteps != 440 {
		t.Errorf("total_steps = %d, want 440", snap.TotalSteps)
	}
}

func TestStatusStream_EndsOnBroadcasterClose(t *testing.T) {
	b := NewStatusBroadcaster()
	h := NewHandlers(b, nil, nil, nil)
	srv := httptest.NewServer(http.HandlerFunc(h.HandleStatusStream))
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	deadline := time.Now().Add(time.Second)
	for b.Subscribers() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	b.Close()

	done := make(chan struct{})
	go func() {
		io.Copy(io.Discard, resp.Body)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after Close")
	}
}

// ---------- Run ----------

func TestRun_StopsOnCancel(t *testing.T) {
	s := NewServer("127.0.0.1:0", NewHandlers(NewStatusBroadcaster(), nil, nil, nil), nil)
	called := make(chan struct{})
	s.OnShutdown(func() { close(called) })

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- s.Run(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-errCh:
		if err != nil {
			t.Errorf("Run: %v", err)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return")
	}
	select {
	case <-called:
	case <-time.After(time.Second):
		t.Error("shutdown hook not called")
	}
}
