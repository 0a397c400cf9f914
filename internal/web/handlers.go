package web

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/earti/camlift/internal/gateway"
	"github.com/earti/camlift/internal/supervisor"
)

const heartbeatInterval = 30 * time.Second

// StatusSource provides the liveness snapshot served on GET /status.
type StatusSource interface {
	Snapshot() supervisor.Snapshot
}

// SessionLister lists the open control sessions.
type SessionLister interface {
	Sessions() []gateway.SessionInfo
}

// Handlers holds dependencies for HTTP handlers.
type Handlers struct {
	Broadcaster *StatusBroadcaster
	Status      StatusSource
	Sessions    SessionLister
	// Healthy reports whether motion can still be served; nil means always.
	Healthy func() error
}

// NewHandlers creates handlers with the given dependencies.
func NewHandlers(broadcaster *StatusBroadcaster, status StatusSource, sessions SessionLister, healthy func() error) *Handlers {
	return &Handlers{
		Broadcaster: broadcaster,
		Status:      status,
		Sessions:    sessions,
		Healthy:     healthy,
	}
}

// HandleStatus returns the current supervisor snapshot as JSON.
func (h *Handlers) HandleStatus(w http.ResponseWriter, r *http.Request) {
	if h.Status == nil {
		http.Error(w, "status not configured", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, h.Status.Snapshot())
}

// HandleSessions lists open control sessions.
func (h *Handlers) HandleSessions(w http.ResponseWriter, r *http.Request) {
	sessions := []gateway.SessionInfo{}
	if h.Sessions != nil {
		sessions = h.Sessions.Sessions()
	}
	writeJSON(w, http.StatusOK, sessions)
}

// HandleHealthz answers "ok" while the motion path is alive.
func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if h.Healthy != nil {
		if err := h.Healthy(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte(err.Error()))
			return
		}
	}
	w.Write([]byte("ok"))
}

// HandleStatusStream handles GET /status/stream for SSE.
func (h *Handlers) HandleStatusStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // nginx

	ch, unsub := h.Broadcaster.Subscribe()
	defer unsub()

	w.Write([]byte(": connected\n\n"))
	flusher.Flush()

	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-ch:
			if !ok {
				return
			}
			w.Write([]byte("data: " + msg + "\n\n"))
			flusher.Flush()

		case <-ticker.C:
			w.Write([]byte(": heartbeat\n\n"))
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
