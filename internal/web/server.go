package web

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/earti/camlift/internal/debug"
)

const shutdownTimeout = 5 * time.Second

// Server wraps the HTTP server and handlers.
type Server struct {
	addr     string
	handlers *Handlers
	ws       http.Handler

	mu         sync.Mutex
	onShutdown []func()
}

// NewServer creates a server for addr. ws serves the control endpoint /ws;
// nil leaves it unregistered.
func NewServer(addr string, handlers *Handlers, ws http.Handler) *Server {
	return &Server{
		addr:     addr,
		handlers: handlers,
		ws:       ws,
	}
}

// OnShutdown registers f to run when graceful shutdown starts. Hijacked
// connections such as WebSocket sessions are not closed by http.Server, so
// their owner must close them here.
func (s *Server) OnShutdown(f func()) {
	s.mu.Lock()
	s.onShutdown = append(s.onShutdown, f)
	s.mu.Unlock()
}

// Mux returns an http.Handler with all routes registered.
func (s *Server) Mux() http.Handler {
	mux := http.NewServeMux()

	if s.ws != nil {
		mux.Handle("/ws", s.ws)
	}
	mux.HandleFunc("GET /status", s.handlers.HandleStatus)
	mux.HandleFunc("GET /status/stream", s.handlers.HandleStatusStream)
	mux.HandleFunc("GET /sessions", s.handlers.HandleSessions)
	mux.HandleFunc("GET /healthz", s.handlers.HandleHealthz)

	return mux
}

// Run starts the server and blocks until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.Mux()}
	s.mu.Lock()
	for _, f := range s.onShutdown {
		srv.RegisterOnShutdown(f)
	}
	s.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		debug.Info("Web server listening on %s", s.addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
