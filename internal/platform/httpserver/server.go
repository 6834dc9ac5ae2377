// Package httpserver wraps net/http server lifecycle so main stays small.
package httpserver

import (
	"context"
	"net/http"
	"time"
)

// New builds an *http.Server with sane timeouts for a session gateway: every
// operation is bounded local work, so long server-side timeouts only mask bugs.
func New(addr string, handler http.Handler) *Server {
	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
	}
}

// Server is a thin wrapper over http.Server.
type Server struct {
	srv *http.Server
}

// ListenAndServe starts serving. Blocks until shutdown or failure.
func (s *Server) ListenAndServe() error {
	return s.srv.ListenAndServe()
}

// Shutdown drains in-flight requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
