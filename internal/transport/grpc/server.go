package grpc

import (
	"context"
	"net/http"

	"github.com/astro-web3/projecthub-auth/internal/di"
)

type Server struct {
	httpServer *http.Server
}

// NewServer serves the connect procedures on server.grpc_addr.
func NewServer(deps *di.Container) *Server {
	cfg := deps.Config
	router := NewRouter(NewHandler(deps.Sessions, deps.Authz), RouterOptions{
		AuditSink:      deps.AuditSink,
		Redactor:       deps.Redactor,
		AuditFilter:    deps.AuditFilter,
		CaptureBytes:   cfg.Audit.CaptureBytes,
		LoginLimiter:   deps.LoginLimiter,
		TrustedProxies: deps.TrustedProxies,
	})
	return &Server{
		httpServer: &http.Server{
			Addr:         cfg.Server.GRPCAddr,
			Handler:      router,
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  cfg.Server.ReadTimeout * 2,
		},
	}
}

func (s *Server) Addr() string {
	return s.httpServer.Addr
}

func (s *Server) ListenAndServe() error {
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
