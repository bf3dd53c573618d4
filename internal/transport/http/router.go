package http

import (
	"fmt"
	"net/http"

	"github.com/astro-web3/projecthub-auth/internal/di"
	"github.com/astro-web3/projecthub-auth/pkg/metrics"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

const defaultCaptureBytes = 64 * 1024

// NewRouter assembles the middleware chain:
// recovery, tracing, request id, metrics, access log, CORS, audit, gate.
// Audit sits outside the gate so rejected requests are audited too.
func NewRouter(deps *di.Container) (*gin.Engine, error) {
	cfg := deps.Config
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	captureBytes := cfg.Audit.CaptureBytes
	if captureBytes <= 0 {
		captureBytes = defaultCaptureBytes
	}

	router := gin.New()
	// Without trusted proxies ClientIP is the socket peer, so forwarding
	// headers cannot be spoofed past the login limiter.
	if err := router.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server.trusted_proxies: %w", err)
	}
	router.Use(gin.Recovery())
	if cfg.Observability.TraceEnabled {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(requestIDMiddleware())
	if cfg.Observability.MetricsEnabled {
		metrics.Init()
		router.Use(metrics.Middleware())
	}
	router.Use(loggingMiddleware())
	router.Use(corsMiddleware(cfg.CORS.AllowedOrigins))
	router.Use(auditMiddleware(auditConfig{
		sink:         deps.AuditSink,
		redactor:     deps.Redactor,
		filter:       deps.AuditFilter,
		captureBytes: captureBytes,
	}))
	router.Use(authGate(deps.Authz, deps.PublicPaths))

	router.GET("/healthz", func(c *gin.Context) {
		c.String(http.StatusOK, "ok")
	})
	if cfg.Observability.MetricsEnabled {
		router.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	handler := NewHandler(deps.Sessions, deps.Authz)

	auth := router.Group("/api/auth")
	auth.POST("/login", loginRateLimit(deps.LoginLimiter), handler.Login)
	auth.POST("/refresh", handler.Refresh)
	auth.POST("/logout", handler.Logout)
	auth.GET("/me", handler.Me)

	authzGroup := router.Group("/api/authz")
	authzGroup.GET("/check", handler.Check)
	authzGroup.POST("/require", handler.Require)

	return router, nil
}
