// Package api wires the gateway's HTTP surface: health, metrics, and the
// guarded chat-completions endpoint. Server pairs an *echo.Echo router
// with an *http.Server so lifecycle (start, graceful shutdown) stays under
// the caller's control.
package api

import (
	"context"
	"net/http"

	echo "github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"

	"github.com/checkstream/gateway/internal/audit"
	"github.com/checkstream/gateway/internal/metrics"
	"github.com/checkstream/gateway/internal/proxy"
	"github.com/checkstream/gateway/internal/tenant"
	"github.com/checkstream/gateway/internal/workerpool"
)

// Server is the gateway's HTTP API server.
type Server struct {
	echo       *echo.Echo
	httpServer *http.Server

	resolver *tenant.Resolver
	audit    *audit.Service
	pool     *workerpool.Pool
	backend  *proxy.BackendClient
}

// NewServer builds a Server with every route registered.
func NewServer(resolver *tenant.Resolver, auditSvc *audit.Service, pool *workerpool.Pool) *Server {
	e := echo.New()

	s := &Server{
		echo:     e,
		resolver: resolver,
		audit:    auditSvc,
		pool:     pool,
		backend:  proxy.NewBackendClient(),
	}

	s.setupRoutes()
	return s
}

// securityHeaders sets the standard no-sniff/frame/referrer headers on
// every response.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}

func (s *Server) setupRoutes() {
	s.echo.Use(middleware.BodyLimit(4 * 1024 * 1024))
	s.echo.Use(securityHeaders())
	s.echo.Use(requestLogger())
	s.echo.Use(middleware.Recover())

	s.echo.GET("/health", s.healthHandler)
	s.echo.GET("/metrics", echo.WrapHandler(metrics.Handler()))

	s.echo.POST("/v1/chat/completions", s.chatCompletionsHandler)
	s.echo.POST("/:tenant/v1/chat/completions", s.chatCompletionsHandler)
}

// Start starts the HTTP server on addr (blocking).
func (s *Server) Start(addr string) error {
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.echo,
	}
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// HealthResponse is the body returned from GET /health.
type HealthResponse struct {
	Status     string            `json:"status"`
	Tenants    []string          `json:"tenants"`
	WorkerPool workerpool.Health `json:"worker_pool"`
}

func (s *Server) healthHandler(c *echo.Context) error {
	return c.JSON(http.StatusOK, &HealthResponse{
		Status:     "healthy",
		Tenants:    s.resolver.ListTenants(),
		WorkerPool: s.pool.Health(),
	})
}
