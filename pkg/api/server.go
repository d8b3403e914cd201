// Package api exposes the operational HTTP surface: health, metrics,
// session introspection, runtime stats, and a text-ingress endpoint.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/somabus/soma/pkg/core"
)

// Server represents the HTTP server.
type Server struct {
	core   *core.Core
	engine *gin.Engine
	srv    *http.Server
}

// NewServer creates the API server bound to the given core.
func NewServer(c *core.Core, addr string) *Server {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery(), requestLogger())

	s := &Server{
		core:   c,
		engine: engine,
		srv:    &http.Server{Addr: addr, Handler: engine},
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", s.Health)
	s.engine.GET("/metrics", gin.WrapH(
		promhttp.HandlerFor(s.core.Metrics().Registry(), promhttp.HandlerOpts{})))
	s.engine.GET("/stats", s.Stats)
	s.engine.GET("/sessions", s.ListSessions)
	s.engine.GET("/sessions/:key", s.GetSession)
	s.engine.POST("/observations", s.CreateObservation)
}

// Handler returns the underlying handler, used by tests.
func (s *Server) Handler() http.Handler { return s.engine }

// Start serves until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	slog.Info("API server listening", "addr", s.srv.Addr)
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("HTTP request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds())
	}
}
