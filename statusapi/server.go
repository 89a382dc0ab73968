// Package statusapi serves the engine status and an operator endpoint for
// injecting directives over HTTP.
package statusapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gwac/camannex/controller"
	"github.com/gwac/camannex/logger"
)

const shutdownTimeout = 5 * time.Second

// Provider exposes the running engines.
type Provider interface {
	Engines() []*controller.Engine
	Engine(id uuid.UUID) (*controller.Engine, bool)
	ServerConnected() bool
}

// Server is the HTTP status server.
type Server struct {
	provider Provider
	logger   logger.Logger
	router   *gin.Engine
	srv      *http.Server
}

// New builds the router over p.
func New(p Provider, l logger.Logger) *Server {
	if l == nil {
		l = logger.GetLogger()
	}
	s := &Server{provider: p, logger: l.With("component", "statusapi")}

	router := gin.New()
	router.Use(gin.Recovery(), s.logRequest)
	router.GET("/health", s.health)

	engines := router.Group("/engines")
	engines.GET("", s.listEngines)
	engines.GET("/:id", s.getEngine)
	engines.POST("/:id/directives", s.postDirective)

	s.router = router

	return s
}

// Handler returns the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start listens on addr and serves in the background.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("statusapi: failed to listen %s: %w", addr, err)
	}

	s.srv = &http.Server{
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("status server failed", "error", err)
		}
	}()
	s.logger.Info("status server listening", "addr", ln.Addr().String())

	return nil
}

// Shutdown stops a started server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()

	return s.srv.Shutdown(ctx)
}

func (s *Server) logRequest(c *gin.Context) {
	start := time.Now()
	c.Next()

	s.logger.Debug("http request",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"status", c.Writer.Status(),
		"client_ip", c.ClientIP(),
		"duration", time.Since(start),
	)
}
