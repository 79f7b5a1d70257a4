// Package server exposes the completion pipeline over HTTP: one completions
// endpoint covering both response modes, plus health.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/attune-ai/attune/engine/pipeline"
	"github.com/attune-ai/attune/pkg/config"
	"github.com/attune-ai/attune/pkg/logger"
)

const (
	readHeaderTimeout = 10 * time.Second
	shutdownTimeout   = 15 * time.Second
)

// Server owns the HTTP listener and its routes. The orchestrator behind it is
// shared across requests.
type Server struct {
	cfg          *config.Config
	log          logger.Logger
	orchestrator *pipeline.Orchestrator
	httpServer   *http.Server
}

func New(cfg *config.Config, log logger.Logger, orchestrator *pipeline.Orchestrator) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server: config is required")
	}
	if log == nil {
		return nil, errors.New("server: logger is required")
	}
	if orchestrator == nil {
		return nil, errors.New("server: orchestrator is required")
	}
	s := &Server{cfg: cfg, log: log, orchestrator: orchestrator}
	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: readHeaderTimeout,
	}
	return s, nil
}

func (s *Server) buildRouter() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", s.handleHealth)
	v1 := router.Group("/v1")
	v1.POST("/completions", s.handleCompletions)
	return router
}

// requestLogger attaches the process logger to every request context and logs
// one line per request.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		ctx := logger.ContextWithLogger(c.Request.Context(), s.log)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
		s.log.Info("request",
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
		)
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Run serves until ctx is canceled, then drains in-flight requests within the
// shutdown budget.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.Info("http server listening", "addr", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.log.Info("http server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return <-errCh
}
