// Package server wires the engine's HTTP surface: job orchestration, the
// MCP/JSON-RPC router, and the progress event stream. Grounded on the
// teacher's cmd/server/server.go (StreamingAPI + gin.Engine wiring pattern
// from the sibling planner/server.go, since the teacher's own server.go
// uses gorilla/mux rather than gin).
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/forgecore/engine/internal/logging"
	"github.com/forgecore/engine/pkg/jobevents"
	"github.com/forgecore/engine/pkg/jobmanager"
	"github.com/forgecore/engine/pkg/router"
)

// Server owns the gin engine and the collaborators its routes dispatch to.
type Server struct {
	engine  *gin.Engine
	manager *jobmanager.Manager
	router  *router.Router
	bus     *jobevents.Bus
	log     logging.ExtendedLogger
	http    *http.Server
}

// New builds a Server with every route group registered. corsOrigins
// mirrors the teacher's configurable allow-list; "*" allows any origin.
func New(manager *jobmanager.Manager, rt *router.Router, bus *jobevents.Bus, log logging.ExtendedLogger, corsOrigins []string) *Server {
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(corsOrigins))

	s := &Server{engine: engine, manager: manager, router: rt, bus: bus, log: log}

	engine.GET("/health", s.handleHealth)

	api := engine.Group("/api")
	registerOrchestratorRoutes(api.Group("/orchestrator"), manager)
	registerRouterRoutes(api.Group("/mcp"), rt)

	registerEventsRoutes(engine, manager, log)

	return s
}

// Engine exposes the underlying gin.Engine, mainly for httptest-driven
// integration tests.
func (s *Server) Engine() *gin.Engine {
	return s.engine
}

func corsMiddleware(allowed []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		for _, a := range allowed {
			if a == "*" {
				c.Header("Access-Control-Allow-Origin", "*")
				break
			}
			if a == origin {
				c.Header("Access-Control-Allow-Origin", origin)
				break
			}
		}
		c.Header("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "time": time.Now().UTC()})
}

// Run starts the HTTP server on addr and blocks until ctx is cancelled, at
// which point it drains in-flight requests within a 15s grace period
// (grounded on the teacher's srv.Shutdown(ctx) convention).
func (s *Server) Run(ctx context.Context, addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // the event stream holds connections open indefinitely
		IdleTimeout:  5 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Infof("HTTP server listening on %s", addr)
		if err := s.http.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("server failed: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.log.Info("shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	}
}
