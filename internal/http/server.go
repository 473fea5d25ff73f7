// Package http provides the gin HTTP server shared by the ingestion service
// and its metrics endpoint.
package http

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-contrib/requestid"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// Server represents the HTTP server.
type Server struct {
	db     *sql.DB
	host   string
	port   int
	router *gin.Engine
	server *http.Server
	logger *slog.Logger
}

// NewServer creates a new HTTP server. The database handle is only used for
// readiness reporting; handlers get their own dependencies.
func NewServer(db *sql.DB, host string, port int, logger *slog.Logger) *Server {
	return &Server{
		db:     db,
		host:   host,
		port:   port,
		logger: logger,
	}
}

// RouterOptions configures the shared middleware stack.
type RouterOptions struct {
	CORSEnabled      bool
	CORSAllowOrigins string
	// Middlewares are appended after the standard stack, e.g. HTTP metrics.
	Middlewares []gin.HandlerFunc
}

// SetupRouter builds the router with the standard middleware stack, the health
// endpoints and every registered route group.
func (s *Server) SetupRouter(opts RouterOptions, register ...func(*gin.Engine)) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestid.New(requestid.WithGenerator(func() string {
		return uuid.Must(uuid.NewV7()).String()
	})))
	router.Use(CustomLoggerMiddleware(s.logger))

	if corsMiddleware := createCORSMiddleware(opts.CORSEnabled, opts.CORSAllowOrigins, s.logger); corsMiddleware != nil {
		router.Use(corsMiddleware)
	}
	for _, middleware := range opts.Middlewares {
		router.Use(middleware)
	}

	router.GET("/health", s.healthHandler)
	router.GET("/ready", s.readinessHandler)

	for _, registerRoutes := range register {
		registerRoutes(router)
	}

	s.router = router
	return router
}

// healthHandler reports process liveness.
func (s *Server) healthHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// readinessHandler reports whether the server can take traffic, with
// per-component detail.
func (s *Server) readinessHandler(c *gin.Context) {
	components := gin.H{}
	ready := true

	if s.db == nil {
		components["database"] = "error"
		ready = false
	} else if err := s.db.PingContext(c.Request.Context()); err != nil {
		components["database"] = "error"
		ready = false
	} else {
		components["database"] = "ok"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready", "components": components})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "components": components})
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start(ctx context.Context) error {
	if s.router == nil {
		s.SetupRouter(RouterOptions{})
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", s.host, s.port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("starting http server", slog.String("addr", s.server.Addr))

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}
