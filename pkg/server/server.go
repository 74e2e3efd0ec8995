package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/soundprediction/ipifhub"
	"github.com/soundprediction/ipifhub/pkg/config"
	"github.com/soundprediction/ipifhub/pkg/index"
	"github.com/soundprediction/ipifhub/pkg/server/handlers"
	"github.com/soundprediction/ipifhub/pkg/store"
	"github.com/soundprediction/ipifhub/pkg/types"
)

// Server represents the HTTP server
type Server struct {
	config   *config.Config
	router   *gin.Engine
	hub      *ipifhub.Hub
	index    index.Index
	queue    handlers.Pending
	gatherer prometheus.Gatherer
	logger   *slog.Logger
	server   *http.Server
}

// Option configures a Server.
type Option func(*Server)

// WithQueue reports the refresh queue depth in /api/v1/stats.
func WithQueue(q handlers.Pending) Option {
	return func(s *Server) { s.queue = q }
}

// WithGatherer serves metrics from g on /metrics instead of the default
// registry.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) { s.gatherer = g }
}

// WithLogger sets the server logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New creates a new server instance. hub and idx may be nil, in which case
// only the health and metrics endpoints are served.
func New(cfg *config.Config, hub *ipifhub.Hub, idx index.Index, opts ...Option) *Server {
	s := &Server{
		config:   cfg,
		hub:      hub,
		index:    idx,
		gatherer: prometheus.DefaultGatherer,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Setup sets up the server routes and middleware
func (s *Server) Setup() {
	if s.config.Server.Mode != "" {
		gin.SetMode(s.config.Server.Mode)
	}

	s.router = gin.New()

	s.router.Use(gin.Logger())
	s.router.Use(gin.Recovery())
	s.router.Use(corsMiddleware())
	s.router.Use(contextMiddleware())

	s.setupRoutes()

	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)
	s.server = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
}

// Handler returns the configured router. Setup must have been called.
func (s *Server) Handler() http.Handler {
	return s.router
}

// setupRoutes sets up all the routes
func (s *Server) setupRoutes() {
	var st store.Store
	if s.hub != nil {
		st = s.hub.GetStore()
	}
	healthHandler := handlers.NewHealthHandler(st, s.index)

	// Health endpoints
	s.router.GET("/health", healthHandler.HealthCheck)
	s.router.GET("/healthcheck", healthHandler.HealthCheck) // Legacy endpoint
	s.router.GET("/ready", healthHandler.ReadinessCheck)
	s.router.GET("/live", healthHandler.LivenessCheck) // Kubernetes liveness probe
	s.router.GET("/health/detailed", healthHandler.DetailedHealthCheck)

	s.router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})))

	if s.hub == nil || s.index == nil {
		return
	}

	recordsHandler := handlers.NewRecordsHandler(s.hub)
	searchHandler := handlers.NewSearchHandler(s.index)
	adminHandler := handlers.NewAdminHandler(s.hub, s.queue)

	v1 := s.router.Group("/api/v1")
	{
		// Repository writes
		repos := v1.Group("/repos")
		{
			repos.GET("", recordsHandler.ListRepos)
			repos.PUT("/:repo", recordsHandler.SaveRepo)
			repos.GET("/:repo/:collection/:local_id", recordsHandler.Get)
			repos.PUT("/:repo/:collection/:local_id", recordsHandler.Save)
			repos.DELETE("/:repo/:collection/:local_id", recordsHandler.Delete)
			repos.POST("/:repo/:collection/:local_id/uris", recordsHandler.AddURIs)
			repos.DELETE("/:repo/:collection/:local_id/uris", recordsHandler.RemoveURIs)
		}

		// Merged read surface
		v1.GET("/persons", searchHandler.Persons)
		v1.GET("/sources", searchHandler.Sources)
		v1.GET("/statements", searchHandler.Statements)
		v1.GET("/factoids", searchHandler.Factoids)
		v1.GET("/documents/:id", searchHandler.Document)

		v1.GET("/stats", adminHandler.Stats)

		admin := v1.Group("/admin")
		{
			admin.POST("/recluster/:kind", adminHandler.Recluster)
			admin.POST("/reindex", adminHandler.Reindex)
		}
	}
}

// Start starts the server
func (s *Server) Start() error {
	s.logger.Info("Starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Stop stops the server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping server")
	return s.server.Shutdown(ctx)
}

// corsMiddleware adds CORS headers
func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Credentials", "true")
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, X-CSRF-Token, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}

// contextMiddleware extracts context information from headers
func contextMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()

		userID := c.GetHeader("X-User-ID")
		if userID != "" {
			ctx = context.WithValue(ctx, types.ContextKeyUserID, userID)
		}

		sessionID := c.GetHeader("X-Session-ID")
		if sessionID != "" {
			ctx = context.WithValue(ctx, types.ContextKeySessionID, sessionID)
		}

		repo := c.Param("repo")
		if repo == "" {
			repo = c.Query("repo")
		}
		if repo != "" {
			ctx = context.WithValue(ctx, types.ContextKeyRepo, repo)
		}

		ctx = context.WithValue(ctx, types.ContextKeyRequestSource, "server")

		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
