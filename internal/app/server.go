// File: internal/app/server.go
package app

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"cargo_portal/internal/common"
	"cargo_portal/internal/config"
	"cargo_portal/internal/jobs"
	"cargo_portal/internal/middleware"
	"cargo_portal/internal/portal"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Server struct holds the dependencies for the HTTP server.
type Server struct {
	httpServer *http.Server
	router     *gin.Engine
	cfg        *config.Config
	logger     *zap.Logger

	// Handlers
	portalHandler *portal.Handler

	// Jobs
	upstreamProbeJob *jobs.UpstreamProbeJob
	rateLimiter      *middleware.RateLimiter
	background       context.Context
	stopBackground   context.CancelFunc
}

// NewServer creates a new instance of our application server.
func NewServer(
	cfg *config.Config,
	logger *zap.Logger,
	portalHandler *portal.Handler,
	upstreamProbeJob *jobs.UpstreamProbeJob,
) (*Server, error) {
	gin.SetMode(cfg.GinMode)
	router := gin.New()

	tmpl, err := portal.LoadTemplates()
	if err != nil {
		return nil, fmt.Errorf("failed to load page templates: %w", err)
	}
	router.SetHTMLTemplate(tmpl)

	// --- Global Middleware ---
	router.Use(middleware.ZapLogger(logger, cfg))
	router.Use(middleware.ErrorHandler(logger))
	router.Use(gin.Recovery())
	router.Use(middleware.SecurityHeaders())

	rateLimiter := middleware.NewRateLimiter(rate.Limit(cfg.LoginRatePerSecond), cfg.LoginRateBurst)
	limitMW := rateLimiter.Middleware()

	// --- Setup Routes ---
	router.GET("/health", func(c *gin.Context) {
		upstreams := map[string]jobs.ProbeResult{}
		if upstreamProbeJob != nil {
			upstreams = upstreamProbeJob.Snapshot()
		}
		common.RespondOK(c, "Cargo sign-in portal is healthy!", gin.H{
			"status":    "UP",
			"upstreams": upstreams,
		})
	})

	// Throttled browser submissions get the page back, not JSON.
	portalHandler.RegisterPageRoutes(router, rateLimiter.MiddlewareWith(portalHandler.RenderRateLimited))

	// CORS applies only to the JSON API used by the dashboards.
	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = cfg.CORSAllowedOrigins
	corsConfig.AllowMethods = []string{"POST", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Accept", common.RequestIDHeader}
	corsConfig.AllowCredentials = true
	corsConfig.ExposeHeaders = []string{"Content-Length", common.RequestIDHeader}

	v1 := router.Group("/api/v1", cors.New(corsConfig))
	v1.OPTIONS("/*path", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	portalHandler.RegisterRoutes(v1, limitMW)

	addr := fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      writeTimeout(cfg.UpstreamTimeout),
		IdleTimeout:       120 * time.Second,
	}

	background, stopBackground := context.WithCancel(context.Background())

	return &Server{
		httpServer:       httpServer,
		router:           router,
		cfg:              cfg,
		logger:           logger,
		portalHandler:    portalHandler,
		upstreamProbeJob: upstreamProbeJob,
		rateLimiter:      rateLimiter,
		background:       background,
		stopBackground:   stopBackground,
	}, nil
}

// writeTimeout covers the slowest failing sign-in: login, role lookup,
// sign-out and the audit write, each bounded by the upstream timeout.
func writeTimeout(upstream time.Duration) time.Duration {
	if upstream <= 0 {
		upstream = 10 * time.Second
	}
	return 4*upstream + 5*time.Second
}

// Router exposes the configured engine, mainly for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) Start() error {
	go s.rateLimiter.Run(s.background)

	if s.upstreamProbeJob != nil {
		err := s.upstreamProbeJob.SetupAndStart()
		if err != nil {
			s.logger.Error("Failed to setup and start upstream probe job", zap.Error(err))
		}
	} else {
		s.logger.Info("Upstream probe job is not configured, skipping start.")
	}

	s.logger.Info("HTTP Server starting",
		zap.String("address", s.httpServer.Addr),
		zap.String("gin_mode", s.cfg.GinMode),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		s.logger.Error("Failed to start HTTP server", zap.Error(err))
		return err
	}
	s.logger.Info("HTTP Server stopped gracefully or an error occurred")
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Attempting graceful server shutdown...")
	s.stopBackground()
	if s.upstreamProbeJob != nil {
		s.upstreamProbeJob.Stop()
	}
	return s.httpServer.Shutdown(ctx)
}
