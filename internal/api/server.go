package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"relay/internal/handlers"
)

// ServerConfig contains server configuration
type ServerConfig struct {
	Port           int
	Host           string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	SecretToken    string
	Version        string
	RateLimit      float64 // requests per second per client
	RateBurst      int
	LogLevel       string
}

// Server represents the API server
type Server struct {
	config     ServerConfig
	router     *gin.Engine
	httpServer *http.Server
	logger     zerolog.Logger
	startTime  time.Time

	// Handler dependencies (will be injected)
	pipeline  handlers.OrderPipeline
	tokens    handlers.TokenManager
	prober    handlers.ReadinessProber
	collector handlers.MetricsCollector
	recorder  MetricsRecorder
}

// NewServer creates a new API server
func NewServer(config ServerConfig, logger zerolog.Logger) (*Server, error) {
	// Validate configuration
	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	// Set defaults
	setConfigDefaults(&config)

	// Setup Gin
	if config.LogLevel == "debug" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	// Create router with recovery middleware
	router := gin.New()
	router.Use(gin.Recovery())

	// Create server
	server := &Server{
		config:    config,
		router:    router,
		logger:    logger.With().Str("component", "api").Logger(),
		startTime: time.Now(),
	}

	// Setup middleware
	server.setupMiddleware()

	// Setup basic routes (liveness only)
	server.setupBasicRoutes()

	// Create HTTP server
	server.httpServer = &http.Server{
		Addr:           fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:        router,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return server, nil
}

// SetDependencies sets the handler dependencies
func (s *Server) SetDependencies(
	pipeline handlers.OrderPipeline,
	tokens handlers.TokenManager,
	prober handlers.ReadinessProber,
	collector handlers.MetricsCollector,
	recorder MetricsRecorder,
) {
	s.pipeline = pipeline
	s.tokens = tokens
	s.prober = prober
	s.collector = collector
	s.recorder = recorder

	// Add metrics middleware before the dependent routes exist
	if s.recorder != nil {
		s.router.Use(MetricsMiddleware(s.recorder))
	}

	// Re-setup routes with actual handlers
	s.setupRoutes()
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info().
		Int("port", s.config.Port).
		Str("version", s.config.Version).
		Msg("starting API server")

	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server. In-flight webhook
// requests, including their retry loops, run to completion within the
// caller's deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("shutting down API server")
	return s.httpServer.Shutdown(ctx)
}

// setupMiddleware configures server middleware
func (s *Server) setupMiddleware() {
	// Request ID middleware (always first)
	s.router.Use(RequestIDMiddleware())

	// Logger middleware
	s.router.Use(LoggerMiddleware(s.logger))

	// Error recovery middleware
	s.router.Use(ErrorMiddleware(s.logger))

	// Rate limiting middleware
	if s.config.RateLimit > 0 {
		s.router.Use(RateLimitMiddleware(s.config.RateLimit, s.config.RateBurst))
	}
}

// setupBasicRoutes configures routes with no dependencies
func (s *Server) setupBasicRoutes() {
	healthHandlers := handlers.NewHealthHandlers(s.config.Version, s.startTime)
	s.router.GET("/healthz", healthHandlers.HealthCheck())
}

// setupRoutes configures routes that need injected dependencies
func (s *Server) setupRoutes() {
	healthHandlers := handlers.NewHealthHandlers(s.config.Version, s.startTime)

	if s.prober != nil {
		s.router.GET("/readyz", healthHandlers.Readiness(s.prober))
	}

	if s.collector != nil {
		s.router.GET("/metrics", healthHandlers.Metrics(s.collector))
	}

	if s.pipeline != nil {
		webhookHandlers := handlers.NewWebhookHandlers(s.pipeline, s.config.SecretToken, s.logger)
		s.router.POST("/webhook", ValidationMiddleware(), webhookHandlers.Receive())
	}

	if s.tokens != nil {
		tokenHandlers := handlers.NewTokenHandlers(s.tokens, s.logger)
		s.router.POST("/refresh-token", tokenHandlers.Refresh())
		s.router.GET("/auth-url", tokenHandlers.AuthURL())
	}
}

// Helper functions

func validateConfig(config *ServerConfig) error {
	if config.Port <= 0 || config.Port > 65535 {
		return fmt.Errorf("invalid port number: %d", config.Port)
	}

	if config.SecretToken == "" {
		return fmt.Errorf("webhook secret token required")
	}

	if config.Version == "" {
		config.Version = "unknown"
	}

	return nil
}

func setConfigDefaults(config *ServerConfig) {
	if config.ReadTimeout == 0 {
		config.ReadTimeout = 30 * time.Second
	}

	if config.WriteTimeout == 0 {
		config.WriteTimeout = 30 * time.Second
	}

	if config.IdleTimeout == 0 {
		config.IdleTimeout = 60 * time.Second
	}

	if config.MaxHeaderBytes == 0 {
		config.MaxHeaderBytes = 1 << 20 // 1 MB
	}

	if config.RateLimit > 0 && config.RateBurst <= 0 {
		config.RateBurst = 20
	}
}
