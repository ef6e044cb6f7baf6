// Package http implements the status and control API shared by the barker
// and the sniffer: health, Prometheus metrics, the monitored profiles and
// crawl control.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/crawler"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/application/poller"
	"github.com/RyanStanLin/IntSchool.Sharp/internal/interface/http/handlers"
	"github.com/RyanStanLin/IntSchool.Sharp/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	// Host - address to bind (default: "0.0.0.0").
	Host string

	// Port - port to listen on (default: 8080).
	Port int

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	// EnableMetrics - expose /metrics.
	EnableMetrics bool

	// RateLimitPerMinute - requests per minute per client IP (0 = disabled).
	RateLimitPerMinute int

	// APIKeyHeader and APIKeys guard the control endpoints. No keys means
	// the endpoints are open.
	APIKeyHeader string
	APIKeys      []string

	// Debug switches gin to debug mode.
	Debug bool
}

// DefaultConfig returns default server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       15 * time.Second,
		IdleTimeout:        60 * time.Second,
		EnableMetrics:      true,
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
	}
}

// Address returns the server address string.
func (c Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// ProfileSource exposes the poller's profiles. *poller.AttendancePoller
// implements it.
type ProfileSource interface {
	Profiles() []*poller.Profile
	Interval() time.Duration
	IsRunning() bool
}

// CrawlControl exposes the crawler. *crawler.StudentCrawler implements it.
type CrawlControl interface {
	Current() crawler.CrawlState
	Pause() error
	Resume() error
	Stop()
}

// Dependencies contains everything the handlers read from. Profiles and
// Crawl are optional: the barker has no crawler and the sniffer no poller,
// and the matching routes are not registered.
type Dependencies struct {
	Logger   *logger.Logger
	Health   *handlers.HealthChecker
	Profiles ProfileSource
	Crawl    CrawlControl

	// Gatherer backs /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the gin-backed HTTP server.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *logger.Logger

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer builds the router and the underlying http.Server.
func NewServer(config Config, deps Dependencies) *Server {
	if deps.Logger == nil {
		deps.Logger = logger.NewNop()
	}
	if deps.Health == nil {
		deps.Health = handlers.NewHealthChecker("")
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}

	if config.Debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: deps.Logger.With(logger.Component("http")),
	}

	s.engine.Use(
		handlers.Recovery(s.logger),
		handlers.RequestID(s.logger),
		handlers.AccessLog(s.logger),
	)
	if config.RateLimitPerMinute > 0 {
		s.engine.Use(handlers.NewRateLimiter(config.RateLimitPerMinute).Middleware())
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         config.Address(),
		Handler:      s.engine,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
		IdleTimeout:  config.IdleTimeout,
	}
	return s
}

// ══════════════════════════════════════════════════════════════════════════════
// ROUTING
// ══════════════════════════════════════════════════════════════════════════════

func (s *Server) setupRoutes() {
	s.engine.GET("/healthz", s.handleHealth)
	s.engine.GET("/livez", s.handleLive)
	if s.config.EnableMetrics {
		s.engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{})))
	}

	v1 := s.engine.Group("/api/v1")
	if s.deps.Profiles != nil {
		v1.GET("/profiles", s.handleListProfiles)
	}
	if s.deps.Crawl != nil {
		v1.GET("/crawl", s.handleGetCrawl)

		control := v1.Group("/crawl")
		control.Use(handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeys).Middleware())
		control.POST("/pause", s.handlePauseCrawl)
		control.POST("/resume", s.handleResumeCrawl)
		control.POST("/stop", s.handleStopCrawl)
	}

	s.engine.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "not_found", "Endpoint not found")
	})
}

// Handler returns the root handler. Used by tests with httptest.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// ══════════════════════════════════════════════════════════════════════════════
// SERVER LIFECYCLE
// ══════════════════════════════════════════════════════════════════════════════

// Start listens and serves until Shutdown.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("starting HTTP server", logger.String("address", s.config.Address()))

	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.mu.Lock()
		s.running = false
		s.mu.Unlock()
		return fmt.Errorf("server error: %w", err)
	}
	return nil
}

// StartAsync starts the server in a goroutine. The channel yields at most one
// error and is closed when the server stops.
func (s *Server) StartAsync() <-chan error {
	errCh := make(chan error, 1)
	go func() {
		if err := s.Start(); err != nil {
			errCh <- err
		}
		close(errCh)
	}()
	return errCh
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// JSONResponse is the envelope of every API response.
type JSONResponse struct {
	Success   bool      `json:"success"`
	Data      any       `json:"data,omitempty"`
	Error     *APIError `json:"error,omitempty"`
	RequestID string    `json:"request_id,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(c *gin.Context, status int, data any) {
	c.JSON(status, JSONResponse{
		Success:   status >= 200 && status < 300,
		Data:      data,
		RequestID: handlers.GetRequestID(c),
	})
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, JSONResponse{
		Error:     &APIError{Code: code, Message: message},
		RequestID: handlers.GetRequestID(c),
	})
}
