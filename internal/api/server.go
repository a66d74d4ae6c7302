package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/ajitpratap0/cryptofunk/internal/audit"
	"github.com/ajitpratap0/cryptofunk/internal/marketdata"
	"github.com/ajitpratap0/cryptofunk/internal/metrics"
	"github.com/ajitpratap0/cryptofunk/internal/orchestrator"
	"github.com/ajitpratap0/cryptofunk/internal/store"
)

// Server is the REST API server of spec.md §6: it wires the persistence
// bridge, the run orchestrator, and the stock-data cache behind bearer auth,
// two-tier rate limiting, and an explicit-origin CORS policy.
type Server struct {
	router       *gin.Engine
	store        store.Store
	orchestrator *orchestrator.Orchestrator
	marketdata   *marketdata.Cache
	audit        *audit.Logger
	addr         string
	httpServer   *http.Server
}

// Config contains server configuration.
type Config struct {
	Host string
	Port int

	Store        store.Store
	Orchestrator *orchestrator.Orchestrator
	MarketData   *marketdata.Cache
	Audit        *audit.Logger

	Verifier    TokenVerifier
	Auth        AuthConfig
	CORSOrigins []string
}

// NewServer creates a new API server and registers every route of
// SPEC_FULL.md §6.
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(metrics.GinMiddleware())
	router.Use(corsMiddleware(config.CORSOrigins))

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	s := &Server{
		router:       router,
		store:        config.Store,
		orchestrator: config.Orchestrator,
		marketdata:   config.MarketData,
		audit:        config.Audit,
		addr:         addr,
	}

	general := NewRateLimiter("general", GeneralMaxRequests, GeneralWindow)
	strategyRun := NewRateLimiter("strategy-run", StrategyRunMaxRequests, StrategyRunWindow)
	auth := AuthMiddleware(config.Verifier, config.Auth)

	s.setupRoutes(general.Middleware(), strategyRun.Middleware(), auth)

	return s
}

// corsMiddleware builds an explicit-origin CORS policy. A wildcard origin
// combined with credentials is forbidden by spec.md §6, so AllowOrigins is
// always the caller-supplied list, never "*".
func corsMiddleware(origins []string) gin.HandlerFunc {
	return cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("starting API server")

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("stopping API server")

	if s.httpServer != nil {
		if err := s.httpServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}

// logAudit records an audit event if the server was configured with an
// audit logger; it is a no-op otherwise so handler tests that don't set
// Config.Audit keep working unmodified.
func (s *Server) logAudit(c *gin.Context, eventType audit.EventType, resource string, metadata map[string]interface{}, success bool, errorMsg string) {
	if s.audit == nil {
		return
	}
	if err := s.audit.LogPortfolioAction(c.Request.Context(), eventType, UserID(c), c.ClientIP(), resource, metadata, success, errorMsg); err != nil {
		log.Error().Err(err).Str("event_type", string(eventType)).Msg("failed to record audit event")
	}
}

// LoggerMiddleware is a request-logging middleware for gin.
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		logEvent := log.Info().
			Str("method", c.Request.Method).
			Str("path", path).
			Str("query", query).
			Int("status", statusCode).
			Dur("latency", latency).
			Str("client_ip", c.ClientIP())

		if len(c.Errors) > 0 {
			logEvent.Str("errors", c.Errors.String())
		}

		logEvent.Msg("API request")
	}
}
