// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/activity-scorer/internal/logging"
	"github.com/activity-scorer/internal/types"
)

// Service interfaces for dependency injection and testing

// ActivityServiceInterface defines the per-address read operations
type ActivityServiceInterface interface {
	GetUserMetrics(ctx context.Context, address string) (*types.UserMetricsResponse, error)
	GetScoreBreakdown(ctx context.Context, address string) (*types.ScoreBreakdownResponse, error)
	GetBonus(ctx context.Context, address string) (*types.ExternalBonusData, error)
	GetHistory(ctx context.Context, address string, limit int) ([]types.ScoreHistoryPoint, error)
}

// LeaderboardServiceInterface defines the leaderboard read operation
type LeaderboardServiceInterface interface {
	GetPage(ctx context.Context, limit, offset int) (*types.LeaderboardPage, error)
}

// BulkBonusServiceInterface defines batched bonus resolution
type BulkBonusServiceInterface interface {
	ResolveBulk(ctx context.Context, addresses []string) (map[string]*types.ExternalBonusData, error)
}

// Server represents the HTTP API server.
type Server struct {
	router             *mux.Router
	httpServer         *http.Server
	activityService    ActivityServiceInterface
	leaderboardService LeaderboardServiceInterface
	bonusService       BulkBonusServiceInterface
	config             *ServerConfig
	logger             *logging.Logger
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host              string
	Port              string
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	ShutdownTimeout   time.Duration
	RequestsPerSecond int // per client IP
	Burst             int
	MaxBulkAddresses  int
}

// DefaultServerConfig returns the server defaults
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:              "0.0.0.0",
		Port:              "8080",
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      3 * time.Minute, // a cold address aggregates inline
		IdleTimeout:       60 * time.Second,
		ShutdownTimeout:   30 * time.Second,
		RequestsPerSecond: 10,
		Burst:             20,
		MaxBulkAddresses:  100,
	}
}

// NewServer creates a new API server instance. bonusService may be nil.
func NewServer(
	config *ServerConfig,
	activityService ActivityServiceInterface,
	leaderboardService LeaderboardServiceInterface,
	bonusService BulkBonusServiceInterface,
	logger *logging.Logger,
) *Server {
	if logger == nil {
		logger = logging.GetGlobalLogger()
	}
	if config.MaxBulkAddresses <= 0 {
		config.MaxBulkAddresses = DefaultServerConfig().MaxBulkAddresses
	}

	s := &Server{
		router:             mux.NewRouter(),
		activityService:    activityService,
		leaderboardService: leaderboardService,
		bonusService:       bonusService,
		config:             config,
		logger:             logger.WithField("component", "api"),
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestsPerSecond, s.config.Burst)

	// order matters
	s.router.Use(RequestIDMiddleware)
	s.router.Use(LoggingMiddleware(s.logger))
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// User endpoints
	api.HandleFunc("/users/{address}/metrics", s.handleGetUserMetrics).Methods("GET")
	api.HandleFunc("/users/{address}/breakdown", s.handleGetScoreBreakdown).Methods("GET")
	api.HandleFunc("/users/{address}/bonus", s.handleGetBonus).Methods("GET")
	api.HandleFunc("/users/{address}/history", s.handleGetHistory).Methods("GET")

	// Leaderboard
	api.HandleFunc("/leaderboard", s.handleGetLeaderboard).Methods("GET")

	// Bonus
	api.HandleFunc("/bonus/bulk", s.handleBulkBonus).Methods("POST")
}

// Handler exposes the router, mostly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "activity-scorer",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
