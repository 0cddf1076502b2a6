// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/wallet-tracker/internal/logging"
	"github.com/wallet-tracker/internal/service"
	"github.com/wallet-tracker/internal/storage"
	"github.com/wallet-tracker/internal/types"
)

// Service interfaces for dependency injection and testing

// AnalyticsServiceInterface defines the read side used by the API
type AnalyticsServiceInterface interface {
	LatestState(ctx context.Context, search string) ([]types.WalletSnapshot, error)
	History(ctx context.Context, address string, limit int) ([]types.WalletSnapshot, error)
	WalletHistory(ctx context.Context, address string, limit int) ([]types.BalancePoint, error)
	ScanStats(ctx context.Context, scanID string) (*types.ScanRecord, error)
	BalanceGroups(ctx context.Context) ([]types.BalanceGroup, error)
	DuplicateBalanceWallets(ctx context.Context) ([]types.WalletSnapshot, error)
	DailyFlowStats(ctx context.Context, windowDays int) ([]types.DailyFlowStat, error)
	MarketSignal(ctx context.Context) types.MarketSignal
	Summary(ctx context.Context) (*types.Summary, error)
	ViewStats() map[string]service.ViewStat
}

// PipelineInterface triggers collection runs
type PipelineInterface interface {
	Run(ctx context.Context, pageCount int) (*service.RunReport, error)
}

// SchedulerInterface controls the recurring collection job
type SchedulerInterface interface {
	Start(ctx context.Context, pageCount int) error
	Stop()
	Status() service.SchedulerStatus
}

// ArchiveInterface reads the scan archive
type ArchiveInterface interface {
	DailyTotals(ctx context.Context, days int) ([]storage.ArchiveDailyTotal, error)
}

// Server represents the HTTP API server.
type Server struct {
	router     *mux.Router
	handler    http.Handler
	httpServer *http.Server
	analytics  AnalyticsServiceInterface
	pipeline   PipelineInterface
	scheduler  SchedulerInterface
	archive    ArchiveInterface
	feed       *ScanFeed
	config     *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	RequestRPS      int // Requests per second per client IP
	DefaultPages    int // Page count when a trigger omits it
}

// NewServer creates a new API server instance. archive may be nil.
func NewServer(
	config *ServerConfig,
	analytics AnalyticsServiceInterface,
	pipeline PipelineInterface,
	scheduler SchedulerInterface,
	archive ArchiveInterface,
) *Server {
	s := &Server{
		router:    mux.NewRouter(),
		analytics: analytics,
		pipeline:  pipeline,
		scheduler: scheduler,
		archive:   archive,
		feed:      NewScanFeed(),
		config:    config,
	}

	s.setupRouter()

	return s
}

// NewServerForApp wires a server around an App
func NewServerForApp(config *ServerConfig, app *service.App) *Server {
	var archive ArchiveInterface
	if app.Archive != nil {
		archive = app.Archive
	}
	s := NewServer(config, app.Analytics, app.Pipeline, app.Scheduler, archive)
	app.Pipeline.AddListener(s.feed)
	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	rateLimiter := NewRateLimiter(s.config.RequestRPS)

	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(RateLimitMiddleware(rateLimiter))
	s.router.Use(CompressionMiddleware)

	s.setupRoutes()

	// Route middleware only runs on matched routes; preflights match none.
	s.handler = CORSMiddleware(s.router)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:           s.handler,
		ReadTimeout:       s.config.ReadTimeout,
		ReadHeaderTimeout: s.config.ReadTimeout,
		WriteTimeout:      s.config.WriteTimeout,
		IdleTimeout:       s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	api := s.router.PathPrefix("/api").Subrouter()

	// Wallet endpoints
	api.HandleFunc("/wallets/latest", s.handleLatestState).Methods("GET")
	api.HandleFunc("/wallets/duplicates", s.handleDuplicateWallets).Methods("GET")
	api.HandleFunc("/wallets/{address}/history", s.handleWalletHistory).Methods("GET")
	api.HandleFunc("/history", s.handleHistory).Methods("GET")

	// Analytics endpoints
	api.HandleFunc("/groups", s.handleBalanceGroups).Methods("GET")
	api.HandleFunc("/flows/daily", s.handleDailyFlow).Methods("GET")
	api.HandleFunc("/signal", s.handleSignal).Methods("GET")
	api.HandleFunc("/summary", s.handleSummary).Methods("GET")
	api.HandleFunc("/stats/views", s.handleViewStats).Methods("GET")
	api.HandleFunc("/export/{listing}", s.handleExport).Methods("GET")

	// Scan endpoints
	api.HandleFunc("/scans", s.handleTriggerScan).Methods("POST")
	api.HandleFunc("/scans/latest", s.handleLatestScan).Methods("GET")
	api.HandleFunc("/scans/{id}", s.handleGetScan).Methods("GET")
	api.HandleFunc("/archive/daily", s.handleArchiveDaily).Methods("GET")
	api.Handle("/ws/scans", s.feed).Methods("GET")

	// Scheduler endpoints
	api.HandleFunc("/scheduler", s.handleSchedulerStatus).Methods("GET")
	api.HandleFunc("/scheduler/start", s.handleSchedulerStart).Methods("POST")
	api.HandleFunc("/scheduler/stop", s.handleSchedulerStop).Methods("POST")
}

// Handler exposes the full handler chain, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.handler
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "wallet-tracker",
	})
}

// Start serves until the server fails or is shut down. A graceful
// shutdown returns nil.
func (s *Server) Start() error {
	logging.WithField("addr", s.httpServer.Addr).Info("Starting API server")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.Info("Shutting down API server")
	s.feed.Close()
	return s.httpServer.Shutdown(ctx)
}
