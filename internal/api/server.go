package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/opensource-loyalty/magpie/internal/domain"
	"github.com/opensource-loyalty/magpie/internal/ledger"
	"github.com/opensource-loyalty/magpie/internal/rules"
	"github.com/opensource-loyalty/magpie/internal/sweep"
)

// Server represents the HTTP API server.
type Server struct {
	router  *chi.Mux
	handler *Handler
	server  *http.Server
	config  domain.ServerConfig
}

// NewServer creates a new API server.
func NewServer(cfg domain.ServerConfig, repo domain.Repository, cache domain.Cache, bus domain.EventBus, compiler *rules.Compiler, ledgerSvc *ledger.Service, activity domain.ActivityProvider, expiration *sweep.ExpirationSweep, tier *sweep.TierSweep, version string) *Server {
	handler := NewHandler(repo, cache, bus, compiler, ledgerSvc, activity, expiration, tier, version)
	router := chi.NewRouter()

	// Global middleware stack
	router.Use(CORSMiddleware)         // CORS for browser clients
	router.Use(RecoverMiddleware)      // Recover from panics
	router.Use(TracingMiddleware)      // OpenTelemetry tracing
	router.Use(LoggingMiddleware)      // Request logging
	router.Use(middleware.RealIP)      // Extract real IP
	router.Use(middleware.Compress(5)) // Gzip compression

	// Health endpoints
	router.Get("/health", handler.Health)
	router.Get("/ready", handler.Ready)

	// Transaction recording and retrieval
	router.Post("/transactions", handler.CreateTransaction)
	router.Get("/transactions/{id}", handler.GetTransaction)

	// Member management
	router.Post("/members", handler.CreateMember)
	router.Get("/members", handler.ListMembers)
	router.Get("/members/{id}", handler.GetMember)
	router.Put("/members/{id}", handler.UpdateMember)
	router.Get("/members/{id}/balance", handler.GetBalance)
	router.Get("/members/{id}/transactions", handler.ListMemberTransactions)
	router.Get("/members/{id}/points", handler.ListMemberPoints)
	router.Get("/members/{id}/summary", handler.GetMemberSummary)
	router.Get("/members/{id}/audits", handler.ListMemberAudits)
	router.Post("/members/{id}/reset", handler.ResetMemberPoints)

	// Rule management
	router.Get("/rules", handler.ListRules)
	router.Get("/rules/{id}", handler.GetRule)
	router.Post("/rules", handler.CreateRule)
	router.Put("/rules/{id}", handler.UpdateRule)
	router.Delete("/rules/{id}", handler.DeleteRule)
	router.Post("/rules/reload", handler.ReloadRules)

	// Tier thresholds
	router.Get("/tiers/thresholds", handler.ListTierThresholds)
	router.Post("/tiers/thresholds", handler.CreateTierThreshold)
	router.Delete("/tiers/thresholds/{id}", handler.DeleteTierThreshold)

	// Point expiration configuration
	router.Get("/expiration-configs", handler.ListExpirationConfigs)
	router.Post("/expiration-configs", handler.CreateExpirationConfig)

	// Manual sweep triggers
	router.Post("/admin/expire-points", handler.RunExpirationSweep)
	router.Post("/admin/evaluate-tiers", handler.RunTierEvaluation)

	return &Server{
		router:  router,
		handler: handler,
		config:  cfg,
	}
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  time.Duration(s.config.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(s.config.WriteTimeout) * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the Chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Handler returns the handler for testing.
func (s *Server) Handler() *Handler {
	return s.handler
}
