// Package server provides the HTTP server and routing for Falconer.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/CodeByMAB/Falconer/internal/approval"
	"github.com/CodeByMAB/Falconer/internal/clients/electrs"
	"github.com/CodeByMAB/Falconer/internal/database"
	"github.com/CodeByMAB/Falconer/internal/events"
	"github.com/CodeByMAB/Falconer/internal/feebrief"
	"github.com/CodeByMAB/Falconer/internal/funding"
	"github.com/CodeByMAB/Falconer/internal/market"
	"github.com/CodeByMAB/Falconer/internal/policy"
)

// Config holds server dependencies.
type Config struct {
	Log      zerolog.Logger
	Port     int
	DevMode  bool
	Version  string
	DB       *database.DB
	Engine   *policy.Engine
	Manager  *funding.Manager
	Verifier *approval.Verifier
	Channel  *approval.Channel
	FeeBrief *feebrief.Service
	Market   *market.Analyzer
	Bus      *events.Bus
	Electrs  *electrs.Client // optional; address endpoints 503 when nil
}

// Server is the HTTP server.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	log      zerolog.Logger
	port     int
	version  string
	db       *database.DB
	engine   *policy.Engine
	manager  *funding.Manager
	verifier *approval.Verifier
	channel  *approval.Channel
	feebrief *feebrief.Service
	market   *market.Analyzer
	bus      *events.Bus
	electrs  *electrs.Client
	started  time.Time
}

// New creates a new HTTP server.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		port:     cfg.Port,
		version:  cfg.Version,
		db:       cfg.DB,
		engine:   cfg.Engine,
		manager:  cfg.Manager,
		verifier: cfg.Verifier,
		channel:  cfg.Channel,
		feebrief: cfg.FeeBrief,
		market:   cfg.Market,
		bus:      cfg.Bus,
		electrs:  cfg.Electrs,
		started:  time.Now(),
	}

	s.setupMiddleware(cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // SSE connections stay open
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Signature", "X-Timestamp"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) setupRoutes() {
	s.router.Route("/webhook", func(r chi.Router) {
		r.Use(middleware.Timeout(30 * time.Second))
		r.Post("/approval", s.handleApprovalWebhook)
		r.Get("/health", s.handleWebhookHealth)
		r.Get("/proposals/{proposalID}", s.handleProposalStatus)
	})

	s.router.Route("/api", func(r chi.Router) {
		r.With(middleware.Timeout(30 * time.Second)).Group(func(r chi.Router) {
			r.Get("/proposals", s.handleListProposals)
			r.Get("/proposals/stats", s.handleProposalStats)
			r.Get("/proposals/{proposalID}", s.handleGetProposal)
			r.Get("/policy/summary", s.handlePolicySummary)
			r.Get("/policy/violations", s.handlePolicyViolations)
			r.Get("/policy/spend", s.handleDailySpend)
			r.Get("/feebrief/latest", s.handleLatestFeeBrief)
			r.Get("/market/snapshot", s.handleMarketSnapshot)
			r.Get("/address/{address}", s.handleAddressStats)
			r.Get("/system/status", s.handleSystemStatus)
		})
		// SSE endpoint stays outside the timeout wrapper.
		r.Get("/events/stream", s.handleEventsStream)
	})

	s.router.Get("/health", s.handleHealth)
}

// Start begins serving requests and blocks until the server stops.
func (s *Server) Start() error {
	s.log.Info().Int("port", s.port).Msg("starting HTTP server")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// Router exposes the handler tree, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// handleHealth handles health check requests
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "healthy",
		"service": "falconer",
		"version": s.version,
	})
}

// writeJSON writes a JSON response
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error().Err(err).Msg("failed to encode JSON response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, detail string) {
	s.writeJSON(w, status, map[string]string{"detail": detail})
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("duration", time.Since(start)).
			Msg("request")
	})
}
