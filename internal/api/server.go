package api

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/camarigor/tribeminer/internal/auth"
	"github.com/camarigor/tribeminer/internal/config"
	"github.com/camarigor/tribeminer/internal/pool"
	"github.com/camarigor/tribeminer/internal/storage"
)

// Server represents the HTTP API server
type Server struct {
	cfg     *config.Config
	storage *storage.SQLiteStorage
	auth    *auth.Service
	pool    *pool.Service
	hub     *Hub
	server  *http.Server
}

// NewServer creates a new API server
func NewServer(cfg *config.Config, store *storage.SQLiteStorage, authSvc *auth.Service, poolSvc *pool.Service) *Server {
	return &Server{
		cfg:     cfg,
		storage: store,
		auth:    authSvc,
		pool:    poolSvc,
		hub:     NewHub(poolSvc, cfg.Broadcast.PoolStatsInterval, cfg.Broadcast.MinerUpdateInterval),
	}
}

// Start starts the HTTP server
func (s *Server) Start() error {
	// Start WebSocket hub push loops
	go s.hub.Run()

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.routes(),
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
	}

	log.Printf("Starting HTTP server on %s", addr)
	return s.server.ListenAndServe()
}

// routes builds the router with all middleware and API endpoints
func (s *Server) routes() http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Requested-With"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// Identity
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)
		r.Post("/auth/logout", s.handleLogout)
		r.With(s.requireAuth).Get("/auth/me", s.handleMe)

		// Pool
		r.Get("/pool/stats", s.handleGetPoolStats)

		// Mining
		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)
			r.Post("/mining/start", s.handleStartMining)
			r.Post("/mining/stop", s.handleStopMining)
			r.Get("/mining/stats", s.handleGetMiningStats)
			r.Get("/rewards/{userId}", s.handleGetRewards)
		})

		// Admin
		r.With(s.requireAuth, s.requireAdmin).Get("/admin/miners", s.handleGetActiveMiners)

		// WebSocket
		r.Get("/ws", s.handleWebSocket)
	})

	// Health check
	r.Get("/health", s.handleHealth)

	return r
}

// Stop stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	// Stop WebSocket hub
	s.hub.Stop()

	// Shutdown HTTP server
	if s.server != nil {
		return s.server.Shutdown(ctx)
	}
	return nil
}
