// Package server exposes the HTTP API: reconciliation triggers, order
// submission, review reads, watchlists and system monitoring.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"github.com/Cocopuffff/TraderJoe/internal/config"
	"github.com/Cocopuffff/TraderJoe/internal/database"
	"github.com/Cocopuffff/TraderJoe/internal/modules/accounts"
	"github.com/Cocopuffff/TraderJoe/internal/modules/orders"
	"github.com/Cocopuffff/TraderJoe/internal/modules/review"
	"github.com/Cocopuffff/TraderJoe/internal/modules/strategies"
	"github.com/Cocopuffff/TraderJoe/internal/modules/sync"
	"github.com/Cocopuffff/TraderJoe/internal/modules/watchlist"
	"github.com/Cocopuffff/TraderJoe/internal/scheduler"
)

// Config holds server dependencies
type Config struct {
	Log        zerolog.Logger
	Cfg        *config.Config
	DB         *database.DB
	Sync       *sync.Service
	Orders     *orders.Service
	Review     *review.Service
	Cash       *accounts.CashRepository
	Strategies *strategies.Repository
	Watchlist  *watchlist.Repository
	Scheduler  *scheduler.Scheduler
}

// Server is the HTTP server
type Server struct {
	router         *chi.Mux
	server         *http.Server
	log            zerolog.Logger
	cfg            *config.Config
	syncService    *sync.Service
	orderService   *orders.Service
	reviewService  *review.Service
	cashRepo       *accounts.CashRepository
	strategyRepo   *strategies.Repository
	watchlistRepo  *watchlist.Repository
	systemHandlers *SystemHandlers
}

// New creates a new HTTP server
func New(cfg Config) *Server {
	s := &Server{
		router:         chi.NewRouter(),
		log:            cfg.Log.With().Str("component", "server").Logger(),
		cfg:            cfg.Cfg,
		syncService:    cfg.Sync,
		orderService:   cfg.Orders,
		reviewService:  cfg.Review,
		cashRepo:       cfg.Cash,
		strategyRepo:   cfg.Strategies,
		watchlistRepo:  cfg.Watchlist,
		systemHandlers: NewSystemHandlers(cfg.Log, cfg.DB, cfg.Cfg.DataDir, cfg.Scheduler),
	}

	s.setupMiddleware(cfg.Cfg.DevMode)
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupMiddleware configures middleware
func (s *Server) setupMiddleware(devMode bool) {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)

	// Order submission and triggered passes can take a while against the
	// broker; keep the cap generous.
	s.router.Use(middleware.Timeout(60 * time.Second))

	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Trader-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if !devMode {
		s.router.Use(middleware.Compress(5))
	}
}

// setupRoutes configures all routes
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Post("/oanda", s.handleTriggerSync)
			r.Get("/status", s.handleSyncStatus)
		})

		// Routes below act on behalf of a trader.
		r.Group(func(r chi.Router) {
			r.Use(s.traderMiddleware)

			r.Route("/order/oanda", func(r chi.Router) {
				r.Post("/create", s.handleCreateOrder)
				r.Post("/close-all", s.handleCloseAll)
			})

			r.Route("/account", func(r chi.Router) {
				r.Get("/summary", s.handleAccountSummary)
				r.Post("/allocate", s.handleAllocate)
			})

			r.Route("/tradesMenu", func(r chi.Router) {
				r.Get("/history", s.handleTradeHistory)
			})

			r.Route("/review", func(r chi.Router) {
				r.Get("/performance", s.handlePerformance)
			})

			r.Route("/strategies", func(r chi.Router) {
				r.Get("/", s.handleListStrategies)
				r.Post("/", s.handleCreateStrategy)
				r.Get("/slots", s.handleListSlots)
			})

			r.Route("/watchlist", func(r chi.Router) {
				r.Get("/", s.handleGetWatchlist)
				r.Post("/", s.handleAddWatchlist)
				r.Delete("/{id}", s.handleDeleteWatchlist)
			})
		})

		r.Route("/system", func(r chi.Router) {
			r.Get("/status", s.systemHandlers.HandleSystemStatus)
			r.Get("/database/stats", s.systemHandlers.HandleDatabaseStats)
			r.Get("/jobs", s.systemHandlers.HandleJobs)
		})
	})
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.log.Info().Int("port", s.cfg.Port).Msg("Starting HTTP server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("Shutting down HTTP server")
	return s.server.Shutdown(ctx)
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration_ms", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("HTTP request")
	})
}
