// Package server exposes the sync service over HTTP: on-demand task
// triggers, task status, the error ledger, the data doctor, watchlist
// management, and realtime quotes.
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

	"github.com/leeksaver/leeksaver/internal/cache"
	"github.com/leeksaver/leeksaver/internal/database"
	"github.com/leeksaver/leeksaver/internal/domain"
	"github.com/leeksaver/leeksaver/internal/repository"
	"github.com/leeksaver/leeksaver/internal/syncer"
	"github.com/leeksaver/leeksaver/internal/task"
)

// Trigger submits a named task on demand, optionally narrowed to specific
// codes or a start date. Satisfied by *jobs.Scheduler.
type Trigger interface {
	TriggerScoped(name string, scope syncer.Scope) (known, scopable, accepted bool)
}

// ScheduleInfo reports when a task next fires. Satisfied by *jobs.Scheduler.
type ScheduleInfo interface {
	NextRun(name string) (time.Time, bool)
}

// AuditRunner runs one doctor audit. Satisfied by *doctor.Doctor.
type AuditRunner interface {
	Run(ctx context.Context) (*domain.AuditReport, error)
}

// Config wires the server's dependencies.
type Config struct {
	Log       zerolog.Logger
	Port      int
	DB        *database.DB
	Registry  *task.Registry
	Trigger   Trigger
	Schedule  ScheduleInfo
	Progress  *syncer.Progress
	Doctor    AuditRunner
	Status    *repository.StatusRepository
	Errors    *repository.SyncErrorRepository
	Audits    *repository.AuditRepository
	Watchlist *repository.WatchlistRepository
	Quotes    *cache.RealtimeCache
}

// Server is the HTTP front of the sync service.
type Server struct {
	router    *chi.Mux
	server    *http.Server
	log       zerolog.Logger
	db        *database.DB
	registry  *task.Registry
	trigger   Trigger
	schedule  ScheduleInfo
	progress  *syncer.Progress
	doctor    AuditRunner
	status    *repository.StatusRepository
	errors    *repository.SyncErrorRepository
	audits    *repository.AuditRepository
	watchlist *repository.WatchlistRepository
	quotes    *cache.RealtimeCache
}

// New creates the server and installs all routes.
func New(cfg Config) *Server {
	s := &Server{
		router:    chi.NewRouter(),
		log:       cfg.Log.With().Str("component", "server").Logger(),
		db:        cfg.DB,
		registry:  cfg.Registry,
		trigger:   cfg.Trigger,
		schedule:  cfg.Schedule,
		progress:  cfg.Progress,
		doctor:    cfg.Doctor,
		status:    cfg.Status,
		errors:    cfg.Errors,
		audits:    cfg.Audits,
		watchlist: cfg.Watchlist,
		quotes:    cfg.Quotes,
	}

	s.setupMiddleware()
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Route("/sync", func(r chi.Router) {
			r.Get("/tasks", s.handleListTasks)
			r.Post("/trigger/{task}", s.handleTrigger)
			r.Get("/status", s.handleStatus)
			r.Get("/errors", s.handleSyncErrors)
		})

		r.Route("/doctor", func(r chi.Router) {
			r.Post("/run", s.handleDoctorRun)
			r.Get("/latest", s.handleDoctorLatest)
		})

		r.Route("/watchlist", func(r chi.Router) {
			r.Get("/", s.handleWatchlistList)
			r.Post("/", s.handleWatchlistAdd)
			r.Delete("/{code}", s.handleWatchlistRemove)
		})

		r.Get("/quotes", s.handleQuotes)
	})
}

// Router exposes the handler for tests.
func (s *Server) Router() http.Handler { return s.router }

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("http server listening")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
