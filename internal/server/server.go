// Package server exposes the tracker over HTTP: the OpenSky passthrough
// endpoints, the reconciled view, Postgres history, a WebSocket feed and
// the authenticated refresh controls.
package server

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/internal/auth"
	"github.com/unklstewy/ffc-tracker/internal/collector"
	"github.com/unklstewy/ffc-tracker/internal/db"
	"github.com/unklstewy/ffc-tracker/internal/refresh"
	"github.com/unklstewy/ffc-tracker/pkg/config"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

// HistoryStore is the read side of the Postgres history store.
type HistoryStore interface {
	GetRecentFlights(ctx context.Context, hours int) ([]db.FlightSession, error)
	GetAircraftFlightHistory(ctx context.Context, registration string, hours int) ([]db.FlightSession, error)
	GetAircraftStats(ctx context.Context, registration string, days int) (db.AircraftStats, error)
	GetStats(ctx context.Context) (db.Stats, error)
}

// Options wires a Server to the rest of the tracker.
type Options struct {
	Config    *config.Config
	Collector *collector.Collector
	Refresh   *refresh.Controller
	Auth      *auth.Service

	// Store is nil when the database is disabled
	Store HistoryStore

	// Healthy reports database health; nil means no database
	Healthy func(ctx context.Context) bool

	Logger *zerolog.Logger
}

// Server holds the HTTP router and its dependencies.
type Server struct {
	cfg       *config.Config
	collector *collector.Collector
	refresh   *refresh.Controller
	auth      *auth.Service
	store     HistoryStore
	healthy   func(ctx context.Context) bool

	hub       *Hub
	upgrader  websocket.Upgrader
	logger    *zerolog.Logger
	startTime time.Time
	now       func() time.Time
}

// New creates a server and subscribes its WebSocket hub to new snapshots.
func New(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}

	s := &Server{
		cfg:       opts.Config,
		collector: opts.Collector,
		refresh:   opts.Refresh,
		auth:      opts.Auth,
		store:     opts.Store,
		healthy:   opts.Healthy,
		hub:       NewHub(logger),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(_ *http.Request) bool {
				return true
			},
		},
		logger:    logger,
		startTime: time.Now(),
		now:       time.Now,
	}

	s.collector.Subscribe(func(snap *reconcile.Snapshot) {
		s.hub.Broadcast(s.viewMessage(snap))
	})

	return s
}

// Start runs the WebSocket hub until ctx is done.
func (s *Server) Start(ctx context.Context) {
	go s.hub.Run(ctx)
}

// Hub returns the WebSocket hub.
func (s *Server) Hub() *Hub {
	return s.hub
}

// Handler returns the HTTP handler with all routes.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(s.logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/", s.handleIndex)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/live/all", s.handleLive)
		r.Get("/comprehensive/all", s.handleComprehensive)
		r.Get("/history/{registration}", s.handleHistory)
		r.Get("/view", s.handleView)
		r.Get("/flights/recent", s.handleRecentFlights)
		r.Get("/stats/{registration}", s.handleStats)
		r.Get("/ws", s.handleWebSocket)

		r.Route("/v1", func(r chi.Router) {
			r.Post("/auth/login", s.handleLogin)

			r.Group(func(r chi.Router) {
				r.Use(s.auth.Middleware)
				r.Use(auth.RequireRole(auth.RoleAdmin))

				r.Post("/refresh", s.handleRefresh)
				r.Get("/autorefresh", s.handleAutoRefreshStatus)
				r.Post("/autorefresh/start", s.handleAutoRefreshStart)
				r.Post("/autorefresh/stop", s.handleAutoRefreshStop)
			})
		})
	})

	return r
}

func (s *Server) viewMessage(snap *reconcile.Snapshot) Message {
	return Message{
		Type:      "view",
		Timestamp: s.now(),
		Data:      reconcile.Reconcile(snap),
	}
}

// requestLogger logs each request with the request id and puts a request
// scoped logger in the context.
func requestLogger(logger *zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			reqLogger := logger.With().
				Str("request_id", middleware.GetReqID(r.Context())).
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Logger()
			ctx := reqLogger.WithContext(r.Context())

			next.ServeHTTP(ww, r.WithContext(ctx))

			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			reqLogger.Info().
				Int("status", status).
				Int("bytes", ww.BytesWritten()).
				Dur("duration", time.Since(start)).
				Str("remote_addr", r.RemoteAddr).
				Msg("HTTP request")
		})
	}
}
