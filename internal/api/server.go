package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"courier/pkg/interfaces"
)

// ConnectionCounter reports open WebSocket connections
type ConnectionCounter interface {
	Count() int
}

// OnlineLister reports online identities
type OnlineLister interface {
	OnlineIdentities() []string
}

// ARCHITECTURAL DISCOVERY: HTTP API layer serves as pure interface between external clients and internal components
// Clean separation - no business logic, only HTTP handling and JSON serialization
type Server struct {
	store       interfaces.ConversationStore
	connections ConnectionCounter
	presence    OnlineLister
	websocket   http.Handler
	clock       clock.Clock
	started     time.Time
	logger      zerolog.Logger
	router      *chi.Mux
}

// NewServer wires the HTTP surface: /ws, /health and /metrics
func NewServer(
	store interfaces.ConversationStore,
	connections ConnectionCounter,
	presence OnlineLister,
	websocket http.Handler,
	clk clock.Clock,
	logger zerolog.Logger,
) *Server {
	if clk == nil {
		clk = clock.New()
	}

	s := &Server{
		store:       store,
		connections: connections,
		presence:    presence,
		websocket:   websocket,
		clock:       clk,
		started:     clk.Now(),
		logger:      logger.With().Str("component", "http").Logger(),
		router:      chi.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(requestMetrics)
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(requestLogger(s.logger))
	s.router.Use(chimw.Recoverer)

	// Browser dashboards poll /health cross-origin
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         86400,
	}))

	s.router.Handle("/ws", s.websocket)
	s.router.Handle("/metrics", promhttp.Handler())

	s.router.Group(func(r chi.Router) {
		r.Use(jsonMiddleware)
		r.Get("/health", s.healthCheck)
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status      string  `json:"status"`
	Uptime      float64 `json:"uptime"`
	Connections int     `json:"connections"`
	OnlineUsers int     `json:"onlineUsers"`
	Store       string  `json:"store"`
}

// healthCheck reports liveness plus connection counts; 503 when the store is unreachable
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	response := HealthResponse{
		Status:      "ok",
		Uptime:      s.clock.Since(s.started).Seconds(),
		Connections: s.connections.Count(),
		OnlineUsers: len(s.presence.OnlineIdentities()),
		Store:       "ok",
	}

	code := http.StatusOK
	if err := s.store.HealthCheck(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("store health check failed")
		response.Status = "degraded"
		response.Store = "unavailable"
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(response); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode health response")
	}
}
