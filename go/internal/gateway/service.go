package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/docstore"
)

// Config holds configuration for the gateway
type Config struct {
	Collections    []string
	AllowedOrigins []string
	AuthRateLimit  rate.Limit
	AuthBurst      int
	Connection     ConnectionConfig
	Version        string
}

// DefaultConfig returns default configuration for the gateway
func DefaultConfig() Config {
	return Config{
		Collections:    []string{"duels", "matchHistory"},
		AllowedOrigins: []string{"*"},
		AuthRateLimit:  rate.Every(time.Second),
		AuthBurst:      10,
		Connection:     DefaultConnectionConfig(),
		Version:        "dev",
	}
}

// Dependencies are the services the gateway exposes. Auth, Decks and Cards
// are optional; their routes are skipped when nil.
type Dependencies struct {
	Store    docstore.Store
	Auth     auth.Authenticator
	Decks    DeckService
	Cards    CardLookup
	Registry *prometheus.Registry
}

// Service serves the HTTP API and document streams.
type Service struct {
	config            Config
	deps              Dependencies
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	handler           http.Handler
}

// NewService wires the handlers and builds the router.
func NewService(config Config, deps Dependencies) (*Service, error) {
	if deps.Store == nil {
		return nil, errors.New("gateway: store is required")
	}
	if len(config.Collections) == 0 {
		config.Collections = DefaultConfig().Collections
	}
	if deps.Registry == nil {
		deps.Registry = prometheus.NewRegistry()
	}

	metrics := NewMetrics(deps.Registry)
	collections := newCollectionSet(config.Collections)
	connectionManager := NewConnectionManager(deps.Store, config.Connection, metrics)

	s := &Service{
		config:            config,
		deps:              deps,
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager, collections),
	}
	s.handler = s.routes(metrics, collections)
	return s, nil
}

func (s *Service) routes(metrics *Metrics, collections collectionSet) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Instrument)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/info", s.handleInfo)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Registry, promhttp.HandlerOpts{}))

	r.Get("/ws/docs", s.wsHandler.HandleDocStream)
	r.Get("/ws/stats", s.wsHandler.HandleConnectionStats)

	r.Route("/api", func(r chi.Router) {
		NewDocsHandler(s.deps.Store, collections).Routes(r)
		if s.deps.Auth != nil {
			limiter := NewIPRateLimiter(s.config.AuthRateLimit, s.config.AuthBurst)
			NewAuthHandler(s.deps.Auth, limiter).Routes(r)
			if s.deps.Decks != nil {
				NewDecksHandler(s.deps.Decks, s.deps.Auth).Routes(r)
			}
		}
		if s.deps.Cards != nil {
			NewCardsHandler(s.deps.Cards).Routes(r)
		}
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   s.config.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With"},
		AllowCredentials: false,
		MaxAge:           86400,
	})
	return c.Handler(r)
}

// InfoResponse is the body of GET /info.
type InfoResponse struct {
	Service     string   `json:"service"`
	Version     string   `json:"version"`
	Collections []string `json:"collections"`
	Connections int      `json:"connections"`
}

func (s *Service) handleInfo(w http.ResponseWriter, r *http.Request) {
	stats := s.connectionManager.GetConnectionStats()
	writeJSON(w, http.StatusOK, InfoResponse{
		Service:     "duelpad-gateway",
		Version:     s.config.Version,
		Collections: s.config.Collections,
		Connections: stats.TotalConnections,
	})
}

// Handler returns the root handler, CORS included.
func (s *Service) Handler() http.Handler {
	return s.handler
}

// Start runs the connection manager until ctx is cancelled.
func (s *Service) Start(ctx context.Context) error {
	log.Info().Strs("collections", s.config.Collections).Msg("starting gateway service")
	s.connectionManager.Start(ctx)
	log.Info().Msg("gateway service shutting down")
	return s.Stop()
}

// Stop releases the gateway. Connections close when Start's context ends.
func (s *Service) Stop() error {
	log.Info().Msg("gateway service stopped")
	return nil
}

// Stats reports the current stream connections.
func (s *Service) Stats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}
