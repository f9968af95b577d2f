package main

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"
	"golang.org/x/time/rate"

	"github.com/mcdev12/duelpad/go/clients/cardapi"
	"github.com/mcdev12/duelpad/go/internal/auth"
	"github.com/mcdev12/duelpad/go/internal/decks"
	"github.com/mcdev12/duelpad/go/internal/docstore"
	"github.com/mcdev12/duelpad/go/internal/docstore/firestorestore"
	"github.com/mcdev12/duelpad/go/internal/docstore/kvstore"
	"github.com/mcdev12/duelpad/go/internal/docstore/pgstore"
	"github.com/mcdev12/duelpad/go/internal/duel/history"
	"github.com/mcdev12/duelpad/go/internal/gateway"
	"github.com/mcdev12/duelpad/go/internal/users"
)

type Services struct {
	Store    docstore.Store
	Gateway  *gateway.Service
	Relay    *history.Relay
	Registry *prometheus.Registry

	closers []func() error
}

// Close releases everything setupServices opened, newest first.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			log.Error().Err(err).Msg("failed to close service")
		}
	}
}

func setupStore(ctx context.Context, cfg *Config, clock clockwork.Clock) (docstore.Store, error) {
	switch cfg.Store.Backend {
	case "postgres":
		pgCfg := pgstore.DefaultConfig()
		pgCfg.DatabaseURL = cfg.DB.DSN()
		pgCfg.NotifyChannel = cfg.Store.NotifyChannel
		if cfg.Store.FallbackInterval > 0 {
			pgCfg.FallbackInterval = cfg.Store.FallbackInterval
		}
		return pgstore.New(ctx, pgCfg)
	case "nats":
		kvCfg := kvstore.DefaultConfig()
		kvCfg.URL = cfg.NATSURL
		kvCfg.BucketPrefix = cfg.Store.BucketPrefix
		kvCfg.Clock = clock
		return kvstore.New(ctx, kvCfg)
	case "firestore":
		return firestorestore.New(ctx, firestorestore.Config{ProjectID: cfg.Store.ProjectID, Clock: clock})
	default:
		return docstore.NewMemoryStoreWithClock(clock), nil
	}
}

func setupServices(ctx context.Context, cfg *Config, database *sql.DB, version string) (*Services, error) {
	// Wire up dependency injection chain
	// Store → Repository layer → App layer → Gateway
	services := &Services{Registry: prometheus.NewRegistry()}
	services.Registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	clock := clockwork.NewRealClock()
	store, err := setupStore(ctx, cfg, clock)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s store: %w", cfg.Store.Backend, err)
	}
	services.Store = store
	services.closers = append(services.closers, store.Close)

	// Users and auth
	usersApp := users.NewApp(users.NewRepository(store), clock)
	authService := auth.NewService(usersApp, cfg.Auth.Secret, cfg.Auth.TokenTTL, clock)

	// Decks
	var decksRepo decks.DecksRepository = decks.NewDocRepository(store)
	if database != nil {
		decksRepo = decks.NewSQLRepository(database)
	}
	decksApp := decks.NewApp(decksRepo, clock)

	// Cards
	cards := cardapi.NewClient(cardapi.Config{
		BaseURL:   cfg.Cards.BaseURL,
		RateLimit: rate.Limit(cfg.Cards.RateLimit),
	})

	// Gateway
	gwCfg := gateway.DefaultConfig()
	gwCfg.Collections = cfg.Server.Collections
	gwCfg.AllowedOrigins = cfg.Server.AllowedOrigins
	gwCfg.AuthRateLimit = rate.Limit(cfg.Auth.RateLimit)
	gwCfg.AuthBurst = cfg.Auth.Burst
	gwCfg.Version = version
	gw, err := gateway.NewService(gwCfg, gateway.Dependencies{
		Store:    store,
		Auth:     authService,
		Decks:    decksApp,
		Cards:    cards,
		Registry: services.Registry,
	})
	if err != nil {
		services.Close()
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	services.Gateway = gw

	// History relay
	if cfg.History.Enabled && database != nil {
		metrics := history.NewPrometheusMetrics(services.Registry)
		var publisher history.EventPublisher
		if cfg.History.Publish {
			jsCfg := history.DefaultJetStreamConfig()
			jsCfg.URL = cfg.NATSURL
			js, err := history.NewJetStreamPublisher(ctx, jsCfg)
			if err != nil {
				services.Close()
				return nil, fmt.Errorf("failed to create history publisher: %w", err)
			}
			services.closers = append(services.closers, js.Close)
			publisher = history.NewMetricPublisher(js, metrics)
		}

		relayCfg := history.DefaultRelayConfig()
		if cfg.History.PollInterval > 0 {
			relayCfg.PollInterval = cfg.History.PollInterval
		}
		services.Relay = history.NewRelay(store, history.NewSQLRepository(database), publisher, metrics, clock, relayCfg)
	}

	return services, nil
}
