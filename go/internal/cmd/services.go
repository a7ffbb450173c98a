package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/mcdev12/tablematch/go/internal/categories"
	"github.com/mcdev12/tablematch/go/internal/gateway"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/metrics"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/mcdev12/tablematch/go/internal/sessions"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

type Services struct {
	Lobby      *lobby.Service
	Gateway    *gateway.Service
	Categories *categories.Handler
	Registry   *prometheus.Registry

	closers []io.Closer
}

// Close releases every backing connection in reverse order of creation.
func (s *Services) Close() {
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close resource")
		}
	}
}

func setupServices(ctx context.Context, config *Config) (_ *Services, err error) {
	// Wire up dependency injection chain
	// Storage layer → App layer → Service layer → Gateway
	s := &Services{Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	collector := metrics.NewPrometheus(s.Registry)

	// Lobbies
	var repo lobby.Repository
	switch config.Lobby.Store {
	case storePostgres:
		var database *sql.DB
		database, err = setupDatabase(config.Lobby.MigrateOnStart)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, database)
		repo = lobby.NewPostgresRepository(database)
	default:
		repo = lobby.NewMemoryRepository()
	}

	// Sessions
	var store sessions.Store
	switch config.Sessions.Store {
	case storeRedis:
		var rs *sessions.RedisStore
		rs, err = sessions.NewRedisStore(ctx, config.redisConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		s.closers = append(s.closers, rs)
		store = rs
	default:
		store = sessions.NewMemoryStore()
	}

	lobbyApp := lobby.NewApp(repo, store,
		lobby.WithMetrics(collector),
		lobby.WithMaxLobbyAge(config.Lobby.MaxAge),
	)
	s.Lobby = lobby.NewService(lobbyApp)

	// Notification bus
	var bus notify.Bus
	switch config.Bus.Kind {
	case busNATS:
		bus, err = notify.NewNATSBus(ctx, config.natsConfig())
		if err != nil {
			return nil, fmt.Errorf("failed to connect to nats: %w", err)
		}
	default:
		bus = notify.NewMemoryBus()
	}
	s.closers = append(s.closers, bus)

	s.Gateway, err = gateway.NewService(ctx, gateway.DefaultConfig(), bus, lobbyApp)
	if err != nil {
		return nil, err
	}

	// Categories
	index, err := setupCategoryIndex(config.Categories.CatalogPath)
	if err != nil {
		return nil, err
	}
	s.Categories = categories.NewHandler(index, config.Categories.DefaultRegion)

	log.Info().
		Str("lobby_store", config.Lobby.Store).
		Str("session_store", config.Sessions.Store).
		Str("bus", config.Bus.Kind).
		Strs("regions", index.Regions()).
		Msg("services initialized")
	return s, nil
}

func setupCategoryIndex(path string) (*categories.Index, error) {
	if path == "" {
		return categories.NewDefaultIndex()
	}
	entries, err := categories.LoadCatalogFile(path)
	if err != nil {
		return nil, err
	}
	return categories.Build(entries), nil
}
