package gateway

import (
	"context"
	"fmt"

	"github.com/go-chi/chi/v5"
	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/rs/zerolog/log"
)

// LobbyReader is what the gateway needs from the lobby service.
type LobbyReader interface {
	LobbyJoiner
	StateProvider
}

// Service is the lobby gateway: WebSocket connections fed from the notification bus
type Service struct {
	connectionManager *ConnectionManager
	wsHandler         *WebSocketHandler
	eventConsumer     *EventConsumer
	stateHandler      *StateHandler
}

// Config holds configuration for the lobby gateway service
type Config struct {
	ConnectionConfig ConnectionConfig
}

// DefaultConfig returns default configuration for the lobby gateway
func DefaultConfig() Config {
	return Config{
		ConnectionConfig: DefaultConnectionConfig(),
	}
}

// NewService creates a new lobby gateway service. It subscribes to the bus
// immediately so no event published after it returns is missed.
func NewService(ctx context.Context, config Config, bus notify.Bus, lobbies LobbyReader) (*Service, error) {
	connectionManager := NewConnectionManager(config.ConnectionConfig, bus, lobbies)

	eventConsumer, err := NewEventConsumer(ctx, connectionManager, bus)
	if err != nil {
		return nil, fmt.Errorf("failed to create event consumer: %w", err)
	}

	return &Service{
		connectionManager: connectionManager,
		wsHandler:         NewWebSocketHandler(connectionManager),
		eventConsumer:     eventConsumer,
		stateHandler:      NewStateHandler(lobbies),
	}, nil
}

// Start runs the gateway until ctx is cancelled
func (s *Service) Start(ctx context.Context) error {
	log.Info().Msg("starting lobby gateway service")

	go s.connectionManager.Start(ctx)

	go func() {
		if err := s.eventConsumer.Start(ctx); err != nil {
			log.Error().Err(err).Msg("event consumer failed")
		}
	}()

	<-ctx.Done()

	log.Info().Msg("lobby gateway service shutting down")
	return s.Stop()
}

// Stop shuts down the event consumer
func (s *Service) Stop() error {
	if err := s.eventConsumer.Stop(); err != nil {
		log.Error().Err(err).Msg("failed to stop event consumer")
	}
	log.Info().Msg("lobby gateway service stopped")
	return nil
}

// RegisterRoutes registers the WebSocket and state routes
func (s *Service) RegisterRoutes(r chi.Router) {
	s.wsHandler.RegisterRoutes(r)
	s.stateHandler.RegisterStateRoutes(r)
	log.Info().Msg("lobby gateway routes registered")
}

// GetStats returns statistics about the gateway service
func (s *Service) GetStats() ConnectionStats {
	return s.connectionManager.GetConnectionStats()
}

// BroadcastEvent delivers an event straight to connected clients without the bus
func (s *Service) BroadcastEvent(event *events.Event) {
	s.connectionManager.BroadcastToLobby(event)
}
