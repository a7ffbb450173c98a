package gateway

import (
	"context"
	"fmt"

	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/rs/zerolog/log"
)

// EventConsumer forwards every lobby event on the bus to WebSocket clients
type EventConsumer struct {
	connectionManager *ConnectionManager
	sub               notify.Subscription
}

// NewEventConsumer subscribes to all lobbies on bus
func NewEventConsumer(ctx context.Context, cm *ConnectionManager, bus notify.Bus) (*EventConsumer, error) {
	sub, err := bus.SubscribeAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("subscribe to lobby events: %w", err)
	}
	return &EventConsumer{connectionManager: cm, sub: sub}, nil
}

// Start forwards events until ctx is done or the subscription closes
func (ec *EventConsumer) Start(ctx context.Context) error {
	log.Info().Msg("starting lobby event consumer")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("event consumer shutting down")
			return nil
		case e, ok := <-ec.sub.Events():
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("lobby event subscription closed: %w", notify.ErrBusClosed)
			}
			log.Debug().
				Str("event_id", e.ID).
				Str("lobby_id", e.LobbyID).
				Str("event_type", string(e.Type)).
				Msg("forwarding lobby event")
			ec.connectionManager.BroadcastToLobby(&e)
		}
	}
}

// Stop closes the subscription
func (ec *EventConsumer) Stop() error {
	log.Info().Msg("stopping event consumer")
	return ec.sub.Close()
}
