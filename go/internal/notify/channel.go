package notify

import (
	"context"
	"fmt"
	"sync"

	"github.com/mcdev12/tablematch/go/internal/events"
)

// Channel is one session's connection to a lobby's notifications. Events published
// through it follow the relay table, and Events only yields what the session should
// see.
type Channel struct {
	bus       Bus
	lobbyID   string
	sessionID string
	sub       Subscription
	out       chan events.Event
	done      chan struct{}
	closeOnce sync.Once
}

// Open subscribes sessionID to lobbyID on bus.
func Open(ctx context.Context, bus Bus, lobbyID, sessionID string) (*Channel, error) {
	sub, err := bus.Subscribe(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to lobby %s: %w", lobbyID, err)
	}
	c := &Channel{
		bus:       bus,
		lobbyID:   lobbyID,
		sessionID: sessionID,
		sub:       sub,
		out:       make(chan events.Event, subscriberBuffer),
		done:      make(chan struct{}),
	}
	go c.pump()
	return c, nil
}

func (c *Channel) pump() {
	defer close(c.out)
	for {
		select {
		case <-c.done:
			return
		case e, ok := <-c.sub.Events():
			if !ok {
				return
			}
			if !e.DeliverTo(c.sessionID) {
				continue
			}
			select {
			case c.out <- e:
			case <-c.done:
				return
			}
		}
	}
}

// LobbyID returns the lobby the channel is scoped to.
func (c *Channel) LobbyID() string {
	return c.lobbyID
}

// SessionID returns the session that owns the channel.
func (c *Channel) SessionID() string {
	return c.sessionID
}

// Publish sends an outbound event of type t. The relay table decides what peers
// receive.
func (c *Channel) Publish(ctx context.Context, t events.Type, payload any) error {
	e, err := events.New(c.lobbyID, c.sessionID, t, payload)
	if err != nil {
		return err
	}
	if err := c.bus.Publish(ctx, e); err != nil {
		return fmt.Errorf("failed to publish %s: %w", t, err)
	}
	return nil
}

// Events returns the filtered inbound stream. It is closed after Close.
func (c *Channel) Events() <-chan events.Event {
	return c.out
}

// Close unsubscribes. It is safe to call more than once.
func (c *Channel) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.sub.Close()
	})
	return err
}
