package notify

import (
	"context"
	"errors"
	"sync"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/metrics"
	"github.com/rs/zerolog/log"
)

// subscriberBuffer is the number of undelivered events a subscription holds before
// new events are dropped for it.
const subscriberBuffer = 256

var ErrBusClosed = errors.New("notification bus closed")

// Subscription is a stream of events. Events is closed after Close.
type Subscription interface {
	Events() <-chan events.Event
	Close() error
}

// Bus carries lobby events between participants.
type Bus interface {
	Publish(ctx context.Context, e events.Event) error
	// Subscribe receives every event published for lobbyID from now on.
	Subscribe(ctx context.Context, lobbyID string) (Subscription, error)
	// SubscribeAll receives events for every lobby.
	SubscribeAll(ctx context.Context) (Subscription, error)
	Close() error
}

// MemoryBus fans events out to in-process subscribers.
type MemoryBus struct {
	mu     sync.RWMutex
	lobby  map[string]map[*memorySubscription]struct{}
	all    map[*memorySubscription]struct{}
	closed bool
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{
		lobby: make(map[string]map[*memorySubscription]struct{}),
		all:   make(map[*memorySubscription]struct{}),
	}
}

type memorySubscription struct {
	bus     *MemoryBus
	lobbyID string // empty for SubscribeAll
	ch      chan events.Event
	once    sync.Once
}

func (s *memorySubscription) Events() <-chan events.Event {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.once.Do(func() {
		s.bus.remove(s)
	})
	return nil
}

func (b *MemoryBus) Publish(_ context.Context, e events.Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrBusClosed
	}
	for sub := range b.lobby[e.LobbyID] {
		deliver(sub, e)
	}
	for sub := range b.all {
		deliver(sub, e)
	}
	return nil
}

func deliver(sub *memorySubscription, e events.Event) {
	select {
	case sub.ch <- e:
	default:
		log.Warn().
			Str("lobby_id", e.LobbyID).
			Str("event_type", string(e.Type)).
			Msg("subscriber buffer full, dropping event")
	}
}

func (b *MemoryBus) Subscribe(_ context.Context, lobbyID string) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &memorySubscription{bus: b, lobbyID: lobbyID, ch: make(chan events.Event, subscriberBuffer)}
	if b.lobby[lobbyID] == nil {
		b.lobby[lobbyID] = make(map[*memorySubscription]struct{})
	}
	b.lobby[lobbyID][sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBus) SubscribeAll(_ context.Context) (Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrBusClosed
	}
	sub := &memorySubscription{bus: b, ch: make(chan events.Event, subscriberBuffer)}
	b.all[sub] = struct{}{}
	return sub, nil
}

func (b *MemoryBus) remove(sub *memorySubscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub.lobbyID == "" {
		if _, ok := b.all[sub]; !ok {
			return
		}
		delete(b.all, sub)
	} else {
		subs, ok := b.lobby[sub.lobbyID]
		if !ok {
			return
		}
		if _, ok := subs[sub]; !ok {
			return
		}
		delete(subs, sub)
		if len(subs) == 0 {
			delete(b.lobby, sub.lobbyID)
		}
	}
	close(sub.ch)
}

// Close closes every open subscription.
func (b *MemoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.lobby {
		for sub := range subs {
			close(sub.ch)
		}
	}
	for sub := range b.all {
		close(sub.ch)
	}
	b.lobby = make(map[string]map[*memorySubscription]struct{})
	b.all = make(map[*memorySubscription]struct{})
	return nil
}

// instrumentedBus records publish outcomes.
type instrumentedBus struct {
	Bus
	metrics metrics.Collector
}

// WithMetrics wraps bus so every Publish is counted by collector.
func WithMetrics(bus Bus, collector metrics.Collector) Bus {
	return &instrumentedBus{Bus: bus, metrics: collector}
}

func (b *instrumentedBus) Publish(ctx context.Context, e events.Event) error {
	err := b.Bus.Publish(ctx, e)
	b.metrics.RecordEventPublished(string(e.Type), err == nil)
	return err
}
