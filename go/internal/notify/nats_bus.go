package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"
)

type NATSConfig struct {
	URL           string
	StreamName    string
	SubjectPrefix string
	ConsumerName  string
	// InstanceID separates each gateway's consumer so every replica sees every
	// event. Empty means a random id per process.
	InstanceID        string
	InactiveThreshold time.Duration // consumers of gone replicas are removed after this
	MaxReconnects     int
	ReconnectWait     time.Duration
	MaxAge            time.Duration // how long the stream keeps events
	DuplicateWindow   time.Duration
	AckWait           time.Duration
	MaxDeliver        int
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:               nats.DefaultURL,
		StreamName:        "LOBBY_EVENTS",
		SubjectPrefix:     "lobby.events",
		ConsumerName:      "lobby-gateway",
		InstanceID:        hostname(),
		InactiveThreshold: time.Hour,
		MaxReconnects:     -1, // Infinite
		ReconnectWait:     2 * time.Second,
		MaxAge:            time.Hour,
		DuplicateWindow:   2 * time.Minute,
		AckWait:           30 * time.Second,
		MaxDeliver:        5,
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return ""
	}
	return h
}

// consumerName returns the durable name for this instance. JetStream names cannot
// hold '.', '*', '>' or whitespace.
func (c NATSConfig) consumerName() string {
	id := strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n', '\r', '/', '\\':
			return '_'
		}
		return r
	}, c.InstanceID)
	if id == "" {
		return c.ConsumerName
	}
	return c.ConsumerName + "-" + id
}

// NATSBus publishes lobby events to a JetStream stream. Per-lobby subscriptions use
// core NATS so a participant only sees live traffic; SubscribeAll uses a durable
// consumer per gateway instance so a restarted gateway resumes where it left off.
type NATSBus struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config NATSConfig
}

func NewNATSBus(ctx context.Context, cfg NATSConfig) (*NATSBus, error) {
	if cfg.InstanceID == "" {
		cfg.InstanceID = uuid.NewString()
	}
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			log.Error().Err(err).Msg("NATS error")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	b := &NATSBus{nc: nc, js: js, config: cfg}
	if err := b.ensureStream(ctx); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return b, nil
}

func (b *NATSBus) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        b.config.StreamName,
		Description: "Lobby notification stream",
		Subjects:    []string{b.config.SubjectPrefix + ".>"},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      b.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Replicas:    1,
		Duplicates:  b.config.DuplicateWindow,
	}

	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		if _, err = b.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("created JetStream stream")
		return nil
	}

	info, err := stream.Info(ctx)
	if err != nil {
		return fmt.Errorf("get stream info: %w", err)
	}
	if info.Config.MaxAge != sc.MaxAge || info.Config.Duplicates != sc.Duplicates {
		if _, err = b.js.UpdateStream(ctx, sc); err != nil {
			return fmt.Errorf("update stream: %w", err)
		}
		log.Info().Str("stream", b.config.StreamName).Msg("updated JetStream stream")
	}
	return nil
}

func (b *NATSBus) subject(lobbyID string) string {
	return b.config.SubjectPrefix + "." + lobbyID
}

func (b *NATSBus) Publish(ctx context.Context, e events.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	subject := b.subject(e.LobbyID)
	ack, err := b.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(e.Type)},
			"Lobby-ID":   []string{e.LobbyID},
			"Event-ID":   []string{e.ID},
		},
	},
		jetstream.WithMsgID(e.ID),
		jetstream.WithExpectStream(b.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", e.ID).
		Uint64("sequence", ack.Sequence).
		Msg("published lobby event")
	return nil
}

type natsSubscription struct {
	ch   chan events.Event
	stop func()
	once sync.Once
	mu   sync.Mutex
	done bool
}

func newNATSSubscription() *natsSubscription {
	return &natsSubscription{ch: make(chan events.Event, subscriberBuffer)}
}

func (s *natsSubscription) Events() <-chan events.Event {
	return s.ch
}

// push delivers e unless the subscription is closed. It reports whether e was
// accepted.
func (s *natsSubscription) push(e events.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return false
	}
	select {
	case s.ch <- e:
		return true
	default:
		log.Warn().Str("lobby_id", e.LobbyID).Str("event_type", string(e.Type)).Msg("subscriber buffer full, dropping event")
		return false
	}
}

func (s *natsSubscription) Close() error {
	s.once.Do(func() {
		if s.stop != nil {
			s.stop()
		}
		s.mu.Lock()
		s.done = true
		close(s.ch)
		s.mu.Unlock()
	})
	return nil
}

func (b *NATSBus) Subscribe(_ context.Context, lobbyID string) (Subscription, error) {
	sub := newNATSSubscription()
	ns, err := b.nc.Subscribe(b.subject(lobbyID), func(msg *nats.Msg) {
		var e events.Event
		if err := json.Unmarshal(msg.Data, &e); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject).Msg("failed to decode lobby event")
			return
		}
		sub.push(e)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe to %s: %w", lobbyID, err)
	}
	sub.stop = func() {
		if err := ns.Unsubscribe(); err != nil {
			log.Error().Err(err).Str("lobby_id", lobbyID).Msg("failed to unsubscribe")
		}
	}
	return sub, nil
}

// SubscribeAll attaches to this instance's durable gateway consumer, creating it on
// first use. Replicas never share a consumer, so each receives every event.
func (b *NATSBus) SubscribeAll(ctx context.Context) (Subscription, error) {
	stream, err := b.js.Stream(ctx, b.config.StreamName)
	if err != nil {
		return nil, fmt.Errorf("get stream: %w", err)
	}

	name := b.config.consumerName()
	consumer, err := stream.CreateOrUpdateConsumer(ctx, jetstream.ConsumerConfig{
		Name:              name,
		Durable:           name,
		Description:       "Lobby gateway consumer",
		FilterSubject:     b.config.SubjectPrefix + ".>",
		DeliverPolicy:     jetstream.DeliverNewPolicy,
		AckPolicy:         jetstream.AckExplicitPolicy,
		MaxDeliver:        b.config.MaxDeliver,
		AckWait:           b.config.AckWait,
		ReplayPolicy:      jetstream.ReplayInstantPolicy,
		InactiveThreshold: b.config.InactiveThreshold,
	})
	if err != nil {
		return nil, fmt.Errorf("ensure consumer: %w", err)
	}

	sub := newNATSSubscription()
	cc, err := consumer.Consume(func(msg jetstream.Msg) {
		var e events.Event
		if err := json.Unmarshal(msg.Data(), &e); err != nil {
			log.Error().Err(err).Str("subject", msg.Subject()).Msg("failed to decode lobby event")
			// malformed messages are never retried
			if termErr := msg.Term(); termErr != nil {
				log.Error().Err(termErr).Msg("failed to TERM message")
			}
			return
		}
		if !sub.push(e) {
			if nakErr := msg.Nak(); nakErr != nil {
				log.Error().Err(nakErr).Msg("failed to NAK message")
			}
			return
		}
		if ackErr := msg.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("failed to ACK message")
		}
	})
	if err != nil {
		return nil, fmt.Errorf("start consumer: %w", err)
	}
	sub.stop = cc.Stop

	log.Info().
		Str("consumer", name).
		Str("stream", b.config.StreamName).
		Msg("consuming lobby events")
	return sub, nil
}

func (b *NATSBus) Close() error {
	if b.nc != nil {
		if err := b.nc.Drain(); err != nil {
			b.nc.Close()
			return fmt.Errorf("drain NATS connection: %w", err)
		}
	}
	return nil
}
