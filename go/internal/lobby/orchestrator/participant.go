package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/lobby/countdown"
	"github.com/mcdev12/tablematch/go/internal/lobby/finish"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/rs/zerolog/log"
)

var (
	ErrStopped        = errors.New("participant stopped")
	ErrNotSwiping     = errors.New("participant is not on the swiping page")
	ErrSwipingDone    = errors.New("no candidates left to swipe")
	ErrAlreadyRunning = errors.New("participant already running")
)

// View is a read-only copy of what the participant currently shows.
type View struct {
	Page     models.Phase
	Lobby    *models.Lobby
	Swipe    models.SwipeState
	Detached bool
}

type command struct {
	fn     func(ctx context.Context) error
	result chan error
}

type elapsedSignal struct {
	token uint64
	phase models.Phase
}

// Participant is one client of a lobby. Everything it does to the lobby happens on
// the goroutine running Run; the exported actions are queued onto it.
type Participant struct {
	cfg       Config
	lobbyID   string
	sessionID string
	gate      *gate.Gate

	commands chan command
	elapsed  chan elapsedSignal
	done     chan struct{}
	started  sync.Once

	// owned by the Run goroutine
	channel   *notify.Channel
	page      models.Phase
	entered   bool
	last      models.Phase // last page the gate let through
	token     uint64
	snapshot  *models.Lobby
	countdown *countdown.Countdown
	detector  *finish.Detector
	swipe     models.SwipeState
	retry     func(ctx context.Context) error
	detached  bool

	mu   sync.Mutex
	view View
}

// New creates a participant for sessionID in lobbyID. It does nothing until Run.
func New(cfg Config, lobbyID, sessionID string) (*Participant, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	return &Participant{
		cfg:       cfg,
		lobbyID:   lobbyID,
		sessionID: sessionID,
		gate:      gate.NewGate(cfg.Service, cfg.Clock, cfg.MaxLobbyAge, cfg.IsNotFound),
		commands:  make(chan command),
		elapsed:   make(chan elapsedSignal),
		done:      make(chan struct{}),
		swipe:     models.NewSwipeState(),
	}, nil
}

// Run joins the lobby, enters the start page and processes events until ctx is
// cancelled or the participant detaches.
func (p *Participant) Run(ctx context.Context, start models.Phase) error {
	first := false
	p.started.Do(func() { first = true })
	if !first {
		return ErrAlreadyRunning
	}
	defer close(p.done)

	channel, err := notify.Open(ctx, p.cfg.Bus, p.lobbyID, p.sessionID)
	if err != nil {
		return err
	}
	p.channel = channel

	refresh := p.cfg.Clock.NewTicker(p.cfg.RefreshInterval)
	defer func() {
		refresh.Stop()
		p.leavePage()
		if err := p.channel.Close(); err != nil {
			log.Warn().Err(err).Str("lobby_id", p.lobbyID).Msg("failed to close lobby channel")
		}
	}()

	p.join(ctx)
	p.enter(ctx, start)
	p.publishView()

	for !p.detached {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case cmd := <-p.commands:
			cmd.result <- cmd.fn(ctx)
		case e, ok := <-p.channel.Events():
			if !ok {
				return fmt.Errorf("lobby %s: %w", p.lobbyID, notify.ErrBusClosed)
			}
			p.handleEvent(ctx, e)
		case sig := <-p.elapsed:
			if sig.token != p.token {
				continue
			}
			p.onElapsed(ctx, sig.phase)
		case <-refresh.Chan():
			p.refresh(ctx)
		}
		p.publishView()
	}
	return nil
}

func (p *Participant) join(ctx context.Context) {
	_, err := p.cfg.Service.JoinLobby(ctx, p.lobbyID, p.sessionID)
	switch {
	case err == nil:
	case p.cfg.IsNotFound(err), errors.Is(err, lobby.ErrLobbyStarted):
		// the gate turns these into redirects
	default:
		log.Warn().Err(err).Str("lobby_id", p.lobbyID).Str("session_id", p.sessionID).Msg("failed to join lobby")
	}
}

// View returns the current page state.
func (p *Participant) View() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	v := p.view
	v.Lobby = v.Lobby.Clone()
	v.Swipe.VoteVector = append([]int(nil), v.Swipe.VoteVector...)
	return v
}

func (p *Participant) publishView() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.view = View{
		Page:     p.page,
		Lobby:    p.snapshot.Clone(),
		Swipe:    models.SwipeState{SwipeIndex: p.swipe.SwipeIndex, VoteVector: append([]int(nil), p.swipe.VoteVector...)},
		Detached: p.detached,
	}
}

// Done is closed when Run returns.
func (p *Participant) Done() <-chan struct{} {
	return p.done
}

func (p *Participant) do(ctx context.Context, fn func(ctx context.Context) error) error {
	cmd := command{fn: fn, result: make(chan error, 1)}
	select {
	case p.commands <- cmd:
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-cmd.result:
		return err
	case <-p.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Leave stops the participant's page tasks and closes its channel. Writes already
// sent to the service stay.
func (p *Participant) Leave(ctx context.Context) error {
	return p.do(ctx, func(context.Context) error {
		p.detach()
		return nil
	})
}

func (p *Participant) detach() {
	p.leavePage()
	p.detached = true
}

func (p *Participant) navigate(path, message string) {
	log.Debug().
		Str("lobby_id", p.lobbyID).
		Str("session_id", p.sessionID).
		Str("path", path).
		Str("message", message).
		Msg("navigating")
	p.cfg.Navigate(path, message)
}

func (p *Participant) isHost() bool {
	return p.snapshot != nil && p.snapshot.IsHost(p.sessionID)
}

func (p *Participant) setSnapshot(l *models.Lobby) {
	if l == nil {
		return
	}
	p.snapshot = l
	p.cfg.OnUpdate(l.Clone())
}

func (p *Participant) publish(ctx context.Context, t events.Type, payload any) {
	if err := p.channel.Publish(ctx, t, payload); err != nil {
		log.Error().Err(err).Str("lobby_id", p.lobbyID).Str("type", string(t)).Msg("failed to publish lobby event")
	}
}
