package finish

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

// Service is what the detector needs from the lobby service.
type Service interface {
	SubmitVotes(ctx context.Context, lobbyID, sessionID string, votes []int) (*models.Lobby, error)
	MarkSessionFinished(ctx context.Context, lobbyID, sessionID string) (bool, error)
}

// Publisher sends an outbound lobby event.
type Publisher interface {
	Publish(ctx context.Context, t events.Type, payload any) error
}

// Config configures a Detector for one session in one lobby.
type Config struct {
	Service   Service
	Publisher Publisher
	LobbyID   string
	SessionID string
	// OnLast runs after the session that completed the finished set has told its
	// peers. It is where the caller pulls its own countdown forward.
	OnLast func(ctx context.Context) error
}

// Detector is the participant side of the finish protocol. The service decides
// who is last; the detector only reacts to that answer.
type Detector struct {
	cfg Config

	mu        sync.Mutex
	submitted bool
	finished  bool
}

func New(cfg Config) *Detector {
	return &Detector{cfg: cfg}
}

// Complete submits the final vote vector and marks the session finished. When the
// service reports this call as the last one it broadcasts LOBBY_FINISHED_SWIPING
// and runs OnLast.
func (d *Detector) Complete(ctx context.Context, votes []int) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.finished {
		return false, nil
	}
	if err := d.submit(ctx, votes); err != nil {
		return false, err
	}

	isLast, err := d.cfg.Service.MarkSessionFinished(ctx, d.cfg.LobbyID, d.cfg.SessionID)
	if err != nil {
		return false, fmt.Errorf("failed to mark finished: %w", err)
	}
	d.finished = true
	if !isLast {
		return false, nil
	}

	log.Info().
		Str("lobby_id", d.cfg.LobbyID).
		Str("session_id", d.cfg.SessionID).
		Msg("last session finished swiping")
	if d.cfg.Publisher != nil {
		if err := d.cfg.Publisher.Publish(ctx, events.TypeLobbyFinishedSwiping, nil); err != nil {
			log.Error().Err(err).Str("lobby_id", d.cfg.LobbyID).Msg("failed to announce finished swiping")
		}
	}
	if d.cfg.OnLast != nil {
		if err := d.cfg.OnLast(ctx); err != nil {
			return true, fmt.Errorf("failed to override anchor: %w", err)
		}
	}
	return true, nil
}

// Elapse records the last-known vote vector when the countdown runs out before the
// session finished. It never marks the session finished.
func (d *Detector) Elapse(ctx context.Context, votes []int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.submitted || votes == nil {
		return nil
	}
	return d.submit(ctx, votes)
}

// Submitted reports whether this session's votes reached the service.
func (d *Detector) Submitted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.submitted
}

// Finished reports whether the session was marked finished.
func (d *Detector) Finished() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.finished
}

func (d *Detector) submit(ctx context.Context, votes []int) error {
	if d.submitted {
		return nil
	}
	_, err := d.cfg.Service.SubmitVotes(ctx, d.cfg.LobbyID, d.cfg.SessionID, votes)
	switch {
	case err == nil, errors.Is(err, lobby.ErrVotesAlreadySubmitted):
		d.submitted = true
		return nil
	default:
		return fmt.Errorf("failed to submit votes: %w", err)
	}
}
