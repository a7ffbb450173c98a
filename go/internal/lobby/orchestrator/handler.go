package orchestrator

import (
	"context"
	"strings"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

func (p *Participant) handleEvent(ctx context.Context, e events.Event) {
	log.Debug().
		Str("lobby_id", p.lobbyID).
		Str("session_id", p.sessionID).
		Str("type", string(e.Type)).
		Str("origin", e.Origin).
		Msg("lobby event")

	switch e.Type {
	case events.TypeRoomProgressNavigation:
		payload, err := events.ParsePayload(e)
		if err != nil {
			log.Warn().Err(err).Str("lobby_id", p.lobbyID).Msg("malformed navigation event")
			return
		}
		nav := payload.(events.NavigationPayload)
		p.navigate(nav.Path, nav.Message)
		phase, ok := p.phaseFromPath(nav.Path)
		if !ok {
			p.detach()
			return
		}
		if phase == p.page && p.entered {
			return
		}
		p.enter(ctx, phase)

	case events.TypeLobbyFinishedSwiping:
		if p.page != models.PhaseSwiping || p.countdown == nil {
			return
		}
		if anchor, changed := p.countdown.ApplyOverride(p.cfg.Clock.Now()); changed {
			log.Debug().Str("lobby_id", p.lobbyID).Time("anchor", anchor).Msg("countdown shortened")
		}

	case events.TypeRoomCategoryChange,
		events.TypeRoomPreferencesUpdate,
		events.TypeRoomVoteUpdate,
		events.TypeRoomBusinessesReceived:
		p.reload(ctx)

	case events.TypeLeaveRoomEarly:
		p.navigate(gate.HomePath, hostClosedMessage)
		p.detach()
	}
}

// phaseFromPath extracts the phase from a lobby route for this lobby.
func (p *Participant) phaseFromPath(path string) (models.Phase, bool) {
	rest, ok := strings.CutPrefix(path, "/lobby/"+p.lobbyID+"/")
	if !ok {
		return "", false
	}
	return models.ParsePhase(rest)
}

// reload fetches a fresh snapshot. It reports false when the participant detached
// or the fetch failed.
func (p *Participant) reload(ctx context.Context) (*models.Lobby, bool) {
	l, err := p.cfg.Service.GetLobby(ctx, p.lobbyID)
	switch {
	case err == nil:
		p.setSnapshot(l)
		return l, true
	case p.cfg.IsNotFound(err):
		p.navigate(gate.HomePath, string(gate.ReasonLobbyMissing))
		p.detach()
	default:
		log.Debug().Err(err).Str("lobby_id", p.lobbyID).Msg("failed to refresh lobby")
	}
	return nil, false
}

// refresh is the periodic task: retry whatever failed, pick up an earlier anchor
// and follow the lobby if its phase moved without us hearing about it.
func (p *Participant) refresh(ctx context.Context) {
	if !p.entered {
		p.enter(ctx, p.page)
		return
	}
	if p.retry != nil {
		fn := p.retry
		p.retry = nil
		p.runHostTask(ctx, fn)
	}
	if p.pendingCompletion() {
		if err := p.complete(ctx); err != nil {
			log.Warn().Err(err).Str("lobby_id", p.lobbyID).Str("session_id", p.sessionID).Msg("finish retry failed")
		}
	}

	l, ok := p.reload(ctx)
	if !ok {
		return
	}
	if p.countdown != nil && l.AnchorTimestamp != nil && p.countdown.Sync(*l.AnchorTimestamp) {
		log.Debug().Str("lobby_id", p.lobbyID).Time("anchor", *l.AnchorTimestamp).Msg("adopted earlier anchor")
	}
	if l.Phase != p.page {
		p.enter(ctx, p.page)
	}
}
