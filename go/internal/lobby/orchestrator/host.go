package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

// finalizeCategories sources candidates once the categories countdown runs out.
// The lobby moves to swiping only when the search returns exactly the requested
// number of results; anything else sends everyone back to setup.
func (p *Participant) finalizeCategories(ctx context.Context) error {
	l, err := p.cfg.Service.GetLobby(ctx, p.lobbyID)
	if err != nil {
		return fmt.Errorf("failed to fetch lobby: %w", err)
	}
	p.setSnapshot(l)
	if l.Phase != models.PhaseCategories || !l.IsHost(p.sessionID) {
		return nil
	}

	candidates, ok := p.searchCandidates(ctx, l)
	if ok {
		swiping, err := p.cfg.Service.BeginSwiping(ctx, p.lobbyID, candidates)
		switch {
		case err == nil:
			p.setSnapshot(swiping)
			p.publish(ctx, events.TypeRoomBusinessesSend, nil)
			p.publish(ctx, events.TypeLobbyNavigationUpdate, events.NavigationPayload{
				Path: gate.LobbyPath(p.lobbyID, models.PhaseSwiping),
			})
			return nil
		case errors.Is(err, lobby.ErrPhaseMismatch):
			return nil
		case errors.Is(err, lobby.ErrInsufficientResults):
		default:
			return fmt.Errorf("failed to begin swiping: %w", err)
		}
	}

	log.Warn().
		Str("lobby_id", p.lobbyID).
		Int("wanted", l.Preferences.NumResults).
		Int("found", len(candidates)).
		Msg("not enough candidates, returning to setup")
	setup, err := p.cfg.Service.RegressToSetup(ctx, p.lobbyID)
	switch {
	case err == nil:
		p.setSnapshot(setup)
	case errors.Is(err, lobby.ErrPhaseMismatch):
		return nil
	default:
		return fmt.Errorf("failed to return to setup: %w", err)
	}
	p.publish(ctx, events.TypeLobbyNavigationUpdate, events.NavigationPayload{
		Path:    gate.LobbyPath(p.lobbyID, models.PhaseSetup),
		Message: notEnoughResultsMessage,
	})
	return nil
}

// searchCandidates reports ok only when the search returned exactly the number of
// results the host asked for. Search failures count as a short result.
func (p *Participant) searchCandidates(ctx context.Context, l *models.Lobby) ([]models.Venue, bool) {
	if p.cfg.Searcher == nil {
		log.Error().Str("lobby_id", p.lobbyID).Msg("no candidate searcher configured")
		return nil, false
	}

	names := l.CategoryNames()
	codes := names
	if p.cfg.Categories != nil {
		codes = p.cfg.Categories.Codes(p.cfg.Region, names)
	}
	q := models.SearchQuery{
		Center:       l.Preferences.Coordinates,
		Categories:   codes,
		PriceCeiling: l.Preferences.PriceRange,
		Count:        l.Preferences.NumResults,
		RadiusMiles:  l.Preferences.DriveRadius,
	}

	start := p.cfg.Clock.Now()
	venues, err := p.cfg.Searcher.SearchCandidates(ctx, q)
	p.cfg.Metrics.RecordCandidateSearch(err == nil, len(venues), p.cfg.Clock.Since(start))
	if err != nil {
		log.Error().Err(err).Str("lobby_id", p.lobbyID).Msg("candidate search failed")
		return nil, false
	}
	return venues, len(venues) == l.Preferences.NumResults
}

// finishSwiping moves the lobby to results once the swiping countdown runs out.
func (p *Participant) finishSwiping(ctx context.Context) error {
	l, err := p.cfg.Service.AdvancePhase(ctx, p.lobbyID, models.PhaseSwiping, models.PhaseResults)
	switch {
	case err == nil:
		p.setSnapshot(l)
	case errors.Is(err, lobby.ErrPhaseMismatch):
		log.Debug().Str("lobby_id", p.lobbyID).Msg("lobby already left swiping")
		return nil
	default:
		return fmt.Errorf("failed to advance to results: %w", err)
	}
	p.publish(ctx, events.TypeLobbyNavigationUpdate, events.NavigationPayload{
		Path: gate.LobbyPath(p.lobbyID, models.PhaseResults),
	})
	return nil
}
