package orchestrator

import (
	"context"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/models"
)

// StartLobby moves the lobby from setup to categories. Host only.
func (p *Participant) StartLobby(ctx context.Context) error {
	return p.do(ctx, func(ctx context.Context) error {
		l, err := p.cfg.Service.StartCategories(ctx, p.lobbyID, p.sessionID)
		if err != nil {
			return err
		}
		p.setSnapshot(l)
		p.publish(ctx, events.TypeLobbyNavigationUpdate, events.NavigationPayload{
			Path: gate.LobbyPath(p.lobbyID, models.PhaseCategories),
		})
		return nil
	})
}

// CloseEarly closes the lobby for everyone and detaches the host.
func (p *Participant) CloseEarly(ctx context.Context) error {
	return p.do(ctx, func(ctx context.Context) error {
		if _, err := p.cfg.Service.CloseLobbyEarly(ctx, p.lobbyID, p.sessionID); err != nil {
			return err
		}
		p.publish(ctx, events.TypeRoomCloseEarly, nil)
		p.navigate(gate.HomePath, "")
		p.detach()
		return nil
	})
}

// UpdatePreferences changes the search settings. Host only, during setup.
func (p *Participant) UpdatePreferences(ctx context.Context, prefs models.Preferences) error {
	return p.do(ctx, func(ctx context.Context) error {
		l, err := p.cfg.Service.UpdatePreferences(ctx, p.lobbyID, p.sessionID, prefs)
		if err != nil {
			return err
		}
		p.setSnapshot(l)
		p.publish(ctx, events.TypeRoomPreferencesChange, l.Preferences)
		return nil
	})
}

// AddCategory contributes a category during the categories phase.
func (p *Participant) AddCategory(ctx context.Context, name string) error {
	return p.do(ctx, func(ctx context.Context) error {
		l, err := p.cfg.Service.AddCategory(ctx, p.lobbyID, p.sessionID, name)
		if err != nil {
			return err
		}
		p.setSnapshot(l)
		p.publish(ctx, events.TypeRoomCategoryChange, nil)
		return nil
	})
}

// RemoveCategory withdraws this session's contribution to a category.
func (p *Participant) RemoveCategory(ctx context.Context, name string) error {
	return p.do(ctx, func(ctx context.Context) error {
		l, err := p.cfg.Service.RemoveCategory(ctx, p.lobbyID, p.sessionID, name)
		if err != nil {
			return err
		}
		p.setSnapshot(l)
		p.publish(ctx, events.TypeRoomCategoryChange, nil)
		return nil
	})
}

// Swipe records a decision on the current candidate. Reaching the end of the list
// reports the session as finished.
func (p *Participant) Swipe(ctx context.Context, like bool) error {
	return p.do(ctx, func(ctx context.Context) error {
		if p.page != models.PhaseSwiping || !p.entered || p.detector == nil {
			return ErrNotSwiping
		}
		n := len(p.swipe.VoteVector)
		if p.swipe.SwipeIndex >= n {
			return ErrSwipingDone
		}
		if like {
			p.swipe.VoteVector[p.swipe.SwipeIndex]++
		}
		p.swipe.SwipeIndex++
		p.saveSwipe(ctx)
		if p.swipe.SwipeIndex == n {
			return p.complete(ctx)
		}
		return nil
	})
}
