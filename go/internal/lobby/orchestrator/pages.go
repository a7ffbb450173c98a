package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/mcdev12/tablematch/go/internal/events"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/lobby/countdown"
	"github.com/mcdev12/tablematch/go/internal/lobby/finish"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

const maxReroutes = 3

// enter runs the gate for phase and starts the page tasks when it passes. A
// transient gate failure leaves the page unentered; the next refresh retries it.
func (p *Participant) enter(ctx context.Context, phase models.Phase) {
	for i := 0; i < maxReroutes; i++ {
		p.leavePage()
		p.page = phase
		p.entered = false

		outcome, l, err := p.gate.Check(ctx, p.sessionID, p.lobbyID, phase)
		if err != nil {
			log.Warn().Err(err).
				Str("lobby_id", p.lobbyID).
				Str("session_id", p.sessionID).
				Str("phase", string(phase)).
				Msg("gate check failed, retrying on refresh")
			return
		}
		if !outcome.Passed() {
			p.navigate(outcome.Path, string(outcome.Reason))
			if outcome.Reason != gate.ReasonRerouted {
				p.detach()
				return
			}
			p.setSnapshot(l)
			phase = l.Phase
			continue
		}

		from := p.last
		p.entered = true
		p.last = phase
		p.setSnapshot(l)
		p.startPage(ctx, from, l)
		return
	}
	log.Warn().Str("lobby_id", p.lobbyID).Msg("lobby phase kept moving, retrying on refresh")
}

func (p *Participant) startPage(ctx context.Context, from models.Phase, l *models.Lobby) {
	switch l.Phase {
	case models.PhaseCategories:
		p.startCountdown(l)
	case models.PhaseSwiping:
		p.loadSwipe(ctx, from, l)
		p.detector = finish.New(finish.Config{
			Service:   p.cfg.Service,
			Publisher: p.channel,
			LobbyID:   p.lobbyID,
			SessionID: p.sessionID,
			OnLast:    p.overrideAnchor,
		})
		p.startCountdown(l)
		if p.swipe.SwipeIndex == len(p.swipe.VoteVector) {
			if err := p.complete(ctx); err != nil {
				log.Error().Err(err).Str("lobby_id", p.lobbyID).Msg("failed to report resumed completion")
			}
		}
	}
}

// leavePage stops the current page's tasks. Signals from its countdown are
// discarded afterwards.
func (p *Participant) leavePage() {
	if p.countdown != nil {
		p.countdown.Stop()
		p.countdown = nil
	}
	p.detector = nil
	p.retry = nil
	p.token++
}

func (p *Participant) startCountdown(l *models.Lobby) {
	if l.AnchorTimestamp == nil {
		log.Warn().Str("lobby_id", p.lobbyID).Str("phase", string(l.Phase)).Msg("lobby has no anchor, countdown not started")
		return
	}
	token, phase := p.token, l.Phase
	cfg := countdown.Config{
		Clock:           p.cfg.Clock,
		Anchor:          *l.AnchorTimestamp,
		DurationSeconds: p.cfg.duration(phase),
		OnElapsed: func() {
			select {
			case p.elapsed <- elapsedSignal{token: token, phase: phase}:
			case <-p.done:
			}
		},
	}
	if p.cfg.OnTick != nil {
		cfg.OnTick = func(remaining int) { p.cfg.OnTick(phase, remaining) }
	}
	p.countdown = countdown.New(cfg)
	p.countdown.Start()
}

// loadSwipe sets up swipe progress. Arriving from another page starts over;
// starting on the swiping page resumes stored progress that fits the candidates.
func (p *Participant) loadSwipe(ctx context.Context, from models.Phase, l *models.Lobby) {
	n := len(l.Candidates)
	fresh := models.SwipeState{SwipeIndex: 0, VoteVector: make([]int, n)}

	if from != "" && from != models.PhaseSwiping {
		if err := p.cfg.Service.ResetSwipeState(ctx, p.sessionID, p.lobbyID); err != nil {
			log.Warn().Err(err).Str("session_id", p.sessionID).Msg("failed to reset swipe state")
		}
		p.swipe = fresh
		return
	}

	st, err := p.cfg.Service.GetSwipeState(ctx, p.sessionID, p.lobbyID)
	if err != nil {
		log.Warn().Err(err).Str("session_id", p.sessionID).Msg("failed to load swipe state")
		p.swipe = fresh
		return
	}
	if st.SwipeIndex < 0 || st.SwipeIndex > n || len(st.VoteVector) != n {
		p.swipe = fresh
		return
	}
	p.swipe = st
}

// pendingCompletion reports whether the session swiped every candidate but was
// never marked finished.
func (p *Participant) pendingCompletion() bool {
	n := len(p.swipe.VoteVector)
	return p.page == models.PhaseSwiping && p.detector != nil && n > 0 &&
		p.swipe.SwipeIndex == n && !p.detector.Finished()
}

func (p *Participant) saveSwipe(ctx context.Context) {
	if err := p.cfg.Service.SetSwipeState(ctx, p.sessionID, p.lobbyID, p.swipe); err != nil {
		log.Warn().Err(err).Str("session_id", p.sessionID).Int("swipe_index", p.swipe.SwipeIndex).Msg("failed to save swipe state")
	}
}

// complete reports the session as finished. If it fails, refresh calls it again
// while the session sits at the end of the list unfinished.
func (p *Participant) complete(ctx context.Context) error {
	if p.detector == nil {
		return nil
	}
	isLast, err := p.detector.Complete(ctx, p.swipe.VoteVector)
	if err != nil {
		return fmt.Errorf("failed to finish swiping: %w", err)
	}
	log.Debug().Str("lobby_id", p.lobbyID).Str("session_id", p.sessionID).Bool("is_last", isLast).Msg("finished swiping")
	return nil
}

// overrideAnchor pulls the local countdown forward and proposes the new anchor to
// the service.
func (p *Participant) overrideAnchor(ctx context.Context) error {
	if p.countdown == nil {
		return nil
	}
	anchor, changed := p.countdown.ApplyOverride(p.cfg.Clock.Now())
	if !changed {
		return nil
	}
	_, _, err := p.cfg.Service.OverrideAnchor(ctx, p.lobbyID, anchor)
	return err
}

func (p *Participant) onElapsed(ctx context.Context, phase models.Phase) {
	p.cfg.Metrics.RecordCountdownElapsed(string(phase))
	log.Info().Str("lobby_id", p.lobbyID).Str("session_id", p.sessionID).Str("phase", string(phase)).Msg("countdown elapsed")

	switch phase {
	case models.PhaseCategories:
		if p.isHost() {
			p.runHostTask(ctx, p.finalizeCategories)
		}
	case models.PhaseSwiping:
		p.elapseSwiping(ctx)
		if p.isHost() {
			p.runHostTask(ctx, p.finishSwiping)
		}
	}
}

// runHostTask runs fn and keeps it for the next refresh if it fails.
func (p *Participant) runHostTask(ctx context.Context, fn func(context.Context) error) {
	if err := fn(ctx); err != nil {
		log.Error().Err(err).Str("lobby_id", p.lobbyID).Str("phase", string(p.page)).Msg("host task failed, retrying on refresh")
		p.retry = fn
	}
}

func (p *Participant) elapseSwiping(ctx context.Context) {
	d := p.detector
	if d == nil || d.Finished() || d.Submitted() || p.swipe.VoteVector == nil {
		return
	}
	err := d.Elapse(ctx, p.swipe.VoteVector)
	switch {
	case err == nil:
		p.publish(ctx, events.TypeLateFinishedSwiping, nil)
	case errors.Is(err, lobby.ErrPhaseMismatch):
		log.Warn().Str("lobby_id", p.lobbyID).Str("session_id", p.sessionID).Msg("votes arrived after results")
	default:
		log.Error().Err(err).Str("lobby_id", p.lobbyID).Str("session_id", p.sessionID).Msg("failed to record late votes")
	}
}
