package lobby

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/metrics"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/sessions"
	"github.com/rs/zerolog/log"
)

// App holds the lobby business rules. It is the single writer for lobby and session
// records.
type App struct {
	repo        Repository
	sessions    sessions.Store
	clock       clockwork.Clock
	metrics     metrics.Collector
	maxLobbyAge time.Duration
	newID       func() (string, error)
}

// Option configures an App.
type Option func(*App)

func WithClock(c clockwork.Clock) Option {
	return func(a *App) { a.clock = c }
}

func WithMetrics(m metrics.Collector) Option {
	return func(a *App) { a.metrics = m }
}

func WithMaxLobbyAge(d time.Duration) Option {
	return func(a *App) { a.maxLobbyAge = d }
}

// WithIDGenerator replaces the random lobby id source.
func WithIDGenerator(fn func() (string, error)) Option {
	return func(a *App) { a.newID = fn }
}

// NewApp creates a new lobby App
func NewApp(repo Repository, store sessions.Store, opts ...Option) *App {
	a := &App{
		repo:        repo,
		sessions:    store,
		clock:       clockwork.NewRealClock(),
		metrics:     metrics.NoOp{},
		maxLobbyAge: gate.DefaultMaxLobbyAge,
		newID:       randomLobbyID,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

func randomLobbyID() (string, error) {
	size := big.NewInt(int64(len(idAlphabet)))
	b := make([]byte, idLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, size)
		if err != nil {
			return "", err
		}
		b[i] = idAlphabet[n.Int64()]
	}
	return string(b), nil
}

func (a *App) now() time.Time {
	return a.clock.Now().UTC()
}

// CreateSession registers a new participant.
func (a *App) CreateSession(ctx context.Context, nickname string) (*models.Session, error) {
	nickname = strings.TrimSpace(nickname)
	if n := utf8.RuneCountInString(nickname); n == 0 || n > maxNicknameSize {
		return nil, ErrInvalidNickname
	}
	s := &models.Session{
		ID:        uuid.New().String(),
		Nickname:  nickname,
		CreatedAt: a.now(),
	}
	if err := a.sessions.CreateSession(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	log.Info().Str("session_id", s.ID).Str("nickname", nickname).Msg("session created")
	return s, nil
}

func (a *App) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	s, err := a.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// DeleteSession removes the session and takes it out of every lobby it joined.
func (a *App) DeleteSession(ctx context.Context, sessionID string) error {
	lobbyIDs, err := a.repo.ListLobbiesBySession(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to list lobbies for session: %w", err)
	}
	for _, id := range lobbyIDs {
		if _, _, err := a.LeaveLobby(ctx, id, sessionID); err != nil && !errors.Is(err, ErrLobbyNotFound) && !errors.Is(err, ErrNotMember) {
			return err
		}
	}
	if err := a.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	log.Info().Str("session_id", sessionID).Int("lobbies_left", len(lobbyIDs)).Msg("session deleted")
	return nil
}

// CreateLobby opens a lobby hosted by hostSession. Ids of expired lobbies are reused.
func (a *App) CreateLobby(ctx context.Context, hostSession string) (*models.Lobby, error) {
	host, err := a.GetSession(ctx, hostSession)
	if err != nil {
		return nil, err
	}

	now := a.now()
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id, err := a.newID()
		if err != nil {
			return nil, fmt.Errorf("failed to generate lobby id: %w", err)
		}
		l := &models.Lobby{
			ID:          id,
			Phase:       models.PhaseSetup,
			HostSession: host.ID,
			Joinable:    true,
			Preferences: models.DefaultPreferences(),
			Categories:  []models.Category{},
			Members:     []models.Member{{SessionID: host.ID, Nickname: host.Nickname, JoinedAt: now}},
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		err = a.repo.CreateLobby(ctx, l)
		if err == nil {
			log.Info().Str("lobby_id", id).Str("host_session", host.ID).Msg("lobby created")
			return l.Clone(), nil
		}
		if !errors.Is(err, ErrLobbyExists) {
			return nil, fmt.Errorf("failed to create lobby: %w", err)
		}
		if a.reclaimExpired(ctx, id, now) {
			if err := a.repo.CreateLobby(ctx, l); err == nil {
				log.Info().Str("lobby_id", id).Str("host_session", host.ID).Msg("lobby created on reclaimed id")
				return l.Clone(), nil
			}
		}
		log.Debug().Str("lobby_id", id).Int("attempt", attempt).Msg("lobby id collision")
	}
	return nil, ErrIDExhausted
}

// reclaimExpired deletes the lobby id if it belongs to an expired lobby.
func (a *App) reclaimExpired(ctx context.Context, id string, now time.Time) bool {
	existing, err := a.repo.GetLobby(ctx, id)
	if err != nil {
		return errors.Is(err, ErrLobbyNotFound)
	}
	if !existing.Expired(now, a.maxLobbyAge) {
		return false
	}
	if err := a.repo.DeleteLobby(ctx, id); err != nil && !errors.Is(err, ErrLobbyNotFound) {
		log.Error().Err(err).Str("lobby_id", id).Msg("failed to delete expired lobby")
		return false
	}
	return true
}

func (a *App) GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	l, err := a.repo.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, fmt.Errorf("failed to get lobby: %w", err)
	}
	return l, nil
}

func (a *App) update(ctx context.Context, lobbyID string, fn func(*models.Lobby) error) (*models.Lobby, error) {
	now := a.now()
	return a.repo.UpdateLobby(ctx, lobbyID, func(l *models.Lobby) error {
		if err := fn(l); err != nil {
			return err
		}
		l.UpdatedAt = now
		return nil
	})
}

// JoinLobby adds sessionID to the roster. Joining again is a no-op.
func (a *App) JoinLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error) {
	s, err := a.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	now := a.now()
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.IsMember(sessionID) {
			return nil
		}
		if !l.Joinable {
			return ErrLobbyStarted
		}
		l.Members = append(l.Members, models.Member{SessionID: s.ID, Nickname: s.Nickname, JoinedAt: now})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to join lobby: %w", err)
	}
	log.Info().Str("lobby_id", lobbyID).Str("session_id", sessionID).Int("members", len(l.Members)).Msg("session joined lobby")
	return l, nil
}

// LeaveLobby removes sessionID and its category contributions. The lobby is deleted
// when its last member leaves; the returned lobby is nil in that case. completed is
// true when the session was the only one still swiping, so everyone left has
// finished and the caller should announce LOBBY_FINISHED_SWIPING.
func (a *App) LeaveLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, bool, error) {
	empty, completed := false, false
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		idx := slices.IndexFunc(l.Members, func(m models.Member) bool { return m.SessionID == sessionID })
		if idx < 0 {
			return ErrNotMember
		}
		leaverFinished := l.Members[idx].Finished
		l.Members = slices.Delete(l.Members, idx, idx+1)
		l.Categories = withoutContributor(l.Categories, sessionID)
		if l.HostSession == sessionID {
			l.HostSession = ""
			if len(l.Members) > 0 {
				earliest := l.Members[0]
				for _, m := range l.Members[1:] {
					if m.JoinedAt.Before(earliest.JoinedAt) {
						earliest = m
					}
				}
				l.HostSession = earliest.SessionID
			}
		}
		empty = len(l.Members) == 0
		completed = l.Phase == models.PhaseSwiping && !empty && !leaverFinished &&
			!slices.ContainsFunc(l.Members, func(m models.Member) bool { return !m.Finished })
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to leave lobby: %w", err)
	}

	if _, err := a.sessions.UpdateSession(ctx, sessionID, func(s *models.Session) error {
		delete(s.Swipes, lobbyID)
		return nil
	}); err != nil && !errors.Is(err, ErrSessionNotFound) {
		log.Error().Err(err).Str("session_id", sessionID).Msg("failed to clear swipe state")
	}

	log.Info().Str("lobby_id", lobbyID).Str("session_id", sessionID).Str("host_session", l.HostSession).Bool("completed_finish", completed).Msg("session left lobby")
	if empty {
		if err := a.repo.DeleteLobby(ctx, lobbyID); err != nil && !errors.Is(err, ErrLobbyNotFound) {
			return nil, false, fmt.Errorf("failed to delete empty lobby: %w", err)
		}
		log.Info().Str("lobby_id", lobbyID).Msg("empty lobby deleted")
		return nil, false, nil
	}
	if completed {
		a.metrics.RecordFinishMarked(true)
	}
	return l, completed, nil
}

func withoutContributor(categories []models.Category, sessionID string) []models.Category {
	out := categories[:0]
	for _, c := range categories {
		c.Sessions = slices.DeleteFunc(c.Sessions, func(s string) bool { return s == sessionID })
		if len(c.Sessions) > 0 {
			out = append(out, c)
		}
	}
	return out
}

func (a *App) DeleteLobby(ctx context.Context, lobbyID string) error {
	if err := a.repo.DeleteLobby(ctx, lobbyID); err != nil {
		return fmt.Errorf("failed to delete lobby: %w", err)
	}
	log.Info().Str("lobby_id", lobbyID).Msg("lobby deleted")
	return nil
}

// CloseLobbyEarly stops new joins and restarts the liveness window.
func (a *App) CloseLobbyEarly(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error) {
	now := a.now()
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if !l.IsHost(sessionID) {
			return ErrNotHost
		}
		l.Joinable = false
		l.AnchorTimestamp = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to close lobby: %w", err)
	}
	log.Info().Str("lobby_id", lobbyID).Msg("lobby closed early")
	return l, nil
}

// ValidatePreferences checks every field against its allowed set.
func ValidatePreferences(p models.Preferences) error {
	if !slices.Contains(models.ValidNumResults, p.NumResults) {
		return fmt.Errorf("%w: num_results %d", ErrInvalidPreferences, p.NumResults)
	}
	if !slices.Contains(models.ValidPriceRanges, p.PriceRange) {
		return fmt.Errorf("%w: price_range %q", ErrInvalidPreferences, p.PriceRange)
	}
	if !slices.Contains(models.ValidRadii, p.DriveRadius) {
		return fmt.Errorf("%w: drive_radius %d", ErrInvalidPreferences, p.DriveRadius)
	}
	c := p.Coordinates
	unset := c.Latitude == models.UnsetLatitude && c.Longitude == models.UnsetLongitude
	if !unset && !c.IsSet() {
		return fmt.Errorf("%w: coordinates (%v, %v)", ErrInvalidPreferences, c.Latitude, c.Longitude)
	}
	return nil
}

func (a *App) UpdatePreferences(ctx context.Context, lobbyID, sessionID string, prefs models.Preferences) (*models.Lobby, error) {
	if err := ValidatePreferences(prefs); err != nil {
		return nil, err
	}
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if !l.IsHost(sessionID) {
			return ErrNotHost
		}
		if l.Phase != models.PhaseSetup {
			return ErrPhaseMismatch
		}
		l.Preferences = prefs
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to update preferences: %w", err)
	}
	return l, nil
}

// StartCategories completes setup: the lobby closes to new members and the
// categories countdown starts.
func (a *App) StartCategories(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error) {
	now := a.now()
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if !l.IsHost(sessionID) {
			return ErrNotHost
		}
		if l.Phase != models.PhaseSetup {
			return ErrPhaseMismatch
		}
		if !l.Preferences.Coordinates.IsSet() {
			return ErrCoordinatesUnset
		}
		l.Phase = models.PhaseCategories
		l.Joinable = false
		l.AnchorTimestamp = &now
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start categories: %w", err)
	}
	a.recordTransition(lobbyID, models.PhaseSetup, models.PhaseCategories)
	return l, nil
}

// AdvancePhase moves the lobby from one phase to another only if it is still in
// from. Concurrent callers racing the same move see exactly one success.
func (a *App) AdvancePhase(ctx context.Context, lobbyID string, from, to models.Phase) (*models.Lobby, error) {
	if !from.CanTransitionTo(to) {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.Phase != from {
			return fmt.Errorf("%w: lobby is in %s", ErrPhaseMismatch, l.Phase)
		}
		l.Phase = to
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to advance phase: %w", err)
	}
	a.recordTransition(lobbyID, from, to)
	return l, nil
}

// BeginSwiping fixes the candidates and opens the swiping round. The candidate
// count must equal the requested number of results.
func (a *App) BeginSwiping(ctx context.Context, lobbyID string, candidates []models.Venue) (*models.Lobby, error) {
	now := a.now()
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.Phase != models.PhaseCategories {
			return fmt.Errorf("%w: lobby is in %s", ErrPhaseMismatch, l.Phase)
		}
		if len(candidates) != l.Preferences.NumResults {
			return fmt.Errorf("%w: got %d, want %d", ErrInsufficientResults, len(candidates), l.Preferences.NumResults)
		}
		l.Candidates = append([]models.Venue(nil), candidates...)
		l.Votes = make([]int, len(candidates))
		resetRoundFlags(l)
		l.AnchorTimestamp = &now
		l.Phase = models.PhaseSwiping
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to begin swiping: %w", err)
	}
	a.recordTransition(lobbyID, models.PhaseCategories, models.PhaseSwiping)
	return l, nil
}

// RegressToSetup sends a lobby whose candidate search came up short back to setup.
// The lobby opens to new members again.
func (a *App) RegressToSetup(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.Phase != models.PhaseCategories {
			return fmt.Errorf("%w: lobby is in %s", ErrPhaseMismatch, l.Phase)
		}
		l.Phase = models.PhaseSetup
		l.AnchorTimestamp = nil
		l.Joinable = true
		l.Candidates = nil
		l.Votes = nil
		resetRoundFlags(l)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to regress to setup: %w", err)
	}
	log.Warn().Str("lobby_id", lobbyID).Msg("lobby regressed to setup")
	a.recordTransition(lobbyID, models.PhaseCategories, models.PhaseSetup)
	return l, nil
}

func resetRoundFlags(l *models.Lobby) {
	for i := range l.Members {
		l.Members[i].Finished = false
		l.Members[i].Submitted = false
	}
}

// OverrideAnchor moves the anchor to candidate if that is earlier. The returned
// bool reports whether the stored anchor changed.
func (a *App) OverrideAnchor(ctx context.Context, lobbyID string, candidate time.Time) (*models.Lobby, bool, error) {
	changed := false
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.AnchorTimestamp != nil && !candidate.Before(*l.AnchorTimestamp) {
			return nil
		}
		t := candidate.UTC()
		l.AnchorTimestamp = &t
		changed = true
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("failed to override anchor: %w", err)
	}
	if changed {
		log.Info().Str("lobby_id", lobbyID).Time("anchor", candidate).Msg("anchor overridden")
	}
	return l, changed, nil
}

// AddCategory records sessionID as a contributor of name. Names match
// case-insensitively; contributing the same category twice is a no-op.
func (a *App) AddCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidCategory
	}
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if !l.IsMember(sessionID) {
			return ErrNotMember
		}
		if l.Phase != models.PhaseCategories {
			return fmt.Errorf("%w: lobby is in %s", ErrPhaseMismatch, l.Phase)
		}
		idx := categoryIndex(l.Categories, name)
		if idx >= 0 && slices.Contains(l.Categories[idx].Sessions, sessionID) {
			return nil
		}
		if l.ContributionCount(sessionID) >= models.MaxCategoriesPerSession {
			return ErrCategoryLimit
		}
		if idx >= 0 {
			l.Categories[idx].Sessions = append(l.Categories[idx].Sessions, sessionID)
		} else {
			l.Categories = append(l.Categories, models.Category{Name: name, Sessions: []string{sessionID}})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add category: %w", err)
	}
	return l, nil
}

// RemoveCategory withdraws sessionID's contribution. A category nobody contributes
// to anymore is dropped.
func (a *App) RemoveCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error) {
	name = strings.TrimSpace(name)
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		idx := categoryIndex(l.Categories, name)
		if idx < 0 {
			return ErrNotContributor
		}
		pos := slices.Index(l.Categories[idx].Sessions, sessionID)
		if pos < 0 {
			return ErrNotContributor
		}
		l.Categories[idx].Sessions = slices.Delete(l.Categories[idx].Sessions, pos, pos+1)
		if len(l.Categories[idx].Sessions) == 0 {
			l.Categories = slices.Delete(l.Categories, idx, idx+1)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to remove category: %w", err)
	}
	return l, nil
}

func categoryIndex(categories []models.Category, name string) int {
	return slices.IndexFunc(categories, func(c models.Category) bool {
		return strings.EqualFold(c.Name, name)
	})
}

// SubmitVotes adds a session's vote vector to the lobby total. Each member submits
// at most once per swiping round.
func (a *App) SubmitVotes(ctx context.Context, lobbyID, sessionID string, votes []int) (*models.Lobby, error) {
	l, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.Phase != models.PhaseSwiping {
			return fmt.Errorf("%w: lobby is in %s", ErrPhaseMismatch, l.Phase)
		}
		m := l.Member(sessionID)
		if m == nil {
			return ErrNotMember
		}
		if len(votes) != len(l.Candidates) {
			return fmt.Errorf("%w: got %d, want %d", ErrVoteLength, len(votes), len(l.Candidates))
		}
		if m.Submitted {
			return ErrVotesAlreadySubmitted
		}
		if len(l.Votes) != len(l.Candidates) {
			l.Votes = make([]int, len(l.Candidates))
		}
		for i, v := range votes {
			if v > 0 {
				l.Votes[i] += v
			}
		}
		m.Submitted = true
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to submit votes: %w", err)
	}
	return l, nil
}

// MarkSessionFinished flags sessionID as done swiping. isLast is true only for the
// call that completes the set of finished members.
func (a *App) MarkSessionFinished(ctx context.Context, lobbyID, sessionID string) (bool, error) {
	isLast := false
	_, err := a.update(ctx, lobbyID, func(l *models.Lobby) error {
		if l.Phase != models.PhaseSwiping {
			return fmt.Errorf("%w: lobby is in %s", ErrPhaseMismatch, l.Phase)
		}
		m := l.Member(sessionID)
		if m == nil {
			return ErrNotMember
		}
		if m.Finished {
			return nil
		}
		m.Finished = true
		isLast = !slices.ContainsFunc(l.Members, func(m models.Member) bool { return !m.Finished })
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("failed to mark session finished: %w", err)
	}
	a.metrics.RecordFinishMarked(isLast)
	log.Info().Str("lobby_id", lobbyID).Str("session_id", sessionID).Bool("is_last", isLast).Msg("session finished swiping")
	return isLast, nil
}

// RankedCandidates returns the candidates ordered by votes, most first. Ties keep
// the candidate order.
func (a *App) RankedCandidates(ctx context.Context, lobbyID string) ([]models.RankedVenue, error) {
	l, err := a.GetLobby(ctx, lobbyID)
	if err != nil {
		return nil, err
	}
	ranked := make([]models.RankedVenue, len(l.Candidates))
	for i, v := range l.Candidates {
		ranked[i] = models.RankedVenue{Venue: v}
		if i < len(l.Votes) {
			ranked[i].Votes = l.Votes[i]
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Votes > ranked[j].Votes
	})
	return ranked, nil
}

func (a *App) GetSwipeState(ctx context.Context, sessionID, lobbyID string) (models.SwipeState, error) {
	s, err := a.GetSession(ctx, sessionID)
	if err != nil {
		return models.SwipeState{}, err
	}
	return s.SwipeState(lobbyID), nil
}

func (a *App) SetSwipeState(ctx context.Context, sessionID, lobbyID string, st models.SwipeState) error {
	_, err := a.sessions.UpdateSession(ctx, sessionID, func(s *models.Session) error {
		if s.Swipes == nil {
			s.Swipes = make(map[string]models.SwipeState)
		}
		s.Swipes[lobbyID] = models.SwipeState{SwipeIndex: st.SwipeIndex, VoteVector: append([]int(nil), st.VoteVector...)}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to set swipe state: %w", err)
	}
	return nil
}

func (a *App) ResetSwipeState(ctx context.Context, sessionID, lobbyID string) error {
	return a.SetSwipeState(ctx, sessionID, lobbyID, models.NewSwipeState())
}

func (a *App) recordTransition(lobbyID string, from, to models.Phase) {
	a.metrics.RecordPhaseTransition(string(from), string(to))
	log.Info().Str("lobby_id", lobbyID).Str("from", string(from)).Str("to", string(to)).Msg("lobby phase changed")
}
