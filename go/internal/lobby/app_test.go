package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

type testEnv struct {
	app   *App
	clock *clockwork.FakeClock
	repo  *MemoryRepository
	store *sessions.MemoryStore
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	repo := NewMemoryRepository()
	store := sessions.NewMemoryStore()
	opts = append([]Option{WithClock(clock)}, opts...)
	return &testEnv{app: NewApp(repo, store, opts...), clock: clock, repo: repo, store: store}
}

func (e *testEnv) session(t *testing.T, nickname string) *models.Session {
	t.Helper()
	s, err := e.app.CreateSession(context.Background(), nickname)
	require.NoError(t, err)
	return s
}

// lobbyWith creates a lobby hosted by the first nickname and joins the rest.
func (e *testEnv) lobbyWith(t *testing.T, nicknames ...string) (*models.Lobby, []*models.Session) {
	t.Helper()
	ctx := context.Background()
	var members []*models.Session
	for _, n := range nicknames {
		members = append(members, e.session(t, n))
	}
	l, err := e.app.CreateLobby(ctx, members[0].ID)
	require.NoError(t, err)
	for _, m := range members[1:] {
		l, err = e.app.JoinLobby(ctx, l.ID, m.ID)
		require.NoError(t, err)
	}
	return l, members
}

func setCoordinates(t *testing.T, e *testEnv, l *models.Lobby, host string, numResults int) {
	t.Helper()
	prefs := models.DefaultPreferences()
	prefs.NumResults = numResults
	prefs.Coordinates = models.Coordinates{Latitude: 40.7, Longitude: -74.0}
	_, err := e.app.UpdatePreferences(context.Background(), l.ID, host, prefs)
	require.NoError(t, err)
}

func venues(n int) []models.Venue {
	out := make([]models.Venue, n)
	for i := range out {
		out[i] = models.Venue{ID: fmt.Sprintf("v%d", i), Name: fmt.Sprintf("Venue %d", i)}
	}
	return out
}

// swipingLobby drives a lobby with the given members to the swiping phase.
func (e *testEnv) swipingLobby(t *testing.T, n int, nicknames ...string) (*models.Lobby, []*models.Session) {
	t.Helper()
	ctx := context.Background()
	l, members := e.lobbyWith(t, nicknames...)
	setCoordinates(t, e, l, members[0].ID, 10)
	_, err := e.app.StartCategories(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	l, err = e.app.BeginSwiping(ctx, l.ID, venues(n))
	require.NoError(t, err)
	return l, members
}

func TestCreateSessionValidatesNickname(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()

	s, err := e.app.CreateSession(ctx, "  kai  ")
	require.NoError(t, err)
	assert.Equal(t, "kai", s.Nickname)
	assert.NotEmpty(t, s.ID)

	_, err = e.app.CreateSession(ctx, "   ")
	assert.ErrorIs(t, err, ErrInvalidNickname)
	_, err = e.app.CreateSession(ctx, strings.Repeat("é", 25))
	assert.ErrorIs(t, err, ErrInvalidNickname)
	_, err = e.app.CreateSession(ctx, strings.Repeat("é", 24))
	assert.NoError(t, err)
}

func TestCreateLobby(t *testing.T) {
	e := newTestEnv(t)
	host := e.session(t, "kai")

	l, err := e.app.CreateLobby(context.Background(), host.ID)
	require.NoError(t, err)
	assert.Len(t, l.ID, 4)
	for _, r := range l.ID {
		assert.True(t, strings.ContainsRune(idAlphabet, r), "unexpected id rune %q", r)
	}
	assert.Equal(t, models.PhaseSetup, l.Phase)
	assert.True(t, l.Joinable)
	assert.Nil(t, l.AnchorTimestamp)
	assert.Equal(t, host.ID, l.HostSession)
	assert.True(t, l.IsMember(host.ID))
	assert.Equal(t, models.DefaultPreferences(), l.Preferences)
	assert.False(t, l.Preferences.Coordinates.IsSet())

	_, err = e.app.CreateLobby(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestCreateLobbyIDExhausted(t *testing.T) {
	var calls atomic.Int32
	e := newTestEnv(t, WithIDGenerator(func() (string, error) {
		calls.Add(1)
		return "same", nil
	}))
	host := e.session(t, "kai")

	_, err := e.app.CreateLobby(context.Background(), host.ID)
	require.NoError(t, err)

	_, err = e.app.CreateLobby(context.Background(), host.ID)
	assert.ErrorIs(t, err, ErrIDExhausted)
	assert.Equal(t, int32(1+maxIDAttempts), calls.Load())
}

func TestCreateLobbyReusesExpiredID(t *testing.T) {
	e := newTestEnv(t, WithIDGenerator(func() (string, error) { return "same", nil }))
	ctx := context.Background()
	host := e.session(t, "kai")

	first, err := e.app.CreateLobby(ctx, host.ID)
	require.NoError(t, err)
	_, err = e.app.CloseLobbyEarly(ctx, first.ID, host.ID)
	require.NoError(t, err)

	// still alive inside the window
	_, err = e.app.CreateLobby(ctx, host.ID)
	require.ErrorIs(t, err, ErrIDExhausted)

	e.clock.Advance(16 * time.Minute)
	second, err := e.app.CreateLobby(ctx, host.ID)
	require.NoError(t, err)
	assert.Equal(t, "same", second.ID)
	assert.True(t, second.Joinable)
}

func TestJoinLobby(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")
	assert.Len(t, l.Members, 2)

	// joining twice is idempotent
	l, err := e.app.JoinLobby(ctx, l.ID, members[1].ID)
	require.NoError(t, err)
	assert.Len(t, l.Members, 2)

	_, err = e.app.JoinLobby(ctx, "none", members[1].ID)
	assert.ErrorIs(t, err, ErrLobbyNotFound)

	setCoordinates(t, e, l, members[0].ID, 10)
	_, err = e.app.StartCategories(ctx, l.ID, members[0].ID)
	require.NoError(t, err)

	late := e.session(t, "late")
	_, err = e.app.JoinLobby(ctx, l.ID, late.ID)
	assert.ErrorIs(t, err, ErrLobbyStarted)

	// existing members can still rejoin
	_, err = e.app.JoinLobby(ctx, l.ID, members[1].ID)
	assert.NoError(t, err)
}

func TestLeaveLobbyHandsOverHost(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai")
	e.clock.Advance(time.Second)
	_, err := e.app.JoinLobby(ctx, l.ID, e.session(t, "ana").ID)
	require.NoError(t, err)
	e.clock.Advance(time.Second)
	third := e.session(t, "bo")
	_, err = e.app.JoinLobby(ctx, l.ID, third.ID)
	require.NoError(t, err)

	setCoordinates(t, e, l, members[0].ID, 10)
	_, err = e.app.StartCategories(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	_, err = e.app.AddCategory(ctx, l.ID, members[0].ID, "Sushi")
	require.NoError(t, err)

	l, completed, err := e.app.LeaveLobby(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	assert.False(t, completed)
	require.Len(t, l.Members, 2)
	assert.Equal(t, "ana", l.Member(l.HostSession).Nickname)
	assert.Empty(t, l.Categories)

	_, _, err = e.app.LeaveLobby(ctx, l.ID, members[0].ID)
	assert.ErrorIs(t, err, ErrNotMember)
}

func TestLeaveLobbyDeletesEmptyLobby(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai")

	left, completed, err := e.app.LeaveLobby(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	assert.Nil(t, left)
	assert.False(t, completed)

	_, err = e.app.GetLobby(ctx, l.ID)
	assert.ErrorIs(t, err, ErrLobbyNotFound)
}

func TestLeaveLobbyByLastUnfinishedCompletesFinish(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.swipingLobby(t, 10, "kai", "ana", "bo")

	for _, m := range members[:2] {
		isLast, err := e.app.MarkSessionFinished(ctx, l.ID, m.ID)
		require.NoError(t, err)
		assert.False(t, isLast)
	}

	got, completed, err := e.app.LeaveLobby(ctx, l.ID, members[2].ID)
	require.NoError(t, err)
	assert.True(t, completed)
	require.Len(t, got.Members, 2)
	for _, m := range got.Members {
		assert.True(t, m.Finished)
	}
}

func TestLeaveLobbyCompletesFinishOnlyWhenSwipingRemains(t *testing.T) {
	tests := []struct {
		name     string
		finished []int
		leaver   int
		want     bool
	}{
		{"others still swiping", []int{0}, 2, false},
		{"finished member leaves", []int{0, 1}, 1, false},
		{"nobody finished", nil, 0, false},
		{"last unfinished leaves", []int{1, 2}, 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t)
			ctx := context.Background()
			l, members := e.swipingLobby(t, 10, "kai", "ana", "bo")
			for _, i := range tt.finished {
				_, err := e.app.MarkSessionFinished(ctx, l.ID, members[i].ID)
				require.NoError(t, err)
			}
			_, completed, err := e.app.LeaveLobby(ctx, l.ID, members[tt.leaver].ID)
			require.NoError(t, err)
			assert.Equal(t, tt.want, completed)
		})
	}
}

func TestLeaveLobbyOutsideSwipingNeverCompletesFinish(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai")
	_, err := e.app.JoinLobby(ctx, l.ID, e.session(t, "ana").ID)
	require.NoError(t, err)

	_, completed, err := e.app.LeaveLobby(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	assert.False(t, completed)
}

func TestDeleteSessionLeavesLobbies(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")

	require.NoError(t, e.app.DeleteSession(ctx, members[1].ID))
	got, err := e.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.False(t, got.IsMember(members[1].ID))

	_, err = e.app.GetSession(ctx, members[1].ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
	assert.True(t, IsNotFound(err))
}

func TestUpdatePreferences(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")

	prefs := models.Preferences{NumResults: 20, PriceRange: "$$$", DriveRadius: 15, Coordinates: models.Coordinates{Latitude: 51.5, Longitude: -0.12}}
	got, err := e.app.UpdatePreferences(ctx, l.ID, members[0].ID, prefs)
	require.NoError(t, err)
	assert.Equal(t, prefs, got.Preferences)

	_, err = e.app.UpdatePreferences(ctx, l.ID, members[1].ID, prefs)
	assert.ErrorIs(t, err, ErrNotHost)

	for _, bad := range []models.Preferences{
		{NumResults: 15, PriceRange: "$", DriveRadius: 5},
		{NumResults: 10, PriceRange: "$$$$$", DriveRadius: 5},
		{NumResults: 10, PriceRange: "$", DriveRadius: 7},
		{NumResults: 10, PriceRange: "$", DriveRadius: 5, Coordinates: models.Coordinates{Latitude: 95, Longitude: 0}},
	} {
		_, err = e.app.UpdatePreferences(ctx, l.ID, members[0].ID, bad)
		assert.ErrorIs(t, err, ErrInvalidPreferences, "%+v", bad)
	}

	// unset coordinates are a valid value
	_, err = e.app.UpdatePreferences(ctx, l.ID, members[0].ID, models.DefaultPreferences())
	assert.NoError(t, err)
}

func TestStartCategories(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")

	_, err := e.app.StartCategories(ctx, l.ID, members[0].ID)
	assert.ErrorIs(t, err, ErrCoordinatesUnset)

	setCoordinates(t, e, l, members[0].ID, 10)
	_, err = e.app.StartCategories(ctx, l.ID, members[1].ID)
	assert.ErrorIs(t, err, ErrNotHost)

	got, err := e.app.StartCategories(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseCategories, got.Phase)
	assert.False(t, got.Joinable)
	require.NotNil(t, got.AnchorTimestamp)
	assert.True(t, testStart.Equal(*got.AnchorTimestamp))

	_, err = e.app.StartCategories(ctx, l.ID, members[0].ID)
	assert.ErrorIs(t, err, ErrPhaseMismatch)
}

func TestAdvancePhaseIsCompareAndSet(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, _ := e.swipingLobby(t, 10, "kai", "ana", "bo")

	_, err := e.app.AdvancePhase(ctx, l.ID, models.PhaseSwiping, models.PhaseSetup)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	var wins atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := e.app.AdvancePhase(ctx, l.ID, models.PhaseSwiping, models.PhaseResults)
			if err == nil {
				wins.Add(1)
				return
			}
			assert.ErrorIs(t, err, ErrPhaseMismatch)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), wins.Load())

	got, err := e.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseResults, got.Phase)
}

func TestBeginSwipingRequiresExactCount(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai")
	setCoordinates(t, e, l, members[0].ID, 10)

	_, err := e.app.BeginSwiping(ctx, l.ID, venues(10))
	assert.ErrorIs(t, err, ErrPhaseMismatch)

	_, err = e.app.StartCategories(ctx, l.ID, members[0].ID)
	require.NoError(t, err)

	_, err = e.app.BeginSwiping(ctx, l.ID, venues(7))
	assert.ErrorIs(t, err, ErrInsufficientResults)

	e.clock.Advance(10 * time.Second)
	got, err := e.app.BeginSwiping(ctx, l.ID, venues(10))
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSwiping, got.Phase)
	assert.Equal(t, make([]int, 10), got.Votes)
	assert.Len(t, got.Candidates, 10)
	assert.True(t, testStart.Add(10*time.Second).Equal(*got.AnchorTimestamp))
}

func TestRegressToSetup(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai")
	setCoordinates(t, e, l, members[0].ID, 10)
	_, err := e.app.StartCategories(ctx, l.ID, members[0].ID)
	require.NoError(t, err)

	got, err := e.app.RegressToSetup(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSetup, got.Phase)
	assert.Nil(t, got.AnchorTimestamp)
	assert.Nil(t, got.Candidates)
	assert.Nil(t, got.Votes)
	assert.True(t, got.Joinable)

	_, err = e.app.RegressToSetup(ctx, l.ID)
	assert.ErrorIs(t, err, ErrPhaseMismatch)
}

func TestOverrideAnchorOnlyMovesEarlier(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, _ := e.swipingLobby(t, 10, "kai")
	original := *l.AnchorTimestamp

	_, changed, err := e.app.OverrideAnchor(ctx, l.ID, original.Add(time.Second))
	require.NoError(t, err)
	assert.False(t, changed)

	earlier := original.Add(-90 * time.Second)
	got, changed, err := e.app.OverrideAnchor(ctx, l.ID, earlier)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.True(t, earlier.Equal(*got.AnchorTimestamp))

	_, changed, err = e.app.OverrideAnchor(ctx, l.ID, earlier)
	require.NoError(t, err)
	assert.False(t, changed)
}

func TestCategories(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")
	host, guest := members[0].ID, members[1].ID

	_, err := e.app.AddCategory(ctx, l.ID, host, "Sushi")
	assert.ErrorIs(t, err, ErrPhaseMismatch)

	setCoordinates(t, e, l, host, 10)
	_, err = e.app.StartCategories(ctx, l.ID, host)
	require.NoError(t, err)

	_, err = e.app.AddCategory(ctx, l.ID, host, "Sushi")
	require.NoError(t, err)
	got, err := e.app.AddCategory(ctx, l.ID, guest, "sushi")
	require.NoError(t, err)
	require.Len(t, got.Categories, 1)
	assert.Equal(t, []string{host, guest}, got.Categories[0].Sessions)

	// contributing again changes nothing
	got, err = e.app.AddCategory(ctx, l.ID, guest, "SUSHI")
	require.NoError(t, err)
	assert.Equal(t, []string{host, guest}, got.Categories[0].Sessions)

	_, err = e.app.AddCategory(ctx, l.ID, "stranger", "Pizza")
	assert.ErrorIs(t, err, ErrNotMember)
	_, err = e.app.AddCategory(ctx, l.ID, host, "  ")
	assert.ErrorIs(t, err, ErrInvalidCategory)

	_, err = e.app.RemoveCategory(ctx, l.ID, host, "Pizza")
	assert.ErrorIs(t, err, ErrNotContributor)

	got, err = e.app.RemoveCategory(ctx, l.ID, host, "sushi")
	require.NoError(t, err)
	assert.Equal(t, []string{guest}, got.Categories[0].Sessions)

	_, err = e.app.RemoveCategory(ctx, l.ID, host, "Sushi")
	assert.ErrorIs(t, err, ErrNotContributor)

	got, err = e.app.RemoveCategory(ctx, l.ID, guest, "Sushi")
	require.NoError(t, err)
	assert.Empty(t, got.Categories)
}

func TestCategoryLimitPerSession(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")
	host, guest := members[0].ID, members[1].ID
	setCoordinates(t, e, l, host, 10)
	_, err := e.app.StartCategories(ctx, l.ID, host)
	require.NoError(t, err)

	for _, name := range []string{"Sushi", "Pizza", "Tacos", "Ramen", "Thai"} {
		_, err := e.app.AddCategory(ctx, l.ID, host, name)
		require.NoError(t, err)
	}
	_, err = e.app.AddCategory(ctx, l.ID, host, "Burgers")
	assert.ErrorIs(t, err, ErrCategoryLimit)

	// the cap is per session
	_, err = e.app.AddCategory(ctx, l.ID, guest, "Burgers")
	require.NoError(t, err)

	_, err = e.app.RemoveCategory(ctx, l.ID, host, "Thai")
	require.NoError(t, err)
	got, err := e.app.AddCategory(ctx, l.ID, host, "Burgers")
	require.NoError(t, err)
	assert.Equal(t, models.MaxCategoriesPerSession, got.ContributionCount(host))
}

func TestSubmitVotes(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.swipingLobby(t, 10, "kai", "ana")

	_, err := e.app.SubmitVotes(ctx, l.ID, members[0].ID, []int{1, 0, 1})
	assert.ErrorIs(t, err, ErrVoteLength)

	v := []int{1, 0, 1, 0, 0, 0, 0, 0, 0, 1}
	_, err = e.app.SubmitVotes(ctx, l.ID, members[0].ID, v)
	require.NoError(t, err)
	got, err := e.app.SubmitVotes(ctx, l.ID, members[1].ID, []int{1, 1, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 1, 0, 0, 0, 0, 0, 0, 1}, got.Votes)

	_, err = e.app.SubmitVotes(ctx, l.ID, members[0].ID, v)
	assert.ErrorIs(t, err, ErrVotesAlreadySubmitted)
	_, err = e.app.SubmitVotes(ctx, l.ID, "stranger", v)
	assert.ErrorIs(t, err, ErrNotMember)

	_, err = e.app.AdvancePhase(ctx, l.ID, models.PhaseSwiping, models.PhaseResults)
	require.NoError(t, err)
	_, err = e.app.SubmitVotes(ctx, l.ID, members[1].ID, v)
	assert.ErrorIs(t, err, ErrPhaseMismatch)
}

func TestVotesNeverDecrease(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.swipingLobby(t, 10, "kai")

	got, err := e.app.SubmitVotes(ctx, l.ID, members[0].ID, []int{-3, 1, 0, 0, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1, 0, 0, 0, 0, 0, 0, 0, 0}, got.Votes)
}

func TestMarkSessionFinishedExactlyOneIsLast(t *testing.T) {
	for _, n := range []int{1, 2, 5, 12} {
		t.Run(fmt.Sprintf("%d members", n), func(t *testing.T) {
			e := newTestEnv(t)
			ctx := context.Background()
			names := make([]string, n)
			for i := range names {
				names[i] = fmt.Sprintf("p%d", i)
			}
			l, members := e.swipingLobby(t, 10, names...)

			var lasts atomic.Int32
			var wg sync.WaitGroup
			for _, m := range members {
				wg.Add(1)
				go func(id string) {
					defer wg.Done()
					isLast, err := e.app.MarkSessionFinished(ctx, l.ID, id)
					assert.NoError(t, err)
					if isLast {
						lasts.Add(1)
					}
				}(m.ID)
			}
			wg.Wait()
			assert.Equal(t, int32(1), lasts.Load())

			// marking again never reports last
			isLast, err := e.app.MarkSessionFinished(ctx, l.ID, members[0].ID)
			require.NoError(t, err)
			assert.False(t, isLast)
		})
	}
}

func TestMarkSessionFinishedRequiresSwiping(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai")

	_, err := e.app.MarkSessionFinished(ctx, l.ID, members[0].ID)
	assert.ErrorIs(t, err, ErrPhaseMismatch)
	_, err = e.app.MarkSessionFinished(ctx, "none", members[0].ID)
	assert.ErrorIs(t, err, ErrLobbyNotFound)
}

func TestRankedCandidates(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.swipingLobby(t, 10, "kai", "ana")

	_, err := e.app.SubmitVotes(ctx, l.ID, members[0].ID, []int{0, 1, 0, 1, 0, 0, 0, 0, 0, 1})
	require.NoError(t, err)
	_, err = e.app.SubmitVotes(ctx, l.ID, members[1].ID, []int{0, 0, 0, 1, 0, 0, 0, 0, 0, 0})
	require.NoError(t, err)

	ranked, err := e.app.RankedCandidates(ctx, l.ID)
	require.NoError(t, err)
	require.Len(t, ranked, 10)
	assert.Equal(t, "v3", ranked[0].Venue.ID)
	assert.Equal(t, 2, ranked[0].Votes)
	// ties keep candidate order
	assert.Equal(t, "v1", ranked[1].Venue.ID)
	assert.Equal(t, "v9", ranked[2].Venue.ID)
	assert.Equal(t, "v0", ranked[3].Venue.ID)
}

func TestSwipeState(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	s := e.session(t, "kai")

	st, err := e.app.GetSwipeState(ctx, s.ID, "aB3x")
	require.NoError(t, err)
	assert.Equal(t, models.NewSwipeState(), st)

	require.NoError(t, e.app.SetSwipeState(ctx, s.ID, "aB3x", models.SwipeState{SwipeIndex: 3, VoteVector: []int{1, 0, 1}}))
	st, err = e.app.GetSwipeState(ctx, s.ID, "aB3x")
	require.NoError(t, err)
	assert.Equal(t, 3, st.SwipeIndex)
	assert.Equal(t, []int{1, 0, 1}, st.VoteVector)

	require.NoError(t, e.app.ResetSwipeState(ctx, s.ID, "aB3x"))
	st, err = e.app.GetSwipeState(ctx, s.ID, "aB3x")
	require.NoError(t, err)
	assert.Equal(t, models.UninitializedSwipeIndex, st.SwipeIndex)
	assert.Empty(t, st.VoteVector)

	err = e.app.SetSwipeState(ctx, "missing", "aB3x", models.NewSwipeState())
	assert.True(t, errors.Is(err, ErrSessionNotFound))
}

func TestCloseLobbyEarly(t *testing.T) {
	e := newTestEnv(t)
	ctx := context.Background()
	l, members := e.lobbyWith(t, "kai", "ana")

	_, err := e.app.CloseLobbyEarly(ctx, l.ID, members[1].ID)
	assert.ErrorIs(t, err, ErrNotHost)

	e.clock.Advance(time.Minute)
	got, err := e.app.CloseLobbyEarly(ctx, l.ID, members[0].ID)
	require.NoError(t, err)
	assert.False(t, got.Joinable)
	assert.True(t, testStart.Add(time.Minute).Equal(*got.AnchorTimestamp))
}
