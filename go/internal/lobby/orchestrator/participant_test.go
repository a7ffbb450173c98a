package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tablematch/go/internal/categories"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/lobby/countdown"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/metrics"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/notify"
	"github.com/mcdev12/tablematch/go/internal/sessions"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testStart = time.Date(2024, 5, 1, 18, 0, 0, 0, time.UTC)

type navigation struct {
	path    string
	message string
}

type navRecorder struct {
	mu   sync.Mutex
	navs []navigation
}

func (r *navRecorder) record(path, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.navs = append(r.navs, navigation{path: path, message: message})
}

func (r *navRecorder) has(path, message string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range r.navs {
		if n.path == path && n.message == message {
			return true
		}
	}
	return false
}

type fakeSearcher struct {
	mu      sync.Mutex
	results int
	err     error
	queries []models.SearchQuery
}

func (s *fakeSearcher) SearchCandidates(_ context.Context, q models.SearchQuery) ([]models.Venue, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, q)
	if s.err != nil {
		return nil, s.err
	}
	out := make([]models.Venue, s.results)
	for i := range out {
		out[i] = models.Venue{ID: fmt.Sprintf("v%d", i), Name: fmt.Sprintf("Venue %d", i)}
	}
	return out, nil
}

type countingMetrics struct {
	metrics.NoOp
	mu          sync.Mutex
	transitions map[string]int
}

func (m *countingMetrics) RecordPhaseTransition(from, to string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.transitions[from+"->"+to]++
}

func (m *countingMetrics) count(from, to models.Phase) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.transitions[string(from)+"->"+string(to)]
}

// flakyService fails the next failFinish calls to MarkSessionFinished.
type flakyService struct {
	*lobby.App
	mu         sync.Mutex
	failFinish int
}

func (s *flakyService) MarkSessionFinished(ctx context.Context, lobbyID, sessionID string) (bool, error) {
	s.mu.Lock()
	if s.failFinish > 0 {
		s.failFinish--
		s.mu.Unlock()
		return false, errors.New("service unavailable")
	}
	s.mu.Unlock()
	return s.App.MarkSessionFinished(ctx, lobbyID, sessionID)
}

type harness struct {
	app     *lobby.App
	service LobbyService
	clock   *clockwork.FakeClock
	bus     *notify.MemoryBus
	search  *fakeSearcher
	metrics *countingMetrics
}

func newHarness(t *testing.T, results int) *harness {
	t.Helper()
	clock := clockwork.NewFakeClockAt(testStart)
	m := &countingMetrics{transitions: make(map[string]int)}
	bus := notify.NewMemoryBus()
	t.Cleanup(func() { bus.Close() })
	return &harness{
		app:     lobby.NewApp(lobby.NewMemoryRepository(), sessions.NewMemoryStore(), lobby.WithClock(clock), lobby.WithMetrics(m)),
		clock:   clock,
		bus:     bus,
		search:  &fakeSearcher{results: results},
		metrics: m,
	}
}

// lobby creates a lobby hosted by the first nickname with coordinates set, and
// sessions for the rest. Guests join when their participant starts.
func (h *harness) lobby(t *testing.T, nicknames ...string) (*models.Lobby, []string) {
	t.Helper()
	ctx := context.Background()
	var ids []string
	for _, n := range nicknames {
		s, err := h.app.CreateSession(ctx, n)
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	l, err := h.app.CreateLobby(ctx, ids[0])
	require.NoError(t, err)
	prefs := models.DefaultPreferences()
	prefs.Coordinates = models.Coordinates{Latitude: 40.7, Longitude: -74.0}
	l, err = h.app.UpdatePreferences(ctx, l.ID, ids[0], prefs)
	require.NoError(t, err)
	return l, ids
}

func (h *harness) start(t *testing.T, lobbyID, sessionID string, phase models.Phase) (*Participant, *navRecorder) {
	t.Helper()
	rec := &navRecorder{}
	var svc LobbyService = h.app
	if h.service != nil {
		svc = h.service
	}
	p, err := New(Config{
		Service:         svc,
		Bus:             h.bus,
		Searcher:        h.search,
		Categories:      categories.Build([]categories.Entry{{Region: "US", Name: "Pizza", Code: "pizza"}}),
		Clock:           h.clock,
		Metrics:         h.metrics,
		SwipingDuration: 30,
		Navigate:        rec.record,
	}, lobbyID, sessionID)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		_ = p.Run(ctx, phase)
	}()
	t.Cleanup(func() {
		cancel()
		<-p.Done()
	})
	waitFor(t, func() bool { return p.View().Lobby != nil || p.View().Detached })
	return p, rec
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, cond, 5*time.Second, 2*time.Millisecond)
}

// advanceUntil moves the fake clock one tick per poll until cond holds.
func (h *harness) advanceUntil(t *testing.T, cond func() bool) {
	t.Helper()
	require.Eventually(t, func() bool {
		h.clock.Advance(countdown.TickInterval)
		return cond()
	}, 10*time.Second, 2*time.Millisecond)
}

func onPage(phase models.Phase, ps ...*Participant) func() bool {
	return func() bool {
		for _, p := range ps {
			if v := p.View(); v.Page != phase || v.Lobby == nil || v.Lobby.Phase != phase {
				return false
			}
		}
		return true
	}
}

// toSwiping runs the categories phase with the given participants.
func (h *harness) toSwiping(t *testing.T, host *Participant, all ...*Participant) {
	t.Helper()
	require.NoError(t, host.StartLobby(context.Background()))
	waitFor(t, onPage(models.PhaseCategories, all...))
	h.advanceUntil(t, onPage(models.PhaseSwiping, all...))
}

func TestCategoriesToSwipingWithEnoughResults(t *testing.T) {
	h := newHarness(t, 10)
	l, ids := h.lobby(t, "host", "guest")
	host, _ := h.start(t, l.ID, ids[0], models.PhaseSetup)
	guest, guestNav := h.start(t, l.ID, ids[1], models.PhaseSetup)

	require.NoError(t, host.StartLobby(context.Background()))
	waitFor(t, onPage(models.PhaseCategories, host, guest))
	assert.True(t, guestNav.has(gate.LobbyPath(l.ID, models.PhaseCategories), ""))

	require.NoError(t, guest.AddCategory(context.Background(), "pizza"))
	h.advanceUntil(t, onPage(models.PhaseSwiping, host, guest))

	got, err := h.app.GetLobby(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSwiping, got.Phase)
	assert.Len(t, got.Candidates, 10)
	assert.Equal(t, make([]int, 10), got.Votes)

	require.Len(t, h.search.queries, 1)
	q := h.search.queries[0]
	assert.Equal(t, []string{"pizza"}, q.Categories)
	assert.Equal(t, 10, q.Count)
	assert.Equal(t, "$", q.PriceCeiling)
	assert.Equal(t, 5, q.RadiusMiles)
	assert.Equal(t, models.Coordinates{Latitude: 40.7, Longitude: -74.0}, q.Center)

	v := guest.View()
	assert.Equal(t, 0, v.Swipe.SwipeIndex)
	assert.Equal(t, make([]int, 10), v.Swipe.VoteVector)
	assert.Equal(t, 1, h.metrics.count(models.PhaseCategories, models.PhaseSwiping))
}

func TestCategoriesRegressWhenResultsShort(t *testing.T) {
	h := newHarness(t, 7)
	l, ids := h.lobby(t, "host", "guest")
	host, _ := h.start(t, l.ID, ids[0], models.PhaseSetup)
	guest, guestNav := h.start(t, l.ID, ids[1], models.PhaseSetup)

	require.NoError(t, host.StartLobby(context.Background()))
	waitFor(t, onPage(models.PhaseCategories, host, guest))

	setupPath := gate.LobbyPath(l.ID, models.PhaseSetup)
	h.advanceUntil(t, func() bool {
		return guestNav.has(setupPath, notEnoughResultsMessage) && onPage(models.PhaseSetup, host, guest)()
	})

	got, err := h.app.GetLobby(context.Background(), l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSetup, got.Phase)
	assert.True(t, got.Joinable)
	assert.Nil(t, got.Candidates)
	assert.Nil(t, got.Votes)
	assert.Equal(t, 1, h.metrics.count(models.PhaseCategories, models.PhaseSetup))
}

func TestCategoriesRegressWhenSearchFails(t *testing.T) {
	h := newHarness(t, 10)
	h.search.err = errors.New("upstream unavailable")
	l, ids := h.lobby(t, "host")
	host, nav := h.start(t, l.ID, ids[0], models.PhaseSetup)

	require.NoError(t, host.StartLobby(context.Background()))
	waitFor(t, onPage(models.PhaseCategories, host))
	h.advanceUntil(t, func() bool {
		return nav.has(gate.LobbyPath(l.ID, models.PhaseSetup), notEnoughResultsMessage)
	})
}

func TestLateFinisherStillCountedAndPhaseAdvancesOnce(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	l, ids := h.lobby(t, "late-host", "early-a", "early-b")
	late, _ := h.start(t, l.ID, ids[0], models.PhaseSetup)
	a, _ := h.start(t, l.ID, ids[1], models.PhaseSetup)
	b, _ := h.start(t, l.ID, ids[2], models.PhaseSetup)
	all := []*Participant{late, a, b}
	h.toSwiping(t, late, all...)

	before, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		require.NoError(t, a.Swipe(ctx, true))
		require.NoError(t, b.Swipe(ctx, i == 0))
	}
	assert.ErrorIs(t, a.Swipe(ctx, true), ErrSwipingDone)
	for i := 0; i < 4; i++ {
		require.NoError(t, late.Swipe(ctx, true))
	}

	mid, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, before.AnchorTimestamp.Equal(*mid.AnchorTimestamp), "anchor must not move before everyone finished")
	assert.True(t, mid.Member(ids[1]).Finished)
	assert.True(t, mid.Member(ids[2]).Finished)
	assert.False(t, mid.Member(ids[0]).Finished)

	h.advanceUntil(t, onPage(models.PhaseResults, all...))

	got, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 2, 2, 2, 1, 1, 1, 1, 1, 1}, got.Votes)
	assert.False(t, got.Member(ids[0]).Finished)
	assert.True(t, got.Member(ids[0]).Submitted)
	assert.Equal(t, 1, h.metrics.count(models.PhaseSwiping, models.PhaseResults))

	ranked, err := h.app.RankedCandidates(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, "v0", ranked[0].Venue.ID)
}

func TestLastFinisherShortensCountdown(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	l, ids := h.lobby(t, "host", "guest")
	host, _ := h.start(t, l.ID, ids[0], models.PhaseSetup)
	guest, _ := h.start(t, l.ID, ids[1], models.PhaseSetup)
	h.toSwiping(t, host, host, guest)

	before, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, host.Swipe(ctx, i%2 == 0))
	}
	for i := 0; i < 10; i++ {
		require.NoError(t, guest.Swipe(ctx, i < 3))
	}
	finishedAt := h.clock.Now()

	after, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.True(t, after.AnchorTimestamp.Before(*before.AnchorTimestamp))
	assert.True(t, after.AnchorTimestamp.Equal(countdown.OverrideAnchor(finishedAt, 30)))

	h.advanceUntil(t, onPage(models.PhaseResults, host, guest))
	assert.Less(t, h.clock.Since(finishedAt), 30*time.Second)

	got, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 1, 2, 0, 1, 0, 1, 0, 1, 0}, got.Votes)
	assert.Equal(t, 1, h.metrics.count(models.PhaseSwiping, models.PhaseResults))
}

func TestFailedFinishRetriedOnRefresh(t *testing.T) {
	h := newHarness(t, 10)
	flaky := &flakyService{App: h.app}
	h.service = flaky
	ctx := context.Background()
	l, ids := h.lobby(t, "host", "guest")
	host, _ := h.start(t, l.ID, ids[0], models.PhaseSetup)
	guest, _ := h.start(t, l.ID, ids[1], models.PhaseSetup)
	h.toSwiping(t, host, host, guest)

	before, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		require.NoError(t, host.Swipe(ctx, true))
	}

	flaky.mu.Lock()
	flaky.failFinish = 1
	flaky.mu.Unlock()
	for i := 0; i < 9; i++ {
		require.NoError(t, guest.Swipe(ctx, false))
	}
	require.Error(t, guest.Swipe(ctx, false))
	assert.ErrorIs(t, guest.Swipe(ctx, false), ErrSwipingDone)

	guestFinished := func() bool {
		got, err := h.app.GetLobby(ctx, l.ID)
		if err != nil {
			return false
		}
		m := got.Member(ids[1])
		return m != nil && m.Finished && got.AnchorTimestamp.Before(*before.AnchorTimestamp)
	}
	assert.False(t, guestFinished())

	h.advanceUntil(t, guestFinished)

	after, err := h.app.GetLobby(ctx, l.ID)
	require.NoError(t, err)
	assert.Equal(t, models.PhaseSwiping, after.Phase)
	assert.True(t, after.AnchorTimestamp.Before(*before.AnchorTimestamp))
	assert.Equal(t, []int{1, 1, 1, 1, 1, 1, 1, 1, 1, 1}, after.Votes)
}

func TestSwipeOutsideSwipingPage(t *testing.T) {
	h := newHarness(t, 10)
	l, ids := h.lobby(t, "host")
	host, _ := h.start(t, l.ID, ids[0], models.PhaseSetup)
	assert.ErrorIs(t, host.Swipe(context.Background(), true), ErrNotSwiping)
}

func TestGuestCannotStartLobby(t *testing.T) {
	h := newHarness(t, 10)
	l, ids := h.lobby(t, "host", "guest")
	guest, _ := h.start(t, l.ID, ids[1], models.PhaseSetup)
	assert.ErrorIs(t, guest.StartLobby(context.Background()), lobby.ErrNotHost)
}

func TestCloseEarlyDetachesEveryone(t *testing.T) {
	h := newHarness(t, 10)
	l, ids := h.lobby(t, "host", "guest")
	host, hostNav := h.start(t, l.ID, ids[0], models.PhaseSetup)
	guest, guestNav := h.start(t, l.ID, ids[1], models.PhaseSetup)

	require.NoError(t, host.CloseEarly(context.Background()))
	waitFor(t, func() bool { return guest.View().Detached })
	assert.True(t, guestNav.has(gate.HomePath, hostClosedMessage))
	assert.True(t, hostNav.has(gate.HomePath, ""))
	<-host.Done()
	<-guest.Done()
	assert.ErrorIs(t, host.Swipe(context.Background(), true), ErrStopped)
}

func TestGateRedirectsStrangerFromStartedLobby(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	l, ids := h.lobby(t, "host", "late")
	_, err := h.app.StartCategories(ctx, l.ID, ids[0])
	require.NoError(t, err)

	p, nav := h.start(t, l.ID, ids[1], models.PhaseCategories)
	waitFor(t, func() bool { return p.View().Detached })
	assert.True(t, nav.has(gate.HomePath, string(gate.ReasonLobbyStarted)))
}

func TestGateReroutesToActualPhase(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	l, ids := h.lobby(t, "host")
	_, err := h.app.StartCategories(ctx, l.ID, ids[0])
	require.NoError(t, err)

	p, nav := h.start(t, l.ID, ids[0], models.PhaseSetup)
	waitFor(t, onPage(models.PhaseCategories, p))
	assert.True(t, nav.has(gate.LobbyPath(l.ID, models.PhaseCategories), string(gate.ReasonRerouted)))
}

func TestMissingLobbyRedirectsHome(t *testing.T) {
	h := newHarness(t, 10)
	s, err := h.app.CreateSession(context.Background(), "lost")
	require.NoError(t, err)

	p, nav := h.start(t, "zzzz", s.ID, models.PhaseSetup)
	waitFor(t, func() bool { return p.View().Detached })
	assert.True(t, nav.has(gate.HomePath, string(gate.ReasonLobbyMissing)))
}

func TestResumesStoredSwipeProgress(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()
	l, ids := h.lobby(t, "host")
	_, err := h.app.StartCategories(ctx, l.ID, ids[0])
	require.NoError(t, err)
	candidates := make([]models.Venue, 10)
	for i := range candidates {
		candidates[i] = models.Venue{ID: fmt.Sprintf("v%d", i)}
	}
	_, err = h.app.BeginSwiping(ctx, l.ID, candidates)
	require.NoError(t, err)

	stored := models.SwipeState{SwipeIndex: 3, VoteVector: []int{1, 0, 1, 0, 0, 0, 0, 0, 0, 0}}
	require.NoError(t, h.app.SetSwipeState(ctx, ids[0], l.ID, stored))

	p, _ := h.start(t, l.ID, ids[0], models.PhaseSwiping)
	waitFor(t, onPage(models.PhaseSwiping, p))
	assert.Equal(t, stored, p.View().Swipe)

	require.NoError(t, p.Swipe(ctx, true))
	st, err := h.app.GetSwipeState(ctx, ids[0], l.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, st.SwipeIndex)
	assert.Equal(t, 1, st.VoteVector[3])
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, "abcd", "s")
	assert.Error(t, err)
	_, err = New(Config{Service: &lobby.App{}}, "abcd", "s")
	assert.Error(t, err)
}
