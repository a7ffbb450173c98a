package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tablematch/go/internal/lobby"
	"github.com/mcdev12/tablematch/go/internal/lobby/finish"
	"github.com/mcdev12/tablematch/go/internal/lobby/gate"
	"github.com/mcdev12/tablematch/go/internal/metrics"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/notify"
)

const (
	DefaultCategoriesDuration = 10 // seconds
	DefaultSwipingDuration    = 10 // seconds
	DefaultRefreshInterval    = 2 * time.Second
	DefaultRegion             = "US"

	notEnoughResultsMessage = "not enough results"
	hostClosedMessage       = "host closed the lobby"
)

// LobbyService is the authority a participant reads and writes through. Both
// *lobby.App and *lobby.Client satisfy it.
type LobbyService interface {
	gate.Reader
	finish.Service

	JoinLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
	UpdatePreferences(ctx context.Context, lobbyID, sessionID string, prefs models.Preferences) (*models.Lobby, error)
	StartCategories(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
	CloseLobbyEarly(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
	AddCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error)
	RemoveCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error)
	AdvancePhase(ctx context.Context, lobbyID string, from, to models.Phase) (*models.Lobby, error)
	BeginSwiping(ctx context.Context, lobbyID string, candidates []models.Venue) (*models.Lobby, error)
	RegressToSetup(ctx context.Context, lobbyID string) (*models.Lobby, error)
	OverrideAnchor(ctx context.Context, lobbyID string, candidate time.Time) (*models.Lobby, bool, error)
	GetSwipeState(ctx context.Context, sessionID, lobbyID string) (models.SwipeState, error)
	SetSwipeState(ctx context.Context, sessionID, lobbyID string, st models.SwipeState) error
	ResetSwipeState(ctx context.Context, sessionID, lobbyID string) error
}

var (
	_ LobbyService = (*lobby.App)(nil)
	_ LobbyService = (*lobby.Client)(nil)
)

// Searcher finds candidate venues.
type Searcher interface {
	SearchCandidates(ctx context.Context, q models.SearchQuery) ([]models.Venue, error)
}

// CategoryResolver turns category names into search codes.
type CategoryResolver interface {
	Codes(region string, names []string) []string
}

// Config holds a participant's collaborators and timings.
type Config struct {
	Service    LobbyService
	Bus        notify.Bus
	Searcher   Searcher
	Categories CategoryResolver
	Region     string
	Clock      clockwork.Clock
	Metrics    metrics.Collector

	CategoriesDuration int // seconds
	SwipingDuration    int // seconds
	RefreshInterval    time.Duration
	MaxLobbyAge        time.Duration

	// IsNotFound classifies service errors for missing records. Defaults to
	// lobby.IsNotFound.
	IsNotFound func(error) bool

	// Navigate is told about every route change, with an optional message.
	Navigate func(path, message string)
	// OnUpdate receives every fresh lobby snapshot.
	OnUpdate func(l *models.Lobby)
	// OnTick observes the current page's countdown.
	OnTick func(phase models.Phase, remaining int)
}

func (c Config) withDefaults() (Config, error) {
	if c.Service == nil {
		return c, errors.New("orchestrator: service is required")
	}
	if c.Bus == nil {
		return c, errors.New("orchestrator: bus is required")
	}
	if c.Region == "" {
		c.Region = DefaultRegion
	}
	if c.Clock == nil {
		c.Clock = clockwork.NewRealClock()
	}
	if c.Metrics == nil {
		c.Metrics = metrics.NoOp{}
	}
	if c.CategoriesDuration <= 0 {
		c.CategoriesDuration = DefaultCategoriesDuration
	}
	if c.SwipingDuration <= 0 {
		c.SwipingDuration = DefaultSwipingDuration
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.MaxLobbyAge <= 0 {
		c.MaxLobbyAge = gate.DefaultMaxLobbyAge
	}
	if c.IsNotFound == nil {
		c.IsNotFound = lobby.IsNotFound
	}
	if c.Navigate == nil {
		c.Navigate = func(string, string) {}
	}
	if c.OnUpdate == nil {
		c.OnUpdate = func(*models.Lobby) {}
	}
	return c, nil
}

func (c Config) duration(phase models.Phase) int {
	switch phase {
	case models.PhaseCategories:
		return c.CategoriesDuration
	case models.PhaseSwiping:
		return c.SwipingDuration
	default:
		return 0
	}
}
