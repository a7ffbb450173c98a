package gate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

// DefaultMaxLobbyAge is how long a closed lobby stays alive after its last anchor reset.
const DefaultMaxLobbyAge = 15 * time.Minute

const (
	EntryPath = "/nickname"
	HomePath  = "/"
)

// State is the gate's evaluation state for one page load.
type State string

const (
	StateLoading  State = "loading"
	StateRedirect State = "redirect"
	StatePass     State = "pass"
)

// Reason explains a redirect.
type Reason string

const (
	ReasonNeedNickname Reason = "need nickname"
	ReasonLobbyMissing Reason = "lobby does not exist"
	ReasonLobbyStarted Reason = "lobby already started"
	ReasonRerouted     Reason = "rerouted"
)

// Outcome is the result of one gate evaluation.
type Outcome struct {
	State  State  `json:"state"`
	Path   string `json:"path,omitempty"`
	Reason Reason `json:"reason,omitempty"`
}

// Passed reports whether the requested page may render.
func (o Outcome) Passed() bool {
	return o.State == StatePass
}

// LobbyPath returns the route for a lobby page.
func LobbyPath(lobbyID string, phase models.Phase) string {
	return fmt.Sprintf("/lobby/%s/%s", lobbyID, phase)
}

// Evaluate applies the routing rules in precedence order; the first match wins.
// session and lobby are nil when they do not exist.
func Evaluate(session *models.Session, lobby *models.Lobby, expected models.Phase, now time.Time, maxAge time.Duration) Outcome {
	if session == nil {
		return Outcome{State: StateRedirect, Path: EntryPath, Reason: ReasonNeedNickname}
	}
	if lobby == nil || (!lobby.Joinable && lobby.Expired(now, maxAge)) {
		return Outcome{State: StateRedirect, Path: HomePath, Reason: ReasonLobbyMissing}
	}
	if !lobby.Joinable && !lobby.IsMember(session.ID) {
		return Outcome{State: StateRedirect, Path: HomePath, Reason: ReasonLobbyStarted}
	}
	if lobby.Phase != expected {
		return Outcome{State: StateRedirect, Path: LobbyPath(lobby.ID, lobby.Phase), Reason: ReasonRerouted}
	}
	return Outcome{State: StatePass}
}

// Reader is what the gate needs from the lobby service.
type Reader interface {
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error)
}

// Gate evaluates routing rules against fresh state on every call.
type Gate struct {
	reader     Reader
	clock      clockwork.Clock
	maxAge     time.Duration
	isNotFound func(error) bool
}

// NewGate creates a Gate. isNotFound classifies reader errors that mean "record does
// not exist"; any other error is treated as a transient failure.
func NewGate(reader Reader, clock clockwork.Clock, maxAge time.Duration, isNotFound func(error) bool) *Gate {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if maxAge <= 0 {
		maxAge = DefaultMaxLobbyAge
	}
	if isNotFound == nil {
		isNotFound = func(error) bool { return false }
	}
	return &Gate{reader: reader, clock: clock, maxAge: maxAge, isNotFound: isNotFound}
}

// ErrTransient wraps read failures that should be retried rather than redirected.
var ErrTransient = errors.New("gate: transient read failure")

// Check fetches the session and lobby and evaluates the rules for a page expecting
// phase expected. The returned lobby is the snapshot the decision was based on.
func (g *Gate) Check(ctx context.Context, sessionID, lobbyID string, expected models.Phase) (Outcome, *models.Lobby, error) {
	var session *models.Session
	if sessionID != "" {
		s, err := g.reader.GetSession(ctx, sessionID)
		switch {
		case err == nil:
			session = s
		case g.isNotFound(err):
		default:
			return Outcome{State: StateLoading}, nil, fmt.Errorf("%w: session: %v", ErrTransient, err)
		}
	}
	if session == nil {
		return Evaluate(nil, nil, expected, g.clock.Now(), g.maxAge), nil, nil
	}

	lobby, err := g.reader.GetLobby(ctx, lobbyID)
	if err != nil {
		if !g.isNotFound(err) {
			return Outcome{State: StateLoading}, nil, fmt.Errorf("%w: lobby: %v", ErrTransient, err)
		}
		lobby = nil
	}

	outcome := Evaluate(session, lobby, expected, g.clock.Now(), g.maxAge)
	log.Debug().
		Str("lobby_id", lobbyID).
		Str("session_id", sessionID).
		Str("expected_phase", string(expected)).
		Str("state", string(outcome.State)).
		Str("reason", string(outcome.Reason)).
		Msg("phase gate evaluated")
	return outcome, lobby, nil
}
