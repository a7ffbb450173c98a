package lobby

import (
	"errors"
	"time"

	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/sessions"
)

var (
	ErrLobbyNotFound         = errors.New("lobby not found")
	ErrLobbyExists           = errors.New("lobby already exists")
	ErrLobbyStarted          = errors.New("lobby already started")
	ErrIDExhausted           = errors.New("could not allocate a free lobby id")
	ErrNotHost               = errors.New("only the host may do this")
	ErrNotMember             = errors.New("session is not a member of the lobby")
	ErrPhaseMismatch         = errors.New("lobby is not in the expected phase")
	ErrInvalidTransition     = errors.New("phase transition not allowed")
	ErrCategoryLimit         = errors.New("session has reached the category limit")
	ErrNotContributor        = errors.New("session did not contribute this category")
	ErrVoteLength            = errors.New("vote vector length does not match the candidates")
	ErrVotesAlreadySubmitted = errors.New("votes already submitted")
	ErrInsufficientResults   = errors.New("candidate count does not match the requested number of results")
	ErrInvalidPreferences    = errors.New("invalid preferences")
	ErrCoordinatesUnset      = errors.New("search coordinates are not set")
	ErrInvalidNickname       = errors.New("nickname must be 1 to 24 characters")
	ErrInvalidCategory       = errors.New("category name is required")

	ErrSessionNotFound = sessions.ErrSessionNotFound
)

// IsNotFound reports whether err means a lobby or session record does not exist.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrLobbyNotFound) || errors.Is(err, ErrSessionNotFound)
}

const (
	idAlphabet      = "23456789abcdefghjkmnpqrstuvwxyzABCDEFGHJKLMNPQRSTUVWXYZ"
	idLength        = 4
	maxIDAttempts   = 10
	maxNicknameSize = 24
)

// CreateSessionRequest is the payload for CreateSession.
type CreateSessionRequest struct {
	Nickname string `json:"nickname"`
}

// SessionRequest identifies a session.
type SessionRequest struct {
	SessionID string `json:"session_id"`
}

// LobbyRequest identifies a lobby.
type LobbyRequest struct {
	LobbyID string `json:"lobby_id"`
}

// MemberRequest identifies a session acting on a lobby.
type MemberRequest struct {
	LobbyID   string `json:"lobby_id"`
	SessionID string `json:"session_id"`
}

// UpdatePreferencesRequest is the payload for UpdatePreferences.
type UpdatePreferencesRequest struct {
	LobbyID     string             `json:"lobby_id"`
	SessionID   string             `json:"session_id"`
	Preferences models.Preferences `json:"preferences"`
}

// AdvancePhaseRequest moves a lobby from one phase to the next.
type AdvancePhaseRequest struct {
	LobbyID string       `json:"lobby_id"`
	From    models.Phase `json:"from"`
	To      models.Phase `json:"to"`
}

// BeginSwipingRequest fixes the candidate list and opens swiping.
type BeginSwipingRequest struct {
	LobbyID    string         `json:"lobby_id"`
	Candidates []models.Venue `json:"candidates"`
}

// OverrideAnchorRequest proposes an earlier anchor.
type OverrideAnchorRequest struct {
	LobbyID string    `json:"lobby_id"`
	Anchor  time.Time `json:"anchor"`
}

// CategoryRequest adds or removes a category contribution.
type CategoryRequest struct {
	LobbyID   string `json:"lobby_id"`
	SessionID string `json:"session_id"`
	Name      string `json:"name"`
}

// SubmitVotesRequest carries one session's vote vector.
type SubmitVotesRequest struct {
	LobbyID   string `json:"lobby_id"`
	SessionID string `json:"session_id"`
	Votes     []int  `json:"votes"`
}

// SwipeStateRequest reads or writes a session's progress in a lobby.
type SwipeStateRequest struct {
	SessionID string            `json:"session_id"`
	LobbyID   string            `json:"lobby_id"`
	State     models.SwipeState `json:"state"`
}

// MarkFinishedResponse reports whether the caller completed the finished set.
type MarkFinishedResponse struct {
	IsLast bool `json:"is_last"`
}

// OverrideAnchorResponse reports the lobby and whether its anchor moved.
type OverrideAnchorResponse struct {
	Lobby   *models.Lobby `json:"lobby"`
	Changed bool          `json:"changed"`
}

// LobbyResponse wraps a lobby snapshot.
type LobbyResponse struct {
	Lobby *models.Lobby `json:"lobby"`
}

// LeaveLobbyResponse reports whether the leave left every remaining member finished.
type LeaveLobbyResponse struct {
	Lobby           *models.Lobby `json:"lobby"`
	CompletedFinish bool          `json:"completed_finish"`
}

// SessionResponse wraps a session.
type SessionResponse struct {
	Session *models.Session `json:"session"`
}

// SwipeStateResponse wraps swipe progress.
type SwipeStateResponse struct {
	State models.SwipeState `json:"state"`
}

// RankedCandidatesResponse lists candidates by votes.
type RankedCandidatesResponse struct {
	Candidates []models.RankedVenue `json:"candidates"`
}

// Empty is used for operations without a response body.
type Empty struct{}
