package lobby

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"connectrpc.com/connect"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/rpc"
)

// Client calls a remote lobby service. Errors carrying a known sentinel are
// restored so callers can keep using errors.Is.
type Client struct {
	createSession       *connect.Client[CreateSessionRequest, SessionResponse]
	getSession          *connect.Client[SessionRequest, SessionResponse]
	deleteSession       *connect.Client[SessionRequest, Empty]
	createLobby         *connect.Client[SessionRequest, LobbyResponse]
	getLobby            *connect.Client[LobbyRequest, LobbyResponse]
	joinLobby           *connect.Client[MemberRequest, LobbyResponse]
	leaveLobby          *connect.Client[MemberRequest, LeaveLobbyResponse]
	deleteLobby         *connect.Client[LobbyRequest, Empty]
	closeLobbyEarly     *connect.Client[MemberRequest, LobbyResponse]
	updatePreferences   *connect.Client[UpdatePreferencesRequest, LobbyResponse]
	startCategories     *connect.Client[MemberRequest, LobbyResponse]
	advancePhase        *connect.Client[AdvancePhaseRequest, LobbyResponse]
	beginSwiping        *connect.Client[BeginSwipingRequest, LobbyResponse]
	regressToSetup      *connect.Client[LobbyRequest, LobbyResponse]
	overrideAnchor      *connect.Client[OverrideAnchorRequest, OverrideAnchorResponse]
	addCategory         *connect.Client[CategoryRequest, LobbyResponse]
	removeCategory      *connect.Client[CategoryRequest, LobbyResponse]
	submitVotes         *connect.Client[SubmitVotesRequest, LobbyResponse]
	markSessionFinished *connect.Client[MemberRequest, MarkFinishedResponse]
	rankedCandidates    *connect.Client[LobbyRequest, RankedCandidatesResponse]
	getSwipeState       *connect.Client[SwipeStateRequest, SwipeStateResponse]
	setSwipeState       *connect.Client[SwipeStateRequest, Empty]
	resetSwipeState     *connect.Client[SwipeStateRequest, Empty]
}

var _ LobbyApp = (*Client)(nil)

// NewClient creates a client for the lobby service at baseURL.
func NewClient(httpClient connect.HTTPClient, baseURL string, opts ...connect.ClientOption) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(rpc.JSONCodec{})}, opts...)
	return &Client{
		createSession:       connect.NewClient[CreateSessionRequest, SessionResponse](httpClient, baseURL+CreateSessionProcedure, opts...),
		getSession:          connect.NewClient[SessionRequest, SessionResponse](httpClient, baseURL+GetSessionProcedure, opts...),
		deleteSession:       connect.NewClient[SessionRequest, Empty](httpClient, baseURL+DeleteSessionProcedure, opts...),
		createLobby:         connect.NewClient[SessionRequest, LobbyResponse](httpClient, baseURL+CreateLobbyProcedure, opts...),
		getLobby:            connect.NewClient[LobbyRequest, LobbyResponse](httpClient, baseURL+GetLobbyProcedure, opts...),
		joinLobby:           connect.NewClient[MemberRequest, LobbyResponse](httpClient, baseURL+JoinLobbyProcedure, opts...),
		leaveLobby:          connect.NewClient[MemberRequest, LeaveLobbyResponse](httpClient, baseURL+LeaveLobbyProcedure, opts...),
		deleteLobby:         connect.NewClient[LobbyRequest, Empty](httpClient, baseURL+DeleteLobbyProcedure, opts...),
		closeLobbyEarly:     connect.NewClient[MemberRequest, LobbyResponse](httpClient, baseURL+CloseLobbyEarlyProcedure, opts...),
		updatePreferences:   connect.NewClient[UpdatePreferencesRequest, LobbyResponse](httpClient, baseURL+UpdatePreferencesProcedure, opts...),
		startCategories:     connect.NewClient[MemberRequest, LobbyResponse](httpClient, baseURL+StartCategoriesProcedure, opts...),
		advancePhase:        connect.NewClient[AdvancePhaseRequest, LobbyResponse](httpClient, baseURL+AdvancePhaseProcedure, opts...),
		beginSwiping:        connect.NewClient[BeginSwipingRequest, LobbyResponse](httpClient, baseURL+BeginSwipingProcedure, opts...),
		regressToSetup:      connect.NewClient[LobbyRequest, LobbyResponse](httpClient, baseURL+RegressToSetupProcedure, opts...),
		overrideAnchor:      connect.NewClient[OverrideAnchorRequest, OverrideAnchorResponse](httpClient, baseURL+OverrideAnchorProcedure, opts...),
		addCategory:         connect.NewClient[CategoryRequest, LobbyResponse](httpClient, baseURL+AddCategoryProcedure, opts...),
		removeCategory:      connect.NewClient[CategoryRequest, LobbyResponse](httpClient, baseURL+RemoveCategoryProcedure, opts...),
		submitVotes:         connect.NewClient[SubmitVotesRequest, LobbyResponse](httpClient, baseURL+SubmitVotesProcedure, opts...),
		markSessionFinished: connect.NewClient[MemberRequest, MarkFinishedResponse](httpClient, baseURL+MarkSessionFinishedProcedure, opts...),
		rankedCandidates:    connect.NewClient[LobbyRequest, RankedCandidatesResponse](httpClient, baseURL+RankedCandidatesProcedure, opts...),
		getSwipeState:       connect.NewClient[SwipeStateRequest, SwipeStateResponse](httpClient, baseURL+GetSwipeStateProcedure, opts...),
		setSwipeState:       connect.NewClient[SwipeStateRequest, Empty](httpClient, baseURL+SetSwipeStateProcedure, opts...),
		resetSwipeState:     connect.NewClient[SwipeStateRequest, Empty](httpClient, baseURL+ResetSwipeStateProcedure, opts...),
	}
}

// fromConnectError restores the sentinel named in the error metadata.
func fromConnectError(err error) error {
	var cerr *connect.Error
	if !errors.As(err, &cerr) {
		return err
	}
	key := cerr.Meta().Get(errorKeyHeader)
	for _, s := range sentinels {
		if s.key == key {
			return fmt.Errorf("%w: %s", s.err, cerr.Message())
		}
	}
	return err
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, fromConnectError(err)
	}
	return resp.Msg, nil
}

func callLobby[Req any](ctx context.Context, c *connect.Client[Req, LobbyResponse], req *Req) (*models.Lobby, error) {
	resp, err := call(ctx, c, req)
	if err != nil {
		return nil, err
	}
	return resp.Lobby, nil
}

func (c *Client) CreateSession(ctx context.Context, nickname string) (*models.Session, error) {
	resp, err := call(ctx, c.createSession, &CreateSessionRequest{Nickname: nickname})
	if err != nil {
		return nil, err
	}
	return resp.Session, nil
}

func (c *Client) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	resp, err := call(ctx, c.getSession, &SessionRequest{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	return resp.Session, nil
}

func (c *Client) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := call(ctx, c.deleteSession, &SessionRequest{SessionID: sessionID})
	return err
}

func (c *Client) CreateLobby(ctx context.Context, hostSession string) (*models.Lobby, error) {
	return callLobby(ctx, c.createLobby, &SessionRequest{SessionID: hostSession})
}

func (c *Client) GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	return callLobby(ctx, c.getLobby, &LobbyRequest{LobbyID: lobbyID})
}

func (c *Client) JoinLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error) {
	return callLobby(ctx, c.joinLobby, &MemberRequest{LobbyID: lobbyID, SessionID: sessionID})
}

func (c *Client) LeaveLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, bool, error) {
	resp, err := call(ctx, c.leaveLobby, &MemberRequest{LobbyID: lobbyID, SessionID: sessionID})
	if err != nil {
		return nil, false, err
	}
	return resp.Lobby, resp.CompletedFinish, nil
}

func (c *Client) DeleteLobby(ctx context.Context, lobbyID string) error {
	_, err := call(ctx, c.deleteLobby, &LobbyRequest{LobbyID: lobbyID})
	return err
}

func (c *Client) CloseLobbyEarly(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error) {
	return callLobby(ctx, c.closeLobbyEarly, &MemberRequest{LobbyID: lobbyID, SessionID: sessionID})
}

func (c *Client) UpdatePreferences(ctx context.Context, lobbyID, sessionID string, prefs models.Preferences) (*models.Lobby, error) {
	return callLobby(ctx, c.updatePreferences, &UpdatePreferencesRequest{LobbyID: lobbyID, SessionID: sessionID, Preferences: prefs})
}

func (c *Client) StartCategories(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error) {
	return callLobby(ctx, c.startCategories, &MemberRequest{LobbyID: lobbyID, SessionID: sessionID})
}

func (c *Client) AdvancePhase(ctx context.Context, lobbyID string, from, to models.Phase) (*models.Lobby, error) {
	return callLobby(ctx, c.advancePhase, &AdvancePhaseRequest{LobbyID: lobbyID, From: from, To: to})
}

func (c *Client) BeginSwiping(ctx context.Context, lobbyID string, candidates []models.Venue) (*models.Lobby, error) {
	return callLobby(ctx, c.beginSwiping, &BeginSwipingRequest{LobbyID: lobbyID, Candidates: candidates})
}

func (c *Client) RegressToSetup(ctx context.Context, lobbyID string) (*models.Lobby, error) {
	return callLobby(ctx, c.regressToSetup, &LobbyRequest{LobbyID: lobbyID})
}

func (c *Client) OverrideAnchor(ctx context.Context, lobbyID string, candidate time.Time) (*models.Lobby, bool, error) {
	resp, err := call(ctx, c.overrideAnchor, &OverrideAnchorRequest{LobbyID: lobbyID, Anchor: candidate})
	if err != nil {
		return nil, false, err
	}
	return resp.Lobby, resp.Changed, nil
}

func (c *Client) AddCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error) {
	return callLobby(ctx, c.addCategory, &CategoryRequest{LobbyID: lobbyID, SessionID: sessionID, Name: name})
}

func (c *Client) RemoveCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error) {
	return callLobby(ctx, c.removeCategory, &CategoryRequest{LobbyID: lobbyID, SessionID: sessionID, Name: name})
}

func (c *Client) SubmitVotes(ctx context.Context, lobbyID, sessionID string, votes []int) (*models.Lobby, error) {
	return callLobby(ctx, c.submitVotes, &SubmitVotesRequest{LobbyID: lobbyID, SessionID: sessionID, Votes: votes})
}

func (c *Client) MarkSessionFinished(ctx context.Context, lobbyID, sessionID string) (bool, error) {
	resp, err := call(ctx, c.markSessionFinished, &MemberRequest{LobbyID: lobbyID, SessionID: sessionID})
	if err != nil {
		return false, err
	}
	return resp.IsLast, nil
}

func (c *Client) RankedCandidates(ctx context.Context, lobbyID string) ([]models.RankedVenue, error) {
	resp, err := call(ctx, c.rankedCandidates, &LobbyRequest{LobbyID: lobbyID})
	if err != nil {
		return nil, err
	}
	return resp.Candidates, nil
}

func (c *Client) GetSwipeState(ctx context.Context, sessionID, lobbyID string) (models.SwipeState, error) {
	resp, err := call(ctx, c.getSwipeState, &SwipeStateRequest{SessionID: sessionID, LobbyID: lobbyID})
	if err != nil {
		return models.SwipeState{}, err
	}
	return resp.State, nil
}

func (c *Client) SetSwipeState(ctx context.Context, sessionID, lobbyID string, st models.SwipeState) error {
	_, err := call(ctx, c.setSwipeState, &SwipeStateRequest{SessionID: sessionID, LobbyID: lobbyID, State: st})
	return err
}

func (c *Client) ResetSwipeState(ctx context.Context, sessionID, lobbyID string) error {
	_, err := call(ctx, c.resetSwipeState, &SwipeStateRequest{SessionID: sessionID, LobbyID: lobbyID})
	return err
}
