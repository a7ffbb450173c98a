package lobby

import (
	"context"
	"errors"
	"net/http"
	"time"

	"connectrpc.com/connect"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/mcdev12/tablematch/go/internal/rpc"
)

// LobbyApp defines what the service layer needs from the lobby application
type LobbyApp interface {
	CreateSession(ctx context.Context, nickname string) (*models.Session, error)
	GetSession(ctx context.Context, sessionID string) (*models.Session, error)
	DeleteSession(ctx context.Context, sessionID string) error
	CreateLobby(ctx context.Context, hostSession string) (*models.Lobby, error)
	GetLobby(ctx context.Context, lobbyID string) (*models.Lobby, error)
	JoinLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
	LeaveLobby(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, bool, error)
	DeleteLobby(ctx context.Context, lobbyID string) error
	CloseLobbyEarly(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
	UpdatePreferences(ctx context.Context, lobbyID, sessionID string, prefs models.Preferences) (*models.Lobby, error)
	StartCategories(ctx context.Context, lobbyID, sessionID string) (*models.Lobby, error)
	AdvancePhase(ctx context.Context, lobbyID string, from, to models.Phase) (*models.Lobby, error)
	BeginSwiping(ctx context.Context, lobbyID string, candidates []models.Venue) (*models.Lobby, error)
	RegressToSetup(ctx context.Context, lobbyID string) (*models.Lobby, error)
	OverrideAnchor(ctx context.Context, lobbyID string, candidate time.Time) (*models.Lobby, bool, error)
	AddCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error)
	RemoveCategory(ctx context.Context, lobbyID, sessionID, name string) (*models.Lobby, error)
	SubmitVotes(ctx context.Context, lobbyID, sessionID string, votes []int) (*models.Lobby, error)
	MarkSessionFinished(ctx context.Context, lobbyID, sessionID string) (bool, error)
	RankedCandidates(ctx context.Context, lobbyID string) ([]models.RankedVenue, error)
	GetSwipeState(ctx context.Context, sessionID, lobbyID string) (models.SwipeState, error)
	SetSwipeState(ctx context.Context, sessionID, lobbyID string, st models.SwipeState) error
	ResetSwipeState(ctx context.Context, sessionID, lobbyID string) error
}

var _ LobbyApp = (*App)(nil)

// ServiceName is the fully qualified name of the lobby RPC service.
const ServiceName = "lobby.v1.LobbyService"

const (
	CreateSessionProcedure       = "/" + ServiceName + "/CreateSession"
	GetSessionProcedure          = "/" + ServiceName + "/GetSession"
	DeleteSessionProcedure       = "/" + ServiceName + "/DeleteSession"
	CreateLobbyProcedure         = "/" + ServiceName + "/CreateLobby"
	GetLobbyProcedure            = "/" + ServiceName + "/GetLobby"
	JoinLobbyProcedure           = "/" + ServiceName + "/JoinLobby"
	LeaveLobbyProcedure          = "/" + ServiceName + "/LeaveLobby"
	DeleteLobbyProcedure         = "/" + ServiceName + "/DeleteLobby"
	CloseLobbyEarlyProcedure     = "/" + ServiceName + "/CloseLobbyEarly"
	UpdatePreferencesProcedure   = "/" + ServiceName + "/UpdatePreferences"
	StartCategoriesProcedure     = "/" + ServiceName + "/StartCategories"
	AdvancePhaseProcedure        = "/" + ServiceName + "/AdvancePhase"
	BeginSwipingProcedure        = "/" + ServiceName + "/BeginSwiping"
	RegressToSetupProcedure      = "/" + ServiceName + "/RegressToSetup"
	OverrideAnchorProcedure      = "/" + ServiceName + "/OverrideAnchor"
	AddCategoryProcedure         = "/" + ServiceName + "/AddCategory"
	RemoveCategoryProcedure      = "/" + ServiceName + "/RemoveCategory"
	SubmitVotesProcedure         = "/" + ServiceName + "/SubmitVotes"
	MarkSessionFinishedProcedure = "/" + ServiceName + "/MarkSessionFinished"
	RankedCandidatesProcedure    = "/" + ServiceName + "/RankedCandidates"
	GetSwipeStateProcedure       = "/" + ServiceName + "/GetSwipeState"
	SetSwipeStateProcedure       = "/" + ServiceName + "/SetSwipeState"
	ResetSwipeStateProcedure     = "/" + ServiceName + "/ResetSwipeState"
)

// errorKeyHeader carries the sentinel behind a connect error so clients can restore it.
const errorKeyHeader = "Lobby-Error"

type sentinel struct {
	key  string
	err  error
	code connect.Code
}

// sentinels is checked in order; the first match decides the code.
var sentinels = []sentinel{
	{"lobby_not_found", ErrLobbyNotFound, connect.CodeNotFound},
	{"session_not_found", ErrSessionNotFound, connect.CodeNotFound},
	{"lobby_exists", ErrLobbyExists, connect.CodeAlreadyExists},
	{"lobby_started", ErrLobbyStarted, connect.CodeFailedPrecondition},
	{"id_exhausted", ErrIDExhausted, connect.CodeResourceExhausted},
	{"not_host", ErrNotHost, connect.CodePermissionDenied},
	{"not_member", ErrNotMember, connect.CodePermissionDenied},
	{"phase_mismatch", ErrPhaseMismatch, connect.CodeFailedPrecondition},
	{"invalid_transition", ErrInvalidTransition, connect.CodeInvalidArgument},
	{"category_limit", ErrCategoryLimit, connect.CodeResourceExhausted},
	{"not_contributor", ErrNotContributor, connect.CodeFailedPrecondition},
	{"vote_length", ErrVoteLength, connect.CodeInvalidArgument},
	{"votes_submitted", ErrVotesAlreadySubmitted, connect.CodeAlreadyExists},
	{"insufficient_results", ErrInsufficientResults, connect.CodeFailedPrecondition},
	{"invalid_preferences", ErrInvalidPreferences, connect.CodeInvalidArgument},
	{"coordinates_unset", ErrCoordinatesUnset, connect.CodeFailedPrecondition},
	{"invalid_nickname", ErrInvalidNickname, connect.CodeInvalidArgument},
	{"invalid_category", ErrInvalidCategory, connect.CodeInvalidArgument},
}

func toConnectError(err error) error {
	if errors.Is(err, context.Canceled) {
		return connect.NewError(connect.CodeCanceled, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return connect.NewError(connect.CodeDeadlineExceeded, err)
	}
	for _, s := range sentinels {
		if errors.Is(err, s.err) {
			cerr := connect.NewError(s.code, err)
			cerr.Meta().Set(errorKeyHeader, s.key)
			return cerr
		}
	}
	return connect.NewError(connect.CodeInternal, err)
}

// Service implements the lobby RPC service on top of LobbyApp
type Service struct {
	app LobbyApp
}

// NewService creates a new lobby RPC service
func NewService(app LobbyApp) *Service {
	return &Service{app: app}
}

// NewLobbyServiceHandler builds an HTTP handler serving every procedure. The returned
// path is the prefix to mount it on.
func NewLobbyServiceHandler(svc *Service, opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(rpc.JSONCodec{})}, opts...)
	mux := http.NewServeMux()
	mux.Handle(CreateSessionProcedure, connect.NewUnaryHandler(CreateSessionProcedure, svc.CreateSession, opts...))
	mux.Handle(GetSessionProcedure, connect.NewUnaryHandler(GetSessionProcedure, svc.GetSession, opts...))
	mux.Handle(DeleteSessionProcedure, connect.NewUnaryHandler(DeleteSessionProcedure, svc.DeleteSession, opts...))
	mux.Handle(CreateLobbyProcedure, connect.NewUnaryHandler(CreateLobbyProcedure, svc.CreateLobby, opts...))
	mux.Handle(GetLobbyProcedure, connect.NewUnaryHandler(GetLobbyProcedure, svc.GetLobby, opts...))
	mux.Handle(JoinLobbyProcedure, connect.NewUnaryHandler(JoinLobbyProcedure, svc.JoinLobby, opts...))
	mux.Handle(LeaveLobbyProcedure, connect.NewUnaryHandler(LeaveLobbyProcedure, svc.LeaveLobby, opts...))
	mux.Handle(DeleteLobbyProcedure, connect.NewUnaryHandler(DeleteLobbyProcedure, svc.DeleteLobby, opts...))
	mux.Handle(CloseLobbyEarlyProcedure, connect.NewUnaryHandler(CloseLobbyEarlyProcedure, svc.CloseLobbyEarly, opts...))
	mux.Handle(UpdatePreferencesProcedure, connect.NewUnaryHandler(UpdatePreferencesProcedure, svc.UpdatePreferences, opts...))
	mux.Handle(StartCategoriesProcedure, connect.NewUnaryHandler(StartCategoriesProcedure, svc.StartCategories, opts...))
	mux.Handle(AdvancePhaseProcedure, connect.NewUnaryHandler(AdvancePhaseProcedure, svc.AdvancePhase, opts...))
	mux.Handle(BeginSwipingProcedure, connect.NewUnaryHandler(BeginSwipingProcedure, svc.BeginSwiping, opts...))
	mux.Handle(RegressToSetupProcedure, connect.NewUnaryHandler(RegressToSetupProcedure, svc.RegressToSetup, opts...))
	mux.Handle(OverrideAnchorProcedure, connect.NewUnaryHandler(OverrideAnchorProcedure, svc.OverrideAnchor, opts...))
	mux.Handle(AddCategoryProcedure, connect.NewUnaryHandler(AddCategoryProcedure, svc.AddCategory, opts...))
	mux.Handle(RemoveCategoryProcedure, connect.NewUnaryHandler(RemoveCategoryProcedure, svc.RemoveCategory, opts...))
	mux.Handle(SubmitVotesProcedure, connect.NewUnaryHandler(SubmitVotesProcedure, svc.SubmitVotes, opts...))
	mux.Handle(MarkSessionFinishedProcedure, connect.NewUnaryHandler(MarkSessionFinishedProcedure, svc.MarkSessionFinished, opts...))
	mux.Handle(RankedCandidatesProcedure, connect.NewUnaryHandler(RankedCandidatesProcedure, svc.RankedCandidates, opts...))
	mux.Handle(GetSwipeStateProcedure, connect.NewUnaryHandler(GetSwipeStateProcedure, svc.GetSwipeState, opts...))
	mux.Handle(SetSwipeStateProcedure, connect.NewUnaryHandler(SetSwipeStateProcedure, svc.SetSwipeState, opts...))
	mux.Handle(ResetSwipeStateProcedure, connect.NewUnaryHandler(ResetSwipeStateProcedure, svc.ResetSwipeState, opts...))
	return "/" + ServiceName + "/", mux
}

func lobbyResponse(l *models.Lobby, err error) (*connect.Response[LobbyResponse], error) {
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LobbyResponse{Lobby: l}), nil
}

func emptyResponse(err error) (*connect.Response[Empty], error) {
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&Empty{}), nil
}

func (s *Service) CreateSession(ctx context.Context, req *connect.Request[CreateSessionRequest]) (*connect.Response[SessionResponse], error) {
	session, err := s.app.CreateSession(ctx, req.Msg.Nickname)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

func (s *Service) GetSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[SessionResponse], error) {
	session, err := s.app.GetSession(ctx, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SessionResponse{Session: session}), nil
}

func (s *Service) DeleteSession(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[Empty], error) {
	return emptyResponse(s.app.DeleteSession(ctx, req.Msg.SessionID))
}

func (s *Service) CreateLobby(ctx context.Context, req *connect.Request[SessionRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.CreateLobby(ctx, req.Msg.SessionID))
}

func (s *Service) GetLobby(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.GetLobby(ctx, req.Msg.LobbyID))
}

func (s *Service) JoinLobby(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.JoinLobby(ctx, req.Msg.LobbyID, req.Msg.SessionID))
}

func (s *Service) LeaveLobby(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[LeaveLobbyResponse], error) {
	l, completed, err := s.app.LeaveLobby(ctx, req.Msg.LobbyID, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&LeaveLobbyResponse{Lobby: l, CompletedFinish: completed}), nil
}

func (s *Service) DeleteLobby(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[Empty], error) {
	return emptyResponse(s.app.DeleteLobby(ctx, req.Msg.LobbyID))
}

func (s *Service) CloseLobbyEarly(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.CloseLobbyEarly(ctx, req.Msg.LobbyID, req.Msg.SessionID))
}

func (s *Service) UpdatePreferences(ctx context.Context, req *connect.Request[UpdatePreferencesRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.UpdatePreferences(ctx, req.Msg.LobbyID, req.Msg.SessionID, req.Msg.Preferences))
}

func (s *Service) StartCategories(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.StartCategories(ctx, req.Msg.LobbyID, req.Msg.SessionID))
}

func (s *Service) AdvancePhase(ctx context.Context, req *connect.Request[AdvancePhaseRequest]) (*connect.Response[LobbyResponse], error) {
	if !req.Msg.From.Valid() || !req.Msg.To.Valid() {
		return nil, connect.NewError(connect.CodeInvalidArgument, ErrInvalidTransition)
	}
	return lobbyResponse(s.app.AdvancePhase(ctx, req.Msg.LobbyID, req.Msg.From, req.Msg.To))
}

func (s *Service) BeginSwiping(ctx context.Context, req *connect.Request[BeginSwipingRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.BeginSwiping(ctx, req.Msg.LobbyID, req.Msg.Candidates))
}

func (s *Service) RegressToSetup(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.RegressToSetup(ctx, req.Msg.LobbyID))
}

func (s *Service) OverrideAnchor(ctx context.Context, req *connect.Request[OverrideAnchorRequest]) (*connect.Response[OverrideAnchorResponse], error) {
	l, changed, err := s.app.OverrideAnchor(ctx, req.Msg.LobbyID, req.Msg.Anchor)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&OverrideAnchorResponse{Lobby: l, Changed: changed}), nil
}

func (s *Service) AddCategory(ctx context.Context, req *connect.Request[CategoryRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.AddCategory(ctx, req.Msg.LobbyID, req.Msg.SessionID, req.Msg.Name))
}

func (s *Service) RemoveCategory(ctx context.Context, req *connect.Request[CategoryRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.RemoveCategory(ctx, req.Msg.LobbyID, req.Msg.SessionID, req.Msg.Name))
}

func (s *Service) SubmitVotes(ctx context.Context, req *connect.Request[SubmitVotesRequest]) (*connect.Response[LobbyResponse], error) {
	return lobbyResponse(s.app.SubmitVotes(ctx, req.Msg.LobbyID, req.Msg.SessionID, req.Msg.Votes))
}

func (s *Service) MarkSessionFinished(ctx context.Context, req *connect.Request[MemberRequest]) (*connect.Response[MarkFinishedResponse], error) {
	isLast, err := s.app.MarkSessionFinished(ctx, req.Msg.LobbyID, req.Msg.SessionID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&MarkFinishedResponse{IsLast: isLast}), nil
}

func (s *Service) RankedCandidates(ctx context.Context, req *connect.Request[LobbyRequest]) (*connect.Response[RankedCandidatesResponse], error) {
	ranked, err := s.app.RankedCandidates(ctx, req.Msg.LobbyID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&RankedCandidatesResponse{Candidates: ranked}), nil
}

func (s *Service) GetSwipeState(ctx context.Context, req *connect.Request[SwipeStateRequest]) (*connect.Response[SwipeStateResponse], error) {
	st, err := s.app.GetSwipeState(ctx, req.Msg.SessionID, req.Msg.LobbyID)
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&SwipeStateResponse{State: st}), nil
}

func (s *Service) SetSwipeState(ctx context.Context, req *connect.Request[SwipeStateRequest]) (*connect.Response[Empty], error) {
	return emptyResponse(s.app.SetSwipeState(ctx, req.Msg.SessionID, req.Msg.LobbyID, req.Msg.State))
}

func (s *Service) ResetSwipeState(ctx context.Context, req *connect.Request[SwipeStateRequest]) (*connect.Response[Empty], error) {
	return emptyResponse(s.app.ResetSwipeState(ctx, req.Msg.SessionID, req.Msg.LobbyID))
}
