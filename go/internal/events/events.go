package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names a lobby notification.
type Type string

const (
	TypeRoomCategoryChange     Type = "ROOM_CATEGORY_CHANGE"
	TypeRoomPreferencesChange  Type = "ROOM_PREFERENCES_CHANGE"
	TypeRoomPreferencesUpdate  Type = "ROOM_PREFERENCES_UPDATE"
	TypeLobbyNavigationUpdate  Type = "LOBBY_NAVIGATION_UPDATE"
	TypeRoomProgressNavigation Type = "ROOM_PROGRESS_NAVIGATION"
	TypeLobbyFinishedSwiping   Type = "LOBBY_FINISHED_SWIPING"
	TypeLateFinishedSwiping    Type = "LATE_FINISHED_SWIPING"
	TypeRoomVoteUpdate         Type = "ROOM_VOTE_UPDATE"
	TypeRoomBusinessesSend     Type = "ROOM_BUSINESSES_SEND"
	TypeRoomBusinessesReceived Type = "ROOM_BUSINESSES_RECEIVED"
	TypeRoomCloseEarly         Type = "ROOM_CLOSE_EARLY"
	TypeLeaveRoomEarly         Type = "LEAVE_ROOM_EARLY"
	TypeJoinRoomRequest        Type = "JOIN_ROOM_REQUEST"
	TypeJoinRoomAccepted       Type = "JOIN_ROOM_ACCEPTED"
	TypeError                  Type = "ERROR"
)

// Event is the envelope carried by the notification channel.
type Event struct {
	ID            string          `json:"id"`
	LobbyID       string          `json:"lobby_id"`
	Type          Type            `json:"type"`
	Origin        string          `json:"origin,omitempty"` // publishing session
	IncludeOrigin bool            `json:"include_origin"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data,omitempty"`
}

// DeliverTo reports whether a subscriber identified by sessionID should see e.
func (e Event) DeliverTo(sessionID string) bool {
	return e.IncludeOrigin || e.Origin == "" || e.Origin != sessionID
}

// NavigationPayload tells every client in a lobby to move to a page.
type NavigationPayload struct {
	Path    string `json:"path"`
	Message string `json:"message,omitempty"`
}

// JoinPayload identifies the session asking to join, or the one accepted.
type JoinPayload struct {
	SessionID string `json:"session_id"`
	Nickname  string `json:"nickname,omitempty"`
}

// ErrorPayload reports a rejected client request.
type ErrorPayload struct {
	Request Type   `json:"request"`
	Message string `json:"message"`
}

// relayRule says what a published event turns into for subscribers.
type relayRule struct {
	out           Type
	includeOrigin bool
}

// relayTable maps what a client sends to what its peers receive.
var relayTable = map[Type]relayRule{
	TypeRoomCloseEarly:        {out: TypeLeaveRoomEarly},
	TypeRoomPreferencesChange: {out: TypeRoomPreferencesUpdate},
	TypeRoomCategoryChange:    {out: TypeRoomCategoryChange},
	TypeRoomBusinessesSend:    {out: TypeRoomBusinessesReceived},
	TypeLobbyFinishedSwiping:  {out: TypeLobbyFinishedSwiping},
	TypeLateFinishedSwiping:   {out: TypeRoomVoteUpdate},
	TypeLobbyNavigationUpdate: {out: TypeRoomProgressNavigation, includeOrigin: true},
}

// Relay returns the type subscribers receive for an outbound type, and whether the
// sender receives it too. ok is false for types clients may not publish.
func Relay(t Type) (out Type, includeOrigin bool, ok bool) {
	rule, ok := relayTable[t]
	if !ok {
		return "", false, false
	}
	return rule.out, rule.includeOrigin, true
}

// New builds a relayed event for lobbyID from an outbound type and payload.
func New(lobbyID, origin string, t Type, payload any) (Event, error) {
	out, includeOrigin, ok := Relay(t)
	if !ok {
		return Event{}, fmt.Errorf("event type %s cannot be published by clients", t)
	}
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		data = raw
	}
	return Event{
		ID:            uuid.New().String(),
		LobbyID:       lobbyID,
		Type:          out,
		Origin:        origin,
		IncludeOrigin: includeOrigin,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}, nil
}

// Direct builds an event that is not relayed, addressed by the server itself.
func Direct(lobbyID string, t Type, payload any) (Event, error) {
	var data json.RawMessage
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Event{}, fmt.Errorf("failed to marshal %s payload: %w", t, err)
		}
		data = raw
	}
	return Event{
		ID:            uuid.New().String(),
		LobbyID:       lobbyID,
		Type:          t,
		IncludeOrigin: true,
		Timestamp:     time.Now().UTC(),
		Data:          data,
	}, nil
}

// ParsePayload decodes event data into the payload struct for its type.
func ParsePayload(e Event) (any, error) {
	switch e.Type {
	case TypeRoomProgressNavigation:
		var p NavigationPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeJoinRoomRequest, TypeJoinRoomAccepted:
		var p JoinPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	case TypeError:
		var p ErrorPayload
		if err := json.Unmarshal(e.Data, &p); err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, nil
	}
}
