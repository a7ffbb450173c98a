package models

import "time"

// UninitializedSwipeIndex marks swipe progress that has not started.
const UninitializedSwipeIndex = -1

// SwipeState is a session's private progress through one lobby's candidates.
type SwipeState struct {
	SwipeIndex int   `json:"swipe_index"`
	VoteVector []int `json:"vote_vector"`
}

// NewSwipeState returns progress reset to its uninitialized value.
func NewSwipeState() SwipeState {
	return SwipeState{SwipeIndex: UninitializedSwipeIndex}
}

// Session represents a participant identified by nickname.
type Session struct {
	ID        string                `json:"id"`
	Nickname  string                `json:"nickname"`
	Swipes    map[string]SwipeState `json:"swipes,omitempty"` // keyed by lobby ID
	CreatedAt time.Time             `json:"created_at"`
}

// SwipeState returns the progress for lobbyID, uninitialized when absent.
func (s *Session) SwipeState(lobbyID string) SwipeState {
	if st, ok := s.Swipes[lobbyID]; ok {
		return st
	}
	return NewSwipeState()
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	if s.Swipes != nil {
		out.Swipes = make(map[string]SwipeState, len(s.Swipes))
		for k, v := range s.Swipes {
			out.Swipes[k] = SwipeState{SwipeIndex: v.SwipeIndex, VoteVector: append([]int(nil), v.VoteVector...)}
		}
	}
	return &out
}
