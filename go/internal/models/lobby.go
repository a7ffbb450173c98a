package models

import (
	"strings"
	"time"
)

// Phase defines the stage a lobby is in.
type Phase string

const (
	PhaseSetup      Phase = "setup"
	PhaseCategories Phase = "categories"
	PhaseSwiping    Phase = "swiping"
	PhaseResults    Phase = "results"
)

// phaseTransitions lists the allowed moves out of each phase.
// categories -> setup is the only regression and happens when candidate sourcing comes up short.
var phaseTransitions = map[Phase][]Phase{
	PhaseSetup:      {PhaseCategories},
	PhaseCategories: {PhaseSwiping, PhaseSetup},
	PhaseSwiping:    {PhaseResults},
	PhaseResults:    nil,
}

// ParsePhase returns the phase named by s, or false if s is not a phase.
func ParsePhase(s string) (Phase, bool) {
	p := Phase(strings.ToLower(strings.TrimSpace(s)))
	_, ok := phaseTransitions[p]
	return p, ok
}

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	_, ok := phaseTransitions[p]
	return ok
}

// CanTransitionTo reports whether a lobby in phase p may move to next.
func (p Phase) CanTransitionTo(next Phase) bool {
	for _, allowed := range phaseTransitions[p] {
		if allowed == next {
			return true
		}
	}
	return false
}

const (
	// UnsetLatitude and UnsetLongitude mark coordinates the host has not picked yet.
	UnsetLatitude  = 91.0
	UnsetLongitude = 181.0

	MaxCategoriesPerSession = 5
)

var (
	ValidNumResults  = []int{10, 20, 30}
	ValidPriceRanges = []string{"$", "$$", "$$$", "$$$$"}
	ValidRadii       = []int{5, 10, 15, 20, 25}
)

// Coordinates is the center point used for the candidate search.
type Coordinates struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// IsSet reports whether both values are inside the valid geographic ranges.
func (c Coordinates) IsSet() bool {
	return c.Latitude >= -90 && c.Latitude <= 90 && c.Longitude >= -180 && c.Longitude <= 180
}

// Preferences holds the host's search settings.
type Preferences struct {
	NumResults  int         `json:"num_results"`
	PriceRange  string      `json:"price_range"`  // price ceiling, "$" to "$$$$"
	DriveRadius int         `json:"drive_radius"` // miles
	Coordinates Coordinates `json:"coordinates"`
}

// DefaultPreferences returns the settings a new lobby starts with.
func DefaultPreferences() Preferences {
	return Preferences{
		NumResults:  10,
		PriceRange:  "$",
		DriveRadius: 5,
		Coordinates: Coordinates{Latitude: UnsetLatitude, Longitude: UnsetLongitude},
	}
}

// Category is a category name and the sessions that contributed it.
type Category struct {
	Name     string   `json:"name"`
	Sessions []string `json:"sessions"`
}

// Member is one entry of the lobby roster.
type Member struct {
	SessionID string    `json:"session_id"`
	Nickname  string    `json:"nickname"`
	Finished  bool      `json:"finished"`
	Submitted bool      `json:"submitted"`
	JoinedAt  time.Time `json:"joined_at"`
}

// Lobby represents one group's shared session.
type Lobby struct {
	ID              string      `json:"id"`
	Phase           Phase       `json:"phase"`
	HostSession     string      `json:"host_session"`
	AnchorTimestamp *time.Time  `json:"anchor_timestamp,omitempty"`
	Joinable        bool        `json:"joinable"`
	Preferences     Preferences `json:"preferences"`
	Categories      []Category  `json:"categories"`
	Candidates      []Venue     `json:"candidates"`
	Votes           []int       `json:"votes"`
	Members         []Member    `json:"members"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// Member returns the roster entry for sessionID, or nil.
func (l *Lobby) Member(sessionID string) *Member {
	for i := range l.Members {
		if l.Members[i].SessionID == sessionID {
			return &l.Members[i]
		}
	}
	return nil
}

// IsMember reports whether sessionID is on the roster.
func (l *Lobby) IsMember(sessionID string) bool {
	return l.Member(sessionID) != nil
}

// IsHost reports whether sessionID owns the lobby.
func (l *Lobby) IsHost(sessionID string) bool {
	return l.HostSession != "" && l.HostSession == sessionID
}

// Expired reports whether a lobby that is no longer joinable has outlived maxAge.
// A closed lobby without an anchor counts as expired.
func (l *Lobby) Expired(now time.Time, maxAge time.Duration) bool {
	if l.Joinable {
		return false
	}
	if l.AnchorTimestamp == nil {
		return true
	}
	return now.Sub(*l.AnchorTimestamp) > maxAge
}

// ContributionCount returns how many categories sessionID has contributed to.
func (l *Lobby) ContributionCount(sessionID string) int {
	n := 0
	for _, c := range l.Categories {
		for _, s := range c.Sessions {
			if s == sessionID {
				n++
				break
			}
		}
	}
	return n
}

// CategoryNames returns the category names in insertion order.
func (l *Lobby) CategoryNames() []string {
	names := make([]string, len(l.Categories))
	for i, c := range l.Categories {
		names[i] = c.Name
	}
	return names
}

// Clone returns a deep copy so callers never share slices with the store.
func (l *Lobby) Clone() *Lobby {
	if l == nil {
		return nil
	}
	out := *l
	if l.AnchorTimestamp != nil {
		t := *l.AnchorTimestamp
		out.AnchorTimestamp = &t
	}
	out.Categories = make([]Category, len(l.Categories))
	for i, c := range l.Categories {
		out.Categories[i] = Category{Name: c.Name, Sessions: append([]string(nil), c.Sessions...)}
	}
	out.Candidates = append([]Venue(nil), l.Candidates...)
	out.Votes = append([]int(nil), l.Votes...)
	out.Members = append([]Member(nil), l.Members...)
	return &out
}
