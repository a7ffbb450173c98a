package models

// Venue is a candidate place proposed for group voting.
type Venue struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	ImageURL    string   `json:"image_url,omitempty"`
	URL         string   `json:"url,omitempty"`
	Rating      float64  `json:"rating"`
	ReviewCount int      `json:"review_count"`
	Price       string   `json:"price,omitempty"`
	Phone       string   `json:"phone,omitempty"`
	Address     string   `json:"address,omitempty"`
	Distance    float64  `json:"distance"` // meters
	Categories  []string `json:"categories,omitempty"`
}

// RankedVenue pairs a candidate with its vote tally.
type RankedVenue struct {
	Venue Venue `json:"venue"`
	Votes int   `json:"votes"`
}

// SearchQuery describes one candidate search.
type SearchQuery struct {
	Center       Coordinates
	Categories   []string // category codes
	PriceCeiling string
	Count        int
	RadiusMiles  int
}
