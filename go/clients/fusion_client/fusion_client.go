package fusion_client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mcdev12/tablematch/go/clients"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/rs/zerolog/log"
)

var ErrMissingAPIKey = errors.New("fusion api key is not set")

type Client struct {
	*clients.BaseClient
}

func NewClient(apiKey string) *Client {
	return NewClientWithBaseURL(apiKey, BaseURL)
}

// NewClientWithBaseURL points the client at another host, such as a test server.
func NewClientWithBaseURL(apiKey, baseURL string) *Client {
	client := &Client{
		BaseClient: clients.NewBaseClient(baseURL),
	}

	client.SetHeader(AuthorizationHeader, "Bearer "+apiKey)
	client.SetHeader(AcceptHeader, "application/json")
	client.SetTimeout(10 * time.Second)

	return client
}

// NewClientFromEnv reads the bearer token from FUSION_API_KEY.
func NewClientFromEnv() (*Client, error) {
	key := os.Getenv(APIKeyEnv)
	if key == "" {
		return nil, ErrMissingAPIKey
	}
	return NewClient(key), nil
}

type category struct {
	Alias string `json:"alias"`
	Title string `json:"title"`
}

type location struct {
	DisplayAddress []string `json:"display_address"`
}

type business struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	ImageURL    string     `json:"image_url"`
	URL         string     `json:"url"`
	Rating      float64    `json:"rating"`
	ReviewCount int        `json:"review_count"`
	Price       string     `json:"price"`
	Phone       string     `json:"display_phone"`
	Distance    float64    `json:"distance"`
	Categories  []category `json:"categories"`
	Location    location   `json:"location"`
}

type searchResponse struct {
	Businesses []business `json:"businesses"`
	Total      int        `json:"total"`
}

// SearchCandidates returns up to q.Count venues around q.Center.
func (c *Client) SearchCandidates(ctx context.Context, q models.SearchQuery) ([]models.Venue, error) {
	endpoint := BusinessSearchEndpoint + "?" + searchValues(q).Encode()

	body, err := c.Get(ctx, endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to search businesses: %w", err)
	}

	var response searchResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}

	venues := make([]models.Venue, 0, len(response.Businesses))
	for _, b := range response.Businesses {
		venues = append(venues, toVenue(b))
	}

	log.Debug().
		Int("requested", q.Count).
		Int("returned", len(venues)).
		Int("total", response.Total).
		Msg("fusion search complete")

	return venues, nil
}

func searchValues(q models.SearchQuery) url.Values {
	v := url.Values{}
	v.Set("latitude", strconv.FormatFloat(q.Center.Latitude, 'f', -1, 64))
	v.Set("longitude", strconv.FormatFloat(q.Center.Longitude, 'f', -1, 64))
	if len(q.Categories) > 0 {
		v.Set("categories", strings.Join(q.Categories, ","))
	}
	if levels := priceLevels(q.PriceCeiling); levels != "" {
		v.Set("price", levels)
	}
	if q.RadiusMiles > 0 {
		v.Set("radius", strconv.Itoa(radiusMeters(q.RadiusMiles)))
	}
	if q.Count > 0 {
		v.Set("limit", strconv.Itoa(q.Count))
	}
	v.Set("sort_by", DefaultSortBy)
	return v
}

// priceLevels turns a ceiling such as "$$$" into "1,2,3".
func priceLevels(ceiling string) string {
	n := strings.Count(ceiling, "$")
	if n == 0 {
		return ""
	}
	levels := make([]string, n)
	for i := 0; i < n; i++ {
		levels[i] = strconv.Itoa(i + 1)
	}
	return strings.Join(levels, ",")
}

func radiusMeters(miles int) int {
	return min(int(math.Round(float64(miles)*MetersPerMile)), MaxRadiusMeters)
}

func toVenue(b business) models.Venue {
	v := models.Venue{
		ID:          b.ID,
		Name:        b.Name,
		ImageURL:    b.ImageURL,
		URL:         b.URL,
		Rating:      b.Rating,
		ReviewCount: b.ReviewCount,
		Price:       b.Price,
		Phone:       b.Phone,
		Distance:    b.Distance,
		Address:     strings.Join(b.Location.DisplayAddress, ", "),
	}
	for _, c := range b.Categories {
		v.Categories = append(v.Categories, c.Title)
	}
	return v
}
