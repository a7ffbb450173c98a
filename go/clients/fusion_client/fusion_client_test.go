package fusion_client

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mcdev12/tablematch/go/clients"
	"github.com/mcdev12/tablematch/go/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const searchBody = `{
  "total": 2,
  "businesses": [
    {
      "id": "b1", "name": "Joe's Pizza", "rating": 4.5, "review_count": 120,
      "price": "$", "display_phone": "(212) 555-0100", "distance": 321.5,
      "categories": [{"alias": "pizza", "title": "Pizza"}],
      "location": {"display_address": ["7 Carmine St", "New York, NY 10014"]}
    },
    {"id": "b2", "name": "Noodle Bar", "rating": 4.0, "categories": []}
  ]
}`

func TestSearchCandidates(t *testing.T) {
	var got *http.Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(searchBody))
	}))
	defer srv.Close()

	c := NewClientWithBaseURL("secret", srv.URL)
	venues, err := c.SearchCandidates(context.Background(), models.SearchQuery{
		Center:       models.Coordinates{Latitude: 40.73, Longitude: -74.0},
		Categories:   []string{"pizza", "ramen"},
		PriceCeiling: "$$$",
		Count:        10,
		RadiusMiles:  5,
	})
	require.NoError(t, err)

	require.NotNil(t, got)
	assert.Equal(t, BusinessSearchEndpoint, got.URL.Path)
	assert.Equal(t, "Bearer secret", got.Header.Get(AuthorizationHeader))
	q := got.URL.Query()
	assert.Equal(t, "40.73", q.Get("latitude"))
	assert.Equal(t, "-74", q.Get("longitude"))
	assert.Equal(t, "pizza,ramen", q.Get("categories"))
	assert.Equal(t, "1,2,3", q.Get("price"))
	assert.Equal(t, "8047", q.Get("radius"))
	assert.Equal(t, "10", q.Get("limit"))
	assert.Equal(t, "best_match", q.Get("sort_by"))

	require.Len(t, venues, 2)
	assert.Equal(t, models.Venue{
		ID:          "b1",
		Name:        "Joe's Pizza",
		Rating:      4.5,
		ReviewCount: 120,
		Price:       "$",
		Phone:       "(212) 555-0100",
		Distance:    321.5,
		Address:     "7 Carmine St, New York, NY 10014",
		Categories:  []string{"Pizza"},
	}, venues[0])
	assert.Equal(t, "Noodle Bar", venues[1].Name)
	assert.Empty(t, venues[1].Categories)
}

func TestSearchCandidatesOmitsUnsetFilters(t *testing.T) {
	var query map[string][]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.Query()
		w.Write([]byte(`{"businesses": []}`))
	}))
	defer srv.Close()

	venues, err := NewClientWithBaseURL("k", srv.URL).SearchCandidates(context.Background(), models.SearchQuery{})
	require.NoError(t, err)
	assert.Empty(t, venues)
	assert.NotContains(t, query, "categories")
	assert.NotContains(t, query, "price")
	assert.NotContains(t, query, "radius")
	assert.NotContains(t, query, "limit")
}

func TestSearchCandidatesUpstreamError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error": {"code": "TOKEN_INVALID"}}`, http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("bad", srv.URL).SearchCandidates(context.Background(), models.SearchQuery{Count: 10})
	require.Error(t, err)
	var statusErr *clients.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusUnauthorized, statusErr.StatusCode)
	assert.Contains(t, statusErr.Body, "TOKEN_INVALID")
}

func TestSearchCandidatesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("<html>"))
	}))
	defer srv.Close()

	_, err := NewClientWithBaseURL("k", srv.URL).SearchCandidates(context.Background(), models.SearchQuery{})
	assert.Error(t, err)
}

func TestSearchCandidatesHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewClientWithBaseURL("k", srv.URL).SearchCandidates(ctx, models.SearchQuery{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestRadiusAndPrice(t *testing.T) {
	assert.Equal(t, 8047, radiusMeters(5))
	assert.Equal(t, 40000, radiusMeters(25))
	assert.Equal(t, "1", priceLevels("$"))
	assert.Equal(t, "1,2,3,4", priceLevels("$$$$"))
	assert.Equal(t, "", priceLevels(""))
}

func TestNewClientFromEnv(t *testing.T) {
	t.Setenv(APIKeyEnv, "")
	_, err := NewClientFromEnv()
	assert.ErrorIs(t, err, ErrMissingAPIKey)

	t.Setenv(APIKeyEnv, "abc")
	c, err := NewClientFromEnv()
	require.NoError(t, err)
	assert.NotNil(t, c)
}
