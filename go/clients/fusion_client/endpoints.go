package fusion_client

const (
	// Base URL
	BaseURL = "https://api.yelp.com"

	// API Endpoints
	BusinessSearchEndpoint = "/v3/businesses/search"

	// Search limits
	MaxRadiusMeters = 40000
	MetersPerMile   = 1609.344
	DefaultSortBy   = "best_match"

	// Headers
	AuthorizationHeader = "Authorization"
	AcceptHeader        = "Accept"

	// APIKeyEnv names the environment variable holding the bearer token.
	APIKeyEnv = "FUSION_API_KEY"
)
