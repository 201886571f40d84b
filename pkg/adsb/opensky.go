package adsb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
	"golang.org/x/time/rate"
)

const (
	// DefaultOpenSkyBaseURL is the public OpenSky REST API
	DefaultOpenSkyBaseURL = "https://opensky-network.org/api"

	// DefaultOpenSkyTokenURL is the OpenSky OAuth2 token endpoint
	DefaultOpenSkyTokenURL = "https://auth.opensky-network.org/auth/realms/opensky-network/protocol/openid-connect/token"

	// DefaultTimeout for API requests
	DefaultTimeout = 10 * time.Second
)

// OpenSkyConfig contains configuration for the OpenSky client.
type OpenSkyConfig struct {
	BaseURL  string
	TokenURL string

	// ClientID and ClientSecret are the OAuth2 client credentials.
	// When ClientID is empty, requests are sent anonymously; the flights
	// endpoint will then usually answer 401.
	ClientID     string
	ClientSecret string

	// RequestsPerSecond limits outbound calls (default: 1)
	RequestsPerSecond float64

	Timeout time.Duration
}

// OpenSkyClient implements DataSource against the OpenSky Network REST API.
// API Documentation: https://openskynetwork.github.io/opensky-api/rest.html
type OpenSkyClient struct {
	baseURL     string
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	credentials *clientcredentials.Config

	mu     sync.Mutex
	tokens oauth2.TokenSource
}

// NewOpenSkyClient creates a new OpenSky client.
func NewOpenSkyClient(cfg OpenSkyConfig) *OpenSkyClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultOpenSkyBaseURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultOpenSkyTokenURL
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 1
	}

	c := &OpenSkyClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}

	if cfg.ClientID != "" {
		c.credentials = &clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			AuthStyle:    oauth2.AuthStyleInParams,
		}
	}

	return c
}

// GetStates returns the current state vectors of the requested aircraft.
// OpenSky is queried for all states and filtered locally, matching
// ICAO24 addresses case-insensitively.
func (c *OpenSkyClient) GetStates(ctx context.Context, icao24s []string) ([]AircraftState, error) {
	wanted := make(map[string]bool, len(icao24s))
	for _, icao := range icao24s {
		wanted[strings.ToLower(icao)] = true
	}

	body, err := c.get(ctx, "/states/all", nil, false)
	if err != nil {
		return nil, err
	}

	var resp statesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to parse states response: %w", err)
	}

	states := make([]AircraftState, 0, len(wanted))
	for _, vector := range resp.States {
		state, ok := decodeStateVector(vector)
		if !ok || !wanted[state.ICAO24] {
			continue
		}
		states = append(states, state)
	}

	return states, nil
}

// GetFlightHistory returns the flights of one aircraft in [begin, end].
// OpenSky answers 404 when there are no flights in the interval; that is
// reported as an empty slice.
func (c *OpenSkyClient) GetFlightHistory(ctx context.Context, icao24 string, begin, end time.Time) ([]FlightRecord, error) {
	params := url.Values{}
	params.Set("icao24", strings.ToLower(icao24))
	params.Set("begin", strconv.FormatInt(begin.Unix(), 10))
	params.Set("end", strconv.FormatInt(end.Unix(), 10))

	body, err := c.get(ctx, "/flights/aircraft", params, true)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return []FlightRecord{}, nil
		}
		return nil, err
	}

	var flights []FlightRecord
	if err := json.Unmarshal(body, &flights); err != nil {
		return nil, fmt.Errorf("failed to parse flights response: %w", err)
	}
	if flights == nil {
		flights = []FlightRecord{}
	}
	return flights, nil
}

// Close releases idle connections.
func (c *OpenSkyClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// get performs a rate-limited GET and returns the body of a 200 response.
// Authenticated requests that come back 401 drop the cached token and are
// retried once with a fresh one.
func (c *OpenSkyClient) get(ctx context.Context, path string, params url.Values, authenticated bool) ([]byte, error) {
	body, status, err := c.do(ctx, path, params, authenticated)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnauthorized && authenticated && c.credentials != nil {
		c.resetToken()
		body, status, err = c.do(ctx, path, params, authenticated)
		if err != nil {
			return nil, err
		}
	}
	if status == http.StatusUnauthorized {
		return nil, fmt.Errorf("%s: %w", path, ErrUnauthorized)
	}
	return body, nil
}

func (c *OpenSkyClient) do(ctx context.Context, path string, params url.Values, authenticated bool) ([]byte, int, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("rate limiter: %w", err)
	}

	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	if authenticated && c.credentials != nil {
		token, err := c.token()
		if err != nil {
			return nil, 0, fmt.Errorf("obtain token: %w: %v", ErrUnauthorized, err)
		}
		token.SetAuthHeader(req)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, resp.StatusCode, newRateLimitError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		return body, resp.StatusCode, nil
	case resp.StatusCode == http.StatusUnauthorized:
		return nil, resp.StatusCode, nil
	default:
		return nil, resp.StatusCode, &APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Body:       strings.TrimSpace(string(body)),
		}
	}
}

// token returns a cached token, fetching a new one when it has expired.
// The token source outlives any single request, so it is not bound to the
// caller's context.
func (c *OpenSkyClient) token() (*oauth2.Token, error) {
	c.mu.Lock()
	if c.tokens == nil {
		ctx := context.WithValue(context.Background(), oauth2.HTTPClient, c.httpClient)
		c.tokens = oauth2.ReuseTokenSource(nil, c.credentials.TokenSource(ctx))
	}
	ts := c.tokens
	c.mu.Unlock()

	return ts.Token()
}

func (c *OpenSkyClient) resetToken() {
	c.mu.Lock()
	c.tokens = nil
	c.mu.Unlock()
}

// statesResponse is the /states/all payload. Each state is a positional array.
type statesResponse struct {
	Time   int64               `json:"time"`
	States [][]json.RawMessage `json:"states"`
}

// State vector indices as documented by OpenSky.
const (
	svICAO24       = 0
	svCallsign     = 1
	svLastContact  = 4
	svLongitude    = 5
	svLatitude     = 6
	svBaroAltitude = 7
	svOnGround     = 8
	svVelocity     = 9
	svTrueTrack    = 10
	svVerticalRate = 11
)

// decodeStateVector converts a positional state vector into an AircraftState.
// Vectors without a usable ICAO24 are rejected.
func decodeStateVector(v []json.RawMessage) (AircraftState, bool) {
	var s AircraftState
	if len(v) <= svVerticalRate {
		return s, false
	}

	var icao string
	if err := json.Unmarshal(v[svICAO24], &icao); err != nil || icao == "" {
		return s, false
	}
	s.ICAO24 = strings.ToLower(icao)

	var callsign *string
	if json.Unmarshal(v[svCallsign], &callsign) == nil && callsign != nil {
		trimmed := strings.TrimSpace(*callsign)
		s.Callsign = &trimmed
	}

	_ = json.Unmarshal(v[svLastContact], &s.LastContact)
	_ = json.Unmarshal(v[svLongitude], &s.Longitude)
	_ = json.Unmarshal(v[svLatitude], &s.Latitude)
	_ = json.Unmarshal(v[svBaroAltitude], &s.Altitude)
	_ = json.Unmarshal(v[svOnGround], &s.OnGround)
	_ = json.Unmarshal(v[svVelocity], &s.Velocity)
	_ = json.Unmarshal(v[svTrueTrack], &s.Heading)
	_ = json.Unmarshal(v[svVerticalRate], &s.VerticalRate)

	return s, true
}
