// Package apiclient is the Go client of the tracker's HTTP API used by the
// terminal tools.
package apiclient

import (
	"bytes"
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

	"github.com/gorilla/websocket"

	"github.com/unklstewy/ffc-tracker/internal/db"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

// DefaultBaseURL is where a locally started tracker listens.
const DefaultBaseURL = "http://localhost:5000"

// Client talks to a running tracker. GET requests are retried with the
// same backoff the tracker uses against OpenSky; error responses come back
// as *adsb.APIError carrying the server's error message.
type Client struct {
	baseURL    string
	httpClient *http.Client
	retry      adsb.RetryConfig

	mu    sync.RWMutex
	token string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// WithRetry replaces the retry policy for GET requests.
func WithRetry(cfg adsb.RetryConfig) Option {
	return func(c *Client) { c.retry = cfg }
}

// WithToken sets the bearer token sent with admin requests.
func WithToken(token string) Option {
	return func(c *Client) { c.token = token }
}

// New creates a client for the tracker at baseURL.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	retry := adsb.DefaultRetryConfig()
	retry.MaxRetries = 2
	retry.MaxDelay = 10 * time.Second

	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
		retry:      retry,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the tracker address.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Token returns the bearer token from the last successful Login.
func (c *Client) Token() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// Index is the root endpoint response.
type Index struct {
	Message string `json:"message"`
	Status  string `json:"status"`
}

// Health is the /api/health response.
type Health struct {
	Status           string `json:"status"`
	UptimeSeconds    int64  `json:"uptime_seconds"`
	Database         string `json:"database"`
	AutoRefresh      bool   `json:"auto_refresh"`
	RefreshInterval  int64  `json:"refresh_interval"`
	LastSnapshot     int64  `json:"last_snapshot"`
	WebSocketClients int    `json:"websocket_clients"`
}

// Live is the /api/live/all response.
type Live struct {
	Timestamp     int64                `json:"timestamp"`
	AircraftCount int                  `json:"aircraft_count"`
	Aircraft      []adsb.AircraftState `json:"aircraft"`
}

// History is the /api/history/{registration} response.
type History struct {
	Registration  string              `json:"registration"`
	ICAO24        string              `json:"icao24"`
	FlightHistory []adsb.FlightRecord `json:"flight_history"`
	FlightCount   int                 `json:"flight_count"`
}

// RecentFlights is the /api/flights/recent response.
type RecentFlights struct {
	Hours       int                `json:"hours"`
	FlightCount int                `json:"flight_count"`
	Flights     []db.FlightSession `json:"flights"`
}

// AutoRefresh is the state of the server's refresh loop.
type AutoRefresh struct {
	Running         bool  `json:"running"`
	IntervalSeconds int64 `json:"interval_seconds"`
	Stopped         bool  `json:"stopped,omitempty"`
}

// Interval returns the refresh interval as a duration.
func (a AutoRefresh) Interval() time.Duration {
	return time.Duration(a.IntervalSeconds) * time.Second
}

// Index calls GET /.
func (c *Client) Index(ctx context.Context) (Index, error) {
	var out Index
	err := c.getJSON(ctx, "/", nil, &out)
	return out, err
}

// Health calls GET /api/health.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.getJSON(ctx, "/api/health", nil, &out)
	return out, err
}

// Live returns the fleet's current state vectors.
func (c *Client) Live(ctx context.Context) (Live, error) {
	var out Live
	err := c.getJSON(ctx, "/api/live/all", nil, &out)
	return out, err
}

// Comprehensive returns the latest snapshot, keeping the server's key order.
func (c *Client) Comprehensive(ctx context.Context) (*reconcile.Snapshot, error) {
	body, err := c.get(ctx, "/api/comprehensive/all", nil)
	if err != nil {
		return nil, err
	}
	return reconcile.DecodeSnapshot(body)
}

// View returns the server-side reconciled view.
func (c *Client) View(ctx context.Context) (reconcile.View, error) {
	var out reconcile.View
	err := c.getJSON(ctx, "/api/view", nil, &out)
	return out, err
}

// History returns the flight history of one registration.
func (c *Client) History(ctx context.Context, registration string) (History, error) {
	var out History
	err := c.getJSON(ctx, "/api/history/"+url.PathEscape(registration), nil, &out)
	return out, err
}

// RecentFlights returns stored flight sessions of the last hours.
// hours <= 0 uses the server default.
func (c *Client) RecentFlights(ctx context.Context, hours int) (RecentFlights, error) {
	var out RecentFlights
	err := c.getJSON(ctx, "/api/flights/recent", positive("hours", hours), &out)
	return out, err
}

// Stats returns stored flight statistics for a registration.
func (c *Client) Stats(ctx context.Context, registration string, days int) (db.AircraftStats, error) {
	var out db.AircraftStats
	err := c.getJSON(ctx, "/api/stats/"+url.PathEscape(registration), positive("days", days), &out)
	return out, err
}

// Login exchanges admin credentials for a token, which is then sent with
// every admin request.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	var out struct {
		Token string `json:"token"`
	}
	req := map[string]string{"username": username, "password": password}
	if err := c.send(ctx, http.MethodPost, "/api/v1/auth/login", req, &out); err != nil {
		return "", err
	}

	c.mu.Lock()
	c.token = out.Token
	c.mu.Unlock()
	return out.Token, nil
}

// Refresh asks the server to rebuild its snapshot now.
func (c *Client) Refresh(ctx context.Context) (reconcile.View, error) {
	var out reconcile.View
	err := c.send(ctx, http.MethodPost, "/api/v1/refresh", nil, &out)
	return out, err
}

// AutoRefresh reports whether the server's refresh loop is running.
func (c *Client) AutoRefresh(ctx context.Context) (AutoRefresh, error) {
	var out AutoRefresh
	err := c.send(ctx, http.MethodGet, "/api/v1/autorefresh", nil, &out)
	return out, err
}

// StartAutoRefresh starts or restarts the server's refresh loop. A zero
// interval uses the server's configured interval.
func (c *Client) StartAutoRefresh(ctx context.Context, interval time.Duration) (AutoRefresh, error) {
	var body any
	if interval > 0 {
		body = map[string]int{"interval_seconds": int(interval / time.Second)}
	}
	var out AutoRefresh
	err := c.send(ctx, http.MethodPost, "/api/v1/autorefresh/start", body, &out)
	return out, err
}

// StopAutoRefresh stops the server's refresh loop.
func (c *Client) StopAutoRefresh(ctx context.Context) (AutoRefresh, error) {
	var out AutoRefresh
	err := c.send(ctx, http.MethodPost, "/api/v1/autorefresh/stop", nil, &out)
	return out, err
}

// Watch subscribes to the view pushed after every server refresh and calls
// fn for each one until ctx is cancelled or the connection drops.
func (c *Client) Watch(ctx context.Context, fn func(reconcile.View)) error {
	wsURL, err := c.websocketURL()
	if err != nil {
		return err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if resp != nil {
			return fmt.Errorf("websocket dial %s: %s: %w", wsURL, resp.Status, err)
		}
		return fmt.Errorf("websocket dial %s: %w", wsURL, err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	for {
		var msg struct {
			Type string          `json:"type"`
			Data json.RawMessage `json:"data"`
		}
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read: %w", err)
		}
		if msg.Type != "view" {
			continue
		}

		var view reconcile.View
		if err := json.Unmarshal(msg.Data, &view); err != nil {
			return fmt.Errorf("decode view: %w", err)
		}
		fn(view)
	}
}

func (c *Client) websocketURL() (string, error) {
	u, err := url.Parse(c.baseURL + "/api/ws")
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	return u.String(), nil
}

func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	body, err := c.get(ctx, path, params)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	return adsb.RetryWithBackoffResult(ctx, c.retry, func() ([]byte, error) {
		return c.do(ctx, http.MethodGet, path, params, nil)
	})
}

func (c *Client) send(ctx context.Context, method, path string, in, out any) error {
	var payload io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		payload = bytes.NewReader(data)
	}

	body, err := c.do(ctx, method, path, nil, payload)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, params url.Values, payload io.Reader) ([]byte, error) {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, payload)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token := c.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &adsb.APIError{
			StatusCode: resp.StatusCode,
			Endpoint:   path,
			Body:       errorMessage(body),
		}
	}
	return body, nil
}

// errorMessage extracts {"error": msg} bodies, falling back to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}

func positive(name string, v int) url.Values {
	if v <= 0 {
		return nil
	}
	return url.Values{name: []string{strconv.Itoa(v)}}
}

// StatusCode returns the HTTP status of an API error, or 0.
func StatusCode(err error) int {
	var apiErr *adsb.APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
