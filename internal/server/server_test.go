package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/unklstewy/ffc-tracker/internal/auth"
	"github.com/unklstewy/ffc-tracker/internal/collector"
	"github.com/unklstewy/ffc-tracker/internal/db"
	"github.com/unklstewy/ffc-tracker/internal/refresh"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }

type fakeSource struct {
	statesCalls atomic.Int32
}

func (f *fakeSource) GetStates(ctx context.Context, icao24s []string) ([]adsb.AircraftState, error) {
	f.statesCalls.Add(1)
	return []adsb.AircraftState{
		{ICAO24: "aa75ca", Latitude: floatPtr(41.9), Longitude: floatPtr(-88.2), Callsign: strPtr("N773SP")},
		{ICAO24: "a3581f"},
	}, nil
}

func (f *fakeSource) GetFlightHistory(ctx context.Context, icao24 string, begin, end time.Time) ([]adsb.FlightRecord, error) {
	if icao24 != "a3581f" {
		return []adsb.FlightRecord{}, nil
	}
	return []adsb.FlightRecord{
		{ICAO24: icao24, Callsign: strPtr("FFC1"), FirstSeen: int64Ptr(100), LastSeen: int64Ptr(200)},
		{ICAO24: icao24, Callsign: strPtr("FFC2"), FirstSeen: int64Ptr(300), LastSeen: int64Ptr(400)},
	}, nil
}

func (f *fakeSource) Close() error { return nil }

type fakeStore struct{}

func (fakeStore) GetRecentFlights(ctx context.Context, hours int) ([]db.FlightSession, error) {
	return []db.FlightSession{{ID: 1, ICAO24: "a3581f", Registration: "N31401"}}, nil
}

func (fakeStore) GetAircraftFlightHistory(ctx context.Context, registration string, hours int) ([]db.FlightSession, error) {
	return []db.FlightSession{
		{ID: 7, ICAO24: "a3581f", Registration: registration},
		{ID: 6, ICAO24: "a3581f", Registration: registration},
	}, nil
}

func (fakeStore) GetStats(ctx context.Context) (db.Stats, error) {
	return db.Stats{Aircraft: 4, FlightSessions: 12, StatusRecords: 340}, nil
}

func (fakeStore) GetAircraftStats(ctx context.Context, registration string, days int) (db.AircraftStats, error) {
	if registration != "N31401" {
		return db.AircraftStats{}, db.ErrAircraftNotTracked
	}
	return db.AircraftStats{Registration: registration, Days: days, TotalFlights: 3, TotalMinutes: 90, TotalHours: 1.5}, nil
}

type testEnv struct {
	server  *Server
	handler http.Handler
	source  *fakeSource
	ctrl    *refresh.Controller
	auth    *auth.Service

	// down makes refresh cycles fail as if OpenSky were unreachable
	down atomic.Bool
}

var errUpstreamDown = errors.New("opensky: connection refused")

func newTestEnv(t *testing.T, store HistoryStore) *testEnv {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.Fleet = []config.AircraftEntry{
		{Registration: "N31401", ICAO24: "a3581f"},
		{Registration: "N773SP", ICAO24: "aa75ca"},
		{Registration: "N4117C", ICAO24: "a4ea67"},
	}

	src := &fakeSource{}
	coll := collector.NewFromConfig(src, cfg, nil)

	env := &testEnv{source: src}
	ctx, cancel := context.WithCancel(context.Background())
	ctrl := refresh.NewController(ctx, func(ctx context.Context) error {
		if env.down.Load() {
			return errUpstreamDown
		}
		_, err := coll.Refresh(ctx)
		return err
	})

	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)
	authSvc := auth.NewService(auth.Config{
		JWTSecret:         "test-secret",
		AdminUsername:     "admin",
		AdminPasswordHash: string(hash),
	})

	srv := New(Options{
		Config:    cfg,
		Collector: coll,
		Refresh:   ctrl,
		Auth:      authSvc,
		Store:     store,
	})
	srv.Start(ctx)

	t.Cleanup(func() {
		ctrl.Close()
		cancel()
	})

	env.server, env.handler, env.ctrl, env.auth = srv, srv.Handler(), ctrl, authSvc
	return env
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestIndex(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"message": "FFC Aircraft Tracker API", "status": "running"}, decode(t, rec))
}

func TestLive(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/live/all", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.EqualValues(t, 2, body["aircraft_count"])
	assert.NotZero(t, body["timestamp"])

	aircraft := body["aircraft"].([]any)
	assert.Equal(t, "N773SP", aircraft[0].(map[string]any)["callsign"])
	assert.Equal(t, "N/A", aircraft[1].(map[string]any)["callsign"])
}

func TestComprehensiveFetchesOnceThenCaches(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/comprehensive/all", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	snap, err := reconcile.DecodeSnapshot(rec.Body.Bytes())
	require.NoError(t, err)
	assert.Equal(t, []string{"aa75ca", "a3581f", "a4ea67"}, snap.Keys())
	e, _ := snap.Get("a3581f")
	assert.Equal(t, "N31401", e.Registration)
	assert.Len(t, e.History, 2)

	rec = env.do(t, http.MethodGet, "/api/comprehensive/all", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 1, env.source.statesCalls.Load())
}

func TestView(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/view", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var view reconcile.View
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &view))
	assert.Equal(t, 2, view.ActiveCount)
	assert.Equal(t, 3, view.TotalTracked)
	assert.Equal(t, 2, view.Flights24h)
	require.Len(t, view.Flights, 2)
	assert.Equal(t, "FFC2", *view.Flights[0].Callsign)
	assert.Equal(t, "N31401", view.Flights[0].Registration)
}

func TestHistory(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodGet, "/api/history/N31401", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "N31401", body["registration"])
	assert.Equal(t, "a3581f", body["icao24"])
	assert.EqualValues(t, 2, body["flight_count"])

	rec = env.do(t, http.MethodGet, "/api/history/N99999", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Aircraft not in tracking list", decode(t, rec)["error"])
}

func TestHistoryStoreEndpoints(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/flights/recent", "", nil).Code)
		assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/stats/N31401", "", nil).Code)
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, fakeStore{})

		rec := env.do(t, http.MethodGet, "/api/flights/recent?hours=12", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.EqualValues(t, 12, body["hours"])
		assert.EqualValues(t, 1, body["flight_count"])

		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/flights/recent?hours=abc", "", nil).Code)

		rec = env.do(t, http.MethodGet, "/api/stats/N31401", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body = decode(t, rec)
		assert.EqualValues(t, 7, body["days"])
		assert.EqualValues(t, 1.5, body["total_flight_time_hours"])

		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/stats/N00000", "", nil).Code)
	})
}

func TestStoredHistory(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		env := newTestEnv(t, nil)
		rec := env.do(t, http.MethodGet, "/api/history/N31401?source=db", "", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})

	t.Run("enabled", func(t *testing.T) {
		env := newTestEnv(t, fakeStore{})

		rec := env.do(t, http.MethodGet, "/api/history/n31401?source=db&hours=6", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		body := decode(t, rec)
		assert.Equal(t, "N31401", body["registration"])
		assert.Equal(t, "a3581f", body["icao24"])
		assert.Equal(t, "db", body["source"])
		assert.EqualValues(t, 6, body["hours"])
		assert.EqualValues(t, 2, body["flight_count"])
		assert.Zero(t, env.source.statesCalls.Load())

		assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/history/N99999?source=db", "", nil).Code)
		assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/history/N31401?source=cache", "", nil).Code)
	})
}

func TestLogin(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{"username": "admin", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	token, _ := decode(t, rec)["token"].(string)
	assert.NotEmpty(t, token)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/login", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestRefreshControls(t *testing.T) {
	env := newTestEnv(t, nil)
	token, err := env.auth.GenerateToken("admin", auth.RoleAdmin)
	require.NoError(t, err)

	assert.Equal(t, http.StatusUnauthorized, env.do(t, http.MethodPost, "/api/v1/refresh", "", nil).Code)

	viewer, err := env.auth.GenerateToken("guest", auth.RoleViewer)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, env.do(t, http.MethodPost, "/api/v1/refresh", viewer, nil).Code)

	rec := env.do(t, http.MethodPost, "/api/v1/refresh", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.EqualValues(t, 2, decode(t, rec)["active_count"])

	rec = env.do(t, http.MethodPost, "/api/v1/autorefresh/start", token, map[string]int{"interval_seconds": 3600})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, true, body["running"])
	assert.EqualValues(t, 3600, body["interval_seconds"])

	rec = env.do(t, http.MethodGet, "/api/v1/autorefresh", token, nil)
	assert.Equal(t, true, decode(t, rec)["running"])

	rec = env.do(t, http.MethodPost, "/api/v1/autorefresh/stop", token, nil)
	body = decode(t, rec)
	assert.Equal(t, true, body["stopped"])
	assert.Equal(t, false, body["running"])

	rec = env.do(t, http.MethodPost, "/api/v1/autorefresh/stop", token, nil)
	assert.Equal(t, false, decode(t, rec)["stopped"])

	rec = env.do(t, http.MethodPost, "/api/v1/autorefresh/start", token, map[string]int{"interval_seconds": -5})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	env.ctrl.Close()
	rec = env.do(t, http.MethodPost, "/api/v1/refresh", token, nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestRefreshFailureIsReported(t *testing.T) {
	env := newTestEnv(t, nil)
	token, err := env.auth.GenerateToken("admin", auth.RoleAdmin)
	require.NoError(t, err)

	rec := env.do(t, http.MethodPost, "/api/v1/refresh", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	cached := env.server.collector.Latest()

	// a failed cycle must not pass the old snapshot off as fresh
	env.down.Store(true)
	rec = env.do(t, http.MethodPost, "/api/v1/refresh", token, nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Contains(t, decode(t, rec)["error"], "connection refused")
	assert.Same(t, cached, env.server.collector.Latest())
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.do(t, http.MethodGet, "/api/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "disabled", body["database"])
	assert.Equal(t, false, body["auto_refresh"])
	assert.NotContains(t, body, "database_stats")
}

func TestHealthDatabaseStats(t *testing.T) {
	env := newTestEnv(t, fakeStore{})

	env.server.healthy = func(context.Context) bool { return true }
	body := decode(t, env.do(t, http.MethodGet, "/api/health", "", nil))
	assert.Equal(t, "ok", body["database"])
	stats, ok := body["database_stats"].(map[string]any)
	require.True(t, ok, "database_stats missing: %v", body)
	assert.EqualValues(t, 4, stats["aircraft"])
	assert.EqualValues(t, 12, stats["flight_sessions"])
	assert.EqualValues(t, 340, stats["status_records"])

	env.server.healthy = func(context.Context) bool { return false }
	body = decode(t, env.do(t, http.MethodGet, "/api/health", "", nil))
	assert.Equal(t, "unavailable", body["database"])
	assert.NotContains(t, body, "database_stats")
}

func TestWebSocketReceivesViews(t *testing.T) {
	env := newTestEnv(t, nil)
	ts := httptest.NewServer(env.handler)
	defer ts.Close()

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return env.server.Hub().ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	require.NoError(t, env.ctrl.Refresh(context.Background()))

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string         `json:"type"`
		Data reconcile.View `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, "view", msg.Type)
	assert.Equal(t, 3, msg.Data.TotalTracked)
}

func TestHubBroadcast(t *testing.T) {
	logger := zerologNop()
	hub := NewHub(logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	client := NewClient("test-1", hub, nil)
	require.True(t, hub.Register(client))
	require.Eventually(t, func() bool { return hub.ClientCount() == 1 }, time.Second, time.Millisecond)

	hub.Broadcast(Message{Type: "view"})
	select {
	case msg := <-client.send:
		assert.Equal(t, "view", msg.Type)
	case <-time.After(time.Second):
		t.Fatal("message not delivered")
	}

	cancel()
	require.Eventually(t, func() bool {
		select {
		case _, open := <-client.send:
			return !open
		default:
			return false
		}
	}, time.Second, time.Millisecond)
	assert.False(t, hub.Register(NewClient("late", hub, nil)))
}

func zerologNop() *zerolog.Logger {
	l := zerolog.Nop()
	return &l
}
