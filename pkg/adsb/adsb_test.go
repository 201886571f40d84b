package adsb

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func strPtr(s string) *string     { return &s }
func floatPtr(f float64) *float64 { return &f }
func int64Ptr(i int64) *int64     { return &i }

const statesPayload = `{
  "time": 1718000000,
  "states": [
    ["a3581f", "N31401  ", "United States", 1717999990, 1717999995, -88.21, 41.95, 1219.2, false, 61.7, 270.0, 2.54, null, 1250.0, "1200", false, 0],
    ["abcdef", "UAL1    ", "United States", 1717999990, 1717999995, -87.9, 41.97, 10000.0, false, 230.0, 90.0, 0.0, null, 10100.0, null, false, 0],
    ["AA75CA", null, "United States", 1717999990, 1717999980, null, null, null, true, 0.0, null, null, null, null, null, false, 0]
  ]
}`

func newTestClient(t *testing.T, handler http.Handler, creds bool) (*OpenSkyClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	cfg := OpenSkyConfig{
		BaseURL:           server.URL,
		TokenURL:          server.URL + "/token",
		RequestsPerSecond: 1000,
		Timeout:           2 * time.Second,
	}
	if creds {
		cfg.ClientID = "ffc"
		cfg.ClientSecret = "secret"
	}
	return NewOpenSkyClient(cfg), server
}

func writeToken(w http.ResponseWriter, token string) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintf(w, `{"access_token":%q,"token_type":"Bearer","expires_in":3600}`, token)
}

func TestNewOpenSkyClient(t *testing.T) {
	client := NewOpenSkyClient(OpenSkyConfig{})

	require.NotNil(t, client)
	assert.Equal(t, DefaultOpenSkyBaseURL, client.baseURL)
	assert.Equal(t, DefaultTimeout, client.httpClient.Timeout)
	assert.Nil(t, client.credentials, "no client id means anonymous access")

	client = NewOpenSkyClient(OpenSkyConfig{BaseURL: "http://example.test/api/", ClientID: "id"})
	assert.Equal(t, "http://example.test/api", client.baseURL)
	require.NotNil(t, client.credentials)
	assert.Equal(t, DefaultOpenSkyTokenURL, client.credentials.TokenURL)
}

func TestGetStates(t *testing.T) {
	t.Run("Filters tracked aircraft", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/states/all", r.URL.Path)
			assert.Empty(t, r.Header.Get("Authorization"))
			w.Write([]byte(statesPayload))
		}), false)

		states, err := client.GetStates(context.Background(), []string{"a3581f", "aa75ca"})
		require.NoError(t, err)
		require.Len(t, states, 2)

		first := states[0]
		assert.Equal(t, "a3581f", first.ICAO24)
		require.NotNil(t, first.Callsign)
		assert.Equal(t, "N31401", *first.Callsign)
		assert.InDelta(t, 41.95, *first.Latitude, 1e-9)
		assert.InDelta(t, -88.21, *first.Longitude, 1e-9)
		assert.InDelta(t, 1219.2, *first.Altitude, 1e-9)
		assert.InDelta(t, 270.0, *first.Heading, 1e-9)
		assert.Equal(t, int64(1717999995), *first.LastContact)
		assert.False(t, first.OnGround)

		second := states[1]
		assert.Equal(t, "aa75ca", second.ICAO24, "addresses are normalized to lowercase")
		assert.Nil(t, second.Callsign)
		assert.Nil(t, second.Latitude)
		assert.False(t, second.HasPosition())
		assert.True(t, second.OnGround)
		assert.Equal(t, "N/A", second.DisplayCallsign())
	})

	t.Run("Null states", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"time": 1718000000, "states": null}`))
		}), false)

		states, err := client.GetStates(context.Background(), []string{"a3581f"})
		require.NoError(t, err)
		assert.Empty(t, states)
	})

	t.Run("Malformed payload", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`not json`))
		}), false)

		_, err := client.GetStates(context.Background(), []string{"a3581f"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "failed to parse states response")
	})

	t.Run("Rate limited", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Rate-Limit-Retry-After-Seconds", "30")
			w.Header().Set("X-Rate-Limit-Remaining", "0")
			w.WriteHeader(http.StatusTooManyRequests)
		}), false)

		_, err := client.GetStates(context.Background(), []string{"a3581f"})
		rle, ok := IsRateLimitError(err)
		require.True(t, ok, "expected rate limit error, got %v", err)
		assert.Equal(t, 30*time.Second, rle.RetryAfter)
		assert.Equal(t, 0, rle.Headers.Remaining)
		assert.Equal(t, -1, rle.Headers.Limit)
	})

	t.Run("Server error", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "upstream down", http.StatusServiceUnavailable)
		}), false)

		_, err := client.GetStates(context.Background(), []string{"a3581f"})
		var apiErr *APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, http.StatusServiceUnavailable, apiErr.StatusCode)
		assert.Equal(t, "/states/all", apiErr.Endpoint)
		assert.Equal(t, "upstream down", apiErr.Body)
	})
}

func TestGetFlightHistory(t *testing.T) {
	begin := time.Unix(1717827200, 0)
	end := time.Unix(1718000000, 0)

	t.Run("Sends bearer token and query", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "ffc", r.PostForm.Get("client_id"))
			writeToken(w, "tok-1")
		})
		mux.HandleFunc("/flights/aircraft", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))
			q := r.URL.Query()
			assert.Equal(t, "a3581f", q.Get("icao24"))
			assert.Equal(t, "1717827200", q.Get("begin"))
			assert.Equal(t, "1718000000", q.Get("end"))

			json.NewEncoder(w).Encode([]FlightRecord{{
				ICAO24:           "a3581f",
				Callsign:         strPtr("N31401  "),
				DepartureAirport: strPtr("KDPA"),
				FirstSeen:        int64Ptr(1717990000),
				LastSeen:         int64Ptr(1717993600),
			}})
		})
		client, _ := newTestClient(t, mux, true)

		flights, err := client.GetFlightHistory(context.Background(), "A3581F", begin, end)
		require.NoError(t, err)
		require.Len(t, flights, 1)
		assert.Equal(t, "N31401", flights[0].DisplayCallsign())
		assert.Equal(t, "KDPA", *flights[0].DepartureAirport)
		assert.Nil(t, flights[0].ArrivalAirport)

		d, ok := flights[0].Duration()
		assert.True(t, ok)
		assert.Equal(t, time.Hour, d)
	})

	t.Run("Not found means no flights", func(t *testing.T) {
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) { writeToken(w, "tok") })
		mux.HandleFunc("/flights/aircraft", func(w http.ResponseWriter, r *http.Request) {
			http.NotFound(w, r)
		})
		client, _ := newTestClient(t, mux, true)

		flights, err := client.GetFlightHistory(context.Background(), "a3581f", begin, end)
		require.NoError(t, err)
		assert.NotNil(t, flights)
		assert.Empty(t, flights)
	})

	t.Run("Refreshes token once on 401", func(t *testing.T) {
		var issued, calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
			n := issued.Add(1)
			writeToken(w, fmt.Sprintf("tok-%d", n))
		})
		mux.HandleFunc("/flights/aircraft", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			if r.Header.Get("Authorization") != "Bearer tok-2" {
				w.WriteHeader(http.StatusUnauthorized)
				return
			}
			w.Write([]byte(`[]`))
		})
		client, _ := newTestClient(t, mux, true)

		flights, err := client.GetFlightHistory(context.Background(), "a3581f", begin, end)
		require.NoError(t, err)
		assert.Empty(t, flights)
		assert.Equal(t, int32(2), issued.Load())
		assert.Equal(t, int32(2), calls.Load())
	})

	t.Run("Persistent 401 is unauthorized", func(t *testing.T) {
		var calls atomic.Int32
		mux := http.NewServeMux()
		mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) { writeToken(w, "stale") })
		mux.HandleFunc("/flights/aircraft", func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		})
		client, _ := newTestClient(t, mux, true)

		_, err := client.GetFlightHistory(context.Background(), "a3581f", begin, end)
		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(2), calls.Load(), "exactly one retry")
	})

	t.Run("Anonymous client gets unauthorized", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Empty(t, r.Header.Get("Authorization"))
			w.WriteHeader(http.StatusUnauthorized)
		}), false)

		_, err := client.GetFlightHistory(context.Background(), "a3581f", begin, end)
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("Anonymous unauthorized fails fast under retry", func(t *testing.T) {
		var calls atomic.Int32
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusUnauthorized)
		}), false)

		cfg := DefaultRetryConfig()
		start := time.Now()
		_, err := RetryWithBackoffResult(context.Background(), cfg, func() ([]FlightRecord, error) {
			return client.GetFlightHistory(context.Background(), "a3581f", begin, end)
		})

		assert.ErrorIs(t, err, ErrUnauthorized)
		assert.Equal(t, int32(1), calls.Load())
		assert.Less(t, time.Since(start), cfg.InitialDelay)
	})

	t.Run("Context cancelled", func(t *testing.T) {
		client, _ := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`[]`))
		}), false)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		_, err := client.GetFlightHistory(ctx, "a3581f", begin, end)
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestDecodeStateVector(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		ok   bool
	}{
		{"too short", `["a3581f", "N31401"]`, false},
		{"missing icao", `[null, "N31401", "US", 0, 0, 0, 0, 0, false, 0, 0, 0]`, false},
		{"empty icao", `["", "N31401", "US", 0, 0, 0, 0, 0, false, 0, 0, 0]`, false},
		{"minimal", `["a3581f", null, "US", null, null, null, null, null, false, null, null, null]`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var vector []json.RawMessage
			require.NoError(t, json.Unmarshal([]byte(tt.raw), &vector))

			_, ok := decodeStateVector(vector)
			assert.Equal(t, tt.ok, ok)
		})
	}
}

func TestUnitConversions(t *testing.T) {
	s := AircraftState{
		Altitude:     floatPtr(1219.2),
		Velocity:     floatPtr(61.7),
		VerticalRate: floatPtr(2.54),
	}

	ft, ok := s.AltitudeFeet()
	assert.True(t, ok)
	assert.Equal(t, 4000, ft)

	kt, ok := s.SpeedKnots()
	assert.True(t, ok)
	assert.Equal(t, 120, kt)

	fpm, ok := s.VerticalRateFPM()
	assert.True(t, ok)
	assert.Equal(t, 500, fpm)

	_, ok = AircraftState{}.AltitudeFeet()
	assert.False(t, ok)
}

func TestFlightRecordValid(t *testing.T) {
	assert.True(t, FlightRecord{}.Valid())
	assert.True(t, FlightRecord{FirstSeen: int64Ptr(10), LastSeen: int64Ptr(10)}.Valid())
	assert.False(t, FlightRecord{FirstSeen: int64Ptr(20), LastSeen: int64Ptr(10)}.Valid())

	_, ok := FlightRecord{FirstSeen: int64Ptr(10)}.Duration()
	assert.False(t, ok)
}

func TestParseRetryAfter(t *testing.T) {
	h := http.Header{}
	assert.Zero(t, parseRetryAfter(h))

	h.Set("Retry-After", "12")
	assert.Equal(t, 12*time.Second, parseRetryAfter(h))

	h.Set("X-Rate-Limit-Retry-After-Seconds", "45")
	assert.Equal(t, 45*time.Second, parseRetryAfter(h))

	h = http.Header{}
	h.Set("Retry-After", time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat))
	assert.Zero(t, parseRetryAfter(h), "dates in the past yield no delay")
}
