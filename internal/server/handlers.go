package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/internal/auth"
	"github.com/unklstewy/ffc-tracker/internal/db"
	"github.com/unklstewy/ffc-tracker/internal/refresh"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]string{"error": msg})
}

// statusFor maps upstream and store errors to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, db.ErrAircraftNotTracked):
		return http.StatusNotFound
	case errors.Is(err, refresh.ErrStopped):
		return http.StatusServiceUnavailable
	}
	if _, ok := adsb.IsRateLimitError(err); ok {
		return http.StatusTooManyRequests
	}
	return http.StatusInternalServerError
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"message": "FFC Aircraft Tracker API",
		"status":  "running",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	database := "disabled"
	var counts *db.Stats
	if s.healthy != nil {
		database = "ok"
		if !s.healthy(r.Context()) {
			database = "unavailable"
		} else if s.store != nil {
			if st, err := s.store.GetStats(r.Context()); err == nil {
				counts = &st
			} else {
				zerolog.Ctx(r.Context()).Warn().Err(err).Msg("Database stats failed")
			}
		}
	}

	running, interval := s.refresh.Running()
	var lastSnapshot int64
	if snap := s.collector.Latest(); snap != nil {
		lastSnapshot = snap.Timestamp
	}

	body := map[string]any{
		"status":            "ok",
		"uptime_seconds":    int64(time.Since(s.startTime).Seconds()),
		"database":          database,
		"auto_refresh":      running,
		"refresh_interval":  int64(interval.Seconds()),
		"last_snapshot":     lastSnapshot,
		"websocket_clients": s.hub.ClientCount(),
	}
	if counts != nil {
		body["database_stats"] = counts
	}
	respondJSON(w, http.StatusOK, body)
}

func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	states, err := s.collector.Live(r.Context())
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Live states failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	na := "N/A"
	for i := range states {
		if states[i].Callsign == nil || *states[i].Callsign == "" {
			states[i].Callsign = &na
		}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"timestamp":      s.now().Unix(),
		"aircraft_count": len(states),
		"aircraft":       states,
	})
}

// latest returns the cached snapshot, refreshing once when there is none.
func (s *Server) latest(r *http.Request) (*reconcile.Snapshot, error) {
	if snap := s.collector.Latest(); snap != nil {
		return snap, nil
	}
	if err := s.refresh.Refresh(r.Context()); err != nil {
		return nil, err
	}
	if snap := s.collector.Latest(); snap != nil {
		return snap, nil
	}
	return nil, errors.New("no snapshot available")
}

func (s *Server) handleComprehensive(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, snap)
}

func (s *Server) handleView(w http.ResponseWriter, r *http.Request) {
	snap, err := s.latest(r)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, reconcile.Reconcile(snap))
}

// handleHistory serves the OpenSky history of one aircraft, or the stored
// sessions with ?source=db.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	registration := chi.URLParam(r, "registration")

	switch r.URL.Query().Get("source") {
	case "", "opensky":
	case "db":
		s.handleStoredHistory(w, r, registration)
		return
	default:
		respondError(w, http.StatusBadRequest, "source must be opensky or db")
		return
	}

	entry, flights, err := s.collector.History(r.Context(), registration)
	if errors.Is(err, db.ErrAircraftNotTracked) {
		respondError(w, http.StatusNotFound, "Aircraft not in tracking list")
		return
	}
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("registration", registration).Msg("History failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"registration":   entry.Registration,
		"icao24":         entry.ICAO24,
		"flight_history": flights,
		"flight_count":   len(flights),
	})
}

func (s *Server) handleStoredHistory(w http.ResponseWriter, r *http.Request, registration string) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}
	entry, ok := s.cfg.Fleet.Lookup(registration)
	if !ok {
		respondError(w, http.StatusNotFound, "Aircraft not in tracking list")
		return
	}
	hours, err := intParam(r, "hours", s.cfg.OpenSky.HistoryHours)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	sessions, err := s.store.GetAircraftFlightHistory(r.Context(), entry.Registration, hours)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("registration", registration).Msg("Stored history failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"registration":   entry.Registration,
		"icao24":         strings.ToLower(entry.ICAO24),
		"source":         "db",
		"hours":          hours,
		"flight_history": sessions,
		"flight_count":   len(sessions),
	})
}

func (s *Server) handleRecentFlights(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}

	hours, err := intParam(r, "hours", s.cfg.OpenSky.HistoryHours)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	flights, err := s.store.GetRecentFlights(r.Context(), hours)
	if err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Recent flights query failed")
		respondError(w, statusFor(err), err.Error())
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"hours":        hours,
		"flight_count": len(flights),
		"flights":      flights,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		respondError(w, http.StatusServiceUnavailable, "history store disabled")
		return
	}

	days, err := intParam(r, "days", 7)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	stats, err := s.store.GetAircraftStats(r.Context(), chi.URLParam(r, "registration"), days)
	if err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	respondJSON(w, http.StatusOK, stats)
}

func intParam(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return 0, fmt.Errorf("invalid %s: %q", name, raw)
	}
	return v, nil
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	client := NewClient(middleware.GetReqID(r.Context()), s.hub, conn)
	if snap := s.collector.Latest(); snap != nil {
		client.send <- s.viewMessage(snap)
	}
	if !s.hub.Register(client) {
		_ = conn.Close()
		return
	}

	go client.WritePump()
	go client.ReadPump()
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	token, err := s.auth.Login(req.Username, req.Password)
	switch {
	case errors.Is(err, auth.ErrLoginDisabled):
		respondError(w, http.StatusForbidden, "Login disabled")
		return
	case err != nil:
		zerolog.Ctx(r.Context()).Warn().Str("username", req.Username).Msg("Failed login")
		respondError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"token":   token,
		"user": map[string]string{
			"username": req.Username,
			"role":     auth.RoleAdmin,
		},
	})
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	if err := s.refresh.Refresh(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Error().Err(err).Msg("Manual refresh failed")
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		respondError(w, status, err.Error())
		return
	}
	snap := s.collector.Latest()
	if snap == nil {
		respondError(w, http.StatusBadGateway, "refresh produced no snapshot")
		return
	}
	respondJSON(w, http.StatusOK, reconcile.Reconcile(snap))
}

func (s *Server) autoRefreshStatus() map[string]any {
	running, interval := s.refresh.Running()
	return map[string]any{
		"running":          running,
		"interval_seconds": int64(interval.Seconds()),
	}
}

func (s *Server) handleAutoRefreshStatus(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.autoRefreshStatus())
}

func (s *Server) handleAutoRefreshStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IntervalSeconds int `json:"interval_seconds"`
	}
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}
	}

	interval := s.cfg.Refresh.Interval()
	if req.IntervalSeconds < 0 {
		respondError(w, http.StatusBadRequest, "interval_seconds must be positive")
		return
	}
	if req.IntervalSeconds > 0 {
		interval = time.Duration(req.IntervalSeconds) * time.Second
	}

	if err := s.refresh.Start(interval); err != nil {
		respondError(w, statusFor(err), err.Error())
		return
	}
	zerolog.Ctx(r.Context()).Info().Dur("interval", interval).Msg("Auto-refresh started")
	respondJSON(w, http.StatusOK, s.autoRefreshStatus())
}

func (s *Server) handleAutoRefreshStop(w http.ResponseWriter, r *http.Request) {
	stopped := s.refresh.Stop()
	if stopped {
		zerolog.Ctx(r.Context()).Info().Msg("Auto-refresh stopped")
	}
	status := s.autoRefreshStatus()
	status["stopped"] = stopped
	respondJSON(w, http.StatusOK, status)
}
