package db

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
)

// Tests in this file run against a real PostgreSQL server. Point them at a
// scratch database with FFC_TRACKER_TEST_DB_HOST and, when they differ from
// the defaults, FFC_TRACKER_TEST_DB_PORT, _NAME, _USER and _PASSWORD.
// Rows are written under test registrations and removed afterwards.

var testFleet = []config.AircraftEntry{
	{Registration: "NTEST01", ICAO24: "F0F001", Description: "integration test"},
	{Registration: "NTEST02", ICAO24: "f0f002"},
}

func testDatabaseConfig(t *testing.T) config.DatabaseConfig {
	t.Helper()

	host := os.Getenv("FFC_TRACKER_TEST_DB_HOST")
	if host == "" {
		t.Skip("FFC_TRACKER_TEST_DB_HOST not set, skipping PostgreSQL integration test")
	}

	cfg := config.DefaultConfig().Database
	cfg.Enabled = true
	cfg.Host = host
	if port, err := strconv.Atoi(os.Getenv("FFC_TRACKER_TEST_DB_PORT")); err == nil {
		cfg.Port = port
	}
	if name := os.Getenv("FFC_TRACKER_TEST_DB_NAME"); name != "" {
		cfg.Database = name
	}
	if user := os.Getenv("FFC_TRACKER_TEST_DB_USER"); user != "" {
		cfg.Username = user
	}
	cfg.Password = os.Getenv("FFC_TRACKER_TEST_DB_PASSWORD")
	return cfg
}

func openTestDB(t *testing.T) (*DB, config.DatabaseConfig) {
	t.Helper()
	cfg := testDatabaseConfig(t)

	db, err := Connect(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, db.InitSchema(ctx))
	removeTestFleet(t, db)
	require.NoError(t, db.SeedFleet(ctx, testFleet))

	t.Cleanup(func() {
		removeTestFleet(t, db)
		db.Close()
	})
	return db, cfg
}

func removeTestFleet(t *testing.T, db *DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(),
		`DELETE FROM aircraft WHERE registration IN ('NTEST01', 'NTEST02')`)
	require.NoError(t, err)
}

func TestStoreRoundTrip(t *testing.T) {
	db, _ := openTestDB(t)
	ctx := context.Background()
	now := time.Now()

	// seeding twice leaves existing rows alone
	require.NoError(t, db.SeedFleet(ctx, testFleet))

	before, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, before.Aircraft, 2)

	recent := now.Add(-time.Hour).Unix()
	old := now.Add(-100 * time.Hour).Unix()
	states := []adsb.AircraftState{
		{ICAO24: "f0f001", Callsign: ptr("FFC1  "), Latitude: ptr(41.92), Longitude: ptr(-88.24),
			Altitude: ptr(914.4), Velocity: ptr(51.4), LastContact: ptr(recent)},
		{ICAO24: "F0F001", Latitude: ptr(41.95), Longitude: ptr(-88.20),
			Altitude: ptr(1219.2), Velocity: ptr(56.6), LastContact: ptr(recent + 60)},
		{ICAO24: "f0f002", OnGround: true, LastContact: ptr(old)},
		{ICAO24: "abcdef", LastContact: ptr(recent)},
	}

	written, err := db.SaveAircraftStatus(ctx, states, now)
	require.NoError(t, err)
	assert.Equal(t, 3, written, "untracked addresses are skipped")

	written, err = db.SaveAircraftStatus(ctx, states, now)
	require.NoError(t, err)
	assert.Zero(t, written, "same aircraft and timestamp is stored once")

	path, err := db.FlightPath(ctx, "F0F001", recent, recent+60)
	require.NoError(t, err)
	require.Len(t, path, 2)
	assert.Equal(t, recent, path[0].Timestamp)

	session := SessionFromRecord(adsb.FlightRecord{
		ICAO24:           "F0F001",
		Callsign:         ptr("FFC1"),
		DepartureAirport: ptr("KDPA"),
		FirstSeen:        ptr(recent - 3600),
		LastSeen:         ptr(recent + 60),
	})
	session.ApplyTrack(path)
	added, err := db.SaveFlightSession(ctx, session)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = db.SaveFlightSession(ctx, session)
	require.NoError(t, err)
	assert.False(t, added, "duplicate session is ignored")

	stale := SessionFromRecord(adsb.FlightRecord{ICAO24: "f0f002", FirstSeen: ptr(old - 1800), LastSeen: ptr(old)})
	added, err = db.SaveFlightSession(ctx, stale)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = db.SaveFlightSession(ctx, FlightSession{ICAO24: "abcdef", FirstSeen: ptr(recent)})
	require.NoError(t, err)
	assert.False(t, added, "sessions of unknown aircraft are ignored")

	flights, err := db.GetRecentFlights(ctx, 24)
	require.NoError(t, err)
	var mine []FlightSession
	for _, f := range flights {
		if f.Registration == "NTEST01" || f.Registration == "NTEST02" {
			mine = append(mine, f)
		}
	}
	require.Len(t, mine, 1)
	assert.Equal(t, "f0f001", mine[0].ICAO24)
	require.NotNil(t, mine[0].MaxAltitudeFt)
	assert.Equal(t, 4000, *mine[0].MaxAltitudeFt)
	require.NotNil(t, mine[0].DurationMinutes)
	assert.Equal(t, 61, *mine[0].DurationMinutes)

	history, err := db.GetAircraftFlightHistory(ctx, "ntest01", 24)
	require.NoError(t, err)
	assert.Len(t, history, 1)

	_, err = db.GetAircraftFlightHistory(ctx, "NNOPE", 24)
	assert.ErrorIs(t, err, ErrAircraftNotTracked)

	stats, err := db.GetAircraftStats(ctx, "ntest01", 7)
	require.NoError(t, err)
	assert.Equal(t, "NTEST01", stats.Registration)
	assert.Equal(t, 1, stats.TotalFlights)
	assert.Equal(t, 61, stats.TotalMinutes)

	after, err := db.GetStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.StatusRecords-before.StatusRecords, int64(3))
	assert.GreaterOrEqual(t, after.FlightSessions-before.FlightSessions, int64(2))

	deleted, err := db.CleanupOldData(ctx, 48*time.Hour)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, deleted, int64(2), "old status row and old session")

	history, err = db.GetAircraftFlightHistory(ctx, "NTEST02", 200)
	require.NoError(t, err)
	assert.Empty(t, history)
	history, err = db.GetAircraftFlightHistory(ctx, "NTEST01", 200)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestHandleReconnects(t *testing.T) {
	_, cfg := openTestDB(t)
	ctx := context.Background()

	// the handle owns a connection of its own so the fixture's stays open
	own, err := Connect(cfg)
	require.NoError(t, err)
	h := NewHandle(own, cfg)
	defer h.Close()

	require.NoError(t, h.Ensure(ctx))
	assert.Same(t, own, h.DB(), "a live connection is kept")

	require.NoError(t, own.Close())
	assert.False(t, h.Healthy(ctx))

	require.NoError(t, h.Ensure(ctx))
	assert.NotSame(t, own, h.DB())
	assert.True(t, h.Healthy(ctx))

	stats, err := h.GetStats(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, stats.Aircraft, 2)

	fresh, err := EnsureConnection(ctx, h.DB(), cfg)
	require.NoError(t, err)
	assert.Same(t, h.DB(), fresh)
}
