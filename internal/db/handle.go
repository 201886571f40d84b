package db

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
)

// ErrNoConnection is returned by a Handle that has no live database.
var ErrNoConnection = errors.New("no database connection")

// Handle is a shared reference to the store that survives reconnects.
// The collector and server hold the Handle; Ensure swaps in a new
// connection when the old one has gone away.
type Handle struct {
	cfg config.DatabaseConfig
	cur atomic.Pointer[DB]
}

// NewHandle wraps db, which may be nil until the first Ensure.
func NewHandle(db *DB, cfg config.DatabaseConfig) *Handle {
	h := &Handle{cfg: cfg}
	if db != nil {
		h.cur.Store(db)
	}
	return h
}

// DB returns the current connection, or nil.
func (h *Handle) DB() *DB {
	return h.cur.Load()
}

// Ensure checks the connection and reconnects when it is lost.
func (h *Handle) Ensure(ctx context.Context) error {
	old := h.cur.Load()
	db, err := EnsureConnection(ctx, old, h.cfg)
	if err != nil {
		return err
	}
	if db != old {
		h.cur.CompareAndSwap(old, db)
	}
	return nil
}

// Healthy reports whether the current connection answers queries.
func (h *Handle) Healthy(ctx context.Context) bool {
	return HealthCheck(ctx, h.cur.Load())
}

// Close closes the current connection.
func (h *Handle) Close() error {
	if db := h.cur.Swap(nil); db != nil {
		return db.Close()
	}
	return nil
}

func (h *Handle) get() (*DB, error) {
	if db := h.cur.Load(); db != nil {
		return db, nil
	}
	return nil, ErrNoConnection
}

func (h *Handle) SaveAircraftStatus(ctx context.Context, states []adsb.AircraftState, at time.Time) (int, error) {
	db, err := h.get()
	if err != nil {
		return 0, err
	}
	return db.SaveAircraftStatus(ctx, states, at)
}

func (h *Handle) SaveFlightSession(ctx context.Context, s FlightSession) (bool, error) {
	db, err := h.get()
	if err != nil {
		return false, err
	}
	return db.SaveFlightSession(ctx, s)
}

func (h *Handle) FlightPath(ctx context.Context, icao24 string, from, to int64) ([]StatusPoint, error) {
	db, err := h.get()
	if err != nil {
		return nil, err
	}
	return db.FlightPath(ctx, icao24, from, to)
}

func (h *Handle) GetRecentFlights(ctx context.Context, hours int) ([]FlightSession, error) {
	db, err := h.get()
	if err != nil {
		return nil, err
	}
	return db.GetRecentFlights(ctx, hours)
}

func (h *Handle) GetAircraftFlightHistory(ctx context.Context, registration string, hours int) ([]FlightSession, error) {
	db, err := h.get()
	if err != nil {
		return nil, err
	}
	return db.GetAircraftFlightHistory(ctx, registration, hours)
}

func (h *Handle) GetAircraftStats(ctx context.Context, registration string, days int) (AircraftStats, error) {
	db, err := h.get()
	if err != nil {
		return AircraftStats{}, err
	}
	return db.GetAircraftStats(ctx, registration, days)
}

func (h *Handle) GetStats(ctx context.Context) (Stats, error) {
	db, err := h.get()
	if err != nil {
		return Stats{}, err
	}
	return db.GetStats(ctx)
}

func (h *Handle) CleanupOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	db, err := h.get()
	if err != nil {
		return 0, err
	}
	return db.CleanupOldData(ctx, maxAge)
}
