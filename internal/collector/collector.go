// Package collector assembles comprehensive fleet snapshots from a
// DataSource and optionally records them in the history store.
package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/unklstewy/ffc-tracker/internal/db"
	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/config"
	"github.com/unklstewy/ffc-tracker/pkg/reconcile"
)

// Store is the part of the history store the collector writes to.
type Store interface {
	SaveAircraftStatus(ctx context.Context, states []adsb.AircraftState, at time.Time) (int, error)
	SaveFlightSession(ctx context.Context, s db.FlightSession) (bool, error)
	FlightPath(ctx context.Context, icao24 string, from, to int64) ([]db.StatusPoint, error)
}

// Options configures a Collector.
type Options struct {
	Fleet config.Fleet

	// LiveHistory is the lookback of the comprehensive snapshot (default: 24h)
	LiveHistory time.Duration

	// History is the lookback of History (default: 48h)
	History time.Duration

	Retry adsb.RetryConfig

	// Store is optional; without it Persist is a no-op.
	Store Store
}

// Collector builds snapshots for the configured fleet.
// The latest snapshot built by Refresh is cached for readers.
type Collector struct {
	source adsb.DataSource
	opts   Options
	now    func() time.Time

	mu          sync.RWMutex
	latest      *reconcile.Snapshot
	subscribers []func(*reconcile.Snapshot)
}

// New creates a collector reading from source.
func New(source adsb.DataSource, opts Options) *Collector {
	if opts.LiveHistory <= 0 {
		opts.LiveHistory = 24 * time.Hour
	}
	if opts.History <= 0 {
		opts.History = 48 * time.Hour
	}
	if opts.Retry.Multiplier == 0 {
		opts.Retry = adsb.DefaultRetryConfig()
	}
	return &Collector{
		source: source,
		opts:   opts,
		now:    time.Now,
	}
}

// NewFromConfig creates a collector for cfg. store may be nil.
func NewFromConfig(source adsb.DataSource, cfg *config.Config, store Store) *Collector {
	return New(source, Options{
		Fleet:       cfg.Fleet,
		LiveHistory: time.Duration(cfg.OpenSky.LiveHistoryHours) * time.Hour,
		History:     time.Duration(cfg.OpenSky.HistoryHours) * time.Hour,
		Store:       store,
	})
}

// Live returns the current states of the fleet aircraft that are transmitting.
func (c *Collector) Live(ctx context.Context) ([]adsb.AircraftState, error) {
	states, err := adsb.RetryWithBackoffResult(ctx, c.opts.Retry, func() ([]adsb.AircraftState, error) {
		return c.source.GetStates(ctx, c.opts.Fleet.ICAO24s())
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch live states: %w", err)
	}
	return states, nil
}

// Comprehensive builds a snapshot of the whole fleet: transmitting aircraft
// first in the order OpenSky reported them, then the remaining fleet in
// configuration order. Every entry carries its registration and the flights
// seen within the live history window.
//
// A failed states or history request is logged and leaves the affected
// entries empty; only context cancellation aborts the snapshot.
func (c *Collector) Comprehensive(ctx context.Context) (*reconcile.Snapshot, error) {
	logger := zerolog.Ctx(ctx)
	now := c.now()
	snap := reconcile.NewSnapshot(now)

	states, err := c.Live(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		logger.Warn().Err(err).Msg("Live states unavailable, continuing with flight history")
	}

	registrations := make(map[string]string, len(c.opts.Fleet))
	for _, a := range c.opts.Fleet {
		registrations[strings.ToLower(a.ICAO24)] = a.Registration
	}

	for i := range states {
		state := states[i]
		snap.Set(state.ICAO24, reconcile.Entry{
			Current:      &state,
			Registration: registrations[state.ICAO24],
		})
	}

	begin := now.Add(-c.opts.LiveHistory)
	for _, a := range c.opts.Fleet {
		icao := strings.ToLower(a.ICAO24)

		history, err := c.history(ctx, icao, begin, now)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			logger.Warn().Err(err).
				Str("registration", a.Registration).
				Str("icao24", icao).
				Msg("Flight history unavailable")
			history = nil
		}

		entry, _ := snap.Get(icao)
		entry.History = history
		entry.Registration = a.Registration
		snap.Set(icao, entry)
	}

	logger.Debug().
		Int("transmitting", len(states)).
		Int("tracked", snap.Len()).
		Msg("Snapshot assembled")

	return snap, nil
}

// History returns the flights of one fleet aircraft over the history window.
func (c *Collector) History(ctx context.Context, registration string) (config.AircraftEntry, []adsb.FlightRecord, error) {
	entry, ok := c.opts.Fleet.Lookup(registration)
	if !ok {
		return config.AircraftEntry{}, nil, fmt.Errorf("%s: %w", registration, db.ErrAircraftNotTracked)
	}

	now := c.now()
	history, err := c.history(ctx, strings.ToLower(entry.ICAO24), now.Add(-c.opts.History), now)
	if err != nil {
		return entry, nil, err
	}
	return entry, history, nil
}

func (c *Collector) history(ctx context.Context, icao24 string, begin, end time.Time) ([]adsb.FlightRecord, error) {
	history, err := adsb.RetryWithBackoffResult(ctx, c.opts.Retry, func() ([]adsb.FlightRecord, error) {
		return c.source.GetFlightHistory(ctx, icao24, begin, end)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch flight history for %s: %w", icao24, err)
	}
	return history, nil
}

// Refresh builds a new snapshot, caches it, records it in the store and
// hands it to every subscriber.
func (c *Collector) Refresh(ctx context.Context) (*reconcile.Snapshot, error) {
	snap, err := c.Comprehensive(ctx)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.latest = snap
	subscribers := append([]func(*reconcile.Snapshot){}, c.subscribers...)
	c.mu.Unlock()

	if err := c.Persist(ctx, snap); err != nil {
		zerolog.Ctx(ctx).Error().Err(err).Msg("Failed to persist snapshot")
	}

	for _, fn := range subscribers {
		fn(snap)
	}
	return snap, nil
}

// Latest returns the most recent snapshot built by Refresh, or nil.
func (c *Collector) Latest() *reconcile.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.latest
}

// Subscribe registers fn to receive every snapshot built by Refresh.
// fn runs on the refreshing goroutine.
func (c *Collector) Subscribe(fn func(*reconcile.Snapshot)) {
	c.mu.Lock()
	c.subscribers = append(c.subscribers, fn)
	c.mu.Unlock()
}

// Persist writes the snapshot's live states and flights to the store.
// Flight sessions are enriched with the maxima and distance of the
// positions stored while they were in the air.
func (c *Collector) Persist(ctx context.Context, snap *reconcile.Snapshot) error {
	if c.opts.Store == nil || snap == nil {
		return nil
	}
	logger := zerolog.Ctx(ctx)

	at := time.Unix(snap.Timestamp, 0)
	written, err := c.opts.Store.SaveAircraftStatus(ctx, snap.States(), at)
	if err != nil {
		return fmt.Errorf("failed to save aircraft status: %w", err)
	}

	var errs []error
	added := 0
	snap.Range(func(icao string, e reconcile.Entry) bool {
		for _, rec := range e.History {
			if !rec.Valid() {
				continue
			}
			if rec.ICAO24 == "" {
				rec.ICAO24 = icao
			}
			session := db.SessionFromRecord(rec)
			if session.Registration == "" {
				session.Registration = e.Registration
			}

			if rec.FirstSeen != nil && rec.LastSeen != nil {
				points, err := c.opts.Store.FlightPath(ctx, icao, *rec.FirstSeen, *rec.LastSeen)
				if err != nil {
					errs = append(errs, err)
				} else {
					session.ApplyTrack(points)
				}
			}

			ok, err := c.opts.Store.SaveFlightSession(ctx, session)
			if err != nil {
				errs = append(errs, err)
				continue
			}
			if ok {
				added++
			}
		}
		return ctx.Err() == nil
	})

	logger.Debug().
		Int("status_rows", written).
		Int("new_sessions", added).
		Msg("Snapshot persisted")

	return errors.Join(errs...)
}
