package db

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/unklstewy/ffc-tracker/pkg/config"
)

//go:embed schema.sql
var schemaSQL embed.FS

// ErrAircraftNotTracked is returned for a registration that is not in the
// aircraft table.
var ErrAircraftNotTracked = errors.New("aircraft not tracked")

// DB wraps a database connection with helper methods.
type DB struct {
	*sql.DB
	config config.DatabaseConfig
}

// Connect establishes a connection to the PostgreSQL database.
func Connect(cfg config.DatabaseConfig) (*DB, error) {
	sqlDB, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Hour)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := sqlDB.PingContext(ctx); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{
		DB:     sqlDB,
		config: cfg,
	}, nil
}

// InitSchema creates the tables if they do not exist.
// This should be called once at application startup.
func (db *DB) InitSchema(ctx context.Context) error {
	schemaBytes, err := schemaSQL.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("failed to read schema file: %w", err)
	}

	if _, err := db.ExecContext(ctx, string(schemaBytes)); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}

	return nil
}

// SeedFleet inserts the configured aircraft, leaving existing rows alone.
func (db *DB) SeedFleet(ctx context.Context, fleet []config.AircraftEntry) error {
	for _, a := range fleet {
		description := a.Description
		if description == "" {
			description = "FFC Training Aircraft " + a.Registration
		}
		_, err := db.ExecContext(ctx,
			`INSERT INTO aircraft (registration, icao24, description)
			 VALUES ($1, $2, $3)
			 ON CONFLICT DO NOTHING`,
			a.Registration, normalizeICAO(a.ICAO24), description,
		)
		if err != nil {
			return fmt.Errorf("failed to seed aircraft %s: %w", a.Registration, err)
		}
	}
	return nil
}

// CleanupOldData removes status rows and flight sessions older than maxAge.
// Returns the number of rows deleted.
func (db *DB) CleanupOldData(ctx context.Context, maxAge time.Duration) (int64, error) {
	cutoff := cutoffEpoch(time.Now(), maxAge)

	res, err := db.ExecContext(ctx,
		`DELETE FROM status_history WHERE timestamp < $1`,
		cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old status rows: %w", err)
	}
	statusDeleted, _ := res.RowsAffected()

	res, err = db.ExecContext(ctx,
		`DELETE FROM flight_sessions WHERE last_seen < $1`,
		cutoff,
	)
	if err != nil {
		return statusDeleted, fmt.Errorf("failed to delete old flight sessions: %w", err)
	}
	flightsDeleted, _ := res.RowsAffected()

	return statusDeleted + flightsDeleted, nil
}

// Stats is a row count summary of the store.
type Stats struct {
	Aircraft       int   `json:"aircraft"`
	FlightSessions int64 `json:"flight_sessions"`
	StatusRecords  int64 `json:"status_records"`
}

// GetStats returns database statistics.
func (db *DB) GetStats(ctx context.Context) (Stats, error) {
	var s Stats
	err := db.QueryRowContext(ctx,
		`SELECT
			(SELECT COUNT(*) FROM aircraft WHERE is_active),
			(SELECT COUNT(*) FROM flight_sessions),
			(SELECT COUNT(*) FROM status_history)`,
	).Scan(&s.Aircraft, &s.FlightSessions, &s.StatusRecords)
	if err != nil {
		return Stats{}, fmt.Errorf("failed to query stats: %w", err)
	}
	return s, nil
}

// cutoffEpoch is the epoch second maxAge before now.
func cutoffEpoch(now time.Time, maxAge time.Duration) int64 {
	return now.Add(-maxAge).Unix()
}
