package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/unklstewy/ffc-tracker/pkg/adsb"
	"github.com/unklstewy/ffc-tracker/pkg/coordinates"
)

// FlightSession is one stored flight of a fleet aircraft.
type FlightSession struct {
	ID               int64      `json:"id"`
	ICAO24           string     `json:"icao24"`
	Registration     string     `json:"registration"`
	Callsign         *string    `json:"callsign"`
	DepartureAirport *string    `json:"departure_airport"`
	ArrivalAirport   *string    `json:"arrival_airport"`
	DepartureTime    *time.Time `json:"departure_time"`
	ArrivalTime      *time.Time `json:"arrival_time"`
	DurationMinutes  *int       `json:"duration_minutes"`
	MaxAltitudeFt    *int       `json:"max_altitude"`
	MaxSpeedKts      *int       `json:"max_speed"`
	DistanceKm       *float64   `json:"distance_km"`
	FirstSeen        *int64     `json:"first_seen"`
	LastSeen         *int64     `json:"last_seen"`
}

// SessionFromRecord builds a session from an OpenSky flight record.
// Departure and arrival times come from firstSeen and lastSeen.
func SessionFromRecord(rec adsb.FlightRecord) FlightSession {
	s := FlightSession{
		ICAO24:           strings.ToLower(rec.ICAO24),
		DepartureAirport: rec.DepartureAirport,
		ArrivalAirport:   rec.ArrivalAirport,
		FirstSeen:        rec.FirstSeen,
		LastSeen:         rec.LastSeen,
	}
	if rec.Registration != nil {
		s.Registration = *rec.Registration
	}
	if rec.Callsign != nil {
		cs := strings.TrimSpace(*rec.Callsign)
		s.Callsign = &cs
	}
	if rec.FirstSeen != nil {
		t := time.Unix(*rec.FirstSeen, 0).UTC()
		s.DepartureTime = &t
	}
	if rec.LastSeen != nil {
		t := time.Unix(*rec.LastSeen, 0).UTC()
		s.ArrivalTime = &t
	}
	if d, ok := rec.Duration(); ok && d >= 0 {
		minutes := int(d / time.Minute)
		s.DurationMinutes = &minutes
	}
	return s
}

// StatusPoint is one stored status row.
type StatusPoint struct {
	Timestamp int64
	Latitude  *float64
	Longitude *float64
	Altitude  *float64 // meters
	Velocity  *float64 // m/s
}

// ApplyTrack fills the maximum altitude, maximum speed and distance of the
// session from status points recorded while it was airborne. Points must be
// ordered by timestamp. An empty track leaves the session unchanged.
func (s *FlightSession) ApplyTrack(points []StatusPoint) {
	if len(points) == 0 {
		return
	}

	var (
		path     []coordinates.Geographic
		maxAlt   = -1
		maxSpeed = -1
	)
	for _, p := range points {
		state := adsb.AircraftState{Altitude: p.Altitude, Velocity: p.Velocity}
		if ft, ok := state.AltitudeFeet(); ok && ft > maxAlt {
			maxAlt = ft
		}
		if kt, ok := state.SpeedKnots(); ok && kt > maxSpeed {
			maxSpeed = kt
		}
		if p.Latitude != nil && p.Longitude != nil {
			path = append(path, coordinates.Geographic{Latitude: *p.Latitude, Longitude: *p.Longitude})
		}
	}

	if maxAlt >= 0 {
		s.MaxAltitudeFt = &maxAlt
	}
	if maxSpeed >= 0 {
		s.MaxSpeedKts = &maxSpeed
	}
	if len(path) > 1 {
		km := math.Round(coordinates.PathLengthKm(path)*10) / 10
		s.DistanceKm = &km
	}
}

// SaveAircraftStatus records the current state of each fleet aircraft.
// States for addresses that are not in the aircraft table are skipped.
// Returns the number of rows written.
func (db *DB) SaveAircraftStatus(ctx context.Context, states []adsb.AircraftState, at time.Time) (int, error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO status_history
			(aircraft_id, timestamp, latitude, longitude, altitude, velocity, heading, on_ground, callsign)
		 SELECT id, $2, $3, $4, $5, $6, $7, $8, $9
		 FROM aircraft WHERE icao24 = $1
		 ON CONFLICT (aircraft_id, timestamp) DO NOTHING`,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare status insert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, s := range states {
		timestamp := at.Unix()
		if s.LastContact != nil {
			timestamp = *s.LastContact
		}
		var callsign sql.NullString
		if s.Callsign != nil {
			callsign = sql.NullString{String: strings.TrimSpace(*s.Callsign), Valid: true}
		}

		res, err := stmt.ExecContext(ctx,
			normalizeICAO(s.ICAO24), timestamp,
			s.Latitude, s.Longitude, s.Altitude, s.Velocity, s.Heading,
			s.OnGround, callsign,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to save status for %s: %w", s.ICAO24, err)
		}
		n, _ := res.RowsAffected()
		written += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit status rows: %w", err)
	}
	return written, nil
}

// SaveFlightSession stores a flight unless one with the same aircraft,
// first seen and last seen already exists. Returns whether a row was added.
// A session for an aircraft that is not in the fleet table is ignored.
func (db *DB) SaveFlightSession(ctx context.Context, s FlightSession) (bool, error) {
	res, err := db.ExecContext(ctx,
		`INSERT INTO flight_sessions
			(aircraft_id, callsign, departure_airport, arrival_airport,
			 departure_time, arrival_time, duration_minutes, max_altitude,
			 max_speed, distance_km, first_seen, last_seen)
		 SELECT a.id, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		 FROM aircraft a
		 WHERE a.icao24 = $1
		   AND NOT EXISTS (
			SELECT 1 FROM flight_sessions fs
			WHERE fs.aircraft_id = a.id
			  AND fs.first_seen IS NOT DISTINCT FROM $11
			  AND fs.last_seen IS NOT DISTINCT FROM $12
		   )
		 ON CONFLICT (aircraft_id, first_seen, last_seen) DO NOTHING`,
		normalizeICAO(s.ICAO24), s.Callsign, s.DepartureAirport, s.ArrivalAirport,
		s.DepartureTime, s.ArrivalTime, s.DurationMinutes, s.MaxAltitudeFt,
		s.MaxSpeedKts, s.DistanceKm, s.FirstSeen, s.LastSeen,
	)
	if err != nil {
		return false, fmt.Errorf("failed to save flight session: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// FlightPath returns the status points of one aircraft between from and to
// (epoch seconds, inclusive), oldest first.
func (db *DB) FlightPath(ctx context.Context, icao24 string, from, to int64) ([]StatusPoint, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT sh.timestamp, sh.latitude, sh.longitude, sh.altitude, sh.velocity
		 FROM status_history sh
		 JOIN aircraft a ON sh.aircraft_id = a.id
		 WHERE a.icao24 = $1 AND sh.timestamp BETWEEN $2 AND $3 AND NOT sh.on_ground
		 ORDER BY sh.timestamp`,
		normalizeICAO(icao24), from, to,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight path: %w", err)
	}
	defer rows.Close()

	var points []StatusPoint
	for rows.Next() {
		var p StatusPoint
		if err := rows.Scan(&p.Timestamp, &p.Latitude, &p.Longitude, &p.Altitude, &p.Velocity); err != nil {
			return nil, fmt.Errorf("failed to scan status row: %w", err)
		}
		points = append(points, p)
	}
	return points, rows.Err()
}

const sessionColumns = `fs.id, a.icao24, a.registration, fs.callsign,
	fs.departure_airport, fs.arrival_airport, fs.departure_time, fs.arrival_time,
	fs.duration_minutes, fs.max_altitude, fs.max_speed, fs.distance_km,
	fs.first_seen, fs.last_seen`

// GetRecentFlights returns sessions last seen within the past hours,
// newest departure first.
func (db *DB) GetRecentFlights(ctx context.Context, hours int) ([]FlightSession, error) {
	cutoff := cutoffEpoch(time.Now(), time.Duration(hours)*time.Hour)
	return db.querySessions(ctx,
		`SELECT `+sessionColumns+`
		 FROM flight_sessions fs
		 JOIN aircraft a ON fs.aircraft_id = a.id
		 WHERE fs.last_seen >= $1
		 ORDER BY fs.departure_time DESC NULLS LAST`,
		cutoff,
	)
}

// GetAircraftFlightHistory returns the sessions of one aircraft last seen
// within the past hours. The registration is matched case-insensitively.
func (db *DB) GetAircraftFlightHistory(ctx context.Context, registration string, hours int) ([]FlightSession, error) {
	if err := db.ensureTracked(ctx, registration); err != nil {
		return nil, err
	}
	cutoff := cutoffEpoch(time.Now(), time.Duration(hours)*time.Hour)
	return db.querySessions(ctx,
		`SELECT `+sessionColumns+`
		 FROM flight_sessions fs
		 JOIN aircraft a ON fs.aircraft_id = a.id
		 WHERE UPPER(a.registration) = UPPER($1) AND fs.last_seen >= $2
		 ORDER BY fs.departure_time DESC NULLS LAST`,
		registration, cutoff,
	)
}

// AircraftStats summarizes the recent flying of one aircraft.
type AircraftStats struct {
	Registration string  `json:"registration"`
	Days         int     `json:"days"`
	TotalFlights int     `json:"total_flights"`
	TotalMinutes int     `json:"total_flight_time_minutes"`
	TotalHours   float64 `json:"total_flight_time_hours"`
}

// GetAircraftStats counts flights and flight time over the past days.
func (db *DB) GetAircraftStats(ctx context.Context, registration string, days int) (AircraftStats, error) {
	if err := db.ensureTracked(ctx, registration); err != nil {
		return AircraftStats{}, err
	}

	cutoff := cutoffEpoch(time.Now(), time.Duration(days)*24*time.Hour)
	stats := AircraftStats{Registration: strings.ToUpper(registration), Days: days}

	err := db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(fs.duration_minutes), 0)
		 FROM flight_sessions fs
		 JOIN aircraft a ON fs.aircraft_id = a.id
		 WHERE UPPER(a.registration) = UPPER($1) AND fs.last_seen >= $2`,
		registration, cutoff,
	).Scan(&stats.TotalFlights, &stats.TotalMinutes)
	if err != nil {
		return AircraftStats{}, fmt.Errorf("failed to query aircraft stats: %w", err)
	}

	stats.TotalHours = hoursFromMinutes(stats.TotalMinutes)
	return stats, nil
}

func (db *DB) ensureTracked(ctx context.Context, registration string) error {
	var id int
	err := db.QueryRowContext(ctx,
		`SELECT id FROM aircraft WHERE UPPER(registration) = UPPER($1)`,
		registration,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", registration, ErrAircraftNotTracked)
	}
	if err != nil {
		return fmt.Errorf("failed to look up aircraft: %w", err)
	}
	return nil
}

func (db *DB) querySessions(ctx context.Context, query string, args ...any) ([]FlightSession, error) {
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query flight sessions: %w", err)
	}
	defer rows.Close()

	sessions := []FlightSession{}
	for rows.Next() {
		var (
			s                            FlightSession
			callsign, departure, arrival sql.NullString
			departureTime, arrivalTime   sql.NullTime
			duration, maxAlt, maxSpeed   sql.NullInt64
			distance                     sql.NullFloat64
			firstSeen, lastSeen          sql.NullInt64
		)
		err := rows.Scan(&s.ID, &s.ICAO24, &s.Registration, &callsign,
			&departure, &arrival, &departureTime, &arrivalTime,
			&duration, &maxAlt, &maxSpeed, &distance,
			&firstSeen, &lastSeen)
		if err != nil {
			return nil, fmt.Errorf("failed to scan flight session: %w", err)
		}

		s.Callsign = nullString(callsign)
		s.DepartureAirport = nullString(departure)
		s.ArrivalAirport = nullString(arrival)
		s.DepartureTime = nullTime(departureTime)
		s.ArrivalTime = nullTime(arrivalTime)
		s.DurationMinutes = nullInt(duration)
		s.MaxAltitudeFt = nullInt(maxAlt)
		s.MaxSpeedKts = nullInt(maxSpeed)
		if distance.Valid {
			s.DistanceKm = &distance.Float64
		}
		if firstSeen.Valid {
			s.FirstSeen = &firstSeen.Int64
		}
		if lastSeen.Valid {
			s.LastSeen = &lastSeen.Int64
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// hoursFromMinutes converts minutes to hours rounded to one decimal.
func hoursFromMinutes(minutes int) float64 {
	return math.Round(float64(minutes)/6) / 10
}

func normalizeICAO(icao24 string) string {
	return strings.ToLower(strings.TrimSpace(icao24))
}

func nullString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}

func nullTime(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}

func nullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	n := int(v.Int64)
	return &n
}
