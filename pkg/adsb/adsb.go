package adsb

import (
	"context"
	"strings"
	"time"
)

// AircraftState is the live state of one tracked aircraft as reported by OpenSky.
// Every measured value is optional: OpenSky reports null for anything the
// receivers did not decode, so those fields are pointers.
type AircraftState struct {
	// ICAO24 is the 24-bit transponder address in lowercase hex (e.g., "a3581f")
	ICAO24 string `json:"icao24"`

	// Callsign as broadcast, may be padded with trailing spaces
	Callsign *string `json:"callsign,omitempty"`

	// Latitude in decimal degrees (WGS84)
	Latitude *float64 `json:"latitude"`

	// Longitude in decimal degrees (WGS84)
	Longitude *float64 `json:"longitude"`

	// Altitude is barometric altitude in meters
	Altitude *float64 `json:"altitude"`

	// Velocity is ground speed in meters per second
	Velocity *float64 `json:"velocity"`

	// Heading is the true track in degrees clockwise from north (0-360)
	Heading *float64 `json:"heading"`

	// VerticalRate in meters per second (positive = climbing)
	VerticalRate *float64 `json:"vertical_rate"`

	// OnGround is true when the position came from a surface report
	OnGround bool `json:"on_ground"`

	// LastContact is the epoch second of the last message received
	LastContact *int64 `json:"last_contact,omitempty"`
}

// HasPosition reports whether both latitude and longitude are known.
func (s AircraftState) HasPosition() bool {
	return s.Latitude != nil && s.Longitude != nil
}

// DisplayCallsign returns the trimmed callsign, or "N/A" when none was broadcast.
func (s AircraftState) DisplayCallsign() string {
	return displayCallsign(s.Callsign)
}

// FlightRecord is one flight from the OpenSky flights endpoint.
type FlightRecord struct {
	ICAO24           string  `json:"icao24"`
	Callsign         *string `json:"callsign"`
	DepartureAirport *string `json:"estDepartureAirport"`
	ArrivalAirport   *string `json:"estArrivalAirport"`
	FirstSeen        *int64  `json:"firstSeen"`
	LastSeen         *int64  `json:"lastSeen"`
	Registration     *string `json:"registration,omitempty"`
}

// Valid reports whether the record's time range is well formed.
// Records with a missing bound are considered valid.
func (f FlightRecord) Valid() bool {
	if f.FirstSeen == nil || f.LastSeen == nil {
		return true
	}
	return *f.LastSeen >= *f.FirstSeen
}

// DisplayCallsign returns the trimmed callsign, or "N/A".
func (f FlightRecord) DisplayCallsign() string {
	return displayCallsign(f.Callsign)
}

// Duration returns the time between first and last seen.
// The second return value is false when either bound is missing.
func (f FlightRecord) Duration() (time.Duration, bool) {
	if f.FirstSeen == nil || f.LastSeen == nil {
		return 0, false
	}
	return time.Duration(*f.LastSeen-*f.FirstSeen) * time.Second, true
}

func displayCallsign(cs *string) string {
	if cs == nil {
		return "N/A"
	}
	trimmed := strings.TrimSpace(*cs)
	if trimmed == "" {
		return "N/A"
	}
	return trimmed
}

// DataSource is implemented by anything that can provide live states and
// flight history for a set of aircraft. OpenSkyClient is the production
// implementation; tests substitute a fake.
type DataSource interface {
	// GetStates returns current states for the given ICAO24 addresses.
	// Aircraft that are not transmitting are simply absent from the result.
	GetStates(ctx context.Context, icao24s []string) ([]AircraftState, error)

	// GetFlightHistory returns flights for one aircraft between begin and end.
	GetFlightHistory(ctx context.Context, icao24 string, begin, end time.Time) ([]FlightRecord, error)

	// Close releases any resources held by the source.
	Close() error
}
